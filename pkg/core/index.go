// Package core provides the contracts shared by every index implementation
// in smallworld: the Index interface, the engine configuration and the
// error taxonomy.
//
// Two implementations exist: the HNSW graph index in core/hnsw, and the
// exact brute-force index in core/flat used as ground truth for recall
// measurements and in tests.
package core

import (
	"context"

	"github.com/navigable/smallworld/pkg/core/types"
)

// Index is the contract between the engine and an index implementation.
//
// Build constructs the index over the points currently held by the backing
// store; levels carries one assigned level per point and may be ignored by
// implementations that have no layer structure. Search returns at most
// topk candidates in ascending distance order with ties broken by
// ascending id, and never returns duplicates. Implementations must treat
// a built index as immutable so concurrent searches need no locking.
type Index interface {
	Build(ctx context.Context, levels []int32) (*types.BuildStats, error)
	Search(ctx context.Context, query []float32, topk, efSearch int) ([]types.Candidate, error)
	Count() int
	Built() bool
}
