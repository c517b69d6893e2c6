// Package flat provides an exact nearest-neighbor index that scans every
// stored vector. It answers the same interface as the graph index and
// serves as ground truth for recall measurements and as a baseline for
// small collections.
package flat

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/x448/float16"

	"github.com/navigable/smallworld/pkg/core"
	"github.com/navigable/smallworld/pkg/core/distance"
	"github.com/navigable/smallworld/pkg/core/types"
	"github.com/navigable/smallworld/pkg/vectorstore"
)

// scanChunk is the number of rows distanced per batched kernel call;
// cancellation is checked between chunks.
const scanChunk = 4096

// Params selects the metric and backend of the scan.
type Params struct {
	Metric   distance.Metric
	UseAccel bool

	// NormalizeQuery makes Search normalize a copy of the query first;
	// set for cosine over a normalized store.
	NormalizeQuery bool
}

// Index is the exhaustive scanner. Like the graph index it is built once
// and then read-only, so concurrent searches need no locking.
type Index struct {
	store  *vectorstore.Store
	params Params

	batch   distance.BatchFunc
	pair    distance.Func
	pairF16 distance.FuncF16
	f16     bool
	built   bool
}

var _ core.Index = (*Index)(nil)

// New creates an unbuilt exact index over a loaded store.
func New(store *vectorstore.Store, params Params) (*Index, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", core.ErrInvalidArgument)
	}
	ix := &Index{store: store, params: params}
	ix.f16 = store.Precision() == distance.Float16

	var err error
	if ix.f16 {
		ix.pairF16, err = distance.F16(params.Metric, params.UseAccel)
	} else {
		ix.pair, err = distance.F32(params.Metric, params.UseAccel)
		if err == nil {
			ix.batch, err = distance.Batch(params.Metric, params.UseAccel)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
	}
	return ix, nil
}

// Build marks the index ready. The level assignment is irrelevant to an
// exhaustive scan and may be nil.
func (ix *Index) Build(ctx context.Context, levels []int32) (*types.BuildStats, error) {
	if ix.built {
		return nil, fmt.Errorf("%w: index already built", core.ErrInvalidState)
	}
	if levels != nil && len(levels) != ix.store.Count() {
		return nil, fmt.Errorf("%w: %d levels for %d points", core.ErrInvalidArgument, len(levels), ix.store.Count())
	}
	start := time.Now()
	ix.built = true
	return &types.BuildStats{Points: ix.store.Count(), Workers: 1, Duration: time.Since(start)}, nil
}

// Count returns the number of points the index covers.
func (ix *Index) Count() int { return ix.store.Count() }

// Built reports whether Build has run.
func (ix *Index) Built() bool { return ix.built }

// Search scans the whole store and returns the exact topk nearest
// candidates in ascending (distance, id) order. efSearch is validated
// for interface parity but does not affect an exhaustive scan.
func (ix *Index) Search(ctx context.Context, query []float32, topk, efSearch int) ([]types.Candidate, error) {
	if topk <= 0 {
		return nil, fmt.Errorf("%w: topk must be > 0, got %d", core.ErrInvalidArgument, topk)
	}
	if efSearch < topk {
		return nil, fmt.Errorf("%w: efSearch (%d) must be >= topk (%d)", core.ErrInvalidArgument, efSearch, topk)
	}
	if !ix.built {
		return nil, fmt.Errorf("%w: index not built", core.ErrInvalidState)
	}
	if got, want := len(query), ix.store.Dim(); got != want {
		return nil, &core.DimensionError{Expected: want, Actual: got}
	}
	count := ix.store.Count()
	if count == 0 {
		return nil, nil
	}

	prepared := query
	if ix.params.NormalizeQuery {
		prepared = normalize(query)
	}

	cands := make([]types.Candidate, count)
	var err error
	if block, ok := ix.store.Block(); ok && !ix.f16 {
		err = ix.scanBlock(ctx, prepared, block, cands)
	} else {
		err = ix.scanRows(ctx, prepared, cands)
	}
	if err != nil {
		return nil, err
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Distance != cands[j].Distance {
			return cands[i].Distance < cands[j].Distance
		}
		return cands[i].ID < cands[j].ID
	})
	if len(cands) > topk {
		cands = cands[:topk]
	}
	return cands, nil
}

// scanBlock distances contiguous row chunks with the batched kernel.
func (ix *Index) scanBlock(ctx context.Context, query, block []float32, cands []types.Candidate) error {
	dim := ix.store.Dim()
	dst := make([]float32, scanChunk)
	for lo := 0; lo < len(cands); lo += scanChunk {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("scan aborted at row %d: %w", lo, err)
		}
		hi := lo + scanChunk
		if hi > len(cands) {
			hi = len(cands)
		}
		ix.batch(dst[:hi-lo], query, block[lo*dim:hi*dim], dim)
		for i := lo; i < hi; i++ {
			cands[i] = types.Candidate{ID: uint32(i), Distance: dst[i-lo]}
		}
	}
	return nil
}

// scanRows distances one row at a time; this is the path for float16
// and arena-backed stores.
func (ix *Index) scanRows(ctx context.Context, query []float32, cands []types.Candidate) error {
	var q16 []uint16
	if ix.f16 {
		q16 = narrowF16(query)
	}
	for i := range cands {
		if i%scanChunk == 0 {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("scan aborted at row %d: %w", i, err)
			}
		}
		var d float32
		if ix.f16 {
			d = ix.pairF16(q16, ix.store.VectorF16(i))
		} else {
			d = ix.pair(query, ix.store.Vector(i))
		}
		cands[i] = types.Candidate{ID: uint32(i), Distance: d}
	}
	return nil
}

func normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	var norm float64
	for _, x := range out {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return out
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range out {
		out[i] *= inv
	}
	return out
}

func narrowF16(v []float32) []uint16 {
	out := make([]uint16, len(v))
	for i, x := range v {
		out[i] = float16.Fromfloat32(x).Bits()
	}
	return out
}
