package hnsw

import (
	"context"
	"fmt"

	"github.com/x448/float16"

	"github.com/navigable/smallworld/pkg/core"
	"github.com/navigable/smallworld/pkg/core/types"
)

// Search returns up to topk nearest candidates in ascending (distance,
// id) order. efSearch widens the layer-0 beam and must be at least topk.
// Fewer than topk results come back when the store holds fewer points.
func (ix *Index) Search(ctx context.Context, query []float32, topk, efSearch int) ([]types.Candidate, error) {
	if topk <= 0 {
		return nil, fmt.Errorf("%w: topk must be > 0, got %d", core.ErrInvalidArgument, topk)
	}
	if efSearch < topk {
		return nil, fmt.Errorf("%w: efSearch (%d) must be >= topk (%d)", core.ErrInvalidArgument, efSearch, topk)
	}
	if !ix.built {
		return nil, fmt.Errorf("%w: graph not built", core.ErrInvalidState)
	}
	if got, want := len(query), ix.store.Dim(); got != want {
		return nil, &core.DimensionError{Expected: want, Actual: got}
	}
	if ix.store.Count() == 0 {
		return nil, nil
	}

	prepared := query
	if ix.params.NormalizeQuery {
		prepared = normalizeF32(query)
	}
	var q queryVec
	if ix.f16 {
		q.f16 = narrowF16(prepared)
	} else {
		q.f32 = prepared
	}

	curr := ix.entry
	currDist := ix.distTo(q, curr)
	for l := ix.maxLevel; l >= 1; l-- {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("search aborted at layer %d: %w", l, err)
		}
		curr, currDist = ix.greedyDescend(q, curr, currDist, l)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("search aborted: %w", err)
	}

	cands := ix.searchLayer(q, curr, currDist, efSearch, 0)
	if len(cands) > topk {
		cands = cands[:topk]
	}
	return cands, nil
}

func narrowF16(v []float32) []uint16 {
	out := make([]uint16, len(v))
	for i, x := range v {
		out[i] = float16.Fromfloat32(x).Bits()
	}
	return out
}
