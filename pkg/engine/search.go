package engine

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/navigable/smallworld/pkg/core"
	"github.com/navigable/smallworld/pkg/metrics"
)

// SearchResult holds the flattened answers for a batch of queries. For
// query q, slots [q*topk, (q+1)*topk) of IDs and Distances hold its
// neighbors in ascending distance order; slots past Found[q] carry id -1
// and an undefined distance.
type SearchResult struct {
	IDs       []int32   `json:"ids"`
	Distances []float32 `json:"distances"`
	Found     []int32   `json:"found"`
}

// SearchGraph answers nq queries of the store's dimension, flattened
// row-major into queries. Queries run concurrently up to the configured
// search worker count; results land in query order regardless of
// completion order. efSearch bounds the layer-0 beam and must be at
// least topk.
func (e *Engine) SearchGraph(ctx context.Context, queries []float32, nq, topk, efSearch int) (*SearchResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.state != stateBuilt {
		return nil, fmt.Errorf("%w: no built graph to search (state %s)", core.ErrInvalidState, e.state)
	}
	if nq < 0 {
		return nil, fmt.Errorf("%w: query count must be >= 0, got %d", core.ErrInvalidArgument, nq)
	}
	if topk <= 0 {
		return nil, fmt.Errorf("%w: topk must be > 0, got %d", core.ErrInvalidArgument, topk)
	}
	if efSearch < topk {
		return nil, fmt.Errorf("%w: ef_search (%d) must be >= topk (%d)", core.ErrInvalidArgument, efSearch, topk)
	}
	dim := e.store.Dim()
	if len(queries) != nq*dim {
		return nil, fmt.Errorf("%w: %d query values for %d queries of dimension %d",
			core.ErrInvalidArgument, len(queries), nq, dim)
	}

	res := &SearchResult{
		IDs:       make([]int32, nq*topk),
		Distances: make([]float32, nq*topk),
		Found:     make([]int32, nq),
	}
	if nq == 0 {
		return res, nil
	}

	workers := e.cfg.SearchWorkers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for q := 0; q < nq; q++ {
		g.Go(func() error {
			cands, err := e.index.Search(gctx, queries[q*dim:(q+1)*dim], topk, efSearch)
			if err != nil {
				return fmt.Errorf("query %d: %w", q, err)
			}
			base := q * topk
			for i, c := range cands {
				res.IDs[base+i] = int32(c.ID)
				res.Distances[base+i] = c.Distance
			}
			for i := len(cands); i < topk; i++ {
				res.IDs[base+i] = -1
			}
			res.Found[q] = int32(len(cands))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	metrics.SearchSeconds.Observe(time.Since(start).Seconds())
	metrics.SearchQueries.Add(float64(nq))
	return res, nil
}
