package hnsw

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/navigable/smallworld/pkg/core"
	"github.com/navigable/smallworld/pkg/core/types"
)

// insertPlan is the read-only half of a wave insertion: the candidate
// lists one point gathered against the committed prefix of the graph.
type insertPlan struct {
	id     uint32
	level  int32
	layers [][]types.Candidate
}

// Build constructs the graph over the whole store, one level assignment
// per point. Points insert in ascending id order; with Workers > 1 the
// candidate searches run in planned waves of Batch points against the
// frozen prefix, and commits stay serialized in id order, so the
// resulting graph depends on the batch size but not on the worker count.
//
// A cancelled context aborts the build and leaves the index empty and
// unbuilt; Build may be called again afterwards.
func (ix *Index) Build(ctx context.Context, levels []int32) (*types.BuildStats, error) {
	if ix.built {
		return nil, fmt.Errorf("%w: graph already built", core.ErrInvalidState)
	}
	count := ix.store.Count()
	if int64(count) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d points exceed the 32-bit id space", core.ErrResourceExhausted, count)
	}
	if err := ValidateLevels(levels, count, ix.params.MaxLevel); err != nil {
		return nil, err
	}

	start := time.Now()
	if count == 0 {
		ix.built = true
		return &types.BuildStats{Workers: 1, Duration: time.Since(start)}, nil
	}

	ix.nodes = make([]node, count)
	workers := ix.params.Workers
	if workers < 1 {
		workers = 1
	}

	var waves int
	var err error
	if workers == 1 || count <= ix.params.Batch {
		waves, err = ix.buildSequential(ctx, levels, count)
	} else {
		waves, err = ix.buildWaves(ctx, levels, count, workers)
	}
	if err != nil {
		ix.nodes = nil
		ix.entry = 0
		ix.maxLevel = -1
		return nil, err
	}

	ix.edges = ix.countEdges()
	ix.built = true
	return &types.BuildStats{
		Points:    count,
		MaxLevel:  ix.maxLevel,
		Waves:     waves,
		Workers:   workers,
		Duration:  time.Since(start),
		EdgeCount: ix.edges,
	}, nil
}

func (ix *Index) buildSequential(ctx context.Context, levels []int32, count int) (int, error) {
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("build aborted at point %d: %w", i, err)
		}
		ix.insertPoint(uint32(i), levels[i])
	}
	return 1, nil
}

// buildWaves seeds the graph with one sequential batch, then alternates
// a parallel plan phase over the next batch with a serial ascending
// commit phase. Plans only ever read the committed prefix, so two plans
// in the same wave cannot observe each other.
func (ix *Index) buildWaves(ctx context.Context, levels []int32, count, workers int) (int, error) {
	batch := ix.params.Batch
	for i := 0; i < batch; i++ {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("build aborted at point %d: %w", i, err)
		}
		ix.insertPoint(uint32(i), levels[i])
	}

	waves := 1
	plans := make([]insertPlan, batch)
	for lo := batch; lo < count; lo += batch {
		hi := lo + batch
		if hi > count {
			hi = count
		}

		var next atomic.Int64
		g, gctx := errgroup.WithContext(ctx)
		for w := 0; w < workers; w++ {
			g.Go(func() error {
				for {
					off := next.Add(1) - 1
					if off >= int64(hi-lo) {
						return nil
					}
					if err := gctx.Err(); err != nil {
						return err
					}
					id := uint32(lo) + uint32(off)
					plans[off] = ix.planPoint(id, levels[id])
				}
			})
		}
		if err := g.Wait(); err != nil {
			return 0, fmt.Errorf("build aborted in wave %d: %w", waves, err)
		}

		for off := 0; off < hi-lo; off++ {
			ix.commitPlan(plans[off])
		}
		waves++
	}
	return waves, nil
}

// planPoint runs the insertion searches for one point without touching
// the graph. The caller must not mutate the graph while plans are in
// flight.
func (ix *Index) planPoint(id uint32, level int32) insertPlan {
	p := insertPlan{id: id, level: level, layers: make([][]types.Candidate, level+1)}

	q := ix.queryOf(id)
	curr := ix.entry
	currDist := ix.distTo(q, curr)
	for l := ix.maxLevel; l > int(level); l-- {
		curr, currDist = ix.greedyDescend(q, curr, currDist, l)
	}

	top := int(level)
	if top > ix.maxLevel {
		top = ix.maxLevel
	}
	for l := top; l >= 0; l-- {
		cands := ix.searchLayer(q, curr, currDist, ix.params.EfConstruction, l)
		p.layers[l] = cands
		curr, currDist = cands[0].ID, cands[0].Distance
	}
	return p
}

// commitPlan links one planned point into the graph. Layers above the
// prefix's top layer at plan time carry no candidates and stay empty;
// they become reachable again once the entry point moves up.
func (ix *Index) commitPlan(p insertPlan) {
	n := &ix.nodes[p.id]
	n.level = p.level
	n.conns = make([][]uint32, p.level+1)
	for l := range n.conns {
		n.conns[l] = make([]uint32, 0, ix.maxConns(l))
	}

	for l := int(p.level); l >= 0; l-- {
		cands := p.layers[l]
		if len(cands) == 0 {
			continue
		}
		sel := ix.selectNeighbors(cands, ix.maxConns(l))
		for _, s := range sel {
			n.conns[l] = append(n.conns[l], s.ID)
			ix.addEdge(s.ID, p.id, l)
		}
	}

	if int(p.level) > ix.maxLevel {
		ix.maxLevel = int(p.level)
		ix.entry = p.id
	}
}
