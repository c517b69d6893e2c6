package engine

import (
	"context"
	"fmt"
	"runtime"

	"github.com/navigable/smallworld/pkg/core"
	"github.com/navigable/smallworld/pkg/core/hnsw"
	"github.com/navigable/smallworld/pkg/core/types"
	"github.com/navigable/smallworld/pkg/metrics"
)

// BuildGraph constructs the search graph over the loaded data. Levels
// come from SetRandomLevels when provided, otherwise from the seeded
// geometric draw, so two engines configured identically build the same
// graph. The engine stays searchless but responsive while the build
// runs; concurrent data loads and second builds report ErrInvalidState.
//
// Cancelling the context aborts the build and returns the engine to the
// data-loaded state.
func (e *Engine) BuildGraph(ctx context.Context) (*types.BuildStats, error) {
	e.mu.Lock()
	switch e.state {
	case stateEmpty, stateConfigured:
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: no data loaded", core.ErrInvalidState)
	case stateBuilding:
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: build already in progress", core.ErrInvalidState)
	case stateBuilt:
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: graph already built", core.ErrInvalidState)
	}

	params, err := e.indexParams(e.cfg)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if params.Workers == 0 {
		params.Workers = runtime.GOMAXPROCS(0)
	}
	ix, err := hnsw.NewIndex(e.store, params)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	levels := e.levels
	if levels == nil {
		levels = hnsw.AssignLevels(e.store.Count(), e.cfg.MaxLevel, e.cfg.EffectiveLevelMult(), e.cfg.Seed)
	}
	e.state = stateBuilding
	points := e.store.Count()
	e.mu.Unlock()

	e.log.Info("graph build started",
		"points", points,
		"workers", params.Workers,
		"batch", params.Batch,
		"ef_construction", params.EfConstruction)
	stats, err := ix.Build(ctx, levels)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.state = stateData
		e.log.Error("graph build failed", "error", err)
		return nil, err
	}

	e.index = ix
	e.stats = stats
	e.state = stateBuilt
	metrics.BuildSeconds.Observe(stats.Duration.Seconds())
	metrics.GraphEdges.WithLabelValues(e.name).Set(float64(stats.EdgeCount))
	e.log.Info("graph build finished",
		"duration", stats.Duration,
		"max_level", stats.MaxLevel,
		"edges", stats.EdgeCount,
		"waves", stats.Waves)
	return stats, nil
}

// BuildStats returns the result of the last completed build, nil if the
// graph was loaded from a snapshot or never built.
func (e *Engine) BuildStats() *types.BuildStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}
