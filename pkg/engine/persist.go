package engine

import (
	"fmt"
	"os"

	"github.com/navigable/smallworld/pkg/core"
	"github.com/navigable/smallworld/pkg/core/distance"
	"github.com/navigable/smallworld/pkg/core/hnsw"
	"github.com/navigable/smallworld/pkg/metrics"
	"github.com/navigable/smallworld/pkg/persistence"
)

// SaveIndex writes the built graph and its vectors to path as one
// self-describing snapshot. The write is atomic: an existing file at
// path survives any mid-save failure. Searches may keep running while
// the snapshot is written.
func (e *Engine) SaveIndex(path string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.state != stateBuilt {
		return fmt.Errorf("%w: no built graph to save (state %s)", core.ErrInvalidState, e.state)
	}
	graph, err := e.index.Export()
	if err != nil {
		return err
	}

	snap := &persistence.Snapshot{
		Metric:         e.cfg.Metric(),
		Precision:      e.cfg.PrecisionType(),
		Dim:            e.store.Dim(),
		Count:          e.store.Count(),
		Normalized:     e.store.Normalized(),
		MaxM:           e.cfg.MaxM,
		MaxM0:          e.cfg.EffectiveM0(),
		EfConstruction: e.cfg.EfConstruction,
		MaxLevel:       e.cfg.MaxLevel,
		Heuristic:      e.cfg.Heuristic,
		SaveRemains:    e.cfg.SaveRemains,
		LevelMult:      e.cfg.EffectiveLevelMult(),
		Seed:           e.cfg.Seed,
		Graph:          graph,
	}
	if snap.Precision == distance.Float16 {
		snap.VectorsF16 = e.store.ExportF16()
	} else {
		snap.VectorsF32 = e.store.ExportF32()
	}

	if err := persistence.Save(path, snap); err != nil {
		return err
	}
	if fi, err := os.Stat(path); err == nil {
		metrics.SnapshotBytes.WithLabelValues(e.name).Set(float64(fi.Size()))
		e.log.Info("snapshot saved", "path", path, "bytes", fi.Size(), "points", snap.Count)
	} else {
		e.log.Info("snapshot saved", "path", path, "points", snap.Count)
	}
	return nil
}

// LoadIndex replaces the engine's entire contents with a snapshot:
// vectors, graph, and the build parameters recorded in the file. The
// engine must be configured; runtime preferences (worker counts, the
// accelerated backend toggle, mmap backing) carry over from the current
// configuration while graph parameters come from the snapshot. On any
// failure the previous contents stay untouched.
func (e *Engine) LoadIndex(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case stateEmpty:
		return fmt.Errorf("%w: engine not configured", core.ErrInvalidState)
	case stateBuilding:
		return fmt.Errorf("%w: build in progress", core.ErrInvalidState)
	}

	snap, err := persistence.Load(path)
	if err != nil {
		return err
	}

	cfg := *e.cfg
	cfg.DistType = string(snap.Metric)
	cfg.Precision = string(snap.Precision)
	cfg.MaxM = snap.MaxM
	cfg.MaxM0 = snap.MaxM0
	cfg.EfConstruction = snap.EfConstruction
	cfg.MaxLevel = snap.MaxLevel
	cfg.Heuristic = snap.Heuristic
	cfg.SaveRemains = snap.SaveRemains
	cfg.LevelMult = snap.LevelMult
	cfg.Seed = snap.Seed
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: snapshot parameters: %v", core.ErrCorruptData, err)
	}

	store := e.newStore(&cfg)
	if err := store.Adopt(snap.VectorsF32, snap.VectorsF16, snap.Count, snap.Dim, snap.Normalized); err != nil {
		store.Close()
		return err
	}
	params, err := e.indexParams(&cfg)
	if err != nil {
		store.Close()
		return err
	}
	ix, err := hnsw.NewFromGraph(store, params, snap.Graph)
	if err != nil {
		store.Close()
		return err
	}

	if e.store != nil {
		e.store.Close()
	}
	e.cfg = &cfg
	e.store = store
	e.index = ix
	e.levels = nil
	e.stats = nil
	e.state = stateBuilt
	metrics.PointsLoaded.WithLabelValues(e.name).Set(float64(snap.Count))
	e.log.Info("snapshot loaded",
		"path", path,
		"points", snap.Count,
		"dim", snap.Dim,
		"metric", snap.Metric,
		"max_level", snap.Graph.MaxLevel)
	return nil
}
