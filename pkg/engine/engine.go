// Package engine provides the high-level, embedded interface to a
// smallworld index.
//
// An Engine owns one vector collection end to end: configuration, the
// immutable vector store, level assignment, the graph build, searches,
// and snapshots. Operations follow a strict lifecycle — configure, load
// data, build, then search or save — and violations of that order report
// ErrInvalidState rather than corrupting anything.
//
// Basic usage:
//
//	eng := engine.New("default")
//	if err := eng.Init("config.json"); err != nil {
//	    log.Fatal(err)
//	}
//	if err := eng.SetData(vectors, n, dim); err != nil {
//	    log.Fatal(err)
//	}
//	if _, err := eng.BuildGraph(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	results, err := eng.SearchGraph(ctx, queries, nq, topk, efSearch)
package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/navigable/smallworld/pkg/core"
	"github.com/navigable/smallworld/pkg/core/distance"
	"github.com/navigable/smallworld/pkg/core/hnsw"
	"github.com/navigable/smallworld/pkg/core/types"
	"github.com/navigable/smallworld/pkg/metrics"
	"github.com/navigable/smallworld/pkg/vectorstore"
)

// lifecycle states. Transitions only move through the engine's exported
// methods while holding the write lock.
type state int

const (
	stateEmpty state = iota
	stateConfigured
	stateData
	stateBuilding
	stateBuilt
)

func (s state) String() string {
	switch s {
	case stateEmpty:
		return "empty"
	case stateConfigured:
		return "configured"
	case stateData:
		return "data-loaded"
	case stateBuilding:
		return "building"
	case stateBuilt:
		return "built"
	}
	return "unknown"
}

// Engine is one named index instance. All methods are safe for
// concurrent use; searches run under a shared read lock while builds and
// data loads are exclusive.
type Engine struct {
	mu   sync.RWMutex
	name string

	state    state
	cfg      *core.Config
	useAccel bool

	store  *vectorstore.Store
	index  *hnsw.Index
	levels []int32 // user-assigned via SetRandomLevels, nil = derive from seed
	stats  *types.BuildStats

	log *slog.Logger
}

// New creates an unconfigured engine. The name labels logs and metrics;
// it has no semantic meaning.
func New(name string) *Engine {
	if name == "" {
		name = "default"
	}
	return &Engine{
		name: name,
		log:  slog.Default().With("index", name),
	}
}

// Name returns the engine's label.
func (e *Engine) Name() string {
	return e.name
}

// Init configures the engine from a JSON file. It may be called again to
// reconfigure as long as no data has been loaded; once SetData has run
// the configuration is frozen and Init reports ErrInvalidState.
func (e *Engine) Init(configPath string) error {
	cfg, err := core.LoadConfig(configPath)
	if err != nil {
		return err
	}
	return e.InitConfig(&cfg)
}

// InitConfig is Init for an in-memory configuration. The config is
// validated and then owned by the engine.
func (e *Engine) InitConfig(cfg *core.Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: nil config", core.ErrInvalidArgument)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state > stateConfigured {
		return fmt.Errorf("%w: cannot reconfigure in state %s", core.ErrInvalidState, e.state)
	}

	e.cfg = cfg
	e.useAccel = cfg.Accel.Enabled && distance.Accelerated()
	e.state = stateConfigured
	metrics.ComputeBackend.WithLabelValues(distance.Name(e.useAccel)).Set(1)
	e.log.Info("engine configured",
		"metric", cfg.DistType,
		"precision", cfg.Precision,
		"max_m", cfg.MaxM,
		"ef_construction", cfg.EfConstruction,
		"backend", distance.Name(e.useAccel))
	return nil
}

// SetData replaces the engine's vectors with a copy of data, which holds
// n rows of dim float32 values each. Any previous graph, level
// assignment, and build result is discarded. For the cosine metric (or
// when normalization is requested) rows are L2-normalized in place;
// zero-norm rows stay untouched and are counted in the log.
func (e *Engine) SetData(data []float32, n, dim int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case stateEmpty:
		return fmt.Errorf("%w: engine not configured", core.ErrInvalidState)
	case stateBuilding:
		return fmt.Errorf("%w: build in progress", core.ErrInvalidState)
	}

	store := e.newStore(e.cfg)
	if err := store.SetData(data, n, dim); err != nil {
		store.Close()
		return err
	}
	if e.cfg.Normalize() {
		if zero := store.NormalizeL2(e.useAccel); zero > 0 {
			e.log.Warn("rows with zero norm left unnormalized", "rows", zero)
		}
	}

	if e.store != nil {
		e.store.Close()
	}
	e.store = store
	e.index = nil
	e.levels = nil
	e.stats = nil
	e.state = stateData
	metrics.PointsLoaded.WithLabelValues(e.name).Set(float64(n))
	e.log.Info("data loaded", "points", n, "dim", dim, "bytes", store.MemoryBytes())
	return nil
}

// SetRandomLevels installs an explicit per-point level assignment to use
// instead of the seeded geometric draw. The slice must hold one level
// per loaded point, each within [0, max_level]. On validation failure
// any previously installed assignment is kept.
func (e *Engine) SetRandomLevels(levels []int32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case stateEmpty, stateConfigured:
		return fmt.Errorf("%w: no data loaded", core.ErrInvalidState)
	case stateBuilding:
		return fmt.Errorf("%w: build in progress", core.ErrInvalidState)
	}

	if err := hnsw.ValidateLevels(levels, e.store.Count(), e.cfg.MaxLevel); err != nil {
		return err
	}
	e.levels = append([]int32(nil), levels...)
	// A fresh assignment invalidates a previous build but not the data.
	if e.state == stateBuilt {
		e.index = nil
		e.stats = nil
		e.state = stateData
	}
	return nil
}

// Info reports the engine's current shape. It is valid in every state;
// fields that do not apply yet are zero.
func (e *Engine) Info() types.IndexInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()

	info := types.IndexInfo{
		Name:          e.name,
		GraphMaxLevel: -1,
	}
	if e.cfg != nil {
		info.Metric = string(e.cfg.Metric())
		info.Precision = string(e.cfg.PrecisionType())
		info.Backend = distance.Name(e.useAccel)
		info.MaxM = e.cfg.MaxM
		info.MaxM0 = e.cfg.EffectiveM0()
		info.EfConstruction = e.cfg.EfConstruction
		info.LevelMult = e.cfg.EffectiveLevelMult()
		info.MaxLevel = e.cfg.MaxLevel
	}
	if e.store != nil {
		info.Dim = e.store.Dim()
		info.Count = e.store.Count()
	}
	if e.index != nil && e.index.Built() {
		info.Built = true
		info.GraphMaxLevel = e.index.MaxLevel()
		info.EntryPoint = e.index.EntryPoint()
		info.EdgeCount = e.index.EdgeCount()
	}
	return info
}

// Close releases the store's resources. The engine is unusable
// afterwards. Closing while a build is running is refused.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == stateBuilding {
		return fmt.Errorf("%w: build in progress", core.ErrInvalidState)
	}
	var err error
	if e.store != nil {
		err = e.store.Close()
		e.store = nil
	}
	e.index = nil
	e.state = stateEmpty
	return err
}

// newStore builds an empty store matching a configuration.
func (e *Engine) newStore(cfg *core.Config) *vectorstore.Store {
	opts := []vectorstore.Option{
		vectorstore.WithPrecision(cfg.PrecisionType()),
		vectorstore.WithFiniteCheck(cfg.ValidateFinite),
	}
	if cfg.MmapDir != "" {
		opts = append(opts, vectorstore.WithArena(cfg.MmapDir, cfg.Accel.MemoryLimitMB))
	}
	return vectorstore.New(opts...)
}

// indexParams assembles graph parameters from a configuration and the
// selected compute backend.
func (e *Engine) indexParams(cfg *core.Config) (hnsw.Params, error) {
	metric := cfg.Metric()
	p := hnsw.Params{
		M:              cfg.MaxM,
		M0:             cfg.EffectiveM0(),
		EfConstruction: cfg.EfConstruction,
		MaxLevel:       cfg.MaxLevel,
		Heuristic:      cfg.Heuristic,
		SaveRemains:    cfg.SaveRemains,
		VisitedSize:    cfg.VisitedSize,
		Workers:        cfg.BuildWorkers,
		Batch:          cfg.BuildBatch,
		NormalizeQuery: metric == distance.Cosine,
	}
	var err error
	if cfg.PrecisionType() == distance.Float16 {
		p.DistF16, err = distance.F16(metric, e.useAccel)
	} else {
		p.DistF32, err = distance.F32(metric, e.useAccel)
	}
	if err != nil {
		return hnsw.Params{}, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
	}
	return p, nil
}
