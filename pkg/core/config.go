package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/navigable/smallworld/pkg/core/distance"
)

// Config is the engine configuration. It is deliberately loadable from the
// same JSON file layout the original CUDA engine consumed, so existing
// config files keep working; keys that only made sense there (block_dim,
// hyper_threads, the log level pair) are accepted and ignored.
type Config struct {
	// Seed drives level assignment when levels are not injected.
	Seed int64 `json:"seed"`

	// MaxM is the degree bound on layers >= 1. MaxM0 is the layer-0
	// bound; zero means 2*MaxM.
	MaxM  int `json:"max_m"`
	MaxM0 int `json:"max_m0"`

	// MaxLevel caps assigned and injected levels.
	MaxLevel int `json:"max_level"`

	// EfConstruction is the beam width used while building.
	EfConstruction int `json:"ef_construction"`

	// LevelMult is the geometric level multiplier; zero means
	// 1/ln(MaxM).
	LevelMult float64 `json:"level_mult"`

	// DistType selects the metric: "dot", "l2" or "cosine".
	DistType string `json:"dist_type"`

	// Nrz forces L2 normalization of vectors at load time. Cosine
	// implies it.
	Nrz bool `json:"nrz"`

	// SaveRemains backfills pruned candidates up to the degree bound,
	// the keep-pruned-connections variant of the selection heuristic.
	SaveRemains bool `json:"save_remains"`

	// Heuristic toggles diversity-aware neighbor selection. Off means
	// plain closest-first truncation.
	Heuristic bool `json:"heuristic"`

	// Precision is the storage precision: "f32" or "f16". f16 is only
	// valid with the l2 metric.
	Precision string `json:"precision"`

	// VisitedSize is a capacity hint for the visited sets used during
	// traversal. The key name matches the original engine's config.
	VisitedSize int `json:"visited_list_size"`

	// BuildWorkers and SearchWorkers bound the worker pools; zero means
	// GOMAXPROCS.
	BuildWorkers  int `json:"build_workers"`
	SearchWorkers int `json:"search_workers"`

	// BuildBatch is the wave size for parallel builds.
	BuildBatch int `json:"build_batch"`

	// MmapDir, when set, backs the vector store with memory-mapped
	// arena files under this directory instead of heap memory.
	MmapDir string `json:"mmap_dir,omitempty"`

	// ValidateFinite rejects NaN and Inf components on data load.
	ValidateFinite bool `json:"validate_finite"`

	// Accel controls the accelerated distance backend.
	Accel AccelConfig `json:"accel"`

	// Legacy GPU engine tunables, accepted so original config files load
	// unchanged and otherwise unused.
	BlockDim         int     `json:"block_dim,omitempty"`
	HyperThreads     float64 `json:"hyper_threads,omitempty"`
	CLogLevel        int     `json:"c_log_level,omitempty"`
	PyLogLevel       int     `json:"py_log_level,omitempty"`
	VisitedTableSize int     `json:"visited_table_size,omitempty"`
	ReverseCand      bool    `json:"reverse_cand,omitempty"`
	HeuristicCoef    float64 `json:"heuristic_coef,omitempty"`
}

// AccelConfig mirrors the device section of the original engine config.
// Only Enabled changes behavior here; the rest is surfaced in logs so
// existing configs round-trip cleanly.
type AccelConfig struct {
	Enabled       bool `json:"enabled"`
	DeviceID      int  `json:"device_id"`
	MemoryLimitMB int  `json:"memory_limit_mb"`
}

// DefaultConfig returns the defaults the original engine shipped with.
func DefaultConfig() Config {
	return Config{
		Seed:           777,
		MaxM:           12,
		MaxM0:          0,
		MaxLevel:       32,
		EfConstruction: 150,
		LevelMult:      0,
		DistType:       string(distance.Dot),
		Heuristic:      true,
		Precision:      string(distance.Float32),
		VisitedSize:    8192,
		BuildBatch:     1024,
		ValidateFinite: true,
		Accel:          AccelConfig{Enabled: true},
	}
}

// LoadConfig reads and parses a JSON config file, applying defaults for
// absent keys.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: read config: %v", ErrInvalidArgument, err)
	}
	return ParseConfig(raw)
}

// ParseConfig decodes a JSON config document. Unknown keys are rejected
// so typos surface immediately instead of silently falling back to
// defaults.
func ParseConfig(raw []byte) (Config, error) {
	cfg := DefaultConfig()
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parse config: %v", ErrInvalidArgument, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.MaxM < 2 {
		return fmt.Errorf("%w: max_m must be >= 2, got %d", ErrInvalidArgument, c.MaxM)
	}
	if c.MaxM0 < 0 {
		return fmt.Errorf("%w: max_m0 must be >= 0, got %d", ErrInvalidArgument, c.MaxM0)
	}
	if c.MaxM0 > 0 && c.MaxM0 < c.MaxM {
		return fmt.Errorf("%w: max_m0 (%d) must be >= max_m (%d)", ErrInvalidArgument, c.MaxM0, c.MaxM)
	}
	if c.MaxLevel < 0 {
		return fmt.Errorf("%w: max_level must be >= 0, got %d", ErrInvalidArgument, c.MaxLevel)
	}
	if c.EfConstruction < c.MaxM {
		return fmt.Errorf("%w: ef_construction (%d) must be >= max_m (%d)", ErrInvalidArgument, c.EfConstruction, c.MaxM)
	}
	if c.LevelMult < 0 {
		return fmt.Errorf("%w: level_mult must be >= 0, got %f", ErrInvalidArgument, c.LevelMult)
	}
	if c.BuildWorkers < 0 || c.SearchWorkers < 0 {
		return fmt.Errorf("%w: worker counts must be >= 0", ErrInvalidArgument)
	}
	if c.BuildBatch < 0 {
		return fmt.Errorf("%w: build_batch must be >= 0, got %d", ErrInvalidArgument, c.BuildBatch)
	}
	if _, err := distance.ParseMetric(c.DistType); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	prec, err := distance.ParsePrecision(c.Precision)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if prec == distance.Float16 && c.DistType != string(distance.L2) {
		return fmt.Errorf("%w: precision f16 requires dist_type l2, got %q", ErrInvalidArgument, c.DistType)
	}
	return nil
}

// Metric returns the parsed metric. Only meaningful after Validate.
func (c *Config) Metric() distance.Metric {
	m, _ := distance.ParseMetric(c.DistType)
	return m
}

// PrecisionType returns the parsed storage precision. Only meaningful
// after Validate.
func (c *Config) PrecisionType() distance.Precision {
	p, _ := distance.ParsePrecision(c.Precision)
	return p
}

// EffectiveM0 resolves the layer-0 degree bound.
func (c *Config) EffectiveM0() int {
	if c.MaxM0 > 0 {
		return c.MaxM0
	}
	return 2 * c.MaxM
}

// EffectiveLevelMult resolves the geometric multiplier.
func (c *Config) EffectiveLevelMult() float64 {
	if c.LevelMult > 0 {
		return c.LevelMult
	}
	return 1.0 / math.Log(float64(c.MaxM))
}

// Normalize reports whether vectors must be L2-normalized at load time.
func (c *Config) Normalize() bool {
	return c.Nrz || c.DistType == string(distance.Cosine)
}
