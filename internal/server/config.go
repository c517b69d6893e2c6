// Package server implements the HTTP interface to a set of named
// engines: index lifecycle, data loading, asynchronous builds, search,
// snapshots, and the operational endpoints (metrics, health, pprof).
package server

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/navigable/smallworld/pkg/core"
)

// Config is the server configuration, loaded from YAML. Engine defaults
// apply to indexes created without an explicit configuration body.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// DataDir is where relative snapshot paths resolve. It is created
	// on startup if missing.
	DataDir string `yaml:"data_dir"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// MaxConcurrentBuilds bounds how many graph builds may run at once
	// across all indexes; further build requests queue.
	MaxConcurrentBuilds int `yaml:"max_concurrent_builds"`

	// TaskRetentionSeconds is how long finished tasks stay queryable.
	TaskRetentionSeconds int `yaml:"task_retention_seconds"`

	// Engine holds defaults for new indexes, overridable per index at
	// creation time.
	Engine EngineDefaults `yaml:"engine"`
}

// EngineDefaults mirrors the per-index configuration keys that make
// sense as server-wide defaults.
type EngineDefaults struct {
	Metric         string  `yaml:"metric"`
	Precision      string  `yaml:"precision"`
	MaxM           int     `yaml:"max_m"`
	MaxM0          int     `yaml:"max_m0"`
	EfConstruction int     `yaml:"ef_construction"`
	LevelMult      float64 `yaml:"level_mult"`
	Seed           int64   `yaml:"seed"`
	BuildWorkers   int     `yaml:"build_workers"`
	SearchWorkers  int     `yaml:"search_workers"`
	AccelEnabled   *bool   `yaml:"accel_enabled"`
}

// DefaultConfig returns the standard server configuration.
func DefaultConfig() Config {
	return Config{
		Host:                 "0.0.0.0",
		Port:                 7979,
		DataDir:              "./data",
		LogLevel:             "info",
		MaxConcurrentBuilds:  1,
		TaskRetentionSeconds: 3600,
	}
}

// LoadConfig reads a YAML config file, applying defaults for absent
// keys. An empty path returns the defaults untouched.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read server config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse server config: %w", err)
	}
	if cfg.MaxConcurrentBuilds < 1 {
		cfg.MaxConcurrentBuilds = 1
	}
	if cfg.TaskRetentionSeconds <= 0 {
		cfg.TaskRetentionSeconds = 3600
	}
	return cfg, nil
}

// TaskRetention returns the retention window as a duration.
func (c *Config) TaskRetention() time.Duration {
	return time.Duration(c.TaskRetentionSeconds) * time.Second
}

// Addr returns the host:port the server binds.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// engineConfig folds the server-wide defaults into a fresh engine
// configuration.
func (c *Config) engineConfig() core.Config {
	cfg := core.DefaultConfig()
	if c.Engine.Metric != "" {
		cfg.DistType = c.Engine.Metric
	}
	if c.Engine.Precision != "" {
		cfg.Precision = c.Engine.Precision
	}
	if c.Engine.MaxM > 0 {
		cfg.MaxM = c.Engine.MaxM
	}
	if c.Engine.MaxM0 > 0 {
		cfg.MaxM0 = c.Engine.MaxM0
	}
	if c.Engine.EfConstruction > 0 {
		cfg.EfConstruction = c.Engine.EfConstruction
	}
	if c.Engine.LevelMult > 0 {
		cfg.LevelMult = c.Engine.LevelMult
	}
	if c.Engine.Seed != 0 {
		cfg.Seed = c.Engine.Seed
	}
	if c.Engine.BuildWorkers > 0 {
		cfg.BuildWorkers = c.Engine.BuildWorkers
	}
	if c.Engine.SearchWorkers > 0 {
		cfg.SearchWorkers = c.Engine.SearchWorkers
	}
	if c.Engine.AccelEnabled != nil {
		cfg.Accel.Enabled = *c.Engine.AccelEnabled
	}
	return cfg
}
