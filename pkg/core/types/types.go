// Package types holds the small data structures shared across the engine
// packages. Keeping them here avoids import cycles between the index, the
// distance kernels and the serialization layer.
package types

import "time"

// Candidate couples a point id with its distance to some query. It is the
// element type of the search heaps and of every result list the engine
// produces. Distances are whatever the active metric defines; smaller is
// always nearer.
type Candidate struct {
	ID       uint32  `json:"id"`
	Distance float32 `json:"distance"`
}

// BuildStats summarizes a completed graph build.
type BuildStats struct {
	Points    int           `json:"points"`
	MaxLevel  int           `json:"max_level"`
	Waves     int           `json:"waves"`
	Workers   int           `json:"workers"`
	Duration  time.Duration `json:"duration"`
	EdgeCount int           `json:"edge_count"`
}

// IndexInfo is the introspection snapshot returned by the engine and the
// HTTP API.
type IndexInfo struct {
	Name           string  `json:"name,omitempty"`
	Metric         string  `json:"metric"`
	Precision      string  `json:"precision"`
	Backend        string  `json:"backend"`
	Dim            int     `json:"dim"`
	Count          int     `json:"count"`
	Built          bool    `json:"built"`
	MaxM           int     `json:"max_m"`
	MaxM0          int     `json:"max_m0"`
	EfConstruction int     `json:"ef_construction"`
	LevelMult      float64 `json:"level_mult"`
	MaxLevel       int     `json:"max_level"`
	GraphMaxLevel  int     `json:"graph_max_level"`
	EntryPoint     uint32  `json:"entry_point"`
	EdgeCount      int     `json:"edge_count"`
}
