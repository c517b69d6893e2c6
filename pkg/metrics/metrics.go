// Package metrics exposes the Prometheus collectors shared by the
// engine and the HTTP server. Collectors register themselves through
// promauto, so importing the package is enough to make them visible on
// the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts processed requests, labeled by method,
	// route pattern, and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smallworld_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures server response time per route.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smallworld_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)

	// PointsLoaded tracks how many vectors each index currently holds.
	PointsLoaded = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "smallworld_points_loaded",
			Help: "Number of vectors loaded per index",
		},
		[]string{"index"},
	)

	// GraphEdges tracks the directed edge count of each built graph.
	GraphEdges = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "smallworld_graph_edges",
			Help: "Directed edges in the built graph per index",
		},
		[]string{"index"},
	)

	// BuildSeconds observes full graph build durations. Builds span
	// milliseconds for toy data to hours for billion-scale sets, hence
	// the wide buckets.
	BuildSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "smallworld_build_duration_seconds",
			Help:    "Wall time of completed graph builds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600, 14400},
		},
	)

	// SearchSeconds observes the wall time of one SearchGraph batch.
	SearchSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "smallworld_search_batch_duration_seconds",
			Help:    "Wall time of search batches",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	// SearchQueries counts individual queries answered.
	SearchQueries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smallworld_search_queries_total",
			Help: "Total number of queries answered",
		},
	)

	// SnapshotBytes records the size of the last snapshot written per
	// index.
	SnapshotBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "smallworld_snapshot_bytes",
			Help: "Size of the most recently saved snapshot per index",
		},
		[]string{"index"},
	)

	// ComputeBackend marks the selected distance backend with a 1.
	ComputeBackend = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "smallworld_compute_backend",
			Help: "Selected distance kernel backend (value is always 1)",
		},
		[]string{"backend"},
	)

	// TasksActive tracks asynchronous build tasks by state.
	TasksActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "smallworld_tasks",
			Help: "Asynchronous tasks by state",
		},
		[]string{"state"},
	)
)
