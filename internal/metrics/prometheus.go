// Package metrics provides Prometheus metrics collection for MemoryHub.
// It tracks request counts, latencies, cache effectiveness, the event queue,
// and similarity index health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "memoryhub"

// LatencyBuckets defines histogram buckets for latency metrics (in seconds).
// Interactive target is low tens to low hundreds of milliseconds.
var LatencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
	0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
}

// =============================================================================
// Request metrics
// =============================================================================

var (
	// RequestsTotal counts façade requests by action and outcome.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of hub requests",
		},
		[]string{"action", "status_code"},
	)

	// RequestLatency tracks end-to-end request latency per action.
	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_latency_seconds",
			Help:      "End-to-end request latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"action"},
	)
)

// =============================================================================
// Storage metrics
// =============================================================================

var (
	// CacheOps counts fast-store operations by logical database and result.
	CacheOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_ops_total",
			Help:      "Fast-store operations by logical database and result",
		},
		[]string{"db", "op", "result"},
	)

	// DurableOps counts durable-store operations by entity and result.
	DurableOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "durable_ops_total",
			Help:      "Durable-store operations by entity and result",
		},
		[]string{"entity", "op", "result"},
	)
)

// =============================================================================
// Embedding metrics
// =============================================================================

var (
	// IndexSize tracks the total number of vectors in the similarity index.
	IndexSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_size",
			Help:      "Total vectors in the similarity index, including soft-deleted",
		},
	)

	// IndexDeletedRatio tracks the soft-deleted fraction of the index.
	IndexDeletedRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_deleted_ratio",
			Help:      "Fraction of index entries that are soft-deleted",
		},
	)

	// IndexRebuilds counts completed index rebuilds.
	IndexRebuilds = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_rebuilds_total",
			Help:      "Total number of completed index rebuilds",
		},
	)

	// EmbeddingSearches counts similarity searches.
	EmbeddingSearches = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_searches_total",
			Help:      "Total number of similarity searches",
		},
	)
)

// =============================================================================
// Trust metrics
// =============================================================================

var (
	// TrustScoreLookups counts trust score lookups by cache tier outcome.
	TrustScoreLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trust_score_lookups_total",
			Help:      "Trust score lookups by source (local, fast_store, computed)",
		},
		[]string{"source"},
	)

	// AuthFailures counts rejected requests by reason.
	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Authentication and authorization failures by reason",
		},
		[]string{"reason"},
	)
)

// =============================================================================
// Monitor metrics
// =============================================================================

var (
	// EventQueueDepth tracks the current depth of the context event queue.
	EventQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_queue_depth",
			Help:      "Current depth of the context event queue",
		},
	)

	// EventsDropped counts events dropped because the queue was full.
	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Context events dropped due to a full queue",
		},
	)

	// EventsProcessed counts consumed context events by type.
	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_processed_total",
			Help:      "Context events processed by event type",
		},
		[]string{"event_type"},
	)

	// MaintenanceRuns counts maintenance loop iterations by loop and result.
	MaintenanceRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "maintenance_runs_total",
			Help:      "Background maintenance loop iterations by loop and result",
		},
		[]string{"loop", "result"},
	)
)
