package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feed_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	MessagesStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_messages_stored_total",
			Help: "Total messages stored",
		},
		[]string{"mode"}, // "insert" or "atomic"
	)

	SummaryPatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_summary_patches_total",
			Help: "Total read-state summary patches applied",
		},
	)

	PagesServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_pages_served_total",
			Help: "Total older-message pages served",
		},
	)

	// Live query metrics
	LiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feed_live_subscriptions",
			Help: "Open live-query subscriptions",
		},
	)

	SnapshotsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_snapshots_sent_total",
			Help: "Total live-query snapshots delivered",
		},
	)

	SnapshotsCoalesced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_snapshots_coalesced_total",
			Help: "Snapshots replaced before a slow subscriber read them",
		},
	)

	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feed_ws_connections",
			Help: "Open websocket connections",
		},
	)

	// Infrastructure metrics
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_cache_lookups_total",
			Help: "Redis cache lookups",
		},
		[]string{"cache", "result"}, // result: "hit" or "miss"
	)

	PostgresLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feed_postgres_latency_seconds",
			Help:    "PostgreSQL query latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1},
		},
	)
)
