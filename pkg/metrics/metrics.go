package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection metrics
var (
	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mx_connections_total",
			Help: "Total number of connections established",
		},
		[]string{"protocol"},
	)

	ConnectionsCurrent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mx_connections_current",
			Help: "Current number of active connections",
		},
		[]string{"protocol"},
	)

	ConnectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mx_connection_duration_seconds",
			Help:    "Duration of connections in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"protocol"},
	)
)

// Request metrics
var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mx_requests_total",
			Help: "Total number of TCP map requests handled",
		},
		[]string{"verb", "code"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mx_request_duration_seconds",
			Help:    "Duration of TCP map request handling in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0},
		},
		[]string{"verb"},
	)
)

// Resolver metrics
var (
	BackendState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mx_backend_state",
			Help: "Backend connection lifecycle state (0=disconnected, 1=connecting, 2=connected)",
		},
	)

	LookupCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mx_lookup_cache_hits_total",
			Help: "Total number of alias cache hits",
		},
	)

	LookupCacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mx_lookup_cache_misses_total",
			Help: "Total number of alias cache misses",
		},
	)

	LookupCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mx_lookup_cache_size",
			Help: "Current number of entries in the alias cache",
		},
	)
)

// Database performance metrics
var (
	DBQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mx_db_queries_total",
			Help: "Total number of database queries executed",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mx_db_query_duration_seconds",
			Help:    "Duration of database queries in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0},
		},
		[]string{"operation"},
	)

	DBPoolTotalConns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mx_db_pool_total_conns",
			Help: "Total number of connections in the database pool",
		},
	)

	DBPoolIdleConns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mx_db_pool_idle_conns",
			Help: "Number of idle connections in the database pool",
		},
	)

	DBPoolInUseConns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mx_db_pool_in_use_conns",
			Help: "Number of database pool connections currently in use",
		},
	)
)
