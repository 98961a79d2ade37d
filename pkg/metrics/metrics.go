// Package metrics defines the Prometheus collectors of the food search
// service and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Search outcomes recorded in search_queries_total.
const (
	OutcomeHit     = "hit"
	OutcomeEmpty   = "empty"
	OutcomeNoIndex = "no_index"
	OutcomeError   = "error"
)

// Rebuild outcomes recorded in index_rebuilds_total.
const (
	RebuildSuccess  = "success"
	RebuildDegraded = "degraded"
	RebuildFailed   = "failed"
)

// Metrics holds all collectors.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SearchQueriesTotal   *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	SearchResultsCount   *prometheus.HistogramVec
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	IndexRebuildsTotal   *prometheus.CounterVec
	IndexBuildDuration   *prometheus.HistogramVec
	IndexVersion         *prometheus.GaugeVec
	IndexEntries         *prometheus.GaugeVec
	IndexSkippedRecords  *prometheus.CounterVec
	IndexStale           *prometheus.GaugeVec
	CircuitBreakerState  *prometheus.GaugeVec
	AnalyticsDropped     prometheus.Counter
}

// New creates the collectors and registers them with the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates the collectors and registers them with reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total food searches by locale and outcome (hit, empty, no_index, error).",
			},
			[]string{"locale", "outcome"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Food search latency in seconds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"locale", "cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of matches returned per search.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
			[]string{"locale"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of query cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of query cache misses.",
			},
		),
		IndexRebuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_rebuilds_total",
				Help: "Index rebuilds by locale and outcome (success, degraded, failed).",
			},
			[]string{"locale", "outcome"},
		),
		IndexBuildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "index_build_duration_seconds",
				Help:    "Duration of a single index build attempt.",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
			},
			[]string{"locale"},
		),
		IndexVersion: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "index_version",
				Help: "Version of the currently published index.",
			},
			[]string{"locale"},
		),
		IndexEntries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "index_entries",
				Help: "Number of entries in the currently published index.",
			},
			[]string{"locale"},
		),
		IndexSkippedRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_skipped_records_total",
				Help: "Food records skipped during index builds by reason.",
			},
			[]string{"locale", "reason"},
		),
		IndexStale: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "index_stale",
				Help: "1 when the last rebuild of the locale failed and an older index is serving.",
			},
			[]string{"locale"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		AnalyticsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "analytics_events_dropped_total",
				Help: "Search events dropped because the analytics buffer was full.",
			},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.IndexRebuildsTotal,
		m.IndexBuildDuration,
		m.IndexVersion,
		m.IndexEntries,
		m.IndexSkippedRecords,
		m.IndexStale,
		m.CircuitBreakerState,
		m.AnalyticsDropped,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
