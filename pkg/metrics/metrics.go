// Package metrics defines the Prometheus metric collectors used across the
// platform and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the platform.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	EventsPublishedTotal prometheus.Counter
	EventsIndexedTotal   *prometheus.CounterVec

	RollupCyclesTotal    *prometheus.CounterVec
	RollupCycleDuration  prometheus.Histogram
	RollupBulkItemsTotal *prometheus.CounterVec

	SearchQueriesTotal *prometheus.CounterVec
	SearchLatency      *prometheus.HistogramVec
	CacheHitsTotal     prometheus.Counter
	CacheMissesTotal   prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
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
		EventsPublishedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "listen_events_published_total",
				Help: "Total listen events published to Kafka.",
			},
		),
		EventsIndexedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listen_events_indexed_total",
				Help: "Total listen events written to the event store by status.",
			},
			[]string{"status"},
		),
		RollupCyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rollup_cycles_total",
				Help: "Total rollup cycles by outcome (success, failure, skipped).",
			},
			[]string{"status"},
		),
		RollupCycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rollup_cycle_duration_seconds",
				Help:    "Wall-clock duration of one rollup cycle.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		RollupBulkItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rollup_bulk_items_total",
				Help: "Total bulk write items issued by rollup cycles, by status.",
			},
			[]string{"status"},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total artist search queries by result type (hit, zero_result, error).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Artist search latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of search cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of search cache misses.",
			},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.EventsPublishedTotal,
		m.EventsIndexedTotal,
		m.RollupCyclesTotal,
		m.RollupCycleDuration,
		m.RollupBulkItemsTotal,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
