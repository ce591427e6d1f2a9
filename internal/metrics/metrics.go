// Package metrics exposes Prometheus collectors for the ingestion pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	documentsTotal             *prometheus.CounterVec
	documentBytes              prometheus.Histogram
	rowsTotal                  *prometheus.CounterVec
	pagesTotal                 *prometheus.CounterVec
	runsTotal                  *prometheus.CounterVec
	runDurationSeconds         prometheus.Histogram
	activeWorkers              prometheus.Gauge
	rateLimitDelaySeconds      prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		documentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tdnet_documents_total",
				Help: "Documents handled by fetch/upload workers, labeled by type and outcome.",
			},
			[]string{"doc_type", "status"},
		)

		documentBytes = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tdnet_document_bytes",
				Help:    "Size of stored documents in bytes.",
				Buckets: prometheus.ExponentialBuckets(16*1024, 2, 10),
			},
		)

		rowsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tdnet_rows_total",
				Help: "Listing rows seen, labeled by filtering outcome.",
			},
			[]string{"outcome"},
		)

		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tdnet_pages_total",
				Help: "Listing pages fetched, labeled by status.",
			},
			[]string{"status"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tdnet_runs_total",
				Help: "Date runs finished, labeled by terminal status.",
			},
			[]string{"status"},
		)

		runDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tdnet_run_duration_seconds",
				Help:    "Wall-clock duration of date runs.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tdnet_active_workers",
				Help: "Number of workers currently processing a batch.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tdnet_rate_limit_delay_seconds",
				Help:    "Time workers spent waiting for a rate limit admission.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1, 2},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDocument records one worker outcome.
func ObserveDocument(docType, status string, bytes int64) {
	Init()
	documentsTotal.WithLabelValues(docType, status).Inc()
	if bytes > 0 {
		documentBytes.Observe(float64(bytes))
	}
}

// ObserveRows records filtering outcomes for a page.
func ObserveRows(outcome string, n int) {
	Init()
	if n > 0 {
		rowsTotal.WithLabelValues(outcome).Add(float64(n))
	}
}

// ObservePage records a fetched or failed listing page.
func ObservePage(status string) {
	Init()
	pagesTotal.WithLabelValues(status).Inc()
}

// ObserveRun records a finished date run.
func ObserveRun(status string, duration time.Duration) {
	Init()
	runsTotal.WithLabelValues(status).Inc()
	runDurationSeconds.Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	rateLimitDelaySeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
