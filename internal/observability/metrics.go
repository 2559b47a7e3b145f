// Package observability exposes process-wide Prometheus metrics for the
// service. Collectors are registered lazily on first use so packages can
// record metrics without wiring a registry through every constructor.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type serviceMetrics struct {
	activeSessions prometheus.Gauge
	sessionsTotal  prometheus.Counter

	queryDuration prometheus.Histogram
	queryTotal    *prometheus.CounterVec

	toolInvocations *prometheus.CounterVec

	ingestDuration prometheus.Histogram
	ingestTotal    *prometheus.CounterVec
	indexedChunks  prometheus.Gauge

	httpRequests *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *serviceMetrics
	registry    *prometheus.Registry
)

func getMetrics() *serviceMetrics {
	metricsOnce.Do(func() {
		m := &serviceMetrics{
			activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "docqa_active_sessions",
				Help: "Current live session count.",
			}),
			sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "docqa_sessions_created_total",
				Help: "Total sessions constructed.",
			}),
			queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "docqa_query_duration_seconds",
				Help:    "End-to-end agent query duration in seconds.",
				Buckets: prometheus.DefBuckets,
			}),
			queryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "docqa_queries_total",
				Help: "Total agent queries by status.",
			}, []string{"status"}),
			toolInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "docqa_tool_invocations_total",
				Help: "Total tool invocations by tool and status.",
			}, []string{"tool", "status"}),
			ingestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "docqa_ingest_duration_seconds",
				Help:    "Document ingestion duration in seconds.",
				Buckets: prometheus.DefBuckets,
			}),
			ingestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "docqa_ingests_total",
				Help: "Total document ingestions by status.",
			}, []string{"status"}),
			indexedChunks: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "docqa_indexed_chunks",
				Help: "Chunk count in the shared vector index.",
			}),
			httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "docqa_http_requests_total",
				Help: "HTTP requests by route and status code.",
			}, []string{"route", "code"}),
		}

		registry = prometheus.NewRegistry()
		registry.MustRegister(
			m.activeSessions,
			m.sessionsTotal,
			m.queryDuration,
			m.queryTotal,
			m.toolInvocations,
			m.ingestDuration,
			m.ingestTotal,
			m.indexedChunks,
			m.httpRequests,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered forces collector registration. Safe to call repeatedly.
func EnsureRegistered() {
	getMetrics()
}

// Handler serves the metrics registry over HTTP.
func Handler() http.Handler {
	getMetrics()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// SetActiveSessions updates the live session gauge.
func SetActiveSessions(n int) {
	getMetrics().activeSessions.Set(float64(n))
}

// RecordSessionCreated counts a constructed session.
func RecordSessionCreated() {
	getMetrics().sessionsTotal.Inc()
}

// RecordQuery records one agent query.
func RecordQuery(d time.Duration, success bool) {
	m := getMetrics()
	m.queryDuration.Observe(d.Seconds())
	m.queryTotal.WithLabelValues(statusLabel(success)).Inc()
}

// RecordToolInvocation counts a tool call.
func RecordToolInvocation(tool string, success bool) {
	getMetrics().toolInvocations.WithLabelValues(tool, statusLabel(success)).Inc()
}

// RecordIngest records one ingestion attempt.
func RecordIngest(d time.Duration, success bool) {
	m := getMetrics()
	m.ingestDuration.Observe(d.Seconds())
	m.ingestTotal.WithLabelValues(statusLabel(success)).Inc()
}

// SetIndexedChunks updates the indexed chunk gauge.
func SetIndexedChunks(n int) {
	getMetrics().indexedChunks.Set(float64(n))
}

// RecordHTTPRequest counts an HTTP request by route and status code.
func RecordHTTPRequest(route, code string) {
	getMetrics().httpRequests.WithLabelValues(route, code).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
