// Package metrics exposes Prometheus collectors for a crawl run.
//
// A *Metrics owns its own registry so several crawlers (and tests) can run in
// one process. All methods are safe on a nil receiver, which disables
// collection.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "d2crawl"

// Request outcomes used for the requests_total outcome label.
const (
	OutcomeOK       = "ok"
	OutcomeAPIError = "api_error"
	OutcomeFailed   = "failed"
)

// Metrics groups the crawler collectors.
type Metrics struct {
	registry *prometheus.Registry

	requests         *prometheus.CounterVec
	retries          *prometheus.CounterVec
	apiErrors        *prometheus.CounterVec
	inserted         *prometheus.CounterVec
	skipped          *prometheus.CounterVec
	failures         *prometheus.CounterVec
	sourcesConsumed  prometheus.Counter
	rateLimitWaits   prometheus.Counter
	archiveChunks    prometheus.Counter
	inFlightRequests prometheus.Gauge
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Bungie API calls by endpoint and final outcome.",
		}, []string{"endpoint", "outcome"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_retries_total",
			Help:      "Transient transport faults retried, by endpoint.",
		}, []string{"endpoint"}),
		apiErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_errors_total",
			Help:      "Envelopes with a non-success ErrorCode, by ErrorStatus.",
		}, []string{"status"}),
		inserted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entities_inserted_total",
			Help:      "Entities newly written to the store, by kind.",
		}, []string{"kind"}),
		skipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entities_skipped_total",
			Help:      "Entities not fetched, by kind and reason.",
		}, []string{"kind", "reason"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_failures_total",
			Help:      "Fetch tasks that failed and left their entity unseen, by stage.",
		}, []string{"stage"}),
		sourcesConsumed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sources_consumed_total",
			Help:      "Sources whose history was fully walked.",
		}),
		rateLimitWaits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_waits_total",
			Help:      "Times a request found the token bucket empty and slept.",
		}),
		archiveChunks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_chunks_written_total",
			Help:      "Archive chunk files written.",
		}),
		inFlightRequests: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "api_requests_in_flight",
			Help:      "Bungie API calls currently waiting on the network.",
		}),
	}
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Request records the final outcome of one API call.
func (m *Metrics) Request(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(endpoint, outcome).Inc()
}

// Retry records one retried transient fault.
func (m *Metrics) Retry(endpoint string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(endpoint).Inc()
}

// APIError records a failed envelope.
func (m *Metrics) APIError(status string) {
	if m == nil {
		return
	}
	m.apiErrors.WithLabelValues(status).Inc()
}

// Inserted records a new entity in the store.
func (m *Metrics) Inserted(kind string) {
	if m == nil {
		return
	}
	m.inserted.WithLabelValues(kind).Inc()
}

// Skipped records an entity that was not fetched.
func (m *Metrics) Skipped(kind, reason string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(kind, reason).Inc()
}

// Failed records a failed fetch task.
func (m *Metrics) Failed(stage string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(stage).Inc()
}

// SourceConsumed records a completed source.
func (m *Metrics) SourceConsumed() {
	if m == nil {
		return
	}
	m.sourcesConsumed.Inc()
}

// RateLimitWait records a sleep on an empty bucket.
func (m *Metrics) RateLimitWait() {
	if m == nil {
		return
	}
	m.rateLimitWaits.Inc()
}

// ArchiveChunkWritten records a chunk file write.
func (m *Metrics) ArchiveChunkWritten() {
	if m == nil {
		return
	}
	m.archiveChunks.Inc()
}

// RequestStarted and RequestFinished track in-flight calls.
func (m *Metrics) RequestStarted() {
	if m == nil {
		return
	}
	m.inFlightRequests.Inc()
}

// RequestFinished pairs with RequestStarted.
func (m *Metrics) RequestFinished() {
	if m == nil {
		return
	}
	m.inFlightRequests.Dec()
}
