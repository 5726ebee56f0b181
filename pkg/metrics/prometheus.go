// Package metrics provides Prometheus metrics for the survey eligibility service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every collector exposed by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Pipeline
	eventsTotal        *prometheus.CounterVec
	eligibleTotal      *prometheus.CounterVec
	eventLatency       prometheus.Histogram
	batchSize          prometheus.Histogram
	batchDuration      prometheus.Histogram
	chunksTotal        prometheus.Counter
	inflightDuplicates prometheus.Counter

	// Dependencies
	crmRequests     *prometheus.CounterVec
	crmLatency      *prometheus.HistogramVec
	storeLatency    *prometheus.HistogramVec
	storeErrors     *prometheus.CounterVec
	lockWaitLatency prometheus.Histogram

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec
}

var globalManager *Manager //nolint:gochecknoglobals // singleton used by Record* helpers

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // avoids default Go collectors

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a Manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "encuesta",
		subsystem:        "eligibility",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() { //nolint:funlen // collector declarations
	auto := promauto.With(m.registry)

	m.eventsTotal = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "events_total",
		Help:        "Events that reached a terminal state, by status",
		ConstLabels: m.constLabels,
	}, []string{"status"})

	m.eligibleTotal = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "decisions_total",
		Help:        "Persisted eligibility decisions by concept and outcome",
		ConstLabels: m.constLabels,
	}, []string{"concept", "eligible"})

	m.eventLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "event_duration_milliseconds",
		Help:        "End-to-end time spent on a single event",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	})

	m.batchSize = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "batch_size",
		Help:        "Number of events per webhook batch",
		Buckets:     []float64{1, 2, 5, 10, 20, 50, 100, 250},
		ConstLabels: m.constLabels,
	})

	m.batchDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "batch_duration_milliseconds",
		Help:        "Wall time to drain a webhook batch, pauses included",
		Buckets:     []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		ConstLabels: m.constLabels,
	})

	m.chunksTotal = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "chunks_total",
		Help:        "Chunks executed by the batch scheduler",
		ConstLabels: m.constLabels,
	})

	m.inflightDuplicates = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "inflight_duplicates_total",
		Help:        "Events collapsed because the same entity was already being processed",
		ConstLabels: m.constLabels,
	})

	m.crmRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "crm_requests_total",
		Help:        "Outbound CRM calls by operation and outcome",
		ConstLabels: m.constLabels,
	}, []string{"operation", "outcome"})

	m.crmLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "crm_request_duration_milliseconds",
		Help:        "Outbound CRM call latency, throttling wait included",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}, []string{"operation"})

	m.storeLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "store_duration_milliseconds",
		Help:        "Eligibility store latency by operation",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}, []string{"operation"})

	m.storeErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "store_errors_total",
		Help:        "Eligibility store failures by operation",
		ConstLabels: m.constLabels,
	}, []string{"operation"})

	m.lockWaitLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "quota_lock_wait_milliseconds",
		Help:        "Time spent waiting for the quota lock",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_requests_total",
		Help:        "HTTP requests by endpoint, method and status code",
		ConstLabels: m.constLabels,
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_request_duration_milliseconds",
		Help:        "HTTP request duration in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}, []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "errors_total",
		Help:        "Errors by component and type",
		ConstLabels: m.constLabels,
	}, []string{"component", "error_type"})
}

// RecordEvent counts an event that reached a terminal status.
func RecordEvent(status string, durationMs float64) {
	globalManager.eventsTotal.WithLabelValues(status).Inc()
	globalManager.eventLatency.Observe(durationMs)
}

// RecordDecision counts a persisted decision.
func RecordDecision(concept string, eligible bool) {
	label := "false"
	if eligible {
		label = "true"
	}
	globalManager.eligibleTotal.WithLabelValues(concept, label).Inc()
}

// RecordBatch observes a drained batch.
func RecordBatch(size int, durationMs float64) {
	globalManager.batchSize.Observe(float64(size))
	globalManager.batchDuration.Observe(durationMs)
}

// RecordChunk counts one executed chunk.
func RecordChunk() {
	globalManager.chunksTotal.Inc()
}

// RecordInflightDuplicate counts an event collapsed by the in-flight guard.
func RecordInflightDuplicate() {
	globalManager.inflightDuplicates.Inc()
}

// RecordCRMRequest observes one outbound CRM call.
func RecordCRMRequest(operation, outcome string, durationMs float64) {
	globalManager.crmRequests.WithLabelValues(operation, outcome).Inc()
	globalManager.crmLatency.WithLabelValues(operation).Observe(durationMs)
}

// RecordStoreOperation observes one store call; failed calls are also counted.
func RecordStoreOperation(operation string, durationMs float64, err error) {
	globalManager.storeLatency.WithLabelValues(operation).Observe(durationMs)
	if err != nil {
		globalManager.storeErrors.WithLabelValues(operation).Inc()
	}
}

// RecordLockWait observes time spent acquiring the quota lock.
func RecordLockWait(durationMs float64) {
	globalManager.lockWaitLatency.Observe(durationMs)
}

// RecordHTTPRequest counts an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration observes an HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// RecordError counts an error attributed to a component.
func RecordError(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the registry backing the global Manager.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
