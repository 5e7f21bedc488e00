// Package metrics provides Prometheus metrics for the background removal service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcomes of a remove background request.
const (
	OutcomeSuccess          = "success"
	OutcomeBadRequest       = "bad_request"
	OutcomeProcessingFailed = "processing_failed"
	OutcomeUnavailable      = "unavailable"
)

// latency buckets in milliseconds; inference on large images takes seconds
var defaultBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

// Manager manages all Prometheus metrics of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	removals        *prometheus.CounterVec
	removalDuration prometheus.Histogram
	inputBytes      prometheus.Histogram
	removerReady    prometheus.Gauge
}

var globalManager *Manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry()

func init() {
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "cutout",
		subsystem:        "api",
		histogramBuckets: defaultBuckets,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by route, method and status code",
		},
		[]string{"route", "method", "status_code"},
	)

	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_request_duration_milliseconds",
			Help:      "HTTP request duration in milliseconds",
			Buckets:   m.histogramBuckets,
		},
		[]string{"route", "method", "status_code"},
	)

	m.removals = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "background_removals_total",
			Help:      "Total number of background removal requests by outcome",
		},
		[]string{"outcome"},
	)

	m.removalDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "background_removal_duration_milliseconds",
		Help:      "Duration of the image pipeline for successful removals in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.inputBytes = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "input_image_bytes",
		Help:      "Size of decoded input images in bytes",
		Buckets:   prometheus.ExponentialBuckets(16*1024, 4, 8),
	})

	m.removerReady = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "remover_ready",
		Help:      "1 if the background remover passed its startup check, else 0",
	})
}

func (m *Manager) RecordHTTPRequest(route, method, statusCode string, durationMs float64) {
	m.httpRequests.WithLabelValues(route, method, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(route, method, statusCode).Observe(durationMs)
}

func (m *Manager) RecordRemoval(outcome string) {
	m.removals.WithLabelValues(outcome).Inc()
}

func (m *Manager) RecordRemovalDuration(durationMs float64) {
	m.removalDuration.Observe(durationMs)
}

func (m *Manager) RecordInputBytes(size int) {
	m.inputBytes.Observe(float64(size))
}

func (m *Manager) SetRemoverReady(ready bool) {
	if ready {
		m.removerReady.Set(1)
		return
	}
	m.removerReady.Set(0)
}

// RecordHTTPRequest records one finished HTTP request.
func RecordHTTPRequest(route, method, statusCode string, durationMs float64) {
	globalManager.RecordHTTPRequest(route, method, statusCode, durationMs)
}

// RecordRemoval increments the removal counter for outcome.
func RecordRemoval(outcome string) {
	globalManager.RecordRemoval(outcome)
}

func RecordRemovalDuration(durationMs float64) {
	globalManager.RecordRemovalDuration(durationMs)
}

func RecordInputBytes(size int) {
	globalManager.RecordInputBytes(size)
}

// SetRemoverReady publishes the result of the startup readiness check.
func SetRemoverReady(ready bool) {
	globalManager.SetRemoverReady(ready)
}

// GetRegistry returns the custom registry.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// Handler serves the custom registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(customRegistry, promhttp.HandlerOpts{})
}
