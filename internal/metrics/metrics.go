// Package metrics exposes Prometheus counters for HTTP traffic and the image pipeline.
// All methods are no-ops on a nil *Metrics so callers can leave metrics disabled.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline outcome labels.
const (
	OutcomeProcessed   = "processed"
	OutcomeSkipped     = "skipped"
	OutcomeStorage     = "storage_error"
	OutcomeMissing     = "object_missing"
	OutcomeUnreachable = "unreachable"
	OutcomeDatabase    = "database_error"
	OutcomeDegraded    = "degraded"
)

// Metrics holds a dedicated registry and the collectors registered on it.
type Metrics struct {
	Registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	pipelineOutcomes *prometheus.CounterVec
	analysisAttempts *prometheus.CounterVec
	confidence       *prometheus.HistogramVec
	tokensTotal      *prometheus.CounterVec
}

// New creates the metrics set with a constant service label.
func New(serviceName string) *Metrics {
	registry := prometheus.NewRegistry()
	wrapped := prometheus.WrapRegistererWith(prometheus.Labels{"service": serviceName}, registry)

	m := &Metrics{
		Registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"path"}),
		pipelineOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_outcomes_total",
			Help: "Image pipeline runs by outcome",
		}, []string{"outcome"}),
		analysisAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analysis_attempts_total",
			Help: "Vision model calls by model and normalization stage",
		}, []string{"model", "stage"}),
		confidence: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "analysis_confidence",
			Help:    "Final confidence of kept analyses",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		}, []string{"model"}),
		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analysis_tokens_total",
			Help: "Tokens billed for kept analyses",
		}, []string{"model", "kind"}),
	}

	wrapped.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.pipelineOutcomes,
		m.analysisAttempts,
		m.confidence,
		m.tokensTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, path string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path).Observe(elapsed.Seconds())
}

// RecordOutcome counts a finished pipeline run.
func (m *Metrics) RecordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.pipelineOutcomes.WithLabelValues(outcome).Inc()
}

// RecordAttempt counts one vision call.
func (m *Metrics) RecordAttempt(model, stage string) {
	if m == nil {
		return
	}
	m.analysisAttempts.WithLabelValues(model, stage).Inc()
}

// RecordAnalysis records the confidence and token usage of a kept analysis.
func (m *Metrics) RecordAnalysis(model string, confidence float64, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	m.confidence.WithLabelValues(model).Observe(confidence)
	m.tokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	m.tokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
}
