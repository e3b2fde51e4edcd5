// Package metrics holds the prometheus collectors for the query engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutcomeOK labels runs that returned rows without an error.
const OutcomeOK = "ok"

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ekaya_ask_runs_total",
			Help: "Total number of question and native query runs by outcome.",
		},
		[]string{"family", "dialect", "outcome"},
	)

	runDurationMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ekaya_ask_run_duration_ms",
			Help:    "End-to-end run latency in milliseconds, including queueing.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"family"},
	)

	executeDurationMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ekaya_ask_execute_duration_ms",
			Help:    "Backend execution latency in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000, 30000},
		},
		[]string{"dialect"},
	)

	introspectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ekaya_ask_introspections_total",
			Help: "Total number of schema introspections by result.",
		},
		[]string{"family", "result"},
	)

	inferenceConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ekaya_ask_inference_confidence",
			Help:    "Confidence of planned intents.",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		},
	)

	connectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ekaya_ask_connections_active",
			Help: "Current number of registered connections.",
		},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ekaya_ask_queue_depth",
			Help: "Runs waiting on a connection's FIFO queue.",
		},
		[]string{"connection"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ekaya_ask_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ekaya_ask_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		runsTotal,
		runDurationMs,
		executeDurationMs,
		introspectionsTotal,
		inferenceConfidence,
		connectionsActive,
		queueDepth,
		httpRequestsTotal,
		httpRequestDurationSeconds,
	)
}

// ObserveRun records one finished run. outcome is OutcomeOK or the error kind.
func ObserveRun(family, dialect, outcome string, d time.Duration) {
	runsTotal.WithLabelValues(family, dialect, outcome).Inc()
	runDurationMs.WithLabelValues(family).Observe(float64(d) / float64(time.Millisecond))
}

// ObserveExecute records backend execution time.
func ObserveExecute(dialect string, ms float64) {
	executeDurationMs.WithLabelValues(dialect).Observe(ms)
}

// ObserveIntrospection records one introspection attempt.
func ObserveIntrospection(family string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	introspectionsTotal.WithLabelValues(family, result).Inc()
}

// ObserveConfidence records a planned intent's confidence.
func ObserveConfidence(c float64) {
	inferenceConfidence.Observe(c)
}

// SetConnections sets the registered connection gauge.
func SetConnections(n int) {
	connectionsActive.Set(float64(n))
}

// AddQueued adjusts the queue depth of one connection by delta.
func AddQueued(connectionID string, delta int) {
	queueDepth.WithLabelValues(connectionID).Add(float64(delta))
}

// ForgetConnection drops per-connection series after a disconnect.
func ForgetConnection(connectionID string) {
	queueDepth.DeleteLabelValues(connectionID)
}

// ObserveHTTPRequest records one HTTP request.
func ObserveHTTPRequest(method, path, status string, d time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, path, status).Observe(d.Seconds())
}
