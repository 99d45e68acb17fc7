// Package metrics exposes the Prometheus collectors for the experiment
// server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "experiment_server",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "experiment_server",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "experiment_server",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	assignments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "experiment_server",
			Subsystem: "assignment",
			Name:      "assignments_total",
			Help:      "Total number of user-to-group assignments performed.",
		},
		[]string{"outcome"},
	)

	validations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "experiment_server",
			Subsystem: "constraints",
			Name:      "validations_total",
			Help:      "Total number of range constraint validations.",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		assignments,
		validations,
		collectors.NewGoCollector(),
	)
}

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// IncrementInFlight marks a request as started.
func IncrementInFlight() { httpInFlight.Inc() }

// DecrementInFlight marks a request as finished.
func DecrementInFlight() { httpInFlight.Dec() }

// RecordHTTPRequest records a completed request.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequests.WithLabelValues(method, path, status).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordAssignment counts one assignment attempt by outcome
// ("assigned", "skipped" or "failed").
func RecordAssignment(outcome string) {
	assignments.WithLabelValues(outcome).Inc()
}

// RecordValidation counts one range constraint validation by result
// ("valid" or "invalid").
func RecordValidation(result string) {
	validations.WithLabelValues(result).Inc()
}
