// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// CompletionDuration tracks completion request duration.
	CompletionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_completion_duration_seconds",
			Help:    "LLM completion request duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"provider", "model", "status"},
	)

	// CompletionsTotal counts completion requests by outcome.
	CompletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_completions_total",
			Help: "Total LLM completion requests",
		},
		[]string{"provider", "status"},
	)

	// SessionsTotal counts chat sessions created.
	SessionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_sessions_created_total",
			Help: "Total chat sessions created",
		},
	)

	// MessagesTotal counts messages appended to sessions.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Total messages appended",
		},
		[]string{"role"},
	)

	// StorageCorruptionsTotal counts keys cleared because their value did not decode.
	StorageCorruptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_corrupt_keys_total",
			Help: "Persistence keys cleared after failing to decode",
		},
		[]string{"key"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordCompletion records metrics for one completion call.
func RecordCompletion(provider, model, status string, duration float64) {
	CompletionDuration.WithLabelValues(provider, model, status).Observe(duration)
	CompletionsTotal.WithLabelValues(provider, status).Inc()
}
