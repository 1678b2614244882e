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

	// RateLimitedTotal counts requests rejected by a rate limiter.
	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_rate_limited_total",
			Help: "Requests rejected by rate limiting",
		},
		[]string{"scope"},
	)

	// FlowTransitionsTotal tracks successful flow transitions.
	FlowTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flow_transitions_total",
			Help: "Total flow transitions by source and destination step",
		},
		[]string{"from", "to"},
	)

	// FlowAdvanceErrorsTotal tracks rejected advance attempts.
	FlowAdvanceErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flow_advance_errors_total",
			Help: "Total rejected flow advances by step and error code",
		},
		[]string{"step", "code"},
	)

	// FlowSessionsEndedTotal tracks sessions that completed or were abandoned.
	FlowSessionsEndedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flow_sessions_ended_total",
			Help: "Total flow sessions ended by reason",
		},
		[]string{"reason"},
	)

	// PersonaRecognitionsTotal tracks recognition outcomes.
	PersonaRecognitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "persona_recognitions_total",
			Help: "Total persona recognitions by outcome",
		},
		[]string{"outcome"},
	)

	// PersonaWritesTotal tracks persona creates and updates.
	PersonaWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "persona_writes_total",
			Help: "Total persona writes by operation and source",
		},
		[]string{"op", "source"},
	)

	// StateNotificationsDropped counts change notifications lost to full
	// subscriber buffers.
	StateNotificationsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "state_notifications_dropped_total",
			Help: "State change notifications dropped for slow subscribers",
		},
	)

	// StatePersistenceFailures counts failed state saves.
	StatePersistenceFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "state_persistence_failures_total",
			Help: "Assistant state saves that failed",
		},
	)

	// ConversationLogFailures counts conversation turns that could not be logged.
	ConversationLogFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conversation_log_failures_total",
			Help: "Conversation turns dropped because the log was unavailable",
		},
	)

	// LLMRequestDuration tracks prompt phrasing request duration.
	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "LLM completion request duration",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"model", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// SpeechRequestDuration tracks speech proxy calls.
	SpeechRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "speech_request_duration_seconds",
			Help:    "Speech synthesis and transcription duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 30},
		},
		[]string{"operation", "status"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// NATSStreamMessages tracks messages in NATS stream.
	NATSStreamMessages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nats_stream_messages",
			Help: "Number of messages in NATS stream",
		},
		[]string{"stream"},
	)

	// NATSStreamBytes tracks bytes in NATS stream.
	NATSStreamBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nats_stream_bytes",
			Help: "Bytes in NATS stream",
		},
		[]string{"stream"},
	)

	// TurnsTotal tracks conversation turns logged.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_turns_total",
			Help: "Total conversation turns logged",
		},
		[]string{"role"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordRateLimited records a rejected request for a limiter scope.
func RecordRateLimited(scope string) {
	RateLimitedTotal.WithLabelValues(scope).Inc()
}

// RecordTransition records a successful flow transition.
func RecordTransition(from, to string) {
	FlowTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordAdvanceError records a rejected advance.
func RecordAdvanceError(step, code string) {
	FlowAdvanceErrorsTotal.WithLabelValues(step, code).Inc()
}

// RecordSessionEnded records a completed or abandoned session.
func RecordSessionEnded(reason string) {
	FlowSessionsEndedTotal.WithLabelValues(reason).Inc()
}

// RecordRecognition records a persona recognition outcome.
func RecordRecognition(outcome string) {
	PersonaRecognitionsTotal.WithLabelValues(outcome).Inc()
}

// RecordPersonaWrite records a persona create or update.
func RecordPersonaWrite(op, source string) {
	PersonaWritesTotal.WithLabelValues(op, source).Inc()
}

// RecordLLMRequest records metrics for an LLM completion.
func RecordLLMRequest(model, status string, duration float64, tokensIn, tokensOut int) {
	LLMRequestDuration.WithLabelValues(model, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// RecordSpeech records a speech proxy call.
func RecordSpeech(operation, status string, duration float64) {
	SpeechRequestDuration.WithLabelValues(operation, status).Observe(duration)
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
