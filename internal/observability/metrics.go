package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for the gateway.
//
// Tracked surfaces:
//   - Message flow through channels (telegram, discord, slack, websocket, http)
//   - LLM request latency, status, and token consumption
//   - Tool execution counts and latencies
//   - Plan executions and per-step outcomes
//   - SSE events written per stream event type
//   - Approval gate decisions
//   - HTTP API latency
type Metrics struct {
	// MessageCounter tracks messages by channel and direction.
	MessageCounter *prometheus.CounterVec

	// LLMRequestDuration measures LLM API call latency in seconds.
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider, model, status.
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption by provider, model, type.
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations by name and status.
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	ToolExecutionDuration *prometheus.HistogramVec

	// PlanExecutionCounter counts plan runs by terminal status.
	PlanExecutionCounter *prometheus.CounterVec

	// PlanStepCounter counts executed plan steps by type and status.
	PlanStepCounter *prometheus.CounterVec

	// PlanDuration measures wall time of a plan run in seconds.
	PlanDuration prometheus.Histogram

	// SSEEventCounter counts stream events written by event name.
	SSEEventCounter *prometheus.CounterVec

	// ApprovalCounter counts gate outcomes (allowed|denied|prompted|expired).
	ApprovalCounter *prometheus.CounterVec

	// ErrorCounter tracks errors by component and error type.
	ErrorCounter *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP API request latency.
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	HTTPRequestCounter *prometheus.CounterVec
}

// NewMetrics registers all metrics with the default Prometheus registry.
// Call once at startup; the /metrics endpoint serves the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(nil)
}

// NewMetricsWithRegistry registers the metrics with the given registerer.
// A nil registerer means the default registry. Tests pass a fresh one.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(prometheus.DefaultRegisterer)
	if reg != nil {
		factory = promauto.With(reg)
	}

	return &Metrics{
		MessageCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "locus_messages_total",
				Help: "Total number of messages processed by channel and direction",
			},
			[]string{"channel", "direction"},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "locus_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "locus_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "locus_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "locus_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "locus_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		PlanExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "locus_plan_executions_total",
				Help: "Total number of plan runs by terminal status",
			},
			[]string{"status"},
		),

		PlanStepCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "locus_plan_steps_total",
				Help: "Total number of executed plan steps by type and status",
			},
			[]string{"step_type", "status"},
		),

		PlanDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "locus_plan_duration_seconds",
				Help:    "Wall time of plan runs in seconds",
				Buckets: []float64{0.1, 1, 5, 15, 60, 300, 1800, 3600},
			},
		),

		SSEEventCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "locus_sse_events_total",
				Help: "Total number of SSE events written by event name",
			},
			[]string{"event"},
		),

		ApprovalCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "locus_approval_decisions_total",
				Help: "Total number of approval gate outcomes",
			},
			[]string{"outcome"},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "locus_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "locus_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "locus_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

// MessageReceived increments the message counter for inbound traffic.
func (m *Metrics) MessageReceived(channel, direction string) {
	m.MessageCounter.WithLabelValues(channel, direction).Inc()
}

// MessageSent increments the message counter for outbound messages.
func (m *Metrics) MessageSent(channel string) {
	m.MessageCounter.WithLabelValues(channel, "outbound").Inc()
}

// RecordLLMRequest records one provider call.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, inputTokens, outputTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if inputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}

// RecordToolExecution records one tool invocation.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordPlanExecution records a plan reaching a terminal status.
func (m *Metrics) RecordPlanExecution(status string, durationSeconds float64) {
	m.PlanExecutionCounter.WithLabelValues(status).Inc()
	m.PlanDuration.Observe(durationSeconds)
}

// RecordPlanStep records one executed plan step.
func (m *Metrics) RecordPlanStep(stepType, status string) {
	m.PlanStepCounter.WithLabelValues(stepType, status).Inc()
}

// RecordSSEEvent counts one stream event write.
func (m *Metrics) RecordSSEEvent(event string) {
	m.SSEEventCounter.WithLabelValues(event).Inc()
}

// RecordApproval counts one approval gate outcome.
func (m *Metrics) RecordApproval(outcome string) {
	m.ApprovalCounter.WithLabelValues(outcome).Inc()
}

// RecordError increments the error counter for a component.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// RecordHTTPRequest records one API request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}
