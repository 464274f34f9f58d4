package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the service. All recording
// methods are safe to call on a nil *Metrics.
type Metrics struct {
	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, route, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP handler latency in seconds.
	// Labels: method, route
	HTTPRequestDuration *prometheus.HistogramVec

	// ActiveStreams tracks open event streams (SSE and WebSocket).
	ActiveStreams prometheus.Gauge

	// LLMRequestCounter counts provider calls.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMRequestDuration measures provider call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRetries counts retried provider calls.
	// Labels: provider, reason
	LLMRetries *prometheus.CounterVec

	// ProviderFailovers counts same-turn switches to the secondary provider.
	// Labels: from, to
	ProviderFailovers *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// ApprovalsPending tracks paused turns awaiting a decision.
	ApprovalsPending prometheus.Gauge

	// ApprovalDecisions counts approval outcomes.
	// Labels: decision (requested|approved|rejected|expired)
	ApprovalDecisions *prometheus.CounterVec

	// ResolverRequests counts external value resolutions.
	// Labels: source, status (success|error)
	ResolverRequests *prometheus.CounterVec

	// TurnsCompleted counts finished turns by terminal state.
	// Labels: state (done|awaiting_approval|error)
	TurnsCompleted *prometheus.CounterVec
}

// NewMetrics creates all collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HTTPRequestCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tariti_http_requests_total",
			Help: "Total number of HTTP requests by method, route, and status code",
		}, []string{"method", "route", "status_code"}),

		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tariti_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		}, []string{"method", "route"}),

		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tariti_active_streams",
			Help: "Number of open event streams",
		}),

		LLMRequestCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tariti_llm_requests_total",
			Help: "Total number of LLM requests by provider, model, and status",
		}, []string{"provider", "model", "status"}),

		LLMRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tariti_llm_request_duration_seconds",
			Help:    "Duration of LLM streaming requests in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"provider", "model"}),

		LLMRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tariti_llm_retries_total",
			Help: "Total number of retried LLM requests by provider and failure reason",
		}, []string{"provider", "reason"}),

		ProviderFailovers: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tariti_provider_failovers_total",
			Help: "Total number of same-turn provider failovers",
		}, []string{"from", "to"}),

		ToolExecutionCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tariti_tool_executions_total",
			Help: "Total number of tool executions by tool and status",
		}, []string{"tool_name", "status"}),

		ToolExecutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tariti_tool_execution_duration_seconds",
			Help:    "Duration of tool executions in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"tool_name"}),

		ApprovalsPending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tariti_approvals_pending",
			Help: "Number of paused turns awaiting approval",
		}),

		ApprovalDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tariti_approval_decisions_total",
			Help: "Total number of approval lifecycle events by decision",
		}, []string{"decision"}),

		ResolverRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tariti_resolver_requests_total",
			Help: "Total number of external value resolutions by source and status",
		}, []string{"source", "status"}),

		TurnsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tariti_turns_total",
			Help: "Total number of agent turns by terminal state",
		}, []string{"state"}),
	}
}

func statusLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records a completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestCounter.WithLabelValues(method, route, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(durationSeconds)
}

// StreamOpened increments the active stream gauge and returns its release.
func (m *Metrics) StreamOpened() func() {
	if m == nil {
		return func() {}
	}
	m.ActiveStreams.Inc()
	return m.ActiveStreams.Dec
}

// RecordLLMRequest records a provider call.
func (m *Metrics) RecordLLMRequest(provider, model string, ok bool, durationSeconds float64) {
	if m == nil {
		return
	}
	m.LLMRequestCounter.WithLabelValues(provider, model, statusLabel(ok)).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
}

// RecordLLMRetry records a retried provider call.
func (m *Metrics) RecordLLMRetry(provider, reason string) {
	if m == nil {
		return
	}
	m.LLMRetries.WithLabelValues(provider, reason).Inc()
}

// RecordFailover records a switch from one provider to another.
func (m *Metrics) RecordFailover(from, to string) {
	if m == nil {
		return
	}
	m.ProviderFailovers.WithLabelValues(from, to).Inc()
}

// RecordToolExecution records a tool call.
func (m *Metrics) RecordToolExecution(toolName string, ok bool, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(toolName, statusLabel(ok)).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordApproval records an approval lifecycle event and adjusts the pending gauge.
func (m *Metrics) RecordApproval(decision string) {
	if m == nil {
		return
	}
	m.ApprovalDecisions.WithLabelValues(decision).Inc()
	if decision == "requested" {
		m.ApprovalsPending.Inc()
	} else {
		m.ApprovalsPending.Dec()
	}
}

// RecordResolve records an external value resolution.
func (m *Metrics) RecordResolve(source string, ok bool) {
	if m == nil {
		return
	}
	if source == "" {
		source = "unknown"
	}
	m.ResolverRequests.WithLabelValues(source, statusLabel(ok)).Inc()
}

// RecordTurn records the terminal state of a turn.
func (m *Metrics) RecordTurn(state string) {
	if m == nil {
		return
	}
	m.TurnsCompleted.WithLabelValues(state).Inc()
}
