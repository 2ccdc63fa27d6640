package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides a centralized interface for collecting runtime metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - RPC request throughput and latency per method
//   - Tool execution patterns and latencies
//   - Authorization decisions by outcome
//   - Active session counts for capacity planning
type Metrics struct {
	// RPCRequestCounter counts inbound RPC requests.
	// Labels: method, status (ok|error)
	RPCRequestCounter *prometheus.CounterVec

	// RPCRequestDuration measures request handling latency in seconds.
	// Labels: method
	RPCRequestDuration *prometheus.HistogramVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool, status (success|error|denied)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// AuthzDecisionCounter counts authorization outcomes.
	// Labels: operation (list|execute), outcome (allow|deny|error)
	AuthzDecisionCounter *prometheus.CounterVec

	// ActiveSessions is a gauge tracking currently active sessions.
	// Labels: transport (stdio|http)
	ActiveSessions *prometheus.GaugeVec

	// NotificationCounter counts outbound notifications.
	// Labels: method
	NotificationCounter *prometheus.CounterVec
}

// NewMetrics creates the metric set on its own registry so tests can hold
// multiple instances without duplicate-registration panics.
func NewMetrics() (*Metrics, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		RPCRequestCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpd_rpc_requests_total",
			Help: "Inbound RPC requests by method and status.",
		}, []string{"method", "status"}),

		RPCRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcpd_rpc_request_duration_seconds",
			Help:    "RPC request handling latency.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"method"}),

		ToolExecutionCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpd_tool_executions_total",
			Help: "Tool invocations by tool and status.",
		}, []string{"tool", "status"}),

		ToolExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcpd_tool_execution_duration_seconds",
			Help:    "Tool execution time.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool"}),

		AuthzDecisionCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpd_authz_decisions_total",
			Help: "Authorization decisions by operation and outcome.",
		}, []string{"operation", "outcome"}),

		ActiveSessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mcpd_active_sessions",
			Help: "Currently active sessions.",
		}, []string{"transport"}),

		NotificationCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpd_notifications_total",
			Help: "Outbound notifications by method.",
		}, []string{"method"}),
	}

	registry.MustRegister(
		m.RPCRequestCounter,
		m.RPCRequestDuration,
		m.ToolExecutionCounter,
		m.ToolExecutionDuration,
		m.AuthzDecisionCounter,
		m.ActiveSessions,
		m.NotificationCounter,
	)
	return m, registry
}
