package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics centralizes the Prometheus collectors the agent runtime exposes.
//
// Usage:
//
//	m := observability.NewMetrics()
//	m.LoopIterations.WithLabelValues("inner").Inc()
//	defer m.ToolExecutionDuration.WithLabelValues("calculate").Observe(time.Since(start).Seconds())
type Metrics struct {
	// LoopIterations counts inner/outer loop iterations by loop kind.
	// Labels: loop (inner|outer)
	LoopIterations *prometheus.CounterVec

	// LLMRequestDuration measures LLM completion latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider, model, and status.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (input|output)
	LLMTokensUsed *prometheus.CounterVec

	// LLMCostUSD tracks estimated cost in USD.
	// Labels: provider, model
	LLMCostUSD *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations by name and outcome status.
	// Labels: tool_name, status (ok|error|timeout|cancelled)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// CompressionEvents counts compression runs by strategy and outcome.
	// Labels: strategy, outcome (ok|failed)
	CompressionEvents *prometheus.CounterVec

	// SubAgentsSpawned counts sub-agent spawns by capability and outcome.
	// Labels: capability (explore_context|parallel_execute), outcome
	SubAgentsSpawned *prometheus.CounterVec

	// ActiveSessions is a gauge of sessions currently resident in memory.
	ActiveSessions prometheus.Gauge
}

// NewMetrics registers and returns the runtime's Prometheus collectors.
// Call once at process startup.
func NewMetrics() *Metrics {
	return &Metrics{
		LoopIterations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ouro_loop_iterations_total",
				Help: "Total number of agent loop iterations by loop kind.",
			},
			[]string{"loop"},
		),
		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ouro_llm_request_duration_seconds",
				Help:    "Duration of LLM completion requests in seconds.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ouro_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status.",
			},
			[]string{"provider", "model", "status"},
		),
		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ouro_llm_tokens_total",
				Help: "Total tokens accounted for by provider, model, and direction.",
			},
			[]string{"provider", "model", "type"},
		),
		LLMCostUSD: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ouro_llm_cost_usd_total",
				Help: "Estimated cumulative LLM cost in USD by provider and model.",
			},
			[]string{"provider", "model"},
		),
		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ouro_tool_executions_total",
				Help: "Total tool executions by tool name and outcome status.",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ouro_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		CompressionEvents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ouro_compression_events_total",
				Help: "Total memory compression runs by strategy and outcome.",
			},
			[]string{"strategy", "outcome"},
		),
		SubAgentsSpawned: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ouro_subagents_spawned_total",
				Help: "Total sub-agents spawned by capability and outcome.",
			},
			[]string{"capability", "outcome"},
		),
		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ouro_active_sessions",
				Help: "Number of sessions currently resident in memory.",
			},
		),
	}
}
