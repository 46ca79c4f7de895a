package agent

import (
	"log/slog"
	"time"

	"github.com/ouro-ai-labs/ouro/internal/observability"
)

// RuntimeOptions configures loop and tool-execution behavior.
type RuntimeOptions struct {
	// MaxInnerIterations caps ReAct iterations within a single inner loop
	// before it is forced to stop with a max_iterations error.
	MaxInnerIterations int

	// MaxOuterIterations caps outer verifier loop re-entries (the Ralph loop).
	MaxOuterIterations int

	// ToolParallelism caps concurrent tool execution within one DISPATCH step.
	ToolParallelism int

	// ToolTimeout applies a default deadline to each tool call.
	ToolTimeout time.Duration

	// MaxSubAgents caps concurrently running sub-agents across the task.
	MaxSubAgents int

	// MaxSubAgentDepth caps explore_context nesting (spec: one extra level).
	MaxSubAgentDepth int

	// EventStore persists tool-call/result pairs for audit and replay.
	// Optional; nil disables audit persistence.
	EventStore ToolEventStore

	// ToolResultGuard redacts tool results before persistence.
	ToolResultGuard ToolResultGuard

	// Logger receives runtime diagnostics.
	Logger *slog.Logger

	// Metrics, set non-nil, receives Prometheus counters/histograms for
	// loop iterations, tool executions, and sub-agent spawns. Nil disables
	// instrumentation entirely.
	Metrics *observability.Metrics

	// Tracer, set non-nil, wraps each inner-loop iteration, tool execution,
	// and sub-agent spawn in an OTEL span. Nil disables tracing entirely.
	Tracer *observability.Tracer
}

// DefaultRuntimeOptions returns the baseline runtime options.
func DefaultRuntimeOptions() RuntimeOptions {
	return RuntimeOptions{
		MaxInnerIterations: 25,
		MaxOuterIterations: 3,
		ToolParallelism:    4,
		ToolTimeout:        30 * time.Second,
		MaxSubAgents:       3,
		MaxSubAgentDepth:   1,
		Logger:             slog.Default(),
	}
}

func mergeRuntimeOptions(base RuntimeOptions, override RuntimeOptions) RuntimeOptions {
	merged := base
	if override.MaxInnerIterations > 0 {
		merged.MaxInnerIterations = override.MaxInnerIterations
	}
	if override.MaxOuterIterations > 0 {
		merged.MaxOuterIterations = override.MaxOuterIterations
	}
	if override.ToolParallelism > 0 {
		merged.ToolParallelism = override.ToolParallelism
	}
	if override.ToolTimeout > 0 {
		merged.ToolTimeout = override.ToolTimeout
	}
	if override.MaxSubAgents > 0 {
		merged.MaxSubAgents = override.MaxSubAgents
	}
	if override.MaxSubAgentDepth > 0 {
		merged.MaxSubAgentDepth = override.MaxSubAgentDepth
	}
	if override.EventStore != nil {
		merged.EventStore = override.EventStore
	}
	if override.ToolResultGuard.active() {
		merged.ToolResultGuard = override.ToolResultGuard
	}
	if override.Logger != nil {
		merged.Logger = override.Logger
	}
	if override.Metrics != nil {
		merged.Metrics = override.Metrics
	}
	if override.Tracer != nil {
		merged.Tracer = override.Tracer
	}
	return merged
}
