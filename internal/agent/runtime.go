package agent

import (
	"context"

	"github.com/ouro-ai-labs/ouro/internal/memory"
	"github.com/ouro-ai-labs/ouro/pkg/models"
)

// Runtime is the Runtime Controller: it owns a provider and tool registry
// shared across sessions, and wires them plus a per-session Memory Manager
// into an Inner Loop (interactive runs) or an Outer Loop (single-task,
// non-interactive runs). The cancellation token the spec describes is
// whatever ctx the caller passes to Process -- cmd/ouro wires a host
// keyboard-interrupt into ctx cancellation; Process and everything it calls
// treat ctx.Done() as the trip signal.
type Runtime struct {
	Provider LLMProvider
	Registry *ToolRegistry
	Options  RuntimeOptions
}

// NewRuntime builds a Runtime Controller over a provider and tool registry,
// applying defaults to any zero-valued options.
func NewRuntime(provider LLMProvider, registry *ToolRegistry, opts RuntimeOptions) *Runtime {
	opts = mergeRuntimeOptions(DefaultRuntimeOptions(), opts)
	return &Runtime{Provider: provider, Registry: registry, Options: opts}
}

// Process runs one task against mgr's session. Interactive runs execute
// only the Inner Loop (the Outer Loop is disabled per spec §4.8); single-task
// runs wrap it in the Outer Loop verifier, bounded at Options.MaxOuterIterations.
// The session is saved via mgr.Save before returning, regardless of outcome,
// so a cancelled or failed run still leaves durable state behind.
func (rt *Runtime) Process(ctx context.Context, mgr *memory.Manager, task string, interactive bool, onEvent func(models.AgentEvent)) (string, error) {
	executor := NewToolExecutor(rt.Registry, ToolExecConfig{
		Concurrency:    rt.Options.ToolParallelism,
		PerToolTimeout: rt.Options.ToolTimeout,
		EventStore:     rt.Options.EventStore,
		ResultGuard:    rt.Options.ToolResultGuard,
		Metrics:        rt.Options.Metrics,
		Tracer:         rt.Options.Tracer,
	})

	inner := &InnerLoop{
		Provider:    rt.Provider,
		Registry:    rt.Registry,
		Executor:    executor,
		Memory:      mgr,
		Options:     rt.Options,
		ResultGuard: rt.Options.ToolResultGuard,
		OnEvent:     onEvent,
	}

	var (
		result string
		runErr error
	)

	if interactive {
		result, runErr = inner.Run(ctx, task)
	} else {
		outer := &OuterLoop{
			Inner:    inner,
			Verifier: &ModelVerifier{Provider: rt.Provider},
			MaxOuter: rt.Options.MaxOuterIterations,
			Metrics:  rt.Options.Metrics,
		}
		result, runErr = outer.Run(ctx, task)
	}

	if saveErr := mgr.Save(context.WithoutCancel(ctx)); saveErr != nil && runErr == nil {
		return result, saveErr
	}
	return result, runErr
}

// NewSubAgentInnerLoop builds the InnerLoop a sub-agent task runs in: the
// same provider and a fresh, snapshotted Memory Manager so the child never
// mutates the parent's buffer, narrowed to allowedTools per the spawner's
// tool_filter contract (§4.6).
func (rt *Runtime) NewSubAgentInnerLoop(mgr *memory.Manager, allowedTools []string, onEvent func(models.AgentEvent)) *InnerLoop {
	executor := NewToolExecutor(rt.Registry, ToolExecConfig{
		Concurrency:    rt.Options.ToolParallelism,
		PerToolTimeout: rt.Options.ToolTimeout,
		EventStore:     rt.Options.EventStore,
		ResultGuard:    rt.Options.ToolResultGuard,
		Metrics:        rt.Options.Metrics,
		Tracer:         rt.Options.Tracer,
	})
	return &InnerLoop{
		Provider:    rt.Provider,
		Registry:    rt.Registry,
		Executor:    executor,
		Memory:      mgr,
		Options:     rt.Options,
		ToolFilter:  allowedTools,
		ResultGuard: rt.Options.ToolResultGuard,
		OnEvent:     onEvent,
	}
}
