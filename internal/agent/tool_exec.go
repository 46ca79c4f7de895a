package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ouro-ai-labs/ouro/internal/observability"
	"github.com/ouro-ai-labs/ouro/pkg/models"
)

// ToolExecConfig configures tool execution concurrency and timeouts.
type ToolExecConfig struct {
	// Concurrency is the maximum number of concurrent tool executions
	// within one DISPATCH step.
	Concurrency int

	// PerToolTimeout bounds a single attempt of a single tool call.
	PerToolTimeout time.Duration

	// EventStore persists each tool call and its final result for audit and
	// replay, when configured. Nil disables persistence entirely.
	EventStore ToolEventStore

	// ResultGuard redacts/truncates a result before it is handed to
	// EventStore, so an audited record never carries a secret a tool
	// leaked into its output.
	ResultGuard ToolResultGuard

	// Metrics, set non-nil, receives a counter increment and duration
	// observation per dispatched call. Nil disables instrumentation.
	Metrics *observability.Metrics

	// Tracer, set non-nil, wraps each dispatched call in an OTEL span. Nil
	// disables tracing.
	Tracer *observability.Tracer
}

// DefaultToolExecConfig mirrors RuntimeOptions' defaults.
func DefaultToolExecConfig() ToolExecConfig {
	return ToolExecConfig{
		Concurrency:    4,
		PerToolTimeout: 30 * time.Second,
	}
}

// ToolExecutor dispatches a batch of tool calls from one assistant turn
// with bounded nested parallelism and a per-call timeout. A tool call is
// attempted exactly once: per spec §7's outcome taxonomy, every non-OK
// status (unknown_tool, invalid_arguments, tool_crashed, timeout) is
// appended as a tool result and the loop continues past it, never retried
// here. Retry-with-backoff is reserved for rate_limited, which is an
// LLM-adapter-level concern the provider adapters handle internally (spec
// §4.7) and never surfaces as a ToolCallResult at all.
type ToolExecutor struct {
	registry *ToolRegistry
	config   ToolExecConfig
}

// NewToolExecutor builds a ToolExecutor over registry, applying defaults to
// any zero-valued config fields.
func NewToolExecutor(registry *ToolRegistry, config ToolExecConfig) *ToolExecutor {
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.PerToolTimeout <= 0 {
		config.PerToolTimeout = 30 * time.Second
	}
	return &ToolExecutor{registry: registry, config: config}
}

// ToolEventCallback receives lifecycle events during a dispatch batch; it
// must never block, since it is invoked from each call's own goroutine.
type ToolEventCallback func(models.ToolEvent)

// ExecuteConcurrently runs toolCalls with bounded parallelism, returning
// results in the same order as the input. Each call is attempted exactly
// once (see ToolExecutor's doc comment); cancellation while waiting for a
// concurrency slot short-circuits to a cancelled result without dispatching
// the call at all.
func (e *ToolExecutor) ExecuteConcurrently(ctx context.Context, calls []models.ToolCall, emit ToolEventCallback) []models.ToolCallResult {
	results := make([]models.ToolCallResult, len(calls))

	sem := make(chan struct{}, e.config.Concurrency)
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(idx int, call models.ToolCall) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = models.ToolCallResult{
					CallID: call.ID, ToolName: call.Name,
					Status: models.ToolStatusCancelled, Payload: "cancelled",
				}
				return
			}

			results[idx] = e.executeOnce(ctx, call, emit)
		}(i, call)
	}

	wg.Wait()
	return results
}

// ExecuteSerial runs toolCalls one at a time in declared order, the default
// dispatch mode for an ordinary assistant turn (spec: "within a single
// assistant turn that emits N tool calls, default execution is serial in
// the declared order"). Bounded concurrency is reserved for the Sub-Agent
// Spawner's explore_context/parallel_execute, which call ExecuteConcurrently
// directly.
func (e *ToolExecutor) ExecuteSerial(ctx context.Context, calls []models.ToolCall, emit ToolEventCallback) []models.ToolCallResult {
	results := make([]models.ToolCallResult, len(calls))
	for i, call := range calls {
		if ctx.Err() != nil {
			results[i] = models.ToolCallResult{CallID: call.ID, ToolName: call.Name, Status: models.ToolStatusCancelled, Payload: "cancelled"}
			continue
		}
		results[i] = e.executeOnce(ctx, call, emit)
	}
	return results
}

// executeOnce dispatches call a single time and classifies the outcome.
// Per spec §7, unknown_tool/invalid_arguments/tool_crashed/timeout are all
// terminal here -- they are appended as a tool result and the loop
// continues past them on the next turn, never retried by the Tool
// Executor itself.
func (e *ToolExecutor) executeOnce(ctx context.Context, call models.ToolCall, emit ToolEventCallback) models.ToolCallResult {
	start := time.Now()

	if e.config.Tracer != nil {
		var span trace.Span
		ctx, span = e.config.Tracer.TraceToolExecution(ctx, call.Name)
		defer span.End()
	}

	e.recordToolCall(ctx, call)

	e.emitEvent(emit, models.ToolEvent{ToolCallID: call.ID, ToolName: call.Name, Stage: models.ToolEventStarted, Attempt: 1})

	attemptCtx, cancel := context.WithTimeout(ctx, e.config.PerToolTimeout)
	result := e.registry.Execute(attemptCtx, call)
	timedOut := attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil
	cancel()

	if timedOut {
		result.Status = models.ToolStatusTimeout
		result.Payload = "timeout after " + e.config.PerToolTimeout.String()
	}

	result.Duration = time.Since(start)

	stage := models.ToolEventSucceeded
	switch result.Status {
	case models.ToolStatusTimeout:
		stage = models.ToolEventTimedOut
	case models.ToolStatusCancelled:
		stage = models.ToolEventCancelled
	case models.ToolStatusError:
		stage = models.ToolEventFailed
	}
	e.emitEvent(emit, models.ToolEvent{ToolCallID: call.ID, ToolName: call.Name, Stage: stage, Output: result.Payload})
	e.recordToolResult(ctx, call, result)

	if e.config.Metrics != nil {
		e.config.Metrics.ToolExecutionCounter.WithLabelValues(call.Name, string(result.Status)).Inc()
		e.config.Metrics.ToolExecutionDuration.WithLabelValues(call.Name).Observe(result.Duration.Seconds())
	}

	return result
}

func (e *ToolExecutor) emitEvent(emit ToolEventCallback, event models.ToolEvent) {
	if emit == nil {
		return
	}
	emit(event)
}

// recordToolCall and recordToolResult persist audit events via the
// configured ToolEventStore, when set, using the session/message IDs the
// dispatching InnerLoop attached to ctx. Persistence failures are logged
// and never surface to the caller -- auditing is best-effort and must not
// perturb tool execution itself.
func (e *ToolExecutor) recordToolCall(ctx context.Context, call models.ToolCall) {
	if e.config.EventStore == nil {
		return
	}
	session := SessionFromContext(ctx)
	if session == nil {
		return
	}
	callCopy := call
	if err := e.config.EventStore.AddToolCall(ctx, session.ID, messageIDFromContext(ctx), &callCopy); err != nil {
		slog.Default().Warn("tool_exec: audit_failed recording tool call", "tool", call.Name, "error", err)
	}
}

func (e *ToolExecutor) recordToolResult(ctx context.Context, call models.ToolCall, result models.ToolCallResult) {
	if e.config.EventStore == nil {
		return
	}
	session := SessionFromContext(ctx)
	if session == nil {
		return
	}
	callCopy := call
	toolResult := e.config.ResultGuard.Apply(call.Name, result.AsToolResult())
	if err := e.config.EventStore.AddToolResult(ctx, session.ID, messageIDFromContext(ctx), &callCopy, &toolResult); err != nil {
		slog.Default().Warn("tool_exec: audit_failed recording tool result", "tool", call.Name, "error", err)
	}
}
