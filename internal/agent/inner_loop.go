package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/ouro-ai-labs/ouro/internal/memory"
	"github.com/ouro-ai-labs/ouro/pkg/models"
)

// iterationOutcome is what one BUILD->LLM_CALL->DISPATCH->APPEND pass of the
// inner loop produced: either a terminal result (done=true) or a signal to
// keep looping.
type iterationOutcome struct {
	result string
	done   bool
}

// InnerLoop runs the ReAct state machine (BUILD -> LLM_CALL -> DISPATCH ->
// APPEND -> STOP) against one Memory Manager until the model stops asking
// for tools, the iteration cap is hit, or ctx is cancelled.
type InnerLoop struct {
	Provider  LLMProvider
	Registry  *ToolRegistry
	Executor  *ToolExecutor
	Memory    *memory.Manager
	Options   RuntimeOptions
	ToolFilter []string // narrows Registry.Tools/Descriptors for a sub-agent
	ResultGuard ToolResultGuard // redacts/truncates tool results before persistence
	OnEvent   func(models.AgentEvent)
}

// Run executes the inner loop and returns the assistant's final text result.
// A FatalError is returned for max_iterations and cancellation; tool errors
// never surface here -- they are appended as tool results and the loop
// continues.
func (l *InnerLoop) Run(ctx context.Context, task string) (string, error) {
	if task != "" {
		if err := l.Memory.AddMessage(ctx, &models.Message{
			ID:        uuid.NewString(),
			SessionID: l.Memory.SessionID(),
			Role:      models.RoleUser,
			Content:   task,
			CreatedAt: time.Now(),
		}); err != nil {
			return "", err
		}
	}

	l.Memory.SetToolSchemas(l.Registry.Descriptors(l.ToolFilter))

	maxIterations := l.Options.MaxInnerIterations
	if maxIterations <= 0 {
		maxIterations = DefaultRuntimeOptions().MaxInnerIterations
	}

	for iter := 0; iter < maxIterations; iter++ {
		if ctx.Err() != nil {
			l.Memory.RepairUnanswered()
			return "", NewFatalError(FatalCancelled, ctx.Err())
		}

		outcome, err := l.runIteration(ctx, iter)
		if err != nil {
			return "", err
		}
		if outcome.done {
			return outcome.result, nil
		}

		if ctx.Err() != nil {
			l.Memory.RepairUnanswered()
			return "", NewFatalError(FatalCancelled, ctx.Err())
		}
	}

	return "", NewFatalError(FatalMaxIterations, fmt.Errorf("exceeded %d inner loop iterations", maxIterations))
}

// runIteration runs one BUILD->LLM_CALL->DISPATCH->APPEND pass. Its OTEL
// span, when Options.Tracer is set, spans exactly this one iteration --
// kept in its own function so the span's defer scopes correctly rather than
// accumulating across every iteration of the enclosing Run loop.
func (l *InnerLoop) runIteration(ctx context.Context, iter int) (iterationOutcome, error) {
	if l.Options.Tracer != nil {
		var span trace.Span
		ctx, span = l.Options.Tracer.Start(ctx, "inner_loop.iteration")
		defer span.End()
	}

	l.emit(models.AgentEvent{Type: models.AgentEventIterStarted, IterIndex: iter})
	if l.Options.Metrics != nil {
		l.Options.Metrics.LoopIterations.WithLabelValues("inner").Inc()
	}

	// BUILD
	llmContext := l.Memory.GetContextForLLM()
	req := &CompletionRequest{
		System:   systemPromptOf(ctx),
		Messages: toCompletionMessages(llmContext),
		Tools:    l.Registry.Tools(l.ToolFilter),
	}

	// LLM_CALL
	text, reasoning, toolCalls, err := l.callModel(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			l.Memory.RepairUnanswered()
			return iterationOutcome{}, NewFatalError(FatalCancelled, ctx.Err())
		}
		return iterationOutcome{}, NewFatalError(FatalRateLimited, err)
	}

	if len(toolCalls) > MaxToolCallsPerIteration {
		toolCalls = toolCalls[:MaxToolCallsPerIteration]
	}

	assistantMsg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: l.Memory.SessionID(),
		Role:      models.RoleAssistant,
		Content:   text,
		ToolCalls: toolCalls,
		Reasoning: reasoning,
		CreatedAt: time.Now(),
	}
	if err := l.Memory.AddMessage(ctx, assistantMsg); err != nil {
		return iterationOutcome{}, err
	}

	if len(toolCalls) == 0 {
		// No tool calls: termination, whether or not text is empty
		// (spec 4.7 edge case: no text and no tool calls is termination
		// with an empty result).
		l.emit(models.AgentEvent{Type: models.AgentEventIterFinished, IterIndex: iter})
		return iterationOutcome{result: text, done: true}, nil
	}

	// DISPATCH: serial, declared order (spec 4.5). Tools that spawn
	// sub-agents (explore_context/parallel_execute) read the parent
	// session snapshot via SessionFromContext.
	dispatchCtx := WithMessageID(WithSession(ctx, l.Memory.Session()), assistantMsg.ID)
	results := l.Executor.ExecuteSerial(dispatchCtx, toolCalls, l.toolEventCallback())

	// APPEND. Results are redacted/truncated via ResultGuard before they
	// are persisted -- a secret a tool leaked into its output must not
	// linger in the session transcript that future LLM_CALL steps read.
	toolResults := make([]models.ToolResult, 0, len(results))
	for _, r := range results {
		toolResults = append(toolResults, l.ResultGuard.Apply(r.ToolName, r.AsToolResult()))
	}
	toolMsg := &models.Message{
		ID:          uuid.NewString(),
		SessionID:   l.Memory.SessionID(),
		Role:        models.RoleTool,
		ToolResults: toolResults,
		CreatedAt:   time.Now(),
	}
	if err := l.Memory.AddMessage(ctx, toolMsg); err != nil {
		return iterationOutcome{}, err
	}

	l.emit(models.AgentEvent{Type: models.AgentEventIterFinished, IterIndex: iter})

	return iterationOutcome{}, nil
}

// callModel drains the provider's streaming channel into an accumulated
// text/reasoning/tool-call result for one LLM_CALL step.
func (l *InnerLoop) callModel(ctx context.Context, req *CompletionRequest) (text, reasoning string, calls []models.ToolCall, err error) {
	chunks, err := l.Provider.Complete(ctx, req)
	if err != nil {
		return "", "", nil, err
	}

	var textBuf, reasoningBuf []byte
	for chunk := range chunks {
		if chunk == nil {
			continue
		}
		if chunk.Error != nil {
			return "", "", nil, chunk.Error
		}
		if chunk.Thinking != "" {
			reasoningBuf = append(reasoningBuf, chunk.Thinking...)
		}
		if chunk.Text != "" {
			textBuf = append(textBuf, chunk.Text...)
			if len(textBuf) > MaxResponseTextSize {
				textBuf = textBuf[:MaxResponseTextSize]
			}
		}
		if chunk.ToolCall != nil {
			calls = append(calls, *chunk.ToolCall)
		}
		if chunk.Done {
			break
		}
	}

	return string(textBuf), string(reasoningBuf), calls, nil
}

func (l *InnerLoop) toolEventCallback() ToolEventCallback {
	if l.OnEvent == nil {
		return nil
	}
	return func(ev models.ToolEvent) {
		l.emit(models.AgentEvent{
			Type: toolStageToAgentEventType(ev.Stage),
			Tool: &models.ToolEventPayload{
				CallID: ev.ToolCallID,
				Name:   ev.ToolName,
				Chunk:  ev.Output,
			},
		})
	}
}

func toolStageToAgentEventType(stage models.ToolEventStage) models.AgentEventType {
	switch stage {
	case models.ToolEventStarted, models.ToolEventRetrying:
		return models.AgentEventToolStarted
	case models.ToolEventTimedOut:
		return models.AgentEventToolTimedOut
	default:
		return models.AgentEventToolFinished
	}
}

func (l *InnerLoop) emit(ev models.AgentEvent) {
	if l.OnEvent == nil {
		return
	}
	ev.Version = 1
	ev.Time = time.Now()
	l.OnEvent(ev)
}

// toCompletionMessages projects Memory Manager context into the
// provider-facing wire shape.
func toCompletionMessages(msgs []*models.Message) []CompletionMessage {
	out := make([]CompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		out = append(out, CompletionMessage{
			Role:        string(m.Role),
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
		})
	}
	return out
}

func systemPromptOf(ctx context.Context) string {
	prompt, _ := systemPromptFromContext(ctx)
	return prompt
}
