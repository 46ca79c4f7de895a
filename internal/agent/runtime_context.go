package agent

import (
	"context"
	"strings"

	"github.com/ouro-ai-labs/ouro/pkg/models"
)

type systemPromptKey struct{}
type sessionKey struct{}
type runtimeOptsKey struct{}
type toolFilterKey struct{}
type subAgentDepthKey struct{}
type parallelExecuteAllowedKey struct{}
type messageIDKey struct{}

// MaxResponseTextSize caps accumulated assistant response text per turn (1MB),
// guarding against unbounded model output.
const MaxResponseTextSize = 1 << 20

// MaxToolCallsPerIteration caps tool calls returned in a single LLM turn.
const MaxToolCallsPerIteration = 100

// WithSession stores a session in the context.
func WithSession(ctx context.Context, session *models.Session) context.Context {
	if session == nil {
		return ctx
	}
	return context.WithValue(ctx, sessionKey{}, session)
}

// SessionFromContext retrieves the session from context.
func SessionFromContext(ctx context.Context) *models.Session {
	session, ok := ctx.Value(sessionKey{}).(*models.Session)
	if !ok {
		return nil
	}
	return session
}

// WithRuntimeOptions stores per-request runtime option overrides in the context.
func WithRuntimeOptions(ctx context.Context, opts RuntimeOptions) context.Context {
	return context.WithValue(ctx, runtimeOptsKey{}, opts)
}

func runtimeOptionsFromContext(ctx context.Context) (RuntimeOptions, bool) {
	opts, ok := ctx.Value(runtimeOptsKey{}).(RuntimeOptions)
	return opts, ok
}

// WithSystemPrompt stores a request-scoped system prompt override in the context.
func WithSystemPrompt(ctx context.Context, prompt string) context.Context {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ctx
	}
	return context.WithValue(ctx, systemPromptKey{}, prompt)
}

func systemPromptFromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(systemPromptKey{}).(string)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// WithToolFilter stores a sub-agent's tool_filter (an explicit allow list) in
// the context so the Tool Executor can narrow dispatch to it for the
// duration of a child inner loop.
func WithToolFilter(ctx context.Context, filter []string) context.Context {
	if len(filter) == 0 {
		return ctx
	}
	return context.WithValue(ctx, toolFilterKey{}, filter)
}

func toolFilterFromContext(ctx context.Context) ([]string, bool) {
	filter, ok := ctx.Value(toolFilterKey{}).([]string)
	return filter, ok
}

// WithSubAgentDepth records how many explore_context levels deep the
// current inner loop is nested (0 = root agent). Spec §4.6 caps nesting at
// depth 2 (root + one sub-level).
func WithSubAgentDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, subAgentDepthKey{}, depth)
}

func subAgentDepthFromContext(ctx context.Context) int {
	depth, _ := ctx.Value(subAgentDepthKey{}).(int)
	return depth
}

// withParallelExecuteForbidden marks ctx so a nested explore_context call
// cannot itself call parallel_execute (spec §4.6: explore_context children
// "MAY NOT call parallel_execute").
func withParallelExecuteForbidden(ctx context.Context) context.Context {
	return context.WithValue(ctx, parallelExecuteAllowedKey{}, false)
}

func parallelExecuteAllowed(ctx context.Context) bool {
	allowed, ok := ctx.Value(parallelExecuteAllowedKey{}).(bool)
	if !ok {
		return true
	}
	return allowed
}

// WithMessageID records the assistant message ID a DISPATCH batch's tool
// calls belong to, so a configured ToolEventStore can correlate persisted
// tool-call/result events back to the message that requested them.
func WithMessageID(ctx context.Context, messageID string) context.Context {
	if messageID == "" {
		return ctx
	}
	return context.WithValue(ctx, messageIDKey{}, messageID)
}

func messageIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(messageIDKey{}).(string)
	return id
}
