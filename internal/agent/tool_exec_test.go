package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ouro-ai-labs/ouro/pkg/models"
)

type fakeTool struct {
	name    string
	calls   int
	failFor int // fail this many attempts before succeeding
}

func (f *fakeTool) Name() string             { return f.name }
func (f *fakeTool) Description() string      { return "fake" }
func (f *fakeTool) Schema() json.RawMessage  { return json.RawMessage(`{"type":"object"}`) }
func (f *fakeTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	f.calls++
	if f.calls <= f.failFor {
		return &ToolResult{Content: "boom", IsError: true}, nil
	}
	return &ToolResult{Content: "ok"}, nil
}

func TestExecuteUnknownToolDoesNotAbortLoop(t *testing.T) {
	registry := NewToolRegistry()
	exec := NewToolExecutor(registry, DefaultToolExecConfig())

	results := exec.ExecuteConcurrently(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "mytool"},
	}, nil)

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Status != models.ToolStatusError {
		t.Fatalf("expected error status, got %q", results[0].Status)
	}
}

// TestExecuteDoesNotRetryToolFailures pins spec §7's outcome taxonomy: a
// failing tool call is appended as a tool result and the loop continues
// past it on the next turn -- it is never retried by the Tool Executor.
// Only rate_limited is retried with backoff, and that is an LLM-adapter
// concern (spec §4.7) that never reaches the Tool Executor as a
// ToolCallResult at all.
func TestExecuteDoesNotRetryToolFailures(t *testing.T) {
	registry := NewToolRegistry()
	tool := &fakeTool{name: "flaky", failFor: 2}
	registry.Register(tool)

	exec := NewToolExecutor(registry, DefaultToolExecConfig())

	results := exec.ExecuteConcurrently(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "flaky"},
	}, nil)

	if results[0].Status != models.ToolStatusError {
		t.Fatalf("expected a single failed attempt to surface as an error result, got %q", results[0].Status)
	}
	if tool.calls != 1 {
		t.Fatalf("expected exactly 1 attempt, got %d", tool.calls)
	}
}

func TestExecuteSerialSkipsWhenAlreadyCancelled(t *testing.T) {
	registry := NewToolRegistry()
	tool := &fakeTool{name: "slow"}
	registry.Register(tool)

	exec := NewToolExecutor(registry, DefaultToolExecConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := exec.ExecuteSerial(ctx, []models.ToolCall{{ID: "c1", Name: "slow"}}, nil)

	if results[0].Status != models.ToolStatusCancelled {
		t.Fatalf("expected cancelled status, got %q", results[0].Status)
	}
	if tool.calls != 0 {
		t.Fatalf("expected the call to never dispatch once ctx was already cancelled, got %d calls", tool.calls)
	}
}

type recordingEventStore struct {
	calls   []models.ToolCall
	results []models.ToolResult
}

func (r *recordingEventStore) AddToolCall(ctx context.Context, sessionID, messageID string, call *models.ToolCall) error {
	r.calls = append(r.calls, *call)
	return nil
}

func (r *recordingEventStore) AddToolResult(ctx context.Context, sessionID, messageID string, call *models.ToolCall, result *models.ToolResult) error {
	r.results = append(r.results, *result)
	return nil
}

func TestEventStoreRecordsCallAndResult(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&fakeTool{name: "audited"})

	store := &recordingEventStore{}
	cfg := DefaultToolExecConfig()
	cfg.EventStore = store
	exec := NewToolExecutor(registry, cfg)

	ctx := WithSession(context.Background(), &models.Session{ID: "session-1"})
	results := exec.ExecuteSerial(ctx, []models.ToolCall{{ID: "c1", Name: "audited"}}, nil)

	if results[0].Status != models.ToolStatusOK {
		t.Fatalf("expected success, got %q", results[0].Status)
	}
	if len(store.calls) != 1 || store.calls[0].ID != "c1" {
		t.Fatalf("expected one recorded call for c1, got %+v", store.calls)
	}
	if len(store.results) != 1 || store.results[0].ToolCallID != "c1" {
		t.Fatalf("expected one recorded result for c1, got %+v", store.results)
	}
}

func TestEventStoreUnsetDoesNothing(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&fakeTool{name: "unaudited"})
	exec := NewToolExecutor(registry, DefaultToolExecConfig())

	results := exec.ExecuteSerial(context.Background(), []models.ToolCall{{ID: "c1", Name: "unaudited"}}, nil)
	if results[0].Status != models.ToolStatusOK {
		t.Fatalf("expected success, got %q", results[0].Status)
	}
}

func TestConcurrencyBound(t *testing.T) {
	registry := NewToolRegistry()
	tool := &fakeTool{name: "slow"}
	registry.Register(tool)

	cfg := DefaultToolExecConfig()
	cfg.Concurrency = 2
	exec := NewToolExecutor(registry, cfg)

	calls := make([]models.ToolCall, 5)
	for i := range calls {
		calls[i] = models.ToolCall{ID: "c", Name: "slow"}
	}

	results := exec.ExecuteConcurrently(context.Background(), calls, nil)
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Status != models.ToolStatusOK {
			t.Fatalf("unexpected status %q", r.Status)
		}
	}
}
