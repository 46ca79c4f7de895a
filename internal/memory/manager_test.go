package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/ouro-ai-labs/ouro/pkg/models"
)

type stubProvider struct{ calls int }

func (s *stubProvider) Summarize(ctx context.Context, messages []*models.Message, maxChars int) (string, error) {
	s.calls++
	var sb strings.Builder
	sb.WriteString("summary of ")
	for _, m := range messages {
		sb.WriteString(string(m.Role))
		sb.WriteString(" ")
	}
	return sb.String(), nil
}

func newTestManager(threshold int) (*Manager, *stubProvider) {
	provider := &stubProvider{}
	compressor := NewCompressor(provider, CompressorOptions{Strategy: StrategySlidingWindow, MaxChars: 500})
	opts := ManagerOptions{
		Buffer:               BufferOptions{MaxSize: 100, MinSize: 4},
		CompressionThreshold: threshold,
		Compressor:           compressor,
	}
	return New("sess-1", opts), provider
}

func TestAddMessageNeverSplitsToolPair(t *testing.T) {
	m, _ := newTestManager(1000000) // disable compression for this test
	ctx := context.Background()

	call := &models.Message{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "c1", Name: "calc"}}}
	result := &models.Message{Role: models.RoleTool, ToolResults: []models.ToolResult{{ToolCallID: "c1", Content: "4"}}}

	if err := m.AddMessage(ctx, call); err != nil {
		t.Fatal(err)
	}
	if err := m.AddMessage(ctx, result); err != nil {
		t.Fatal(err)
	}

	ctxMsgs := m.GetContextForLLM()
	assertWellFormedPairs(t, ctxMsgs)
}

func assertWellFormedPairs(t *testing.T, msgs []*models.Message) {
	t.Helper()
	var pending int
	for _, msg := range msgs {
		switch msg.Role {
		case models.RoleAssistant:
			pending = len(msg.ToolCalls)
		case models.RoleTool:
			if pending == 0 {
				t.Fatalf("tool message with no pending tool call: %+v", msg)
			}
			pending--
		}
	}
	if pending != 0 {
		t.Fatalf("dangling tool calls with no matching result: %d", pending)
	}
}

func TestCompressionReducesMessageCount(t *testing.T) {
	m, provider := newTestManager(1) // force compression on first trigger check
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		call := &models.Message{Role: models.RoleAssistant, Content: strings.Repeat("x", 100), ToolCalls: []models.ToolCall{{ID: "c", Name: "t"}}}
		if err := m.AddMessage(ctx, call); err != nil {
			t.Fatal(err)
		}
		result := &models.Message{Role: models.RoleTool, ToolResults: []models.ToolResult{{ToolCallID: "c", Content: "ok"}}}
		if err := m.AddMessage(ctx, result); err != nil {
			t.Fatal(err)
		}
	}

	stats := m.Stats()
	if stats.CompressionCount == 0 {
		t.Fatal("expected at least one compression pass")
	}
	if provider.calls == 0 {
		t.Fatal("expected the summary provider to be invoked")
	}

	session := m.Session()
	if session.Summary == nil {
		t.Fatal("expected an active summary after compression")
	}
	if session.Summary.OriginalMessageCount == 0 {
		t.Fatal("summary should record how many messages it covers")
	}

	assertWellFormedPairs(t, m.GetContextForLLM())
}

func TestTokenCountsMonotonic(t *testing.T) {
	m, _ := newTestManager(1000000)
	ctx := context.Background()

	var lastIn, lastOut int
	for i := 0; i < 5; i++ {
		if err := m.AddMessage(ctx, &models.Message{Role: models.RoleUser, Content: "hello there"}); err != nil {
			t.Fatal(err)
		}
		if err := m.AddMessage(ctx, &models.Message{Role: models.RoleAssistant, Content: "hi"}); err != nil {
			t.Fatal(err)
		}
		stats := m.Stats()
		if stats.TotalInputTokens < lastIn || stats.TotalOutputTokens < lastOut {
			t.Fatalf("token counts decreased: in=%d out=%d", stats.TotalInputTokens, stats.TotalOutputTokens)
		}
		lastIn, lastOut = stats.TotalInputTokens, stats.TotalOutputTokens
	}
}

type fakePersister struct {
	saved *models.Session
}

func (f *fakePersister) Save(ctx context.Context, s *models.Session) error {
	f.saved = s
	return nil
}

func TestSaveRoundTripsSession(t *testing.T) {
	m, _ := newTestManager(1000000)
	persister := &fakePersister{}
	m.persister = persister

	ctx := context.Background()
	if err := m.AddMessage(ctx, &models.Message{Role: models.RoleUser, Content: "hi"}); err != nil {
		t.Fatal(err)
	}
	if err := m.Save(ctx); err != nil {
		t.Fatal(err)
	}

	if persister.saved.ID != m.SessionID() {
		t.Fatalf("saved session id mismatch: %s vs %s", persister.saved.ID, m.SessionID())
	}
	if len(persister.saved.Messages) != 1 {
		t.Fatalf("expected 1 message in saved snapshot, got %d", len(persister.saved.Messages))
	}
}
