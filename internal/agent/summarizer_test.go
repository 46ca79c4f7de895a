package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/ouro-ai-labs/ouro/pkg/models"
)

func TestLLMSummarizerTruncatesAtMaxChars(t *testing.T) {
	summarizer := &LLMSummarizer{
		Provider: &stubProvider{reply: func(req *CompletionRequest) string {
			return strings.Repeat("x", 100)
		}},
	}

	out, err := summarizer.Summarize(context.Background(), []*models.Message{
		{Role: models.RoleUser, Content: "hello"},
	}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 10 {
		t.Fatalf("expected truncation to 10 chars, got %d", len(out))
	}
}

func TestBuildSummarizationPromptIncludesToolOutcomes(t *testing.T) {
	msgs := []*models.Message{
		{
			Role: models.RoleAssistant,
			ToolCalls: []models.ToolCall{{Name: "read"}},
		},
		{
			Role:        models.RoleTool,
			ToolResults: []models.ToolResult{{Content: "ok", Status: models.ToolStatusOK}},
		},
	}
	prompt := buildSummarizationPrompt(msgs, 500)
	if !strings.Contains(prompt, "called tool: read") {
		t.Errorf("expected prompt to mention the tool call, got: %s", prompt)
	}
	if !strings.Contains(prompt, "tool result (ok): ok") {
		t.Errorf("expected prompt to mention the tool result, got: %s", prompt)
	}
}
