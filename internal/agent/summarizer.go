package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/ouro-ai-labs/ouro/pkg/models"
)

// LLMSummarizer adapts an LLMProvider into memory.SummaryProvider (a
// structural match, not an imported interface -- memory cannot import
// agent without a cycle). Used to back the Memory Manager's Compressor.
type LLMSummarizer struct {
	Provider LLMProvider
	Model    string
}

// Summarize asks the provider for a concise summary of messages, capped at
// maxChars of prompt guidance (the model is asked to respect it but the
// caller still truncates the result defensively).
func (s *LLMSummarizer) Summarize(ctx context.Context, messages []*models.Message, maxChars int) (string, error) {
	req := &CompletionRequest{
		Model:     s.Model,
		System:    "You summarize agent conversation history concisely and factually.",
		Messages:  []CompletionMessage{{Role: "user", Content: buildSummarizationPrompt(messages, maxChars)}},
		MaxTokens: 1024,
	}

	chunks, err := s.Provider.Complete(ctx, req)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for chunk := range chunks {
		if chunk == nil {
			continue
		}
		if chunk.Error != nil {
			return "", chunk.Error
		}
		if chunk.Text != "" {
			sb.WriteString(chunk.Text)
		}
		if chunk.Done {
			break
		}
	}

	text := sb.String()
	if maxChars > 0 && len(text) > maxChars {
		text = text[:maxChars]
	}
	return text, nil
}

func buildSummarizationPrompt(messages []*models.Message, maxChars int) string {
	var sb strings.Builder
	sb.WriteString("Summarize the following conversation concisely. ")
	fmt.Fprintf(&sb, "Keep the summary under %d characters. ", maxChars)
	sb.WriteString("Preserve key decisions, pending tasks, and tool outcomes.\n\nConversation:\n\n")

	for _, m := range messages {
		if m == nil {
			continue
		}
		fmt.Fprintf(&sb, "[%s]: %s\n", m.Role, m.Content)
		for _, tc := range m.ToolCalls {
			fmt.Fprintf(&sb, "  [called tool: %s]\n", tc.Name)
		}
		for _, tr := range m.ToolResults {
			content := tr.Content
			if len(content) > 200 {
				content = content[:200] + "..."
			}
			status := "ok"
			if tr.IsError {
				status = "error"
			}
			fmt.Fprintf(&sb, "  [tool result (%s): %s]\n", status, content)
		}
	}

	sb.WriteString("\n---\nProvide a concise summary:")
	return sb.String()
}
