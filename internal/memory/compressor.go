package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ouro-ai-labs/ouro/internal/observability"
	"github.com/ouro-ai-labs/ouro/pkg/models"
)

// Strategy names the compression algorithm applied to a candidate window.
type Strategy string

const (
	// StrategySlidingWindow folds the entire candidate window into one LLM
	// summary, same as the original summarize.go rolling-summary approach.
	StrategySlidingWindow Strategy = "sliding_window"

	// StrategySelective summarizes only low-value turns (tool chatter) and
	// preserves user/assistant natural-language turns verbatim, prepending
	// the preserved turns after the summary.
	StrategySelective Strategy = "selective"

	// StrategyDeletion drops the candidate window outright with a
	// structural placeholder summary and no LLM call, for callers that
	// favor speed over recall (e.g. very low token budgets).
	StrategyDeletion Strategy = "deletion"
)

// SummaryProvider generates natural-language summary text for a window of
// messages. Implementations normally wrap an LLMProvider.Complete call.
type SummaryProvider interface {
	Summarize(ctx context.Context, messages []*models.Message, maxChars int) (string, error)
}

// CompressorOptions configures a Compressor.
type CompressorOptions struct {
	Strategy    Strategy
	MaxChars    int
	Accountant  *Accountant

	// Metrics, set non-nil, counts each Compress call by strategy and
	// outcome (ok/failed). Nil disables instrumentation.
	Metrics *observability.Metrics
}

// DefaultCompressorOptions returns the baseline compressor configuration.
func DefaultCompressorOptions() CompressorOptions {
	return CompressorOptions{Strategy: StrategySlidingWindow, MaxChars: 2000}
}

// Compressor folds a window of messages down to a single CompressedSummary,
// preserving the never-split-a-tool-pair invariant the caller is expected to
// have already honored when it built the candidate window (see
// Buffer.SplitForCompression).
type Compressor struct {
	provider SummaryProvider
	opts     CompressorOptions
}

// NewCompressor builds a Compressor. provider may be nil only when
// opts.Strategy is StrategyDeletion.
func NewCompressor(provider SummaryProvider, opts CompressorOptions) *Compressor {
	if opts.MaxChars <= 0 {
		opts.MaxChars = 2000
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategySlidingWindow
	}
	if opts.Accountant == nil {
		opts.Accountant = NewAccountant()
	}
	return &Compressor{provider: provider, opts: opts}
}

// Compress summarizes candidates, combining with any previous summary text
// so repeated compressions don't lose earlier context. On provider failure
// the caller must retain originals uncompressed (§7 compression_failed) --
// Compress returns the error and a nil summary, never a partial one.
func (c *Compressor) Compress(ctx context.Context, candidates []*models.Message, previous *models.CompressedSummary) (*models.CompressedSummary, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	originalTokens := c.opts.Accountant.CountAll(candidates)
	if previous != nil {
		originalTokens += previous.OriginalTokens
	}

	var text string
	var err error

	switch c.opts.Strategy {
	case StrategyDeletion:
		text = deletionPlaceholder(candidates, previous)
	case StrategySelective:
		text, err = c.compressSelective(ctx, candidates, previous)
	default:
		text, err = c.compressSlidingWindow(ctx, candidates, previous)
	}
	if err != nil {
		if c.opts.Metrics != nil {
			c.opts.Metrics.CompressionEvents.WithLabelValues(string(c.opts.Strategy), "failed").Inc()
		}
		return nil, fmt.Errorf("compression failed: %w", err)
	}
	if c.opts.Metrics != nil {
		c.opts.Metrics.CompressionEvents.WithLabelValues(string(c.opts.Strategy), "ok").Inc()
	}

	summary := &models.CompressedSummary{
		SummaryText:          text,
		OriginalMessageCount: len(candidates),
		OriginalTokens:       originalTokens,
		Strategy:             string(c.opts.Strategy),
		CreatedAt:            time.Now(),
	}
	if previous != nil {
		summary.OriginalMessageCount += previous.OriginalMessageCount
	}
	summary.CompressedTokens = (len(text) + charsPerToken - 1) / charsPerToken

	return summary, nil
}

func (c *Compressor) compressSlidingWindow(ctx context.Context, candidates []*models.Message, previous *models.CompressedSummary) (string, error) {
	if c.provider == nil {
		return "", fmt.Errorf("memory: sliding_window strategy requires a SummaryProvider")
	}
	prompt := buildSummarizationWindow(candidates, previous)
	return c.provider.Summarize(ctx, prompt, c.opts.MaxChars)
}

func (c *Compressor) compressSelective(ctx context.Context, candidates []*models.Message, previous *models.CompressedSummary) (string, error) {
	if c.provider == nil {
		return "", fmt.Errorf("memory: selective strategy requires a SummaryProvider")
	}

	// Preserve what matters -- tool calls/results and flagged errors -- and
	// summarize the ordinary chatter around them, per the important/rest
	// split the selective strategy is named for.
	var preserved, chatter []*models.Message
	for _, m := range candidates {
		if isFlaggedImportant(m) {
			preserved = append(preserved, m)
			continue
		}
		chatter = append(chatter, m)
	}

	var summarized string
	if len(chatter) > 0 {
		var err error
		summarized, err = c.provider.Summarize(ctx, buildSummarizationWindow(chatter, previous), c.opts.MaxChars)
		if err != nil {
			return "", err
		}
	}

	var sb strings.Builder
	if summarized != "" {
		sb.WriteString(summarized)
		sb.WriteString("\n\n")
	}
	for _, m := range preserved {
		sb.WriteString(renderPreservedMessage(m))
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String()), nil
}

// isFlaggedImportant reports whether m must survive a selective compression
// pass verbatim: tool calls, tool results (including failures), and
// explicit user directives are preserved; plain assistant/user chatter is
// summarized instead.
func isFlaggedImportant(m *models.Message) bool {
	switch {
	case m.Role == models.RoleUser:
		return true
	case m.Role == models.RoleTool:
		return true
	case m.Role == models.RoleAssistant && len(m.ToolCalls) > 0:
		return true
	}
	for _, r := range m.ToolResults {
		if r.IsError {
			return true
		}
	}
	return false
}

// renderPreservedMessage formats a preserved message for inline inclusion in
// the summary text. Tool-result content lives on ToolResults rather than
// Content, so it is rendered per result rather than as a single line.
func renderPreservedMessage(m *models.Message) string {
	if m.Role == models.RoleTool {
		var sb strings.Builder
		for i, r := range m.ToolResults {
			if i > 0 {
				sb.WriteString("\n")
			}
			status := r.Status
			if status == "" {
				status = models.ToolStatusOK
			}
			fmt.Fprintf(&sb, "[tool_result %s %s]: %s", r.ToolName, status, r.Content)
		}
		return sb.String()
	}
	if m.Role == models.RoleAssistant && len(m.ToolCalls) > 0 {
		var sb strings.Builder
		if m.Content != "" {
			fmt.Fprintf(&sb, "[assistant]: %s\n", m.Content)
		}
		for i, tc := range m.ToolCalls {
			if i > 0 {
				sb.WriteString("\n")
			}
			fmt.Fprintf(&sb, "[tool_call %s]: %s", tc.Name, string(tc.Input))
		}
		return sb.String()
	}
	return fmt.Sprintf("[%s]: %s", m.Role, m.Content)
}

func deletionPlaceholder(candidates []*models.Message, previous *models.CompressedSummary) string {
	count := len(candidates)
	if previous != nil {
		count += previous.OriginalMessageCount
	}
	return fmt.Sprintf("[%d earlier messages discarded without summarization]", count)
}

// buildSummarizationWindow returns the message slice a SummaryProvider
// should see, prefixing the previous summary (if any) as a synthetic
// assistant turn (spec §3's Compressed Summary is "a single synthetic
// assistant message") so the new summary stays continuous with older
// history.
func buildSummarizationWindow(candidates []*models.Message, previous *models.CompressedSummary) []*models.Message {
	if previous == nil {
		return candidates
	}
	prefix := &models.Message{Role: models.RoleAssistant, Content: "Earlier summary: " + previous.SummaryText}
	out := make([]*models.Message, 0, len(candidates)+1)
	out = append(out, prefix)
	out = append(out, candidates...)
	return out
}
