package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ouro-ai-labs/ouro/internal/observability"
	"github.com/ouro-ai-labs/ouro/pkg/models"
)

const defaultVerifierMaxTokens = 256

const verifierSystemPrompt = `You judge whether a completed task result satisfies the original task.
Judge completeness strictly but do not redo the work yourself.
Respond with exactly one JSON object of the form {"complete": true|false, "reason": "..."} and nothing else.`

// Verdict is the Outer Loop's structured judgement of one inner loop result.
type Verdict struct {
	Complete bool   `json:"complete"`
	Reason   string `json:"reason"`
}

// Verifier judges whether an inner loop's result satisfies the original
// task. The default implementation asks the same model with a brief system
// prompt and result-only visibility (spec.md §9 open question #2).
type Verifier interface {
	Verify(ctx context.Context, task, result string) (Verdict, error)
}

// ModelVerifier is the default Verifier, grounded on the pack's LLMJudge
// provider-backed, no-tools, capped-output completion helper.
type ModelVerifier struct {
	Provider  LLMProvider
	Model     string
	MaxTokens int
}

var verdictPattern = regexp.MustCompile(`\{[^{}]*"complete"[^{}]*\}`)

func (v *ModelVerifier) Verify(ctx context.Context, task, result string) (Verdict, error) {
	maxTokens := v.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultVerifierMaxTokens
	}

	req := &CompletionRequest{
		Model:  v.Model,
		System: verifierSystemPrompt,
		Messages: []CompletionMessage{{
			Role:    "user",
			Content: fmt.Sprintf("Original task:\n%s\n\nResult:\n%s", task, result),
		}},
		MaxTokens: maxTokens,
	}

	chunks, err := v.Provider.Complete(ctx, req)
	if err != nil {
		return Verdict{}, err
	}

	var sb strings.Builder
	for chunk := range chunks {
		if chunk == nil {
			continue
		}
		if chunk.Error != nil {
			return Verdict{}, chunk.Error
		}
		if chunk.Text != "" {
			sb.WriteString(chunk.Text)
		}
		if chunk.Done {
			break
		}
	}

	return parseVerdict(sb.String())
}

func parseVerdict(text string) (Verdict, error) {
	raw := strings.TrimSpace(text)
	match := raw
	if found := verdictPattern.FindString(raw); found != "" {
		match = found
	}
	var v Verdict
	if err := json.Unmarshal([]byte(match), &v); err != nil {
		return Verdict{}, fmt.Errorf("verifier returned non-JSON verdict: %q", raw)
	}
	return v, nil
}

// OuterLoop (the "Ralph" loop) bounds re-entry into the Inner Loop with a
// completeness check after each pass. It is skipped entirely for
// interactive runs -- only single-task, non-interactive runs construct one.
type OuterLoop struct {
	Inner    *InnerLoop
	Verifier Verifier
	MaxOuter int

	// Metrics, set non-nil, counts each outer-loop re-entry. Nil disables
	// instrumentation.
	Metrics *observability.Metrics
}

// Run executes the outer verifier loop: run the inner loop, then ask the
// verifier whether the task is satisfied. On the final allowed iteration
// the result is returned unconditionally without consulting the verifier.
func (o *OuterLoop) Run(ctx context.Context, task string) (string, error) {
	maxOuter := o.MaxOuter
	if maxOuter <= 0 {
		maxOuter = DefaultRuntimeOptions().MaxOuterIterations
	}

	currentTask := task
	var result string

	for outerIter := 0; outerIter < maxOuter; outerIter++ {
		if o.Metrics != nil {
			o.Metrics.LoopIterations.WithLabelValues("outer").Inc()
		}

		var err error
		result, err = o.Inner.Run(ctx, currentTask)
		if err != nil {
			return "", err
		}

		if outerIter == maxOuter-1 || o.Verifier == nil {
			return result, nil
		}

		verdict, err := o.Verifier.Verify(ctx, task, result)
		if err != nil {
			// A verifier failure should not sink an otherwise-successful
			// result: fall back to returning it unconditionally.
			return result, nil
		}
		if verdict.Complete {
			return result, nil
		}

		currentTask = "" // the corrective feedback below continues the same session
		if err := o.Inner.Memory.AddMessage(ctx, &models.Message{
			ID:        uuid.NewString(),
			SessionID: o.Inner.Memory.SessionID(),
			Role:      models.RoleUser,
			Content:   "The previous result was judged incomplete: " + verdict.Reason,
			CreatedAt: time.Now(),
		}); err != nil {
			return result, nil
		}
	}

	return result, nil
}
