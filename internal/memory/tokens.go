// Package memory implements the agent's working-memory stack: token
// accounting, the short-term message buffer, LLM-driven compression, and
// the Memory Manager that serializes access to all three for one session.
package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/ouro-ai-labs/ouro/pkg/models"
)

// charsPerToken is the cheap proxy used to estimate token counts without a
// real tokenizer, matching the ratio the context packer already assumed
// (~4 characters per token for English text).
const charsPerToken = 4

// Accountant estimates and caches per-message token counts so repeated
// get_context_for_llm() calls don't re-scan unchanged message content.
// Safe for concurrent use.
type Accountant struct {
	mu    sync.Mutex
	cache map[string]int // content hash -> estimated token count
}

// NewAccountant returns a ready-to-use Accountant.
func NewAccountant() *Accountant {
	return &Accountant{cache: make(map[string]int)}
}

// Count returns the estimated token count for a message, using a cached
// value when the message's content has been seen before.
func (a *Accountant) Count(msg *models.Message) int {
	if msg == nil {
		return 0
	}
	if msg.TokenCount > 0 {
		return msg.TokenCount
	}

	key := a.hashMessage(msg)

	a.mu.Lock()
	if n, ok := a.cache[key]; ok {
		a.mu.Unlock()
		return n
	}
	a.mu.Unlock()

	n := a.estimate(msg)

	a.mu.Lock()
	a.cache[key] = n
	a.mu.Unlock()

	return n
}

// CountAll sums the estimated token count across a slice of messages.
func (a *Accountant) CountAll(msgs []*models.Message) int {
	total := 0
	for _, m := range msgs {
		total += a.Count(m)
	}
	return total
}

func (a *Accountant) estimate(msg *models.Message) int {
	chars := len(msg.Content) + len(msg.Reasoning)
	for _, tc := range msg.ToolCalls {
		chars += len(tc.Name) + len(tc.Input)
	}
	for _, tr := range msg.ToolResults {
		chars += len(tr.Content)
	}
	if chars == 0 {
		return 0
	}
	tokens := chars / charsPerToken
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}

// CountToolSchemas estimates the token overhead a tool-set adds to every LLM
// call, per spec §4.1: "computed by taking the difference of a probe message
// sized with and without tools attached; cached once per tool-set
// fingerprint." The fingerprint is a hash of every schema's name,
// description, and raw schema bytes, so two calls with the same tool set
// never re-probe.
func (a *Accountant) CountToolSchemas(schemas []models.ToolDescriptor) int {
	if len(schemas) == 0 {
		return 0
	}

	key := "toolschemas:" + a.fingerprintSchemas(schemas)

	a.mu.Lock()
	if n, ok := a.cache[key]; ok {
		a.mu.Unlock()
		return n
	}
	a.mu.Unlock()

	n := probeToolSchemaTokens(schemas)

	a.mu.Lock()
	a.cache[key] = n
	a.mu.Unlock()

	return n
}

func (a *Accountant) fingerprintSchemas(schemas []models.ToolDescriptor) string {
	h := sha256.New()
	for _, s := range schemas {
		h.Write([]byte(s.Name))
		h.Write([]byte(s.Description))
		h.Write(s.Schema)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// probeToolSchemaTokens sizes a bare probe message against the same probe
// with every schema's name/description/body appended, and diffs the two --
// the "probe message sized with and without tools attached" spec §4.1
// describes, using the accountant's own chars-per-token ratio.
func probeToolSchemaTokens(schemas []models.ToolDescriptor) int {
	const probe = "probe message"
	withTools := len(probe)
	for _, s := range schemas {
		withTools += len(s.Name) + len(s.Description) + len(s.Schema)
	}

	diff := withTools - len(probe)
	if diff <= 0 {
		return 0
	}
	tokens := diff / charsPerToken
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}

func (a *Accountant) hashMessage(msg *models.Message) string {
	h := sha256.New()
	h.Write([]byte(msg.Role))
	h.Write([]byte(msg.Content))
	h.Write([]byte(msg.Reasoning))
	for _, tc := range msg.ToolCalls {
		h.Write([]byte(tc.ID))
		h.Write([]byte(tc.Name))
		h.Write(tc.Input)
	}
	for _, tr := range msg.ToolResults {
		h.Write([]byte(tr.ToolCallID))
		h.Write([]byte(tr.Content))
	}
	return hex.EncodeToString(h.Sum(nil))
}
