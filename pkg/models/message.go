package models

import (
	"encoding/json"
	"time"
)

// Role indicates the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single turn in a session's conversation.
//
// Invariants (enforced by the Memory Manager, never by callers directly):
//   - an assistant turn that carries ToolCalls is immediately followed, in
//     insertion order, by one tool-role turn bundling a ToolResult per call
//     before the next assistant turn is appended;
//   - system messages, if any, precede all other messages in an emitted
//     context;
//   - get_context_for_llm() never splits an assistant/tool pair across a
//     truncation or compression boundary.
type Message struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	Role        Role           `json:"role"`
	Content     string         `json:"content,omitempty"`
	ToolCalls   []ToolCall     `json:"tool_calls,omitempty"`
	ToolResults []ToolResult   `json:"tool_results,omitempty"`
	Reasoning   string         `json:"reasoning,omitempty"`
	TokenCount  int            `json:"token_count,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolStatus is the outcome classification of a single tool invocation, per
// the Tool Call Result data model.
type ToolStatus string

const (
	ToolStatusOK        ToolStatus = "ok"
	ToolStatusError     ToolStatus = "error"
	ToolStatusTimeout   ToolStatus = "timeout"
	ToolStatusCancelled ToolStatus = "cancelled"
)

// ToolResult is a single tool's outcome as replayed into conversation
// history.
type ToolResult struct {
	ToolCallID string     `json:"tool_call_id"`
	ToolName   string     `json:"tool_name,omitempty"`
	Content    string     `json:"content"`
	IsError    bool       `json:"is_error,omitempty"`
	Status     ToolStatus `json:"status,omitempty"`
}

// ToolCallResult is the richer record the Tool Executor produces for a
// single dispatched call, including timing. ToolResult (above) is the
// trimmed projection appended to conversation history.
type ToolCallResult struct {
	CallID   string
	ToolName string
	Status   ToolStatus
	Payload  string
	Duration time.Duration
}

// AsToolResult projects a ToolCallResult down to the history-shaped ToolResult.
func (r ToolCallResult) AsToolResult() ToolResult {
	return ToolResult{
		ToolCallID: r.CallID,
		ToolName:   r.ToolName,
		Content:    r.Payload,
		IsError:    r.Status != ToolStatusOK,
		Status:     r.Status,
	}
}

// CompressedSummary is the single synthetic message a Compressor run
// produces. A session holds at most one active summary; a later
// compression rewrites it using the previous summary as additional input.
type CompressedSummary struct {
	SummaryText          string    `json:"summary_text"`
	OriginalMessageCount int       `json:"original_message_count"`
	OriginalTokens       int       `json:"original_tokens"`
	CompressedTokens     int       `json:"compressed_tokens"`
	Strategy             string    `json:"strategy"`
	CreatedAt            time.Time `json:"created_at"`
}

// SessionStats are denormalized, monotonically-updated counters for a
// session (input/output tokens never decrease across a session's lifetime).
type SessionStats struct {
	TotalInputTokens  int     `json:"total_input_tokens"`
	TotalOutputTokens int     `json:"total_output_tokens"`
	TotalCostUSD      float64 `json:"total_cost_usd"`
	CompressionCount  int     `json:"compression_count"`
	TotalMessages     int     `json:"total_messages"`
}

// Session is the persisted state of a run.
type Session struct {
	ID             string         `json:"id"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	SystemMessages []*Message     `json:"system_messages,omitempty"`
	Summary        *CompressedSummary `json:"summary,omitempty"`
	Messages       []*Message     `json:"messages"`
	Stats          SessionStats   `json:"stats"`
}

// ToolDescriptor is the process-wide, immutable-after-init record of a
// registered tool's calling contract.
type ToolDescriptor struct {
	Name            string
	Description     string
	Schema          json.RawMessage
	AsyncCapable    bool
	TimeoutOverride time.Duration
	SideEffectClass SideEffectClass
}

// SideEffectClass categorizes a tool's blast radius. explore_context's
// tool_filter is validated against SideEffectReadOnly.
type SideEffectClass string

const (
	SideEffectReadOnly       SideEffectClass = "read-only"
	SideEffectReadWrite      SideEffectClass = "read-write"
	SideEffectNetwork        SideEffectClass = "network"
	SideEffectSpawnsSubAgent SideEffectClass = "spawns-sub-agent"
)

// SubAgentSpec describes one requested child task for the Sub-Agent
// Spawner, shared by explore_context and parallel_execute.
type SubAgentSpec struct {
	Name                 string
	Task                 string
	AllowedTools         []string
	InheritParentContext bool
	RoleHint             string
	MaxIterations        int
	Depth                int

	// DependsOn names sibling Specs (by Name) that must complete before
	// this one is scheduled; used only by parallel_execute's DAG.
	DependsOn []string
}

// SubAgentOutcome is one entry in a parallel_execute / explore_context
// aggregated result, keyed by the originating Spec's Name.
type SubAgentOutcome struct {
	Name     string     `json:"name"`
	Status   ToolStatus `json:"status"`
	Skipped  bool       `json:"skipped,omitempty"`
	Result   string     `json:"result,omitempty"`
	Error    string     `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}
