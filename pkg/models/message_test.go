package models

import (
	"testing"
	"time"
)

func TestToolCallResultAsToolResult(t *testing.T) {
	r := ToolCallResult{
		CallID:   "call_1",
		ToolName: "calculate",
		Status:   ToolStatusOK,
		Payload:  "56088",
		Duration: 10 * time.Millisecond,
	}

	tr := r.AsToolResult()
	if tr.ToolCallID != "call_1" {
		t.Fatalf("ToolCallID = %q, want call_1", tr.ToolCallID)
	}
	if tr.IsError {
		t.Fatal("IsError should be false for ok status")
	}
	if tr.Status != ToolStatusOK {
		t.Fatalf("Status = %q, want ok", tr.Status)
	}
}

func TestToolCallResultAsToolResultError(t *testing.T) {
	for _, status := range []ToolStatus{ToolStatusError, ToolStatusTimeout, ToolStatusCancelled} {
		r := ToolCallResult{CallID: "c", Status: status, Payload: "boom"}
		tr := r.AsToolResult()
		if !tr.IsError {
			t.Fatalf("status %q should project to IsError=true", status)
		}
	}
}

func TestSessionStatsShape(t *testing.T) {
	s := &Session{
		ID:       "sess-1",
		Messages: []*Message{{Role: RoleUser, Content: "hi"}},
		Stats:    SessionStats{TotalInputTokens: 10, TotalOutputTokens: 5},
	}
	if s.Stats.TotalInputTokens != 10 || s.Stats.TotalOutputTokens != 5 {
		t.Fatalf("unexpected stats: %+v", s.Stats)
	}
}
