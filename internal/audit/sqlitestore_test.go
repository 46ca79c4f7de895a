package audit

import (
	"context"
	"encoding/json"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/ouro-ai-labs/ouro/pkg/models"
)

func TestAddToolCallInsertsRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := NewWithDB(db)
	if err != nil {
		t.Fatalf("NewWithDB: %v", err)
	}

	mock.ExpectExec("INSERT INTO tool_calls").
		WithArgs("call-1", "session-1", "msg-1", "read_file", `{"path":"a.go"}`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	call := &models.ToolCall{ID: "call-1", Name: "read_file", Input: json.RawMessage(`{"path":"a.go"}`)}
	if err := store.AddToolCall(context.Background(), "session-1", "msg-1", call); err != nil {
		t.Fatalf("AddToolCall: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAddToolCallNilIsNoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := NewWithDB(db)
	if err != nil {
		t.Fatalf("NewWithDB: %v", err)
	}

	if err := store.AddToolCall(context.Background(), "session-1", "msg-1", nil); err != nil {
		t.Fatalf("AddToolCall(nil): %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAddToolResultInsertsRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := NewWithDB(db)
	if err != nil {
		t.Fatalf("NewWithDB: %v", err)
	}

	mock.ExpectExec("INSERT INTO tool_results").
		WithArgs("session-1", "msg-1", "call-1", "read_file", string(models.ToolStatusOK), false, "file contents").
		WillReturnResult(sqlmock.NewResult(1, 1))

	call := &models.ToolCall{ID: "call-1", Name: "read_file"}
	result := &models.ToolResult{ToolCallID: "call-1", ToolName: "read_file", Content: "file contents", Status: models.ToolStatusOK}
	if err := store.AddToolResult(context.Background(), "session-1", "msg-1", call, result); err != nil {
		t.Fatalf("AddToolResult: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAddToolResultNilIsNoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := NewWithDB(db)
	if err != nil {
		t.Fatalf("NewWithDB: %v", err)
	}

	if err := store.AddToolResult(context.Background(), "session-1", "msg-1", nil, nil); err != nil {
		t.Fatalf("AddToolResult(nil): %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestOpenAppliesSchemaAgainstRealSQLite(t *testing.T) {
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	call := &models.ToolCall{ID: "call-1", Name: "read_file", Input: json.RawMessage(`{"path":"a.go"}`)}
	if err := store.AddToolCall(context.Background(), "session-1", "msg-1", call); err != nil {
		t.Fatalf("AddToolCall: %v", err)
	}
	result := &models.ToolResult{ToolCallID: "call-1", ToolName: "read_file", Content: "ok", Status: models.ToolStatusOK}
	if err := store.AddToolResult(context.Background(), "session-1", "msg-1", call, result); err != nil {
		t.Fatalf("AddToolResult: %v", err)
	}

	calls, err := store.ToolCallsForSession(context.Background(), "session-1", 10)
	if err != nil {
		t.Fatalf("ToolCallsForSession: %v", err)
	}
	if len(calls) != 1 || calls[0].ID != "call-1" {
		t.Errorf("ToolCallsForSession = %+v, want one call-1 entry", calls)
	}
}
