// Package audit implements the optional tool-event persistence layer
// SPEC_FULL.md's ambient stack names: a SQLite-backed ToolEventStore that
// records every dispatched tool call and its eventual result for audit and
// replay, independent of the message-history snapshot sessionstore already
// persists.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/ouro-ai-labs/ouro/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS tool_calls (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	message_id TEXT,
	tool_name TEXT NOT NULL,
	input_json TEXT NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tool_calls_session ON tool_calls(session_id);
CREATE INDEX IF NOT EXISTS idx_tool_calls_message ON tool_calls(message_id);

CREATE TABLE IF NOT EXISTS tool_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	message_id TEXT,
	tool_call_id TEXT NOT NULL,
	tool_name TEXT,
	status TEXT,
	is_error BOOLEAN NOT NULL DEFAULT 0,
	content TEXT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tool_results_session ON tool_results(session_id);
CREATE INDEX IF NOT EXISTS idx_tool_results_call ON tool_results(tool_call_id);
`

// SQLiteStore implements agent.ToolEventStore over a pure-Go SQLite driver
// (modernc.org/sqlite, no cgo -- the pack's non-cgo alternative to
// mattn/go-sqlite3, the better fit for a statically linked CLI binary).
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if absent) a SQLite audit database at path and
// applies the schema. path may be ":memory:" for tests.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// NewWithDB wraps an already-open *sql.DB, applying the schema. Used by
// tests that drive the store through go-sqlmock instead of a real file.
func NewWithDB(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("audit: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// AddToolCall persists a tool call event. Implements agent.ToolEventStore.
func (s *SQLiteStore) AddToolCall(ctx context.Context, sessionID, messageID string, call *models.ToolCall) error {
	if call == nil {
		return nil
	}
	input := call.Input
	if input == nil {
		input = json.RawMessage("{}")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_calls (id, session_id, message_id, tool_name, input_json)
		VALUES (?, ?, NULLIF(?, ''), ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, call.ID, sessionID, messageID, call.Name, string(input))
	if err != nil {
		return fmt.Errorf("audit: insert tool_call: %w", err)
	}
	return nil
}

// AddToolResult persists a tool result event. Implements agent.ToolEventStore.
func (s *SQLiteStore) AddToolResult(ctx context.Context, sessionID, messageID string, call *models.ToolCall, result *models.ToolResult) error {
	if result == nil {
		return nil
	}
	callID := result.ToolCallID
	if call != nil {
		callID = call.ID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_results (session_id, message_id, tool_call_id, tool_name, status, is_error, content)
		VALUES (?, NULLIF(?, ''), ?, ?, ?, ?, ?)
	`, sessionID, messageID, callID, result.ToolName, string(result.Status), result.IsError, result.Content)
	if err != nil {
		return fmt.Errorf("audit: insert tool_result: %w", err)
	}
	return nil
}

// ToolCallsForSession returns the recorded tool calls for a session, most
// recent first, for the audit/replay surface SPEC_FULL.md describes this
// store backing.
func (s *SQLiteStore) ToolCallsForSession(ctx context.Context, sessionID string, limit int) ([]models.ToolCall, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tool_name, input_json
		FROM tool_calls
		WHERE session_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query tool_calls: %w", err)
	}
	defer rows.Close()

	var calls []models.ToolCall
	for rows.Next() {
		var (
			call  models.ToolCall
			input string
		)
		if err := rows.Scan(&call.ID, &call.Name, &input); err != nil {
			return nil, fmt.Errorf("audit: scan tool_call: %w", err)
		}
		call.Input = json.RawMessage(input)
		calls = append(calls, call)
	}
	return calls, rows.Err()
}
