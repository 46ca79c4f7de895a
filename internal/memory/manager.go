package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	catalog "github.com/ouro-ai-labs/ouro/internal/models"
	"github.com/ouro-ai-labs/ouro/pkg/models"
)

// CompressionThreshold is the token count at which the Memory Manager
// triggers a Compressor pass during add_message, leaving at least MinSize
// messages untouched in the buffer.
const DefaultCompressionThreshold = 6000

// Persister saves a session snapshot. Implemented by internal/sessionstore.
type Persister interface {
	Save(ctx context.Context, session *models.Session) error
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Buffer               BufferOptions
	CompressionThreshold int // token count that triggers compression
	Compressor           *Compressor
	Persister            Persister
	Logger               *slog.Logger
}

// DefaultManagerOptions returns baseline options; Compressor and Persister
// must still be supplied by the caller.
func DefaultManagerOptions() ManagerOptions {
	return ManagerOptions{
		Buffer:               DefaultBufferOptions(),
		CompressionThreshold: DefaultCompressionThreshold,
	}
}

// Manager is the session-scoped memory stack: it owns the session's
// message history, its current summary, and its stats, and serializes every
// mutating operation behind a single write lock so add_message and
// get_context_for_llm can be called concurrently by the inner loop and any
// observability hooks without tearing session state.
type Manager struct {
	mu sync.Mutex

	session    *models.Session
	buffer     *Buffer
	accountant *Accountant
	compressor *Compressor
	persister  Persister
	threshold  int
	logger     *slog.Logger

	toolSchemas []models.ToolDescriptor
}

// New creates a Manager for a brand-new session.
func New(sessionID string, opts ManagerOptions) *Manager {
	if opts.CompressionThreshold <= 0 {
		opts.CompressionThreshold = DefaultCompressionThreshold
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	now := time.Now()
	return &Manager{
		session: &models.Session{
			ID:        sessionID,
			CreatedAt: now,
			UpdatedAt: now,
			Messages:  nil,
		},
		buffer:     NewBuffer(opts.Buffer),
		accountant: NewAccountant(),
		compressor: opts.Compressor,
		persister:  opts.Persister,
		threshold:  opts.CompressionThreshold,
		logger:     opts.Logger,
	}
}

// FromSession rehydrates a Manager from a previously persisted session,
// replaying its messages into a fresh buffer. Compressed history already
// folded into session.Summary is not re-buffered.
func FromSession(session *models.Session, opts ManagerOptions) *Manager {
	if opts.CompressionThreshold <= 0 {
		opts.CompressionThreshold = DefaultCompressionThreshold
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	m := &Manager{
		session:    session,
		buffer:     NewBuffer(opts.Buffer),
		accountant: NewAccountant(),
		compressor: opts.Compressor,
		persister:  opts.Persister,
		threshold:  opts.CompressionThreshold,
		logger:     opts.Logger,
	}
	m.buffer.Replace(append([]*models.Message(nil), session.Messages...))
	return m
}

// CompressorOrNil returns the Manager's configured Compressor (nil if
// MEMORY_ENABLED is false), for callers building a sibling Manager that
// should share the same compression strategy -- e.g. the interactive
// /clear and /resume commands.
func (m *Manager) CompressorOrNil() *Compressor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.compressor
}

// SessionID returns the wrapped session's identifier.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.ID
}

// SetToolSchemas installs the tool descriptors exposed to the LLM for this
// session. Called once per run, before the first LLM call, and again
// whenever a sub-agent narrows the available tool set via tool_filter.
// Their probe-estimated token overhead (Accountant.CountToolSchemas) feeds
// into shouldCompressLocked's threshold check from then on.
func (m *Manager) SetToolSchemas(schemas []models.ToolDescriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toolSchemas = schemas
}

// ToolSchemas returns the currently installed tool descriptors.
func (m *Manager) ToolSchemas() []models.ToolDescriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.toolSchemas
}

// AddMessage appends a message to the session, updates token stats, and
// triggers compression if the buffer has crossed the configured threshold.
// A compression failure does not abort add_message: the message is still
// appended and originals are retained uncompressed (§7 compression_failed).
func (m *Manager) AddMessage(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg == nil {
		return nil
	}
	if msg.TokenCount == 0 {
		msg.TokenCount = m.accountant.Count(msg)
	}

	m.buffer.Append(msg)
	m.session.Messages = append(m.session.Messages, msg)
	m.session.UpdatedAt = time.Now()
	m.session.Stats.TotalMessages++

	switch msg.Role {
	case models.RoleAssistant:
		m.session.Stats.TotalOutputTokens += msg.TokenCount
	default:
		m.session.Stats.TotalInputTokens += msg.TokenCount
	}

	if m.shouldCompressLocked() {
		if err := m.compressLocked(ctx); err != nil {
			// compression_failed (spec §7): the append above already
			// succeeded and originals remain in the buffer untouched; this
			// is a warning, never a failure of add_message itself.
			m.logger.Warn("memory: compression_failed, retaining originals",
				"session_id", m.session.ID, "error", err)
		}
	}

	return nil
}

func (m *Manager) shouldCompressLocked() bool {
	if m.compressor == nil {
		return false
	}
	if !m.buffer.Full() {
		total := m.accountant.CountAll(m.buffer.Messages()) + m.accountant.CountToolSchemas(m.toolSchemas)
		return total >= m.threshold
	}
	return true
}

func (m *Manager) compressLocked(ctx context.Context) error {
	candidates, retained := m.buffer.SplitForCompression()
	if len(candidates) == 0 {
		return nil
	}

	summary, err := m.compressor.Compress(ctx, candidates, m.session.Summary)
	if err != nil {
		return err
	}
	if summary == nil {
		return nil
	}

	m.session.Summary = summary
	m.buffer.Replace(retained)
	m.session.Stats.CompressionCount++
	return nil
}

// Compact forces an immediate compression pass over the buffer's
// compression-eligible prefix, regardless of whether CompressionThreshold
// has been crossed. Backs the interactive `/compact` command (SPEC_FULL.md
// §10); a no-op if the buffer holds MinSize messages or fewer.
func (m *Manager) Compact(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.compressor == nil {
		return fmt.Errorf("memory: compact requested but no compressor is configured")
	}
	return m.compressLocked(ctx)
}

// GetContextForLLM returns the message sequence to send on the next LLM
// call: system messages, then the active summary (if any) as a synthetic
// assistant turn, then the buffered recent messages, in order. The result
// never splits an assistant tool-call turn from its tool-result turn.
func (m *Manager) GetContextForLLM() []*models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.Message, 0, len(m.session.SystemMessages)+len(m.buffer.Messages())+1)
	out = append(out, m.session.SystemMessages...)

	if m.session.Summary != nil {
		out = append(out, &models.Message{
			Role:    models.RoleAssistant,
			Content: "Summary of earlier conversation: " + m.session.Summary.SummaryText,
		})
	}

	out = append(out, m.buffer.Messages()...)
	return out
}

// RepairUnanswered enforces the interrupt-safety invariant after a
// cancelled dispatch: it drops a trailing assistant turn left with tool
// calls but no tool-result turn, and drops any orphaned tool results left
// over from a partial dispatch, so the next context is well-formed.
func (m *Manager) RepairUnanswered() {
	m.mu.Lock()
	defer m.mu.Unlock()

	repaired := trimTrailingUnanswered(repairTranscript(m.session.Messages))
	if len(repaired) == len(m.session.Messages) {
		return
	}
	m.session.Messages = repaired
	m.buffer.Replace(append([]*models.Message(nil), repaired...))
}

// Stats returns a snapshot of the session's monotonic counters.
func (m *Manager) Stats() models.SessionStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Stats
}

// EstimatedCostUSD prices the session's accumulated input/output tokens
// against the named model's catalog entry. Returns 0 for a model the
// catalog doesn't know about rather than failing the caller.
func (m *Manager) EstimatedCostUSD(modelID string) float64 {
	m.mu.Lock()
	stats := m.session.Stats
	m.mu.Unlock()
	cost, _ := catalog.EstimatedCostUSD(modelID, stats.TotalInputTokens, stats.TotalOutputTokens)
	return cost
}

// Save persists the current session snapshot via the configured Persister.
// Save is idempotent: load(save(S)) == S except for UpdatedAt.
func (m *Manager) Save(ctx context.Context) error {
	m.mu.Lock()
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	if m.persister == nil {
		return fmt.Errorf("memory: persistence_failed: no persister configured")
	}
	if err := m.persister.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("memory: persistence_failed: %w", err)
	}
	return nil
}

func (m *Manager) snapshotLocked() *models.Session {
	s := *m.session
	s.Messages = append([]*models.Message(nil), m.session.Messages...)
	return &s
}

// Session returns a defensive copy of the current session snapshot,
// primarily for diagnostics and tests.
func (m *Manager) Session() *models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// MarshalState serializes the manager's session to JSON, used by callers
// that want a plain byte snapshot without going through a Persister.
func (m *Manager) MarshalState() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return json.Marshal(m.session)
}
