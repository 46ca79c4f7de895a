// Package sessionstore persists sessions as crash-safe YAML documents under
// per-session directories, plus a small index for prefix-based ID resolution.
package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ouro-ai-labs/ouro/pkg/models"
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when no session matches the requested ID or prefix.
var ErrNotFound = errors.New("sessionstore: session not found")

// ErrAmbiguousPrefix is returned when a prefix matches more than one
// session ID.
var ErrAmbiguousPrefix = errors.New("sessionstore: prefix matches multiple sessions")

// latestKeyword is the special --resume argument (spec §6) that selects the
// session with the highest UpdatedAt rather than an ID prefix.
const latestKeyword = "latest"

const (
	indexFileName   = ".index.yaml"
	sessionFileName = "session.yaml"
)

// indexEntry maps a session UUID to the directory name holding it (spec §3:
// "Index Entry ... maps a session UUID to its directory name").
type indexEntry struct {
	ID        string    `yaml:"id"`
	Dir       string    `yaml:"dir"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

// Store persists sessions under directories named "YYYY-MM-DD_<uuid[:8]>/",
// each holding a "session.yaml", plus ".index.yaml" at the root for fast
// prefix lookup. All writes are atomic (temp-file-plus-rename); readers
// that hit a partially-written file treat it as unreadable rather than
// attempting partial recovery.
type Store struct {
	dir string
	mu  sync.Mutex
}

// New returns a Store rooted at dir, creating dir if it does not exist.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sessionstore: create dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) indexPath() string {
	return filepath.Join(s.dir, indexFileName)
}

// dirName computes the "YYYY-MM-DD_<uuid[:8]>" directory name for a session
// created at createdAt with the given id.
func dirName(id string, createdAt time.Time) string {
	prefix := id
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return createdAt.Format("2006-01-02") + "_" + prefix
}

// Save writes the session atomically and updates the index. Save is safe
// for concurrent use across different session IDs; callers are expected to
// serialize concurrent Saves of the *same* session ID themselves (the
// Memory Manager's own lock already does this). Save implements
// memory.Persister.
func (s *Store) Save(ctx context.Context, session *models.Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("sessionstore: session must have a non-empty ID")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session.UpdatedAt = time.Now()

	dir, ok := s.lookupDirLocked(session.ID)
	if !ok {
		createdAt := session.CreatedAt
		if createdAt.IsZero() {
			createdAt = session.UpdatedAt
		}
		dir = dirName(session.ID, createdAt)
	}

	sessDir := filepath.Join(s.dir, dir)
	if err := os.MkdirAll(sessDir, 0o755); err != nil {
		return fmt.Errorf("sessionstore: create session dir: %w", err)
	}

	data, err := yaml.Marshal(session)
	if err != nil {
		return fmt.Errorf("sessionstore: marshal: %w", err)
	}
	if err := atomicWrite(filepath.Join(sessDir, sessionFileName), data); err != nil {
		return fmt.Errorf("sessionstore: write: %w", err)
	}

	return s.updateIndexLocked(session.ID, dir, session.UpdatedAt)
}

// Load reads a session by its exact ID.
func (s *Store) Load(id string) (*models.Session, error) {
	s.mu.Lock()
	dir, ok := s.lookupDirLocked(id)
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.readFile(filepath.Join(s.dir, dir, sessionFileName))
}

// Resolve finds the unique session ID whose name starts with prefix,
// returning ErrNotFound for zero matches and ErrAmbiguousPrefix for more
// than one. An exact full-ID match always resolves uniquely even if it is
// also, degenerately, a prefix of another ID. The literal prefix "latest"
// resolves to the session with the highest UpdatedAt (spec §6).
func (s *Store) Resolve(prefix string) (string, error) {
	if prefix == latestKeyword {
		return s.Latest()
	}

	entries, err := s.listEntriesLocked()
	if err != nil {
		return "", err
	}

	for _, e := range entries {
		if e.ID == prefix {
			return e.ID, nil
		}
	}

	var matches []string
	for _, e := range entries {
		if strings.HasPrefix(e.ID, prefix) {
			matches = append(matches, e.ID)
		}
	}

	switch len(matches) {
	case 0:
		return "", ErrNotFound
	case 1:
		return matches[0], nil
	default:
		sort.Strings(matches)
		return "", fmt.Errorf("%w: %q matches %v", ErrAmbiguousPrefix, prefix, matches)
	}
}

// Latest returns the ID of the session with the highest UpdatedAt.
func (s *Store) Latest() (string, error) {
	entries, err := s.listEntriesLocked()
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", ErrNotFound
	}
	best := entries[0]
	for _, e := range entries[1:] {
		if e.UpdatedAt.After(best.UpdatedAt) {
			best = e
		}
	}
	return best.ID, nil
}

// LoadByPrefix resolves prefix (or "latest") to a unique session ID and
// loads it.
func (s *Store) LoadByPrefix(prefix string) (*models.Session, error) {
	id, err := s.Resolve(prefix)
	if err != nil {
		return nil, err
	}
	return s.Load(id)
}

func (s *Store) readFile(path string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("sessionstore: read: %w", err)
	}

	var session models.Session
	if err := yaml.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("sessionstore: corrupt session file %s: %w", path, err)
	}
	return &session, nil
}

// lookupDirLocked resolves a session ID to its directory name via the
// index, falling back to a directory scan when the index doesn't know it
// yet (brand-new session on this process) or is missing/corrupt.
func (s *Store) lookupDirLocked(id string) (string, bool) {
	entries, err := s.readIndex()
	if err == nil {
		for _, e := range entries {
			if e.ID == id {
				return e.Dir, true
			}
		}
	}
	scanned, err := s.scanDirsLocked()
	if err != nil {
		return "", false
	}
	for _, e := range scanned {
		if e.ID == id {
			return e.Dir, true
		}
	}
	return "", false
}

// listEntriesLocked rebuilds the full (id, dir, updated_at) list from the
// index, falling back to a directory scan if the index is missing, empty,
// or corrupt -- a bad index must never make existing sessions unresolvable.
func (s *Store) listEntriesLocked() ([]indexEntry, error) {
	entries, err := s.readIndex()
	if err == nil && len(entries) > 0 {
		return entries, nil
	}
	return s.scanDirsLocked()
}

// scanDirsLocked rebuilds index entries by walking every
// "YYYY-MM-DD_xxxxxxxx/session.yaml" under the store root and reading each
// session's own ID field (the directory name only carries an 8-char
// prefix, not the full UUID).
func (s *Store) scanDirsLocked() ([]indexEntry, error) {
	dirs, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: scan dir: %w", err)
	}
	var entries []indexEntry
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		path := filepath.Join(s.dir, d.Name(), sessionFileName)
		data, err := os.ReadFile(path)
		if err != nil {
			continue // missing/unreadable session.yaml: skip, not fatal
		}
		var session models.Session
		if err := yaml.Unmarshal(data, &session); err != nil || session.ID == "" {
			continue // corrupt session.yaml: unreadable, not half-present
		}
		entries = append(entries, indexEntry{ID: session.ID, Dir: d.Name(), UpdatedAt: session.UpdatedAt})
	}
	return entries, nil
}

func (s *Store) readIndex() ([]indexEntry, error) {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		return nil, err
	}
	var entries []indexEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) updateIndexLocked(id, dir string, updatedAt time.Time) error {
	entries, _ := s.readIndex() // a corrupt/missing index is rebuilt, not fatal

	found := false
	for i, e := range entries {
		if e.ID == id {
			entries[i].Dir = dir
			entries[i].UpdatedAt = updatedAt
			found = true
			break
		}
	}
	if !found {
		entries = append(entries, indexEntry{ID: id, Dir: dir, UpdatedAt: updatedAt})
	}

	data, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("sessionstore: marshal index: %w", err)
	}
	return atomicWrite(s.indexPath(), data)
}

// atomicWrite writes data to a temp file in the same directory as path,
// then renames it into place, so readers never observe a partial write.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}
