package sessionstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ouro-ai-labs/ouro/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session := &models.Session{
		ID:        "a1b2c3d4",
		CreatedAt: time.Now().Truncate(time.Second),
		Messages:  []*models.Message{{Role: models.RoleUser, Content: "hello"}},
		Stats:     models.SessionStats{TotalInputTokens: 3},
	}

	if err := store.Save(ctx, session); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Load("a1b2c3d4")
	if err != nil {
		t.Fatal(err)
	}

	if loaded.ID != session.ID {
		t.Fatalf("ID mismatch: %s vs %s", loaded.ID, session.ID)
	}
	if len(loaded.Messages) != 1 || loaded.Messages[0].Content != "hello" {
		t.Fatalf("messages did not round-trip: %+v", loaded.Messages)
	}
	if loaded.Stats.TotalInputTokens != 3 {
		t.Fatalf("stats did not round-trip: %+v", loaded.Stats)
	}
}

func TestResolvePrefixUnique(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a1b2aaaa", "c3d4bbbb"} {
		if err := store.Save(ctx, &models.Session{ID: id}); err != nil {
			t.Fatal(err)
		}
	}

	id, err := store.Resolve("a1b2")
	if err != nil {
		t.Fatal(err)
	}
	if id != "a1b2aaaa" {
		t.Fatalf("resolved %q, want a1b2aaaa", id)
	}
}

func TestResolvePrefixAmbiguous(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a1b2aaaa", "a1b2bbbb"} {
		if err := store.Save(ctx, &models.Session{ID: id}); err != nil {
			t.Fatal(err)
		}
	}

	_, err := store.Resolve("a1b2")
	if !errors.Is(err, ErrAmbiguousPrefix) {
		t.Fatalf("expected ErrAmbiguousPrefix, got %v", err)
	}
}

func TestResolvePrefixNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Resolve("zzzz")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveSurvivesMissingIndex(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.Save(ctx, &models.Session{ID: "deadbeef"}); err != nil {
		t.Fatal(err)
	}

	// Corrupt the index to simulate a crash mid-write; reads must fall back
	// to a directory scan rather than failing.
	if err := atomicWrite(store.indexPath(), []byte("not: [valid yaml")); err != nil {
		t.Fatal(err)
	}

	id, err := store.Resolve("dead")
	if err != nil {
		t.Fatalf("expected resolve to survive corrupt index, got %v", err)
	}
	if id != "deadbeef" {
		t.Fatalf("resolved %q, want deadbeef", id)
	}
}

func TestSaveLayoutMatchesSpecDirectoryScheme(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)

	if err := store.Save(ctx, &models.Session{ID: "a1b2c3d4e5f6", CreatedAt: created}); err != nil {
		t.Fatal(err)
	}

	wantDir := filepath.Join(store.dir, "2026-03-04_a1b2c3d4", "session.yaml")
	if _, err := os.Stat(wantDir); err != nil {
		t.Fatalf("expected session.yaml under spec's YYYY-MM-DD_<uuid[:8]> directory, got: %v", err)
	}
}

func TestResolveLatestSelectsHighestUpdatedAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, &models.Session{ID: "older0001"}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)
	if err := store.Save(ctx, &models.Session{ID: "newer0002"}); err != nil {
		t.Fatal(err)
	}

	id, err := store.Resolve("latest")
	if err != nil {
		t.Fatal(err)
	}
	if id != "newer0002" {
		t.Fatalf("resolved %q, want newer0002", id)
	}
}

func TestIdempotentSaveLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session := &models.Session{
		ID:        "idem0001",
		CreatedAt: time.Now().Truncate(time.Second),
		Messages:  []*models.Message{{Role: models.RoleUser, Content: "hi"}},
	}
	if err := store.Save(ctx, session); err != nil {
		t.Fatal(err)
	}
	first, err := store.Load(session.ID)
	if err != nil {
		t.Fatal(err)
	}

	if err := store.Save(ctx, first); err != nil {
		t.Fatal(err)
	}
	second, err := store.Load(session.ID)
	if err != nil {
		t.Fatal(err)
	}

	if second.ID != first.ID || len(second.Messages) != len(first.Messages) {
		t.Fatalf("load(save(load(save(S)))) diverged: %+v vs %+v", first, second)
	}
}
