package localstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/marvinli001/project-yuzuriha/internal/model/chat"
)

func TestNewInvalidStoreType(t *testing.T) {
	if _, err := New("bogus"); !errors.Is(err, ErrInvalidStoreType) {
		t.Fatalf("expected ErrInvalidStoreType, got %v", err)
	}
}

func TestNewFileRequiresPath(t *testing.T) {
	if _, err := New(StoreTypeFile); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestNewRedisRequiresClient(t *testing.T) {
	if _, err := New(StoreTypeRedis); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store, err := New(StoreTypeMemory)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	sessions, err := store.LoadSessions(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected empty store, got %d sessions", len(sessions))
	}

	seed := []chat.SessionWithMessages{{
		ID:    "s1",
		Title: "chat",
		Messages: []chat.Message{
			{ID: "m1", SessionID: "s1", Role: chat.RoleUser, Content: "hi"},
		},
	}}
	if err := store.SaveSessions(context.Background(), seed); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := store.LoadSessions(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != "s1" || len(loaded[0].Messages) != 1 {
		t.Fatalf("unexpected sessions: %+v", loaded)
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sessions.json")

	store, err := New(StoreTypeFile, WithPath(path))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	seed := []chat.SessionWithMessages{{
		ID:    "s1",
		Title: "persisted",
		Messages: []chat.Message{
			{ID: "m1", SessionID: "s1", Role: chat.RoleUser, Content: "hello", Timestamp: 1700000000000},
		},
	}}
	if err := store.SaveSessions(context.Background(), seed); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened, err := New(StoreTypeFile, WithPath(path))
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()

	loaded, err := reopened.LoadSessions(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(loaded) != 1 || loaded[0].Title != "persisted" {
		t.Fatalf("sessions did not survive reopen: %+v", loaded)
	}
	if loaded[0].Messages[0].Timestamp != 1700000000000 {
		t.Fatalf("message timestamp lost: %+v", loaded[0].Messages[0])
	}
}

func TestFileStoreMissingFileYieldsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")

	store, err := New(StoreTypeFile, WithPath(path))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	sessions, err := store.LoadSessions(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected empty slice, got %d sessions", len(sessions))
	}
}

func TestFileStoreLastSync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")

	store, err := New(StoreTypeFile, WithPath(path))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	initial, err := store.LastSync(context.Background())
	if err != nil {
		t.Fatalf("last sync failed: %v", err)
	}
	if !initial.IsZero() {
		t.Fatalf("expected zero time before any sync, got %v", initial)
	}

	want := time.Date(2026, 1, 15, 12, 30, 0, 0, time.UTC)
	if err := store.SetLastSync(context.Background(), want); err != nil {
		t.Fatalf("set last sync failed: %v", err)
	}

	got, err := store.LastSync(context.Background())
	if err != nil {
		t.Fatalf("last sync failed: %v", err)
	}
	if !got.Equal(want) {
		t.Fatalf("last sync mismatch: want %v, got %v", want, got)
	}
}
