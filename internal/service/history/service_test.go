package history

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/marvinli001/project-yuzuriha/internal/localstore"
	"github.com/marvinli001/project-yuzuriha/internal/logger"
	"github.com/marvinli001/project-yuzuriha/internal/metrics"
	"github.com/marvinli001/project-yuzuriha/internal/model/chat"
	syncmodel "github.com/marvinli001/project-yuzuriha/internal/model/sync"
	"github.com/marvinli001/project-yuzuriha/internal/service/cloud"
)

// fakeCloud is an in-memory HistoryStore with failure switches.
type fakeCloud struct {
	mu        sync.Mutex
	available bool
	sessions  []chat.Session
	messages  map[string][]chat.Message
	nextID    int

	getCalls   int
	failCreate bool
	failAdd    bool
}

var _ cloud.HistoryStore = (*fakeCloud)(nil)

func newFakeCloud(available bool) *fakeCloud {
	return &fakeCloud{available: available, messages: map[string][]chat.Message{}}
}

func (f *fakeCloud) transportErr(op string) error {
	return &cloud.TransportError{Op: op, Status: 500, Body: "boom"}
}

func (f *fakeCloud) ListSessions(_ context.Context, _ int) ([]chat.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]chat.Session, len(f.sessions))
	copy(out, f.sessions)
	return out, nil
}

func (f *fakeCloud) CreateSession(_ context.Context, title string) (chat.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate {
		return chat.Session{}, f.transportErr("create_session")
	}
	f.nextID++
	now := time.Now().UnixMilli()
	session := chat.Session{
		ID:        fmt.Sprintf("cloud-%d", f.nextID),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.sessions = append([]chat.Session{session}, f.sessions...)
	return session, nil
}

func (f *fakeCloud) GetSession(_ context.Context, id string) (chat.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	for _, s := range f.sessions {
		if s.ID == id {
			return s, nil
		}
	}
	return chat.Session{}, cloud.ErrNotFound
}

func (f *fakeCloud) UpdateSession(_ context.Context, id string, title *string) (chat.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.sessions {
		if f.sessions[i].ID == id {
			if title != nil {
				f.sessions[i].Title = *title
			}
			f.sessions[i].UpdatedAt = time.Now().UnixMilli()
			return f.sessions[i], nil
		}
	}
	return chat.Session{}, cloud.ErrNotFound
}

func (f *fakeCloud) DeleteSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.sessions {
		if f.sessions[i].ID == id {
			f.sessions = append(f.sessions[:i], f.sessions[i+1:]...)
			delete(f.messages, id)
			return nil
		}
	}
	return cloud.ErrNotFound
}

func (f *fakeCloud) ListMessages(_ context.Context, sessionID string, _ int) ([]chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]chat.Message, len(f.messages[sessionID]))
	copy(out, f.messages[sessionID])
	return out, nil
}

func (f *fakeCloud) AddMessage(_ context.Context, sessionID, role, content string) (chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAdd {
		return chat.Message{}, f.transportErr("add_message")
	}
	f.nextID++
	message := chat.Message{
		ID:        fmt.Sprintf("msg-%d", f.nextID),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}
	f.messages[sessionID] = append(f.messages[sessionID], message)
	return message, nil
}

func (f *fakeCloud) SearchMessages(_ context.Context, _ string, _ int) ([]chat.SearchHit, error) {
	return nil, f.transportErr("search")
}

func (f *fakeCloud) Stats(_ context.Context) chat.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.available {
		return chat.Stats{Error: "unreachable"}
	}
	return chat.Stats{Enabled: true, SessionCount: len(f.sessions), DatabaseName: "fake"}
}

func (f *fakeCloud) IsAvailable(_ context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available
}

func newTestService(t *testing.T, cloudStore cloud.HistoryStore) (*Service, localstore.Store) {
	t.Helper()

	local, err := localstore.New(localstore.StoreTypeMemory)
	if err != nil {
		t.Fatalf("failed to create local store: %v", err)
	}

	svc := NewService(local, cloudStore, Config{
		Metrics: metrics.New(),
		Logger:  logger.Nop(),
	})
	t.Cleanup(svc.Close)
	return svc, local
}

func TestCreateSessionLocalMode(t *testing.T) {
	svc, local := newTestService(t, nil)
	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	session, err := svc.CreateSession(context.Background(), "first chat")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if session.ID == "" {
		t.Fatal("expected a generated session id")
	}
	if session.Title != "first chat" {
		t.Fatalf("unexpected title %q", session.Title)
	}

	persisted, err := local.LoadSessions(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(persisted) != 1 || persisted[0].ID != session.ID {
		t.Fatalf("session not persisted locally: %+v", persisted)
	}
}

func TestCreateSessionDefaultTitle(t *testing.T) {
	svc, _ := newTestService(t, nil)
	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	session, err := svc.CreateSession(context.Background(), "")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if session.Title != "New Chat" {
		t.Fatalf("expected default title, got %q", session.Title)
	}
}

func TestCreateSessionCloudMode(t *testing.T) {
	fc := newFakeCloud(true)
	svc, _ := newTestService(t, fc)
	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if !svc.CloudMode() {
		t.Fatal("expected cloud mode")
	}

	session, err := svc.CreateSession(context.Background(), "cloud chat")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if session.ID != "cloud-1" {
		t.Fatalf("expected cloud-assigned id, got %q", session.ID)
	}

	sessions := svc.Sessions()
	if len(sessions) == 0 || sessions[0].ID != session.ID {
		t.Fatalf("new session should be first in the list: %+v", sessions)
	}
}

func TestCreateSessionCloudFailureFallsBackLocally(t *testing.T) {
	fc := newFakeCloud(true)
	fc.failCreate = true
	svc, local := newTestService(t, fc)
	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	session, err := svc.CreateSession(context.Background(), "degraded")
	if err != nil {
		t.Fatalf("create must not fail when the cloud is down: %v", err)
	}
	if session.ID == "" {
		t.Fatal("expected a locally generated id")
	}

	persisted, err := local.LoadSessions(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(persisted) != 1 {
		t.Fatalf("fallback session must be durably cached, got %d", len(persisted))
	}
}

func TestLoadSessionShortCircuitsOnOpenSession(t *testing.T) {
	fc := newFakeCloud(true)
	svc, _ := newTestService(t, fc)
	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	session, err := svc.CreateSession(context.Background(), "chat")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if _, err := svc.LoadSession(context.Background(), session.ID); err != nil {
		t.Fatalf("first load failed: %v", err)
	}
	fetches := fc.getCalls
	if fetches != 1 {
		t.Fatalf("expected exactly one fetch, got %d", fetches)
	}

	if _, err := svc.LoadSession(context.Background(), session.ID); err != nil {
		t.Fatalf("second load failed: %v", err)
	}
	if fc.getCalls != fetches {
		t.Fatalf("reloading the open session must not refetch, got %d calls", fc.getCalls)
	}
}

func TestLoadSessionNotFound(t *testing.T) {
	svc, _ := newTestService(t, nil)
	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	if _, err := svc.LoadSession(context.Background(), "missing"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSyncFromCloudMergesLocalOnlySessions(t *testing.T) {
	fc := newFakeCloud(true)
	if _, err := fc.CreateSession(context.Background(), "cloud only"); err != nil {
		t.Fatalf("seeding cloud failed: %v", err)
	}

	local, err := localstore.New(localstore.StoreTypeMemory)
	if err != nil {
		t.Fatalf("failed to create local store: %v", err)
	}
	seed := []chat.SessionWithMessages{
		{ID: "local-a", Title: "A", Messages: []chat.Message{}},
		{ID: "local-b", Title: "B", Messages: []chat.Message{}},
	}
	if err := local.SaveSessions(context.Background(), seed); err != nil {
		t.Fatalf("seeding local failed: %v", err)
	}

	svc := NewService(local, fc, Config{Metrics: metrics.New(), Logger: logger.Nop()})
	t.Cleanup(svc.Close)
	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	sessions := svc.Sessions()
	if len(sessions) != 3 {
		t.Fatalf("expected merged view of 3 sessions, got %d", len(sessions))
	}
	ids := map[string]bool{}
	for _, s := range sessions {
		ids[s.ID] = true
	}
	for _, want := range []string{"cloud-1", "local-a", "local-b"} {
		if !ids[want] {
			t.Fatalf("merged view missing %s: %v", want, ids)
		}
	}

	state := svc.State()
	if state.SyncStatus != syncmodel.StatusSuccess {
		t.Fatalf("expected success status, got %s", state.SyncStatus)
	}
	if state.LastSyncTime.IsZero() {
		t.Fatal("expected last sync time to be set")
	}
}

func TestDeleteSessionClearsOpenSession(t *testing.T) {
	svc, _ := newTestService(t, nil)
	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	session, err := svc.CreateSession(context.Background(), "doomed")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := svc.LoadSession(context.Background(), session.ID); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if err := svc.DeleteSession(context.Background(), session.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if _, open := svc.Current(); open {
		t.Fatal("deleting the open session must clear the open reference")
	}
	if len(svc.Sessions()) != 0 {
		t.Fatal("session should be removed from the list")
	}
}

func TestAddMessagePreservesOrder(t *testing.T) {
	svc, _ := newTestService(t, nil)
	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	session, err := svc.CreateSession(context.Background(), "chat")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if _, err := svc.AddMessage(context.Background(), session.ID, chat.RoleUser, "first"); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if _, err := svc.AddMessage(context.Background(), session.ID, chat.RoleAssistant, "second"); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	loaded, err := svc.LoadSession(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(loaded.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(loaded.Messages))
	}
	if loaded.Messages[0].Content != "first" || loaded.Messages[1].Content != "second" {
		t.Fatalf("append order not preserved: %+v", loaded.Messages)
	}
}

func TestAddMessageUnknownSession(t *testing.T) {
	svc, _ := newTestService(t, nil)
	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	if _, err := svc.AddMessage(context.Background(), "missing", chat.RoleUser, "hi"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestAddMessageCloudFailureKeepsLocalTranscript(t *testing.T) {
	fc := newFakeCloud(true)
	svc, _ := newTestService(t, fc)
	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	session, err := svc.CreateSession(context.Background(), "chat")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	fc.failAdd = true
	message, err := svc.AddMessage(context.Background(), session.ID, chat.RoleUser, "hello")
	if err != nil {
		t.Fatalf("append must not fail when the cloud is down: %v", err)
	}
	if message.ID == "" {
		t.Fatal("expected a locally generated message id")
	}

	loaded, err := svc.LoadSession(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	found := false
	for _, m := range loaded.Messages {
		if m.Content == "hello" {
			found = true
		}
	}
	if !found {
		t.Fatal("message lost after cloud append failure")
	}
}

func TestSearchMessagesLocalScan(t *testing.T) {
	svc, _ := newTestService(t, nil)
	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	session, err := svc.CreateSession(context.Background(), "greetings")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := svc.AddMessage(context.Background(), session.ID, chat.RoleUser, "Hello World"); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if _, err := svc.AddMessage(context.Background(), session.ID, chat.RoleAssistant, "goodbye"); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	hits, err := svc.SearchMessages(context.Background(), "hello", 10)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected one hit, got %d", len(hits))
	}
	if hits[0].SessionTitle != "greetings" {
		t.Fatalf("hit not annotated with session title: %+v", hits[0])
	}
}

func TestSearchMessagesLimitKeepsNewestMatches(t *testing.T) {
	svc, _ := newTestService(t, nil)
	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	svc.mu.Lock()
	svc.sessions = []chat.SessionWithMessages{
		{
			ID:    "old",
			Title: "old",
			Messages: []chat.Message{
				{ID: "m1", SessionID: "old", Role: chat.RoleUser, Content: "hello one", Timestamp: 100},
				{ID: "m2", SessionID: "old", Role: chat.RoleUser, Content: "hello two", Timestamp: 200},
			},
		},
		{
			ID:    "new",
			Title: "new",
			Messages: []chat.Message{
				{ID: "m3", SessionID: "new", Role: chat.RoleUser, Content: "hello three", Timestamp: 300},
				{ID: "m4", SessionID: "new", Role: chat.RoleUser, Content: "hello four", Timestamp: 400},
			},
		},
	}
	svc.mu.Unlock()

	hits, err := svc.SearchMessages(context.Background(), "hello", 2)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Timestamp != 400 || hits[1].Timestamp != 300 {
		t.Fatalf("limit must keep the newest matches, got %+v", hits)
	}
}

func TestStatsLocalMode(t *testing.T) {
	svc, _ := newTestService(t, nil)
	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	session, err := svc.CreateSession(context.Background(), "chat")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := svc.AddMessage(context.Background(), session.ID, chat.RoleUser, "hi"); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	stats := svc.Stats(context.Background())
	if stats.Enabled {
		t.Fatal("local mode stats must report enabled=false")
	}
	if stats.SessionCount != 1 || stats.MessageCount != 1 {
		t.Fatalf("unexpected counts: %+v", stats)
	}
	if stats.DatabaseName != "local" {
		t.Fatalf("unexpected database name %q", stats.DatabaseName)
	}
}

func TestManualSyncReprobesAvailability(t *testing.T) {
	fc := newFakeCloud(false)
	svc, _ := newTestService(t, fc)
	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if svc.CloudMode() {
		t.Fatal("expected local mode while the cloud is unreachable")
	}

	fc.mu.Lock()
	fc.available = true
	fc.mu.Unlock()

	if err := svc.ManualSync(context.Background()); err != nil {
		t.Fatalf("manual sync failed: %v", err)
	}
	if !svc.CloudMode() {
		t.Fatal("manual sync should promote to cloud mode once reachable")
	}
}

func TestMigrateToCloudReplaysLocalSessions(t *testing.T) {
	fc := newFakeCloud(true)

	local, err := localstore.New(localstore.StoreTypeMemory)
	if err != nil {
		t.Fatalf("failed to create local store: %v", err)
	}
	seed := []chat.SessionWithMessages{
		{
			ID:    "local-a",
			Title: "A",
			Messages: []chat.Message{
				{ID: "m1", SessionID: "local-a", Role: chat.RoleUser, Content: "hi"},
			},
		},
	}
	if err := local.SaveSessions(context.Background(), seed); err != nil {
		t.Fatalf("seeding local failed: %v", err)
	}

	svc := NewService(local, fc, Config{Metrics: metrics.New(), Logger: logger.Nop()})
	t.Cleanup(svc.Close)
	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	migrated, err := svc.MigrateToCloud(context.Background())
	if err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	if migrated != 1 {
		t.Fatalf("expected 1 migrated session, got %d", migrated)
	}

	fc.mu.Lock()
	cloudSessions := len(fc.sessions)
	fc.mu.Unlock()
	if cloudSessions != 1 {
		t.Fatalf("expected the session replayed into the cloud, got %d", cloudSessions)
	}
}

func TestMigrateToCloudRequiresCloudMode(t *testing.T) {
	svc, _ := newTestService(t, nil)
	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	if _, err := svc.MigrateToCloud(context.Background()); err != ErrCloudDisabled {
		t.Fatalf("expected ErrCloudDisabled, got %v", err)
	}
}
