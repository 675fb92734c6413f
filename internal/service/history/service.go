// Package history reconciles the durable local cache with the relational
// cloud store and presents one session-management API regardless of which of
// the two is reachable. Cloud failures degrade to local state; a session that
// exists only locally is never lost.
package history

import (
	"context"
	"errors"
	"sort"
	"strings"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/marvinli001/project-yuzuriha/internal/localstore"
	"github.com/marvinli001/project-yuzuriha/internal/metrics"
	"github.com/marvinli001/project-yuzuriha/internal/model/chat"
	syncmodel "github.com/marvinli001/project-yuzuriha/internal/model/sync"
	"github.com/marvinli001/project-yuzuriha/internal/service/cloud"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrCloudDisabled   = errors.New("cloud storage is not enabled")
)

// Config tunes the orchestrator.
type Config struct {
	// SyncInterval is the background resync period. Zero disables the timer.
	SyncInterval time.Duration
	Metrics      *metrics.Metrics
	Logger       zerolog.Logger
}

// Service is the chat history orchestrator. It owns the in-memory session
// list and the "currently open session" reference; handlers read snapshots
// and issue commands but never mutate state directly.
type Service struct {
	local   localstore.Store
	cloud   cloud.HistoryStore // nil when the relational store is not configured
	log     zerolog.Logger
	metrics *metrics.Metrics

	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}

	mu        stdsync.RWMutex
	cloudMode bool
	sessions  []chat.SessionWithMessages
	current   *chat.SessionWithMessages
	state     syncmodel.State
}

// NewService wires the orchestrator. Call Init before use and Close on
// teardown.
func NewService(local localstore.Store, cloudStore cloud.HistoryStore, cfg Config) *Service {
	return &Service{
		local:    local,
		cloud:    cloudStore,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		interval: cfg.SyncInterval,
		state:    syncmodel.State{SyncStatus: syncmodel.StatusIdle},
	}
}

// Init probes cloud availability once, loads the initial session view, and
// starts the background resync timer. The cloud/local decision is not
// reevaluated afterwards except through ManualSync.
func (s *Service) Init(ctx context.Context) error {
	available := s.cloud != nil && s.cloud.IsAvailable(ctx)

	s.mu.Lock()
	s.cloudMode = available
	s.state.CloudEnabled = available
	s.mu.Unlock()

	if available {
		s.log.Info().Msg("cloud history store available, entering cloud mode")
		if err := s.SyncFromCloud(ctx); err != nil {
			s.log.Warn().Err(err).Msg("initial cloud sync failed, continuing with local view")
		}
	} else {
		s.log.Info().Msg("cloud history store unavailable, entering local mode")
		if err := s.reloadFromLocal(ctx); err != nil {
			return err
		}
	}

	if s.interval > 0 {
		bgCtx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.done = make(chan struct{})
		go s.runBackgroundSync(bgCtx)
	}
	return nil
}

// Close stops the background resync timer. The injected stores are owned by
// the caller and closed there.
func (s *Service) Close() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Service) runBackgroundSync(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.RLock()
			enabled := s.cloudMode
			s.mu.RUnlock()
			if !enabled {
				continue
			}
			if err := s.SyncFromCloud(ctx); err != nil {
				s.log.Warn().Err(err).Msg("background sync failed")
			}
		}
	}
}

// CreateSession creates a session in the active store. A cloud transport
// failure falls back to a local-only session: a user-visible action must not
// silently fail.
func (s *Service) CreateSession(ctx context.Context, title string) (chat.SessionWithMessages, error) {
	if title == "" {
		title = "New Chat"
	}

	s.mu.RLock()
	cloudMode := s.cloudMode
	s.mu.RUnlock()

	var session chat.SessionWithMessages
	localOnly := !cloudMode

	if cloudMode {
		created, err := s.cloud.CreateSession(ctx, title)
		if err != nil {
			s.log.Warn().Err(err).Msg("cloud create failed, creating session locally")
			s.recordError(err)
			localOnly = true
		} else {
			session = chat.SessionWithMessages{
				ID:        created.ID,
				Title:     created.Title,
				CreatedAt: created.CreatedAt,
				UpdatedAt: created.UpdatedAt,
				Messages:  []chat.Message{},
			}
		}
	}

	if localOnly {
		now := time.Now().UnixMilli()
		session = chat.SessionWithMessages{
			ID:        uuid.NewString(),
			Title:     title,
			CreatedAt: now,
			UpdatedAt: now,
			Messages:  []chat.Message{},
		}
	}

	s.mu.Lock()
	s.sessions = append([]chat.SessionWithMessages{session}, s.sessions...)
	s.updateSessionGauge()
	s.mu.Unlock()

	s.persistLocal(ctx, !cloudMode || localOnly)
	return session, nil
}

// LoadSession returns a session with its transcript and marks it as the
// currently open session. Loading the already-open session is a no-op that
// performs no fetch, so repeated loads cannot clobber in-flight edits.
func (s *Service) LoadSession(ctx context.Context, id string) (chat.SessionWithMessages, error) {
	s.mu.RLock()
	if s.current != nil && s.current.ID == id {
		open := *s.current
		s.mu.RUnlock()
		return open, nil
	}
	cloudMode := s.cloudMode
	s.mu.RUnlock()

	if cloudMode {
		meta, err := s.cloud.GetSession(ctx, id)
		switch {
		case errors.Is(err, cloud.ErrNotFound):
			return chat.SessionWithMessages{}, ErrSessionNotFound
		case err != nil:
			s.recordError(err)
			s.log.Warn().Err(err).Str("session_id", id).Msg("cloud load failed, falling back to local view")
			return s.loadFromMemory(id)
		}

		messages, err := s.cloud.ListMessages(ctx, id, 100)
		if err != nil {
			s.recordError(err)
			return s.loadFromMemory(id)
		}

		session := chat.SessionWithMessages{
			ID:        meta.ID,
			Title:     meta.Title,
			CreatedAt: meta.CreatedAt,
			UpdatedAt: meta.UpdatedAt,
			Messages:  messages,
		}

		s.mu.Lock()
		s.replaceInList(session)
		s.current = &session
		s.mu.Unlock()
		return session, nil
	}

	return s.loadFromMemory(id)
}

func (s *Service) loadFromMemory(id string) (chat.SessionWithMessages, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.sessions {
		if s.sessions[i].ID == id {
			open := s.sessions[i]
			s.current = &open
			return open, nil
		}
	}
	return chat.SessionWithMessages{}, ErrSessionNotFound
}

// UpdateSession applies a title patch optimistically to the in-memory list
// and, in cloud mode, writes it through. Cloud failures keep the optimistic
// state and land in the sync state.
func (s *Service) UpdateSession(ctx context.Context, id string, title *string) (chat.SessionWithMessages, error) {
	now := time.Now().UnixMilli()

	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return chat.SessionWithMessages{}, ErrSessionNotFound
	}
	if title != nil {
		s.sessions[idx].Title = *title
	}
	s.sessions[idx].UpdatedAt = now
	if s.current != nil && s.current.ID == id {
		if title != nil {
			s.current.Title = *title
		}
		s.current.UpdatedAt = now
	}
	updated := s.sessions[idx]
	cloudMode := s.cloudMode
	s.mu.Unlock()

	if cloudMode && title != nil {
		if _, err := s.cloud.UpdateSession(ctx, id, title); err != nil {
			s.recordError(err)
			s.log.Warn().Err(err).Str("session_id", id).Msg("cloud title update failed")
		}
	}

	s.persistLocal(ctx, !cloudMode)
	return updated, nil
}

// DeleteSession removes a session from the active store and always from the
// in-memory list. Deleting the open session clears the open-session
// reference so nothing dangles.
func (s *Service) DeleteSession(ctx context.Context, id string) error {
	s.mu.RLock()
	cloudMode := s.cloudMode
	s.mu.RUnlock()

	if cloudMode {
		if err := s.cloud.DeleteSession(ctx, id); err != nil {
			s.recordError(err)
			s.log.Warn().Err(err).Str("session_id", id).Msg("cloud delete failed, removing locally")
		}
	}

	s.mu.Lock()
	idx := s.indexOf(id)
	if idx >= 0 {
		s.sessions = append(s.sessions[:idx], s.sessions[idx+1:]...)
	}
	if s.current != nil && s.current.ID == id {
		s.current = nil
	}
	s.updateSessionGauge()
	s.mu.Unlock()

	if idx < 0 && !cloudMode {
		return ErrSessionNotFound
	}

	s.persistLocal(ctx, !cloudMode)
	return nil
}

// AddMessage appends one turn to a session, preserving append order. In cloud
// mode the relational store assigns id and timestamp; a transport failure
// still appends locally so the transcript the user sees is complete.
func (s *Service) AddMessage(ctx context.Context, sessionID, role, content string) (chat.Message, error) {
	s.mu.RLock()
	cloudMode := s.cloudMode
	known := s.indexOf(sessionID) >= 0
	s.mu.RUnlock()

	if !known {
		return chat.Message{}, ErrSessionNotFound
	}

	var message chat.Message
	stored := false
	if cloudMode {
		appended, err := s.cloud.AddMessage(ctx, sessionID, role, content)
		if err != nil {
			s.recordError(err)
			s.log.Warn().Err(err).Str("session_id", sessionID).Msg("cloud append failed, keeping message locally")
		} else {
			message = appended
			stored = true
		}
	}
	if !stored {
		message = chat.Message{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Role:      role,
			Content:   content,
			Timestamp: time.Now().UnixMilli(),
		}
	}

	s.mu.Lock()
	if idx := s.indexOf(sessionID); idx >= 0 {
		s.sessions[idx].Messages = append(s.sessions[idx].Messages, message)
		s.sessions[idx].UpdatedAt = message.Timestamp
	}
	if s.current != nil && s.current.ID == sessionID {
		s.current.Messages = append(s.current.Messages, message)
		s.current.UpdatedAt = message.Timestamp
	}
	s.mu.Unlock()

	s.persistLocal(ctx, !cloudMode)
	return message, nil
}

// RefreshSessions reloads the unified view from the active store.
func (s *Service) RefreshSessions(ctx context.Context) error {
	s.mu.RLock()
	cloudMode := s.cloudMode
	s.mu.RUnlock()

	if cloudMode {
		return s.SyncFromCloud(ctx)
	}
	return s.reloadFromLocal(ctx)
}

// SyncFromCloud replaces the in-memory list with the cloud view and merges in
// any session that exists only in the local cache. The merge is additive: a
// cloud session is never deleted or overwritten because of local state.
func (s *Service) SyncFromCloud(ctx context.Context) error {
	s.mu.Lock()
	if !s.cloudMode {
		s.mu.Unlock()
		return ErrCloudDisabled
	}
	s.state.SyncStatus = syncmodel.StatusSyncing
	s.mu.Unlock()

	cloudSessions, err := s.cloud.ListSessions(ctx, 100)
	if err != nil {
		return s.failSync(ctx, err)
	}

	view := make([]chat.SessionWithMessages, 0, len(cloudSessions))
	for _, meta := range cloudSessions {
		messages, err := s.cloud.ListMessages(ctx, meta.ID, 100)
		if err != nil {
			return s.failSync(ctx, err)
		}
		view = append(view, chat.SessionWithMessages{
			ID:        meta.ID,
			Title:     meta.Title,
			CreatedAt: meta.CreatedAt,
			UpdatedAt: meta.UpdatedAt,
			Messages:  messages,
		})
	}

	cloudIDs := make(map[string]struct{}, len(view))
	for _, session := range view {
		cloudIDs[session.ID] = struct{}{}
	}

	localSessions, err := s.local.LoadSessions(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to read local cache during sync, skipping merge")
	}
	for _, session := range localSessions {
		if _, exists := cloudIDs[session.ID]; !exists {
			view = append(view, session)
		}
	}

	now := time.Now()
	s.mu.Lock()
	s.sessions = view
	s.state.SyncStatus = syncmodel.StatusSuccess
	s.state.LastSyncTime = now
	s.state.LastError = ""
	s.updateSessionGauge()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SyncRunsTotal.WithLabelValues("success").Inc()
		s.metrics.SyncLastSuccess.Set(float64(now.Unix()))
	}

	s.persistLocal(ctx, false)
	if err := s.local.SetLastSync(ctx, now); err != nil {
		s.log.Warn().Err(err).Msg("failed to record last sync time")
	}

	s.log.Info().Int("sessions", len(view)).Msg("synced sessions from cloud")
	return nil
}

func (s *Service) failSync(ctx context.Context, err error) error {
	s.mu.Lock()
	s.state.SyncStatus = syncmodel.StatusError
	s.state.LastError = err.Error()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SyncRunsTotal.WithLabelValues("error").Inc()
	}

	// Repopulate from the local cache so the UI is never left empty.
	if lerr := s.reloadFromLocal(ctx); lerr != nil {
		s.log.Warn().Err(lerr).Msg("local fallback reload failed")
	}
	return err
}

// SyncToCloud is an explicit hook for future bulk upload. Dual-write at
// message-send time is the actual sync mechanism, so this intentionally
// transfers nothing.
func (s *Service) SyncToCloud(_ context.Context) error {
	return nil
}

// ManualSync re-probes cloud availability and, when reachable, runs a full
// resync. This is the only path that reevaluates the startup mode decision.
func (s *Service) ManualSync(ctx context.Context) error {
	available := s.cloud != nil && s.cloud.IsAvailable(ctx)

	s.mu.Lock()
	s.cloudMode = available
	s.state.CloudEnabled = available
	s.mu.Unlock()

	if !available {
		return s.reloadFromLocal(ctx)
	}
	return s.SyncFromCloud(ctx)
}

// MigrateToCloud replays every locally cached session into the cloud store,
// then resyncs. There is no partial-failure rollback and no idempotency
// guard: retrying after a failure duplicates sessions already migrated.
func (s *Service) MigrateToCloud(ctx context.Context) (int, error) {
	s.mu.RLock()
	cloudMode := s.cloudMode
	s.mu.RUnlock()
	if !cloudMode {
		return 0, ErrCloudDisabled
	}

	localSessions, err := s.local.LoadSessions(ctx)
	if err != nil {
		return 0, err
	}

	migrated := 0
	for _, session := range localSessions {
		created, err := s.cloud.CreateSession(ctx, session.Title)
		if err != nil {
			return migrated, err
		}
		for _, msg := range session.Messages {
			if _, err := s.cloud.AddMessage(ctx, created.ID, msg.Role, msg.Content); err != nil {
				return migrated, err
			}
		}
		migrated++
	}

	s.log.Info().Int("migrated", migrated).Msg("migrated local sessions to cloud")
	return migrated, s.SyncFromCloud(ctx)
}

// SearchMessages finds messages matching query. Cloud mode delegates to the
// relational store; local mode scans every in-memory transcript with a
// case-insensitive substring match.
func (s *Service) SearchMessages(ctx context.Context, query string, limit int) ([]chat.SearchHit, error) {
	if limit <= 0 {
		limit = 20
	}

	s.mu.RLock()
	cloudMode := s.cloudMode
	s.mu.RUnlock()

	if cloudMode {
		hits, err := s.cloud.SearchMessages(ctx, query, limit)
		if err == nil {
			return hits, nil
		}
		s.recordError(err)
		s.log.Warn().Err(err).Msg("cloud search failed, scanning local view")
	}

	needle := strings.ToLower(query)
	var hits []chat.SearchHit

	s.mu.RLock()
	for _, session := range s.sessions {
		for _, msg := range session.Messages {
			if strings.Contains(strings.ToLower(msg.Content), needle) {
				hits = append(hits, chat.SearchHit{Message: msg, SessionTitle: session.Title})
			}
		}
	}
	s.mu.RUnlock()

	// Collect everything before truncating so the limit keeps the newest
	// matches overall, not the first sessions scanned.
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Timestamp > hits[j].Timestamp })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Stats delegates to the cloud store in cloud mode, otherwise computes counts
// from the in-memory view.
func (s *Service) Stats(ctx context.Context) chat.Stats {
	s.mu.RLock()
	cloudMode := s.cloudMode
	s.mu.RUnlock()

	if cloudMode {
		return s.cloud.Stats(ctx)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := chat.Stats{Enabled: false, DatabaseName: "local", SessionCount: len(s.sessions)}
	for _, session := range s.sessions {
		stats.MessageCount += len(session.Messages)
	}
	return stats
}

// Sessions returns a snapshot of the unified session list.
func (s *Service) Sessions() []chat.SessionWithMessages {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copied := make([]chat.SessionWithMessages, len(s.sessions))
	copy(copied, s.sessions)
	return copied
}

// Current returns the currently open session, if any.
func (s *Service) Current() (chat.SessionWithMessages, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return chat.SessionWithMessages{}, false
	}
	return *s.current, true
}

// State returns a snapshot of the sync state.
func (s *Service) State() syncmodel.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// CloudMode reports whether the orchestrator currently writes to the cloud.
func (s *Service) CloudMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cloudMode
}

func (s *Service) reloadFromLocal(ctx context.Context) error {
	sessions, err := s.local.LoadSessions(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.sessions = sessions
	s.updateSessionGauge()
	s.mu.Unlock()
	return nil
}

// persistLocal writes the current view to the local cache. In local mode the
// write is mandatory; in cloud mode it is an opportunistic backup and
// failures are only logged.
func (s *Service) persistLocal(ctx context.Context, mandatory bool) {
	s.mu.RLock()
	snapshot := make([]chat.SessionWithMessages, len(s.sessions))
	copy(snapshot, s.sessions)
	s.mu.RUnlock()

	err := s.local.SaveSessions(ctx, snapshot)
	if err != nil {
		if mandatory {
			s.recordError(err)
		}
		s.log.Warn().Err(err).Msg("failed to persist local cache")
		return
	}
	if s.metrics != nil {
		s.metrics.LocalWritesTotal.Inc()
	}
}

func (s *Service) recordError(err error) {
	s.mu.Lock()
	s.state.LastError = err.Error()
	s.mu.Unlock()
}

// indexOf must be called with s.mu held.
func (s *Service) indexOf(id string) int {
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

// replaceInList must be called with s.mu held.
func (s *Service) replaceInList(session chat.SessionWithMessages) {
	for i := range s.sessions {
		if s.sessions[i].ID == session.ID {
			s.sessions[i] = session
			return
		}
	}
	s.sessions = append(s.sessions, session)
}

// updateSessionGauge must be called with s.mu held.
func (s *Service) updateSessionGauge() {
	if s.metrics != nil {
		s.metrics.SessionsInMemory.Set(float64(len(s.sessions)))
	}
}
