package cloud

import (
	"context"

	"github.com/marvinli001/project-yuzuriha/internal/model/chat"
)

// HistoryStore is the typed surface of the relational chat-history store.
// The orchestrator depends on this interface so tests can substitute the
// transport.
type HistoryStore interface {
	// ListSessions returns sessions ordered by most recently updated.
	ListSessions(ctx context.Context, limit int) ([]chat.Session, error)

	// CreateSession inserts a new session and returns it.
	CreateSession(ctx context.Context, title string) (chat.Session, error)

	// GetSession returns one session, or ErrNotFound.
	GetSession(ctx context.Context, id string) (chat.Session, error)

	// UpdateSession renames a session (nil title only bumps updated_at) and
	// returns the updated record.
	UpdateSession(ctx context.Context, id string, title *string) (chat.Session, error)

	// DeleteSession removes a session and all of its messages.
	DeleteSession(ctx context.Context, id string) error

	// ListMessages returns a session's messages in chronological order.
	ListMessages(ctx context.Context, sessionID string, limit int) ([]chat.Message, error)

	// AddMessage appends a turn; the store assigns the id and timestamp.
	AddMessage(ctx context.Context, sessionID, role, content string) (chat.Message, error)

	// SearchMessages finds messages whose content contains query, annotated
	// with the owning session's title.
	SearchMessages(ctx context.Context, query string, limit int) ([]chat.SearchHit, error)

	// Stats reports availability and record counts. Failures are folded into
	// the Error field rather than returned.
	Stats(ctx context.Context) chat.Stats

	// IsAvailable probes the store via Stats. It never returns an error.
	IsAvailable(ctx context.Context) bool
}
