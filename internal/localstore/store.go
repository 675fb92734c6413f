// Package localstore is the durable local cache of chat sessions. The whole
// session list is kept under a single key and read-modify-written on each
// change; a second key records the last successful cloud sync. It is the
// source of truth whenever the relational store is unreachable.
package localstore

import (
	"context"
	"time"

	"github.com/marvinli001/project-yuzuriha/internal/model/chat"
)

// Store persists the session list as one serialized blob.
type Store interface {
	// LoadSessions returns every cached session. A missing blob yields an
	// empty slice, not an error.
	LoadSessions(ctx context.Context) ([]chat.SessionWithMessages, error)

	// SaveSessions replaces the cached session list wholesale.
	SaveSessions(ctx context.Context, sessions []chat.SessionWithMessages) error

	// LastSync returns the recorded last successful sync time, or the zero
	// time when none has been recorded.
	LastSync(ctx context.Context) (time.Time, error)

	// SetLastSync records a successful sync time.
	SetLastSync(ctx context.Context, t time.Time) error

	// Close releases any resources held by the store.
	Close() error
}
