package chat

// Session is a stored conversation. Timestamps are Unix milliseconds, the
// representation the relational store keeps.
type Session struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// SessionWithMessages bundles a session with its ordered transcript. This is
// the unit the local cache serializes and the orchestrator holds in memory.
type SessionWithMessages struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt int64     `json:"created_at"`
	UpdatedAt int64     `json:"updated_at"`
	Messages  []Message `json:"messages"`
}

// Meta returns the session without its transcript.
func (s SessionWithMessages) Meta() Session {
	return Session{ID: s.ID, Title: s.Title, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt}
}
