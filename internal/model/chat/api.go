package chat

// Request/response shapes for the session and chat HTTP surface. These mirror
// the relational store's records one-to-one.

// CreateSessionRequest creates a new session.
type CreateSessionRequest struct {
	Title string `json:"title"`
}

// UpdateSessionRequest renames a session. A nil title leaves it untouched and
// only bumps updated_at.
type UpdateSessionRequest struct {
	Title *string `json:"title,omitempty"`
}

// AddMessageRequest appends one turn to a session.
type AddMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SessionsResponse lists sessions.
type SessionsResponse struct {
	Sessions []Session `json:"sessions"`
	Total    int       `json:"total"`
}

// SessionResponse wraps a single session.
type SessionResponse struct {
	Session Session `json:"session"`
}

// MessagesResponse lists a session's messages.
type MessagesResponse struct {
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
}

// MessageResponse wraps a single message.
type MessageResponse struct {
	Message Message `json:"message"`
}

// SearchResponse lists messages matching a query.
type SearchResponse struct {
	Messages []SearchHit `json:"messages"`
	Query    string      `json:"query"`
	Total    int         `json:"total"`
}

// Stats reports store availability and record counts.
type Stats struct {
	Enabled      bool   `json:"enabled"`
	SessionCount int    `json:"session_count"`
	MessageCount int    `json:"message_count"`
	DatabaseName string `json:"database_name"`
	Error        string `json:"error,omitempty"`
}

// DeleteResponse acknowledges a delete.
type DeleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ChatRequest is one turn of the chat pipeline.
type ChatRequest struct {
	Message   string    `json:"message"`
	History   []Message `json:"history"`
	SessionID string    `json:"session_id,omitempty"`
}

// ChatResponse carries the model's reply.
type ChatResponse struct {
	Response     string `json:"response"`
	MemoryStored bool   `json:"memory_stored"`
}
