package chat

// Message roles. No other senders exist in the transcript.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single immutable conversation turn.
type Message struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// ValidRole reports whether role is one of the two transcript roles.
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAssistant
}

// SearchHit is a matched message annotated with the owning session's title.
type SearchHit struct {
	Message
	SessionTitle string `json:"session_title"`
}
