// Package cloud is the stateless typed transport to the Cloudflare D1
// database holding the canonical chat history. Every operation is one HTTP
// round trip against the D1 query endpoint; failures propagate as typed
// errors with no retry at this layer.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/marvinli001/project-yuzuriha/internal/metrics"
	"github.com/marvinli001/project-yuzuriha/internal/model/chat"
)

// Config holds D1 connection configuration.
type Config struct {
	AccountID    string
	DatabaseID   string
	APIToken     string
	DatabaseName string

	// BaseURL overrides the Cloudflare endpoint, used by tests.
	BaseURL string
	// HTTPClient overrides the default client, used by tests.
	HTTPClient *http.Client
	// Metrics, when set, counts every round trip by operation and status.
	Metrics *metrics.Metrics
}

// Client implements HistoryStore over the D1 HTTP API.
type Client struct {
	baseURL      string
	token        string
	databaseName string
	httpClient   *http.Client
	metrics      *metrics.Metrics
	log          zerolog.Logger
}

// New creates a D1 client. The credential is static for the process lifetime.
func New(cfg Config, log zerolog.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://api.cloudflare.com/client/v4/accounts/%s/d1/database/%s",
			cfg.AccountID, cfg.DatabaseID)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		baseURL:      baseURL,
		token:        cfg.APIToken,
		databaseName: cfg.DatabaseName,
		httpClient:   httpClient,
		metrics:      cfg.Metrics,
		log:          log,
	}
}

func (c *Client) countCall(op, status string) {
	if c.metrics != nil {
		c.metrics.CloudCallsTotal.WithLabelValues(op, status).Inc()
	}
}

type d1Query struct {
	SQL    string `json:"sql"`
	Params []any  `json:"params"`
}

type d1Result struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
}

// execQuery runs one SQL statement and unmarshals the result rows into out
// when out is non-nil.
func (c *Client) execQuery(ctx context.Context, op, sql string, params []any, out any) error {
	if params == nil {
		params = []any{}
	}

	body, err := json.Marshal(d1Query{SQL: sql, Params: params})
	if err != nil {
		return err
	}

	raw, err := c.post(ctx, op, body)
	if err != nil {
		return err
	}

	var result d1Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("cloud history %s: failed to decode response: %w", op, err)
	}
	if !result.Success {
		return &TransportError{Op: op, Status: http.StatusOK, Body: string(raw)}
	}

	if out != nil && len(result.Result) > 0 {
		if err := json.Unmarshal(result.Result, out); err != nil {
			return fmt.Errorf("cloud history %s: failed to decode rows: %w", op, err)
		}
	}
	return nil
}

// execBatch runs several statements in one request. When the endpoint rejects
// the batch form, each statement is retried sequentially.
func (c *Client) execBatch(ctx context.Context, op string, queries []d1Query) error {
	for i := range queries {
		if queries[i].Params == nil {
			queries[i].Params = []any{}
		}
	}

	body, err := json.Marshal(queries)
	if err != nil {
		return err
	}

	if _, err := c.post(ctx, op, body); err != nil {
		te, ok := err.(*TransportError)
		if !ok {
			return err
		}

		c.log.Warn().Int("status", te.Status).Str("op", op).
			Msg("batch query rejected, falling back to sequential execution")
		for _, q := range queries {
			if qerr := c.execQuery(ctx, op, q.SQL, q.Params, nil); qerr != nil {
				return qerr
			}
		}
	}
	return nil
}

func (c *Client) post(ctx context.Context, op string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.countCall(op, "error")
		return nil, fmt.Errorf("cloud history %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.countCall(op, "error")
		return nil, fmt.Errorf("cloud history %s: failed to read response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.countCall(op, "error")
		return nil, &TransportError{Op: op, Status: resp.StatusCode, Body: string(raw)}
	}

	c.countCall(op, "success")
	return raw, nil
}

// ListSessions implements HistoryStore.
func (c *Client) ListSessions(ctx context.Context, limit int) ([]chat.Session, error) {
	if limit <= 0 {
		limit = 50
	}

	var sessions []chat.Session
	err := c.execQuery(ctx, "list sessions",
		`SELECT id, title, created_at, updated_at
		 FROM chat_sessions
		 ORDER BY updated_at DESC
		 LIMIT ?`,
		[]any{limit}, &sessions)
	if err != nil {
		return nil, err
	}

	if sessions == nil {
		sessions = []chat.Session{}
	}
	return sessions, nil
}

// CreateSession implements HistoryStore.
func (c *Client) CreateSession(ctx context.Context, title string) (chat.Session, error) {
	session := chat.Session{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: time.Now().UnixMilli(),
	}
	session.UpdatedAt = session.CreatedAt

	err := c.execQuery(ctx, "create session",
		`INSERT INTO chat_sessions (id, title, created_at, updated_at)
		 VALUES (?, ?, ?, ?)`,
		[]any{session.ID, session.Title, session.CreatedAt, session.UpdatedAt}, nil)
	if err != nil {
		return chat.Session{}, err
	}

	c.log.Info().Str("session_id", session.ID).Msg("created chat session")
	return session, nil
}

// GetSession implements HistoryStore.
func (c *Client) GetSession(ctx context.Context, id string) (chat.Session, error) {
	var sessions []chat.Session
	err := c.execQuery(ctx, "get session",
		`SELECT id, title, created_at, updated_at
		 FROM chat_sessions
		 WHERE id = ?`,
		[]any{id}, &sessions)
	if err != nil {
		return chat.Session{}, err
	}

	if len(sessions) == 0 {
		return chat.Session{}, ErrNotFound
	}
	return sessions[0], nil
}

// UpdateSession implements HistoryStore.
func (c *Client) UpdateSession(ctx context.Context, id string, title *string) (chat.Session, error) {
	if _, err := c.GetSession(ctx, id); err != nil {
		return chat.Session{}, err
	}

	now := time.Now().UnixMilli()
	var err error
	if title != nil {
		err = c.execQuery(ctx, "update session",
			`UPDATE chat_sessions SET title = ?, updated_at = ? WHERE id = ?`,
			[]any{*title, now, id}, nil)
	} else {
		err = c.execQuery(ctx, "update session",
			`UPDATE chat_sessions SET updated_at = ? WHERE id = ?`,
			[]any{now, id}, nil)
	}
	if err != nil {
		return chat.Session{}, err
	}

	return c.GetSession(ctx, id)
}

// DeleteSession implements HistoryStore. Messages go first so the store never
// holds orphaned rows.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	err := c.execBatch(ctx, "delete session", []d1Query{
		{SQL: `DELETE FROM chat_messages WHERE session_id = ?`, Params: []any{id}},
		{SQL: `DELETE FROM chat_sessions WHERE id = ?`, Params: []any{id}},
	})
	if err != nil {
		return err
	}

	c.log.Info().Str("session_id", id).Msg("deleted chat session")
	return nil
}

// ListMessages implements HistoryStore.
func (c *Client) ListMessages(ctx context.Context, sessionID string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = 100
	}

	var messages []chat.Message
	err := c.execQuery(ctx, "list messages",
		`SELECT id, session_id, role, content, timestamp
		 FROM chat_messages
		 WHERE session_id = ?
		 ORDER BY timestamp ASC
		 LIMIT ?`,
		[]any{sessionID, limit}, &messages)
	if err != nil {
		return nil, err
	}

	if messages == nil {
		messages = []chat.Message{}
	}
	return messages, nil
}

// AddMessage implements HistoryStore. The insert and the session's
// updated_at bump travel in one batch.
func (c *Client) AddMessage(ctx context.Context, sessionID, role, content string) (chat.Message, error) {
	message := chat.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}

	err := c.execBatch(ctx, "add message", []d1Query{
		{
			SQL:    `INSERT INTO chat_messages (id, session_id, role, content, timestamp) VALUES (?, ?, ?, ?, ?)`,
			Params: []any{message.ID, message.SessionID, message.Role, message.Content, message.Timestamp},
		},
		{
			SQL:    `UPDATE chat_sessions SET updated_at = ? WHERE id = ?`,
			Params: []any{message.Timestamp, sessionID},
		},
	})
	if err != nil {
		return chat.Message{}, err
	}

	return message, nil
}

type searchRow struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	Title     string `json:"title"`
}

// SearchMessages implements HistoryStore with a LIKE scan joined against the
// session table for titles.
func (c *Client) SearchMessages(ctx context.Context, query string, limit int) ([]chat.SearchHit, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows []searchRow
	err := c.execQuery(ctx, "search messages",
		`SELECT m.id, m.session_id, m.role, m.content, m.timestamp, s.title
		 FROM chat_messages m
		 JOIN chat_sessions s ON m.session_id = s.id
		 WHERE m.content LIKE ?
		 ORDER BY m.timestamp DESC
		 LIMIT ?`,
		[]any{"%" + query + "%", limit}, &rows)
	if err != nil {
		return nil, err
	}

	hits := make([]chat.SearchHit, 0, len(rows))
	for _, row := range rows {
		hits = append(hits, chat.SearchHit{
			Message: chat.Message{
				ID:        row.ID,
				SessionID: row.SessionID,
				Role:      row.Role,
				Content:   row.Content,
				Timestamp: row.Timestamp,
			},
			SessionTitle: row.Title,
		})
	}
	return hits, nil
}

type countRow struct {
	Count int `json:"count"`
}

// Stats implements HistoryStore. Errors are folded into the Error field so
// the availability probe can treat any failure as "not available" without
// special cases.
func (c *Client) Stats(ctx context.Context) chat.Stats {
	stats := chat.Stats{Enabled: true, DatabaseName: c.databaseName}

	var sessions []countRow
	if err := c.execQuery(ctx, "stats",
		`SELECT COUNT(*) AS count FROM chat_sessions`, nil, &sessions); err != nil {
		stats.Error = err.Error()
		return stats
	}

	var messages []countRow
	if err := c.execQuery(ctx, "stats",
		`SELECT COUNT(*) AS count FROM chat_messages`, nil, &messages); err != nil {
		stats.Error = err.Error()
		return stats
	}

	if len(sessions) > 0 {
		stats.SessionCount = sessions[0].Count
	}
	if len(messages) > 0 {
		stats.MessageCount = messages[0].Count
	}
	return stats
}

// IsAvailable implements HistoryStore.
func (c *Client) IsAvailable(ctx context.Context) bool {
	return c.Stats(ctx).Error == ""
}

// Compile-time check that Client implements HistoryStore.
var _ HistoryStore = (*Client)(nil)
