// Package ws serves interactive chat over a WebSocket connection. Each
// inbound chat message is answered with streamed completion deltas followed
// by a final frame.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	chatModel "github.com/marvinli001/project-yuzuriha/internal/model/chat"
	aiService "github.com/marvinli001/project-yuzuriha/internal/service/ai"
	chatService "github.com/marvinli001/project-yuzuriha/internal/service/chat"
	historyService "github.com/marvinli001/project-yuzuriha/internal/service/history"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
)

// Handler upgrades connections and drives the chat exchange loop.
type Handler struct {
	ai       *aiService.Service
	pipeline *chatService.Service
	history  *historyService.Service
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// New creates the WebSocket handler.
func New(ai *aiService.Service, pipeline *chatService.Service, history *historyService.Service, log zerolog.Logger) *Handler {
	return &Handler{
		ai:       ai,
		pipeline: pipeline,
		history:  history,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log: log,
	}
}

// RegisterRoutes mounts the WebSocket route on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/chat", h.handleConnection)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Data      json.RawMessage `json:"data"`
}

type chatPayload struct {
	Message string `json:"message"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// wsConn serializes writes: the ping loop and the exchange loop share one
// connection, and gorilla/websocket allows only one concurrent writer.
type wsConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(websocket.PingMessage, nil)
}

func (h *Handler) handleConnection(w http.ResponseWriter, r *http.Request) {
	if h.ai == nil || h.pipeline == nil {
		http.Error(w, "ai service unavailable", http.StatusServiceUnavailable)
		return
	}

	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn := &wsConn{Conn: raw}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go h.pingLoop(ctx, conn)

	h.send(conn, "", map[string]any{"type": "connected"})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			var msg inboundMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.log.Warn().Err(err).Msg("websocket read error")
				}
				return
			}

			conn.SetReadDeadline(time.Now().Add(readTimeout))
			h.handleMessage(ctx, conn, &msg)
		}
	}
}

func (h *Handler) handleMessage(ctx context.Context, conn *wsConn, msg *inboundMessage) {
	switch msg.Type {
	case "chat":
		h.handleChat(ctx, conn, msg)
	case "ping":
		h.send(conn, msg.SessionID, map[string]any{"type": "pong"})
	default:
		h.sendError(conn, "unsupported message type: "+msg.Type)
	}
}

func (h *Handler) handleChat(ctx context.Context, conn *wsConn, msg *inboundMessage) {
	var payload chatPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		h.sendError(conn, "invalid chat payload")
		return
	}
	if payload.Message == "" {
		h.sendError(conn, "message is required")
		return
	}

	req := chatModel.ChatRequest{Message: payload.Message, SessionID: msg.SessionID}
	if msg.SessionID != "" && h.history != nil {
		session, err := h.history.LoadSession(ctx, msg.SessionID)
		if err != nil {
			if errors.Is(err, historyService.ErrSessionNotFound) {
				h.sendError(conn, "session not found")
				return
			}
			h.log.Warn().Err(err).Str("session_id", msg.SessionID).Msg("failed to load session transcript")
		} else {
			req.History = session.Messages
		}
	}

	contextBlock := h.pipeline.ContextFor(ctx, req)

	stream, err := h.ai.StreamResponse(ctx, payload.Message, contextBlock)
	if err != nil {
		h.sendError(conn, "completion failed: "+err.Error())
		return
	}
	defer stream.Close()

	var full string
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			h.sendError(conn, "stream interrupted: "+recvErr.Error())
			return
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}

		full += delta
		h.send(conn, msg.SessionID, map[string]any{
			"type": "ai_delta",
			"text": delta,
		})
	}

	h.pipeline.Record(req, full)

	h.send(conn, msg.SessionID, map[string]any{
		"type":    "ai",
		"text":    full,
		"isFinal": true,
	})
}

func (h *Handler) send(conn *wsConn, sessionID string, data map[string]any) {
	msg := outgoingMessage{
		Type:      "result",
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	if err := conn.writeJSON(msg); err != nil {
		h.log.Warn().Err(err).Msg("websocket write failed")
	}
}

func (h *Handler) sendError(conn *wsConn, message string) {
	msg := outgoingMessage{
		Type:      "error",
		Data:      map[string]string{"message": message},
		Timestamp: time.Now().Unix(),
	}
	if err := conn.writeJSON(msg); err != nil {
		h.log.Warn().Err(err).Msg("websocket write failed")
	}
}

func (h *Handler) pingLoop(ctx context.Context, conn *wsConn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		}
	}
}
