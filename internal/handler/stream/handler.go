// Package stream serves model completions over Server-Sent Events.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	chatModel "github.com/marvinli001/project-yuzuriha/internal/model/chat"
	aiService "github.com/marvinli001/project-yuzuriha/internal/service/ai"
	chatService "github.com/marvinli001/project-yuzuriha/internal/service/chat"
	historyService "github.com/marvinli001/project-yuzuriha/internal/service/history"
	"github.com/marvinli001/project-yuzuriha/pkg/utils"
)

// Handler streams AI responses chunk by chunk.
type Handler struct {
	ai       *aiService.Service
	pipeline *chatService.Service
	history  *historyService.Service
}

// New creates the stream handler.
func New(ai *aiService.Service, pipeline *chatService.Service, history *historyService.Service) *Handler {
	return &Handler{ai: ai, pipeline: pipeline, history: history}
}

// Chunk is the payload of one SSE frame. Lifecycle frames travel as named
// events; token frames are plain data frames carrying the Event field.
type Chunk struct {
	Event     string `json:"event,omitempty"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HandleStreamRequest streams a completion for message over SSE. When a
// session id is given, the session transcript seeds the prompt context and
// the finished exchange is appended to it.
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, sessionID, message string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming unsupported")
	}

	utils.SetupSSEHeaders(w)

	req := chatModel.ChatRequest{Message: message, SessionID: sessionID}
	if sessionID != "" && h.history != nil {
		session, err := h.history.LoadSession(ctx, sessionID)
		if err != nil {
			if errors.Is(err, historyService.ErrSessionNotFound) {
				h.sendError(w, flusher, "session not found")
				return err
			}
			h.sendError(w, flusher, "failed to load session")
			return err
		}
		req.History = session.Messages
	}

	contextBlock := h.pipeline.ContextFor(ctx, req)

	stream, err := h.ai.StreamResponse(ctx, message, contextBlock)
	if err != nil {
		h.sendError(w, flusher, fmt.Sprintf("completion failed: %v", err))
		return err
	}
	defer stream.Close()

	utils.SendSSEEvent(w, flusher, "start", Chunk{SessionID: sessionID})

	var full string
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			h.sendError(w, flusher, fmt.Sprintf("stream interrupted: %v", err))
			return err
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}

		full += delta
		utils.SendSSEChunk(w, flusher, Chunk{Event: "chunk", Content: delta})
	}

	h.pipeline.Record(req, full)

	utils.SendSSEEvent(w, flusher, "done", Chunk{SessionID: sessionID, Finished: true})
	return nil
}

func (h *Handler) sendError(w http.ResponseWriter, flusher http.Flusher, message string) {
	utils.SendSSEEvent(w, flusher, "error", Chunk{Error: message})
}
