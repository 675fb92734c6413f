// Package session exposes the conversation history over HTTP: session CRUD,
// message append, search, stats, and the cloud sync controls.
package session

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/marvinli001/project-yuzuriha/internal/model/chat"
	historyService "github.com/marvinli001/project-yuzuriha/internal/service/history"
	"github.com/marvinli001/project-yuzuriha/pkg/utils"
)

// Handler serves the chat history routes.
type Handler struct {
	history *historyService.Service
}

// New creates the history handler.
func New(history *historyService.Service) *Handler {
	return &Handler{history: history}
}

// RegisterRoutes mounts the history routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions", h.handleListSessions)
	r.Post("/sessions", h.handleCreateSession)
	r.Get("/sessions/{sessionID}", h.handleLoadSession)
	r.Put("/sessions/{sessionID}", h.handleUpdateSession)
	r.Delete("/sessions/{sessionID}", h.handleDeleteSession)
	r.Get("/sessions/{sessionID}/messages", h.handleListMessages)
	r.Post("/sessions/{sessionID}/messages", h.handleAddMessage)
	r.Get("/search", h.handleSearch)
	r.Get("/stats", h.handleStats)
	r.Get("/sync/status", h.handleSyncStatus)
	r.Post("/sync", h.handleManualSync)
	r.Post("/migrate", h.handleMigrate)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.history.Sessions()

	metas := make([]chat.Session, 0, len(sessions))
	for _, s := range sessions {
		metas = append(metas, s.Meta())
	}

	utils.RespondJSON(w, http.StatusOK, chat.SessionsResponse{
		Sessions: metas,
		Total:    len(metas),
	})
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload chat.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.history.CreateSession(r.Context(), payload.Title)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusCreated, chat.SessionResponse{Session: session.Meta()})
}

func (h *Handler) handleLoadSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	session, err := h.history.LoadSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, historyService.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, "session not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	var payload chat.UpdateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.history.UpdateSession(r.Context(), id, payload.Title)
	if err != nil {
		if errors.Is(err, historyService.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, "session not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, chat.SessionResponse{Session: session.Meta()})
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	if err := h.history.DeleteSession(r.Context(), id); err != nil {
		if errors.Is(err, historyService.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, "session not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, chat.DeleteResponse{
		Success: true,
		Message: "session deleted",
	})
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	session, err := h.history.LoadSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, historyService.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, "session not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, chat.MessagesResponse{
		Messages: session.Messages,
		Total:    len(session.Messages),
	})
}

func (h *Handler) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	var payload chat.AddMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !chat.ValidRole(payload.Role) {
		utils.RespondError(w, http.StatusBadRequest, "role must be user or assistant")
		return
	}
	if payload.Content == "" {
		utils.RespondError(w, http.StatusBadRequest, "content is required")
		return
	}

	message, err := h.history.AddMessage(r.Context(), id, payload.Role, payload.Content)
	if err != nil {
		if errors.Is(err, historyService.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, "session not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusCreated, chat.MessageResponse{Message: message})
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		utils.RespondError(w, http.StatusBadRequest, "q query parameter is required")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			utils.RespondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	hits, err := h.history.SearchMessages(r.Context(), query, limit)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if hits == nil {
		hits = []chat.SearchHit{}
	}

	utils.RespondJSON(w, http.StatusOK, chat.SearchResponse{
		Messages: hits,
		Query:    query,
		Total:    len(hits),
	})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.history.Stats(r.Context()))
}

func (h *Handler) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.history.State())
}

func (h *Handler) handleManualSync(w http.ResponseWriter, r *http.Request) {
	// Sync failures land in the state rather than the HTTP status; callers
	// read sync_status and last_error from the returned snapshot.
	_ = h.history.ManualSync(r.Context())
	utils.RespondJSON(w, http.StatusOK, h.history.State())
}

func (h *Handler) handleMigrate(w http.ResponseWriter, r *http.Request) {
	migrated, err := h.history.MigrateToCloud(r.Context())
	if err != nil {
		if errors.Is(err, historyService.ErrCloudDisabled) {
			utils.RespondError(w, http.StatusServiceUnavailable, "cloud store not available")
			return
		}
		utils.RespondJSON(w, http.StatusInternalServerError, map[string]any{
			"error":    err.Error(),
			"migrated": migrated,
		})
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"migrated": migrated,
	})
}
