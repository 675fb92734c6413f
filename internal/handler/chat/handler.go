// Package chat exposes the chat pipeline and the memory browsing routes.
package chat

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	chatModel "github.com/marvinli001/project-yuzuriha/internal/model/chat"
	aiService "github.com/marvinli001/project-yuzuriha/internal/service/ai"
	chatService "github.com/marvinli001/project-yuzuriha/internal/service/chat"
	memoryService "github.com/marvinli001/project-yuzuriha/internal/service/memory"
	"github.com/marvinli001/project-yuzuriha/pkg/utils"
)

// Handler serves chat completions and memory inspection.
type Handler struct {
	pipeline *chatService.Service
	memory   *memoryService.Service
}

// New creates the chat handler. Either dependency may be nil when the
// corresponding backend is not configured.
func New(pipeline *chatService.Service, memory *memoryService.Service) *Handler {
	return &Handler{pipeline: pipeline, memory: memory}
}

// RegisterRoutes mounts the chat routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
	r.Get("/memories", h.handleListMemories)
	r.Delete("/memories", h.handleClearMemories)
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	if h.pipeline == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "ai service not configured")
		return
	}

	var payload chatModel.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Message == "" {
		utils.RespondError(w, http.StatusBadRequest, "message is required")
		return
	}

	response, err := h.pipeline.Chat(r.Context(), payload)
	if err != nil {
		if aiService.IsAuthError(err) {
			utils.RespondError(w, http.StatusUnauthorized, "upstream model rejected credentials")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, response)
}

func (h *Handler) handleListMemories(w http.ResponseWriter, r *http.Request) {
	if h.memory == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "memory service not configured")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			utils.RespondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	memories, err := h.memory.RecentMemories(r.Context(), limit)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"memories": memories,
		"total":    len(memories),
	})
}

func (h *Handler) handleClearMemories(w http.ResponseWriter, r *http.Request) {
	if h.memory == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "memory service not configured")
		return
	}

	if err := h.memory.ClearAll(r.Context()); err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "all memories cleared",
	})
}
