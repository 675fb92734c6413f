// Package voice exposes speech-to-text transcription.
package voice

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	aiService "github.com/marvinli001/project-yuzuriha/internal/service/ai"
	"github.com/marvinli001/project-yuzuriha/pkg/utils"
)

// Whisper rejects payloads larger than this.
const maxAudioBytes = 25 << 20

var supportedAudio = map[string]bool{
	".mp3":  true,
	".mp4":  true,
	".mpeg": true,
	".mpga": true,
	".m4a":  true,
	".wav":  true,
	".webm": true,
	".ogg":  true,
	".flac": true,
}

// Handler serves audio transcription.
type Handler struct {
	ai *aiService.Service
}

// New creates the voice handler.
func New(ai *aiService.Service) *Handler {
	return &Handler{ai: ai}
}

// RegisterRoutes mounts the voice routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/voice/transcribe", h.handleTranscribe)
}

func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if h.ai == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "ai service not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAudioBytes)
	if err := r.ParseMultipartForm(maxAudioBytes); err != nil {
		utils.RespondError(w, http.StatusRequestEntityTooLarge, "audio file too large")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !supportedAudio[ext] {
		utils.RespondError(w, http.StatusBadRequest, "unsupported audio format: "+ext)
		return
	}

	language := r.FormValue("language")

	text, err := h.ai.Transcribe(r.Context(), file, header.Filename, language)
	if err != nil {
		if aiService.IsAuthError(err) {
			utils.RespondError(w, http.StatusUnauthorized, "upstream model rejected credentials")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"text":     text,
		"filename": header.Filename,
	})
}
