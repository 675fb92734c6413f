// Package upload stores user file uploads on local disk and classifies them
// by extension.
package upload

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/marvinli001/project-yuzuriha/internal/config"
	"github.com/marvinli001/project-yuzuriha/pkg/utils"
)

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".bmp": true,
}

var documentExts = map[string]bool{
	".pdf": true, ".txt": true, ".md": true, ".doc": true, ".docx": true, ".csv": true, ".json": true,
}

var audioExts = map[string]bool{
	".mp3": true, ".wav": true, ".m4a": true, ".ogg": true, ".flac": true, ".webm": true,
}

// Handler serves file uploads.
type Handler struct {
	cfg config.UploadConfig
	log zerolog.Logger
}

// New creates the upload handler.
func New(cfg config.UploadConfig, log zerolog.Logger) *Handler {
	return &Handler{cfg: cfg, log: log}
}

// RegisterRoutes mounts the upload route on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/upload", h.handleUpload)
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxSizeBytes)
	if err := r.ParseMultipartForm(h.cfg.MaxSizeBytes); err != nil {
		utils.RespondError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	stored := uuid.NewString() + ext

	if err := os.MkdirAll(h.cfg.Dir, 0o755); err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to prepare upload directory")
		return
	}

	dst, err := os.Create(filepath.Join(h.cfg.Dir, stored))
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to store file")
		return
	}
	defer dst.Close()

	written, err := io.Copy(dst, file)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to store file")
		return
	}

	h.log.Info().
		Str("filename", header.Filename).
		Str("stored_as", stored).
		Int64("size", written).
		Msg("file uploaded")

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"filename":  header.Filename,
		"stored_as": stored,
		"size":      written,
		"category":  classify(ext),
	})
}

func classify(ext string) string {
	switch {
	case imageExts[ext]:
		return "image"
	case documentExts[ext]:
		return "document"
	case audioExts[ext]:
		return "audio"
	default:
		return "other"
	}
}
