package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/marvinli001/project-yuzuriha/internal/config"
	chatHandler "github.com/marvinli001/project-yuzuriha/internal/handler/chat"
	sessionHandler "github.com/marvinli001/project-yuzuriha/internal/handler/session"
	streamHandler "github.com/marvinli001/project-yuzuriha/internal/handler/stream"
	uploadHandler "github.com/marvinli001/project-yuzuriha/internal/handler/upload"
	voiceHandler "github.com/marvinli001/project-yuzuriha/internal/handler/voice"
	wsHandler "github.com/marvinli001/project-yuzuriha/internal/handler/ws"
	"github.com/marvinli001/project-yuzuriha/internal/metrics"
	middlewarePkg "github.com/marvinli001/project-yuzuriha/internal/middleware"
	aiService "github.com/marvinli001/project-yuzuriha/internal/service/ai"
	chatService "github.com/marvinli001/project-yuzuriha/internal/service/chat"
	historyService "github.com/marvinli001/project-yuzuriha/internal/service/history"
	memoryService "github.com/marvinli001/project-yuzuriha/internal/service/memory"
	"github.com/marvinli001/project-yuzuriha/pkg/utils"
)

// Deps carries the services the router wires to routes. AI, Pipeline and
// Memory may be nil when the corresponding backend is not configured; the
// affected routes then answer 503.
type Deps struct {
	Config   *config.Config
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
	History  *historyService.Service
	Pipeline *chatService.Service
	AI       *aiService.Service
	Memory   *memoryService.Service
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/", handleRoot)
	r.Get("/health", handleHealth(deps))
	r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry, promhttp.HandlerOpts{}))

	sessions := sessionHandler.New(deps.History)
	chats := chatHandler.New(deps.Pipeline, deps.Memory)
	uploads := uploadHandler.New(deps.Config.Upload, deps.Logger)

	r.Route("/api", func(api chi.Router) {
		api.Use(middlewarePkg.BearerAuth(deps.Config.Auth.APISecret))

		api.Route("/chat", func(chat chi.Router) {
			sessions.RegisterRoutes(chat)
		})

		chats.RegisterRoutes(api)
		uploads.RegisterRoutes(api)

		if deps.AI != nil {
			voices := voiceHandler.New(deps.AI)
			voices.RegisterRoutes(api)
		}

		if deps.AI != nil && deps.Pipeline != nil {
			streams := streamHandler.New(deps.AI, deps.Pipeline, deps.History)
			api.Get("/stream", func(w http.ResponseWriter, r *http.Request) {
				message := r.URL.Query().Get("message")
				if message == "" {
					utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
					return
				}
				sessionID := r.URL.Query().Get("session_id")

				if err := streams.HandleStreamRequest(r.Context(), w, sessionID, message); err != nil {
					deps.Logger.Warn().Err(err).Msg("stream request failed")
				}
			})

			sockets := wsHandler.New(deps.AI, deps.Pipeline, deps.History, deps.Logger)
			sockets.RegisterRoutes(api)
		}
	})

	return r
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"message": "Project Yuzuriha API",
		"status":  "running",
	})
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		services := map[string]bool{
			"openai": false,
			"qdrant": false,
			"d1":     false,
		}

		if deps.AI != nil {
			services["openai"] = deps.AI.HealthCheck(r.Context())
		}
		if deps.Memory != nil {
			services["qdrant"] = deps.Memory.HealthCheck(r.Context())
		}
		services["d1"] = deps.History.CloudMode()

		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":   "healthy",
			"services": services,
			"sync":     deps.History.State(),
		})
	}
}
