package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/marvinli001/project-yuzuriha/internal/config"
	"github.com/marvinli001/project-yuzuriha/internal/handler"
	"github.com/marvinli001/project-yuzuriha/internal/localstore"
	"github.com/marvinli001/project-yuzuriha/internal/logger"
	"github.com/marvinli001/project-yuzuriha/internal/metrics"
	aiService "github.com/marvinli001/project-yuzuriha/internal/service/ai"
	chatService "github.com/marvinli001/project-yuzuriha/internal/service/chat"
	"github.com/marvinli001/project-yuzuriha/internal/service/cloud"
	historyService "github.com/marvinli001/project-yuzuriha/internal/service/history"
	memoryService "github.com/marvinli001/project-yuzuriha/internal/service/memory"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}

	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
		Output: os.Stderr,
	})
	if envErr != nil {
		log.Debug().Err(envErr).Msg("no .env file loaded, using system environment")
	}

	m := metrics.New()

	local, err := newLocalStore(cfg.LocalStore)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create local store")
	}
	defer local.Close()

	var cloudStore cloud.HistoryStore
	if cfg.Cloud.Enabled() {
		cloudStore = cloud.New(cloud.Config{
			AccountID:    cfg.Cloud.AccountID,
			DatabaseID:   cfg.Cloud.DatabaseID,
			APIToken:     cfg.Cloud.APIToken,
			DatabaseName: cfg.Cloud.DatabaseName,
			Metrics:      m,
		}, logger.Component(log, "cloud"))
		log.Info().Str("database", cfg.Cloud.DatabaseName).Msg("cloud history store configured")
	} else {
		log.Info().Msg("cloud credentials not configured, running in local-only mode")
	}

	var ai *aiService.Service
	if cfg.OpenAI.Enabled() {
		ai, err = aiService.NewService(cfg.OpenAI, logger.Component(log, "ai"))
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize ai service, continuing without completions")
			ai = nil
		} else {
			log.Info().Str("model", cfg.OpenAI.Model).Msg("ai service initialized")
		}
	} else {
		log.Info().Msg("OPENAI_API_KEY not configured, skipping ai service")
	}

	var memorySvc *memoryService.Service
	if cfg.Vector.Enabled() && ai != nil {
		memorySvc, err = memoryService.NewService(cfg.Vector, ai, logger.Component(log, "memory"))
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize memory service, continuing without memories")
			memorySvc = nil
		} else if err := memorySvc.Init(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to prepare memory collection, continuing without memories")
			memorySvc.Close()
			memorySvc = nil
		} else {
			log.Info().Str("collection", cfg.Vector.Collection).Msg("memory service initialized")
		}
	} else {
		log.Info().Msg("vector store not configured, skipping memory service")
	}
	if memorySvc != nil {
		defer memorySvc.Close()
	}

	history := historyService.NewService(local, cloudStore, historyService.Config{
		SyncInterval: cfg.Sync.Interval,
		Metrics:      m,
		Logger:       logger.Component(log, "history"),
	})
	if err := history.Init(ctx); err != nil {
		log.Warn().Err(err).Msg("history initialization reported an error, continuing")
	}
	defer history.Close()

	var pipeline *chatService.Service
	if ai != nil {
		var memoryStore chatService.MemoryStore
		if memorySvc != nil {
			memoryStore = memorySvc
		}
		pipeline = chatService.NewService(ai, memoryStore, history, m, logger.Component(log, "chat"))
	}

	router := handler.NewRouter(handler.Deps{
		Config:   cfg,
		Metrics:  m,
		Logger:   log,
		History:  history,
		Pipeline: pipeline,
		AI:       ai,
		Memory:   memorySvc,
	})

	startServer(ctx, cfg.Server, router, log)
}

func newLocalStore(cfg config.LocalStoreConfig) (localstore.Store, error) {
	switch localstore.StoreType(cfg.Driver) {
	case localstore.StoreTypeFile:
		return localstore.New(localstore.StoreTypeFile, localstore.WithPath(cfg.Path))
	case localstore.StoreTypeRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return localstore.New(localstore.StoreTypeRedis, localstore.WithRedisClient(client))
	default:
		return localstore.New(localstore.StoreType(cfg.Driver))
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, log zerolog.Logger) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", serverCfg.Addr).Msg("yuzuriha backend listening")
	if err := runServer(ctx, srv); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
