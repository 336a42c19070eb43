package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"query-sphere/internal/ai"
	"query-sphere/internal/auth"
	"query-sphere/internal/config"
	"query-sphere/internal/logger"
	"query-sphere/internal/session"
	"query-sphere/internal/telemetry"
	"query-sphere/middleware"
	"query-sphere/routes"
	"query-sphere/services"

	"github.com/gin-gonic/gin"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		logger.Error("Server failed", "error", err)
		log.Fatalf("server: %v", err)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger.InitLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.TracerOptions{
		ServiceName: cfg.ServiceName,
		Version:     version,
		Endpoint:    cfg.OTLPEndpoint,
		SampleRatio: cfg.TraceSampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownTracer(sctx)
	}()

	metrics, err := telemetry.InitMetrics(cfg.ServiceName)
	if err != nil {
		return err
	}

	rdb, err := config.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Warn("Redis unavailable, using in-memory rate limiting", "error", err)
		rdb = nil
	}
	if rdb != nil {
		defer rdb.Close()
	}

	embedder, err := ai.NewEmbedder(ctx, cfg)
	if err != nil {
		return err
	}
	defer embedder.Close()

	llm, err := ai.NewLLMClient(ctx, cfg, metrics)
	if err != nil {
		return err
	}
	defer llm.Close()

	chunker, err := services.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return err
	}
	loader := services.NewDocumentLoader(cfg.MaxFileSize, cfg.FetchTimeout,
		services.WithPrivateFetch(cfg.FetchAllowPrivate))
	if cfg.FetchAllowPrivate {
		logger.Warn("URL uploads may reach private and loopback addresses")
	}
	answerer := services.NewAnswerer(llm, services.AnswererOptions{
		MaxPromptChars:   cfg.MaxPromptChars,
		MaxQuestionChars: cfg.MaxQuestionChars,
		MaxTokens:        cfg.LLMMaxTokens,
		Temperature:      cfg.LLMTemperature,
	})

	manager := session.NewManager(&session.Pipeline{
		Loader:           loader,
		Chunker:          chunker,
		Embedder:         embedder,
		Answerer:         answerer,
		TopK:             cfg.TopK,
		HistoryLimit:     cfg.HistoryLimit,
		MaxQuestionChars: answerer.MaxQuestionChars(),
		UploadTimeout:    cfg.UploadTimeout,
		Metrics:          metrics,
	}, session.ManagerOptions{
		TTL:         cfg.SessionTTL,
		SweepEvery:  cfg.SessionSweepEvery,
		MaxSessions: cfg.MaxSessions,
	})
	if err := manager.Start(); err != nil {
		return err
	}
	defer manager.Close()

	tokens, err := auth.NewSessionTokens(cfg.SessionSecret, auth.DefaultTokenLifetime)
	if err != nil {
		return err
	}
	if cfg.SessionSecret == "" {
		logger.Warn("SESSION_SECRET not set, using a random per-process key")
	}

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.TracingMiddleware(cfg.ServiceName))
	router.Use(middleware.EnrichTrace())
	router.Use(middleware.MetricsMiddleware(metrics))
	router.Use(middleware.CORSMiddlewareWithOrigins(cfg.CORSOrigins))
	router.Use(middleware.RateLimitMiddleware(rdb, cfg))
	// multipart framing on top of the file itself
	router.Use(middleware.RequestSizeLimit(cfg.MaxFileSize+1<<20, middleware.DefaultJSONBodyLimit))

	routes.SetupHealthRoutes(router, manager, routes.HealthInfo{
		EmbeddingModel: embedder.Model(),
		LLMModel:       llm.Model(),
		Usage:          llm.Usage,
	})
	routes.SetupSessionRoutes(router, cfg, manager, tokens, loader)
	if cfg.StaticUI {
		routes.SetupUIRoutes(router, cfg)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// an upload is one fetch plus the upload deadline; a question may
		// wait for the LLM timeout twice (one retry)
		WriteTimeout: cfg.FetchTimeout + max(cfg.UploadTimeout, 2*cfg.LLMTimeout+cfg.EmbedTimeout) + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "port", cfg.Port, "llm_provider", cfg.LLMProvider,
			"embeddings_provider", cfg.EmbeddingsProvider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("Server exited")
	return nil
}
