// Package main is the entrypoint for the PaperForge API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/paperforge/internal/ai"
	"github.com/kiranshivaraju/paperforge/internal/api"
	"github.com/kiranshivaraju/paperforge/internal/api/handler"
	mw "github.com/kiranshivaraju/paperforge/internal/api/middleware"
	"github.com/kiranshivaraju/paperforge/internal/api/response"
	"github.com/kiranshivaraju/paperforge/internal/cache"
	"github.com/kiranshivaraju/paperforge/internal/checkpoint"
	"github.com/kiranshivaraju/paperforge/internal/config"
	"github.com/kiranshivaraju/paperforge/internal/dispatch"
	"github.com/kiranshivaraju/paperforge/internal/export"
	"github.com/kiranshivaraju/paperforge/internal/notify"
	"github.com/kiranshivaraju/paperforge/internal/orchestrator"
	"github.com/kiranshivaraju/paperforge/internal/pipeline"
	"github.com/kiranshivaraju/paperforge/internal/quality"
	"github.com/kiranshivaraju/paperforge/internal/retrieval"
	"github.com/kiranshivaraju/paperforge/internal/store"
	"github.com/kiranshivaraju/paperforge/internal/trigger"
)

const (
	shutdownTimeout   = 30 * time.Second
	qualityCheckLimit = 30 * time.Second
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"ai_provider", cfg.AI.Provider,
		"env", cfg.Server.Env,
		"dispatch_backend", cfg.Dispatch.Backend,
		"notify_backend", cfg.Notify.Backend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create generation providers
	generators, err := ai.NewRegistry(cfg.AI)
	if err != nil {
		return fmt.Errorf("create AI providers: %w", err)
	}
	slog.Info("AI providers initialized", "providers", generators.Names(), "default", cfg.AI.Provider)

	// 6. Create store and generation pipeline
	pgStore := store.NewPostgresStore(pool)

	searcher := retrieval.NewCachedClient(
		retrieval.NewHTTPClient(cfg.Retrieval.BaseURL, cfg.Retrieval.APIKey, cfg.Retrieval.Timeout),
		redisCache,
	)
	gate := quality.NewGateFromConfig(cfg.Quality, qualityCheckLimit)
	sections := pipeline.NewSectionRunner(pgStore, generators, searcher, gate, pipeline.Config{
		BaseTemperature:     cfg.Quality.BaseTemperature,
		TemperatureStep:     cfg.Quality.TemperatureStep,
		HumanizeTemperature: cfg.Quality.HumanizeTemperature,
		SourceLimit:         retrieval.DefaultLimit,
	})
	exporter := export.NewService(pgStore, export.NewLocalStore(cfg.Export.Dir), cfg.Export.Format)

	// 7. Create notifier. The hub always serves local SSE subscribers; with the
	// redis backend events travel through pub/sub so every replica sees them.
	hub := notify.NewHub(0)
	var notifier notify.Notifier = hub
	if cfg.Notify.Backend == "redis" {
		notifier = notify.NewRedisPublisher(redisCache.Client())
		go func() {
			if err := hub.Relay(ctx, redisCache.Client()); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("event relay stopped", "error", err)
			}
		}()
	}

	orch := orchestrator.New(pgStore, generators, sections, checkpoint.NewManager(redisCache),
		notifier, exporter, orchestrator.Config{HeartbeatInterval: cfg.Notify.HeartbeatInterval})

	// 8. Start dispatcher. Jobs run on a context detached from the signal so
	// shutdown drains them instead of cancelling.
	workerCtx := context.WithoutCancel(ctx)
	var enqueuer trigger.Enqueuer
	var stopDispatch func(context.Context) error

	switch cfg.Dispatch.Backend {
	case "rabbitmq":
		conn, err := dispatch.Dial(ctx, cfg.Dispatch.RabbitMQURL)
		if err != nil {
			return fmt.Errorf("connect rabbitmq: %w", err)
		}
		defer conn.Close()

		consumer := dispatch.NewConsumer(conn, cfg.Dispatch.QueueName, cfg.Dispatch.Concurrency, orch.Run)
		if err := consumer.Start(workerCtx); err != nil {
			return fmt.Errorf("start dispatch consumer: %w", err)
		}
		enqueuer = dispatch.NewPublisher(conn, cfg.Dispatch.QueueName)
		stopDispatch = func(context.Context) error {
			consumer.Close()
			return nil
		}
	default:
		workers := dispatch.NewPool(orch.Run, cfg.Dispatch.Concurrency, cfg.Dispatch.QueueSize)
		workers.Start(workerCtx)
		enqueuer = workers
		stopDispatch = workers.Shutdown
	}

	gateway := trigger.NewGate(pgStore, enqueuer)

	// 9. Build router with dependencies
	deps := api.Dependencies{
		RateLimit: mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMinute),

		HealthHandler:   healthHandler(pgStore, redisCache),
		GenerateHandler: handler.NewGenerateHandler(pgStore, gateway),
		GetJobHandler:   handler.NewGetJobHandler(pgStore, pgStore),
		EventsHandler:   handler.NewEventsHandler(hub, 0),
	}
	if cfg.Webhook.TokenHash != "" {
		deps.WebhookAuth = mw.NewWebhookAuth(cfg.Webhook.TokenHash)
		deps.PaymentWebhookHandler = handler.NewPaymentWebhookHandler(gateway)
	} else {
		slog.Warn("WEBHOOK_TOKEN_HASH not set, payment webhook disabled")
	}

	router := api.NewRouter(deps)

	// 10. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := stopDispatch(shutdownCtx); err != nil {
		// Unfinished jobs resume from their checkpoint on the next trigger.
		slog.Warn("dispatcher did not drain", "error", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.ErrorWithDetails(w, http.StatusServiceUnavailable, response.CodeDegraded,
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
