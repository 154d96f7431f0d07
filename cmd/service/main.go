// cmd/service/main.go
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

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"

	"gitpulse/internal/analysis"
	"gitpulse/internal/api"
	"gitpulse/internal/config"
	"gitpulse/internal/gemini"
	"gitpulse/internal/github"
	"gitpulse/internal/ratelimit"
	"gitpulse/internal/store"
	"gitpulse/internal/summary"
	"gitpulse/internal/syncer"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Application startup error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Initialize structured logger
	logLevel := new(slog.LevelVar)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// 2. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setLogLevel(cfg.LogLevel, logLevel)
	logger.Info("Configuration loaded successfully")

	// 3. Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. Initialize database connection and run migrations
	dbpool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbpool.Close()
	logger.Info("Database connection established")

	if err := runMigrations(cfg.DBURL); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	logger.Info("Database migrations applied successfully")

	// 5. Initialize application components
	st := store.NewPostgres(dbpool, logger)

	geminiBucket := ratelimit.NewTokenBucket(cfg.GeminiRate, cfg.GeminiBurst)
	geminiClient, err := gemini.NewClient(gemini.Config{
		APIKey: cfg.GeminiAPIKey,
		Model:  cfg.GeminiModel,
	}, geminiBucket, logger)
	if err != nil {
		return fmt.Errorf("failed to create analysis client: %w", err)
	}

	sourceLimiter := ratelimit.NewHeaderLimiter(logger)
	factory := func(token string) syncer.SourceClient {
		return github.NewClient(token, sourceLimiter, cfg.HTTPTimeout, logger)
	}

	pipeline := analysis.NewPipeline(st, geminiClient, cfg.AnalysisBatchLimit, cfg.AnalysisInterval, logger)
	summaries := summary.NewService(st, geminiClient, logger)
	appSyncer := syncer.NewSyncer(st, factory, pipeline, cfg.SyncInterval, cfg.CommitDetailConcurrency, logger)

	// 6. Start the background loops
	go appSyncer.Start(ctx)
	go pipeline.StartBatchLoop(ctx)

	// 7. Serve the API
	router := api.NewRouter(st, appSyncer, pipeline, summaries, factory, logger)
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
		logger.Info("Shutdown signal received. Exiting.")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}

	return nil
}

func runMigrations(dbURL string) error {
	m, err := migrate.New("file://migrations", dbURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func setLogLevel(level string, v *slog.LevelVar) {
	switch level {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
