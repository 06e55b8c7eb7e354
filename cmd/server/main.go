// Package main is the entrypoint for the JarHound API server.
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

	"github.com/kiranshivaraju/jarhound/internal/api"
	"github.com/kiranshivaraju/jarhound/internal/api/handler"
	mw "github.com/kiranshivaraju/jarhound/internal/api/middleware"
	"github.com/kiranshivaraju/jarhound/internal/blob"
	"github.com/kiranshivaraju/jarhound/internal/cache"
	"github.com/kiranshivaraju/jarhound/internal/config"
	"github.com/kiranshivaraju/jarhound/internal/ingest"
	"github.com/kiranshivaraju/jarhound/internal/store"
)

const shutdownTimeout = 30 * time.Second

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
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "bucket", cfg.Storage.Bucket)

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

	// 5. Create blob store
	blobs, err := blob.NewS3Store(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("create blob store: %w", err)
	}
	slog.Info("blob store initialized", "bucket", cfg.Storage.Bucket)

	// 6. Create store and admission service
	pgStore := store.NewPostgresStore(pool)
	ingestSvc := ingest.NewService(pgStore, blobs, cfg.Ingest)

	// 7. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, 60)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler:     handler.NewHealthHandler(pgStore, redisCache, blobs),
		UploadScanHandler: handler.NewUploadScanHandler(ingestSvc),
		ScanFromURL:       handler.NewScanFromURLHandler(ingestSvc),
		GetScanHandler:    handler.NewGetScanHandler(pgStore, redisCache),
		ListScansHandler:  handler.NewListScansHandler(pgStore),
		ActiveScanHandler: handler.NewActiveScanHandler(pgStore),
		CreateKeyHandler:  handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:   handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler:  handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
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

	slog.Info("server stopped gracefully")
	return nil
}
