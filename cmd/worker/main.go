// Package main is the entrypoint for the JarHound scan worker.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kiranshivaraju/jarhound/internal/blob"
	"github.com/kiranshivaraju/jarhound/internal/cache"
	"github.com/kiranshivaraju/jarhound/internal/config"
	"github.com/kiranshivaraju/jarhound/internal/scanner"
	"github.com/kiranshivaraju/jarhound/internal/scheduler"
	"github.com/kiranshivaraju/jarhound/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "scanner_url", cfg.Scanner.WSURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	blobs, err := blob.NewS3Store(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("create blob store: %w", err)
	}
	slog.Info("blob store initialized", "bucket", cfg.Storage.Bucket)

	pgStore := store.NewPostgresStore(pool)
	analyzer := scanner.NewWSClient(cfg.Scanner)

	sched := scheduler.New(pgStore, blobs, analyzer, redisCache, cfg.Worker)
	sched.Start(ctx)

	// Block until a shutdown signal, then drain in-flight scans.
	<-ctx.Done()
	slog.Info("shutdown signal received, draining scans...")
	sched.Stop()

	slog.Info("worker stopped gracefully")
	return nil
}
