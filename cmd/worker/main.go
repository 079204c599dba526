// Package main is the worker entry point: it claims assessment tasks,
// reconciles batch rollups, and prunes expired data.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fairyhunter13/ai-essay-detector/internal/adapter/observability"
	"github.com/fairyhunter13/ai-essay-detector/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-essay-detector/internal/app"
	"github.com/fairyhunter13/ai-essay-detector/internal/config"
	"github.com/fairyhunter13/ai-essay-detector/internal/service/assessor"
	"github.com/fairyhunter13/ai-essay-detector/internal/service/batchsync"
)

func main() {
	if err := run(); err != nil {
		slog.Error("worker exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(observability.SetupLogger(cfg))
	observability.InitMetrics()

	shutdownTracing, err := observability.SetupTracing(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.BuildDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerConcurrency; i++ {
		w := assessor.New(
			deps.Tasks, deps.Documents, deps.Results, deps.Quota,
			deps.Blobs, deps.Extractor, deps.Detector,
			deps.EventPublisher(), deps.Limiter,
			assessor.Config{
				PollInterval:  cfg.PollInterval,
				LeaseDuration: cfg.LeaseDuration,
				MaxAttempts:   cfg.MaxAttempts,
				BackoffBase:   cfg.BackoffBase,
				BackoffCap:    cfg.BackoffCap,
			})
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	coordinator := batchsync.New(deps.Batches, cfg.CoordinatorInterval)
	wg.Add(1)
	go func() {
		defer wg.Done()
		coordinator.Run(ctx)
	}()

	retention := time.Duration(cfg.DataRetentionDays) * 24 * time.Hour
	cleanup := postgres.NewCleanupService(deps.Pool, deps.Tasks, retention, cfg.DLQMaxAge)
	wg.Add(1)
	go func() {
		defer wg.Done()
		cleanup.RunPeriodic(ctx, cfg.CleanupInterval)
	}()

	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           app.BuildMetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("metrics server listening", slog.Int("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()

	slog.Info("worker started", slog.Int("concurrency", cfg.WorkerConcurrency))
	<-ctx.Done()
	slog.Info("shutdown signal received")
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("metrics server shutdown failed", slog.Any("error", err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("tracer shutdown failed", slog.Any("error", err))
	}
	return nil
}
