// Package main is the API server entry point: document intake, result
// retrieval, usage stats, and the dead-letter admin surface.
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

	"github.com/fairyhunter13/ai-essay-detector/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-essay-detector/internal/adapter/observability"
	"github.com/fairyhunter13/ai-essay-detector/internal/app"
	"github.com/fairyhunter13/ai-essay-detector/internal/config"
	"github.com/fairyhunter13/ai-essay-detector/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", slog.Any("error", err))
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

	uploads := usecase.NewUploadService(
		deps.Documents, deps.Results, deps.Tasks, deps.Batches,
		deps.Teachers, deps.Blobs, deps.EventPublisher())
	results := usecase.NewResultService(deps.Documents, deps.Results, deps.Blobs, deps.EventPublisher())
	reprocess := usecase.NewReprocessService(deps.Documents, deps.Results, deps.Tasks, deps.EventPublisher())
	stats := usecase.NewStatsService(deps.Documents)

	srv := httpserver.NewServer(cfg, uploads, results, reprocess, stats, deps.Tasks, deps.Ready)

	apiServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      app.BuildRouter(cfg, srv),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           app.BuildMetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		slog.Info("api server listening", slog.Int("port", cfg.Port))
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		slog.Info("metrics server listening", slog.Int("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("api server shutdown failed", slog.Any("error", err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("metrics server shutdown failed", slog.Any("error", err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("tracer shutdown failed", slog.Any("error", err))
	}
	return nil
}
