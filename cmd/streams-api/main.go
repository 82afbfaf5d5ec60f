package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	httpadapter "github.com/couchcryptid/streams-data-service/internal/adapter/http"
	"github.com/couchcryptid/streams-data-service/internal/app"
	"github.com/couchcryptid/streams-data-service/internal/config"
	"github.com/couchcryptid/streams-data-service/internal/observability"
)

func main() {
	_ = godotenv.Load() // no error if .env doesn't exist

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	a, err := app.New(cfg, logger, metrics)
	if err != nil {
		logger.Error("failed to build service", "error", err)
		os.Exit(1)
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, a.Service, cfg.CORSAllowedOrigins, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()
	a.Service.SetReady(true)
	logger.Info("streams service ready",
		"storage", cfg.StorageBackend,
		"session_ttl", cfg.SessionTTL,
		"concurrency", cfg.DownloadConcurrency,
	)

	<-ctx.Done()
	logger.Info("shutting down")
	a.Service.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := a.Close(); err != nil {
		logger.Error("publisher close error", "error", err)
	}

	logger.Info("shutdown complete")
}
