// Package main is the entry point for the payhook webhook ingress.
//
// It loads configuration, wires the processing pipeline (ledger, billing
// mutators, optional Redis event lock, metrics backend), mounts the webhook
// routes on the core chassis and serves HTTP until SIGINT or SIGTERM.
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

	"payhook/internal/api/handlers"
	"payhook/internal/app"
	"payhook/internal/config"
	"payhook/internal/core"
	"payhook/internal/webhook"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(config.RoleAPI)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("payhook API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	pipeline, err := app.Build(ctx, cfg, logger)
	cancel()
	if err != nil {
		return fmt.Errorf("building pipeline: %w", err)
	}

	srv, err := buildServer(cfg, pipeline, logger)
	if err != nil {
		pipeline.Close()
		return err
	}
	return runHTTPServer(srv, cfg, logger)
}

// buildServer mounts the chassis and the webhook routes. The pipeline is
// closed by the server's shutdown hooks.
func buildServer(cfg *config.Config, pipeline *app.Pipeline, logger *slog.Logger) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	srv.Metrics = pipeline.Metrics
	srv.HealthProbes = pipeline.Probes
	srv.MetricsHandler = pipeline.MetricsHandler

	verifier := webhook.NewVerifier(cfg.Webhook.SigningSecret.Unmask(), cfg.Webhook.Tolerance)
	webhookHandler := handlers.NewStripeWebhookHandler(verifier, pipeline.Processor, cfg.Webhook.MaxBodyBytes, logger)
	srv.RouteRegistrars = append(srv.RouteRegistrars, webhookHandler.RegisterRoutes)

	srv.OnShutdown(func(context.Context) error {
		pipeline.Close()
		return nil
	})
	srv.MountRoutes()
	return srv, nil
}

// runHTTPServer serves until a shutdown signal, then drains in-flight
// requests within SHUTDOWN_TIMEOUT.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			_ = srv.Shutdown(context.Background())
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}
	return srv.Shutdown(ctx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
