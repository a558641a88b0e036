// Package main is the entrypoint for the replay worker Lambda function.
//
// The worker consumes replay requests ({"event_id": ...}) from the replay SQS
// queue, loads the stored payload from the ledger and runs it through the
// same processor as the HTTP ingress. Messages whose outcome is retryable are
// reported as batch item failures so SQS redelivers only those.
//
// Cold start:
//  1. Load configuration (signing secret not required).
//  2. Build the pipeline: pgx pool, ledger, billing mutators, optional Redis
//     lock, metrics backend.
//  3. Register the handler with lambda.Start.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"

	"payhook/internal/app"
	"payhook/internal/config"
	"payhook/internal/replay"
)

func main() {
	cfg, err := config.Load(config.RoleWorker)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: loading configuration: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel).With("component", "replay-worker")

	worker, cleanup, err := newWorker(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to initialize replay worker", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	logger.Info("replay worker initialized", "version", cfg.Build.Version)
	lambda.Start(worker.Handle)
}

// newWorker wires the replay worker. Connections are reused across warm
// invocations.
func newWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*replay.Worker, func(), error) {
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	pipeline, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("building pipeline: %w", err)
	}
	return replay.NewWorker(pipeline.Ledger, pipeline.Processor, logger), pipeline.Close, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
