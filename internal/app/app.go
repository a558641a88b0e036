// Package app assembles the webhook pipeline shared by the HTTP ingress and
// the replay worker: database pool, ledger, billing mutators, optional event
// lock and the metrics backend.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"payhook/internal/billing"
	"payhook/internal/config"
	"payhook/internal/core"
	"payhook/internal/db"
	"payhook/internal/lock"
	"payhook/internal/metrics"
	"payhook/internal/webhook"
)

// Pipeline holds the wired components. Close releases every connection it
// opened.
type Pipeline struct {
	Ledger         *db.LedgerRepo
	Processor      *webhook.Processor
	Metrics        metrics.Recorder
	MetricsHandler http.Handler
	Probes         []core.HealthProbe

	closers []func()
}

// Build connects to the database (migrating first when DB_AUTO_MIGRATE is
// set), parses the price catalog and wires the processor.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Pipeline, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{}
	defer func() {
		if err != nil {
			p.Close()
		}
	}()

	catalog, err := billing.ParseCatalogJSON(cfg.Webhook.PriceCatalog)
	if err != nil {
		return nil, err
	}

	dbURL := cfg.Database.URL.Unmask()
	if cfg.Database.AutoMigrate {
		if err := migrate(dbURL, logger); err != nil {
			return nil, err
		}
	}

	pool, err := OpenPool(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	p.closers = append(p.closers, pool.Close)
	p.Probes = append(p.Probes, db.Probe{Pool: pool})

	p.Metrics, p.MetricsHandler, err = buildRecorder(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if cw, ok := p.Metrics.(*metrics.CloudWatch); ok {
		p.closers = append(p.closers, func() { flushMetrics(cw, logger) })
	}

	locker, client, err := buildLocker(cfg.Redis, logger)
	if err != nil {
		return nil, err
	}
	if client != nil {
		p.closers = append(p.closers, func() { _ = client.Close() })
		p.Probes = append(p.Probes, lock.RedisProbe{Client: client})
	}

	p.Ledger = db.NewLedgerRepo(pool)
	mutators := billing.NewMutators(db.NewBillingRepo(pool), catalog, logger)
	p.Processor = webhook.NewProcessor(p.Ledger, webhook.NewRouter(mutators), logger,
		webhook.WithLocker(locker),
		webhook.WithMetrics(p.Metrics),
	)

	logger.InfoContext(ctx, "webhook pipeline ready",
		"metrics_backend", cfg.Observability.MetricsBackend,
		"event_lock", client != nil,
	)
	return p, nil
}

// Close releases resources in reverse order of acquisition.
func (p *Pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
	p.closers = nil
}

// OpenPool opens a pgx pool sized from DatabaseConfig.
func OpenPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, cfg.URL.Unmask(), db.PoolOptions{
		MaxConns:          int32(cfg.MaxConns),
		MinConns:          int32(cfg.MinConns),
		MaxConnLifetime:   cfg.MaxConnLifetime,
		HealthCheckPeriod: cfg.HealthCheckPeriod,
	})
}

func migrate(dbURL string, logger *slog.Logger) error {
	m, err := db.NewMigrator(dbURL, logger)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()
	return m.Up()
}

func buildRecorder(ctx context.Context, cfg *config.Config, logger *slog.Logger) (metrics.Recorder, http.Handler, error) {
	var cw metrics.CloudWatchClient
	if cfg.Observability.MetricsBackend == metrics.BackendCloudWatch {
		awsCfg, err := cfg.AWS.LoadAWS(ctx)
		if err != nil {
			return nil, nil, err
		}
		cw = cloudwatch.NewFromConfig(awsCfg)
	}
	rec, h, err := metrics.New(cfg.Observability.MetricsBackend, cfg.Observability.MetricNamespace, cw, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("configuring metrics: %w", err)
	}
	return rec, h, nil
}

// metricsFlushTimeout bounds how long Close waits for queued datapoints.
const metricsFlushTimeout = 5 * time.Second

func flushMetrics(cw *metrics.CloudWatch, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), metricsFlushTimeout)
	defer cancel()
	if err := cw.Close(ctx); err != nil {
		logger.Warn("metrics flush incomplete", "error", err)
	}
}

// buildLocker returns lock.Noop when Redis is not configured.
func buildLocker(cfg config.RedisConfig, logger *slog.Logger) (lock.Locker, *redis.Client, error) {
	if !cfg.URL.IsSet() {
		return lock.Noop{}, nil, nil
	}
	client, err := lock.NewRedisClient(cfg.URL.Unmask())
	if err != nil {
		return nil, nil, err
	}
	return lock.NewRedisLocker(client, cfg.LockTTL, logger), client, nil
}
