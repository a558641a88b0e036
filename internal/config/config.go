// Package config defines the process configuration for payhook binaries.
// Configuration is loaded once at startup and is immutable thereafter.
//
// Values are resolved from the OS environment first and a .env file second.
// A missing required value or an invalid format fails startup.
package config

import (
	"time"

	"payhook/internal/types"
)

// SecretString is an alias for types.SecretString so config dumps and log
// lines never carry raw secrets.
type SecretString = types.SecretString

// Config is the top-level configuration. Components receive only the
// sub-struct they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	Webhook       WebhookConfig
	Redis         RedisConfig
	AWS           AWSConfig
	Observability ObservabilityConfig

	// Injected via ldflags, not env.
	Build BuildInfo
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
}

// DatabaseConfig holds the connection string and pool tuning.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10" validate:"min=1"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"1" validate:"min=0"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
	AutoMigrate       bool          `envconfig:"DB_AUTO_MIGRATE" default:"false"`
}

// WebhookConfig holds inbound webhook verification and billing mapping.
type WebhookConfig struct {
	// SigningSecret is required by the HTTP ingress only. The replay worker
	// reads payloads from the ledger and never verifies signatures.
	SigningSecret SecretString  `envconfig:"STRIPE_WEBHOOK_SECRET"`
	Tolerance     time.Duration `envconfig:"WEBHOOK_TOLERANCE" default:"300s" validate:"min=0s"`
	MaxBodyBytes  int64         `envconfig:"WEBHOOK_MAX_BODY_BYTES" default:"65536" validate:"min=1024"`

	// PriceCatalog maps provider price ids to plans and addons:
	// {"plans": {"price_x": "pro"}, "addons": {"price_y": "seats"}}
	PriceCatalog string `envconfig:"PRICE_CATALOG_JSON" default:"{}" validate:"json"`
}

// RedisConfig enables the per-event advisory lock when URL is set.
type RedisConfig struct {
	URL     SecretString  `envconfig:"REDIS_URL"`
	LockTTL time.Duration `envconfig:"EVENT_LOCK_TTL" default:"30s" validate:"min=1s"`
}

// AWSConfig holds AWS resource identifiers.
type AWSConfig struct {
	Region         string `envconfig:"AWS_REGION" default:"us-east-1"`
	ReplayQueueURL string `envconfig:"REPLAY_QUEUE_URL" validate:"omitempty,url"`

	// LocalStack support; empty in prod.
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL" validate:"omitempty,url"`
}

// ObservabilityConfig selects the metrics backend.
type ObservabilityConfig struct {
	MetricsBackend  string `envconfig:"METRICS_BACKEND" default:"none" validate:"oneof=none cloudwatch prometheus"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Payhook"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a value required by the calling binary is absent.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates an environment value could not be parsed into its
	// target type.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
