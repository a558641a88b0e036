package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is returned by Load when configuration cannot be used.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Role names the binary loading configuration. Requirements beyond the
// struct tags depend on it.
type Role string

const (
	// RoleAPI is the HTTP ingress. It must verify signatures.
	RoleAPI Role = "api"
	// RoleWorker is the replay worker.
	RoleWorker Role = "worker"
	// RoleTool is ledgerctl.
	RoleTool Role = "tool"
)

// Load reads configuration for the given role.
//
//  1. Forces the process timezone to UTC.
//  2. Loads .env if present. Existing env vars win.
//  3. Populates Config from envconfig tags.
//  4. Validates struct tags, then role requirements.
func Load(role Role) (*Config, error) {
	time.Local = time.UTC

	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}
	cfg.Build = NewBuildInfo()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}
	if err := cfg.checkRole(role); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) checkRole(role Role) error {
	var missing []string
	switch role {
	case RoleAPI:
		if !c.Webhook.SigningSecret.IsSet() {
			missing = append(missing, "STRIPE_WEBHOOK_SECRET")
		}
	case RoleWorker, RoleTool:
	default:
		return &ConfigError{Type: ErrValidation, Message: fmt.Sprintf("unknown role %q", role)}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrMissingEnv,
			Message: fmt.Sprintf("required for %s: %s", role, strings.Join(missing, ", ")),
		}
	}
	return nil
}

// RequireReplayQueue reports a ConfigError when REPLAY_QUEUE_URL is unset.
func (c *Config) RequireReplayQueue() error {
	if c.AWS.ReplayQueueURL == "" {
		return &ConfigError{Type: ErrMissingEnv, Message: "REPLAY_QUEUE_URL is required to enqueue replays"}
	}
	return nil
}
