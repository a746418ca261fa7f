// Package config loads the service configuration from environment
// variables and validates it at startup. Anything invalid here is a
// refusal to boot, never a runtime surprise.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/meridianrx/fulfillment/internal/saga/renewal"
)

type Config struct {
	Port          string `env:"PORT" envDefault:"8080"`
	DatabaseURL   string `env:"DATABASE_URL,required"`
	RedisURL      string `env:"REDIS_URL,required"`
	NumWorkers    int    `env:"NUM_WORKERS" envDefault:"20"`
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`

	// Fulfillment saga.
	StepTimeout time.Duration `env:"SAGA_STEP_TIMEOUT" envDefault:"30m"`

	// Renewal saga.
	IdempotencyTTLDays int   `env:"RENEWAL_IDEMPOTENCY_TTL_DAYS" envDefault:"30"`
	MaxAttempts        int   `env:"RENEWAL_MAX_ATTEMPTS" envDefault:"5"`
	RetryScheduleDays  []int `env:"RENEWAL_RETRY_SCHEDULE_DAYS" envDefault:"1,3,7,14,30"`
	HourlyRateLimit    int   `env:"RENEWAL_HOURLY_RATE_LIMIT" envDefault:"5"`
	DailyRateLimit     int   `env:"RENEWAL_DAILY_RATE_LIMIT" envDefault:"20"`

	// Escalation channels. A channel with no configuration is
	// disabled.
	AlertEmailRecipients []string `env:"ALERT_EMAIL_RECIPIENTS"`
	SlackWebhookURL      string   `env:"ALERT_SLACK_WEBHOOK_URL"`
	PagerDutyRoutingKey  string   `env:"ALERT_PAGERDUTY_ROUTING_KEY"`

	// Tracing.
	TraceStdout bool `env:"TRACE_STDOUT" envDefault:"false"`
}

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.Renewal().Validate(); err != nil {
		return nil, err
	}
	if cfg.NumWorkers <= 0 {
		return nil, fmt.Errorf("NUM_WORKERS must be positive")
	}
	if cfg.StepTimeout <= 0 {
		return nil, fmt.Errorf("SAGA_STEP_TIMEOUT must be positive")
	}
	return &cfg, nil
}

// Renewal assembles the renewal saga configuration.
func (c *Config) Renewal() renewal.Config {
	return renewal.Config{
		IdempotencyTTL: time.Duration(c.IdempotencyTTLDays) * 24 * time.Hour,
		MaxAttempts:    c.MaxAttempts,
		ScheduleDays:   c.RetryScheduleDays,
		HourlyLimit:    c.HourlyRateLimit,
		DailyLimit:     c.DailyRateLimit,
	}
}
