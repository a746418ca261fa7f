package renewal

import (
	"fmt"
	"time"

	"github.com/meridianrx/fulfillment/internal/domain"
)

// Config controls the retry, idempotency and rate limit behavior of the
// renewal saga.
type Config struct {
	// IdempotencyTTL bounds the duplicate-suppression window for a
	// saga's charge marker.
	IdempotencyTTL time.Duration
	// MaxAttempts bounds the total number of charge attempts.
	MaxAttempts int
	// ScheduleDays are the day offsets between consecutive attempts.
	ScheduleDays []int
	// HourlyLimit and DailyLimit cap charge attempts per user.
	HourlyLimit int
	DailyLimit  int
}

// DefaultConfig mirrors the platform defaults: 30 day idempotency
// window, 5 attempts over [1,3,7,14,30] days, 5 attempts/hour and
// 20/day per user.
func DefaultConfig() Config {
	return Config{
		IdempotencyTTL: 30 * 24 * time.Hour,
		MaxAttempts:    5,
		ScheduleDays:   []int{1, 3, 7, 14, 30},
		HourlyLimit:    5,
		DailyLimit:     20,
	}
}

// Validate fails fast at startup: a bad retry schedule must never
// surface as a runtime panic mid-saga.
func (c Config) Validate() error {
	if c.MaxAttempts <= 0 {
		return &domain.ConfigError{Reason: "max attempts must be positive"}
	}
	if len(c.ScheduleDays) < c.MaxAttempts {
		return &domain.ConfigError{Reason: fmt.Sprintf(
			"retry schedule has %d entries, need at least max_attempts=%d",
			len(c.ScheduleDays), c.MaxAttempts)}
	}
	prev := 0
	for i, d := range c.ScheduleDays {
		if d <= 0 {
			return &domain.ConfigError{Reason: fmt.Sprintf("retry schedule entry %d is %d, must be positive", i, d)}
		}
		if d <= prev {
			return &domain.ConfigError{Reason: fmt.Sprintf("retry schedule must be strictly ascending, entry %d is %d after %d", i, d, prev)}
		}
		prev = d
	}
	if c.IdempotencyTTL <= 0 {
		return &domain.ConfigError{Reason: "idempotency TTL must be positive"}
	}
	return nil
}
