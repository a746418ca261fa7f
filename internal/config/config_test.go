package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/fulfillment")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load should succeed: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port: got %q, want %q", cfg.Port, "8080")
	}
	if cfg.NumWorkers != 20 {
		t.Errorf("NumWorkers: got %d, want 20", cfg.NumWorkers)
	}
	if cfg.MaxAttempts != 5 {
		t.Errorf("MaxAttempts: got %d, want 5", cfg.MaxAttempts)
	}
	want := []int{1, 3, 7, 14, 30}
	if len(cfg.RetryScheduleDays) != len(want) {
		t.Fatalf("RetryScheduleDays: got %v, want %v", cfg.RetryScheduleDays, want)
	}
	for i, d := range want {
		if cfg.RetryScheduleDays[i] != d {
			t.Errorf("RetryScheduleDays[%d]: got %d, want %d", i, cfg.RetryScheduleDays[i], d)
		}
	}
	if cfg.StepTimeout != 30*time.Minute {
		t.Errorf("StepTimeout: got %v, want 30m", cfg.StepTimeout)
	}

	renewal := cfg.Renewal()
	if renewal.IdempotencyTTL != 30*24*time.Hour {
		t.Errorf("IdempotencyTTL: got %v, want 720h", renewal.IdempotencyTTL)
	}
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379")

	if _, err := Load(); err == nil {
		t.Fatal("missing DATABASE_URL should fail")
	}
}

func TestLoad_BadRetrySchedule(t *testing.T) {
	setRequired(t)
	t.Setenv("RENEWAL_RETRY_SCHEDULE_DAYS", "7,3,1")

	if _, err := Load(); err == nil {
		t.Fatal("descending retry schedule should fail validation")
	}
}

func TestLoad_ScheduleShorterThanAttempts(t *testing.T) {
	setRequired(t)
	t.Setenv("RENEWAL_RETRY_SCHEDULE_DAYS", "1,3")

	if _, err := Load(); err == nil {
		t.Fatal("schedule shorter than max attempts should fail validation")
	}
}

func TestLoad_BadWorkerCount(t *testing.T) {
	setRequired(t)
	t.Setenv("NUM_WORKERS", "-1")

	if _, err := Load(); err == nil {
		t.Fatal("negative worker count should fail")
	}
}
