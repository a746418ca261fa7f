// Package monitor observes event log appends: a per-type counter plus a
// structured log line. The store treats monitor calls as best-effort;
// nothing here can fail an append.
package monitor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/meridianrx/fulfillment/internal/domain"
)

type Monitor struct {
	logger *slog.Logger

	mu     sync.Mutex
	counts map[string]int64
}

func New(logger *slog.Logger) *Monitor {
	return &Monitor{
		logger: logger,
		counts: map[string]int64{},
	}
}

// EventAppended increments the per-type counter and logs the append.
func (m *Monitor) EventAppended(_ context.Context, rec domain.StoredEvent) {
	m.mu.Lock()
	m.counts[rec.EventType]++
	m.mu.Unlock()

	m.logger.Info("event appended",
		"event_id", rec.ID,
		"event_type", rec.EventType,
		"aggregate_uuid", rec.AggregateUUID,
		"aggregate_type", rec.AggregateType,
	)
}

// Count returns how many events of a type were appended since startup.
func (m *Monitor) Count(eventType string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[eventType]
}

// Counts returns a copy of all per-type append counters.
func (m *Monitor) Counts() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.counts))
	for k, v := range m.counts {
		out[k] = v
	}
	return out
}
