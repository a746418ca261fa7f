package fulfillment

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/meridianrx/fulfillment/internal/domain"
	"github.com/meridianrx/fulfillment/internal/lane"
	"github.com/meridianrx/fulfillment/internal/store"
)

type captureQueue struct {
	jobs   []lane.Job
	lanes  []string
	runAts []time.Time
}

func (c *captureQueue) Enqueue(_ context.Context, laneName string, job lane.Job, runAt time.Time) error {
	c.jobs = append(c.jobs, job)
	c.lanes = append(c.lanes, laneName)
	c.runAts = append(c.runAts, runAt)
	return nil
}

func relayLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRelay_DrainEnqueuesAndMarksSent(t *testing.T) {
	mem := store.NewMemory()
	queue := &captureQueue{}
	relay := NewRelay(mem, queue, relayLogger())
	ctx := context.Background()

	saga := &domain.Saga{
		SagaUUID:  "saga-1",
		OrderUUID: "order-1",
		Status:    domain.SagaPendingPrescription,
	}
	err := mem.CreateSaga(ctx, saga, []domain.OutboxMessage{{
		SagaUUID:  "saga-1",
		Lane:      lane.Fulfillment,
		EventType: domain.TypePrescriptionCreated,
		Payload:   map[string]any{"prescription_id": "rx-1"},
	}})
	if err != nil {
		t.Fatal(err)
	}

	relay.Drain(ctx)

	if len(queue.jobs) != 1 {
		t.Fatalf("enqueued jobs: got %d, want 1", len(queue.jobs))
	}
	if queue.lanes[0] != lane.Fulfillment {
		t.Errorf("lane: got %q, want %q", queue.lanes[0], lane.Fulfillment)
	}
	if queue.jobs[0].EventType != domain.TypePrescriptionCreated {
		t.Errorf("event type: got %q, want %q", queue.jobs[0].EventType, domain.TypePrescriptionCreated)
	}

	// A second drain finds nothing pending.
	relay.Drain(ctx)
	if len(queue.jobs) != 1 {
		t.Errorf("second drain should be empty, got %d jobs total", len(queue.jobs))
	}
}

func TestWatchdog_SweepTriggersCompensation(t *testing.T) {
	mem := store.NewMemory()
	queue := &captureQueue{}
	watchdog := NewWatchdog(mem, queue, 30*time.Minute, relayLogger())
	ctx := context.Background()

	stale := time.Now().Add(-time.Hour)
	if err := mem.CreateSaga(ctx, &domain.Saga{
		SagaUUID:  "saga-stuck",
		OrderUUID: "order-1",
		Status:    domain.SagaPendingInventory,
		StartedAt: stale,
		UpdatedAt: stale,
	}, nil); err != nil {
		t.Fatal(err)
	}

	watchdog.Sweep(ctx)

	if len(queue.jobs) != 1 {
		t.Fatalf("timeout events: got %d, want 1", len(queue.jobs))
	}
	if queue.jobs[0].EventType != domain.TypeInventoryReservationFailed {
		t.Errorf("event type: got %q, want %q",
			queue.jobs[0].EventType, domain.TypeInventoryReservationFailed)
	}
	if reason := domain.StringField(queue.jobs[0].Payload, "reason"); reason != "step timeout" {
		t.Errorf("reason: got %q, want %q", reason, "step timeout")
	}
}

func TestWatchdog_FreshAndTerminalSagasAreLeftAlone(t *testing.T) {
	mem := store.NewMemory()
	queue := &captureQueue{}
	watchdog := NewWatchdog(mem, queue, 30*time.Minute, relayLogger())
	ctx := context.Background()

	now := time.Now()
	stale := now.Add(-time.Hour)
	if err := mem.CreateSaga(ctx, &domain.Saga{
		SagaUUID: "saga-fresh", OrderUUID: "order-1",
		Status: domain.SagaPendingShipment, StartedAt: now, UpdatedAt: now,
	}, nil); err != nil {
		t.Fatal(err)
	}
	if err := mem.CreateSaga(ctx, &domain.Saga{
		SagaUUID: "saga-done", OrderUUID: "order-2",
		Status: domain.SagaCompleted, StartedAt: stale, UpdatedAt: stale,
	}, nil); err != nil {
		t.Fatal(err)
	}

	watchdog.Sweep(ctx)

	if len(queue.jobs) != 0 {
		t.Errorf("nothing should be swept, got %d jobs", len(queue.jobs))
	}
}
