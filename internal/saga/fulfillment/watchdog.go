package fulfillment

import (
	"context"
	"log/slog"
	"time"

	"github.com/meridianrx/fulfillment/internal/domain"
	"github.com/meridianrx/fulfillment/internal/lane"
)

// StuckScanner finds non-terminal sagas whose last transition predates
// the cutoff.
type StuckScanner interface {
	StuckSagas(ctx context.Context, cutoff time.Time, limit int) ([]domain.Saga, error)
}

// Watchdog compensates on step silence. A saga that stays in a pending
// state past the timeout gets that step's failure event enqueued, which
// drives the normal compensation chain; waiting on explicit failure
// events alone would leave crashed steps stuck forever.
type Watchdog struct {
	scanner     StuckScanner
	queue       Enqueuer
	logger      *slog.Logger
	stepTimeout time.Duration
	interval    time.Duration
}

func NewWatchdog(scanner StuckScanner, queue Enqueuer, stepTimeout time.Duration, logger *slog.Logger) *Watchdog {
	return &Watchdog{
		scanner:     scanner,
		queue:       queue,
		logger:      logger,
		stepTimeout: stepTimeout,
		interval:    stepTimeout / 2,
	}
}

// Start runs the scan loop until the context is cancelled.
func (w *Watchdog) Start(ctx context.Context) {
	w.logger.Info("saga watchdog started", "step_timeout", w.stepTimeout)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("saga watchdog stopping")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep enqueues a timeout failure event for every stuck saga found.
func (w *Watchdog) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-w.stepTimeout)
	sagas, err := w.scanner.StuckSagas(ctx, cutoff, 100)
	if err != nil {
		w.logger.Error("watchdog scan failed", "error", err)
		return
	}

	for _, saga := range sagas {
		eventType, ok := timeoutEventFor(saga.Status)
		if !ok {
			continue
		}
		job := lane.Job{
			SagaUUID:  saga.SagaUUID,
			EventType: eventType,
			Payload:   map[string]any{"reason": "step timeout"},
		}
		if err := w.queue.Enqueue(ctx, lane.Fulfillment, job, time.Now()); err != nil {
			w.logger.Error("watchdog failed to enqueue timeout event",
				"saga_uuid", saga.SagaUUID, "error", err)
			continue
		}
		w.logger.Warn("saga step silent past timeout, triggering compensation",
			"saga_uuid", saga.SagaUUID,
			"order_uuid", saga.OrderUUID,
			"state", saga.Status,
			"stuck_since", saga.UpdatedAt,
		)
	}
}

// timeoutEventFor maps a silent pending state to the failure event that
// unwinds it.
func timeoutEventFor(status domain.SagaStatus) (string, bool) {
	switch status {
	case domain.SagaPendingPrescription:
		return domain.TypePrescriptionFailed, true
	case domain.SagaPendingInventory:
		return domain.TypeInventoryReservationFailed, true
	case domain.SagaPendingShipment:
		return domain.TypeShipmentInitiationFailed, true
	}
	return "", false
}
