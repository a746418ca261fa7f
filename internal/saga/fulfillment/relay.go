package fulfillment

import (
	"context"
	"log/slog"
	"time"

	"github.com/meridianrx/fulfillment/internal/domain"
	"github.com/meridianrx/fulfillment/internal/lane"
)

// OutboxStore is the outbox slice of the saga store.
type OutboxStore interface {
	PendingOutbox(ctx context.Context, limit int) ([]domain.OutboxMessage, error)
	MarkOutboxSent(ctx context.Context, id int64) error
}

// Enqueuer places jobs on lanes.
type Enqueuer interface {
	Enqueue(ctx context.Context, laneName string, job lane.Job, runAt time.Time) error
}

// Relay drains the saga outbox onto lanes. Enqueue-then-mark gives
// at-least-once: a crash between the two redelivers the job, and the
// coordinator's state check absorbs the duplicate.
type Relay struct {
	store        OutboxStore
	queue        Enqueuer
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int
}

func NewRelay(store OutboxStore, queue Enqueuer, logger *slog.Logger) *Relay {
	return &Relay{
		store:        store,
		queue:        queue,
		logger:       logger,
		pollInterval: 200 * time.Millisecond,
		batchSize:    50,
	}
}

// Start runs the relay loop until the context is cancelled.
func (r *Relay) Start(ctx context.Context) {
	r.logger.Info("outbox relay started")

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopping")
			return
		case <-ticker.C:
			r.Drain(ctx)
		}
	}
}

// Drain enqueues one batch of pending outbox messages.
func (r *Relay) Drain(ctx context.Context) {
	msgs, err := r.store.PendingOutbox(ctx, r.batchSize)
	if err != nil {
		r.logger.Error("failed to fetch pending outbox", "error", err)
		return
	}

	for _, msg := range msgs {
		job := lane.Job{
			SagaUUID:  msg.SagaUUID,
			EventType: msg.EventType,
			Payload:   msg.Payload,
		}
		if err := r.queue.Enqueue(ctx, msg.Lane, job, time.Now()); err != nil {
			r.logger.Error("failed to enqueue outbox message",
				"outbox_id", msg.ID, "lane", msg.Lane, "error", err)
			continue
		}
		if err := r.store.MarkOutboxSent(ctx, msg.ID); err != nil {
			r.logger.Error("failed to mark outbox message sent",
				"outbox_id", msg.ID, "error", err)
		}
	}
}
