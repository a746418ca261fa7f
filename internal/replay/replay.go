// Package replay rebuilds read models by walking the append-only event
// log in strict id order and re-dispatching rehydrated events through
// the same listener bus used for live processing.
package replay

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/meridianrx/fulfillment/internal/domain"
	"github.com/meridianrx/fulfillment/internal/registry"
	"github.com/meridianrx/fulfillment/internal/store"
)

const defaultBatchSize = 500

// EventSource is the slice of the store the engine reads from.
type EventSource interface {
	ListEventsAfter(ctx context.Context, q store.EventQuery) ([]domain.StoredEvent, error)
}

// Dispatcher delivers a rehydrated event to its projection listeners.
type Dispatcher interface {
	Dispatch(ctx context.Context, event domain.DomainEvent) error
}

// Options selects which slice of the log to replay and how.
type Options struct {
	// Projection restricts the walk to the event types feeding a named
	// projection. Unknown names fail before any batch runs.
	Projection string
	// AggregateType restricts the walk to one aggregate type.
	AggregateType string
	// FromID is the inclusive lower id bound; 0 starts at the head.
	FromID int64
	// ToID is the inclusive upper id bound; 0 means unbounded.
	ToID int64
	// DryRun reports what would be dispatched without side effects.
	DryRun bool
	// BatchSize caps rows fetched per page. Defaults to 500.
	BatchSize int
	// StopOnListenerError aborts the run on the first listener error.
	// When false (the default) the error is reported through the
	// progress sink and the walk continues.
	StopOnListenerError bool
}

// Result accumulates the outcome of one replay run.
type Result struct {
	Batches          int            `json:"batches"`
	EventsProcessed  int            `json:"events_processed"`
	EventsDispatched int            `json:"events_dispatched"`
	// Skipped counts events whose stored type had no registered
	// factory, per type, so silent skips stay observable.
	Skipped map[string]int `json:"skipped,omitempty"`
	// ListenerErrors counts dispatch errors tolerated under the
	// skip-and-continue policy.
	ListenerErrors int `json:"listener_errors,omitempty"`
}

// Engine walks the log with keyset pagination and re-dispatches events.
type Engine struct {
	source   EventSource
	registry *registry.Registry
	bus      Dispatcher
	logger   *slog.Logger
	tracer   trace.Tracer
}

func NewEngine(source EventSource, reg *registry.Registry, bus Dispatcher, logger *slog.Logger) *Engine {
	return &Engine{
		source:   source,
		registry: reg,
		bus:      bus,
		logger:   logger,
		tracer:   otel.Tracer("replay"),
	}
}

// Run replays the selected slice of the log. Every action is reported
// as one line on the progress sink; pass nil to discard progress.
//
// The cursor is the last-seen stored id (keyset pagination), so rows
// appended concurrently past the cursor are neither skipped nor
// duplicated within the walk.
func (e *Engine) Run(ctx context.Context, opts Options, progress io.Writer) (*Result, error) {
	if progress == nil {
		progress = io.Discard
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	var eventTypes []string
	if opts.Projection != "" {
		types, err := e.registry.EventTypesForProjection(opts.Projection)
		if err != nil {
			return nil, err
		}
		eventTypes = types
	}

	ctx, span := e.tracer.Start(ctx, "replay.run",
		trace.WithAttributes(
			attribute.String("projection", opts.Projection),
			attribute.Bool("dry_run", opts.DryRun),
		))
	defer span.End()

	result := &Result{Skipped: map[string]int{}}
	cursor := int64(0)
	if opts.FromID > 0 {
		cursor = opts.FromID - 1
	}

	for {
		batch, err := e.source.ListEventsAfter(ctx, store.EventQuery{
			AggregateType: opts.AggregateType,
			EventTypes:    eventTypes,
			AfterID:       cursor,
			ToID:          opts.ToID,
			Limit:         opts.BatchSize,
		})
		if err != nil {
			return result, fmt.Errorf("fetching replay batch after id %d: %w", cursor, err)
		}
		if len(batch) == 0 {
			break
		}
		result.Batches++

		for _, rec := range batch {
			cursor = rec.ID
			result.EventsProcessed++

			event, ok := e.registry.Rehydrate(rec)
			if !ok {
				result.Skipped[rec.EventType]++
				fmt.Fprintf(progress, "skip id=%d type=%s (unmapped)\n", rec.ID, rec.EventType)
				e.logger.Warn("replay skipping unmapped event type",
					"event_id", rec.ID, "event_type", rec.EventType)
				continue
			}

			if opts.DryRun {
				fmt.Fprintf(progress, "would dispatch id=%d type=%s aggregate=%s\n",
					rec.ID, rec.EventType, rec.AggregateUUID)
				continue
			}

			if err := e.bus.Dispatch(ctx, event); err != nil {
				if opts.StopOnListenerError {
					fmt.Fprintf(progress, "abort id=%d type=%s: %v\n", rec.ID, rec.EventType, err)
					return result, fmt.Errorf("dispatching event id %d: %w", rec.ID, err)
				}
				result.ListenerErrors++
				fmt.Fprintf(progress, "error id=%d type=%s: %v\n", rec.ID, rec.EventType, err)
				e.logger.Error("replay listener error, continuing",
					"event_id", rec.ID, "event_type", rec.EventType, "error", err)
				continue
			}
			result.EventsDispatched++
			fmt.Fprintf(progress, "dispatched id=%d type=%s aggregate=%s\n",
				rec.ID, rec.EventType, rec.AggregateUUID)
		}

		if len(batch) < opts.BatchSize {
			break
		}
	}

	span.SetAttributes(
		attribute.Int("events_processed", result.EventsProcessed),
		attribute.Int("events_dispatched", result.EventsDispatched),
		attribute.Int("batches", result.Batches),
	)

	e.logger.Info("replay complete",
		"projection", opts.Projection,
		"dry_run", opts.DryRun,
		"batches", result.Batches,
		"events_processed", result.EventsProcessed,
		"events_dispatched", result.EventsDispatched,
		"listener_errors", result.ListenerErrors,
	)
	return result, nil
}
