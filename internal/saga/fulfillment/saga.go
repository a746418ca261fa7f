// Package fulfillment drives the choreographed order fulfillment saga:
// prescription → inventory reservation → shipment, with compensating
// undo on failure.
//
// All transitions live in one explicit {currentState, eventType} →
// {action, nextState} table. The new state and any follow-up job are
// persisted together (outbox) before anything is enqueued, so a crash
// between deciding and enqueuing cannot silently drop a step. Jobs
// arrive at least once and possibly out of order; an event that does
// not match the persisted state is logged and dropped, which is what
// makes redelivery safe.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/meridianrx/fulfillment/internal/domain"
	"github.com/meridianrx/fulfillment/internal/inventory"
	"github.com/meridianrx/fulfillment/internal/lane"
	"github.com/meridianrx/fulfillment/internal/shipment"
)

// Store is the saga persistence slice the coordinator needs.
type Store interface {
	GetSaga(ctx context.Context, sagaUUID string) (*domain.Saga, error)
	GetSagaByOrder(ctx context.Context, orderUUID string) (*domain.Saga, error)
	CreateSaga(ctx context.Context, saga *domain.Saga, pending []domain.OutboxMessage) error
	UpdateSaga(ctx context.Context, saga *domain.Saga, pending []domain.OutboxMessage) error
}

// EventLog is the append-only log slice the coordinator writes to.
type EventLog interface {
	AppendEvent(ctx context.Context, rec domain.StoredEvent) (*domain.StoredEvent, error)
}

// Dispatcher feeds appended events to the live projection listeners.
type Dispatcher interface {
	Dispatch(ctx context.Context, event domain.DomainEvent) error
}

// Rehydrator binds an appended row back to its concrete event type for
// live dispatch.
type Rehydrator interface {
	Rehydrate(rec domain.StoredEvent) (domain.DomainEvent, bool)
}

// PrescriptionService is the pharmacy system the first step talks to.
// Prescription CRUD itself is another service; the saga only needs
// create and its compensating cancel.
type PrescriptionService interface {
	Create(ctx context.Context, orderUUID string) (prescriptionID string, err error)
	Cancel(ctx context.Context, prescriptionID string) error
}

type transitionKey struct {
	state     domain.SagaStatus
	eventType string
}

// stepOutcome is what an action decided: the event to append and, when
// the saga is not yet terminal, the follow-up job for the lane.
type stepOutcome struct {
	eventType string
	payload   map[string]any
	next      domain.SagaStatus
}

type action func(ctx context.Context, saga *domain.Saga, payload map[string]any) (*stepOutcome, error)

// Coordinator runs fulfillment saga transitions. It implements
// lane.Handler for the order-fulfillment lane.
type Coordinator struct {
	store         Store
	log           EventLog
	bus           Dispatcher
	rehydrator    Rehydrator
	inventory     *inventory.Service
	shipments     *shipment.Service
	prescriptions PrescriptionService
	logger        *slog.Logger
	tracer        trace.Tracer
	transitions   map[transitionKey]action
}

func NewCoordinator(
	store Store,
	log EventLog,
	bus Dispatcher,
	rehydrator Rehydrator,
	inv *inventory.Service,
	ship *shipment.Service,
	rx PrescriptionService,
	logger *slog.Logger,
) *Coordinator {
	c := &Coordinator{
		store:         store,
		log:           log,
		bus:           bus,
		rehydrator:    rehydrator,
		inventory:     inv,
		shipments:     ship,
		prescriptions: rx,
		logger:        logger,
		tracer:        otel.Tracer("saga.fulfillment"),
	}
	c.transitions = map[transitionKey]action{
		// Forward steps.
		{domain.SagaPendingPrescription, domain.TypePrescriptionCreated}: c.reserveInventory,
		{domain.SagaPendingInventory, domain.TypeInventoryReserved}:      c.initiateShipment,
		{domain.SagaPendingShipment, domain.TypeShipmentInitiated}:       c.complete,
		// Compensation chain, reverse of forward order.
		{domain.SagaPendingShipment, domain.TypeShipmentInitiationFailed}:      c.releaseInventory,
		{domain.SagaPendingInventory, domain.TypeInventoryReservationFailed}:   c.cancelPrescription,
		{domain.SagaPendingPrescription, domain.TypePrescriptionFailed}:        c.cancelOrder,
	}
	return c
}

// Order payload keys threaded through the step chain. The OrderCreated
// payload supplies them; each step forwards what later steps need.
var carriedKeys = []string{
	"correlation_id",
	"medications",
	"warehouse_id",
	"shipping_address",
	"shipping_method",
}

// Start begins a saga for a newly created order: the saga row is
// persisted in PENDING_PRESCRIPTION, the prescription step runs, and
// its outcome event is queued. Starting an order that already has a
// saga is a no-op, which makes duplicate OrderCreated delivery safe.
// The order payload carries the medications and shipping details later
// steps need.
func (c *Coordinator) Start(ctx context.Context, orderUUID string, order map[string]any) error {
	existing, err := c.store.GetSagaByOrder(ctx, orderUUID)
	if err != nil {
		return err
	}
	if existing != nil {
		c.logger.Info("saga already exists for order, ignoring duplicate start",
			"order_uuid", orderUUID, "saga_uuid", existing.SagaUUID)
		return nil
	}

	saga := &domain.Saga{
		SagaUUID:          uuid.NewString(),
		OrderUUID:         orderUUID,
		Status:            domain.SagaPendingPrescription,
		CompensationStack: []domain.CompensationStep{},
		StartedAt:         time.Now().UTC(),
		UpdatedAt:         time.Now().UTC(),
	}

	// The row claims the order before the first step runs any side
	// effect: the loser of two concurrent starts hits the order's
	// uniqueness here and backs off without creating a prescription.
	if err := c.store.CreateSaga(ctx, saga, nil); err != nil {
		var conflict *domain.StateConflictError
		if errors.As(err, &conflict) {
			c.logger.Info("lost concurrent start race for order, ignoring",
				"order_uuid", orderUUID)
			return nil
		}
		return fmt.Errorf("creating saga for order %s: %w", orderUUID, err)
	}

	outcome := c.createPrescription(ctx, saga, order)
	msgs, err := c.outboxFor(ctx, saga, outcome)
	if err != nil {
		// The saga row stays in PENDING_PRESCRIPTION; the watchdog
		// fails it if the caller never retries.
		return fmt.Errorf("recording first step for order %s: %w", orderUUID, err)
	}
	if err := c.store.UpdateSaga(ctx, saga, msgs); err != nil {
		return fmt.Errorf("persisting first step for order %s: %w", orderUUID, err)
	}
	c.logger.Info("fulfillment saga started",
		"saga_uuid", saga.SagaUUID, "order_uuid", orderUUID)
	return nil
}

func (c *Coordinator) createPrescription(ctx context.Context, saga *domain.Saga, order map[string]any) *stepOutcome {
	rxID, err := c.prescriptions.Create(ctx, saga.OrderUUID)
	if err != nil {
		c.logger.Warn("prescription step failed",
			"saga_uuid", saga.SagaUUID, "order_uuid", saga.OrderUUID, "error", err)
		return &stepOutcome{
			eventType: domain.TypePrescriptionFailed,
			payload:   carry(order, map[string]any{"reason": err.Error()}),
			next:      domain.SagaPendingPrescription,
		}
	}
	return &stepOutcome{
		eventType: domain.TypePrescriptionCreated,
		payload:   carry(order, map[string]any{"prescription_id": rxID}),
		next:      domain.SagaPendingPrescription,
	}
}

// carry copies the threaded order keys from src onto extra.
func carry(src map[string]any, extra map[string]any) map[string]any {
	for _, k := range carriedKeys {
		if v, ok := src[k]; ok {
			extra[k] = v
		}
	}
	return extra
}

// Handle processes one lane job. Unknown sagas and state/event
// mismatches (duplicates, out-of-order redelivery) are logged and
// dropped.
func (c *Coordinator) Handle(ctx context.Context, job lane.Job) {
	ctx, span := c.tracer.Start(ctx, "fulfillment.step",
		trace.WithAttributes(
			attribute.String("saga_uuid", job.SagaUUID),
			attribute.String("event_type", job.EventType),
		))
	defer span.End()

	saga, err := c.store.GetSaga(ctx, job.SagaUUID)
	if err != nil {
		c.logger.Error("failed to load saga", "saga_uuid", job.SagaUUID, "error", err)
		return
	}
	if saga == nil {
		c.logger.Error("job references unknown saga", "saga_uuid", job.SagaUUID, "event_type", job.EventType)
		return
	}

	apply, ok := c.transitions[transitionKey{saga.Status, job.EventType}]
	if !ok {
		c.logger.Info("event does not match saga state, dropping",
			"saga_uuid", saga.SagaUUID,
			"state", saga.Status,
			"event_type", job.EventType,
		)
		return
	}

	outcome, err := apply(ctx, saga, job.Payload)
	if err != nil {
		// Infrastructure failure: leave the saga untouched. The lane
		// redelivers nothing on its own, but the watchdog picks up the
		// stalled saga.
		c.logger.Error("saga step failed",
			"saga_uuid", saga.SagaUUID, "event_type", job.EventType, "error", err)
		return
	}

	saga.Status = outcome.next
	if saga.Status.Terminal() {
		now := time.Now().UTC()
		saga.CompletedAt = &now
	}

	msgs, err := c.outboxFor(ctx, saga, outcome)
	if err != nil {
		// Without the event the projections and replay would never see
		// this transition, so it is not persisted either: the saga
		// stalls in its current state and the watchdog re-drives it.
		// The step's resources carry derived ids, so the retry finds
		// them instead of re-creating.
		c.logger.Error("failed to record step event, leaving saga for retry",
			"saga_uuid", saga.SagaUUID, "event_type", job.EventType, "error", err)
		return
	}

	if err := c.store.UpdateSaga(ctx, saga, msgs); err != nil {
		c.logger.Error("failed to persist saga transition",
			"saga_uuid", saga.SagaUUID, "error", err)
		return
	}

	c.logger.Info("saga transition applied",
		"saga_uuid", saga.SagaUUID,
		"order_uuid", saga.OrderUUID,
		"event_type", job.EventType,
		"new_state", saga.Status,
		"stack_depth", len(saga.CompensationStack),
	)
}

// outboxFor appends the outcome's event to the log, dispatches it to
// the live projections, and returns the outbox message carrying it to
// the lane. An append failure is returned: a transition whose event
// never reached the log must not be persisted. A projection dispatch
// failure is only logged; replay repairs read models. Terminal outcomes
// produce no follow-up job.
func (c *Coordinator) outboxFor(ctx context.Context, saga *domain.Saga, outcome *stepOutcome) ([]domain.OutboxMessage, error) {
	if outcome == nil || outcome.eventType == "" {
		return nil, nil
	}

	payload := outcome.payload
	if payload == nil {
		payload = map[string]any{}
	}
	stored, err := c.log.AppendEvent(ctx, domain.StoredEvent{
		AggregateUUID: saga.OrderUUID,
		AggregateType: "order",
		EventType:     outcome.eventType,
		EventData:     payload,
		Metadata:      map[string]any{"saga_uuid": saga.SagaUUID, "correlation_id": domain.StringField(payload, "correlation_id")},
	})
	if err != nil {
		return nil, fmt.Errorf("appending %s event: %w", outcome.eventType, err)
	}
	if c.bus != nil && c.rehydrator != nil {
		if event, ok := c.rehydrator.Rehydrate(*stored); ok {
			if err := c.bus.Dispatch(ctx, event); err != nil {
				c.logger.Error("live projection dispatch failed",
					"event_id", stored.ID, "error", err)
			}
		}
	}

	if terminalOutcome(outcome) {
		return nil, nil
	}
	return []domain.OutboxMessage{{
		SagaUUID:  saga.SagaUUID,
		Lane:      lane.Fulfillment,
		EventType: outcome.eventType,
		Payload:   payload,
	}}, nil
}

func terminalOutcome(outcome *stepOutcome) bool {
	return outcome.next == domain.SagaCompleted ||
		outcome.next == domain.SagaFailed ||
		outcome.next == domain.SagaCancelled
}

// reservationIDFor derives a stable reservation id from the saga uuid
// so a redelivered step finds its earlier reservation instead of
// double-reserving.
func reservationIDFor(sagaUUID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("reservation:"+sagaUUID)).String()
}

func shipmentIDFor(sagaUUID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("shipment:"+sagaUUID)).String()
}
