package fulfillment

import (
	"context"
	"errors"
	"time"

	"github.com/meridianrx/fulfillment/internal/domain"
)

// reserveInventory runs after the prescription step completed. It
// records the prescription on the compensation stack and holds the
// order's inventory. Business failure (insufficient stock) turns into
// an InventoryReservationFailed event, not an error.
func (c *Coordinator) reserveInventory(ctx context.Context, saga *domain.Saga, payload map[string]any) (*stepOutcome, error) {
	c.push(saga, domain.StepPrescription, domain.StringField(payload, "prescription_id"))

	lines := linesFromPayload(payload)
	warehouseID := domain.StringField(payload, "warehouse_id")

	resID := reservationIDFor(saga.SagaUUID)
	if existing, err := c.inventory.Existing(ctx, resID); err != nil {
		return nil, err
	} else if existing {
		// Redelivered step: the reservation already went through.
		return &stepOutcome{
			eventType: domain.TypeInventoryReserved,
			payload:   carry(payload, map[string]any{"reservation_id": resID}),
			next:      domain.SagaPendingInventory,
		}, nil
	}

	result := c.inventory.ReserveAs(ctx, resID, lines, warehouseID)
	if !result.Success {
		if isBusinessFailure(result.Err) {
			return &stepOutcome{
				eventType: domain.TypeInventoryReservationFailed,
				payload:   carry(payload, map[string]any{"reason": result.Err.Error()}),
				next:      domain.SagaPendingInventory,
			}, nil
		}
		return nil, result.Err
	}

	return &stepOutcome{
		eventType: domain.TypeInventoryReserved,
		payload:   carry(payload, map[string]any{"reservation_id": result.ReservationID}),
		next:      domain.SagaPendingInventory,
	}, nil
}

// initiateShipment runs after inventory was reserved. It records the
// reservation on the stack and initiates the shipment.
func (c *Coordinator) initiateShipment(ctx context.Context, saga *domain.Saga, payload map[string]any) (*stepOutcome, error) {
	c.push(saga, domain.StepInventory, domain.StringField(payload, "reservation_id"))

	address := domain.StringField(payload, "shipping_address")
	method := domain.StringField(payload, "shipping_method")

	shipID := shipmentIDFor(saga.SagaUUID)
	if existing, err := c.shipments.Existing(ctx, shipID); err != nil {
		return nil, err
	} else if existing != nil {
		return &stepOutcome{
			eventType: domain.TypeShipmentInitiated,
			payload: carry(payload, map[string]any{
				"shipment_id":     existing.ShipmentID,
				"tracking_number": existing.TrackingNumber,
			}),
			next: domain.SagaPendingShipment,
		}, nil
	}

	result := c.shipments.InitiateAs(ctx, shipID, saga.OrderUUID, address, method, "")
	if !result.Success {
		if isBusinessFailure(result.Err) {
			return &stepOutcome{
				eventType: domain.TypeShipmentInitiationFailed,
				payload:   carry(payload, map[string]any{"reason": result.Err.Error()}),
				next:      domain.SagaPendingShipment,
			}, nil
		}
		return nil, result.Err
	}

	return &stepOutcome{
		eventType: domain.TypeShipmentInitiated,
		payload: carry(payload, map[string]any{
			"shipment_id":     result.ShipmentID,
			"tracking_number": result.TrackingNumber,
		}),
		next: domain.SagaPendingShipment,
	}, nil
}

// complete finishes the happy path. The compensation stack is cleared:
// a terminal saga never holds pending undo work.
func (c *Coordinator) complete(_ context.Context, saga *domain.Saga, _ map[string]any) (*stepOutcome, error) {
	saga.CompensationStack = saga.CompensationStack[:0]
	return &stepOutcome{next: domain.SagaCompleted}, nil
}

// releaseInventory is the first compensation: shipment initiation
// failed, so the inventory hold recorded on the stack is released and
// the chain continues with InventoryReservationFailed.
func (c *Coordinator) releaseInventory(ctx context.Context, saga *domain.Saga, payload map[string]any) (*stepOutcome, error) {
	correlationID := domain.StringField(payload, "correlation_id")
	reason := domain.StringField(payload, "reason")

	if err := c.reapShipment(ctx, saga); err != nil {
		return nil, err
	}

	step, ok := c.pop(saga, domain.StepInventory)
	if ok {
		result := c.inventory.Release(ctx, step.ResourceID)
		if !result.Success {
			var conflict *domain.StateConflictError
			if !errors.As(result.Err, &conflict) {
				// Put the step back; the watchdog retries the unwind.
				c.push(saga, step.Step, step.ResourceID)
				return nil, result.Err
			}
			// Already released by an earlier delivery of this event.
			c.logger.Info("reservation already released, continuing unwind",
				"saga_uuid", saga.SagaUUID, "reservation_id", step.ResourceID)
		}
	}

	return &stepOutcome{
		eventType: domain.TypeInventoryReservationFailed,
		payload:   map[string]any{"reason": reason, "compensation": true, "correlation_id": correlationID},
		next:      domain.SagaPendingInventory,
	}, nil
}

// cancelPrescription is the second compensation: the inventory step
// failed (or its compensation cascaded), so the prescription recorded
// on the stack is cancelled and the chain continues.
func (c *Coordinator) cancelPrescription(ctx context.Context, saga *domain.Saga, payload map[string]any) (*stepOutcome, error) {
	correlationID := domain.StringField(payload, "correlation_id")
	reason := domain.StringField(payload, "reason")

	if err := c.reapShipment(ctx, saga); err != nil {
		return nil, err
	}
	if err := c.reapReservation(ctx, saga); err != nil {
		return nil, err
	}

	step, ok := c.pop(saga, domain.StepPrescription)
	if ok {
		if err := c.prescriptions.Cancel(ctx, step.ResourceID); err != nil {
			c.push(saga, step.Step, step.ResourceID)
			return nil, err
		}
	}

	return &stepOutcome{
		eventType: domain.TypePrescriptionFailed,
		payload:   map[string]any{"reason": reason, "compensation": true, "correlation_id": correlationID},
		next:      domain.SagaPendingPrescription,
	}, nil
}

// cancelOrder terminates the unwound saga. By now the stack must be
// empty; anything left would mean a completed step was never undone.
func (c *Coordinator) cancelOrder(ctx context.Context, saga *domain.Saga, _ map[string]any) (*stepOutcome, error) {
	if err := c.reapShipment(ctx, saga); err != nil {
		return nil, err
	}
	if err := c.reapReservation(ctx, saga); err != nil {
		return nil, err
	}

	if len(saga.CompensationStack) > 0 {
		c.logger.Error("terminating saga with non-empty compensation stack",
			"saga_uuid", saga.SagaUUID, "stack_depth", len(saga.CompensationStack))
	}
	saga.CompensationStack = saga.CompensationStack[:0]
	return &stepOutcome{next: domain.SagaFailed}, nil
}

// reapShipment cancels the saga's shipment at its derived id when one
// exists. A forward step's resource reaches the compensation stack only
// when the next event is handled, so a saga that stalls right after a
// step succeeded holds a resource the stack does not know about; the
// derived ids make those holds findable during the unwind. Absence is
// normal. Infrastructure failure is returned so the watchdog retries.
func (c *Coordinator) reapShipment(ctx context.Context, saga *domain.Saga) error {
	result := c.shipments.Cancel(ctx, shipmentIDFor(saga.SagaUUID))
	if result.Success {
		c.logger.Info("cancelled shipment left by a stalled step",
			"saga_uuid", saga.SagaUUID, "shipment_id", result.ShipmentID)
		return nil
	}
	var notFound *domain.NotFoundError
	if errors.As(result.Err, &notFound) {
		return nil
	}
	var conflict *domain.StateConflictError
	if errors.As(result.Err, &conflict) {
		if conflict.Status != string(domain.ShipmentCancelled) {
			c.logger.Warn("shipment no longer cancellable during unwind",
				"saga_uuid", saga.SagaUUID, "status", conflict.Status)
		}
		return nil
	}
	return result.Err
}

// reapReservation releases the saga's reservation at its derived id
// when it is still held, mirroring reapShipment for the inventory tier.
func (c *Coordinator) reapReservation(ctx context.Context, saga *domain.Saga) error {
	result := c.inventory.Release(ctx, reservationIDFor(saga.SagaUUID))
	if result.Success {
		c.logger.Info("released reservation left by a stalled step",
			"saga_uuid", saga.SagaUUID, "reservation_id", result.ReservationID)
		return nil
	}
	var notFound *domain.NotFoundError
	var conflict *domain.StateConflictError
	if errors.As(result.Err, &notFound) || errors.As(result.Err, &conflict) {
		return nil
	}
	return result.Err
}

func (c *Coordinator) push(saga *domain.Saga, step, resourceID string) {
	// Redelivery guard: never record the same completed step twice.
	for _, s := range saga.CompensationStack {
		if s.Step == step {
			return
		}
	}
	saga.CompensationStack = append(saga.CompensationStack, domain.CompensationStep{
		Step:        step,
		ResourceID:  resourceID,
		CompletedAt: time.Now().UTC(),
	})
}

// pop removes the top of the compensation stack when it matches the
// expected step. A mismatch means the stack was already unwound past
// this point by an earlier delivery.
func (c *Coordinator) pop(saga *domain.Saga, expect string) (domain.CompensationStep, bool) {
	n := len(saga.CompensationStack)
	if n == 0 {
		return domain.CompensationStep{}, false
	}
	top := saga.CompensationStack[n-1]
	if top.Step != expect {
		return domain.CompensationStep{}, false
	}
	saga.CompensationStack = saga.CompensationStack[:n-1]
	return top, true
}

// isBusinessFailure separates domain rejections, which trigger
// compensation, from infrastructure errors, which are retried.
func isBusinessFailure(err error) bool {
	var capacity *domain.CapacityError
	var validation *domain.ValidationError
	var conflict *domain.StateConflictError
	var notFound *domain.NotFoundError
	return errors.As(err, &capacity) || errors.As(err, &validation) ||
		errors.As(err, &conflict) || errors.As(err, &notFound)
}

// linesFromPayload decodes the medication lines carried by the
// prescription event.
func linesFromPayload(payload map[string]any) []domain.Line {
	raw, ok := payload["medications"].([]any)
	if !ok {
		return nil
	}
	lines := make([]domain.Line, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		lines = append(lines, domain.Line{
			MedicationID: domain.IntField(m, "medication_id"),
			Quantity:     int(domain.IntField(m, "quantity")),
		})
	}
	return lines
}
