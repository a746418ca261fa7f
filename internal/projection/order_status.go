package projection

import (
	"context"
	"log/slog"

	"github.com/meridianrx/fulfillment/internal/domain"
	"github.com/meridianrx/fulfillment/internal/store"
)

// OrderStatusStore is the slice of the store the projection writes to.
type OrderStatusStore interface {
	UpsertOrderStatus(ctx context.Context, row store.OrderStatusRow) error
}

// OrderStatus folds fulfillment events into the order_status read
// model. Upserts are keyed by order uuid, so duplicate or replayed
// events overwrite rather than duplicate.
type OrderStatus struct {
	store  OrderStatusStore
	logger *slog.Logger
}

func NewOrderStatus(s OrderStatusStore, logger *slog.Logger) *OrderStatus {
	return &OrderStatus{store: s, logger: logger}
}

// EventTypes lists the fulfillment events this projection consumes.
func (p *OrderStatus) EventTypes() []string {
	return []string{
		domain.TypeOrderCreated,
		domain.TypePrescriptionCreated,
		domain.TypePrescriptionFailed,
		domain.TypeInventoryReserved,
		domain.TypeInventoryReservationFailed,
		domain.TypeShipmentInitiated,
		domain.TypeShipmentInitiationFailed,
	}
}

func (p *OrderStatus) Handle(ctx context.Context, event domain.DomainEvent) error {
	row := store.OrderStatusRow{
		OrderUUID:   event.AggregateUUID(),
		LastEventID: event.StoredID(),
	}

	switch e := event.(type) {
	case domain.OrderCreated:
		row.Status = "created"
	case domain.PrescriptionCreated:
		row.Status = "prescription_ready"
	case domain.PrescriptionFailed:
		row.Status = "failed"
		row.FailureReason = e.Reason
	case domain.InventoryReserved:
		row.Status = "inventory_reserved"
	case domain.InventoryReservationFailed:
		row.Status = "failed"
		row.FailureReason = e.Reason
	case domain.ShipmentInitiated:
		row.Status = "shipped"
	case domain.ShipmentInitiationFailed:
		row.Status = "failed"
		row.FailureReason = e.Reason
	default:
		p.logger.Warn("order status projection received unexpected event",
			"event_type", event.EventType())
		return nil
	}

	return p.store.UpsertOrderStatus(ctx, row)
}
