package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/meridianrx/fulfillment/internal/domain"
)

// CreateShipment persists a new INITIATED shipment.
func (s *PostgresStore) CreateShipment(ctx context.Context, sh *domain.Shipment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO shipments (shipment_id, order_uuid, status, tracking_number, shipping_address, shipping_method, initiated_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, sh.ShipmentID, sh.OrderUUID, sh.Status, sh.TrackingNumber, sh.ShippingAddress, sh.ShippingMethod, sh.InitiatedAt)
	if err != nil {
		return fmt.Errorf("inserting shipment: %w", err)
	}
	return nil
}

// GetShipment returns a shipment by id, or nil when absent.
func (s *PostgresStore) GetShipment(ctx context.Context, shipmentID string) (*domain.Shipment, error) {
	var sh domain.Shipment
	err := s.pool.QueryRow(ctx, `
		SELECT shipment_id, order_uuid, status, tracking_number, shipping_address, shipping_method, initiated_at, updated_at
		FROM shipments WHERE shipment_id = $1
	`, shipmentID).Scan(
		&sh.ShipmentID, &sh.OrderUUID, &sh.Status, &sh.TrackingNumber,
		&sh.ShippingAddress, &sh.ShippingMethod, &sh.InitiatedAt, &sh.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying shipment: %w", err)
	}
	return &sh, nil
}

// CancelShipment flips a shipment to CANCELLED with a source-state
// guard: the conditional UPDATE only matches cancellable statuses, so a
// shipment that raced to SHIPPED or DELIVERED surfaces a
// StateConflictError naming the blocking status instead of being
// double-applied.
func (s *PostgresStore) CancelShipment(ctx context.Context, shipmentID string) (*domain.Shipment, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE shipments SET status = $2, updated_at = NOW()
		WHERE shipment_id = $1 AND status = $3
	`, shipmentID, domain.ShipmentCancelled, domain.ShipmentInitiatedStatus)
	if err != nil {
		return nil, fmt.Errorf("cancelling shipment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		sh, err := s.GetShipment(ctx, shipmentID)
		if err != nil {
			return nil, err
		}
		if sh == nil {
			return nil, &domain.NotFoundError{Kind: "shipment", ID: shipmentID}
		}
		return nil, &domain.StateConflictError{Kind: "shipment", ID: shipmentID, Status: string(sh.Status)}
	}
	return s.GetShipment(ctx, shipmentID)
}
