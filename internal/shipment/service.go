// Package shipment is the initiation side of the compensating resource
// pair: initiate creates an INITIATED shipment, cancel undoes it while
// the shipment is still cancellable.
package shipment

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/meridianrx/fulfillment/internal/domain"
)

const defaultMethod = "standard"

type Store interface {
	CreateShipment(ctx context.Context, sh *domain.Shipment) error
	GetShipment(ctx context.Context, shipmentID string) (*domain.Shipment, error)
	CancelShipment(ctx context.Context, shipmentID string) (*domain.Shipment, error)
}

// Result is the structured outcome of an initiate or cancel.
type Result struct {
	Success        bool
	ShipmentID     string
	TrackingNumber string
	Err            error
}

type Service struct {
	store  Store
	logger *slog.Logger
}

func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Initiate creates a shipment for an order. The address is required;
// the method defaults to "standard"; shipment id and tracking number
// are generated when absent.
func (s *Service) Initiate(ctx context.Context, orderUUID, shippingAddress, shippingMethod, trackingNumber string) Result {
	return s.InitiateAs(ctx, uuid.NewString(), orderUUID, shippingAddress, shippingMethod, trackingNumber)
}

// InitiateAs initiates under a caller-chosen shipment id, letting saga
// steps recognise their own earlier shipment on redelivery.
func (s *Service) InitiateAs(ctx context.Context, shipmentID, orderUUID, shippingAddress, shippingMethod, trackingNumber string) Result {
	if orderUUID == "" {
		return Result{Err: &domain.ValidationError{Field: "order_uuid", Reason: "is required"}}
	}
	if shippingAddress == "" {
		return Result{Err: &domain.ValidationError{Field: "shipping_address", Reason: "is required"}}
	}
	if shippingMethod == "" {
		shippingMethod = defaultMethod
	}
	if trackingNumber == "" {
		trackingNumber = newTrackingNumber()
	}

	sh := &domain.Shipment{
		ShipmentID:      shipmentID,
		OrderUUID:       orderUUID,
		Status:          domain.ShipmentInitiatedStatus,
		TrackingNumber:  trackingNumber,
		ShippingAddress: shippingAddress,
		ShippingMethod:  shippingMethod,
		InitiatedAt:     time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}

	if err := s.store.CreateShipment(ctx, sh); err != nil {
		s.logger.Warn("shipment initiation failed", "order_uuid", orderUUID, "error", err)
		return Result{Err: err}
	}

	s.logger.Info("shipment initiated",
		"shipment_id", sh.ShipmentID,
		"order_uuid", orderUUID,
		"tracking_number", trackingNumber,
		"shipping_method", shippingMethod,
	)
	return Result{Success: true, ShipmentID: sh.ShipmentID, TrackingNumber: trackingNumber}
}

// Existing returns the shipment with this id when one already exists.
func (s *Service) Existing(ctx context.Context, shipmentID string) (*domain.Shipment, error) {
	return s.store.GetShipment(ctx, shipmentID)
}

// Cancel flips a shipment to CANCELLED. A missing id is an explicit
// error; SHIPPED or DELIVERED shipments are rejected with a conflict
// naming the blocking status.
func (s *Service) Cancel(ctx context.Context, shipmentID string) Result {
	if shipmentID == "" {
		return Result{Err: &domain.ValidationError{Field: "shipment_id", Reason: "is required"}}
	}

	sh, err := s.store.CancelShipment(ctx, shipmentID)
	if err != nil {
		s.logger.Warn("shipment cancel failed", "shipment_id", shipmentID, "error", err)
		return Result{Err: err}
	}

	s.logger.Info("shipment cancelled", "shipment_id", sh.ShipmentID, "order_uuid", sh.OrderUUID)
	return Result{Success: true, ShipmentID: sh.ShipmentID}
}

func newTrackingNumber() string {
	return fmt.Sprintf("MRX%012d", rand.Int63n(1_000_000_000_000))
}
