package domain

import (
	"time"
)

// Event type names as persisted in the events table. These strings are the
// compatibility contract between the log, the registry and every listener.
const (
	TypeOrderCreated               = "OrderCreated"
	TypePrescriptionCreated        = "PrescriptionCreated"
	TypePrescriptionFailed         = "PrescriptionFailed"
	TypeInventoryReserved          = "InventoryReserved"
	TypeInventoryReservationFailed = "InventoryReservationFailed"
	TypeShipmentInitiated          = "ShipmentInitiated"
	TypeShipmentInitiationFailed   = "ShipmentInitiationFailed"
	TypeRenewalSagaStarted         = "SubscriptionRenewalSagaStarted"
	TypeRenewalChargeSucceeded     = "SubscriptionRenewalChargeSucceeded"
	TypeRenewalChargeFailed        = "SubscriptionRenewalChargeFailed"
	TypeRenewalFailureAlert        = "RenewalFailureAlert"
)

// StoredEvent is a single immutable row of the append-only event log.
// The store-assigned id is the authoritative processing order.
type StoredEvent struct {
	ID            int64          `json:"id"`
	AggregateUUID string         `json:"aggregate_uuid"`
	AggregateType string         `json:"aggregate_type"`
	EventType     string         `json:"event_type"`
	EventData     map[string]any `json:"event_data"`
	Metadata      map[string]any `json:"metadata"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

// DomainEvent is the in-memory form of a StoredEvent, bound to a concrete
// type via the registry. Immutable once constructed.
type DomainEvent interface {
	EventType() string
	AggregateUUID() string
	CorrelationID() string
	OccurredAt() time.Time
	StoredID() int64
}

// Envelope carries the storage identity shared by every rehydrated event.
// Concrete events embed it and add their own payload fields.
type Envelope struct {
	ID          int64
	Aggregate   string
	Correlation string
	At          time.Time
}

func (e Envelope) AggregateUUID() string { return e.Aggregate }
func (e Envelope) CorrelationID() string { return e.Correlation }
func (e Envelope) OccurredAt() time.Time { return e.At }
func (e Envelope) StoredID() int64       { return e.ID }

// NewEnvelope extracts the shared identity from a stored row. The
// correlation id travels in metadata.
func NewEnvelope(rec StoredEvent) Envelope {
	return Envelope{
		ID:          rec.ID,
		Aggregate:   rec.AggregateUUID,
		Correlation: StringField(rec.Metadata, "correlation_id"),
		At:          rec.OccurredAt,
	}
}

type OrderCreated struct {
	Envelope
	OrderUUID      string
	SubscriptionID string
}

func (OrderCreated) EventType() string { return TypeOrderCreated }

type PrescriptionCreated struct {
	Envelope
	OrderUUID      string
	PrescriptionID string
}

func (PrescriptionCreated) EventType() string { return TypePrescriptionCreated }

type PrescriptionFailed struct {
	Envelope
	OrderUUID string
	Reason    string
}

func (PrescriptionFailed) EventType() string { return TypePrescriptionFailed }

type InventoryReserved struct {
	Envelope
	OrderUUID     string
	ReservationID string
}

func (InventoryReserved) EventType() string { return TypeInventoryReserved }

type InventoryReservationFailed struct {
	Envelope
	OrderUUID string
	Reason    string
}

func (InventoryReservationFailed) EventType() string { return TypeInventoryReservationFailed }

type ShipmentInitiated struct {
	Envelope
	OrderUUID      string
	ShipmentID     string
	TrackingNumber string
}

func (ShipmentInitiated) EventType() string { return TypeShipmentInitiated }

type ShipmentInitiationFailed struct {
	Envelope
	OrderUUID string
	Reason    string
}

func (ShipmentInitiationFailed) EventType() string { return TypeShipmentInitiationFailed }

type RenewalSagaStarted struct {
	Envelope
	SubscriptionID string
	UserID         string
	AmountCents    int64
}

func (RenewalSagaStarted) EventType() string { return TypeRenewalSagaStarted }

type RenewalChargeSucceeded struct {
	Envelope
	SubscriptionID string
	AmountCents    int64
	Attempt        int
}

func (RenewalChargeSucceeded) EventType() string { return TypeRenewalChargeSucceeded }

type RenewalChargeFailed struct {
	Envelope
	SubscriptionID string
	Attempt        int
	Reason         string
}

func (RenewalChargeFailed) EventType() string { return TypeRenewalChargeFailed }

type RenewalFailureAlert struct {
	Envelope
	SubscriptionID string
	UserID         string
	AmountCents    int64
	Attempts       int
	LastError      string
}

func (RenewalFailureAlert) EventType() string { return TypeRenewalFailureAlert }

// StringField reads a string value out of a decoded JSON payload map,
// returning "" when the key is absent or not a string.
func StringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// IntField reads an integer value out of a decoded JSON payload map.
// JSON numbers decode as float64, so both forms are accepted.
func IntField(m map[string]any, key string) int64 {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}
