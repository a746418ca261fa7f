package domain

import "time"

// SagaStatus is the lifecycle state of an order fulfillment saga.
type SagaStatus string

const (
	SagaPendingPrescription SagaStatus = "PENDING_PRESCRIPTION"
	SagaPendingInventory    SagaStatus = "PENDING_INVENTORY_RESERVATION"
	SagaPendingShipment     SagaStatus = "PENDING_SHIPMENT"
	SagaCompleted           SagaStatus = "COMPLETED"
	SagaFailed              SagaStatus = "FAILED"
	SagaCancelled           SagaStatus = "CANCELLED"
)

// Terminal reports whether the saga has finished, successfully or not.
// A terminal saga must have an empty compensation stack.
func (s SagaStatus) Terminal() bool {
	return s == SagaCompleted || s == SagaFailed || s == SagaCancelled
}

// Forward step names recorded on the compensation stack. The shipment
// step has no entry: it is the last forward step, so the saga either
// completes (clearing the stack) or unwinds it by its derived id.
const (
	StepPrescription = "prescription"
	StepInventory    = "inventory_reservation"
)

// CompensationStep is one completed forward step. The stack of these is
// persisted with the saga so an unwind can resume after a crash from
// durable state alone.
type CompensationStep struct {
	Step        string    `json:"step"`
	ResourceID  string    `json:"resource_id"`
	CompletedAt time.Time `json:"completed_at"`
}

// Saga is the persisted state of one order fulfillment run.
type Saga struct {
	SagaUUID          string             `json:"saga_uuid"`
	OrderUUID         string             `json:"order_uuid"`
	Status            SagaStatus         `json:"status"`
	CompensationStack []CompensationStep `json:"compensation_stack"`
	StartedAt         time.Time          `json:"started_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
	CompletedAt       *time.Time         `json:"completed_at,omitempty"`
}
