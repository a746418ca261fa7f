package domain

import "time"

// ReservationStatus transitions once: RESERVED → RELEASED.
type ReservationStatus string

const (
	ReservationReserved ReservationStatus = "RESERVED"
	ReservationReleased ReservationStatus = "RELEASED"
)

// Line is one medication/quantity pair in a reservation.
type Line struct {
	MedicationID int64 `json:"medication_id"`
	Quantity     int   `json:"quantity"`
}

// Reservation is an all-or-nothing hold on inventory. Quantity
// conservation holds: the decrements applied on reserve equal the
// increments applied on the matching release.
type Reservation struct {
	ReservationID string            `json:"reservation_id"`
	WarehouseID   string            `json:"warehouse_id,omitempty"`
	Status        ReservationStatus `json:"status"`
	Lines         []Line            `json:"medications"`
	ReservedAt    time.Time         `json:"reserved_at"`
	ReleasedAt    *time.Time        `json:"released_at,omitempty"`
}
