// Package inventory is the reservation side of the compensating
// resource pair: reserve decrements stock all-or-nothing, release
// restores it exactly once.
package inventory

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridianrx/fulfillment/internal/domain"
)

// Store is the persistence the service needs. Both the Postgres and
// the in-memory stores satisfy it; the atomicity contract (no line
// decremented unless every line passes, conditional per-row decrement)
// lives in the store implementations.
type Store interface {
	CreateReservation(ctx context.Context, res *domain.Reservation) error
	ReleaseReservation(ctx context.Context, reservationID string) (*domain.Reservation, error)
	GetReservation(ctx context.Context, reservationID string) (*domain.Reservation, error)
}

// Result is the structured outcome of a reserve or release. Saga
// listeners branch on Success and the error's type, never on panics.
type Result struct {
	Success       bool
	ReservationID string
	Err           error
}

type Service struct {
	store  Store
	logger *slog.Logger
}

func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Reserve holds stock for every line or none at all. The line list must
// be non-empty and every quantity positive.
func (s *Service) Reserve(ctx context.Context, lines []domain.Line, warehouseID string) Result {
	return s.ReserveAs(ctx, uuid.NewString(), lines, warehouseID)
}

// ReserveAs reserves under a caller-chosen id. Saga steps derive the id
// from their saga uuid so a redelivered step can recognise its own
// earlier reservation instead of double-reserving.
func (s *Service) ReserveAs(ctx context.Context, reservationID string, lines []domain.Line, warehouseID string) Result {
	if len(lines) == 0 {
		return Result{Err: &domain.ValidationError{Field: "medications", Reason: "must not be empty"}}
	}
	for _, line := range lines {
		if line.Quantity <= 0 {
			return Result{Err: &domain.ValidationError{Field: "quantity", Reason: "must be positive"}}
		}
	}

	res := &domain.Reservation{
		ReservationID: reservationID,
		WarehouseID:   warehouseID,
		Status:        domain.ReservationReserved,
		Lines:         lines,
		ReservedAt:    time.Now().UTC(),
	}

	if err := s.store.CreateReservation(ctx, res); err != nil {
		s.logger.Warn("reservation failed",
			"reservation_id", res.ReservationID,
			"lines", len(lines),
			"error", err,
		)
		return Result{Err: err}
	}

	s.logger.Info("inventory reserved",
		"reservation_id", res.ReservationID,
		"warehouse_id", warehouseID,
		"lines", len(lines),
	)
	return Result{Success: true, ReservationID: res.ReservationID}
}

// Existing reports whether a reservation with this id already exists.
func (s *Service) Existing(ctx context.Context, reservationID string) (bool, error) {
	res, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		return false, err
	}
	return res != nil, nil
}

// Release restores every line of a reservation and marks it RELEASED.
// A missing id is an explicit error, and a second release of the same
// id is rejected rather than re-applied.
func (s *Service) Release(ctx context.Context, reservationID string) Result {
	if reservationID == "" {
		return Result{Err: &domain.ValidationError{Field: "reservation_id", Reason: "is required"}}
	}

	res, err := s.store.ReleaseReservation(ctx, reservationID)
	if err != nil {
		s.logger.Warn("release failed", "reservation_id", reservationID, "error", err)
		return Result{Err: err}
	}

	s.logger.Info("inventory released",
		"reservation_id", res.ReservationID,
		"lines", len(res.Lines),
	)
	return Result{Success: true, ReservationID: res.ReservationID}
}
