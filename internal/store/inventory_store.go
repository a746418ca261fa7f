package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/meridianrx/fulfillment/internal/domain"
)

// CreateReservation atomically checks sufficiency for every line,
// decrements the stock counters and inserts a RESERVED record, all in
// one transaction. No line is decremented unless every line passes.
//
// The decrement itself is a conditional UPDATE guarded by the current
// quantity, so concurrent reservations for the same medication cannot
// lose updates: the guard failing rolls the whole transaction back with
// a CapacityError.
func (s *PostgresStore) CreateReservation(ctx context.Context, res *domain.Reservation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning reservation tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, line := range res.Lines {
		tag, err := tx.Exec(ctx, `
			UPDATE medication_stock
			SET quantity = quantity - $2, updated_at = NOW()
			WHERE medication_id = $1 AND quantity >= $2
		`, line.MedicationID, line.Quantity)
		if err != nil {
			return fmt.Errorf("decrementing stock for medication %d: %w", line.MedicationID, err)
		}
		if tag.RowsAffected() == 0 {
			available, err := s.stockWithin(ctx, tx, line.MedicationID)
			if err != nil {
				return err
			}
			return &domain.CapacityError{
				MedicationID: line.MedicationID,
				Requested:    line.Quantity,
				Available:    available,
			}
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO reservations (reservation_id, warehouse_id, status, lines, reserved_at)
		VALUES ($1, $2, $3, $4, $5)
	`, res.ReservationID, nullable(res.WarehouseID), res.Status, res.Lines, res.ReservedAt)
	if err != nil {
		return fmt.Errorf("inserting reservation: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) stockWithin(ctx context.Context, tx pgx.Tx, medicationID int64) (int, error) {
	var qty int
	err := tx.QueryRow(ctx,
		`SELECT quantity FROM medication_stock WHERE medication_id = $1`, medicationID,
	).Scan(&qty)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("querying stock for medication %d: %w", medicationID, err)
	}
	return qty, nil
}

// ReleaseReservation restores every line's quantity and flips the
// record to RELEASED, in one transaction. The status flip is guarded by
// the RESERVED source state so a second release of the same id fails
// with a StateConflictError instead of re-applying the increments.
func (s *PostgresStore) ReleaseReservation(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning release tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var res domain.Reservation
	var releasedAt *time.Time
	err = tx.QueryRow(ctx, `
		SELECT reservation_id, COALESCE(warehouse_id, ''), status, lines, reserved_at, released_at
		FROM reservations WHERE reservation_id = $1 FOR UPDATE
	`, reservationID).Scan(&res.ReservationID, &res.WarehouseID, &res.Status, &res.Lines, &res.ReservedAt, &releasedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, &domain.NotFoundError{Kind: "reservation", ID: reservationID}
		}
		return nil, fmt.Errorf("querying reservation: %w", err)
	}
	res.ReleasedAt = releasedAt

	if res.Status != domain.ReservationReserved {
		return nil, &domain.StateConflictError{Kind: "reservation", ID: reservationID, Status: string(res.Status)}
	}

	for _, line := range res.Lines {
		_, err := tx.Exec(ctx, `
			UPDATE medication_stock
			SET quantity = quantity + $2, updated_at = NOW()
			WHERE medication_id = $1
		`, line.MedicationID, line.Quantity)
		if err != nil {
			return nil, fmt.Errorf("restoring stock for medication %d: %w", line.MedicationID, err)
		}
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		UPDATE reservations SET status = $2, released_at = $3 WHERE reservation_id = $1
	`, reservationID, domain.ReservationReleased, now)
	if err != nil {
		return nil, fmt.Errorf("marking reservation released: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing release: %w", err)
	}

	res.Status = domain.ReservationReleased
	res.ReleasedAt = &now
	return &res, nil
}

// GetReservation returns a reservation by id, or nil when absent.
func (s *PostgresStore) GetReservation(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	var res domain.Reservation
	err := s.pool.QueryRow(ctx, `
		SELECT reservation_id, COALESCE(warehouse_id, ''), status, lines, reserved_at, released_at
		FROM reservations WHERE reservation_id = $1
	`, reservationID).Scan(&res.ReservationID, &res.WarehouseID, &res.Status, &res.Lines, &res.ReservedAt, &res.ReleasedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying reservation: %w", err)
	}
	return &res, nil
}

// StockQuantity returns the on-hand quantity for a medication.
func (s *PostgresStore) StockQuantity(ctx context.Context, medicationID int64) (int, error) {
	var qty int
	err := s.pool.QueryRow(ctx,
		`SELECT quantity FROM medication_stock WHERE medication_id = $1`, medicationID,
	).Scan(&qty)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, &domain.NotFoundError{Kind: "medication", ID: fmt.Sprintf("%d", medicationID)}
		}
		return 0, fmt.Errorf("querying stock: %w", err)
	}
	return qty, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
