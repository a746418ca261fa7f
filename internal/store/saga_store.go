package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/meridianrx/fulfillment/internal/domain"
)

// CreateSaga inserts a new saga row together with any outbox messages
// its first transition produced, in one transaction. A unique violation
// on the order means another start won the race; it surfaces as a
// StateConflictError so the caller can back off.
func (s *PostgresStore) CreateSaga(ctx context.Context, saga *domain.Saga, pending []domain.OutboxMessage) error {
	return s.sagaTx(ctx, pending, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO sagas (saga_uuid, order_uuid, status, compensation_stack, started_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)
		`, saga.SagaUUID, saga.OrderUUID, saga.Status, saga.CompensationStack, saga.StartedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return &domain.StateConflictError{Kind: "saga", ID: saga.OrderUUID, Status: "exists"}
			}
			return fmt.Errorf("inserting saga: %w", err)
		}
		return nil
	})
}

// UpdateSaga persists a saga's new state and outbox messages in one
// transaction. The state is durable before any job is enqueued.
func (s *PostgresStore) UpdateSaga(ctx context.Context, saga *domain.Saga, pending []domain.OutboxMessage) error {
	return s.sagaTx(ctx, pending, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE sagas
			SET status = $2, compensation_stack = $3, updated_at = NOW(), completed_at = $4
			WHERE saga_uuid = $1
		`, saga.SagaUUID, saga.Status, saga.CompensationStack, saga.CompletedAt)
		if err != nil {
			return fmt.Errorf("updating saga: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return &domain.NotFoundError{Kind: "saga", ID: saga.SagaUUID}
		}
		return nil
	})
}

func (s *PostgresStore) sagaTx(ctx context.Context, pending []domain.OutboxMessage, write func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning saga tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := write(tx); err != nil {
		return err
	}

	for _, msg := range pending {
		_, err := tx.Exec(ctx, `
			INSERT INTO saga_outbox (saga_uuid, lane, event_type, payload)
			VALUES ($1, $2, $3, $4)
		`, msg.SagaUUID, msg.Lane, msg.EventType, msg.Payload)
		if err != nil {
			return fmt.Errorf("inserting outbox message: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// GetSaga returns a saga by its uuid, or nil when absent.
func (s *PostgresStore) GetSaga(ctx context.Context, sagaUUID string) (*domain.Saga, error) {
	var saga domain.Saga
	err := s.pool.QueryRow(ctx, `
		SELECT saga_uuid, order_uuid, status, compensation_stack, started_at, updated_at, completed_at
		FROM sagas WHERE saga_uuid = $1
	`, sagaUUID).Scan(
		&saga.SagaUUID, &saga.OrderUUID, &saga.Status,
		&saga.CompensationStack, &saga.StartedAt, &saga.UpdatedAt, &saga.CompletedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying saga: %w", err)
	}
	return &saga, nil
}

// GetSagaByOrder returns the saga driving an order, or nil when absent.
func (s *PostgresStore) GetSagaByOrder(ctx context.Context, orderUUID string) (*domain.Saga, error) {
	var saga domain.Saga
	err := s.pool.QueryRow(ctx, `
		SELECT saga_uuid, order_uuid, status, compensation_stack, started_at, updated_at, completed_at
		FROM sagas WHERE order_uuid = $1
	`, orderUUID).Scan(
		&saga.SagaUUID, &saga.OrderUUID, &saga.Status,
		&saga.CompensationStack, &saga.StartedAt, &saga.UpdatedAt, &saga.CompletedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying saga by order: %w", err)
	}
	return &saga, nil
}

// PendingOutbox returns unsent outbox messages in insertion order.
func (s *PostgresStore) PendingOutbox(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, saga_uuid, lane, event_type, payload, created_at, sent_at
		FROM saga_outbox WHERE sent_at IS NULL ORDER BY id LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying outbox: %w", err)
	}
	defer rows.Close()

	var msgs []domain.OutboxMessage
	for rows.Next() {
		var m domain.OutboxMessage
		if err := rows.Scan(&m.ID, &m.SagaUUID, &m.Lane, &m.EventType, &m.Payload, &m.CreatedAt, &m.SentAt); err != nil {
			return nil, fmt.Errorf("scanning outbox message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkOutboxSent records that a message has been enqueued on its lane.
func (s *PostgresStore) MarkOutboxSent(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE saga_outbox SET sent_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("marking outbox message sent: %w", err)
	}
	return nil
}

// StuckSagas returns non-terminal sagas whose last transition is older
// than the cutoff. The watchdog uses this to trigger compensation on
// step silence.
func (s *PostgresStore) StuckSagas(ctx context.Context, cutoff time.Time, limit int) ([]domain.Saga, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT saga_uuid, order_uuid, status, compensation_stack, started_at, updated_at, completed_at
		FROM sagas
		WHERE status IN ($1, $2, $3) AND updated_at < $4
		ORDER BY updated_at ASC LIMIT $5
	`, domain.SagaPendingPrescription, domain.SagaPendingInventory, domain.SagaPendingShipment, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("querying stuck sagas: %w", err)
	}
	defer rows.Close()

	var sagas []domain.Saga
	for rows.Next() {
		var saga domain.Saga
		err := rows.Scan(&saga.SagaUUID, &saga.OrderUUID, &saga.Status,
			&saga.CompensationStack, &saga.StartedAt, &saga.UpdatedAt, &saga.CompletedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning saga: %w", err)
		}
		sagas = append(sagas, saga)
	}
	return sagas, rows.Err()
}
