package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// OrderStatusRow is the order_status read model, keyed by order uuid.
type OrderStatusRow struct {
	OrderUUID     string     `json:"order_uuid"`
	Status        string     `json:"status"`
	FailureReason string     `json:"failure_reason,omitempty"`
	LastEventID   int64      `json:"last_event_id"`
	UpdatedAt     time.Time  `json:"updated_at"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
}

// UpsertOrderStatus writes the order_status row idempotently, keyed by
// the aggregate id. Replaying the same events converges: the upsert
// overwrites with identical values rather than inserting duplicates.
func (s *PostgresStore) UpsertOrderStatus(ctx context.Context, row OrderStatusRow) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO order_status (order_uuid, status, failure_reason, last_event_id, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (order_uuid) DO UPDATE
		SET status = EXCLUDED.status,
		    failure_reason = EXCLUDED.failure_reason,
		    last_event_id = EXCLUDED.last_event_id,
		    updated_at = NOW()
	`, row.OrderUUID, row.Status, nullable(row.FailureReason), row.LastEventID)
	if err != nil {
		return fmt.Errorf("upserting order status: %w", err)
	}
	return nil
}

// GetOrderStatus returns a projected order row, or nil when absent.
func (s *PostgresStore) GetOrderStatus(ctx context.Context, orderUUID string) (*OrderStatusRow, error) {
	var row OrderStatusRow
	var reason *string
	err := s.pool.QueryRow(ctx, `
		SELECT order_uuid, status, failure_reason, last_event_id, updated_at
		FROM order_status WHERE order_uuid = $1
	`, orderUUID).Scan(&row.OrderUUID, &row.Status, &reason, &row.LastEventID, &row.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying order status: %w", err)
	}
	if reason != nil {
		row.FailureReason = *reason
	}
	return &row, nil
}

// BillingRow is the subscription_billing read model, keyed by
// subscription id.
type BillingRow struct {
	SubscriptionID string    `json:"subscription_id"`
	LastOutcome    string    `json:"last_outcome"`
	Attempts       int       `json:"attempts"`
	AmountCents    int64     `json:"amount_cents"`
	LastEventID    int64     `json:"last_event_id"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// UpsertBilling writes the subscription_billing row idempotently.
func (s *PostgresStore) UpsertBilling(ctx context.Context, row BillingRow) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscription_billing (subscription_id, last_outcome, attempts, amount_cents, last_event_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (subscription_id) DO UPDATE
		SET last_outcome = EXCLUDED.last_outcome,
		    attempts = EXCLUDED.attempts,
		    amount_cents = EXCLUDED.amount_cents,
		    last_event_id = EXCLUDED.last_event_id,
		    updated_at = NOW()
	`, row.SubscriptionID, row.LastOutcome, row.Attempts, row.AmountCents, row.LastEventID)
	if err != nil {
		return fmt.Errorf("upserting subscription billing: %w", err)
	}
	return nil
}
