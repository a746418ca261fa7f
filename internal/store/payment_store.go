package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/meridianrx/fulfillment/internal/domain"
)

// PaymentMethodForUser returns the user's stored charging instrument,
// or nil when none is on file.
func (s *PostgresStore) PaymentMethodForUser(ctx context.Context, userID string) (*domain.PaymentMethod, error) {
	var pm domain.PaymentMethod
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, kind, COALESCE(provider_token, ''), expires_at, COALESCE(verification_status, '')
		FROM payment_methods WHERE user_id = $1
	`, userID).Scan(&pm.UserID, &pm.Kind, &pm.ProviderToken, &pm.ExpiresAt, &pm.VerificationStatus)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying payment method: %w", err)
	}
	return &pm, nil
}
