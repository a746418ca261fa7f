// Package payment is the boundary to the payment provider. The real
// provider integration lives behind the Service type; this build ships
// a provider stub that approves charges so the saga machinery can run
// end to end in development.
package payment

import (
	"context"
	"fmt"
	"log/slog"
)

type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	return &Service{logger: logger}
}

// Charge submits a renewal charge to the provider.
func (s *Service) Charge(ctx context.Context, subscriptionID, userID string, amountCents int64) error {
	if amountCents <= 0 {
		return fmt.Errorf("charge amount must be positive, got %d", amountCents)
	}
	s.logger.Info("charge submitted",
		"subscription_id", subscriptionID,
		"user_id", userID,
		"amount_cents", amountCents,
	)
	return nil
}
