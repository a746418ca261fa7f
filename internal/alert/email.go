package alert

import (
	"context"
	"fmt"
	"log/slog"
)

// Email hands alerts to the platform's mail pipeline. Rendering and
// SMTP delivery live in the notification service; this channel only
// records the outbound request per recipient.
type Email struct {
	recipients []string
	logger     *slog.Logger
}

func NewEmail(recipients []string, logger *slog.Logger) *Email {
	return &Email{recipients: recipients, logger: logger}
}

func (e *Email) Name() string { return "email" }

func (e *Email) Send(ctx context.Context, a Alert) error {
	if len(e.recipients) == 0 {
		return fmt.Errorf("no recipients configured")
	}
	for _, to := range e.recipients {
		e.logger.Info("renewal failure email queued",
			"to", to,
			"subscription_id", a.SubscriptionID,
			"saga_uuid", a.SagaUUID,
			"attempts", a.Attempts,
		)
	}
	return nil
}
