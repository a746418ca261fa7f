package projection

import (
	"context"
	"log/slog"

	"github.com/meridianrx/fulfillment/internal/domain"
	"github.com/meridianrx/fulfillment/internal/store"
)

type BillingStore interface {
	UpsertBilling(ctx context.Context, row store.BillingRow) error
}

// SubscriptionBilling folds renewal events into the
// subscription_billing read model, keyed by subscription id.
type SubscriptionBilling struct {
	store  BillingStore
	logger *slog.Logger
}

func NewSubscriptionBilling(s BillingStore, logger *slog.Logger) *SubscriptionBilling {
	return &SubscriptionBilling{store: s, logger: logger}
}

func (p *SubscriptionBilling) EventTypes() []string {
	return []string{
		domain.TypeRenewalSagaStarted,
		domain.TypeRenewalChargeSucceeded,
		domain.TypeRenewalChargeFailed,
		domain.TypeRenewalFailureAlert,
	}
}

func (p *SubscriptionBilling) Handle(ctx context.Context, event domain.DomainEvent) error {
	row := store.BillingRow{LastEventID: event.StoredID()}

	switch e := event.(type) {
	case domain.RenewalSagaStarted:
		row.SubscriptionID = e.SubscriptionID
		row.LastOutcome = "started"
		row.AmountCents = e.AmountCents
	case domain.RenewalChargeSucceeded:
		row.SubscriptionID = e.SubscriptionID
		row.LastOutcome = "charged"
		row.Attempts = e.Attempt
		row.AmountCents = e.AmountCents
	case domain.RenewalChargeFailed:
		row.SubscriptionID = e.SubscriptionID
		row.LastOutcome = "charge_failed"
		row.Attempts = e.Attempt
	case domain.RenewalFailureAlert:
		row.SubscriptionID = e.SubscriptionID
		row.LastOutcome = "escalated"
		row.Attempts = e.Attempts
		row.AmountCents = e.AmountCents
	default:
		p.logger.Warn("billing projection received unexpected event",
			"event_type", event.EventType())
		return nil
	}

	if row.SubscriptionID == "" {
		// Malformed upstream payload; nothing to key the row by.
		p.logger.Warn("billing projection skipping event without subscription id",
			"event_id", event.StoredID(), "event_type", event.EventType())
		return nil
	}

	return p.store.UpsertBilling(ctx, row)
}
