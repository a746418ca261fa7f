// Package alert fans a renewal failure out to the configured
// escalation channels. Channels are independent: one channel failing to
// send is logged and isolated, never blocking the others or the saga's
// own terminal bookkeeping.
package alert

import (
	"context"
	"log/slog"

	"github.com/meridianrx/fulfillment/internal/domain"
)

// Alert is the escalation payload built when a renewal saga exhausts
// its retry budget.
type Alert struct {
	SagaUUID       string
	SubscriptionID string
	UserID         string
	AmountCents    int64
	Attempts       int
	LastError      string
}

// Channel delivers an alert to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, a Alert) error
}

// Fanout sends to every channel, collecting per-channel failures as
// ChannelErrors without short-circuiting.
type Fanout struct {
	channels []Channel
	logger   *slog.Logger
}

func NewFanout(logger *slog.Logger, channels ...Channel) *Fanout {
	return &Fanout{channels: channels, logger: logger}
}

// Send delivers the alert on all channels and returns the isolated
// failures. An empty slice means every channel succeeded.
func (f *Fanout) Send(ctx context.Context, a Alert) []error {
	var failures []error
	for _, ch := range f.channels {
		if err := ch.Send(ctx, a); err != nil {
			cerr := &domain.ChannelError{Channel: ch.Name(), Err: err}
			f.logger.Error("alert channel failed",
				"channel", ch.Name(),
				"saga_uuid", a.SagaUUID,
				"error", err,
			)
			failures = append(failures, cerr)
			continue
		}
		f.logger.Info("alert sent",
			"channel", ch.Name(),
			"saga_uuid", a.SagaUUID,
			"subscription_id", a.SubscriptionID,
		)
	}
	return failures
}
