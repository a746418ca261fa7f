package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const pagerDutyEventsURL = "https://events.pagerduty.com/v2/enqueue"

// PagerDuty triggers an Events-v2 incident. The dedup key is derived
// from the saga uuid, so repeat escalations for the same saga collapse
// into one incident upstream.
type PagerDuty struct {
	routingKey string
	endpoint   string
	httpClient *http.Client
}

func NewPagerDuty(routingKey string) *PagerDuty {
	return &PagerDuty{
		routingKey: routingKey,
		endpoint:   pagerDutyEventsURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *PagerDuty) Name() string { return "pagerduty" }

type pdPayload struct {
	Summary       string         `json:"summary"`
	Severity      string         `json:"severity"`
	Source        string         `json:"source"`
	CustomDetails map[string]any `json:"custom_details"`
}

type pdEvent struct {
	RoutingKey  string    `json:"routing_key"`
	EventAction string    `json:"event_action"`
	DedupKey    string    `json:"dedup_key"`
	Payload     pdPayload `json:"payload"`
}

func (p *PagerDuty) Send(ctx context.Context, a Alert) error {
	event := pdEvent{
		RoutingKey:  p.routingKey,
		EventAction: "trigger",
		DedupKey:    "renewal-failure-" + a.SagaUUID,
		Payload: pdPayload{
			Summary:  fmt.Sprintf("Subscription %s renewal failed after %d attempts", a.SubscriptionID, a.Attempts),
			Severity: "error",
			Source:   "fulfillment",
			CustomDetails: map[string]any{
				"saga_uuid":       a.SagaUUID,
				"subscription_id": a.SubscriptionID,
				"user_id":         a.UserID,
				"amount_cents":    a.AmountCents,
				"last_error":      a.LastError,
			},
		},
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling pagerduty event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating pagerduty request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting to pagerduty: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("pagerduty returned %d", resp.StatusCode)
	}
	return nil
}
