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

// Slack posts alerts to an incoming-webhook URL using the classic
// attachment format.
type Slack struct {
	webhookURL string
	httpClient *http.Client
}

func NewSlack(webhookURL string) *Slack {
	return &Slack{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *Slack) Name() string { return "slack" }

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Fields []slackField `json:"fields"`
}

type slackMessage struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

func (s *Slack) Send(ctx context.Context, a Alert) error {
	msg := slackMessage{
		Text: fmt.Sprintf("Subscription renewal failed after %d attempts", a.Attempts),
		Attachments: []slackAttachment{{
			Color: "danger",
			Fields: []slackField{
				{Title: "Subscription", Value: a.SubscriptionID, Short: true},
				{Title: "User", Value: a.UserID, Short: true},
				{Title: "Amount", Value: fmt.Sprintf("$%.2f", float64(a.AmountCents)/100), Short: true},
				{Title: "Saga", Value: a.SagaUUID, Short: true},
				{Title: "Last error", Value: a.LastError, Short: false},
			},
		}},
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting to slack: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("slack webhook returned %d", resp.StatusCode)
	}
	return nil
}
