package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// webhookPayload is the JSON body posted per alert. Signal fields are
// flattened so receivers can route on side or symbol without nesting.
type webhookPayload struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	SentAt  string     `json:"sent_at"`

	SignalID   string `json:"signal_id,omitempty"`
	Symbol     string `json:"symbol,omitempty"`
	Side       string `json:"side,omitempty"`
	CandleTime int64  `json:"candle_time,omitempty"`
	EmittedAt  int64  `json:"emitted_at,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

func newWebhookPayload(alert Alert, now time.Time) webhookPayload {
	p := webhookPayload{
		Level:   alert.Level,
		Title:   alert.Title,
		Message: alert.Message,
		SentAt:  now.UTC().Format(time.RFC3339Nano),
	}
	if s := alert.Signal; s != nil {
		p.SignalID = s.ID
		p.Symbol = s.Symbol
		p.Side = string(s.Side)
		p.CandleTime = s.CandleTime
		p.EmittedAt = s.TS
		p.Reason = s.Reason
	}
	return p
}

// WebhookNotifier posts alerts as JSON to a single endpoint.
type WebhookNotifier struct {
	endpoint string
	http     *http.Client
}

func NewWebhookNotifier(endpoint string) *WebhookNotifier {
	return &WebhookNotifier{endpoint: endpoint, http: &http.Client{Timeout: 10 * time.Second}}
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(newWebhookPayload(alert, time.Now()))
	if err != nil {
		return fmt.Errorf("webhook: encode alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post %q: %w", alert.Title, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("webhook: endpoint returned %d for %q", resp.StatusCode, alert.Title)
	}
	return nil
}
