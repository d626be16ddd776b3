// Package alerts delivers blacklist escalations to an operator-configured
// webhook. Delivery is fire-and-forget with a short retry: alerting must
// never slow down or fail the decision path.
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/snarelabs/snare/internal/logging"
	"github.com/snarelabs/snare/internal/security"
)

const (
	deliveryTimeout = 10 * time.Second
	maxAttempts     = 3
	retryBackoff    = 2 * time.Second
)

// Escalation is the webhook payload for one blacklist transition.
type Escalation struct {
	SourceID  string    `json:"sourceId"`
	RiskScore uint8     `json:"riskScore"`
	Timestamp time.Time `json:"timestamp"`
}

// Webhook posts escalations to a single operator endpoint.
type Webhook struct {
	url     string
	client  *http.Client
	backoff time.Duration
}

// NewWebhook validates the target URL and returns a notifier. The URL is
// checked against SSRF targets: private, loopback, and link-local hosts are
// rejected at configuration time.
func NewWebhook(url string) (*Webhook, error) {
	if err := security.ValidateEndpointURL(url); err != nil {
		return nil, fmt.Errorf("webhook url: %w", err)
	}
	return &Webhook{
		url:     url,
		client:  &http.Client{Timeout: deliveryTimeout},
		backoff: retryBackoff,
	}, nil
}

// Notify delivers the escalation asynchronously.
func (w *Webhook) Notify(ctx context.Context, e Escalation) {
	go w.deliver(ctx, e)
}

func (w *Webhook) deliver(ctx context.Context, e Escalation) {
	body, err := json.Marshal(e)
	if err != nil {
		logging.L(ctx).Error("marshal escalation alert", "error", err)
		return
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			logging.L(ctx).Error("build escalation alert request", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode < 300 {
				return
			}
			err = fmt.Errorf("webhook returned %d", resp.StatusCode)
		}

		logging.L(ctx).Warn("escalation alert delivery failed",
			"source_id", e.SourceID, "attempt", attempt, "error", err)

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.backoff):
			}
		}
	}
}
