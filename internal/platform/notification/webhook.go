package notification

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SignPayload returns the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature is the hex HMAC-SHA256 of
// payload under secret.
func VerifySignature(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(SignPayload(payload, secret)), []byte(signature))
}

// WebhookDispatcher POSTs each event as JSON to a fixed URL, signed in the
// X-Webhook-Signature header as "sha256=<hex>".
type WebhookDispatcher struct {
	url         string
	secret      string
	client      *http.Client
	templates   *Templates
	retryDelays []time.Duration
}

type WebhookOption func(*WebhookDispatcher)

func WithHTTPClient(c *http.Client) WebhookOption {
	return func(d *WebhookDispatcher) { d.client = c }
}

// WithRetryDelays sets the waits between attempts; n delays allow n+1
// attempts.
func WithRetryDelays(delays ...time.Duration) WebhookOption {
	return func(d *WebhookDispatcher) { d.retryDelays = delays }
}

func NewWebhookDispatcher(url, secret string, templates *Templates, opts ...WebhookOption) *WebhookDispatcher {
	d := &WebhookDispatcher{
		url:         url,
		secret:      secret,
		client:      &http.Client{Timeout: 10 * time.Second},
		templates:   templates,
		retryDelays: []time.Duration{500 * time.Millisecond, 2 * time.Second},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *WebhookDispatcher) Dispatch(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(d.templates.WithMessage(ev))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= len(d.retryDelays); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.retryDelays[attempt-1]):
			}
		}
		lastErr = d.post(ctx, ev, payload)
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("webhook %s for %s: %w", ev.Type, ev.AppointmentID, lastErr)
}

func (d *WebhookDispatcher) post(ctx context.Context, ev Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", string(ev.Type))
	req.Header.Set("X-Webhook-ID", ev.ID)
	req.Header.Set("X-Webhook-Timestamp", time.Now().UTC().Format(time.RFC3339))
	if d.secret != "" {
		req.Header.Set("X-Webhook-Signature", "sha256="+SignPayload(payload, d.secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("non-2xx response: %d", resp.StatusCode)
	}
	return nil
}
