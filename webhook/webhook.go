// Package webhook notifies an external endpoint when a harvest run ends.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/use-agent/partharvest/config"
	"github.com/use-agent/partharvest/models"
)

const (
	// EventCompleted is sent once per run, halted or not.
	EventCompleted = "harvest.completed"

	// SignatureHeader carries "sha256=<hex>" of the body when a secret is set.
	SignatureHeader = "X-Harvest-Signature"

	userAgent = "PartHarvest-Webhook/1.0"
)

// Event is the payload sent to webhook endpoints.
type Event struct {
	Type      string            `json:"type"`
	Timestamp int64             `json:"timestamp"`
	Data      models.RunSummary `json:"data"`
}

// NewCompletedEvent wraps a final run summary.
func NewCompletedEvent(summary models.RunSummary) *Event {
	return &Event{Type: EventCompleted, Timestamp: time.Now().Unix(), Data: summary}
}

// Notifier delivers events to one endpoint.
type Notifier struct {
	client *resty.Client
	url    string
	secret string

	// delays precede each attempt; the first is normally zero.
	delays []time.Duration
	sleep  func(ctx context.Context, d time.Duration) error
}

// New returns a Notifier for cfg, or nil when no URL is configured.
func New(cfg config.WebhookConfig) *Notifier {
	if cfg.URL == "" {
		return nil
	}
	return &Notifier{
		client: resty.New().SetTimeout(10 * time.Second),
		url:    cfg.URL,
		secret: cfg.Secret,
		delays: []time.Duration{0, 1 * time.Second, 5 * time.Second, 30 * time.Second},
		sleep:  sleep,
	}
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Deliver sends one event, once.
func (n *Notifier) Deliver(ctx context.Context, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	req := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", userAgent).
		SetBody(body)
	if n.secret != "" {
		req.SetHeader(SignatureHeader, Sign(n.secret, body))
	}

	resp, err := req.Post(n.url)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	if resp.StatusCode() >= http.StatusBadRequest {
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode())
	}
	return nil
}

// Notify delivers event with retries and blocks until it succeeds, the
// retries run out or ctx ends. The process is about to exit, so there is
// nothing to hand the work off to.
func (n *Notifier) Notify(ctx context.Context, event *Event) error {
	var last error
	for attempt, delay := range n.delays {
		if delay > 0 {
			if err := n.sleep(ctx, delay); err != nil {
				return fmt.Errorf("webhook: %w", err)
			}
		}
		last = n.Deliver(ctx, event)
		if last == nil {
			slog.Info("webhook delivered", "url", n.url, "event", event.Type, "attempt", attempt+1)
			return nil
		}
		slog.Warn("webhook delivery failed",
			"url", n.url,
			"event", event.Type,
			"attempt", attempt+1,
			"error", last,
		)
	}
	slog.Error("webhook delivery exhausted all retries", "url", n.url, "event", event.Type)
	return last
}

// sleep waits for d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
