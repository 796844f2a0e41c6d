// Package webhook delivers signed run completion events.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/use-agent/pairscout/models"
)

// Event types.
const (
	EventCompleted = "scrape.completed"
	EventFailed    = "scrape.failed"
)

// SignatureHeader carries "sha256=<hex hmac of body>" when a secret is set.
const SignatureHeader = "X-Pairscout-Signature"

// Event is the payload sent to webhook endpoints.
type Event struct {
	Type      string            `json:"type"`
	RunID     string            `json:"run_id"`
	Timestamp int64             `json:"timestamp"`
	Data      *models.RunReport `json:"data"`
}

// NewEvent wraps a copy of a finished run report.
func NewEvent(report *models.RunReport) *Event {
	typ := EventCompleted
	if !report.Success {
		typ = EventFailed
	}
	data := *report
	return &Event{Type: typ, RunID: report.RunID, Timestamp: time.Now().Unix(), Data: &data}
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Notifier posts run reports to one endpoint. In async mode each delivery
// runs in the background with retries; otherwise Notify blocks for a single
// attempt.
type Notifier struct {
	url    string
	secret string
	async  bool
	client *http.Client
	delays []time.Duration
}

// NewNotifier returns nil when url is empty. A nil *Notifier drops events.
func NewNotifier(url, secret string, async bool) *Notifier {
	if url == "" {
		return nil
	}
	return &Notifier{
		url:    url,
		secret: secret,
		async:  async,
		client: &http.Client{Timeout: 10 * time.Second},
		delays: []time.Duration{0, 1 * time.Second, 5 * time.Second, 30 * time.Second},
	}
}

// Notify delivers the event for report. The event is encoded before Notify
// returns; the caller may keep mutating report afterwards.
func (n *Notifier) Notify(ctx context.Context, report *models.RunReport) {
	if n == nil {
		return
	}
	event := NewEvent(report)
	body, err := json.Marshal(event)
	if err != nil {
		slog.Error("webhook event encoding failed", "event", event.Type, "run_id", event.RunID, "error", err)
		return
	}
	if n.async {
		go n.deliverWithRetry(event.Type, event.RunID, body)
		return
	}
	if err := n.post(ctx, body); err != nil {
		slog.Warn("webhook delivery failed", "url", n.url, "event", event.Type, "run_id", event.RunID, "error", err)
		return
	}
	slog.Info("webhook delivered", "url", n.url, "event", event.Type, "run_id", event.RunID)
}

// Deliver sends event once.
func (n *Notifier) Deliver(ctx context.Context, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}
	return n.post(ctx, body)
}

func (n *Notifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Pairscout-Webhook/1.0")
	if n.secret != "" {
		req.Header.Set(SignatureHeader, Sign(n.secret, body))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

func (n *Notifier) deliverWithRetry(typ, runID string, body []byte) {
	for attempt, delay := range n.delays {
		if delay > 0 {
			time.Sleep(delay)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := n.post(ctx, body)
		cancel()
		if err == nil {
			slog.Info("webhook delivered", "url", n.url, "event", typ, "run_id", runID, "attempt", attempt+1)
			return
		}
		slog.Warn("webhook delivery failed",
			"url", n.url,
			"event", typ,
			"run_id", runID,
			"attempt", attempt+1,
			"error", err,
		)
	}
	slog.Error("webhook delivery exhausted all retries", "url", n.url, "event", typ, "run_id", runID)
}
