package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

var ErrSinkUnavailable = errors.New("notification sink unavailable")

// SignPayload returns the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a hex signature produced by SignPayload.
func VerifySignature(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(SignPayload(payload, secret)), []byte(signature))
}

type WebhookOption func(*WebhookNotifier)

func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *WebhookNotifier) { w.client = c }
}

// WithFailureThreshold sets how many consecutive failures open the breaker.
func WithFailureThreshold(n uint32) WebhookOption {
	return func(w *WebhookNotifier) { w.failureThreshold = n }
}

// WithOpenTimeout sets how long the breaker stays open before probing again.
func WithOpenTimeout(d time.Duration) WebhookOption {
	return func(w *WebhookNotifier) { w.openTimeout = d }
}

// WebhookNotifier POSTs signed events to one URL. A circuit breaker stops
// hammering a sink that keeps failing.
type WebhookNotifier struct {
	url              string
	secret           string
	client           *http.Client
	failureThreshold uint32
	openTimeout      time.Duration
	breaker          *gobreaker.CircuitBreaker[int]
	logger           zerolog.Logger
}

func NewWebhookNotifier(url, secret string, logger zerolog.Logger, opts ...WebhookOption) *WebhookNotifier {
	w := &WebhookNotifier{
		url:              url,
		secret:           secret,
		client:           &http.Client{Timeout: 5 * time.Second},
		failureThreshold: 5,
		openTimeout:      30 * time.Second,
		logger:           logger,
	}
	for _, o := range opts {
		o(w)
	}

	w.breaker = gobreaker.NewCircuitBreaker[int](gobreaker.Settings{
		Name:        "webhook",
		MaxRequests: 1,
		Timeout:     w.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= w.failureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			w.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("webhook circuit breaker state changed")
		},
	})
	return w
}

func (w *WebhookNotifier) Name() string { return "webhook" }

func (w *WebhookNotifier) Notify(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = w.breaker.Execute(func() (int, error) {
		return w.deliver(ctx, ev, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrSinkUnavailable, err)
	}
	return err
}

func (w *WebhookNotifier) deliver(ctx context.Context, ev Event, payload []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("build webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", ev.Type)
	req.Header.Set("X-Webhook-ID", ev.ID)
	req.Header.Set("X-Webhook-Timestamp", ev.OccurredAt.Format(time.RFC3339))
	if w.secret != "" {
		req.Header.Set("X-Webhook-Signature", "sha256="+SignPayload(payload, w.secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	// drain a little so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("webhook responded %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}
