// SPDX-License-Identifier: MIT

// Package webhook fans lifecycle events out to tenant-registered HTTP
// endpoints with signed payloads and bounded retries.
package webhook

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
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/waitgate/waitgate/internal/bus"
	"github.com/waitgate/waitgate/internal/domain"
	"github.com/waitgate/waitgate/internal/log"
	"github.com/waitgate/waitgate/internal/metrics"
	"github.com/waitgate/waitgate/internal/store"
)

// Delivery outcomes used for the outcome metric label.
const (
	outcomeSuccess   = "success"
	outcomeAbandoned = "abandoned"
	outcomeExhausted = "exhausted"
)

// Config tunes the dispatcher.
type Config struct {
	// Workers drain the event subscription concurrently.
	Workers int
	// MaxAttempts bounds tries per delivery, the first included.
	MaxAttempts int
	// InitialBackoff is the first retry delay; subsequent delays double
	// with jitter.
	InitialBackoff time.Duration
	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration
	// RatePerSecond throttles outbound requests across all tenants.
	RatePerSecond float64
	// Buffer sizes the bus subscription; overflow drops the oldest event.
	Buffer int
}

// DefaultConfig returns production delivery settings.
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Second,
		Timeout:        30 * time.Second,
		RatePerSecond:  20,
		Buffer:         1024,
	}
}

// Dispatcher consumes bus events and delivers them to matching
// subscriptions.
type Dispatcher struct {
	cfg     Config
	store   store.WebhookStore
	client  *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger

	sub *bus.Subscription
	wg  sync.WaitGroup
}

// New builds a dispatcher. Call Start to begin draining events.
func New(cfg Config, st store.WebhookStore, client *http.Client) *Dispatcher {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = def.RatePerSecond
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = def.Buffer
	}
	if client == nil {
		client = &http.Client{}
	}
	client.Timeout = cfg.Timeout

	return &Dispatcher{
		cfg:     cfg,
		store:   st,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), int(cfg.RatePerSecond)*2),
		log:     log.WithComponent("webhook"),
	}
}

// Start subscribes to the bus and launches the worker pool. Workers exit
// when ctx is canceled or the bus closes.
func (d *Dispatcher) Start(ctx context.Context, b *bus.Bus) {
	d.sub = b.Subscribe("webhook", d.cfg.Buffer)
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.worker(ctx)
		}()
	}
	d.log.Info().Int("workers", d.cfg.Workers).Msg("webhook dispatcher started")
}

// Close detaches from the bus and waits for in-flight deliveries.
func (d *Dispatcher) Close() {
	if d.sub != nil {
		_ = d.sub.Close()
	}
	d.wg.Wait()
}

func (d *Dispatcher) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-d.sub.C():
			if !ok {
				return
			}
			d.dispatch(ctx, e)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, e domain.Event) {
	subs, err := d.store.ListSubscriptionsForEvent(ctx, e.TenantID, string(e.Kind))
	if err != nil {
		d.log.Error().Err(err).
			Str(log.FieldTenantID, e.TenantID).
			Str(log.FieldEvent, string(e.Kind)).
			Msg("failed to load webhook subscriptions")
		return
	}
	for _, sub := range subs {
		d.deliver(ctx, sub, e)
	}
}

// payload is the wire shape posted to subscribers.
type payload struct {
	ID        string         `json:"id"`
	Event     string         `json:"event"`
	TenantID  string         `json:"tenant_id"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp"`
}

func buildPayload(e domain.Event) payload {
	data := make(map[string]any, len(e.Payload)+2)
	for k, v := range e.Payload {
		data[k] = v
	}
	if e.QueueID != "" {
		data["queue_id"] = e.QueueID
	}
	if e.UserIdentifier != "" {
		data["user_identifier"] = e.UserIdentifier
	}
	return payload{
		ID:        uuid.NewString(),
		Event:     string(e.Kind),
		TenantID:  e.TenantID,
		Data:      data,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

// Sign computes the hex HMAC-SHA256 of body under secret, as sent in the
// X-Signature header.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (d *Dispatcher) deliver(ctx context.Context, sub *store.WebhookSubscription, e domain.Event) {
	body, err := json.Marshal(buildPayload(e))
	if err != nil {
		d.log.Error().Err(err).Str(log.FieldSubscriptionID, sub.ID).Msg("failed to encode webhook payload")
		return
	}

	logger := d.log.With().
		Str(log.FieldSubscriptionID, sub.ID).
		Str(log.FieldTenantID, sub.TenantID).
		Str(log.FieldEvent, string(e.Kind)).
		Str(log.FieldURL, sub.URL).
		Logger()

	start := time.Now()
	attempt := 0
	abandoned := false

	operation := func() (int, error) {
		attempt++
		if err := d.limiter.Wait(ctx); err != nil {
			abandoned = true
			return 0, backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
		if err != nil {
			abandoned = true
			return 0, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "waitgate-webhook/1.0")
		req.Header.Set("X-Webhook-Event", string(e.Kind))
		if sub.Secret != "" {
			req.Header.Set("X-Signature", Sign(sub.Secret, body))
		}

		resp, err := d.client.Do(req)
		if err != nil {
			return 0, err
		}
		defer func() { _ = resp.Body.Close() }()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return resp.StatusCode, nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			// The endpoint rejected the payload; retrying cannot help.
			abandoned = true
			return resp.StatusCode, backoff.Permanent(fmt.Errorf("endpoint rejected delivery: %d", resp.StatusCode))
		default:
			return resp.StatusCode, fmt.Errorf("endpoint error: %d", resp.StatusCode)
		}
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = d.cfg.InitialBackoff
	expo.Multiplier = 2
	expo.RandomizationFactor = 0.2

	status, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(d.cfg.MaxAttempts)))

	metrics.WebhookDeliveryDuration.Observe(time.Since(start).Seconds())
	switch {
	case err == nil:
		metrics.WebhookDeliveriesTotal.WithLabelValues(outcomeSuccess).Inc()
		logger.Debug().
			Int(log.FieldAttempt, attempt).
			Int(log.FieldStatusCode, status).
			Int64(log.FieldDurationMS, time.Since(start).Milliseconds()).
			Msg("webhook delivered")
	case abandoned:
		metrics.WebhookDeliveriesTotal.WithLabelValues(outcomeAbandoned).Inc()
		logger.Warn().Err(err).
			Int(log.FieldAttempt, attempt).
			Int(log.FieldStatusCode, status).
			Msg("webhook delivery abandoned")
	default:
		metrics.WebhookDeliveriesTotal.WithLabelValues(outcomeExhausted).Inc()
		logger.Warn().Err(err).
			Int(log.FieldAttempt, attempt).
			Int(log.FieldStatusCode, status).
			Msg("webhook delivery retries exhausted")
	}
}
