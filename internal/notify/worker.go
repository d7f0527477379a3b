package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kayra-commerce/payments-api/internal/lock"
	"github.com/kayra-commerce/payments-api/internal/obs"
	"github.com/kayra-commerce/payments-api/internal/queue"
	"github.com/kayra-commerce/payments-api/internal/resilience"
)

// Sender posts confirmation payloads to the email service.
type Sender struct {
	HTTP       resilience.HTTPClient
	ServiceURL string
}

// Send delivers one confirmation payload. Any non-2xx response is an error.
func (s Sender) Send(ctx context.Context, p ConfirmationPayload) error {
	if strings.TrimSpace(s.ServiceURL) == "" {
		return errors.New("notify: email service url not configured")
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("notify: encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.ServiceURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.HTTP.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("notify: send confirmation: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notify: email service responded %d: %s", resp.StatusCode, snippet)
	}
	return nil
}

// DeliveryWorker consumes confirmation jobs and delivers them, holding a
// per-order lock so two workers never send the same confirmation at once.
type DeliveryWorker struct {
	Sender  Sender
	Locker  lock.Locker
	LockTTL time.Duration
	Log     zerolog.Logger
}

// Handle executes the delivery described by the job payload.
func (w DeliveryWorker) Handle(ctx context.Context, job queue.Job) error {
	var payload ConfirmationPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		// malformed jobs can never succeed, drop without retry
		w.Log.Error().Err(err).Str("key", job.IdempotencyKey).Msg("notify: dropped undecodable job")
		return nil
	}
	if payload.OrderID == "" || payload.Customer.Email == "" {
		w.Log.Warn().Str("key", job.IdempotencyKey).Msg("notify: job missing recipient, skipped")
		return nil
	}
	ttl := w.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	key := fmt.Sprintf("lock:notify:%s", payload.OrderID)
	err := w.Locker.WithLock(ctx, key, ttl, func(ctx context.Context) error {
		return w.Sender.Send(ctx, payload)
	})
	if err != nil {
		if obs.NotifyDeliveriesTotal != nil {
			obs.NotifyDeliveriesTotal.WithLabelValues("failed").Inc()
		}
		return err
	}
	if obs.NotifyDeliveriesTotal != nil {
		obs.NotifyDeliveriesTotal.WithLabelValues("delivered").Inc()
	}
	w.Log.Info().Str("order_id", payload.OrderID).Msg("notify: confirmation delivered")
	return nil
}
