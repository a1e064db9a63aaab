// Package billing forwards closed inpatient stays to the billing system so it
// can compute charges. Delivery never blocks or fails the discharge itself.
package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const SignatureHeader = "X-Signature"

// DischargeEvent describes one closed stay on one bed.
type DischargeEvent struct {
	AdmissionID  uuid.UUID `json:"admission_id"`
	PatientID    string    `json:"patient_id"`
	BedID        uuid.UUID `json:"bed_id"`
	WardID       uuid.UUID `json:"ward_id"`
	DailyRate    float64   `json:"daily_rate"`
	AdmittedAt   time.Time `json:"admitted_at"`
	DischargedAt time.Time `json:"discharged_at"`
	Disposition  string    `json:"disposition"`
	Tenant       string    `json:"tenant,omitempty"`
}

// Noop drops every event. Used when no billing endpoint is configured.
type Noop struct{}

func (Noop) NotifyDischarge(context.Context, DischargeEvent) {}

type WebhookConfig struct {
	URL         string
	Secret      string
	Timeout     time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
}

// Webhook POSTs each event as JSON, signed with HMAC-SHA256 over the body.
// Deliveries run in their own goroutines; Close waits for in-flight ones.
type Webhook struct {
	client *resty.Client
	cfg    WebhookConfig
	logger zerolog.Logger
	wg     sync.WaitGroup
}

func NewWebhook(cfg WebhookConfig, logger zerolog.Logger) *Webhook {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	return &Webhook{
		client: resty.New().
			SetTimeout(cfg.Timeout).
			SetHeader("Content-Type", "application/json"),
		cfg:    cfg,
		logger: logger.With().Str("component", "billing").Logger(),
	}
}

// NotifyDischarge schedules delivery and returns immediately. The caller's
// context is not used for delivery so request cancellation does not drop it.
func (w *Webhook) NotifyDischarge(_ context.Context, evt DischargeEvent) {
	body, err := json.Marshal(evt)
	if err != nil {
		w.logger.Error().Err(err).Str("admission_id", evt.AdmissionID.String()).Msg("encode discharge event")
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(w.cfg.MaxAttempts)*(w.cfg.Timeout+w.cfg.RetryDelay))
		defer cancel()
		if err := w.deliver(ctx, body); err != nil {
			w.logger.Error().Err(err).Str("admission_id", evt.AdmissionID.String()).Msg("billing notification failed")
			return
		}
		w.logger.Debug().Str("admission_id", evt.AdmissionID.String()).Msg("billing notified")
	}()
}

func (w *Webhook) deliver(ctx context.Context, body []byte) error {
	sig := Sign(w.cfg.Secret, body)
	var lastErr error
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		req := w.client.R().SetContext(ctx).SetBody(body)
		if sig != "" {
			req.SetHeader(SignatureHeader, sig)
		}
		resp, err := req.Post(w.cfg.URL)
		switch {
		case err != nil:
			lastErr = err
		case resp.StatusCode() >= 500 || resp.StatusCode() == 429:
			lastErr = fmt.Errorf("billing webhook: status %d", resp.StatusCode())
		case resp.IsError():
			return fmt.Errorf("billing webhook rejected event: status %d", resp.StatusCode())
		default:
			return nil
		}

		if attempt == w.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.cfg.RetryDelay * time.Duration(attempt)):
		}
	}
	return lastErr
}

// Close waits for pending deliveries or until ctx is done.
func (w *Webhook) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sign returns the hex HMAC-SHA256 of body, or "" without a secret.
func Sign(secret string, body []byte) string {
	if secret == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
