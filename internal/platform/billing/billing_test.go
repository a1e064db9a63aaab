package billing

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent() DischargeEvent {
	admitted := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	return DischargeEvent{
		AdmissionID:  uuid.New(),
		PatientID:    "P1",
		BedID:        uuid.New(),
		WardID:       uuid.New(),
		DailyRate:    450,
		AdmittedAt:   admitted,
		DischargedAt: admitted.Add(72 * time.Hour),
		Disposition:  "recovered",
	}
}

func TestSign(t *testing.T) {
	assert.Equal(t, "", Sign("", []byte("x")))
	a := Sign("secret", []byte(`{"a":1}`))
	b := Sign("secret", []byte(`{"a":1}`))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, Sign("other", []byte(`{"a":1}`)))
	assert.Contains(t, a, "sha256=")
}

func TestWebhook_DeliversSignedEvent(t *testing.T) {
	var (
		mu       sync.Mutex
		gotBody  []byte
		gotSig   string
		received = make(chan struct{}, 1)
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotBody, gotSig = body, r.Header.Get(SignatureHeader)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
		received <- struct{}{}
	}))
	defer srv.Close()

	wh := NewWebhook(WebhookConfig{URL: srv.URL, Secret: "s3cret"}, zerolog.Nop())
	evt := sampleEvent()
	wh.NotifyDischarge(context.Background(), evt)

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("webhook not delivered")
	}
	require.NoError(t, wh.Close(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, Sign("s3cret", gotBody), gotSig)

	var decoded DischargeEvent
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, evt.AdmissionID, decoded.AdmissionID)
	assert.Equal(t, evt.BedID, decoded.BedID)
	assert.Equal(t, 450.0, decoded.DailyRate)
	assert.True(t, evt.DischargedAt.Equal(decoded.DischargedAt))
}

func TestWebhook_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := NewWebhook(WebhookConfig{URL: srv.URL, MaxAttempts: 3, RetryDelay: 5 * time.Millisecond}, zerolog.Nop())
	wh.NotifyDischarge(context.Background(), sampleEvent())
	require.NoError(t, wh.Close(context.Background()))

	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhook_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	wh := NewWebhook(WebhookConfig{URL: srv.URL, MaxAttempts: 3, RetryDelay: 5 * time.Millisecond}, zerolog.Nop())
	wh.NotifyDischarge(context.Background(), sampleEvent())
	require.NoError(t, wh.Close(context.Background()))

	assert.Equal(t, int32(1), calls.Load())
}

func TestWebhook_NotifyDoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	wh := NewWebhook(WebhookConfig{URL: srv.URL, Timeout: time.Second, MaxAttempts: 1}, zerolog.Nop())

	start := time.Now()
	wh.NotifyDischarge(context.Background(), sampleEvent())
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, wh.Close(ctx), context.DeadlineExceeded)
}

func TestNoop(t *testing.T) {
	Noop{}.NotifyDischarge(context.Background(), sampleEvent())
}
