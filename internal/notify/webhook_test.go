package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookNotifier_SignsAndDelivers(t *testing.T) {
	var gotBody []byte
	var gotSig, gotEvent string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Webhook-Signature")
		gotEvent = r.Header.Get("X-Webhook-Event")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, "s3cret", zerolog.Nop())
	ev, err := NewEvent(EventBookingCreated, map[string]string{"patient_name": "Asha Rao"})
	require.NoError(t, err)

	require.NoError(t, n.Notify(context.Background(), ev))

	assert.Equal(t, EventBookingCreated, gotEvent)
	require.True(t, strings.HasPrefix(gotSig, "sha256="))
	assert.True(t, VerifySignature(gotBody, "s3cret", strings.TrimPrefix(gotSig, "sha256=")))
	assert.Contains(t, string(gotBody), "Asha Rao")
}

func TestWebhookNotifier_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, "", zerolog.Nop())
	ev, _ := NewEvent(EventBookingCreated, struct{}{})

	err := n.Notify(context.Background(), ev)
	assert.ErrorContains(t, err, "502")
}

func TestWebhookNotifier_BreakerOpensAfterFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, "", zerolog.Nop(),
		WithFailureThreshold(2),
		WithOpenTimeout(time.Minute),
	)
	ev, _ := NewEvent(EventBookingCreated, struct{}{})

	assert.Error(t, n.Notify(context.Background(), ev))
	assert.Error(t, n.Notify(context.Background(), ev))

	err := n.Notify(context.Background(), ev)
	assert.ErrorIs(t, err, ErrSinkUnavailable)
	assert.Equal(t, int32(2), hits.Load())
}

func TestSignPayload_Deterministic(t *testing.T) {
	sig := SignPayload([]byte(`{"a":1}`), "k")
	assert.Equal(t, sig, SignPayload([]byte(`{"a":1}`), "k"))
	assert.False(t, VerifySignature([]byte(`{"a":2}`), "k", sig))
}
