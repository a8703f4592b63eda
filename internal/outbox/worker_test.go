package outbox

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"storefront/internal/domain"
	"storefront/internal/signing"
)

func TestSendOne_SignsPayload(t *testing.T) {
	var (
		gotHeader http.Header
		gotBody   []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	fixed := time.Unix(1_760_000_000, 0)
	w := NewWorker(nil, "s3cret", zap.NewNop())
	w.now = func() time.Time { return fixed }

	body := []byte(`{"event_type":"purchase.confirmed"}`)
	require.NoError(t, w.sendOne(context.Background(), srv.URL, "evt-1", domain.EventPurchaseConfirmed, body))

	assert.Equal(t, body, gotBody)
	assert.Equal(t, "evt-1", gotHeader.Get(HeaderEventID))
	assert.Equal(t, domain.EventPurchaseConfirmed, gotHeader.Get(HeaderEventType))
	assert.Equal(t, "1760000000", gotHeader.Get(HeaderTimestamp))
	assert.NoError(t, signing.VerifyPayload("s3cret", gotHeader.Get(HeaderTimestamp), gotHeader.Get(HeaderSignature), gotBody, fixed, 0))
}

func TestSendOne_NoSecretNoSignature(t *testing.T) {
	var sig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig = r.Header.Get(HeaderSignature)
	}))
	defer srv.Close()

	w := NewWorker(nil, "", nil)
	require.NoError(t, w.sendOne(context.Background(), srv.URL, "evt-1", "t", []byte(`{}`)))
	assert.Empty(t, sig)
}

func TestSendOne_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	w := NewWorker(nil, "s", nil)
	err := w.sendOne(context.Background(), srv.URL, "evt-1", "t", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestBackoff(t *testing.T) {
	cases := map[int32]time.Duration{
		0:  time.Second,
		1:  time.Second,
		2:  2 * time.Second,
		4:  8 * time.Second,
		6:  32 * time.Second,
		7:  60 * time.Second,
		50: 60 * time.Second,
	}
	for attempt, want := range cases {
		assert.Equal(t, want, backoff(attempt), "attempt %d", attempt)
	}
}

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	p := LogPublisher{Log: zap.New(core)}

	require.NoError(t, p.Publish(context.Background(), domain.PurchaseEvent{
		Type:   domain.EventPurchaseNeedsReview,
		Flow:   "nutrition",
		ItemID: "plan-7",
		Reason: domain.ReasonCatalogUnavailable,
	}))

	entries := logs.FilterMessage("purchase event").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, domain.EventPurchaseNeedsReview, fields["event_type"])
	assert.Equal(t, "plan-7", fields["item_id"])
}
