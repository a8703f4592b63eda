package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"storefront/internal/catalog"
	"storefront/internal/domain"
	"storefront/internal/ledger"
	"storefront/internal/marker"
	"storefront/internal/redirect"
)

// --- fakes ---

type failingCatalog struct{ err error }

func (f failingCatalog) Items(context.Context) ([]domain.CatalogItem, error) { return nil, f.err }

// cancellingCatalog simulates the shopper leaving while the catalog loads.
type cancellingCatalog struct{ cancel context.CancelFunc }

func (c cancellingCatalog) Items(ctx context.Context) ([]domain.CatalogItem, error) {
	c.cancel()
	return nil, ctx.Err()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.PurchaseEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e domain.PurchaseEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

type brokenLedger struct{ ledger.Ledger }

func (brokenLedger) Claim(context.Context, string) (bool, error) {
	return false, errors.New("redis: connection refused")
}

// unreadableStore accepts writes but cannot read the checkout id back.
type unreadableStore struct{ *marker.MemoryStore }

func (unreadableStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("redis: i/o timeout")
}

type stubVerifier struct{ err error }

func (v stubVerifier) Verify(context.Context, domain.RedirectOutcome) error { return v.err }

// --- helpers ---

var painFree = domain.CatalogItem{
	ID:          "ebook-42",
	Title:       "Pain-Free Living",
	DownloadURL: "https://cdn.example/pain-free-living.pdf",
	PaymentLink: "https://pay.example/l/pfl",
}

type fixture struct {
	engine    *Engine
	flow      *Flow
	markers   *marker.Marker
	ledger    *ledger.Memory
	published *recordingPublisher
}

func newFixture(t *testing.T, schema redirect.Schema, src catalog.Source) *fixture {
	t.Helper()
	l := ledger.NewMemory()
	pub := &recordingPublisher{}
	m := marker.New(marker.NewMemoryStore(), "pending_ebook_purchase", time.Hour)
	return &fixture{
		engine:    New(l, pub, zap.NewNop()),
		flow:      &Flow{Name: "library", ReturnPath: "/library", Schema: schema, Marker: m, Catalog: src},
		markers:   m,
		ledger:    l,
		published: pub,
	}
}

func query(t *testing.T, raw string) url.Values {
	t.Helper()
	q, err := url.ParseQuery(raw)
	require.NoError(t, err)
	return q
}

func (fx *fixture) markerEmpty(t *testing.T, session string) {
	t.Helper()
	_, ok, err := fx.markers.Consume(context.Background(), session)
	require.NoError(t, err)
	assert.False(t, ok, "marker must not survive reconciliation")
}

// --- scenarios ---

func TestReconcile_SuccessWithMarker(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, redirect.Generic, catalog.Static{painFree, {ID: "ebook-7"}})
	require.NoError(t, fx.markers.Record(ctx, "sess", "ebook-42"))

	res, err := fx.engine.Reconcile(ctx, fx.flow, "sess", query(t, "status=success&payment_id=abc"))
	require.NoError(t, err)

	assert.True(t, res.Reconciled)
	assert.False(t, res.Replayed)
	assert.Equal(t, domain.Success(painFree), res.Verdict)
	assert.Equal(t, "/library", res.ReplaceURL)
	fx.markerEmpty(t, "sess")

	require.Len(t, fx.published.events, 1)
	ev := fx.published.events[0]
	assert.Equal(t, domain.EventPurchaseConfirmed, ev.Type)
	assert.Equal(t, "ebook-42", ev.ItemID)
	assert.Equal(t, "abc", ev.PaymentReference)
	assert.Equal(t, res.Fingerprint, ev.Fingerprint)
}

func TestReconcile_FailureWithoutMarker(t *testing.T) {
	fx := newFixture(t, redirect.Generic, catalog.Static{painFree})

	res, err := fx.engine.Reconcile(context.Background(), fx.flow, "sess", query(t, "status=failed&reason=card_declined"))
	require.NoError(t, err)

	assert.Equal(t, domain.Failure("card_declined"), res.Verdict)
	assert.Empty(t, fx.published.events, "failures do not raise purchase events")
}

func TestReconcile_FailureIgnoresMarkerAndCatalog(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, redirect.Generic, failingCatalog{err: domain.ErrCatalogFetch})
	require.NoError(t, fx.markers.Record(ctx, "sess", "ebook-42"))

	res, err := fx.engine.Reconcile(ctx, fx.flow, "sess", query(t, "status=cancelled"))
	require.NoError(t, err)

	assert.Equal(t, domain.Failure("cancelled"), res.Verdict)
	fx.markerEmpty(t, "sess")
}

func TestReconcile_RazorpayPaidWithoutIdentity(t *testing.T) {
	fx := newFixture(t, redirect.RazorpayPaymentLink, catalog.Static{painFree})

	res, err := fx.engine.Reconcile(context.Background(), fx.flow, "sess", query(t, "razorpay_payment_link_status=paid"))
	require.NoError(t, err)

	assert.Equal(t, domain.Ambiguous(domain.ReasonIdentityUnknown), res.Verdict)
	require.Len(t, fx.published.events, 1)
	assert.Equal(t, domain.EventPurchaseNeedsReview, fx.published.events[0].Type)
}

func TestReconcile_CatalogNetworkErrorIsAmbiguous(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, redirect.Generic, failingCatalog{err: fmt.Errorf("%w: dial tcp: refused", domain.ErrCatalogFetch)})
	require.NoError(t, fx.markers.Record(ctx, "sess", "plan-7"))

	res, err := fx.engine.Reconcile(ctx, fx.flow, "sess", query(t, "status=success&payment_id=p9"))
	require.NoError(t, err)

	assert.Equal(t, domain.VerdictAmbiguous, res.Verdict.Kind)
	assert.Equal(t, domain.ReasonCatalogUnavailable, res.Verdict.Reason)
	require.Len(t, fx.published.events, 1)
	assert.Equal(t, "plan-7", fx.published.events[0].ItemID)
}

func TestReconcile_EmptyCatalogIsAmbiguous(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, redirect.Generic, catalog.Static{})
	require.NoError(t, fx.markers.Record(ctx, "sess", "ebook-42"))

	res, err := fx.engine.Reconcile(ctx, fx.flow, "sess", query(t, "status=success"))
	require.NoError(t, err)
	assert.Equal(t, domain.Ambiguous(domain.ReasonCatalogUnavailable), res.Verdict)
}

func TestReconcile_UnknownItemIsAmbiguousNeverFailure(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, redirect.Generic, catalog.Static{painFree})
	require.NoError(t, fx.markers.Record(ctx, "sess", "ebook-999"))

	res, err := fx.engine.Reconcile(ctx, fx.flow, "sess", query(t, "status=paid&payment_id=x1"))
	require.NoError(t, err)

	assert.Equal(t, domain.Ambiguous(domain.ReasonItemNotInCatalog), res.Verdict)
	assert.NotEqual(t, domain.VerdictFailure, res.Verdict.Kind)
}

func TestReconcile_ProviderHintWinsOverMarker(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.WarnLevel)
	fx := newFixture(t, redirect.RazorpayPaymentLink, catalog.Static{painFree, {ID: "plan-7", Title: "Plan 7"}})
	fx.engine = New(fx.ledger, fx.published, zap.New(core))
	require.NoError(t, fx.markers.Record(ctx, "sess", "ebook-42"))

	res, err := fx.engine.Reconcile(ctx, fx.flow, "sess",
		query(t, "razorpay_payment_link_status=paid&razorpay_payment_id=pay_1&internal_plan_id=plan-7"))
	require.NoError(t, err)

	require.Equal(t, domain.VerdictSuccess, res.Verdict.Kind)
	assert.Equal(t, "plan-7", res.Verdict.Item.ID)
	assert.Equal(t, 1, logs.FilterMessage("provider item hint disagrees with pending purchase marker").Len())
	fx.markerEmpty(t, "sess")
}

func TestReconcile_NormalVisitHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, redirect.Generic, catalog.Static{painFree})
	require.NoError(t, fx.markers.Record(ctx, "sess", "ebook-42"))

	res, err := fx.engine.Reconcile(ctx, fx.flow, "sess", query(t, "page=2"))
	require.NoError(t, err)

	assert.False(t, res.Reconciled)
	assert.Equal(t, "/library?page=2", res.ReplaceURL)
	assert.Empty(t, fx.published.events)

	id, ok, err := fx.markers.Consume(ctx, "sess")
	require.NoError(t, err)
	assert.True(t, ok, "normal visits leave the marker alone")
	assert.Equal(t, "ebook-42", id)
}

func TestReconcile_ExactlyOnce(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, redirect.Generic, catalog.Static{painFree})
	require.NoError(t, fx.markers.Record(ctx, "sess", "ebook-42"))

	q := query(t, "status=success&payment_id=abc&utm_source=mail")
	first, err := fx.engine.Reconcile(ctx, fx.flow, "sess", q)
	require.NoError(t, err)
	require.Equal(t, domain.VerdictSuccess, first.Verdict.Kind)
	assert.Equal(t, "/library?utm_source=mail", first.ReplaceURL)

	// the stripped URL is a normal visit
	stripped, err := url.Parse(first.ReplaceURL)
	require.NoError(t, err)
	again, err := fx.engine.Reconcile(ctx, fx.flow, "sess", stripped.Query())
	require.NoError(t, err)
	assert.False(t, again.Reconciled)

	// a replay of the original URL returns the stored verdict
	require.NoError(t, fx.markers.Record(ctx, "sess", "ebook-7"))
	replay, err := fx.engine.Reconcile(ctx, fx.flow, "sess", q)
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, first.Verdict, replay.Verdict)

	assert.Len(t, fx.published.events, 1, "no second purchase event")
	id, ok, err := fx.markers.Consume(ctx, "sess")
	require.NoError(t, err)
	assert.True(t, ok, "a replay must not consume a newer marker")
	assert.Equal(t, "ebook-7", id)
}

func TestReconcile_SecondPurchaseWithoutReference(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, redirect.Generic, catalog.Static{painFree, {ID: "ebook-7", Title: "Gut Reset"}})
	q := query(t, "status=success")

	require.NoError(t, fx.markers.Record(ctx, "sess", "ebook-42"))
	first, err := fx.engine.Reconcile(ctx, fx.flow, "sess", q)
	require.NoError(t, err)
	require.False(t, first.Replayed)
	assert.Equal(t, domain.Success(painFree), first.Verdict)

	// same session, same redirect parameters, different checkout
	require.NoError(t, fx.markers.Record(ctx, "sess", "ebook-7"))
	second, err := fx.engine.Reconcile(ctx, fx.flow, "sess", q)
	require.NoError(t, err)
	assert.False(t, second.Replayed, "a new checkout is not a refresh of the old one")
	assert.Equal(t, domain.Success(domain.CatalogItem{ID: "ebook-7", Title: "Gut Reset"}), second.Verdict)
	assert.NotEqual(t, first.Fingerprint, second.Fingerprint)
	fx.markerEmpty(t, "sess")

	// a refresh of the second redirect replays it
	refresh, err := fx.engine.Reconcile(ctx, fx.flow, "sess", q)
	require.NoError(t, err)
	assert.True(t, refresh.Replayed)
	assert.Equal(t, second.Verdict, refresh.Verdict)

	require.Len(t, fx.published.events, 2)
	assert.Equal(t, "ebook-42", fx.published.events[0].ItemID)
	assert.Equal(t, "ebook-7", fx.published.events[1].ItemID)
}

func TestReconcile_UnreadableCheckoutLeavesMarker(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, redirect.Generic, catalog.Static{painFree})
	store := unreadableStore{marker.NewMemoryStore()}
	fx.markers = marker.New(store, "pending_ebook_purchase", time.Hour)
	fx.flow.Marker = fx.markers
	require.NoError(t, fx.markers.Record(ctx, "sess", "ebook-42"))

	res, err := fx.engine.Reconcile(ctx, fx.flow, "sess", query(t, "status=success"))
	require.NoError(t, err)
	assert.Equal(t, domain.Ambiguous(domain.ReasonLedgerUnavailable), res.Verdict)
	assert.Empty(t, fx.published.events)

	id, ok, err := fx.markers.Consume(ctx, "sess")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ebook-42", id)
}

func TestReconcile_ReplayWhileInFlight(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, redirect.Generic, catalog.Static{painFree})
	q := query(t, "status=success&payment_id=abc")

	fp, err := Fingerprint(ctx, fx.flow, "sess", q)
	require.NoError(t, err)
	claimed, err := fx.ledger.Claim(ctx, fp)
	require.NoError(t, err)
	require.True(t, claimed)

	res, err := fx.engine.Reconcile(ctx, fx.flow, "sess", q)
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, domain.Ambiguous(domain.ReasonInProgress), res.Verdict)
}

func TestReconcile_LedgerDownLeavesMarker(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, redirect.Generic, catalog.Static{painFree})
	fx.engine = New(brokenLedger{}, fx.published, zap.NewNop())
	require.NoError(t, fx.markers.Record(ctx, "sess", "ebook-42"))

	res, err := fx.engine.Reconcile(ctx, fx.flow, "sess", query(t, "status=success&payment_id=abc"))
	require.NoError(t, err)
	assert.Equal(t, domain.Ambiguous(domain.ReasonLedgerUnavailable), res.Verdict)

	_, ok, err := fx.markers.Consume(ctx, "sess")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReconcile_AbandonedPassHasNoSideEffects(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx := newFixture(t, redirect.Generic, cancellingCatalog{cancel: cancel})
	require.NoError(t, fx.markers.Record(context.Background(), "sess", "ebook-42"))

	q := query(t, "status=success&payment_id=abc")
	_, err := fx.engine.Reconcile(ctx, fx.flow, "sess", q)
	require.ErrorIs(t, err, context.Canceled)

	fp, err := Fingerprint(context.Background(), fx.flow, "sess", q)
	require.NoError(t, err)
	claimed, err := fx.ledger.Claim(context.Background(), fp)
	require.NoError(t, err)
	assert.True(t, claimed, "abandoned pass must not claim the redirect")

	_, ok, err := fx.markers.Consume(context.Background(), "sess")
	require.NoError(t, err)
	assert.True(t, ok, "abandoned pass must not consume the marker")
}

func TestReconcile_VerifierGatesSuccess(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, redirect.Generic, catalog.Static{painFree})
	fx.flow.Verifier = stubVerifier{err: errors.New("signature mismatch")}
	require.NoError(t, fx.markers.Record(ctx, "sess", "ebook-42"))

	res, err := fx.engine.Reconcile(ctx, fx.flow, "sess", query(t, "status=success&payment_id=abc"))
	require.NoError(t, err)
	assert.Equal(t, domain.Ambiguous(domain.ReasonUnverified), res.Verdict)

	fx.flow.Verifier = stubVerifier{}
	require.NoError(t, fx.markers.Record(ctx, "sess", "ebook-42"))
	res, err = fx.engine.Reconcile(ctx, fx.flow, "sess", query(t, "status=success&payment_id=def"))
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictSuccess, res.Verdict.Kind)
}

func TestReconcile_VerifierDoesNotTouchFailures(t *testing.T) {
	fx := newFixture(t, redirect.Generic, catalog.Static{painFree})
	fx.flow.Verifier = stubVerifier{err: errors.New("unsigned")}

	res, err := fx.engine.Reconcile(context.Background(), fx.flow, "sess", query(t, "status=failed&reason=expired"))
	require.NoError(t, err)
	assert.Equal(t, domain.Failure("expired"), res.Verdict)
}

func TestCleanURL(t *testing.T) {
	f := &Flow{ReturnPath: "/nutrition", Schema: redirect.RazorpayPaymentLink}
	q := query(t, "razorpay_payment_link_status=paid&razorpay_signature=s&ref=ig")
	assert.Equal(t, "/nutrition?ref=ig", CleanURL(f, q))
	assert.Equal(t, "/nutrition", CleanURL(f, url.Values{}))
}

func TestNew_PanicsWithoutLedger(t *testing.T) {
	assert.Panics(t, func() { New(nil, nil, nil) })
}
