// Package reconcile decides, exactly once per payment redirect, whether a
// purchase succeeded and which catalog item it was for.
package reconcile

import (
	"context"
	"net/url"
	"time"

	"go.uber.org/zap"

	"storefront/internal/catalog"
	"storefront/internal/domain"
	"storefront/internal/ledger"
	"storefront/internal/marker"
	"storefront/internal/redirect"
)

// Verifier checks a success redirect with the provider before it is trusted.
type Verifier interface {
	Verify(ctx context.Context, o domain.RedirectOutcome) error
}

// Publisher hands purchase events to whatever delivers them.
type Publisher interface {
	Publish(ctx context.Context, e domain.PurchaseEvent) error
}

// Flow binds the engine to one checkout: its marker, its provider's
// redirect schema and its catalog.
type Flow struct {
	Name       string
	ReturnPath string
	Schema     redirect.Schema
	Marker     *marker.Marker
	Catalog    catalog.Source
	Verifier   Verifier
}

// Result is the outcome of one Reconcile call.
type Result struct {
	// Reconciled is false for normal visits without redirect parameters.
	Reconciled bool
	// Replayed is true when the redirect had already been processed and the
	// stored verdict is returned without side effects.
	Replayed    bool
	Verdict     domain.Verdict
	ReplaceURL  string
	Fingerprint string
}

type Engine struct {
	ledger    ledger.Ledger
	publisher Publisher
	log       *zap.Logger
	now       func() time.Time
}

// New returns an Engine. publisher may be nil. It panics on a nil ledger.
func New(l ledger.Ledger, publisher Publisher, logger *zap.Logger) *Engine {
	if l == nil {
		panic("reconcile.New: nil ledger")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{ledger: l, publisher: publisher, log: logger, now: time.Now}
}

// CleanURL is the flow's page with every redirect parameter removed.
func CleanURL(f *Flow, query url.Values) string {
	rest := redirect.Strip(f.Schema, query)
	if len(rest) == 0 {
		return f.ReturnPath
	}
	return f.ReturnPath + "?" + rest.Encode()
}

// Fingerprint identifies the redirect carried by query in the ledger. It is
// empty for normal visits.
func Fingerprint(ctx context.Context, f *Flow, session string, query url.Values) (string, error) {
	outcome, ok := redirect.Parse(f.Schema, query)
	if !ok {
		return "", nil
	}
	return fingerprint(ctx, f, outcome, session, query)
}

// fingerprint only reads the checkout id when the provider sent no payment
// reference.
func fingerprint(ctx context.Context, f *Flow, o domain.RedirectOutcome, session string, query url.Values) (string, error) {
	var checkout string
	if o.PaymentReference == "" {
		var err error
		if checkout, err = f.Marker.Checkout(ctx, session); err != nil {
			return "", err
		}
	}
	return ledger.Fingerprint(f.Name, o.PaymentReference, session, checkout, redirect.Canonical(f.Schema, query)), nil
}

// Reconcile processes the redirect carried by query for session.
//
// The only error returned is ctx's: a pass abandoned while the catalog loads
// leaves the marker and ledger untouched. Provider, catalog and store problems
// all end up in the verdict.
//
// When the redirect cannot be claimed in the ledger, or cannot be identified
// because the checkout id is unreadable, the verdict is Ambiguous and the
// pending purchase marker is left in place rather than deleted. A refresh
// once the ledger is back then still knows which item was bought.
func (e *Engine) Reconcile(ctx context.Context, f *Flow, session string, query url.Values) (Result, error) {
	res := Result{ReplaceURL: CleanURL(f, query)}

	outcome, ok := redirect.Parse(f.Schema, query)
	if !ok {
		return res, nil
	}
	res.Reconciled = true

	log := e.log.With(
		zap.String("flow", f.Name),
		zap.String("payment_reference", outcome.PaymentReference),
		zap.String("raw_status", outcome.RawStatus),
	)

	items, catErr := f.Catalog.Items(ctx)
	if err := ctx.Err(); err != nil {
		log.Info("reconciliation abandoned", zap.Error(err))
		return Result{}, err
	}
	if catErr != nil {
		log.Warn("catalog unavailable during reconciliation", zap.String("error_kind", domain.Kind(catErr)), zap.Error(catErr))
	}

	fp, err := fingerprint(ctx, f, outcome, session, query)
	if err != nil {
		log.Error("checkout id unreadable", zap.Error(err))
		res.Verdict = domain.Ambiguous(domain.ReasonLedgerUnavailable)
		return res, nil
	}
	res.Fingerprint = fp

	first, err := e.ledger.Claim(ctx, fp)
	if err != nil {
		log.Error("redirect ledger claim failed", zap.Error(err))
		res.Verdict = domain.Ambiguous(domain.ReasonLedgerUnavailable)
		return res, nil
	}
	if !first {
		res.Replayed = true
		res.Verdict = e.replay(ctx, fp, log)
		return res, nil
	}

	markerID, _, err := f.Marker.Consume(ctx, session)
	if err != nil {
		log.Warn("pending purchase marker unreadable", zap.Error(err))
		markerID = ""
	}

	itemID := resolveItemID(outcome.ItemIDHint, markerID, log)
	res.Verdict = e.decide(ctx, f, outcome, itemID, items, catErr, log)

	// the claim is taken; finish the bookkeeping even if the caller left
	bctx := context.WithoutCancel(ctx)
	if err := e.ledger.Settle(bctx, fp, res.Verdict); err != nil {
		log.Error("redirect ledger settle failed", zap.Error(err))
	}
	e.publish(bctx, f, fp, outcome, itemID, res.Verdict, log)

	log.Info("redirect reconciled",
		zap.String("verdict", res.Verdict.String()),
		zap.String("fingerprint", fp),
	)
	return res, nil
}

func (e *Engine) replay(ctx context.Context, fp string, log *zap.Logger) domain.Verdict {
	v, settled, err := e.ledger.Settled(ctx, fp)
	switch {
	case err != nil:
		log.Warn("redirect ledger read failed", zap.Error(err))
		return domain.Ambiguous(domain.ReasonLedgerUnavailable)
	case !settled:
		return domain.Ambiguous(domain.ReasonInProgress)
	default:
		log.Debug("redirect already reconciled", zap.String("verdict", v.String()))
		return v
	}
}

func (e *Engine) decide(
	ctx context.Context,
	f *Flow,
	outcome domain.RedirectOutcome,
	itemID string,
	items []domain.CatalogItem,
	catErr error,
	log *zap.Logger,
) domain.Verdict {
	if !outcome.Succeeded {
		return domain.Failure(outcome.FailureReason)
	}

	if f.Verifier != nil {
		if err := f.Verifier.Verify(ctx, outcome); err != nil {
			log.Warn("success redirect failed verification", zap.Error(err))
			return domain.Ambiguous(domain.ReasonUnverified)
		}
	}

	if itemID == "" {
		return domain.Ambiguous(domain.ReasonIdentityUnknown)
	}
	if catErr != nil || len(items) == 0 {
		return domain.Ambiguous(domain.ReasonCatalogUnavailable)
	}
	item, ok := domain.FindItem(items, itemID)
	if !ok {
		log.Warn("paid item missing from catalog", zap.String("item_id", itemID))
		return domain.Ambiguous(domain.ReasonItemNotInCatalog)
	}
	return domain.Success(item)
}

// resolveItemID prefers the provider's hint over the client-side marker,
// which may be left over from an earlier attempt.
func resolveItemID(hint, markerID string, log *zap.Logger) string {
	if hint != "" && markerID != "" && hint != markerID {
		log.Warn("provider item hint disagrees with pending purchase marker",
			zap.String("hint", hint),
			zap.String("marker", markerID),
		)
	}
	if hint != "" {
		return hint
	}
	return markerID
}

func (e *Engine) publish(ctx context.Context, f *Flow, fp string, o domain.RedirectOutcome, itemID string, v domain.Verdict, log *zap.Logger) {
	if e.publisher == nil {
		return
	}
	ev := domain.PurchaseEvent{
		Flow:             f.Name,
		Fingerprint:      fp,
		PaymentReference: o.PaymentReference,
		Reason:           v.Reason,
		OccurredAt:       e.now().UTC(),
	}
	switch v.Kind {
	case domain.VerdictSuccess:
		ev.Type = domain.EventPurchaseConfirmed
		ev.ItemID = v.Item.ID
		ev.ItemTitle = v.Item.Title
	case domain.VerdictAmbiguous:
		ev.Type = domain.EventPurchaseNeedsReview
		ev.ItemID = itemID
	default:
		return
	}
	if err := e.publisher.Publish(ctx, ev); err != nil {
		log.Error("purchase event publish failed", zap.String("event_type", ev.Type), zap.Error(err))
	}
}
