package app

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"storefront/internal/catalog"
	"storefront/internal/config"
	"storefront/internal/domain"
	"storefront/internal/ledger"
	"storefront/internal/marker"
	"storefront/internal/present"
	"storefront/internal/reconcile"
)

const offlineSession = "offline"

// Report is what the reconcile command prints.
type Report struct {
	Flow        string         `json:"flow"`
	Reconciled  bool           `json:"reconciled"`
	Outcome     string         `json:"outcome"`
	Verdict     domain.Verdict `json:"verdict"`
	ReplaceURL  string         `json:"replace_url"`
	Fingerprint string         `json:"fingerprint,omitempty"`
	View        *present.View  `json:"view,omitempty"`
}

// Offline replays a provider return URL against the live catalog using
// in-memory marker and ledger stores, so production state is never touched.
// markerID stands in for the pending purchase the shopper's session held.
func Offline(ctx context.Context, cfg *config.Config, log *zap.Logger, flowName, rawURL, markerID string) (Report, error) {
	fc, ok := cfg.Flow(flowName)
	if !ok {
		return Report{}, fmt.Errorf("%w: %s", domain.ErrUnknownFlow, flowName)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return Report{}, fmt.Errorf("parse url: %w", err)
	}

	client := catalog.NewClient(cfg.CatalogBaseURL, 0, log.Named("catalog"))
	f, err := buildFlow(cfg, fc, marker.NewMemoryStore(), client.Source(fc.CatalogPath))
	if err != nil {
		return Report{}, err
	}
	if markerID != "" {
		if err := f.Marker.Record(ctx, offlineSession, markerID); err != nil {
			return Report{}, err
		}
	}

	engine := reconcile.New(ledger.NewMemory(), nil, log.Named("reconcile"))
	res, err := engine.Reconcile(ctx, f, offlineSession, u.Query())
	if err != nil {
		return Report{}, err
	}

	rep := Report{
		Flow:        f.Name,
		Reconciled:  res.Reconciled,
		Verdict:     res.Verdict,
		ReplaceURL:  res.ReplaceURL,
		Fingerprint: res.Fingerprint,
	}
	if !res.Reconciled {
		rep.Outcome = domain.Kind(domain.ErrRedirectAbsent)
		return rep, nil
	}
	rep.Outcome = "success"
	if err := res.Verdict.Err(); err != nil {
		rep.Outcome = domain.Kind(err)
	}
	v := present.Presenter{SupportEmail: cfg.SupportEmail, Currency: cfg.CurrencySymbol}.Present(f.Name, res)
	rep.View = &v
	return rep, nil
}
