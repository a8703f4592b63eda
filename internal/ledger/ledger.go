// Package ledger records which payment redirects have already been reconciled,
// so a refresh, back-navigation or replayed request never processes the same
// redirect twice.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"storefront/internal/domain"
)

const DefaultTTL = 7 * 24 * time.Hour

// Ledger is a claim-once record per redirect fingerprint.
type Ledger interface {
	// Claim returns true only for the first caller of fp.
	Claim(ctx context.Context, fp string) (bool, error)
	// Settle stores the verdict reached for a claimed fp.
	Settle(ctx context.Context, fp string, v domain.Verdict) error
	// Settled returns the stored verdict, if the claim has been settled.
	Settled(ctx context.Context, fp string) (domain.Verdict, bool, error)
}

// Fingerprint identifies one redirect. The provider's payment reference is
// stable across refreshes; without one we fall back to the session, the
// checkout id recorded with the pending purchase and the canonical redirect
// parameters. The checkout id keeps two purchases in one session apart.
func Fingerprint(flow, paymentReference, session, checkout, canonicalParams string) string {
	h := sha256.New()
	h.Write([]byte(flow))
	h.Write([]byte{0})
	if paymentReference != "" {
		h.Write([]byte("ref:" + paymentReference))
	} else {
		h.Write([]byte("sess:" + session))
		h.Write([]byte{0})
		h.Write([]byte("chk:" + checkout))
		h.Write([]byte{0})
		h.Write([]byte(canonicalParams))
	}
	return hex.EncodeToString(h.Sum(nil))
}
