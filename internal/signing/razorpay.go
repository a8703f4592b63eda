package signing

import (
	"context"

	"storefront/internal/domain"
)

// RazorpayLinkVerifier checks the razorpay_signature a payment link appends on
// redirect: HMAC-SHA256(key_secret, "link_id|reference_id|status|payment_id").
type RazorpayLinkVerifier struct {
	KeySecret string
}

func (v RazorpayLinkVerifier) Verify(_ context.Context, o domain.RedirectOutcome) error {
	if o.Signature == "" || v.KeySecret == "" {
		return ErrMissingSignature
	}
	expected := Sign(v.KeySecret, "|",
		[]byte(o.LinkID),
		[]byte(o.LinkReference),
		[]byte(o.RawStatus),
		[]byte(o.PaymentReference),
	)
	if !Equal(expected, o.Signature) {
		return ErrBadSignature
	}
	return nil
}
