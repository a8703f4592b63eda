package domain

// RedirectOutcome is what a payment provider told us on the way back.
// It only lives for one reconciliation pass.
type RedirectOutcome struct {
	RawStatus        string
	Succeeded        bool
	PaymentReference string
	ItemIDHint       string
	FailureReason    string

	// provider-specific fields used for signature verification
	Signature     string
	LinkID        string
	LinkReference string
}
