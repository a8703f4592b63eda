package domain

import (
	"context"
	"errors"
)

var (
	// ErrRedirectAbsent is not a failure: the page was visited normally.
	ErrRedirectAbsent = errors.New("no payment redirect present")
	ErrPaymentFailed  = errors.New("payment failed")
	ErrItemUnresolved = errors.New("purchased item unresolved")
	ErrCatalogFetch   = errors.New("catalog fetch failed")
	ErrUnknownFlow    = errors.New("unknown purchase flow")
)

// Kind classifies err for logs and API payloads.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRedirectAbsent):
		return "redirect_absent"
	case errors.Is(err, ErrPaymentFailed):
		return "payment_failed"
	case errors.Is(err, ErrItemUnresolved):
		return "item_unresolved"
	case errors.Is(err, ErrCatalogFetch):
		return "catalog_fetch"
	case errors.Is(err, ErrUnknownFlow):
		return "unknown_flow"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}
