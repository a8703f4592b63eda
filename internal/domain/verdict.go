package domain

import "fmt"

type VerdictKind string

const (
	VerdictSuccess   VerdictKind = "success"
	VerdictFailure   VerdictKind = "failure"
	VerdictAmbiguous VerdictKind = "ambiguous"
)

// Ambiguous reasons.
const (
	ReasonIdentityUnknown    = "item identity unknown"
	ReasonItemNotInCatalog   = "item not found in catalog"
	ReasonCatalogUnavailable = "catalog unavailable"
	ReasonUnverified         = "payment could not be verified"
	ReasonInProgress         = "reconciliation in progress"
	ReasonLedgerUnavailable  = "reconciliation unavailable"
)

// Verdict is the single decision produced for one redirect.
// A success verdict always carries the resolved catalog item.
type Verdict struct {
	Kind   VerdictKind  `json:"kind"`
	Item   *CatalogItem `json:"item,omitempty"`
	Reason string       `json:"reason,omitempty"`
}

func Success(item CatalogItem) Verdict {
	return Verdict{Kind: VerdictSuccess, Item: &item}
}

func Failure(reason string) Verdict {
	return Verdict{Kind: VerdictFailure, Reason: reason}
}

func Ambiguous(reason string) Verdict {
	return Verdict{Kind: VerdictAmbiguous, Reason: reason}
}

// Valid reports whether v respects the verdict invariants. Used when a verdict
// is read back from a store.
func (v Verdict) Valid() error {
	switch v.Kind {
	case VerdictSuccess:
		if v.Item == nil || v.Item.ID == "" {
			return fmt.Errorf("success verdict without item")
		}
	case VerdictFailure, VerdictAmbiguous:
	default:
		return fmt.Errorf("unknown verdict kind %q", v.Kind)
	}
	return nil
}

// Err maps a verdict onto the error taxonomy; nil for success.
func (v Verdict) Err() error {
	switch v.Kind {
	case VerdictSuccess:
		return nil
	case VerdictFailure:
		return fmt.Errorf("%w: %s", ErrPaymentFailed, v.Reason)
	default:
		return fmt.Errorf("%w: %s", ErrItemUnresolved, v.Reason)
	}
}

func (v Verdict) String() string {
	if v.Kind == VerdictSuccess && v.Item != nil {
		return fmt.Sprintf("success(%s)", v.Item.ID)
	}
	return fmt.Sprintf("%s(%s)", v.Kind, v.Reason)
}
