package domain

import "time"

const (
	EventPurchaseConfirmed   = "purchase.confirmed"
	EventPurchaseNeedsReview = "purchase.needs_review"
)

// PurchaseEvent is emitted once per reconciled redirect that needs follow-up:
// a receipt for confirmed purchases, a support ticket for ambiguous ones.
type PurchaseEvent struct {
	Type             string    `json:"event_type"`
	Flow             string    `json:"flow"`
	Fingerprint      string    `json:"redirect_fingerprint"`
	PaymentReference string    `json:"payment_reference,omitempty"`
	ItemID           string    `json:"item_id,omitempty"`
	ItemTitle        string    `json:"item_title,omitempty"`
	Reason           string    `json:"reason,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}
