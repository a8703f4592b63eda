// Package marker remembers which catalog item a shopper started checkout for,
// across the full-page trip to the payment provider and back.
//
// Only this package touches marker keys. Consume reads and deletes in one step,
// so a marker can be handed out at most once.
package marker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrEmptySession = errors.New("marker: empty session")
	ErrEmptyItem    = errors.New("marker: empty item id")
)

const DefaultTTL = 2 * time.Hour

// CheckoutTTL keeps the checkout id for as long as the redirect ledger
// remembers a redirect, so refreshes of a reference-less redirect still match.
const CheckoutTTL = 7 * 24 * time.Hour

// Store persists raw markers. Take must read and delete atomically.
type Store interface {
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Take(ctx context.Context, key string) (value string, ok bool, err error)
}

// Marker is the pending-purchase marker of one purchase flow.
type Marker struct {
	store     Store
	namespace string
	ttl       time.Duration
}

// New returns a Marker writing under namespace (one per flow, e.g.
// "pending_ebook_purchase"). It panics on a nil store or empty namespace.
func New(store Store, namespace string, ttl time.Duration) *Marker {
	if store == nil {
		panic("marker.New: nil store")
	}
	if namespace == "" {
		panic("marker.New: empty namespace")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Marker{store: store, namespace: namespace, ttl: ttl}
}

// Record stores itemID for session, replacing whatever was in flight, and
// starts a new checkout id for the session.
func (m *Marker) Record(ctx context.Context, session, itemID string) error {
	if session == "" {
		return ErrEmptySession
	}
	if itemID == "" {
		return ErrEmptyItem
	}
	if err := m.store.Put(ctx, m.checkoutKey(session), uuid.NewString(), CheckoutTTL); err != nil {
		return err
	}
	return m.store.Put(ctx, m.key(session), itemID, m.ttl)
}

// Checkout returns the id of the session's latest checkout, or "" when the
// session never started one. Consume does not clear it.
func (m *Marker) Checkout(ctx context.Context, session string) (string, error) {
	if session == "" {
		return "", nil
	}
	id, _, err := m.store.Get(ctx, m.checkoutKey(session))
	return id, err
}

// Consume returns the recorded item id and removes it. A second call reports
// ok=false without error.
func (m *Marker) Consume(ctx context.Context, session string) (string, bool, error) {
	if session == "" {
		return "", false, nil
	}
	return m.store.Take(ctx, m.key(session))
}

func (m *Marker) Namespace() string { return m.namespace }

func (m *Marker) key(session string) string {
	return "storefront:marker:" + m.namespace + ":" + session
}

func (m *Marker) checkoutKey(session string) string {
	return "storefront:checkout:" + m.namespace + ":" + session
}
