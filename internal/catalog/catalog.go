// Package catalog reads purchasable items from the backend REST API.
package catalog

import (
	"context"

	"storefront/internal/domain"
)

// Source yields the current catalog of one flow.
type Source interface {
	Items(ctx context.Context) ([]domain.CatalogItem, error)
}

// Static is a fixed catalog, used by tests and the offline reconcile command.
type Static []domain.CatalogItem

func (s Static) Items(context.Context) ([]domain.CatalogItem, error) {
	out := make([]domain.CatalogItem, len(s))
	copy(out, s)
	return out, nil
}
