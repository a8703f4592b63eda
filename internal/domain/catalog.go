package domain

import "storefront/internal/money"

// CatalogItem is a purchasable entity (e-book, nutrition plan) as served by the backend catalog.
type CatalogItem struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	DownloadURL string      `json:"download_url,omitempty"`
	PaymentLink string      `json:"payment_link,omitempty"`
	Price       money.Cents `json:"price_cents,omitempty"`
}

// FindItem returns the item whose id matches exactly.
func FindItem(items []CatalogItem, id string) (CatalogItem, bool) {
	if id == "" {
		return CatalogItem{}, false
	}
	for _, it := range items {
		if it.ID == id {
			return it, true
		}
	}
	return CatalogItem{}, false
}
