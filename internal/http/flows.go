package httpx

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"storefront/internal/domain"
	"storefront/internal/present"
	"storefront/internal/reconcile"
)

type FlowsHandler struct {
	Flows     map[string]*reconcile.Flow
	Engine    *reconcile.Engine
	Presenter present.Presenter
	Log       *zap.Logger
}

type checkoutReq struct {
	ItemID string `json:"item_id"`
}

type returnResp struct {
	Reconciled bool          `json:"reconciled"`
	Replayed   bool          `json:"replayed"`
	ReplaceURL string        `json:"replace_url"`
	View       *present.View `json:"view,omitempty"`
}

func (h *FlowsHandler) flow(w http.ResponseWriter, r *http.Request) (*reconcile.Flow, bool) {
	f, ok := h.Flows[chi.URLParam(r, "flow")]
	if !ok {
		WriteError(w, http.StatusNotFound, "unknown flow")
		return nil, false
	}
	return f, true
}

func (h *FlowsHandler) Items(w http.ResponseWriter, r *http.Request) {
	f, ok := h.flow(w, r)
	if !ok {
		return
	}

	items, err := f.Catalog.Items(r.Context())
	if err != nil {
		h.Log.Warn("catalog load failed", zap.String("flow", f.Name), zap.String("error_kind", domain.Kind(err)), zap.Error(err))
		WriteError(w, http.StatusBadGateway, "catalog unavailable")
		return
	}
	if items == nil {
		items = []domain.CatalogItem{}
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"flow":  f.Name,
		"items": items,
	})
}

// Checkout remembers which item the shopper is about to pay for and hands
// back the provider's payment page.
func (h *FlowsHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	f, ok := h.flow(w, r)
	if !ok {
		return
	}

	var req checkoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	req.ItemID = strings.TrimSpace(req.ItemID)
	if req.ItemID == "" {
		WriteError(w, http.StatusBadRequest, "missing item_id")
		return
	}

	items, err := f.Catalog.Items(r.Context())
	if err != nil {
		h.Log.Warn("catalog load failed", zap.String("flow", f.Name), zap.String("error_kind", domain.Kind(err)), zap.Error(err))
		WriteError(w, http.StatusBadGateway, "catalog unavailable")
		return
	}
	item, ok := domain.FindItem(items, req.ItemID)
	if !ok {
		WriteError(w, http.StatusNotFound, "item not found")
		return
	}
	if item.PaymentLink == "" {
		WriteError(w, http.StatusUnprocessableEntity, "item has no payment link")
		return
	}

	if err := f.Marker.Record(r.Context(), SessionFrom(r.Context()), item.ID); err != nil {
		h.Log.Error("pending purchase record failed", zap.String("flow", f.Name), zap.Error(err))
		WriteError(w, http.StatusInternalServerError, "could not start checkout")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"redirect_url": item.PaymentLink})
}

// Return is where the payment provider sends the shopper back.
func (h *FlowsHandler) Return(w http.ResponseWriter, r *http.Request) {
	f, ok := h.flow(w, r)
	if !ok {
		return
	}

	res, err := h.Engine.Reconcile(r.Context(), f, SessionFrom(r.Context()), r.URL.Query())
	if err != nil {
		// shopper left; nobody to answer
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	out := returnResp{
		Reconciled: res.Reconciled,
		Replayed:   res.Replayed,
		ReplaceURL: res.ReplaceURL,
	}
	if res.Reconciled {
		v := h.Presenter.Present(f.Name, res)
		out.View = &v
	}
	WriteJSON(w, http.StatusOK, out)
}
