package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"storefront/internal/present"
	"storefront/internal/reconcile"
)

// Check is a named readiness check, usually a store ping.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

type Deps struct {
	Flows        map[string]*reconcile.Flow
	Engine       *reconcile.Engine
	Presenter    present.Presenter
	Log          *zap.Logger
	Checks       []Check
	SecureCookie bool
}

func NewRouter(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}

	r := chi.NewRouter()

	// middleware (keep it sane)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(d.Log))

	// health
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
		defer cancel()

		for _, c := range d.Checks {
			if err := c.Ping(ctx); err != nil {
				d.Log.Warn("readiness check failed", zap.String("check", c.Name), zap.Error(err))
				WriteError(w, http.StatusServiceUnavailable, c.Name+" not ready")
				return
			}
		}

		WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Route("/v1/flows/{flow}", func(r chi.Router) {
		r.Use(Session(d.SecureCookie))

		h := &FlowsHandler{
			Flows:     d.Flows,
			Engine:    d.Engine,
			Presenter: d.Presenter,
			Log:       d.Log,
		}
		r.Get("/items", h.Items)
		r.Post("/checkout", h.Checkout)
		r.Get("/return", h.Return)
	})
	return r
}
