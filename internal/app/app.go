// Package app wires configuration into the reconciliation engine, its stores
// and the HTTP router.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"storefront/internal/catalog"
	"storefront/internal/config"
	httpx "storefront/internal/http"
	"storefront/internal/ledger"
	"storefront/internal/marker"
	"storefront/internal/outbox"
	"storefront/internal/present"
	"storefront/internal/reconcile"
	"storefront/internal/redirect"
	"storefront/internal/repo"
	"storefront/internal/signing"
)

type App struct {
	Config  *config.Config
	Log     *zap.Logger
	Flows   map[string]*reconcile.Flow
	Engine  *reconcile.Engine
	Catalog *catalog.Client

	// Worker is set only when events are queued in Postgres.
	Worker *outbox.Worker
	DB     *pgxpool.Pool
	Redis  *redis.Client

	checks []httpx.Check

	// set for the memory backend, which has nothing else to expire entries
	memMarkers *marker.MemoryStore
	memLedger  *ledger.Memory
}

// Build connects the configured backend and assembles every flow.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{
		Config:  cfg,
		Log:     log,
		Catalog: catalog.NewClient(cfg.CatalogBaseURL, cfg.CatalogTTL, log.Named("catalog")),
	}

	var (
		markers marker.Store
		l       ledger.Ledger
	)
	switch cfg.StoreBackend {
	case config.BackendRedis:
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("redis connect: %w", err)
		}
		markers = marker.NewRedisStore(a.Redis)
		l = ledger.NewRedis(a.Redis, ledger.DefaultTTL)
		a.checks = append(a.checks, httpx.Check{Name: "redis", Ping: func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		}})
	case config.BackendPostgres:
		pool, err := repo.NewPool(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		a.DB = pool
		markers = repo.PendingPurchases{DB: pool}
		l = repo.RedirectLedger{DB: pool}
		a.checks = append(a.checks, httpx.Check{Name: "db", Ping: pool.Ping})
	default:
		a.memMarkers = marker.NewMemoryStore()
		a.memLedger = ledger.NewMemory()
		markers, l = a.memMarkers, a.memLedger
	}

	var publisher reconcile.Publisher = outbox.LogPublisher{Log: log.Named("events")}
	switch {
	case cfg.NotifyWebhookURL != "" && a.DB != nil:
		publisher = &outbox.Publisher{DB: a.DB, TargetURL: cfg.NotifyWebhookURL, Log: log.Named("events")}
		a.Worker = outbox.NewWorker(a.DB, cfg.WebhookSecret, log)
	case cfg.NotifyWebhookURL != "":
		log.Warn("NOTIFY_WEBHOOK_URL needs STORE_BACKEND=postgres; purchase events are only logged")
	}

	a.Engine = reconcile.New(l, publisher, log.Named("reconcile"))

	flows, err := buildFlows(cfg, markers, a.Catalog)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Flows = flows
	return a, nil
}

func buildFlows(cfg *config.Config, markers marker.Store, cat *catalog.Client) (map[string]*reconcile.Flow, error) {
	flows := make(map[string]*reconcile.Flow, len(cfg.Flows))
	for _, fc := range cfg.Flows {
		f, err := buildFlow(cfg, fc, markers, cat.Source(fc.CatalogPath))
		if err != nil {
			return nil, err
		}
		flows[fc.Name] = f
	}
	return flows, nil
}

func buildFlow(cfg *config.Config, fc config.Flow, markers marker.Store, src catalog.Source) (*reconcile.Flow, error) {
	schema, err := redirect.SchemaByName(fc.Schema)
	if err != nil {
		return nil, fmt.Errorf("flow %q: %w", fc.Name, err)
	}
	f := &reconcile.Flow{
		Name:       fc.Name,
		ReturnPath: fc.ReturnPath,
		Schema:     schema,
		Marker:     marker.New(markers, fc.MarkerKey, cfg.MarkerTTL),
		Catalog:    src,
	}
	if fc.Verify {
		if cfg.RazorpayKeySecret == "" {
			return nil, fmt.Errorf("flow %q: verify requires RAZORPAY_KEY_SECRET", fc.Name)
		}
		f.Verifier = signing.RazorpayLinkVerifier{KeySecret: cfg.RazorpayKeySecret}
	}
	return f, nil
}

func (a *App) Handler() http.Handler {
	return httpx.NewRouter(httpx.Deps{
		Flows:        a.Flows,
		Engine:       a.Engine,
		Presenter:    present.Presenter{SupportEmail: a.Config.SupportEmail, Currency: a.Config.CurrencySymbol},
		Log:          a.Log.Named("http"),
		Checks:       a.checks,
		SecureCookie: a.Config.CookieSecure,
	})
}

// Purge drops expired pending purchases and forgotten redirect fingerprints.
// Redis expires both on its own, so there it does nothing.
func (a *App) Purge(ctx context.Context) (int64, error) {
	switch {
	case a.DB != nil:
		markers, err := repo.PurgeExpiredPendingPurchases(ctx, a.DB)
		if err != nil {
			return 0, fmt.Errorf("purge pending purchases: %w", err)
		}
		redirects, err := repo.PurgeStaleRedirects(ctx, a.DB, ledger.DefaultTTL)
		if err != nil {
			return markers, fmt.Errorf("purge redirects: %w", err)
		}
		return markers + redirects, nil
	case a.memMarkers != nil:
		now := time.Now()
		return int64(a.memMarkers.Purge(now) + a.memLedger.Purge(now)), nil
	default:
		return 0, nil
	}
}

// NeedsPurge reports whether the backend relies on Purge to expire entries.
func (a *App) NeedsPurge() bool {
	return a.DB != nil || a.memMarkers != nil
}

func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
}
