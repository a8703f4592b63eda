// Package outbox queues purchase events in Postgres and delivers them to the
// notification webhook.
package outbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"storefront/internal/domain"
	"storefront/internal/repo"
)

// Publisher writes events to purchase_outbox for the Worker to deliver.
type Publisher struct {
	DB        *pgxpool.Pool
	TargetURL string
	Log       *zap.Logger
}

func (p *Publisher) Publish(ctx context.Context, e domain.PurchaseEvent) error {
	id, inserted, err := repo.InsertPurchaseEvent(ctx, p.DB, p.TargetURL, e)
	if err != nil {
		return err
	}
	if p.Log != nil {
		if inserted {
			p.Log.Info("purchase event queued",
				zap.String("event_id", id.String()),
				zap.String("event_type", e.Type),
				zap.String("flow", e.Flow),
			)
		} else {
			p.Log.Debug("purchase event already queued",
				zap.String("event_type", e.Type),
				zap.String("fingerprint", e.Fingerprint),
			)
		}
	}
	return nil
}

// LogPublisher records events in the log only. Used when no database or
// webhook is configured.
type LogPublisher struct {
	Log *zap.Logger
}

func (p LogPublisher) Publish(_ context.Context, e domain.PurchaseEvent) error {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("purchase event",
		zap.String("event_type", e.Type),
		zap.String("flow", e.Flow),
		zap.String("fingerprint", e.Fingerprint),
		zap.String("payment_reference", e.PaymentReference),
		zap.String("item_id", e.ItemID),
		zap.String("reason", e.Reason),
		zap.Time("occurred_at", e.OccurredAt),
	)
	return nil
}
