package outbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"storefront/internal/repo"
	"storefront/internal/signing"
)

const (
	HeaderEventID   = "X-Storefront-Event-ID"
	HeaderEventType = "X-Storefront-Event-Type"
	HeaderTimestamp = "X-Storefront-Timestamp"
	HeaderSignature = "X-Storefront-Signature"
)

const maxBackoff = 60 * time.Second

// Worker delivers queued purchase events to their webhook.
type Worker struct {
	DB     *pgxpool.Pool
	Client *http.Client
	Log    *zap.Logger

	PollInterval time.Duration
	BatchSize    int

	WebhookSecret string

	now func() time.Time
}

func NewWorker(db *pgxpool.Pool, secret string, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		DB:            db,
		Client:        &http.Client{Timeout: 5 * time.Second},
		Log:           logger.Named("outbox"),
		PollInterval:  500 * time.Millisecond,
		BatchSize:     20,
		WebhookSecret: secret,
		now:           time.Now,
	}
}

// Run polls until ctx is done. It always returns nil so it can sit in an
// errgroup next to the HTTP server.
func (w *Worker) Run(ctx context.Context) error {
	t := time.NewTicker(w.PollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := w.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
				// rows stay pending; the next tick retries
				w.Log.Warn("outbox dispatch failed", zap.Error(err))
			}
		}
	}
}

func (w *Worker) DispatchOnce(ctx context.Context) error {
	tx, err := w.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	evts, err := repo.ClaimPendingOutboxTx(ctx, tx, w.BatchSize)
	if err != nil {
		return err
	}
	if len(evts) == 0 {
		return tx.Commit(ctx)
	}

	for _, e := range evts {
		err := w.sendOne(ctx, e.TargetURL, e.EventID.String(), e.EventType, e.PayloadJSON)

		if err == nil {
			if err2 := repo.MarkPurchaseEventDelivered(ctx, tx, e.ID); err2 != nil {
				return err2
			}
			w.Log.Debug("purchase event delivered",
				zap.String("event_id", e.EventID.String()),
				zap.String("event_type", e.EventType),
			)
			continue
		}

		attempt := e.AttemptCount + 1
		delay := backoff(attempt)
		w.Log.Warn("purchase event delivery failed",
			zap.String("event_id", e.EventID.String()),
			zap.Int32("attempt", attempt),
			zap.Duration("retry_in", delay),
			zap.Error(err),
		)
		if err2 := repo.ReschedulePurchaseEvent(ctx, tx, e.ID, attempt, err.Error(), delay); err2 != nil {
			return err2
		}
	}

	return tx.Commit(ctx)
}

// backoff is 1s, 2s, 4s, ... capped at 60s.
func backoff(attempt int32) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Second * time.Duration(1<<min(int(attempt-1), 6))
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

func (w *Worker) sendOne(ctx context.Context, url, eventID, eventType string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "storefront-outbox/1.0")
	req.Header.Set(HeaderEventID, eventID)
	req.Header.Set(HeaderEventType, eventType)

	ts := strconv.FormatInt(w.now().Unix(), 10)
	req.Header.Set(HeaderTimestamp, ts)

	if w.WebhookSecret != "" {
		req.Header.Set(HeaderSignature, signing.SignPayload(w.WebhookSecret, ts, payload))
	}

	resp, err := w.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}
