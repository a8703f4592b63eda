package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"storefront/internal/domain"
)

var ErrMissingTargetURL = errors.New("missing target_url")

type outboxPayload struct {
	EventID string `json:"event_id"`
	domain.PurchaseEvent
}

// InsertPurchaseEvent queues e for delivery to targetURL. An event of the same
// type for the same redirect is queued at most once; inserted reports whether
// this call queued it.
func InsertPurchaseEvent(ctx context.Context, db DBTX, targetURL string, e domain.PurchaseEvent) (eventID uuid.UUID, inserted bool, err error) {
	if targetURL == "" {
		return uuid.Nil, false, ErrMissingTargetURL
	}

	eventID = uuid.New()
	b, err := json.Marshal(outboxPayload{EventID: eventID.String(), PurchaseEvent: e})
	if err != nil {
		return uuid.Nil, false, err
	}

	ct, err := db.Exec(ctx, `
INSERT INTO purchase_outbox (event_id, event_type, flow, fingerprint, target_url, payload, status)
VALUES ($1, $2, $3, $4, $5, $6::jsonb, 'pending')
ON CONFLICT (fingerprint, event_type) DO NOTHING
`, eventID, e.Type, e.Flow, e.Fingerprint, targetURL, string(b))
	if err != nil {
		return uuid.Nil, false, err
	}
	if ct.RowsAffected() == 0 {
		return uuid.Nil, false, nil
	}
	return eventID, true, nil
}

type OutboxRow struct {
	ID          int64
	EventID     uuid.UUID
	EventType   string
	Flow        string
	TargetURL   string
	PayloadJSON []byte

	AttemptCount int32
	Status       string
}

func ClaimPendingOutboxTx(ctx context.Context, tx pgx.Tx, limit int) ([]OutboxRow, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := tx.Query(ctx, `
SELECT id, event_id, event_type, flow, target_url, payload, attempt_count, status
FROM purchase_outbox
WHERE status = 'pending'
  AND (next_retry_at IS NULL OR next_retry_at <= now())
ORDER BY created_at ASC
FOR UPDATE SKIP LOCKED
LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OutboxRow
	for rows.Next() {
		var r OutboxRow
		if err := rows.Scan(
			&r.ID,
			&r.EventID,
			&r.EventType,
			&r.Flow,
			&r.TargetURL,
			&r.PayloadJSON,
			&r.AttemptCount,
			&r.Status,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkPurchaseEventDelivered closes out a delivered event and drops the error
// left by any earlier attempt.
func MarkPurchaseEventDelivered(ctx context.Context, db DBTX, id int64) error {
	_, err := db.Exec(ctx, `
UPDATE purchase_outbox
SET status = 'sent',
    sent_at = now(),
    last_error = NULL,
    next_retry_at = NULL,
    updated_at = now()
WHERE id = $1 AND status = 'pending'
`, id)
	return err
}

// ReschedulePurchaseEvent keeps the event pending and hides it from
// ClaimPendingOutboxTx until retryAfter has passed on the database clock.
func ReschedulePurchaseEvent(ctx context.Context, db DBTX, id int64, attempt int32, lastErr string, retryAfter time.Duration) error {
	_, err := db.Exec(ctx, `
UPDATE purchase_outbox
SET attempt_count = $2,
    last_error = $3,
    next_retry_at = now() + make_interval(secs => $4),
    updated_at = now()
WHERE id = $1 AND status = 'pending'
`, id, attempt, lastErr, retryAfter.Seconds())
	return err
}

func CountOutbox(ctx context.Context, db DBTX, status string) (int64, error) {
	var n int64
	err := db.QueryRow(ctx, `SELECT count(*) FROM purchase_outbox WHERE status = $1`, status).Scan(&n)
	return n, err
}
