package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PendingPurchases is the Postgres marker store.
type PendingPurchases struct {
	DB *pgxpool.Pool
}

func (p PendingPurchases) Put(ctx context.Context, key, itemID string, ttl time.Duration) error {
	return UpsertPendingPurchase(ctx, p.DB, key, itemID, time.Now().UTC().Add(ttl))
}

func (p PendingPurchases) Get(ctx context.Context, key string) (string, bool, error) {
	return GetPendingPurchase(ctx, p.DB, key)
}

func (p PendingPurchases) Take(ctx context.Context, key string) (string, bool, error) {
	return TakePendingPurchase(ctx, p.DB, key)
}

func UpsertPendingPurchase(ctx context.Context, db DBTX, key, itemID string, expiresAt time.Time) error {
	_, err := db.Exec(ctx, `
INSERT INTO pending_purchases (marker_key, item_id, expires_at)
VALUES ($1, $2, $3)
ON CONFLICT (marker_key)
DO UPDATE SET item_id = EXCLUDED.item_id,
              expires_at = EXCLUDED.expires_at,
              created_at = now()
`, key, itemID, expiresAt)
	return err
}

func GetPendingPurchase(ctx context.Context, db DBTX, key string) (string, bool, error) {
	var value string
	err := db.QueryRow(ctx, `
SELECT item_id FROM pending_purchases
WHERE marker_key = $1 AND expires_at > now()
`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// TakePendingPurchase reads and deletes the marker in one statement. Expired
// markers are deleted too but reported absent.
func TakePendingPurchase(ctx context.Context, db DBTX, key string) (string, bool, error) {
	var (
		itemID string
		live   bool
	)
	err := db.QueryRow(ctx, `
DELETE FROM pending_purchases
WHERE marker_key = $1
RETURNING item_id, expires_at > now()
`, key).Scan(&itemID, &live)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if !live {
		return "", false, nil
	}
	return itemID, true, nil
}

func PurgeExpiredPendingPurchases(ctx context.Context, db DBTX) (int64, error) {
	ct, err := db.Exec(ctx, `DELETE FROM pending_purchases WHERE expires_at <= now()`)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}
