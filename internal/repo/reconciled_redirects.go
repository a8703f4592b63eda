package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"storefront/internal/domain"
)

var ErrRedirectNotClaimed = errors.New("redirect not claimed")

// RedirectLedger is the Postgres ledger backend.
type RedirectLedger struct {
	DB *pgxpool.Pool
}

func (l RedirectLedger) Claim(ctx context.Context, fp string) (bool, error) {
	return TryClaimRedirect(ctx, l.DB, fp)
}

func (l RedirectLedger) Settle(ctx context.Context, fp string, v domain.Verdict) error {
	return SettleRedirect(ctx, l.DB, fp, v)
}

func (l RedirectLedger) Settled(ctx context.Context, fp string) (domain.Verdict, bool, error) {
	return SettledRedirect(ctx, l.DB, fp)
}

// TryClaimRedirect records fp exactly once.
// Returns true only for the first caller (idempotency gate).
func TryClaimRedirect(ctx context.Context, db DBTX, fp string) (bool, error) {
	ct, err := db.Exec(ctx, `
INSERT INTO reconciled_redirects (fingerprint)
VALUES ($1)
ON CONFLICT (fingerprint) DO NOTHING
`, fp)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func SettleRedirect(ctx context.Context, db DBTX, fp string, v domain.Verdict) error {
	if err := v.Valid(); err != nil {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	var itemID *string
	if v.Item != nil {
		itemID = &v.Item.ID
	}

	ct, err := db.Exec(ctx, `
UPDATE reconciled_redirects
SET verdict_kind = $2,
    item_id = $3,
    verdict = $4::jsonb,
    settled_at = now()
WHERE fingerprint = $1
  AND settled_at IS NULL
`, fp, string(v.Kind), itemID, string(b))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrRedirectNotClaimed, fp)
	}
	return nil
}

func SettledRedirect(ctx context.Context, db DBTX, fp string) (domain.Verdict, bool, error) {
	var raw []byte
	err := db.QueryRow(ctx, `
SELECT verdict
FROM reconciled_redirects
WHERE fingerprint = $1
  AND settled_at IS NOT NULL
`, fp).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Verdict{}, false, nil
	}
	if err != nil {
		return domain.Verdict{}, false, err
	}

	var v domain.Verdict
	if err := json.Unmarshal(raw, &v); err != nil {
		return domain.Verdict{}, false, err
	}
	if err := v.Valid(); err != nil {
		return domain.Verdict{}, false, err
	}
	return v, true, nil
}

// PurgeStaleRedirects forgets fingerprints claimed more than ttl ago, matching
// the expiry the Redis ledger gets from its key TTL.
func PurgeStaleRedirects(ctx context.Context, db DBTX, ttl time.Duration) (int64, error) {
	ct, err := db.Exec(ctx, `
DELETE FROM reconciled_redirects
WHERE claimed_at < now() - make_interval(secs => $1)
`, ttl.Seconds())
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}
