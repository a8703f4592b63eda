package repo

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}

	// safety: refuse running tests on the service database
	if strings.Contains(dsn, "/storefront?") || strings.HasSuffix(dsn, "/storefront") {
		t.Fatalf("refusing to run tests on dev database DSN: %s", dsn)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	return pool
}

func resetDB(t *testing.T, db DBTX) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := db.Exec(ctx, `
TRUNCATE TABLE
  purchase_outbox,
  reconciled_redirects,
  pending_purchases
RESTART IDENTITY;
`)
	if err != nil {
		t.Fatalf("resetDB truncate: %v", err)
	}
}
