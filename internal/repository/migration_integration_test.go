//go:build integration

package repository_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/macromini/macromini/internal/repository"
	"github.com/macromini/macromini/internal/testutil"
)

func newMigrationTestEnv(t *testing.T) (context.Context, *pgxpool.Pool, string) {
	t.Helper()
	dbURL := testutil.RequireEnv(t, "DATABASE_URL")
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	t.Cleanup(pool.Close)

	unlock, err := testutil.AcquireDBLock(ctx, pool)
	if err != nil {
		t.Fatalf("failed to acquire db lock: %v", err)
	}
	t.Cleanup(func() { _ = unlock() })

	if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS profiles, schema_migrations`); err != nil {
		t.Fatalf("failed to drop tables: %v", err)
	}
	return ctx, pool, dbURL
}

func TestIntegrationMigrate_AppliesOnce(t *testing.T) {
	ctx, pool, dbURL := newMigrationTestEnv(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	applied, err := repository.Migrate(ctx, dbURL, logger)
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if len(applied) != 1 || applied[0] != "000001_profiles" {
		t.Fatalf("unexpected applied versions: %v", applied)
	}

	applied, err = repository.Migrate(ctx, dbURL, logger)
	if err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("second run should apply nothing, got %v", applied)
	}

	var recorded int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&recorded); err != nil {
		t.Fatalf("count schema_migrations: %v", err)
	}
	if recorded != 1 {
		t.Errorf("expected 1 recorded migration, got %d", recorded)
	}
}

func TestIntegrationMigrate_ProfilesConstraints(t *testing.T) {
	ctx, pool, dbURL := newMigrationTestEnv(t)
	if _, err := repository.Migrate(ctx, dbURL, slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	rejected := []struct {
		name  string
		query string
	}{
		{"unknown tier", `INSERT INTO profiles (id, subscription_tier) VALUES ('c1', 'gold')`},
		{"unknown status", `INSERT INTO profiles (id, subscription_status) VALUES ('c2', 'trialing')`},
		{"negative count", `INSERT INTO profiles (id, analyses_count) VALUES ('c3', -1)`},
	}
	for _, tc := range rejected {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := pool.Exec(ctx, tc.query); err == nil {
				t.Errorf("expected check constraint violation")
			}
		})
	}

	if _, err := pool.Exec(ctx, `INSERT INTO profiles (id, stripe_customer_id) VALUES ('u1', 'cus_1')`); err != nil {
		t.Fatalf("insert u1: %v", err)
	}
	if _, err := pool.Exec(ctx, `INSERT INTO profiles (id, stripe_customer_id) VALUES ('u2', 'cus_1')`); err == nil {
		t.Error("expected unique violation for shared customer id")
	}
	if _, err := pool.Exec(ctx, `INSERT INTO profiles (id) VALUES ('u3'), ('u4')`); err != nil {
		t.Errorf("profiles without customer id must not collide: %v", err)
	}
}
