package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/macromini/macromini/internal/model"
	"github.com/macromini/macromini/internal/repository"
)

// RequireEnv returns an environment variable or skips the test if missing.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()
	value := os.Getenv(key)
	if value == "" {
		t.Skipf("%s not set", key)
	}
	return value
}

const advisoryLockID int64 = 420420

// AcquireDBLock grabs a global advisory lock to serialize DB tests.
func AcquireDBLock(ctx context.Context, pool *pgxpool.Pool) (func() error, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", advisoryLockID); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	unlock := func() error {
		defer conn.Release()
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockID); err != nil {
			return fmt.Errorf("release advisory lock: %w", err)
		}
		return nil
	}

	return unlock, nil
}

// ResetSchema runs every embedded down migration in reverse order and then
// every up migration, leaving an empty schema.
func ResetSchema(ctx context.Context, pool *pgxpool.Pool) error {
	migrations, err := repository.Migrations()
	if err != nil {
		return err
	}

	for i := len(migrations) - 1; i >= 0; i-- {
		if migrations[i].Down == "" {
			continue
		}
		if _, err := pool.Exec(ctx, migrations[i].Down); err != nil {
			return fmt.Errorf("apply down migration %s: %w", migrations[i].Version, err)
		}
	}

	for _, m := range migrations {
		if _, err := pool.Exec(ctx, m.Up); err != nil {
			return fmt.Errorf("apply up migration %s: %w", m.Version, err)
		}
	}

	return nil
}

// FlushRedis clears the current Redis database.
func FlushRedis(ctx context.Context, client *redis.Client) error {
	return client.FlushDB(ctx).Err()
}

// ============================================================================
// Test Data Factories
// ============================================================================

// NewTestProfile creates a free profile whose period ends 30 days after now.
func NewTestProfile(t testing.TB, id string, now time.Time) *model.Profile {
	t.Helper()
	return model.NewProfile(id, now, 30*24*time.Hour)
}

// NewTestProProfile creates an active pro profile linked to customerID.
func NewTestProProfile(t testing.TB, id, customerID string, now time.Time) *model.Profile {
	t.Helper()
	p := NewTestProfile(t, id, now)
	p.SubscriptionTier = model.TierPro
	p.SubscriptionStatus = model.StatusActive
	subID := "sub_" + id
	end := now.Add(30 * 24 * time.Hour)
	p.StripeCustomerID = &customerID
	p.StripeSubscriptionID = &subID
	p.SubscriptionCurrentPeriodEnd = &end
	return p
}

// UniqueID generates a unique ID for tests.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
