package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/macromini/macromini/internal/model"
)

// Common errors for profile repository operations.
var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrProfileExists   = errors.New("profile already exists")
	// ErrCountLimitReached is returned by IncrementAnalysesCount when a free
	// profile is already at the limit.
	ErrCountLimitReached = errors.New("analyses count at limit")
)

const profileColumns = `
	id, subscription_tier, subscription_status, analyses_count, analyses_reset_at,
	stripe_customer_id, stripe_subscription_id, subscription_current_period_end,
	created_at, updated_at
`

// CreateProfile inserts a new profile.
func (r *Repository) CreateProfile(ctx context.Context, p *model.Profile) error {
	query := `
		INSERT INTO profiles (
			id, subscription_tier, subscription_status, analyses_count, analyses_reset_at,
			stripe_customer_id, stripe_subscription_id, subscription_current_period_end,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.pool.Exec(ctx, query,
		p.ID,
		string(p.SubscriptionTier),
		string(p.SubscriptionStatus),
		p.AnalysesCount,
		p.AnalysesResetAt,
		p.StripeCustomerID,
		p.StripeSubscriptionID,
		p.SubscriptionCurrentPeriodEnd,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrProfileExists
		}
		return fmt.Errorf("failed to create profile: %w", err)
	}

	return nil
}

// GetProfile retrieves a profile by user ID.
func (r *Repository) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`

	p, err := scanProfile(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// GetProfileByStripeCustomerID retrieves the profile linked to a billing customer.
func (r *Repository) GetProfileByStripeCustomerID(ctx context.Context, customerID string) (*model.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE stripe_customer_id = $1`

	p, err := scanProfile(r.pool.QueryRow(ctx, query, customerID))
	if err != nil {
		return nil, fmt.Errorf("failed to get profile by customer: %w", err)
	}
	return p, nil
}

// ResetUsagePeriod zeroes the analyses counter and moves the period boundary
// to newResetAt. The write only applies while the stored boundary still equals
// observedResetAt, so two requests racing across the same rollover reset once.
// Returns false when another writer already rolled the period over.
func (r *Repository) ResetUsagePeriod(ctx context.Context, id string, observedResetAt, newResetAt time.Time) (bool, error) {
	query := `
		UPDATE profiles
		SET analyses_count = 0, analyses_reset_at = $3, updated_at = NOW()
		WHERE id = $1 AND analyses_reset_at = $2
	`

	result, err := r.pool.Exec(ctx, query, id, observedResetAt, newResetAt)
	if err != nil {
		return false, fmt.Errorf("failed to reset usage period: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// IncrementAnalysesCount adds one to the stored counter and returns the new value.
// For free profiles the update is conditional on the stored count being below
// freeLimit, evaluated by the database against the current row.
func (r *Repository) IncrementAnalysesCount(ctx context.Context, id string, freeLimit int) (int, error) {
	query := `
		UPDATE profiles
		SET analyses_count = analyses_count + 1, updated_at = NOW()
		WHERE id = $1 AND (subscription_tier = 'pro' OR analyses_count < $2)
		RETURNING analyses_count
	`

	var count int
	err := r.pool.QueryRow(ctx, query, id, freeLimit).Scan(&count)
	if err == nil {
		return count, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("failed to increment analyses count: %w", err)
	}

	exists, err := r.profileExists(ctx, id)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, ErrProfileNotFound
	}
	return 0, ErrCountLimitReached
}

// SetStripeCustomerID links a billing customer to a profile that has none.
// Returns false if the profile was already linked by a concurrent request.
func (r *Repository) SetStripeCustomerID(ctx context.Context, id, customerID string) (bool, error) {
	query := `
		UPDATE profiles
		SET stripe_customer_id = $2, updated_at = NOW()
		WHERE id = $1 AND stripe_customer_id IS NULL
	`

	result, err := r.pool.Exec(ctx, query, id, customerID)
	if err != nil {
		return false, fmt.Errorf("failed to set stripe customer id: %w", err)
	}
	if result.RowsAffected() > 0 {
		return true, nil
	}

	exists, err := r.profileExists(ctx, id)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, ErrProfileNotFound
	}
	return false, nil
}

// ActivateSubscription moves a profile to the pro tier after a completed checkout.
func (r *Repository) ActivateSubscription(ctx context.Context, id, subscriptionID string, periodEnd *time.Time) error {
	query := `
		UPDATE profiles
		SET subscription_tier = 'pro',
			subscription_status = 'active',
			stripe_subscription_id = NULLIF($2, ''),
			subscription_current_period_end = $3,
			updated_at = NOW()
		WHERE id = $1
	`

	return r.execProfileUpdate(ctx, "activate subscription", query, id, subscriptionID, periodEnd)
}

// UpdateSubscription sets status and period end. A nil argument keeps the stored value.
// The tier is never touched here.
func (r *Repository) UpdateSubscription(ctx context.Context, id string, status *model.SubscriptionStatus, periodEnd *time.Time) error {
	query := `
		UPDATE profiles
		SET subscription_status = COALESCE($2, subscription_status),
			subscription_current_period_end = COALESCE($3, subscription_current_period_end),
			updated_at = NOW()
		WHERE id = $1
	`

	var statusArg *string
	if status != nil {
		s := string(*status)
		statusArg = &s
	}

	return r.execProfileUpdate(ctx, "update subscription", query, id, statusArg, periodEnd)
}

// CancelSubscription downgrades a profile to free and clears subscription identifiers.
func (r *Repository) CancelSubscription(ctx context.Context, id string) error {
	query := `
		UPDATE profiles
		SET subscription_tier = 'free',
			subscription_status = 'cancelled',
			stripe_subscription_id = NULL,
			subscription_current_period_end = NULL,
			updated_at = NOW()
		WHERE id = $1
	`

	return r.execProfileUpdate(ctx, "cancel subscription", query, id)
}

// MarkPastDue flags a failed payment without revoking the tier.
func (r *Repository) MarkPastDue(ctx context.Context, id string) error {
	query := `
		UPDATE profiles
		SET subscription_status = 'past_due', updated_at = NOW()
		WHERE id = $1
	`

	return r.execProfileUpdate(ctx, "mark past due", query, id)
}

func (r *Repository) execProfileUpdate(ctx context.Context, op, query string, args ...any) error {
	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if result.RowsAffected() == 0 {
		return ErrProfileNotFound
	}
	return nil
}

func (r *Repository) profileExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM profiles WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check profile: %w", err)
	}
	return exists, nil
}

// scanProfile scans a single row into a Profile model.
func scanProfile(row pgx.Row) (*model.Profile, error) {
	var p model.Profile
	var tier, status string

	err := row.Scan(
		&p.ID,
		&tier,
		&status,
		&p.AnalysesCount,
		&p.AnalysesResetAt,
		&p.StripeCustomerID,
		&p.StripeSubscriptionID,
		&p.SubscriptionCurrentPeriodEnd,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}

	p.SubscriptionTier = model.Tier(tier)
	p.SubscriptionStatus = model.SubscriptionStatus(status)
	return &p, nil
}
