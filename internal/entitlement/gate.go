// Package entitlement decides whether a user may run another analysis and
// keeps the per-period usage counter consistent under concurrent requests.
//
// The gate never increments on admission. Callers run the paid work and then
// call Commit, which performs a conditional increment in the store. A request
// whose work fails never commits and so never consumes quota.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/macromini/macromini/internal/metrics"
	"github.com/macromini/macromini/internal/model"
	"github.com/macromini/macromini/internal/repository"
)

// Gate errors.
var (
	ErrProfileNotFound = repository.ErrProfileNotFound
	ErrLimitReached    = errors.New("free tier limit reached")
)

// Defaults used when Config leaves a field zero.
const (
	DefaultFreeLimit = 10
	DefaultPeriod    = 30 * 24 * time.Hour
)

// Reason explains a denial.
type Reason string

// Reason values.
const (
	ReasonNone         Reason = ""
	ReasonLimitReached Reason = "limit_reached"
)

// Decision is the outcome of CheckAndReserve.
type Decision struct {
	Allowed bool
	Reason  Reason
	// Profile is the profile as evaluated, after any period reset.
	Profile *model.Profile
}

// Store is the subset of the profile store the gate reads and writes.
type Store interface {
	GetProfile(ctx context.Context, id string) (*model.Profile, error)
	ResetUsagePeriod(ctx context.Context, id string, observedResetAt, newResetAt time.Time) (bool, error)
	IncrementAnalysesCount(ctx context.Context, id string, freeLimit int) (int, error)
}

// Config tunes the gate.
type Config struct {
	FreeLimit int
	Period    time.Duration
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Gate is the entitlement decision procedure.
type Gate struct {
	store     Store
	freeLimit int
	period    time.Duration
	now       func() time.Time
	metrics   metrics.Recorder
	logger    *slog.Logger
}

// NewGate creates a new Gate.
func NewGate(store Store, cfg Config, recorder metrics.Recorder, logger *slog.Logger) *Gate {
	if cfg.FreeLimit == 0 {
		cfg.FreeLimit = DefaultFreeLimit
	}
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		store:     store,
		freeLimit: cfg.FreeLimit,
		period:    cfg.Period,
		now:       cfg.Now,
		metrics:   recorder,
		logger:    logger.With("component", "entitlement"),
	}
}

// FreeLimit returns the number of analyses a free profile gets per period.
func (g *Gate) FreeLimit() int {
	return g.freeLimit
}

// CheckAndReserve decides whether userID may run one more analysis. It rolls an
// expired period over before evaluating the limit but does not count the request.
func (g *Gate) CheckAndReserve(ctx context.Context, userID string) (Decision, error) {
	profile, err := g.store.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrProfileNotFound) {
			return Decision{}, ErrProfileNotFound
		}
		return Decision{}, fmt.Errorf("failed to load profile: %w", err)
	}

	now := g.now().UTC()
	if profile.PeriodExpired(now) {
		observed := profile.AnalysesResetAt
		next := now.Add(g.period)

		reset, err := g.store.ResetUsagePeriod(ctx, userID, observed, next)
		if err != nil {
			return Decision{}, fmt.Errorf("failed to reset usage period: %w", err)
		}
		if reset {
			g.metrics.IncUsageReset()
			g.logger.Info("usage_period_reset",
				"user_id", userID,
				"previous_reset_at", observed,
				"next_reset_at", next,
			)
		}

		// A lost race means another request already rolled this same period
		// over, so the fresh values are correct either way.
		profile.AnalysesCount = 0
		profile.AnalysesResetAt = next
	}

	if !profile.IsPro() && profile.AnalysesCount >= g.freeLimit {
		g.metrics.IncGateDecision(metrics.OutcomeDenied)
		g.logger.Info("analysis_denied",
			"user_id", userID,
			"count", profile.AnalysesCount,
			"limit", g.freeLimit,
		)
		return Decision{Allowed: false, Reason: ReasonLimitReached, Profile: profile}, nil
	}

	g.metrics.IncGateDecision(metrics.OutcomeAllowed)
	return Decision{Allowed: true, Profile: profile}, nil
}

// Commit records one completed analysis. For free profiles the increment only
// applies while the stored count is below the limit; a commit that loses that
// race returns ErrLimitReached.
func (g *Gate) Commit(ctx context.Context, userID string) (int, error) {
	count, err := g.store.IncrementAnalysesCount(ctx, userID, g.freeLimit)
	switch {
	case err == nil:
		g.metrics.IncCommit(metrics.OutcomeSuccess)
		return count, nil
	case errors.Is(err, repository.ErrCountLimitReached):
		g.metrics.IncCommit(metrics.OutcomeLimitReached)
		g.logger.Warn("commit_limit_reached", "user_id", userID, "limit", g.freeLimit)
		return 0, ErrLimitReached
	case errors.Is(err, repository.ErrProfileNotFound):
		g.metrics.IncCommit(metrics.OutcomeFailed)
		return 0, ErrProfileNotFound
	default:
		g.metrics.IncCommit(metrics.OutcomeFailed)
		return 0, fmt.Errorf("failed to commit usage: %w", err)
	}
}

// Usage returns the quota view for userID without writing. An expired period
// is reported as unused.
func (g *Gate) Usage(ctx context.Context, userID string) (model.UsageSummary, error) {
	profile, err := g.store.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrProfileNotFound) {
			return model.UsageSummary{}, ErrProfileNotFound
		}
		return model.UsageSummary{}, fmt.Errorf("failed to load profile: %w", err)
	}

	now := g.now().UTC()
	if profile.PeriodExpired(now) {
		profile.AnalysesCount = 0
		profile.AnalysesResetAt = now.Add(g.period)
	}

	return g.Summarize(profile), nil
}

// Summarize builds the quota view of an already loaded profile.
func (g *Gate) Summarize(p *model.Profile) model.UsageSummary {
	summary := model.UsageSummary{
		Tier:     p.SubscriptionTier,
		Status:   p.SubscriptionStatus,
		Used:     p.AnalysesCount,
		Limit:    g.freeLimit,
		ResetsAt: p.AnalysesResetAt,
	}
	if p.IsPro() {
		summary.Unlimited = true
		return summary
	}
	summary.Remaining = max(g.freeLimit-p.AnalysesCount, 0)
	return summary
}
