package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/macromini/macromini/internal/metrics"
	"github.com/macromini/macromini/internal/model"
	"github.com/macromini/macromini/internal/repository"
)

// CheckoutStore is the subset of the profile store checkout needs.
type CheckoutStore interface {
	GetProfile(ctx context.Context, id string) (*model.Profile, error)
	SetStripeCustomerID(ctx context.Context, id, customerID string) (bool, error)
}

// CheckoutInput defines input for opening a checkout session.
type CheckoutInput struct {
	UserID string
	Email  string
	// Origin is the caller's site origin used for return URLs. Falls back to
	// the configured frontend URL.
	Origin string
}

// CheckoutConfig holds checkout settings.
type CheckoutConfig struct {
	PriceID     string
	FrontendURL string
}

// CheckoutService opens provider checkout sessions for the paid tier.
type CheckoutService struct {
	store    CheckoutStore
	provider Provider
	cfg      CheckoutConfig
	metrics  metrics.Recorder
	logger   *slog.Logger
}

// NewCheckoutService creates a new CheckoutService. A nil provider disables checkout.
func NewCheckoutService(store CheckoutStore, provider Provider, cfg CheckoutConfig, recorder metrics.Recorder, logger *slog.Logger) *CheckoutService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckoutService{
		store:    store,
		provider: provider,
		cfg:      cfg,
		metrics:  recorder,
		logger:   logger.With("component", "checkout"),
	}
}

// CreateCheckoutSession links a billing customer to the profile if needed and
// opens a subscription checkout for it.
func (s *CheckoutService) CreateCheckoutSession(ctx context.Context, input CheckoutInput) (*Session, error) {
	if s.provider == nil || s.cfg.PriceID == "" {
		return nil, ErrBillingNotConfigured
	}

	session, err := s.createCheckoutSession(ctx, input)
	if err != nil {
		s.metrics.IncCheckoutSession(metrics.OutcomeFailed)
		return nil, err
	}
	s.metrics.IncCheckoutSession(metrics.OutcomeSuccess)
	return session, nil
}

func (s *CheckoutService) createCheckoutSession(ctx context.Context, input CheckoutInput) (*Session, error) {
	profile, err := s.store.GetProfile(ctx, input.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrProfileNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	customerID, err := s.ensureCustomer(ctx, profile, input.Email)
	if err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(strings.TrimSpace(input.Origin), "/")
	if base == "" {
		base = strings.TrimSuffix(s.cfg.FrontendURL, "/")
	}

	session, err := s.provider.CreateCheckoutSession(ctx, SessionRequest{
		UserID:     profile.ID,
		CustomerID: customerID,
		PriceID:    s.cfg.PriceID,
		SuccessURL: base + "/dashboard?upgrade=success",
		CancelURL:  base + "/dashboard?upgrade=cancelled",
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("checkout_session_created",
		"user_id", profile.ID,
		"customer_id", customerID,
		"session_id", session.ID,
	)
	return session, nil
}

// ensureCustomer returns the profile's billing customer, creating and linking
// one when absent. If a concurrent request links first, its customer wins.
func (s *CheckoutService) ensureCustomer(ctx context.Context, profile *model.Profile, email string) (string, error) {
	if id := profile.CustomerID(); id != "" {
		return id, nil
	}

	created, err := s.provider.CreateCustomer(ctx, profile.ID, email)
	if err != nil {
		return "", err
	}

	linked, err := s.store.SetStripeCustomerID(ctx, profile.ID, created)
	if err != nil {
		if errors.Is(err, repository.ErrProfileNotFound) {
			return "", ErrProfileNotFound
		}
		return "", fmt.Errorf("failed to link customer: %w", err)
	}
	if linked {
		s.logger.Info("billing_customer_linked", "user_id", profile.ID, "customer_id", created)
		return created, nil
	}

	current, err := s.store.GetProfile(ctx, profile.ID)
	if err != nil {
		return "", fmt.Errorf("failed to reload profile: %w", err)
	}
	s.logger.Warn("billing_customer_race_lost",
		"user_id", profile.ID,
		"orphaned_customer_id", created,
		"customer_id", current.CustomerID(),
	)
	return current.CustomerID(), nil
}
