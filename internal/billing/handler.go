package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/macromini/macromini/internal/model"
	"github.com/macromini/macromini/internal/repository"
)

// ErrProfileNotFound is the store's not-found error.
var ErrProfileNotFound = repository.ErrProfileNotFound

// Outcome reports what Apply did with an event.
type Outcome string

// Outcome values.
const (
	OutcomeApplied Outcome = "applied"
	OutcomeIgnored Outcome = "ignored"
)

// Store is the subset of the profile store the handler writes. It only touches
// subscription columns.
type Store interface {
	GetProfileByStripeCustomerID(ctx context.Context, customerID string) (*model.Profile, error)
	ActivateSubscription(ctx context.Context, id, subscriptionID string, periodEnd *time.Time) error
	UpdateSubscription(ctx context.Context, id string, status *model.SubscriptionStatus, periodEnd *time.Time) error
	CancelSubscription(ctx context.Context, id string) error
	MarkPastDue(ctx context.Context, id string) error
}

// Handler transitions profile subscription state in response to events.
type Handler struct {
	store  Store
	logger *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(store Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, logger: logger.With("component", "billing")}
}

// Apply performs the transition for ev. Events that reference no known
// profile are ignored, not failed, so the provider stops redelivering them.
func (h *Handler) Apply(ctx context.Context, ev Event) (Outcome, error) {
	switch e := ev.(type) {
	case CheckoutCompleted:
		return h.applyCheckoutCompleted(ctx, e)
	case SubscriptionUpdated:
		return h.applySubscriptionUpdated(ctx, e)
	case SubscriptionDeleted:
		return h.applySubscriptionDeleted(ctx, e)
	case PaymentFailed:
		return h.applyPaymentFailed(ctx, e)
	case Unhandled:
		h.logger.Info("billing_event_unhandled", "type", e.EventType)
		return OutcomeIgnored, nil
	default:
		return "", fmt.Errorf("unsupported billing event %T", ev)
	}
}

func (h *Handler) applyCheckoutCompleted(ctx context.Context, e CheckoutCompleted) (Outcome, error) {
	if e.UserID == "" {
		h.logger.Warn("checkout_completed_without_user", "customer_id", e.CustomerID)
		return OutcomeIgnored, nil
	}

	err := h.store.ActivateSubscription(ctx, e.UserID, e.SubscriptionID, e.PeriodEnd)
	if errors.Is(err, repository.ErrProfileNotFound) {
		h.logger.Warn("checkout_completed_unknown_user", "user_id", e.UserID)
		return OutcomeIgnored, nil
	}
	if err != nil {
		return "", fmt.Errorf("activate subscription: %w", err)
	}

	h.logger.Info("subscription_activated",
		"user_id", e.UserID,
		"subscription_id", e.SubscriptionID,
	)
	return OutcomeApplied, nil
}

func (h *Handler) applySubscriptionUpdated(ctx context.Context, e SubscriptionUpdated) (Outcome, error) {
	profile, ok, err := h.resolve(ctx, e.CustomerID)
	if err != nil {
		return "", err
	}
	if !ok {
		return OutcomeIgnored, nil
	}

	var status *model.SubscriptionStatus
	if mapped, known := MapStatus(e.Status); known {
		status = &mapped
	} else {
		h.logger.Info("subscription_status_unmapped", "user_id", profile.ID, "provider_status", e.Status)
	}

	// Tier stays as is; only the checkout and deletion arms move it.
	if err := h.store.UpdateSubscription(ctx, profile.ID, status, e.PeriodEnd); err != nil {
		return "", fmt.Errorf("update subscription: %w", err)
	}

	h.logger.Info("subscription_updated", "user_id", profile.ID, "provider_status", e.Status)
	return OutcomeApplied, nil
}

func (h *Handler) applySubscriptionDeleted(ctx context.Context, e SubscriptionDeleted) (Outcome, error) {
	profile, ok, err := h.resolve(ctx, e.CustomerID)
	if err != nil {
		return "", err
	}
	if !ok {
		return OutcomeIgnored, nil
	}

	if err := h.store.CancelSubscription(ctx, profile.ID); err != nil {
		return "", fmt.Errorf("cancel subscription: %w", err)
	}

	h.logger.Info("subscription_cancelled", "user_id", profile.ID)
	return OutcomeApplied, nil
}

func (h *Handler) applyPaymentFailed(ctx context.Context, e PaymentFailed) (Outcome, error) {
	profile, ok, err := h.resolve(ctx, e.CustomerID)
	if err != nil {
		return "", err
	}
	if !ok {
		return OutcomeIgnored, nil
	}

	if err := h.store.MarkPastDue(ctx, profile.ID); err != nil {
		return "", fmt.Errorf("mark past due: %w", err)
	}

	h.logger.Warn("payment_failed", "user_id", profile.ID)
	return OutcomeApplied, nil
}

// resolve finds the profile for a billing customer. ok is false when no
// profile is linked.
func (h *Handler) resolve(ctx context.Context, customerID string) (*model.Profile, bool, error) {
	if customerID == "" {
		return nil, false, nil
	}

	profile, err := h.store.GetProfileByStripeCustomerID(ctx, customerID)
	if errors.Is(err, repository.ErrProfileNotFound) {
		h.logger.Info("billing_customer_unknown", "customer_id", customerID)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup profile by customer: %w", err)
	}
	return profile, true, nil
}
