// Package billing applies payment provider events to profiles and opens
// checkout sessions for the paid tier.
package billing

import (
	"time"

	"github.com/macromini/macromini/internal/model"
)

// Provider event types this package acts on.
const (
	TypeCheckoutCompleted   = "checkout.session.completed"
	TypeSubscriptionUpdated = "customer.subscription.updated"
	TypeSubscriptionDeleted = "customer.subscription.deleted"
	TypePaymentFailed       = "invoice.payment_failed"
)

// Event is one decoded provider event. The set of implementations is closed.
type Event interface {
	// Type returns the provider event type string.
	Type() string
	isEvent()
}

// CheckoutCompleted upgrades the user named in the session metadata.
type CheckoutCompleted struct {
	UserID         string
	CustomerID     string
	SubscriptionID string
	PeriodEnd      *time.Time
}

// SubscriptionUpdated carries a provider status change for a customer.
type SubscriptionUpdated struct {
	CustomerID string
	Status     string
	PeriodEnd  *time.Time
}

// SubscriptionDeleted ends the subscription of a customer.
type SubscriptionDeleted struct {
	CustomerID string
}

// PaymentFailed marks a customer's subscription as past due.
type PaymentFailed struct {
	CustomerID string
}

// Unhandled is any event type outside the set above. It is acknowledged and ignored.
type Unhandled struct {
	EventType string
}

func (CheckoutCompleted) Type() string   { return TypeCheckoutCompleted }
func (SubscriptionUpdated) Type() string { return TypeSubscriptionUpdated }
func (SubscriptionDeleted) Type() string { return TypeSubscriptionDeleted }
func (PaymentFailed) Type() string       { return TypePaymentFailed }
func (u Unhandled) Type() string         { return u.EventType }

func (CheckoutCompleted) isEvent()   {}
func (SubscriptionUpdated) isEvent() {}
func (SubscriptionDeleted) isEvent() {}
func (PaymentFailed) isEvent()       {}
func (Unhandled) isEvent()           {}

// MapStatus translates a provider subscription status to the stored status.
// The second result is false for statuses that should leave the stored value alone.
func MapStatus(providerStatus string) (model.SubscriptionStatus, bool) {
	switch providerStatus {
	case "active", "trialing":
		return model.StatusActive, true
	case "past_due", "unpaid", "incomplete":
		return model.StatusPastDue, true
	case "canceled", "incomplete_expired":
		return model.StatusCancelled, true
	default:
		return "", false
	}
}
