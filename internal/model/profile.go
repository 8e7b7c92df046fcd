// Package model defines domain entities for the application.
package model

import "time"

// Tier is the subscription tier of a profile.
type Tier string

// Tier values.
const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t == TierFree || t == TierPro
}

// SubscriptionStatus mirrors the billing provider's subscription lifecycle.
// It is informational; only the tier gates access.
type SubscriptionStatus string

// SubscriptionStatus values.
const (
	StatusNone      SubscriptionStatus = "none"
	StatusActive    SubscriptionStatus = "active"
	StatusPastDue   SubscriptionStatus = "past_due"
	StatusCancelled SubscriptionStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusNone, StatusActive, StatusPastDue, StatusCancelled:
		return true
	}
	return false
}

// Profile is the per-user row read and written by the entitlement gate
// (usage fields) and the billing event handler (subscription fields).
type Profile struct {
	ID                 string             `json:"id"`
	SubscriptionTier   Tier               `json:"subscription_tier"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"`
	AnalysesCount      int                `json:"analyses_count"`
	AnalysesResetAt    time.Time          `json:"analyses_reset_at"`

	StripeCustomerID             *string    `json:"-"`
	StripeSubscriptionID         *string    `json:"-"`
	SubscriptionCurrentPeriodEnd *time.Time `json:"subscription_current_period_end,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsPro returns true if the profile is on the paid tier.
func (p *Profile) IsPro() bool {
	return p.SubscriptionTier == TierPro
}

// PeriodExpired reports whether the counting period has ended at now.
// The boundary itself still belongs to the current period.
func (p *Profile) PeriodExpired(now time.Time) bool {
	return now.After(p.AnalysesResetAt)
}

// CustomerID returns the billing customer id or "" when none is linked.
func (p *Profile) CustomerID() string {
	if p.StripeCustomerID == nil {
		return ""
	}
	return *p.StripeCustomerID
}

// Clone returns a deep copy so callers can mutate the result freely.
func (p *Profile) Clone() *Profile {
	c := *p
	if p.StripeCustomerID != nil {
		v := *p.StripeCustomerID
		c.StripeCustomerID = &v
	}
	if p.StripeSubscriptionID != nil {
		v := *p.StripeSubscriptionID
		c.StripeSubscriptionID = &v
	}
	if p.SubscriptionCurrentPeriodEnd != nil {
		v := *p.SubscriptionCurrentPeriodEnd
		c.SubscriptionCurrentPeriodEnd = &v
	}
	return &c
}

// NewProfile returns a free-tier profile whose first period ends after period.
func NewProfile(id string, now time.Time, period time.Duration) *Profile {
	now = now.UTC()
	return &Profile{
		ID:                 id,
		SubscriptionTier:   TierFree,
		SubscriptionStatus: StatusNone,
		AnalysesResetAt:    now.Add(period),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// UsageSummary is the quota view shown to clients.
type UsageSummary struct {
	Tier      Tier               `json:"tier"`
	Status    SubscriptionStatus `json:"status"`
	Used      int                `json:"used"`
	Limit     int                `json:"limit"`
	Remaining int                `json:"remaining"`
	Unlimited bool               `json:"unlimited"`
	ResetsAt  time.Time          `json:"resets_at"`
}
