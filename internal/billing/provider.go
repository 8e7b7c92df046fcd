package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	stripelib "github.com/stripe/stripe-go/v82"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/subscription"
)

// Provider errors.
var (
	ErrBillingNotConfigured = errors.New("billing not configured")
	ErrProviderFailed       = errors.New("billing provider request failed")
)

// SessionRequest describes a subscription checkout session.
type SessionRequest struct {
	UserID     string
	CustomerID string
	PriceID    string
	SuccessURL string
	CancelURL  string
}

// Session is a created checkout session.
type Session struct {
	ID  string `json:"session_id"`
	URL string `json:"url"`
}

// Provider is the payment provider surface used by checkout and decoding.
type Provider interface {
	SubscriptionLookup
	CreateCustomer(ctx context.Context, userID, email string) (string, error)
	CreateCheckoutSession(ctx context.Context, req SessionRequest) (*Session, error)
}

// StripeProvider implements Provider against the Stripe API.
type StripeProvider struct {
	newCustomer     func(params *stripelib.CustomerParams) (*stripelib.Customer, error)
	newSession      func(params *stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error)
	getSubscription func(id string, params *stripelib.SubscriptionParams) (*stripelib.Subscription, error)
}

// NewStripeProvider configures the Stripe client with secretKey.
func NewStripeProvider(secretKey string) *StripeProvider {
	stripelib.Key = strings.TrimSpace(secretKey)
	return &StripeProvider{
		newCustomer:     customer.New,
		newSession:      stripesession.New,
		getSubscription: subscription.Get,
	}
}

// CreateCustomer creates a customer tagged with the user id.
func (p *StripeProvider) CreateCustomer(ctx context.Context, userID, email string) (string, error) {
	params := &stripelib.CustomerParams{}
	params.Context = ctx
	if email != "" {
		params.Email = stripelib.String(email)
	}
	params.AddMetadata("user_id", userID)

	cust, err := p.newCustomer(params)
	if err != nil {
		return "", fmt.Errorf("%w: create customer: %v", ErrProviderFailed, err)
	}
	return cust.ID, nil
}

// CreateCheckoutSession opens a subscription-mode checkout for one unit of req.PriceID.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req SessionRequest) (*Session, error) {
	params := &stripelib.CheckoutSessionParams{
		Mode:     stripelib.String(string(stripelib.CheckoutSessionModeSubscription)),
		Customer: stripelib.String(req.CustomerID),
		LineItems: []*stripelib.CheckoutSessionLineItemParams{
			{
				Price:    stripelib.String(req.PriceID),
				Quantity: stripelib.Int64(1),
			},
		},
		SuccessURL: stripelib.String(req.SuccessURL),
		CancelURL:  stripelib.String(req.CancelURL),
	}
	params.Context = ctx
	params.AddMetadata("user_id", req.UserID)

	sess, err := p.newSession(params)
	if err != nil {
		return nil, fmt.Errorf("%w: create checkout session: %v", ErrProviderFailed, err)
	}
	if sess == nil || strings.TrimSpace(sess.URL) == "" {
		return nil, fmt.Errorf("%w: checkout session has no url", ErrProviderFailed)
	}
	return &Session{ID: sess.ID, URL: sess.URL}, nil
}

// SubscriptionPeriodEnd fetches a subscription and returns the end of its
// current billing period, or nil when the provider reports none.
func (p *StripeProvider) SubscriptionPeriodEnd(ctx context.Context, subscriptionID string) (*time.Time, error) {
	params := &stripelib.SubscriptionParams{}
	params.Context = ctx

	sub, err := p.getSubscription(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("%w: get subscription: %v", ErrProviderFailed, err)
	}

	var ts int64
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item != nil && item.CurrentPeriodEnd > ts {
				ts = item.CurrentPeriodEnd
			}
		}
	}
	// Accounts pinned to older API versions still return it at the top level.
	if ts == 0 && sub.LastResponse != nil {
		ts = gjson.GetBytes(sub.LastResponse.RawJSON, "current_period_end").Int()
	}
	return unixTime(ts), nil
}
