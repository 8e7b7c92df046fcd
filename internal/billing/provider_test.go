package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripelib "github.com/stripe/stripe-go/v82"
)

func TestStripeProvider_CreateCustomer(t *testing.T) {
	var got *stripelib.CustomerParams
	p := &StripeProvider{
		newCustomer: func(params *stripelib.CustomerParams) (*stripelib.Customer, error) {
			got = params
			return &stripelib.Customer{ID: "cus_new"}, nil
		},
	}

	id, err := p.CreateCustomer(context.Background(), "user-1", "eater@example.com")
	require.NoError(t, err)
	assert.Equal(t, "cus_new", id)
	require.NotNil(t, got)
	assert.Equal(t, "eater@example.com", *got.Email)
	assert.Equal(t, "user-1", got.Metadata["user_id"])
}

func TestStripeProvider_CreateCheckoutSession(t *testing.T) {
	var got *stripelib.CheckoutSessionParams
	p := &StripeProvider{
		newSession: func(params *stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error) {
			got = params
			return &stripelib.CheckoutSession{ID: "cs_1", URL: "https://checkout.stripe.com/c/pay/cs_1"}, nil
		},
	}

	sess, err := p.CreateCheckoutSession(context.Background(), SessionRequest{
		UserID:     "user-1",
		CustomerID: "cus_1",
		PriceID:    "price_pro",
		SuccessURL: "https://app.test/dashboard?upgrade=success",
		CancelURL:  "https://app.test/dashboard?upgrade=cancelled",
	})
	require.NoError(t, err)
	assert.Equal(t, &Session{ID: "cs_1", URL: "https://checkout.stripe.com/c/pay/cs_1"}, sess)

	assert.Equal(t, string(stripelib.CheckoutSessionModeSubscription), *got.Mode)
	assert.Equal(t, "cus_1", *got.Customer)
	require.Len(t, got.LineItems, 1)
	assert.Equal(t, "price_pro", *got.LineItems[0].Price)
	assert.Equal(t, int64(1), *got.LineItems[0].Quantity)
	assert.Equal(t, "user-1", got.Metadata["user_id"])
}

func TestStripeProvider_CreateCheckoutSessionFailures(t *testing.T) {
	t.Run("api error", func(t *testing.T) {
		p := &StripeProvider{
			newSession: func(*stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error) {
				return nil, errors.New("card_declined")
			},
		}
		_, err := p.CreateCheckoutSession(context.Background(), SessionRequest{})
		assert.ErrorIs(t, err, ErrProviderFailed)
	})

	t.Run("empty url", func(t *testing.T) {
		p := &StripeProvider{
			newSession: func(*stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error) {
				return &stripelib.CheckoutSession{ID: "cs_1"}, nil
			},
		}
		_, err := p.CreateCheckoutSession(context.Background(), SessionRequest{})
		assert.ErrorIs(t, err, ErrProviderFailed)
	})
}

func TestStripeProvider_SubscriptionPeriodEnd(t *testing.T) {
	t.Run("from items", func(t *testing.T) {
		p := &StripeProvider{
			getSubscription: func(id string, _ *stripelib.SubscriptionParams) (*stripelib.Subscription, error) {
				assert.Equal(t, "sub_1", id)
				return &stripelib.Subscription{
					ID: id,
					Items: &stripelib.SubscriptionItemList{
						Data: []*stripelib.SubscriptionItem{{CurrentPeriodEnd: 1777593600}},
					},
				}, nil
			},
		}
		end, err := p.SubscriptionPeriodEnd(context.Background(), "sub_1")
		require.NoError(t, err)
		require.NotNil(t, end)
		assert.Equal(t, int64(1777593600), end.Unix())
	})

	t.Run("from raw response", func(t *testing.T) {
		p := &StripeProvider{
			getSubscription: func(id string, _ *stripelib.SubscriptionParams) (*stripelib.Subscription, error) {
				sub := &stripelib.Subscription{ID: id}
				sub.LastResponse = &stripelib.APIResponse{RawJSON: []byte(`{"id":"sub_1","current_period_end":1777593600}`)}
				return sub, nil
			},
		}
		end, err := p.SubscriptionPeriodEnd(context.Background(), "sub_1")
		require.NoError(t, err)
		require.NotNil(t, end)
		assert.Equal(t, int64(1777593600), end.Unix())
	})

	t.Run("none", func(t *testing.T) {
		p := &StripeProvider{
			getSubscription: func(id string, _ *stripelib.SubscriptionParams) (*stripelib.Subscription, error) {
				return &stripelib.Subscription{ID: id}, nil
			},
		}
		end, err := p.SubscriptionPeriodEnd(context.Background(), "sub_1")
		require.NoError(t, err)
		assert.Nil(t, end)
	})

	t.Run("error", func(t *testing.T) {
		p := &StripeProvider{
			getSubscription: func(string, *stripelib.SubscriptionParams) (*stripelib.Subscription, error) {
				return nil, errors.New("resource_missing")
			},
		}
		_, err := p.SubscriptionPeriodEnd(context.Background(), "sub_1")
		assert.ErrorIs(t, err, ErrProviderFailed)
	})
}
