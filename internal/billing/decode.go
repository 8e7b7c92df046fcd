package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// ErrInvalidSignature is returned when a webhook payload fails verification.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Verifier checks the provider signature header against the endpoint secret.
type Verifier struct {
	secret string
}

// NewVerifier creates a new Verifier.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: strings.TrimSpace(secret)}
}

// Verify authenticates payload and returns the parsed provider event. The
// provider's default timestamp tolerance applies.
func (v *Verifier) Verify(payload []byte, sigHeader string) (stripelib.Event, error) {
	if v.secret == "" || strings.TrimSpace(sigHeader) == "" {
		return stripelib.Event{}, ErrInvalidSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripelib.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return event, nil
}

// SubscriptionLookup resolves the current period end of a subscription.
type SubscriptionLookup interface {
	SubscriptionPeriodEnd(ctx context.Context, subscriptionID string) (*time.Time, error)
}

// Decoder turns verified provider events into Events.
type Decoder struct {
	subscriptions SubscriptionLookup
}

// NewDecoder creates a new Decoder. A nil lookup leaves checkout period ends unset.
func NewDecoder(subscriptions SubscriptionLookup) *Decoder {
	return &Decoder{subscriptions: subscriptions}
}

// checkoutSessionObject is a minimal representation of a checkout.session.
type checkoutSessionObject struct {
	ID           string            `json:"id"`
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

// subscriptionObject is a minimal representation of a subscription. Older API
// versions carry the period end at the top level, newer ones per item.
type subscriptionObject struct {
	ID               string `json:"id"`
	Customer         string `json:"customer"`
	Status           string `json:"status"`
	CurrentPeriodEnd int64  `json:"current_period_end"`
	Items            struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

func (s subscriptionObject) periodEnd() *time.Time {
	ts := s.CurrentPeriodEnd
	for _, item := range s.Items.Data {
		if item.CurrentPeriodEnd > ts {
			ts = item.CurrentPeriodEnd
		}
	}
	return unixTime(ts)
}

type invoiceObject struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
}

// Decode maps a provider event onto the closed Event set. Types outside the set
// decode to Unhandled.
func (d *Decoder) Decode(ctx context.Context, event stripelib.Event) (Event, error) {
	var raw json.RawMessage
	if event.Data != nil {
		raw = event.Data.Raw
	}

	switch string(event.Type) {
	case TypeCheckoutCompleted:
		var session checkoutSessionObject
		if err := json.Unmarshal(raw, &session); err != nil {
			return nil, fmt.Errorf("decode checkout.session: %w", err)
		}
		ev := CheckoutCompleted{
			UserID:         strings.TrimSpace(session.Metadata["user_id"]),
			CustomerID:     session.Customer,
			SubscriptionID: session.Subscription,
		}
		if ev.SubscriptionID != "" && ev.UserID != "" && d.subscriptions != nil {
			end, err := d.subscriptions.SubscriptionPeriodEnd(ctx, ev.SubscriptionID)
			if err != nil {
				return nil, fmt.Errorf("lookup subscription %s: %w", ev.SubscriptionID, err)
			}
			ev.PeriodEnd = end
		}
		return ev, nil

	case TypeSubscriptionUpdated:
		var sub subscriptionObject
		if err := json.Unmarshal(raw, &sub); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		return SubscriptionUpdated{
			CustomerID: sub.Customer,
			Status:     sub.Status,
			PeriodEnd:  sub.periodEnd(),
		}, nil

	case TypeSubscriptionDeleted:
		var sub subscriptionObject
		if err := json.Unmarshal(raw, &sub); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		return SubscriptionDeleted{CustomerID: sub.Customer}, nil

	case TypePaymentFailed:
		var inv invoiceObject
		if err := json.Unmarshal(raw, &inv); err != nil {
			return nil, fmt.Errorf("decode invoice: %w", err)
		}
		return PaymentFailed{CustomerID: inv.Customer}, nil

	default:
		return Unhandled{EventType: string(event.Type)}, nil
	}
}

func unixTime(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
