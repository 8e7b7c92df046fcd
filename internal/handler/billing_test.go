package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"github.com/macromini/macromini/internal/billing"
	"github.com/macromini/macromini/internal/handler/dto"
	"github.com/macromini/macromini/internal/model"
	"github.com/macromini/macromini/internal/testutil"
)

const webhookSecret = "whsec_handler_test"

type stubProvider struct {
	customers  int
	sessionErr error
	lastReq    billing.SessionRequest
}

func (p *stubProvider) CreateCustomer(_ context.Context, userID, _ string) (string, error) {
	p.customers++
	return fmt.Sprintf("cus_%s", userID), nil
}

func (p *stubProvider) CreateCheckoutSession(_ context.Context, req billing.SessionRequest) (*billing.Session, error) {
	if p.sessionErr != nil {
		return nil, p.sessionErr
	}
	p.lastReq = req
	return &billing.Session{ID: "cs_test_42", URL: "https://checkout.stripe.com/c/pay/cs_test_42"}, nil
}

func (p *stubProvider) SubscriptionPeriodEnd(context.Context, string) (*time.Time, error) {
	end := testNow.Add(30 * 24 * time.Hour)
	return &end, nil
}

type memLedger map[string]bool

func (l memLedger) IsEventProcessed(_ context.Context, id string) (bool, error) { return l[id], nil }

func (l memLedger) MarkEventProcessed(_ context.Context, id string) error {
	l[id] = true
	return nil
}

func newBillingHandler(store *testutil.MemoryStore, provider billing.Provider, priceID string) *BillingHandler {
	logger := discardLogger()
	var lookup billing.SubscriptionLookup
	if provider != nil {
		lookup = provider
	}
	processor := billing.NewWebhookProcessor(
		billing.NewVerifier(webhookSecret),
		billing.NewDecoder(lookup),
		billing.NewHandler(store, logger),
		memLedger{},
		nil,
		logger,
	)
	checkout := billing.NewCheckoutService(store, provider, billing.CheckoutConfig{
		PriceID:     priceID,
		FrontendURL: "https://app.macromini.test",
	}, nil, logger)
	return NewBillingHandler(checkout, processor, logger)
}

func postWebhook(h *BillingHandler, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/webhook", strings.NewReader(string(payload)))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h.Webhook(rec, req)
	return rec
}

func signed(t *testing.T, secret, payload string) *stripewebhook.SignedPayload {
	t.Helper()
	return stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
}

const checkoutCompletedEvent = `{
  "id": "evt_checkout_1",
  "object": "event",
  "type": "checkout.session.completed",
  "data": {"object": {
    "id": "cs_test_42",
    "object": "checkout.session",
    "customer": "cus_user-1",
    "subscription": "sub_42",
    "metadata": {"user_id": "user-1"}
  }}
}`

func TestBillingHandler_WebhookUpgradesProfile(t *testing.T) {
	store := testutil.NewMemoryStore(testutil.NewTestProfile(t, "user-1", testNow))
	h := newBillingHandler(store, &stubProvider{}, "price_pro")

	sp := signed(t, webhookSecret, checkoutCompletedEvent)
	rec := postWebhook(h, sp.Payload, sp.Header)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())

	p := store.Profile("user-1")
	assert.Equal(t, model.TierPro, p.SubscriptionTier)
	assert.Equal(t, model.StatusActive, p.SubscriptionStatus)
	require.NotNil(t, p.StripeSubscriptionID)
	assert.Equal(t, "sub_42", *p.StripeSubscriptionID)
	require.NotNil(t, p.SubscriptionCurrentPeriodEnd)
}

func TestBillingHandler_WebhookRedeliveryAcknowledged(t *testing.T) {
	store := testutil.NewMemoryStore(testutil.NewTestProfile(t, "user-1", testNow))
	h := newBillingHandler(store, &stubProvider{}, "price_pro")

	sp := signed(t, webhookSecret, checkoutCompletedEvent)
	require.Equal(t, http.StatusOK, postWebhook(h, sp.Payload, sp.Header).Code)
	writes := store.Writes

	rec := postWebhook(h, sp.Payload, sp.Header)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, writes, store.Writes, "redelivery must not write")
}

func TestBillingHandler_WebhookInvalidSignature(t *testing.T) {
	store := testutil.NewMemoryStore(testutil.NewTestProfile(t, "user-1", testNow))
	h := newBillingHandler(store, &stubProvider{}, "price_pro")

	tests := []struct {
		name      string
		signature func() (string, []byte)
	}{
		{"missing header", func() (string, []byte) { return "", []byte(checkoutCompletedEvent) }},
		{"wrong secret", func() (string, []byte) {
			sp := signed(t, "whsec_other", checkoutCompletedEvent)
			return sp.Header, sp.Payload
		}},
		{"tampered payload", func() (string, []byte) {
			sp := signed(t, webhookSecret, checkoutCompletedEvent)
			return sp.Header, []byte(strings.Replace(checkoutCompletedEvent, "user-1", "user-2", 1))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, payload := tt.signature()
			rec := postWebhook(h, payload, sig)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "INVALID_SIGNATURE", decodeError(t, rec).Code)
		})
	}

	assert.Equal(t, model.TierFree, store.Profile("user-1").SubscriptionTier)
	assert.Zero(t, store.Writes)
}

func TestBillingHandler_WebhookStoreFailureAsksForRetry(t *testing.T) {
	pro := testutil.NewTestProProfile(t, "user-1", "cus_1", testNow)
	store := testutil.NewMemoryStore(pro)
	store.Err = errors.New("db down")
	h := newBillingHandler(store, &stubProvider{}, "price_pro")

	payload := `{"id":"evt_pf_1","object":"event","type":"invoice.payment_failed","data":{"object":{"id":"in_1","customer":"cus_1"}}}`
	sp := signed(t, webhookSecret, payload)
	rec := postWebhook(h, sp.Payload, sp.Header)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestBillingHandler_WebhookUnhandledType(t *testing.T) {
	store := testutil.NewMemoryStore()
	h := newBillingHandler(store, &stubProvider{}, "price_pro")

	payload := `{"id":"evt_x","object":"event","type":"customer.created","data":{"object":{"id":"cus_9"}}}`
	sp := signed(t, webhookSecret, payload)
	rec := postWebhook(h, sp.Payload, sp.Header)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, store.Writes)
}

func postCheckout(h *BillingHandler, body, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/checkout", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	h.Checkout(rec, req)
	return rec
}

func TestBillingHandler_Checkout(t *testing.T) {
	store := testutil.NewMemoryStore(testutil.NewTestProfile(t, "user-1", testNow))
	provider := &stubProvider{}
	h := newBillingHandler(store, provider, "price_pro")

	rec := postCheckout(h, `{"user_id":"user-1","email":"a@b.test"}`, "https://m.macromini.test")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp dto.CheckoutResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "cs_test_42", resp.SessionID)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_42", resp.URL)

	assert.Equal(t, "https://m.macromini.test/dashboard?upgrade=success", provider.lastReq.SuccessURL)
	assert.Equal(t, "cus_user-1", store.Profile("user-1").CustomerID())

	// A second checkout reuses the linked customer.
	rec = postCheckout(h, `{"user_id":"user-1"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, provider.customers)
	assert.Equal(t, "https://app.macromini.test/dashboard?upgrade=cancelled", provider.lastReq.CancelURL)
}

func TestBillingHandler_CheckoutErrors(t *testing.T) {
	tests := []struct {
		name     string
		provider billing.Provider
		priceID  string
		body     string
		wantCode int
		wantErr  string
	}{
		{"malformed body", &stubProvider{}, "price_pro", `not json`, http.StatusBadRequest, "INVALID_JSON"},
		{"missing user", &stubProvider{}, "price_pro", `{"email":"a@b.test"}`, http.StatusBadRequest, "INVALID_USER_ID"},
		{"unknown profile", &stubProvider{}, "price_pro", `{"user_id":"ghost"}`, http.StatusNotFound, "PROFILE_NOT_FOUND"},
		{"no provider", nil, "price_pro", `{"user_id":"user-1"}`, http.StatusServiceUnavailable, "BILLING_NOT_CONFIGURED"},
		{"no price", &stubProvider{}, "", `{"user_id":"user-1"}`, http.StatusServiceUnavailable, "BILLING_NOT_CONFIGURED"},
		{
			"provider failure",
			&stubProvider{sessionErr: fmt.Errorf("%w: card_declined", billing.ErrProviderFailed)},
			"price_pro",
			`{"user_id":"user-1"}`,
			http.StatusBadGateway,
			"PROVIDER_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutil.NewMemoryStore(testutil.NewTestProfile(t, "user-1", testNow))
			h := newBillingHandler(store, tt.provider, tt.priceID)

			rec := postCheckout(h, tt.body, "")
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantErr, decodeError(t, rec).Code)
		})
	}
}
