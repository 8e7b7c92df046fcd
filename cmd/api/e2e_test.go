//go:build e2e

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"github.com/macromini/macromini/internal/model"
	"github.com/macromini/macromini/internal/repository"
	"github.com/macromini/macromini/internal/testutil"
)

// TestE2ESmoke drives a running server: it spends a free quota, upgrades the
// profile through a signed webhook, then downgrades it again.
func TestE2ESmoke(t *testing.T) {
	baseURL := envOrDefault("MACROMINI_BASE_URL", "http://localhost:8080")
	dbURL := testutil.RequireEnv(t, "DATABASE_URL")
	secret := testutil.RequireEnv(t, "STRIPE_WEBHOOK_SECRET")

	repo := seedRepository(t, dbURL)
	userID := testutil.UniqueID("e2e-user")
	customerID := testutil.UniqueID("cus_e2e")
	profile := testutil.NewTestProfile(t, userID, time.Now())
	profile.StripeCustomerID = &customerID
	if err := repo.CreateProfile(context.Background(), profile); err != nil {
		t.Fatalf("seed profile: %v", err)
	}

	usage := getUsage(t, baseURL, userID)
	if usage.Used != 0 || usage.Unlimited {
		t.Fatalf("unexpected starting usage: %+v", usage)
	}

	for i := 0; i < usage.Limit; i++ {
		if status := analyze(t, baseURL, userID); status != http.StatusOK {
			t.Fatalf("analysis %d: expected 200, got %d", i+1, status)
		}
	}
	if status := analyze(t, baseURL, userID); status != http.StatusPaymentRequired {
		t.Fatalf("expected 402 after %d analyses, got %d", usage.Limit, status)
	}

	sendEvent(t, baseURL, secret, fmt.Sprintf(`{
		"id": %q, "object": "event", "type": "checkout.session.completed",
		"data": {"object": {"id": "cs_e2e", "customer": %q, "metadata": {"user_id": %q}}}
	}`, testutil.UniqueID("evt"), customerID, userID))

	if got := getUsage(t, baseURL, userID); got.Tier != model.TierPro || !got.Unlimited {
		t.Fatalf("expected pro after checkout, got %+v", got)
	}
	if status := analyze(t, baseURL, userID); status != http.StatusOK {
		t.Fatalf("pro analysis: expected 200, got %d", status)
	}

	sendEvent(t, baseURL, secret, fmt.Sprintf(`{
		"id": %q, "object": "event", "type": "customer.subscription.deleted",
		"data": {"object": {"id": "sub_e2e", "customer": %q, "status": "canceled"}}
	}`, testutil.UniqueID("evt"), customerID))

	got := getUsage(t, baseURL, userID)
	if got.Tier != model.TierFree || got.Status != model.StatusCancelled {
		t.Fatalf("expected cancelled free profile, got %+v", got)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func seedRepository(t *testing.T, dbURL string) *repository.Repository {
	t.Helper()
	repo, err := repository.New(context.Background(), dbURL)
	if err != nil {
		t.Fatalf("connect database: %v", err)
	}
	t.Cleanup(repo.Close)
	return repo
}

func getUsage(t *testing.T, baseURL, userID string) model.UsageSummary {
	t.Helper()
	resp, err := http.Get(baseURL + "/api/v1/usage/" + userID)
	if err != nil {
		t.Fatalf("usage request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("usage: expected 200, got %d: %s", resp.StatusCode, body)
	}

	var summary model.UsageSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		t.Fatalf("decode usage: %v", err)
	}
	return summary
}

func analyze(t *testing.T, baseURL, userID string) int {
	t.Helper()
	body := fmt.Sprintf(`{"user_id":%q,"image_url":"https://cdn.example.com/e2e.jpg"}`, userID)
	resp, err := http.Post(baseURL+"/api/v1/analyze", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("analyze request: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return resp.StatusCode
}

func sendEvent(t *testing.T, baseURL, secret, payload string) {
	t.Helper()
	sp := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})

	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/v1/billing/webhook", bytes.NewReader(sp.Payload))
	if err != nil {
		t.Fatalf("build webhook request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", sp.Header)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("webhook request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("webhook: expected 200, got %d: %s", resp.StatusCode, body)
	}
}
