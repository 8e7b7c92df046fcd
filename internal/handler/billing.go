package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/macromini/macromini/internal/billing"
	"github.com/macromini/macromini/internal/handler/dto"
)

// maxWebhookBytes bounds a provider delivery.
const maxWebhookBytes = 64 << 10

// BillingHandler handles checkout and provider webhook endpoints.
type BillingHandler struct {
	checkout *billing.CheckoutService
	webhooks *billing.WebhookProcessor
	logger   *slog.Logger
}

// NewBillingHandler creates a new BillingHandler.
func NewBillingHandler(checkout *billing.CheckoutService, webhooks *billing.WebhookProcessor, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{
		checkout: checkout,
		webhooks: webhooks,
		logger:   logger.With("handler", "billing"),
	}
}

// Webhook handles POST /api/v1/billing/webhook.
// Any non-2xx answer makes the provider redeliver, so only transient store
// failures return 500.
func (h *BillingHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Could not read request body")
		return
	}

	result, err := h.webhooks.Process(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			h.logger.Warn("webhook_signature_rejected", "error", err)
			writeError(w, http.StatusBadRequest, "INVALID_SIGNATURE", "Invalid signature")
			return
		}
		h.logger.Error("webhook_processing_failed",
			"event_id", result.EventID,
			"type", result.EventType,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Webhook processing failed")
		return
	}

	h.logger.Info("webhook_processed",
		"event_id", result.EventID,
		"type", result.EventType,
		"outcome", result.Outcome,
		"duplicate", result.Duplicate,
	)
	writeJSON(w, http.StatusOK, dto.WebhookAck{Received: true})
}

// Checkout handles POST /api/v1/billing/checkout.
func (h *BillingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req dto.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "INVALID_USER_ID", "user_id is required")
		return
	}

	session, err := h.checkout.CreateCheckoutSession(r.Context(), billing.CheckoutInput{
		UserID: req.UserID,
		Email:  req.Email,
		Origin: r.Header.Get("Origin"),
	})
	if err != nil {
		h.handleCheckoutError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.CheckoutResponse{
		SessionID: session.ID,
		URL:       session.URL,
	})
}

func (h *BillingHandler) handleCheckoutError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, billing.ErrBillingNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "BILLING_NOT_CONFIGURED", "Billing is not configured")
	case errors.Is(err, billing.ErrProfileNotFound):
		writeError(w, http.StatusNotFound, "PROFILE_NOT_FOUND", "Profile not found")
	case errors.Is(err, billing.ErrProviderFailed):
		h.logger.Error("checkout_provider_failed", "error", err)
		writeError(w, http.StatusBadGateway, "PROVIDER_FAILED", "Payment provider request failed")
	default:
		h.logger.Error("internal_error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred, please retry")
	}
}
