package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/macromini/macromini/internal/entitlement"
	"github.com/macromini/macromini/internal/model"
)

// UsageReader reads the quota view of a profile.
type UsageReader interface {
	Usage(ctx context.Context, userID string) (model.UsageSummary, error)
}

// UsageHandler serves quota summaries.
type UsageHandler struct {
	usage  UsageReader
	logger *slog.Logger
}

// NewUsageHandler creates a new UsageHandler.
func NewUsageHandler(usage UsageReader, logger *slog.Logger) *UsageHandler {
	return &UsageHandler{
		usage:  usage,
		logger: logger.With("handler", "usage"),
	}
}

// Get handles GET /api/v1/usage/{userID}.
func (h *UsageHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "MISSING_USER_ID", "User ID is required")
		return
	}

	summary, err := h.usage.Usage(r.Context(), userID)
	if err != nil {
		if errors.Is(err, entitlement.ErrProfileNotFound) {
			writeError(w, http.StatusNotFound, "PROFILE_NOT_FOUND", "Profile not found")
			return
		}
		h.logger.Error("internal_error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred, please retry")
		return
	}

	writeJSON(w, http.StatusOK, summary)
}
