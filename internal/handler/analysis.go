package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/macromini/macromini/internal/handler/dto"
	"github.com/macromini/macromini/internal/service"
)

// AnalysisHandler handles analysis requests.
type AnalysisHandler struct {
	svc    *service.AnalysisService
	logger *slog.Logger
}

// NewAnalysisHandler creates a new AnalysisHandler.
func NewAnalysisHandler(svc *service.AnalysisService, logger *slog.Logger) *AnalysisHandler {
	return &AnalysisHandler{
		svc:    svc,
		logger: logger.With("handler", "analysis"),
	}
}

// Analyze handles POST /api/v1/analyze.
func (h *AnalysisHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req dto.AnalyzeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	outcome, err := h.svc.Analyze(r.Context(), service.AnalyzeInput{
		UserID: req.UserID,
		Image:  req.ToImageInput(),
	})
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.AnalyzeResponse{
		AnalysisID: outcome.ID,
		Result:     outcome.Result,
		Usage:      outcome.Usage,
	})
}

// handleServiceError maps service errors to HTTP responses.
func (h *AnalysisHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrLimitReached):
		writeJSON(w, http.StatusPaymentRequired, dto.LimitReachedResponse{
			Error:        "Free tier limit reached",
			Code:         "LIMIT_REACHED",
			LimitReached: true,
		})
	case errors.Is(err, service.ErrProfileNotFound):
		writeError(w, http.StatusNotFound, "PROFILE_NOT_FOUND", "Profile not found")
	case errors.Is(err, service.ErrInvalidUserID):
		writeError(w, http.StatusBadRequest, "INVALID_USER_ID", "user_id is required")
	case errors.Is(err, service.ErrInvalidImage):
		writeError(w, http.StatusBadRequest, "INVALID_IMAGE", err.Error())
	case errors.Is(err, service.ErrInferenceFailed):
		writeError(w, http.StatusBadGateway, "INFERENCE_FAILED", "Analysis failed, please try again")
	default:
		h.logger.Error("internal_error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred, please retry")
	}
}
