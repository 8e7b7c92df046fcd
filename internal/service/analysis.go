// Package service provides business logic for the application.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/macromini/macromini/internal/entitlement"
	"github.com/macromini/macromini/internal/inference"
	"github.com/macromini/macromini/internal/metrics"
	"github.com/macromini/macromini/internal/model"
)

// Service errors.
var (
	ErrInvalidImage    = errors.New("invalid image")
	ErrInvalidUserID   = errors.New("invalid user id")
	ErrLimitReached    = entitlement.ErrLimitReached
	ErrProfileNotFound = entitlement.ErrProfileNotFound
	ErrInferenceFailed = inference.ErrInferenceFailed
)

const (
	maxUserIDLength   = 128
	maxImageURLLength = 2048
)

var allowedMIMETypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/webp": true,
	"image/heic": true,
	"image/heif": true,
}

// Gate is the entitlement surface the service drives.
type Gate interface {
	CheckAndReserve(ctx context.Context, userID string) (entitlement.Decision, error)
	Commit(ctx context.Context, userID string) (int, error)
	Summarize(p *model.Profile) model.UsageSummary
}

// AnalysisService runs one metered analysis: check, infer, commit.
type AnalysisService struct {
	gate    Gate
	adapter inference.Adapter
	metrics metrics.Recorder
	logger  *slog.Logger
}

// NewAnalysisService creates a new AnalysisService.
func NewAnalysisService(gate Gate, adapter inference.Adapter, recorder metrics.Recorder, logger *slog.Logger) *AnalysisService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalysisService{
		gate:    gate,
		adapter: adapter,
		metrics: recorder,
		logger:  logger.With("component", "analysis"),
	}
}

// AnalyzeInput defines input for an analysis request.
type AnalyzeInput struct {
	UserID string
	Image  model.ImageInput
}

// AnalysisOutcome is a completed, counted analysis.
type AnalysisOutcome struct {
	ID     string
	Result *model.AnalysisResult
	Usage  model.UsageSummary
}

// Analyze validates input, asks the gate, runs inference and commits the
// usage. Quota is consumed only when inference succeeds.
func (s *AnalysisService) Analyze(ctx context.Context, input AnalyzeInput) (*AnalysisOutcome, error) {
	if err := validateUserID(input.UserID); err != nil {
		return nil, err
	}
	image, err := normalizeImage(input.Image)
	if err != nil {
		return nil, err
	}

	decision, err := s.gate.CheckAndReserve(ctx, input.UserID)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, ErrLimitReached
	}

	start := time.Now()
	result, err := s.adapter.Analyze(ctx, image)
	s.metrics.ObserveInferenceDuration(time.Since(start))
	if err != nil {
		s.metrics.IncInference(metrics.OutcomeFailed)
		s.logger.Error("inference_failed", "user_id", input.UserID, "error", err)
		if errors.Is(err, ErrInferenceFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInferenceFailed, err)
	}
	s.metrics.IncInference(metrics.OutcomeSuccess)

	count, err := s.gate.Commit(ctx, input.UserID)
	if err != nil {
		// The estimate is discarded when the commit loses a race at the limit.
		return nil, err
	}

	profile := decision.Profile.Clone()
	profile.AnalysesCount = count
	outcome := &AnalysisOutcome{
		ID:     ulid.Make().String(),
		Result: result,
		Usage:  s.gate.Summarize(profile),
	}

	s.logger.Info("analysis_completed",
		"user_id", input.UserID,
		"analysis_id", outcome.ID,
		"count", count,
		"confidence", result.Confidence,
	)
	return outcome, nil
}

func validateUserID(id string) error {
	if strings.TrimSpace(id) == "" || len(id) > maxUserIDLength {
		return ErrInvalidUserID
	}
	return nil
}

// normalizeImage checks that exactly one usable image reference is present.
// Inline data wins over a URL when both are sent.
func normalizeImage(image model.ImageInput) (model.ImageInput, error) {
	if image.Base64 != "" {
		mimeType := strings.ToLower(strings.TrimSpace(image.MIMEType))
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
		if !allowedMIMETypes[mimeType] {
			return model.ImageInput{}, fmt.Errorf("%w: unsupported mime type %q", ErrInvalidImage, image.MIMEType)
		}
		return model.ImageInput{Base64: image.Base64, MIMEType: mimeType}, nil
	}

	if image.URL == "" {
		return model.ImageInput{}, fmt.Errorf("%w: image_base64 or image_url is required", ErrInvalidImage)
	}
	if len(image.URL) > maxImageURLLength {
		return model.ImageInput{}, fmt.Errorf("%w: image_url too long", ErrInvalidImage)
	}
	u, err := url.Parse(image.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return model.ImageInput{}, fmt.Errorf("%w: image_url must be an http(s) URL", ErrInvalidImage)
	}
	return model.ImageInput{URL: image.URL}, nil
}
