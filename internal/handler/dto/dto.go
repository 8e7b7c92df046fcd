// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import (
	"github.com/macromini/macromini/internal/model"
)

// AnalyzeRequest represents the request body for an analysis.
// Either ImageBase64 or ImageURL must be set.
type AnalyzeRequest struct {
	UserID      string `json:"user_id"`
	ImageBase64 string `json:"image_base64,omitempty"`
	MIMEType    string `json:"mime_type,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

// ToImageInput converts the request image fields to the model type.
func (r AnalyzeRequest) ToImageInput() model.ImageInput {
	return model.ImageInput{
		Base64:   r.ImageBase64,
		MIMEType: r.MIMEType,
		URL:      r.ImageURL,
	}
}

// AnalyzeResponse represents a completed analysis.
type AnalyzeResponse struct {
	AnalysisID string                `json:"analysis_id"`
	Result     *model.AnalysisResult `json:"result"`
	Usage      model.UsageSummary    `json:"usage"`
}

// CheckoutRequest represents the request body for opening a checkout session.
type CheckoutRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
}

// CheckoutResponse carries the provider session to redirect to.
type CheckoutResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// WebhookAck acknowledges a provider delivery.
type WebhookAck struct {
	Received bool `json:"received"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// LimitReachedResponse is the 402 body. Clients key the upgrade prompt off
// LimitReached.
type LimitReachedResponse struct {
	Error        string `json:"error"`
	Code         string `json:"code"`
	LimitReached bool   `json:"limitReached"`
}
