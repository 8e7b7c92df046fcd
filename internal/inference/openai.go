package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/macromini/macromini/internal/model"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o"
	maxTokens      = 800
	temperature    = 0.2
	// maxReplyBytes caps how much of an upstream reply is read.
	maxReplyBytes = 1 << 20
)

const systemPrompt = `You are a nutrition analysis assistant. Analyze the food in the image and return ONLY valid JSON with this exact structure:
{
  "name": "string, food item name",
  "brand": "string or null",
  "serving_size": "string, e.g. '1 cup (240g)'",
  "calories": number,
  "protein_g": number,
  "carbs_g": number,
  "fat_g": number,
  "fiber_g": number,
  "sugar_g": number,
  "sodium_mg": number,
  "ingredients": "string or null, comma-separated if visible",
  "allergens": "string or null, comma-separated",
  "health_notes": "string or null, brief health observations",
  "confidence": number between 0 and 1
}
Be accurate. If unsure, estimate conservatively and lower confidence.`

const userPrompt = "Analyze this food item for nutritional information."

var (
	fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	bareObject = regexp.MustCompile(`(?s)\{.*\}`)
)

// OpenAIConfig configures the OpenAI-compatible adapter.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAI calls a chat-completions endpoint with a vision message.
type OpenAI struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

// NewOpenAI creates a new OpenAI adapter.
func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAI{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger.With("component", "inference"),
	}
}

// New returns the OpenAI adapter when an API key is set and the mock otherwise.
func New(cfg OpenAIConfig, logger *slog.Logger) Adapter {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return NewMock()
	}
	return NewOpenAI(cfg, logger)
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

// Analyze sends image to the model and parses the nutrition JSON out of its reply.
func (o *OpenAI) Analyze(ctx context.Context, image model.ImageInput) (*model.AnalysisResult, error) {
	body, err := json.Marshal(o.buildRequest(image))
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrInferenceFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrInferenceFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInferenceFailed, err)
	}
	defer resp.Body.Close()

	reply, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read reply: %v", ErrInferenceFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		o.logger.Error("inference_upstream_error",
			"status", resp.StatusCode,
			"error", gjson.GetBytes(reply, "error.message").String(),
		)
		return nil, fmt.Errorf("%w: upstream status %d", ErrInferenceFailed, resp.StatusCode)
	}

	content := gjson.GetBytes(reply, "choices.0.message.content").String()
	result, err := ParseResult(content)
	if err != nil {
		o.logger.Warn("inference_reply_unparsable", "error", err)
		return nil, err
	}
	return result, nil
}

func (o *OpenAI) buildRequest(image model.ImageInput) chatRequest {
	url := image.URL
	if image.Base64 != "" {
		mimeType := image.MIMEType
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
		url = "data:" + mimeType + ";base64," + image.Base64
	}

	return chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: []contentPart{
				{Type: "text", Text: userPrompt},
				{Type: "image_url", ImageURL: &imageURL{URL: url}},
			}},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}

// ParseResult extracts the nutrition object from a model reply. The object
// may be bare, surrounded by prose, or inside a fenced code block.
func ParseResult(content string) (*model.AnalysisResult, error) {
	candidate := strings.TrimSpace(content)
	if m := fencedJSON.FindStringSubmatch(candidate); m != nil {
		candidate = strings.TrimSpace(m[1])
	} else if m := bareObject.FindString(candidate); m != "" {
		candidate = m
	}

	if candidate == "" || !gjson.Valid(candidate) {
		return nil, fmt.Errorf("%w: reply is not JSON", ErrInferenceFailed)
	}
	parsed := gjson.Parse(candidate)
	if !parsed.IsObject() || !parsed.Get("name").Exists() {
		return nil, fmt.Errorf("%w: reply is missing the nutrition object", ErrInferenceFailed)
	}

	var result model.AnalysisResult
	if err := json.Unmarshal([]byte(candidate), &result); err != nil {
		return nil, fmt.Errorf("%w: decode reply: %v", ErrInferenceFailed, err)
	}
	result.Normalize()
	return &result, nil
}
