package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/flashtag/internal/logger"
)

// VLMService sends one image-plus-prompt request to an OpenAI-compatible
// chat completions endpoint. It does not retry.
type VLMService struct {
	client   *resty.Client
	endpoint string
}

// VLMConfig holds configuration for VLM service.
type VLMConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// NewVLMService creates a new VLM service.
// Parameters:
//   - cfg: API key, base URL and request timeout.
//
// Returns:
//   - *VLMService: initialized VLM client wrapper.
func NewVLMService(cfg *VLMConfig) *VLMService {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(timeout)

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &VLMService{
		client:   client,
		endpoint: baseURL + "/chat/completions",
	}
}

// VisionRequest is one call to a vision model.
type VisionRequest struct {
	ImageURL  string
	Prompt    string
	Model     string
	MaxTokens int
}

// Usage is the token accounting reported by the provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// VisionResponse keeps the raw envelope next to the fields the analyzer reads.
type VisionResponse struct {
	Raw     json.RawMessage
	Content string
	Usage   Usage
	Model   string
}

// OpenAI-compatible Chat Completion API request/response structures
type openAIRequest struct {
	Model     string          `json:"model"`
	Messages  []openAIMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens"`
}

type openAIMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type openAITextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type openAIImageContent struct {
	Type     string         `json:"type"`
	ImageURL openAIImageURL `json:"image_url"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// Execute performs a single vision request.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - req: image URL, prompt, model and max tokens.
//
// Returns:
//   - *VisionResponse: envelope with content of the first choice (empty if none).
//   - error: transport failure or *UpstreamError on a non-2xx status.
func (s *VLMService) Execute(ctx context.Context, req VisionRequest) (*VisionResponse, error) {
	if strings.HasPrefix(req.ImageURL, "data:") {
		logger.With(logger.Fields{
			logger.FieldModel: req.Model,
			logger.FieldSize:  len(req.ImageURL),
		}).Error(ctx, "Image passed inline as data URL, prompt tokens will be inflated")
	}

	body := openAIRequest{
		Model: req.Model,
		Messages: []openAIMessage{
			{
				Role: "user",
				Content: []interface{}{
					openAITextContent{Type: "text", Text: req.Prompt},
					openAIImageContent{Type: "image_url", ImageURL: openAIImageURL{URL: req.ImageURL}},
				},
			},
		},
		MaxTokens: req.MaxTokens,
	}

	start := time.Now()
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to call VLM API: %w", err)
	}

	raw := httpResp.Body()
	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		return nil, &UpstreamError{
			Service:    "vision",
			Model:      req.Model,
			StatusCode: httpResp.StatusCode(),
			Body:       string(raw),
		}
	}

	var resp openAIResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode VLM response: %w", err)
	}

	out := &VisionResponse{
		Raw:   json.RawMessage(raw),
		Usage: resp.Usage,
		Model: req.Model,
	}
	if len(resp.Choices) > 0 {
		out.Content = resp.Choices[0].Message.Content
	}

	logger.With(logger.Fields{
		logger.FieldModel:       req.Model,
		logger.FieldDurationMs:  time.Since(start).Milliseconds(),
		logger.FieldTotalTokens: resp.Usage.TotalTokens,
		logger.FieldSize:        len(out.Content),
	}).Debug(ctx, "Vision request completed")

	return out, nil
}
