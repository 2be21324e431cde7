package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/sashabaranov/go-openai"
	"github.com/timmy/flashtag/internal/config"
)

const (
	jinaEndpoint = "https://api.jina.ai/v1/embeddings"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingService handles text embedding generation.
// OpenAI goes through go-openai; Jina and other OpenAI-compatible hosts use resty.
type EmbeddingService struct {
	provider   string
	model      string
	dimensions int

	openai   *openai.Client
	client   *resty.Client
	endpoint string
}

// EmbeddingConfig holds configuration for embedding service
type EmbeddingConfig struct {
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	Dimensions int
}

// NewEmbeddingService creates a new embedding service
func NewEmbeddingService(cfg *EmbeddingConfig) *EmbeddingService {
	s := &EmbeddingService{
		provider:   cfg.Provider,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	switch cfg.Provider {
	case config.EmbeddingProviderOpenAI:
		oc := openai.DefaultConfig(cfg.APIKey)
		if baseURL != "" {
			oc.BaseURL = baseURL
		}
		s.openai = openai.NewClientWithConfig(oc)
		return s
	case config.EmbeddingProviderJina:
		s.endpoint = jinaEndpoint
		if baseURL != "" {
			s.endpoint = baseURL + "/embeddings"
		}
	default:
		s.endpoint = baseURL + "/embeddings"
	}

	s.client = resty.New()
	s.client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	s.client.SetHeader("Content-Type", "application/json")
	return s
}

// GetModel returns the model name being used
func (s *EmbeddingService) GetModel() string {
	return s.model
}

// Dimensions returns the configured vector size.
func (s *EmbeddingService) Dimensions() int {
	return s.dimensions
}

// Embed generates an embedding for stored analysis text.
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.openai != nil {
		return s.embedOpenAI(ctx, text)
	}
	return s.embedHTTP(ctx, text, "retrieval.passage")
}

// EmbedQuery generates an embedding optimized for search queries.
func (s *EmbeddingService) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	if s.openai != nil {
		return s.embedOpenAI(ctx, query)
	}
	return s.embedHTTP(ctx, query, "retrieval.query")
}

func (s *EmbeddingService) embedOpenAI(ctx context.Context, text string) ([]float32, error) {
	resp, err := s.openai.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(s.model),
		Dimensions: s.dimensions,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, &UpstreamError{Service: "embedding", Model: s.model, StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) {
			return nil, &UpstreamError{Service: "embedding", Model: s.model, StatusCode: reqErr.HTTPStatusCode, Body: reqErr.Error()}
		}
		return nil, fmt.Errorf("failed to call embedding API: %w", err)
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return resp.Data[0].Embedding, nil
}

type embeddingRequest struct {
	Model         string   `json:"model"`
	Input         []string `json:"input"`
	Task          string   `json:"task,omitempty"`
	Dimensions    int      `json:"dimensions,omitempty"`
	EmbeddingType string   `json:"embedding_type,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (s *EmbeddingService) embedHTTP(ctx context.Context, text, task string) ([]float32, error) {
	req := embeddingRequest{
		Model: s.model,
		Input: []string{text},
	}
	if s.provider == config.EmbeddingProviderJina {
		req.Task = task
		req.Dimensions = s.dimensions
		req.EmbeddingType = "float"
	}

	var resp embeddingResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post(s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to call embedding API: %w", err)
	}

	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		return nil, &UpstreamError{
			Service:    "embedding",
			Model:      s.model,
			StatusCode: httpResp.StatusCode(),
			Body:       string(httpResp.Body()),
		}
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return resp.Data[0].Embedding, nil
}
