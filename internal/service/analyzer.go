package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/timmy/flashtag/internal/analysis"
	"github.com/timmy/flashtag/internal/logger"
)

// VisionExecutor performs one vision request.
type VisionExecutor interface {
	Execute(ctx context.Context, req VisionRequest) (*VisionResponse, error)
}

// ModelTier is a model and the completion budget it is called with.
type ModelTier struct {
	Model     string
	MaxTokens int
}

// AnalyzerConfig is the retry policy across model tiers.
type AnalyzerConfig struct {
	Primary             ModelTier
	Fallback            ModelTier
	ConfidenceThreshold float64
}

// DefaultAnalyzerConfig returns the two-tier policy used in production.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		Primary:             ModelTier{Model: "gpt-4o", MaxTokens: 2000},
		Fallback:            ModelTier{Model: "gpt-4-turbo", MaxTokens: 1000},
		ConfidenceThreshold: 0.8,
	}
}

// AttemptRecord describes one vision call made during an analysis.
type AttemptRecord struct {
	Model         string         `json:"model"`
	Attempt       int            `json:"attempt"`
	ContentLength int            `json:"contentLength"`
	Usage         Usage          `json:"usage"`
	Confidence    float64        `json:"confidence"`
	Stage         analysis.Stage `json:"stage"`
}

// AnalysisOutcome is the attempt the analyzer settled on.
type AnalysisOutcome struct {
	Response        *VisionResponse
	Result          analysis.Result
	Stage           analysis.Stage
	Attempts        int
	FinalConfidence float64
	// Usage belongs to the returned attempt only.
	Usage   Usage
	History []AttemptRecord
	// ParseErr is set when the returned attempt held no JSON at all.
	ParseErr error
}

// Analyzer asks the primary model first and the fallback model once when
// the primary's confidence is below threshold. The second answer is final.
type Analyzer struct {
	executor   VisionExecutor
	schema     *analysis.Schema
	normalizer *analysis.Normalizer
	cfg        AnalyzerConfig
}

// NewAnalyzer creates an analyzer for schema.
func NewAnalyzer(executor VisionExecutor, schema *analysis.Schema, cfg AnalyzerConfig) *Analyzer {
	return &Analyzer{
		executor:   executor,
		schema:     schema,
		normalizer: analysis.NewNormalizer(schema),
		cfg:        cfg,
	}
}

// Threshold returns the confidence below which the fallback tier is used.
func (a *Analyzer) Threshold() float64 {
	return a.cfg.ConfidenceThreshold
}

// Analyze runs at most two vision requests for imageURL.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - imageURL: publicly reachable image URL.
//
// Returns:
//   - *AnalysisOutcome: the kept attempt and the history of both.
//   - error: transport or upstream failure of any attempt.
func (a *Analyzer) Analyze(ctx context.Context, imageURL string) (*AnalysisOutcome, error) {
	outcome, err := a.attempt(ctx, imageURL, a.cfg.Primary, 1, nil)
	if err != nil {
		return nil, err
	}
	if outcome.FinalConfidence >= a.cfg.ConfidenceThreshold {
		return outcome, nil
	}

	logger.With(logger.Fields{
		logger.FieldConfidence: outcome.FinalConfidence,
		"threshold":            a.cfg.ConfidenceThreshold,
	}).WithAttempt(a.cfg.Fallback.Model, 2).Info(ctx, "Low confidence, retrying with fallback model")

	return a.attempt(ctx, imageURL, a.cfg.Fallback, 2, outcome.History)
}

func (a *Analyzer) attempt(ctx context.Context, imageURL string, tier ModelTier, n int, history []AttemptRecord) (*AnalysisOutcome, error) {
	resp, err := a.executor.Execute(ctx, VisionRequest{
		ImageURL:  imageURL,
		Prompt:    a.schema.Prompt,
		Model:     tier.Model,
		MaxTokens: tier.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("analysis attempt %d with %s: %w", n, tier.Model, err)
	}

	normalized, parseErr := a.normalizer.Normalize(resp.Content)
	confidence := normalized.Result.Confidence
	if parseErr != nil {
		confidence = 0
	}

	record := AttemptRecord{
		Model:         tier.Model,
		Attempt:       n,
		ContentLength: len(resp.Content),
		Usage:         resp.Usage,
		Confidence:    confidence,
		Stage:         normalized.Stage,
	}

	entry := logger.With(logger.Fields{
		logger.FieldConfidence:  confidence,
		logger.FieldTotalTokens: resp.Usage.TotalTokens,
		"stage":                 normalized.Stage,
	}).WithAttempt(tier.Model, n)
	switch {
	case errors.Is(parseErr, analysis.ErrNoJSON):
		entry.Error(ctx, "No JSON object in model response")
	case normalized.IsFallback():
		entry.Warn(ctx, "Model response could not be parsed, using fallback analysis")
	default:
		entry.Info(ctx, "Analysis attempt completed")
	}

	return &AnalysisOutcome{
		Response:        resp,
		Result:          normalized.Result,
		Stage:           normalized.Stage,
		Attempts:        n,
		FinalConfidence: confidence,
		Usage:           resp.Usage,
		History:         append(history, record),
		ParseErr:        parseErr,
	}, nil
}
