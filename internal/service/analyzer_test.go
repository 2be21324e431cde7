package service

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/flashtag/internal/analysis"
)

const (
	confidentDoc = `{"description":"A red apple","confidence":0.93,"tags":{"objects":["apple"],"colors":["red"],"category":"food"}}`
	unsureDoc    = `{"description":"Maybe a ball","confidence":0.42,"tags":{"objects":["ball"],"category":"toys"}}`
	secondDoc    = "```json\n{\"description\":\"A red ball\",\"confidence\":0.55,\"tags\":{\"objects\":[\"ball\"],\"category\":\"toys\",}}\n```"
)

func newTestAnalyzer(exec VisionExecutor) *Analyzer {
	return NewAnalyzer(exec, analysis.FlashcardSchema(), DefaultAnalyzerConfig())
}

func TestAnalyzeConfidentFirstAttempt(t *testing.T) {
	exec := &scriptedExecutor{responses: []*VisionResponse{visionReply(confidentDoc, 1200, 300)}}

	outcome, err := newTestAnalyzer(exec).Analyze(context.Background(), "https://cdn.example.com/a.png")
	require.NoError(t, err)

	require.Len(t, exec.requests, 1)
	assert.Equal(t, "gpt-4o", exec.requests[0].Model)
	assert.Equal(t, 2000, exec.requests[0].MaxTokens)
	assert.Equal(t, "https://cdn.example.com/a.png", exec.requests[0].ImageURL)
	assert.Equal(t, analysis.FlashcardSchema().Prompt, exec.requests[0].Prompt)

	assert.Equal(t, 1, outcome.Attempts)
	assert.InDelta(t, 0.93, outcome.FinalConfidence, 1e-9)
	assert.Equal(t, "A red apple", outcome.Result.Description)
	assert.Equal(t, analysis.StageVerbatim, outcome.Stage)
	assert.Equal(t, 1500, outcome.Usage.TotalTokens)
	assert.Len(t, outcome.History, 1)
	assert.NoError(t, outcome.ParseErr)
}

func TestAnalyzeThresholdIsInclusive(t *testing.T) {
	doc := `{"description":"edge","confidence":0.8,"tags":{}}`
	exec := &scriptedExecutor{responses: []*VisionResponse{visionReply(doc, 10, 10)}}

	outcome, err := newTestAnalyzer(exec).Analyze(context.Background(), "https://cdn.example.com/a.png")
	require.NoError(t, err)
	assert.Len(t, exec.requests, 1)
	assert.Equal(t, 1, outcome.Attempts)
}

func TestAnalyzeLowConfidenceUsesFallbackAndKeepsIt(t *testing.T) {
	exec := &scriptedExecutor{responses: []*VisionResponse{
		visionReply(unsureDoc, 1100, 200),
		visionReply(secondDoc, 900, 150),
	}}

	outcome, err := newTestAnalyzer(exec).Analyze(context.Background(), "https://cdn.example.com/b.png")
	require.NoError(t, err)

	require.Len(t, exec.requests, 2)
	assert.Equal(t, "gpt-4-turbo", exec.requests[1].Model)
	assert.Equal(t, 1000, exec.requests[1].MaxTokens)

	// The second answer is final even though it is still below threshold.
	assert.Equal(t, 2, outcome.Attempts)
	assert.InDelta(t, 0.55, outcome.FinalConfidence, 1e-9)
	assert.Equal(t, "A red ball", outcome.Result.Description)
	assert.Equal(t, analysis.StageFenced, outcome.Stage)
	assert.Equal(t, Usage{PromptTokens: 900, CompletionTokens: 150, TotalTokens: 1050}, outcome.Usage)

	require.Len(t, outcome.History, 2)
	assert.Equal(t, "gpt-4o", outcome.History[0].Model)
	assert.InDelta(t, 0.42, outcome.History[0].Confidence, 1e-9)
	assert.Equal(t, 2, outcome.History[1].Attempt)
}

func TestAnalyzeUnparseableFirstAnswerRetries(t *testing.T) {
	exec := &scriptedExecutor{responses: []*VisionResponse{
		visionReply("I cannot analyze this image.", 800, 20),
		visionReply(confidentDoc, 800, 250),
	}}

	outcome, err := newTestAnalyzer(exec).Analyze(context.Background(), "https://cdn.example.com/c.png")
	require.NoError(t, err)

	assert.Len(t, exec.requests, 2)
	assert.Equal(t, analysis.StageFallback, outcome.History[0].Stage)
	assert.Zero(t, outcome.History[0].Confidence)
	assert.NoError(t, outcome.ParseErr)
	assert.Equal(t, "A red apple", outcome.Result.Description)
}

func TestAnalyzeBothAnswersEmpty(t *testing.T) {
	exec := &scriptedExecutor{responses: []*VisionResponse{
		visionReply("", 500, 0),
		visionReply("", 500, 0),
	}}
	log, hook := newTestLogger()
	ctx := log.WithContext(context.Background())

	outcome, err := newTestAnalyzer(exec).Analyze(ctx, "https://cdn.example.com/d.png")
	require.NoError(t, err)

	assert.ErrorIs(t, outcome.ParseErr, analysis.ErrNoJSON)
	assert.Equal(t, analysis.FallbackDescription, outcome.Result.Description)
	assert.Zero(t, outcome.FinalConfidence)
	assert.True(t, hasLog(hook, logrus.ErrorLevel, "No JSON object"))
}

func TestAnalyzePropagatesUpstreamError(t *testing.T) {
	upstream := &UpstreamError{Service: "vision", Model: "gpt-4-turbo", StatusCode: 429, Body: "rate limited"}
	exec := &scriptedExecutor{
		responses: []*VisionResponse{visionReply(unsureDoc, 10, 10)},
		errs:      []error{nil, upstream},
	}

	_, err := newTestAnalyzer(exec).Analyze(context.Background(), "https://cdn.example.com/e.png")
	require.Error(t, err)

	var got *UpstreamError
	require.True(t, errors.As(err, &got))
	assert.Equal(t, 429, got.StatusCode)
	assert.Contains(t, err.Error(), "analysis attempt 2 with gpt-4-turbo")
}

func TestAnalyzeCustomThreshold(t *testing.T) {
	cfg := DefaultAnalyzerConfig()
	cfg.ConfidenceThreshold = 0.4
	exec := &scriptedExecutor{responses: []*VisionResponse{visionReply(unsureDoc, 10, 10)}}

	a := NewAnalyzer(exec, analysis.FlashcardSchema(), cfg)
	outcome, err := a.Analyze(context.Background(), "https://cdn.example.com/f.png")
	require.NoError(t, err)
	assert.Equal(t, 0.4, a.Threshold())
	assert.Equal(t, 1, outcome.Attempts)
}
