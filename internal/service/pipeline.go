package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/timmy/flashtag/internal/analysis"
	"github.com/timmy/flashtag/internal/domain"
	"github.com/timmy/flashtag/internal/logger"
	"github.com/timmy/flashtag/internal/metrics"
	"github.com/timmy/flashtag/internal/repository"
	"github.com/timmy/flashtag/internal/retry"
	"github.com/timmy/flashtag/internal/storage"
)

// ErrNoAnalysis means the kept model answer held no JSON object.
var ErrNoAnalysis = errors.New("model returned no usable analysis")

// ImageStore persists image rows.
type ImageStore interface {
	FindAnalyzedByName(ctx context.Context, name string) (*domain.ImageRecord, error)
	Create(ctx context.Context, record *domain.ImageRecord) error
	UpdateAnalysis(ctx context.Context, id string, a *domain.ImageAnalysis) error
}

// ImageAnalyzer produces a structured analysis for an image URL.
type ImageAnalyzer interface {
	Analyze(ctx context.Context, imageURL string) (*AnalysisOutcome, error)
}

// VectorIndex mirrors embeddings for similarity search.
type VectorIndex interface {
	Upsert(ctx context.Context, vector []float32, payload *repository.ImagePayload) error
}

// PipelineConfig holds timing and alert thresholds for the pipeline.
type PipelineConfig struct {
	RenameAttempts  int
	RenameBaseDelay time.Duration
	JitterMin       time.Duration
	JitterMax       time.Duration
	SettleDelay     time.Duration
	ProbeTimeout    time.Duration

	WarnImageBytes    int64
	ErrorImageBytes   int64
	WarnPromptTokens  int
	ErrorPromptTokens int
}

// DefaultPipelineConfig returns production timings.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		RenameAttempts:    3,
		RenameBaseDelay:   time.Second,
		JitterMin:         100 * time.Millisecond,
		JitterMax:         600 * time.Millisecond,
		SettleDelay:       1500 * time.Millisecond,
		ProbeTimeout:      10 * time.Second,
		WarnImageBytes:    10 << 20,
		ErrorImageBytes:   20 << 20,
		WarnPromptTokens:  2000,
		ErrorPromptTokens: 5000,
	}
}

// ProcessResult is what the webhook reports back.
type ProcessResult struct {
	ID       string
	ImageURL string
	Skipped  bool
	// Analyzed is false when the row was left as a placeholder.
	Analyzed   bool
	Attempts   int
	Confidence float64
}

// EnrichResult summarizes one analysis written onto a row.
type EnrichResult struct {
	Attempts   int
	Confidence float64
	Embedded   bool
}

// Pipeline renames an uploaded object, inserts a placeholder row and enriches
// it with a vision analysis and an embedding.
type Pipeline struct {
	store    ImageStore
	objects  storage.ObjectStorage
	analyzer ImageAnalyzer
	embedder Embedder
	schema   *analysis.Schema
	cfg      PipelineConfig

	index   VectorIndex
	metrics *metrics.Metrics
	logger  *logger.Logger
	prober  *resty.Client

	sleep  func(ctx context.Context, d time.Duration) error
	newID  func() string
	jitter func(lo, hi time.Duration) time.Duration
}

// PipelineOption customizes a Pipeline.
type PipelineOption func(*Pipeline)

// WithVectorIndex mirrors embeddings into idx after each update.
func WithVectorIndex(idx VectorIndex) PipelineOption {
	return func(p *Pipeline) { p.index = idx }
}

// WithMetrics records pipeline outcomes on m.
func WithMetrics(m *metrics.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the logger used when the context carries none.
func WithLogger(l *logger.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// WithSleep replaces the jitter and settle wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) PipelineOption {
	return func(p *Pipeline) { p.sleep = sleep }
}

// WithIDGenerator replaces uuid.NewString for new image IDs.
func WithIDGenerator(newID func() string) PipelineOption {
	return func(p *Pipeline) { p.newID = newID }
}

// NewPipeline creates a pipeline for schema.
func NewPipeline(
	store ImageStore,
	objects storage.ObjectStorage,
	analyzer ImageAnalyzer,
	embedder Embedder,
	schema *analysis.Schema,
	cfg PipelineConfig,
	opts ...PipelineOption,
) *Pipeline {
	p := &Pipeline{
		store:    store,
		objects:  objects,
		analyzer: analyzer,
		embedder: embedder,
		schema:   schema,
		cfg:      cfg,
		logger:   logger.GetDefault(),
		sleep:    sleepContext,
		newID:    uuid.NewString,
		jitter:   randomJitter,
	}
	for _, opt := range opts {
		opt(p)
	}

	timeout := cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	p.prober = resty.New().SetTimeout(timeout)
	return p
}

// Process runs the pipeline for one uploaded object.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - fileName: object key reported by the upload event.
//
// Returns:
//   - *ProcessResult: row ID and public URL, or Skipped for already analyzed names.
//   - error: ErrMissingFileName, ErrStorage, ErrObjectMissing, ErrUnreachable or ErrDatabase.
//     Failures after the placeholder insert are logged, not returned.
func (p *Pipeline) Process(ctx context.Context, fileName string) (*ProcessResult, error) {
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return nil, ErrMissingFileName
	}

	ctx = logger.EnsureContext(ctx, p.logger)
	ctx = logger.SetComponent(ctx, "pipeline")
	ctx = logger.SetImage(ctx, fileName, "")
	start := time.Now()

	existing, err := p.store.FindAnalyzedByName(ctx, fileName)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warn("Dedup lookup failed, continuing")
	} else if existing != nil {
		logger.CtxInfo(ctx, "Image already processed, skipping")
		p.metrics.RecordOutcome(metrics.OutcomeSkipped)
		return &ProcessResult{ID: existing.ID, ImageURL: existing.ImageURL, Skipped: true}, nil
	}

	id := p.newID()
	newName := renamedKey(id, fileName)
	ctx = logger.SetImage(ctx, fileName, id)

	if err := p.sleep(ctx, p.jitter(p.cfg.JitterMin, p.cfg.JitterMax)); err != nil {
		return nil, err
	}

	if err := p.rename(ctx, fileName, newName); err != nil {
		p.metrics.RecordOutcome(metrics.OutcomeStorage)
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	listed, err := p.objects.List(ctx, newName, 1)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warn("Could not verify renamed object, continuing")
	} else if len(listed) == 0 {
		p.metrics.RecordOutcome(metrics.OutcomeMissing)
		return nil, fmt.Errorf("%w: %s", ErrObjectMissing, newName)
	}

	if err := p.sleep(ctx, p.cfg.SettleDelay); err != nil {
		return nil, err
	}

	imageURL := p.objects.GetURL(newName)
	if err := p.probe(ctx, imageURL); err != nil {
		p.metrics.RecordOutcome(metrics.OutcomeUnreachable)
		return nil, err
	}

	record := &domain.ImageRecord{
		ID:        id,
		ImageName: newName,
		ImageURL:  imageURL,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.store.Create(ctx, record); err != nil {
		p.metrics.RecordOutcome(metrics.OutcomeDatabase)
		return nil, fmt.Errorf("%w: %w", ErrDatabase, err)
	}

	result := &ProcessResult{ID: id, ImageURL: imageURL}
	enriched, err := p.Enrich(ctx, record)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Error("Analysis not stored, row left as placeholder")
		p.metrics.RecordOutcome(metrics.OutcomeDegraded)
	} else {
		result.Analyzed = true
		result.Attempts = enriched.Attempts
		result.Confidence = enriched.Confidence
		p.metrics.RecordOutcome(metrics.OutcomeProcessed)
	}

	logger.With(logger.Fields{
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
		"analyzed":             result.Analyzed,
	}).Info(ctx, "Image pipeline finished")

	return result, nil
}

// Enrich analyzes an existing row's image and writes description, tags,
// raw envelope, token usage and embedding onto it. An embedding failure
// still stores the analysis.
func (p *Pipeline) Enrich(ctx context.Context, record *domain.ImageRecord) (*EnrichResult, error) {
	ctx = logger.EnsureContext(ctx, p.logger)

	outcome, err := p.analyzer.Analyze(ctx, record.ImageURL)
	if err != nil {
		return nil, err
	}
	for _, h := range outcome.History {
		p.metrics.RecordAttempt(h.Model, string(h.Stage))
	}
	if outcome.ParseErr != nil {
		logger.With(logger.Fields{
			logger.FieldSize: len(outcome.Response.Content),
		}).WithAttempt(outcome.Response.Model, outcome.Attempts).Error(ctx, "Model response held no analysis")
		return nil, fmt.Errorf("%w: %w", ErrNoAnalysis, outcome.ParseErr)
	}

	p.alertTokens(ctx, outcome)

	text := BuildEmbeddingText(outcome.Result, p.schema)
	embedding, embedErr := p.embedder.Embed(ctx, text)
	if embedErr != nil {
		logger.FromContext(ctx).WithError(embedErr).Error("Embedding failed, storing analysis without vector")
	}

	update := &domain.ImageAnalysis{
		Description:      outcome.Result.Description,
		Confidence:       outcome.FinalConfidence,
		Tags:             domain.JSONMap(outcome.Result.Tags),
		RawJSON:          rawEnvelope(outcome),
		Embedding:        embedding,
		PromptTokens:     outcome.Usage.PromptTokens,
		CompletionTokens: outcome.Usage.CompletionTokens,
		TotalTokens:      outcome.Usage.TotalTokens,
		Attempts:         outcome.Attempts,
	}
	if err := p.store.UpdateAnalysis(ctx, record.ID, update); err != nil {
		return nil, fmt.Errorf("failed to store analysis: %w", err)
	}

	p.metrics.RecordAnalysis(outcome.Response.Model, outcome.FinalConfidence, outcome.Usage.PromptTokens, outcome.Usage.CompletionTokens)

	if len(embedding) > 0 && p.index != nil {
		category, _ := outcome.Result.Tags["category"].(string)
		if err := p.index.Upsert(ctx, embedding, &repository.ImagePayload{
			ImageID:     record.ID,
			ImageName:   record.ImageName,
			ImageURL:    record.ImageURL,
			Description: outcome.Result.Description,
			Category:    category,
			Confidence:  outcome.FinalConfidence,
		}); err != nil {
			logger.FromContext(ctx).WithError(err).Warn("Failed to mirror vector to index")
		}
	}

	return &EnrichResult{
		Attempts:   outcome.Attempts,
		Confidence: outcome.FinalConfidence,
		Embedded:   len(embedding) > 0,
	}, nil
}

func (p *Pipeline) rename(ctx context.Context, from, to string) error {
	policy := retry.Policy{MaxAttempts: p.cfg.RenameAttempts, BaseDelay: p.cfg.RenameBaseDelay}
	return retry.Do(ctx, policy,
		func(ctx context.Context) error {
			return p.objects.Move(ctx, from, to)
		},
		func(err error, attempt int, wait time.Duration) {
			logger.With(logger.Fields{
				logger.FieldAttempt:    attempt,
				logger.FieldDurationMs: wait.Milliseconds(),
			}).Warn(ctx, "Rename failed, retrying: %v", err)
		},
	)
}

func (p *Pipeline) probe(ctx context.Context, imageURL string) error {
	resp, err := p.prober.R().SetContext(ctx).Head(imageURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("%w: HEAD returned %d", ErrUnreachable, resp.StatusCode())
	}

	size, err := strconv.ParseInt(resp.Header().Get("Content-Length"), 10, 64)
	if err != nil {
		return nil
	}
	entry := logger.With(logger.Fields{logger.FieldSize: size})
	switch {
	case p.cfg.ErrorImageBytes > 0 && size > p.cfg.ErrorImageBytes:
		entry.Error(ctx, "Image is very large, vision cost will be high")
	case p.cfg.WarnImageBytes > 0 && size > p.cfg.WarnImageBytes:
		entry.Warn(ctx, "Image is large")
	}
	return nil
}

func (p *Pipeline) alertTokens(ctx context.Context, outcome *AnalysisOutcome) {
	entry := logger.With(logger.Fields{
		"prompt_tokens":         outcome.Usage.PromptTokens,
		logger.FieldTotalTokens: outcome.Usage.TotalTokens,
	}).WithAttempt(outcome.Response.Model, outcome.Attempts)

	switch {
	case p.cfg.ErrorPromptTokens > 0 && outcome.Usage.PromptTokens > p.cfg.ErrorPromptTokens:
		entry.Error(ctx, "Prompt token usage far above expected")
	case p.cfg.WarnPromptTokens > 0 && outcome.Usage.PromptTokens > p.cfg.WarnPromptTokens:
		entry.Warn(ctx, "Prompt token usage above expected")
	}
}

// rawEnvelope is the provider response plus token and attempt metadata.
func rawEnvelope(outcome *AnalysisOutcome) domain.JSONMap {
	envelope := domain.JSONMap{}
	if err := json.Unmarshal(outcome.Response.Raw, &envelope); err != nil || envelope == nil {
		envelope = domain.JSONMap{"raw": string(outcome.Response.Raw)}
	}

	envelope["tokenUsage"] = map[string]interface{}{
		"promptTokens":     outcome.Usage.PromptTokens,
		"completionTokens": outcome.Usage.CompletionTokens,
		"totalTokens":      outcome.Usage.TotalTokens,
	}
	envelope["analysisMetadata"] = map[string]interface{}{
		"attempts":        outcome.Attempts,
		"finalConfidence": outcome.FinalConfidence,
		"stage":           string(outcome.Stage),
		"history":         outcome.History,
	}
	return envelope
}

// renamedKey returns id plus the original extension, or id alone when there is none.
func renamedKey(id, fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	if ext == "" || ext == "." {
		return id
	}
	return id + ext
}

func randomJitter(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
