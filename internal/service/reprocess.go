package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/timmy/flashtag/internal/analysis"
	"github.com/timmy/flashtag/internal/domain"
	"github.com/timmy/flashtag/internal/logger"
	"github.com/timmy/flashtag/internal/repository"
)

// BacklogStore lists rows that need another pass.
type BacklogStore interface {
	ListPending(ctx context.Context, cutoff time.Time, limit int) ([]domain.ImageRecord, error)
	ListUnembedded(ctx context.Context, limit int) ([]domain.ImageRecord, error)
	UpdateEmbedding(ctx context.Context, id string, embedding []float32) error
}

// RecordEnricher analyzes an existing row.
type RecordEnricher interface {
	Enrich(ctx context.Context, record *domain.ImageRecord) (*EnrichResult, error)
}

// ReprocessConfig sizes the worker pool.
type ReprocessConfig struct {
	Workers int
	// Batch caps how many rows each pass loads.
	Batch int
	// PendingGrace is the minimum placeholder age before a retry.
	PendingGrace time.Duration
}

// DefaultPendingGrace leaves in-flight webhooks alone.
const DefaultPendingGrace = 10 * time.Minute

// ReprocessStats holds statistics for one reprocess run.
type ReprocessStats struct {
	Pending     int64     `json:"pending"`
	Unembedded  int64     `json:"unembedded"`
	Analyzed    int64     `json:"analyzed"`
	Embedded    int64     `json:"embedded"`
	FailedItems int64     `json:"failed"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
}

// Reprocessor retries placeholder rows and backfills missing embeddings.
type Reprocessor struct {
	store    BacklogStore
	enricher RecordEnricher
	embedder Embedder
	schema   *analysis.Schema
	index    VectorIndex
	logger   *logger.Logger
	workers  int
	batch    int
	grace    time.Duration
	now      func() time.Time
}

// NewReprocessor creates a reprocessor. index may be nil.
func NewReprocessor(
	store BacklogStore,
	enricher RecordEnricher,
	embedder Embedder,
	schema *analysis.Schema,
	index VectorIndex,
	log *logger.Logger,
	cfg *ReprocessConfig,
) *Reprocessor {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	batch := cfg.Batch
	if batch <= 0 {
		batch = 50
	}
	grace := cfg.PendingGrace
	if grace <= 0 {
		grace = DefaultPendingGrace
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &Reprocessor{
		store:    store,
		enricher: enricher,
		embedder: embedder,
		schema:   schema,
		index:    index,
		logger:   log,
		workers:  workers,
		batch:    batch,
		grace:    grace,
		now:      time.Now,
	}
}

// Run analyzes pending rows, then embeds analyzed rows that lack a vector.
// Parameters:
//   - ctx: context for cancellation; workers stop taking rows once it is done.
//
// Returns:
//   - *ReprocessStats: counts for both passes.
//   - error: non-nil only if a backlog query fails.
func (r *Reprocessor) Run(ctx context.Context) (*ReprocessStats, error) {
	ctx = logger.EnsureContext(ctx, r.logger)
	ctx = logger.SetComponent(ctx, "reprocess")
	stats := &ReprocessStats{StartTime: r.now()}

	pending, err := r.store.ListPending(ctx, stats.StartTime.Add(-r.grace), r.batch)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending images: %w", err)
	}
	stats.Pending = int64(len(pending))
	r.fanOut(ctx, pending, func(ctx context.Context, rec *domain.ImageRecord) error {
		res, err := r.enricher.Enrich(ctx, rec)
		if err != nil {
			return err
		}
		atomic.AddInt64(&stats.Analyzed, 1)
		if res.Embedded {
			atomic.AddInt64(&stats.Embedded, 1)
		}
		return nil
	}, &stats.FailedItems)

	unembedded, err := r.store.ListUnembedded(ctx, r.batch)
	if err != nil {
		return nil, fmt.Errorf("failed to list unembedded images: %w", err)
	}
	stats.Unembedded = int64(len(unembedded))
	r.fanOut(ctx, unembedded, func(ctx context.Context, rec *domain.ImageRecord) error {
		if err := r.reembed(ctx, rec); err != nil {
			return err
		}
		atomic.AddInt64(&stats.Embedded, 1)
		return nil
	}, &stats.FailedItems)

	stats.EndTime = r.now()
	logger.FromContext(ctx).WithFields(logger.Fields{
		"pending":    stats.Pending,
		"unembedded": stats.Unembedded,
		"analyzed":   stats.Analyzed,
		"embedded":   stats.Embedded,
		"failed":     stats.FailedItems,
		"duration":   stats.EndTime.Sub(stats.StartTime).String(),
	}).Info("Reprocess completed")

	return stats, nil
}

func (r *Reprocessor) fanOut(
	ctx context.Context,
	records []domain.ImageRecord,
	handle func(context.Context, *domain.ImageRecord) error,
	failed *int64,
) {
	if len(records) == 0 {
		return
	}

	items := make(chan *domain.ImageRecord, r.workers*2)
	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range items {
				if ctx.Err() != nil {
					continue
				}
				itemCtx := logger.SetImage(ctx, rec.ImageName, rec.ID)
				if err := handle(itemCtx, rec); err != nil {
					atomic.AddInt64(failed, 1)
					logger.FromContext(itemCtx).WithError(err).Error("Failed to reprocess image")
				}
			}
		}()
	}

feed:
	for i := range records {
		select {
		case items <- &records[i]:
		case <-ctx.Done():
			break feed
		}
	}
	close(items)
	wg.Wait()
}

func (r *Reprocessor) reembed(ctx context.Context, rec *domain.ImageRecord) error {
	result := analysis.Result{
		Description: rec.Description,
		Tags:        map[string]any(rec.Tags),
	}
	if rec.Confidence != nil {
		result.Confidence = *rec.Confidence
	}

	embedding, err := r.embedder.Embed(ctx, BuildEmbeddingText(result, r.schema))
	if err != nil {
		return fmt.Errorf("failed to embed: %w", err)
	}
	if err := r.store.UpdateEmbedding(ctx, rec.ID, embedding); err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}

	if r.index != nil {
		category, _ := rec.Tags["category"].(string)
		if err := r.index.Upsert(ctx, embedding, &repository.ImagePayload{
			ImageID:     rec.ID,
			ImageName:   rec.ImageName,
			ImageURL:    rec.ImageURL,
			Description: rec.Description,
			Category:    category,
			Confidence:  result.Confidence,
		}); err != nil {
			logger.FromContext(ctx).WithError(err).Warn("Failed to mirror vector to index")
		}
	}
	return nil
}
