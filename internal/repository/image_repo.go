package repository

import (
	"context"
	"errors"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/timmy/flashtag/internal/domain"
	"gorm.io/gorm"
)

// ImageRepository handles image row operations.
type ImageRepository struct {
	db *gorm.DB
}

// NewImageRepository creates a new ImageRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//
// Returns:
//   - *ImageRepository: repository instance bound to db.
func NewImageRepository(db *gorm.DB) *ImageRepository {
	return &ImageRepository{db: db}
}

// Create inserts a new image record.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - record: placeholder row to persist.
//
// Returns:
//   - error: non-nil if the insert fails.
func (r *ImageRepository) Create(ctx context.Context, record *domain.ImageRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// FindAnalyzedByName returns the most recent analyzed row with the given object name.
// Placeholders sharing the name are ignored.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - name: image_name to match exactly.
//
// Returns:
//   - *domain.ImageRecord: matching row, or nil if none exists.
//   - error: non-nil if the query fails.
func (r *ImageRepository) FindAnalyzedByName(ctx context.Context, name string) (*domain.ImageRecord, error) {
	var record domain.ImageRecord
	err := r.db.WithContext(ctx).
		Where("image_name = ?", name).
		Where("description IS NOT NULL AND description <> ''").
		Order("created_at DESC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// GetByID retrieves an image by its ID.
func (r *ImageRepository) GetByID(ctx context.Context, id string) (*domain.ImageRecord, error) {
	var record domain.ImageRecord
	if err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// GetByIDs retrieves images by IDs, in no particular order.
func (r *ImageRepository) GetByIDs(ctx context.Context, ids []string) ([]domain.ImageRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var records []domain.ImageRecord
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// UpdateAnalysis writes the analysis result onto an existing row.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: image ID.
//   - a: description, tags, raw envelope, embedding and token counts.
//
// Returns:
//   - error: non-nil if the update fails or no row matched.
func (r *ImageRepository) UpdateAnalysis(ctx context.Context, id string, a *domain.ImageAnalysis) error {
	updates := map[string]interface{}{
		"description":       a.Description,
		"confidence":        a.Confidence,
		"tags":              a.Tags,
		"raw_json":          a.RawJSON,
		"prompt_tokens":     a.PromptTokens,
		"completion_tokens": a.CompletionTokens,
		"total_tokens":      a.TotalTokens,
		"analysis_attempts": a.Attempts,
	}
	if len(a.Embedding) > 0 {
		updates["embedding"] = pgvector.NewVector(a.Embedding)
	}

	result := r.db.WithContext(ctx).
		Model(&domain.ImageRecord{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// List retrieves images newest first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - limit: maximum number of rows.
//   - offset: rows to skip.
//
// Returns:
//   - []domain.ImageRecord: page of images.
//   - error: non-nil if the query fails.
func (r *ImageRepository) List(ctx context.Context, limit, offset int) ([]domain.ImageRecord, error) {
	var records []domain.ImageRecord
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&records).Error
	return records, err
}

// ListPending returns placeholder rows created before cutoff that never received
// an analysis, oldest first. Younger placeholders may still be owned by a live webhook.
func (r *ImageRepository) ListPending(ctx context.Context, cutoff time.Time, limit int) ([]domain.ImageRecord, error) {
	var records []domain.ImageRecord
	err := r.db.WithContext(ctx).
		Where("description IS NULL OR description = ''").
		Where("created_at < ?", cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// Stats counts all, analyzed and searchable images.
func (r *ImageRepository) Stats(ctx context.Context) (*domain.ImageStats, error) {
	var stats domain.ImageStats
	if err := r.db.WithContext(ctx).Model(&domain.ImageRecord{}).Count(&stats.Total).Error; err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Model(&domain.ImageRecord{}).
		Where("description IS NOT NULL AND description <> ''").
		Count(&stats.Analyzed).Error; err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Model(&domain.ImageRecord{}).
		Where("embedding IS NOT NULL").
		Count(&stats.Searchable).Error; err != nil {
		return nil, err
	}
	return &stats, nil
}

// ListUnembedded returns analyzed rows that have no embedding yet, oldest first.
func (r *ImageRepository) ListUnembedded(ctx context.Context, limit int) ([]domain.ImageRecord, error) {
	var records []domain.ImageRecord
	err := r.db.WithContext(ctx).
		Where("description IS NOT NULL AND description <> ''").
		Where("embedding IS NULL").
		Order("created_at ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// UpdateEmbedding stores a vector on an existing row.
func (r *ImageRepository) UpdateEmbedding(ctx context.Context, id string, embedding []float32) error {
	vec := pgvector.NewVector(embedding)
	result := r.db.WithContext(ctx).
		Model(&domain.ImageRecord{}).
		Where("id = ?", id).
		Update("embedding", vec)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
