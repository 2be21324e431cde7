package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/flashtag/internal/domain"
	"github.com/timmy/flashtag/internal/logger"
	"github.com/timmy/flashtag/internal/repository"
	"github.com/timmy/flashtag/internal/storage"
	"gorm.io/gorm"
)

// GalleryStore reads image rows for display.
type GalleryStore interface {
	List(ctx context.Context, limit, offset int) ([]domain.ImageRecord, error)
	GetByID(ctx context.Context, id string) (*domain.ImageRecord, error)
	GetByIDs(ctx context.Context, ids []string) ([]domain.ImageRecord, error)
	Stats(ctx context.Context) (*domain.ImageStats, error)
}

// VectorSearcher finds nearest stored vectors.
type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, topK int, filters *repository.SearchFilters) ([]repository.SearchResult, error)
}

// QueryEmbedder embeds search queries.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// SearchConfig holds gallery and search settings.
type SearchConfig struct {
	SignedURLTTL time.Duration
	DefaultTopK  int
	MaxTopK      int
}

// SearchService serves the gallery listing and semantic search.
type SearchService struct {
	store    GalleryStore
	objects  storage.ObjectStorage
	searcher VectorSearcher
	embedder QueryEmbedder
	cfg      SearchConfig
}

// NewSearchService creates a gallery service. searcher and embedder may be
// nil, in which case Search returns ErrSearchDisabled.
func NewSearchService(
	store GalleryStore,
	objects storage.ObjectStorage,
	searcher VectorSearcher,
	embedder QueryEmbedder,
	cfg *SearchConfig,
) *SearchService {
	c := *cfg
	if c.SignedURLTTL <= 0 {
		c.SignedURLTTL = time.Hour
	}
	if c.DefaultTopK <= 0 {
		c.DefaultTopK = 20
	}
	if c.MaxTopK <= 0 {
		c.MaxTopK = 100
	}
	return &SearchService{
		store:    store,
		objects:  objects,
		searcher: searcher,
		embedder: embedder,
		cfg:      c,
	}
}

// SearchEnabled reports whether a vector index is configured.
func (s *SearchService) SearchEnabled() bool {
	return s.searcher != nil && s.embedder != nil
}

// GalleryImage is a row with a link the browser can load.
type GalleryImage struct {
	domain.ImageRecord
	DisplayURL string   `json:"display_url"`
	Score      *float32 `json:"score,omitempty"`
}

// GalleryResponse is one page of the gallery.
type GalleryResponse struct {
	Images []GalleryImage     `json:"images"`
	Stats  *domain.ImageStats `json:"stats"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// SearchResponse is the result of a semantic query.
type SearchResponse struct {
	Query   string         `json:"query"`
	Results []GalleryImage `json:"results"`
	Total   int            `json:"total"`
}

// ListImages returns images newest first, each with a presigned display URL.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - limit: page size, clamped to [1, 100].
//   - offset: rows to skip.
//
// Returns:
//   - *GalleryResponse: page of images plus table stats.
//   - error: non-nil if the rows or stats cannot be read.
func (s *SearchService) ListImages(ctx context.Context, limit, offset int) (*GalleryResponse, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	records, err := s.store.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count images: %w", err)
	}

	images := make([]GalleryImage, len(records))
	for i := range records {
		images[i] = s.toGallery(ctx, records[i])
	}

	return &GalleryResponse{
		Images: images,
		Stats:  stats,
		Limit:  limit,
		Offset: offset,
	}, nil
}

// GetImage returns one image by ID.
func (s *SearchService) GetImage(ctx context.Context, id string) (*GalleryImage, error) {
	record, err := s.store.GetByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrImageNotFound
	}
	if err != nil {
		return nil, err
	}
	img := s.toGallery(ctx, *record)
	return &img, nil
}

// Search embeds query and returns the nearest images, best first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - query: free text.
//   - topK: result count; zero uses the default.
//   - category: optional exact category filter.
//
// Returns:
//   - *SearchResponse: hydrated rows with similarity scores.
//   - error: ErrSearchDisabled, or a failure of the embedding or index.
func (s *SearchService) Search(ctx context.Context, query string, topK int, category string) (*SearchResponse, error) {
	if !s.SearchEnabled() {
		return nil, ErrSearchDisabled
	}
	if topK <= 0 {
		topK = s.cfg.DefaultTopK
	}
	if topK > s.cfg.MaxTopK {
		topK = s.cfg.MaxTopK
	}

	ctx = logger.SetComponent(ctx, "search")
	start := time.Now()

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	var filters *repository.SearchFilters
	if category != "" {
		filters = &repository.SearchFilters{Category: &category}
	}
	hits, err := s.searcher.Search(ctx, vector, topK, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}

	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	records, err := s.store.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load search results: %w", err)
	}
	byID := make(map[string]domain.ImageRecord, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}

	results := make([]GalleryImage, 0, len(hits))
	for _, h := range hits {
		record, ok := byID[h.ID]
		if !ok {
			// Index points whose row was removed.
			continue
		}
		img := s.toGallery(ctx, record)
		score := h.Score
		img.Score = &score
		results = append(results, img)
	}

	logger.With(logger.Fields{
		logger.FieldCount:      len(results),
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}).Info(ctx, "Search completed: query=%q, top_k=%d", query, topK)

	return &SearchResponse{Query: query, Results: results, Total: len(results)}, nil
}

func (s *SearchService) toGallery(ctx context.Context, record domain.ImageRecord) GalleryImage {
	img := GalleryImage{ImageRecord: record, DisplayURL: record.ImageURL}
	if s.objects == nil || record.ImageName == "" {
		return img
	}
	signed, err := s.objects.PresignURL(ctx, record.ImageName, s.cfg.SignedURLTTL)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warn("Failed to presign display URL, using public URL")
		return img
	}
	img.DisplayURL = signed
	return img
}
