package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/flashtag/internal/domain"
	"github.com/timmy/flashtag/internal/repository"
	"gorm.io/gorm"
)

type galleryFake struct {
	records []domain.ImageRecord
}

func (g *galleryFake) List(_ context.Context, limit, offset int) ([]domain.ImageRecord, error) {
	if offset >= len(g.records) {
		return nil, nil
	}
	end := offset + limit
	if end > len(g.records) {
		end = len(g.records)
	}
	return g.records[offset:end], nil
}

func (g *galleryFake) GetByID(_ context.Context, id string) (*domain.ImageRecord, error) {
	for i := range g.records {
		if g.records[i].ID == id {
			return &g.records[i], nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (g *galleryFake) GetByIDs(_ context.Context, ids []string) ([]domain.ImageRecord, error) {
	var out []domain.ImageRecord
	for _, id := range ids {
		if r, err := g.GetByID(context.Background(), id); err == nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (g *galleryFake) Stats(context.Context) (*domain.ImageStats, error) {
	return &domain.ImageStats{Total: int64(len(g.records))}, nil
}

type searcherFake struct {
	hits    []repository.SearchResult
	gotTopK int
	filters *repository.SearchFilters
}

func (s *searcherFake) Search(_ context.Context, _ []float32, topK int, filters *repository.SearchFilters) ([]repository.SearchResult, error) {
	s.gotTopK = topK
	s.filters = filters
	return s.hits, nil
}

type queryEmbedderFake struct{ err error }

func (q queryEmbedderFake) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, q.err
}

func galleryRecords() []domain.ImageRecord {
	return []domain.ImageRecord{
		{ID: "a", ImageName: "a.png", ImageURL: "https://cdn/a.png", Description: "apple"},
		{ID: "b", ImageName: "b.png", ImageURL: "https://cdn/b.png", Description: "ball"},
	}
}

func TestSearchServiceListImagesPresigns(t *testing.T) {
	objects := newMemoryObjects("https://bucket")
	svc := NewSearchService(&galleryFake{records: galleryRecords()}, objects, nil, nil, &SearchConfig{SignedURLTTL: time.Minute})

	page, err := svc.ListImages(context.Background(), 0, -5)
	require.NoError(t, err)

	assert.Equal(t, 20, page.Limit)
	assert.Equal(t, 0, page.Offset)
	require.Len(t, page.Images, 2)
	assert.Equal(t, "https://bucket/a.png?signed=1", page.Images[0].DisplayURL)
	assert.Equal(t, "apple", page.Images[0].Description)
	assert.EqualValues(t, 2, page.Stats.Total)
}

func TestSearchServiceGetImage(t *testing.T) {
	svc := NewSearchService(&galleryFake{records: galleryRecords()}, nil, nil, nil, &SearchConfig{})

	img, err := svc.GetImage(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/b.png", img.DisplayURL, "falls back to the public URL")

	_, err = svc.GetImage(context.Background(), "zzz")
	assert.ErrorIs(t, err, ErrImageNotFound)
}

func TestSearchServiceSearch(t *testing.T) {
	searcher := &searcherFake{hits: []repository.SearchResult{
		{ID: "b", Score: 0.9},
		{ID: "gone", Score: 0.8},
		{ID: "a", Score: 0.5},
	}}
	svc := NewSearchService(&galleryFake{records: galleryRecords()}, nil, searcher, queryEmbedderFake{}, &SearchConfig{MaxTopK: 10})

	res, err := svc.Search(context.Background(), "round toy", 50, "toys")
	require.NoError(t, err)

	assert.Equal(t, 10, searcher.gotTopK)
	require.NotNil(t, searcher.filters)
	assert.Equal(t, "toys", *searcher.filters.Category)

	require.Equal(t, 2, res.Total)
	assert.Equal(t, "b", res.Results[0].ID)
	assert.InDelta(t, 0.9, *res.Results[0].Score, 1e-6)
	assert.Equal(t, "a", res.Results[1].ID)
}

func TestSearchServiceSearchErrors(t *testing.T) {
	disabled := NewSearchService(&galleryFake{}, nil, nil, nil, &SearchConfig{})
	_, err := disabled.Search(context.Background(), "x", 0, "")
	assert.ErrorIs(t, err, ErrSearchDisabled)
	assert.False(t, disabled.SearchEnabled())

	failing := NewSearchService(&galleryFake{}, nil, &searcherFake{}, queryEmbedderFake{err: errors.New("boom")}, &SearchConfig{})
	_, err = failing.Search(context.Background(), "x", 0, "")
	assert.ErrorContains(t, err, "query embedding")
}
