package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/flashtag/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	return db
}

func placeholder(id, name string, created time.Time) *domain.ImageRecord {
	return &domain.ImageRecord{
		ID:        id,
		ImageName: name,
		ImageURL:  "https://cdn.example.com/" + name,
		CreatedAt: created,
	}
}

func TestImageRepositoryCreateAndFindAnalyzedByName(t *testing.T) {
	ctx := context.Background()
	repo := NewImageRepository(newTestDB(t))

	missing, err := repo.FindAnalyzedByName(ctx, "nope.png")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, repo.Create(ctx, placeholder("a1", "a1.png", time.Now())))

	placeholderOnly, err := repo.FindAnalyzedByName(ctx, "a1.png")
	require.NoError(t, err)
	assert.Nil(t, placeholderOnly, "placeholders are not dedup hits")

	require.NoError(t, repo.UpdateAnalysis(ctx, "a1", &domain.ImageAnalysis{Description: "a yellow star"}))
	found, err := repo.FindAnalyzedByName(ctx, "a1.png")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "a1", found.ID)
	assert.True(t, found.IsAnalyzed())
	assert.False(t, found.IsSearchable())
}

func TestImageRepositoryFindAnalyzedIgnoresNewerPlaceholder(t *testing.T) {
	ctx := context.Background()
	repo := NewImageRepository(newTestDB(t))

	require.NoError(t, repo.Create(ctx, placeholder("old", "shared.png", time.Now().Add(-time.Hour))))
	require.NoError(t, repo.UpdateAnalysis(ctx, "old", &domain.ImageAnalysis{Description: "a purple hexagon"}))
	require.NoError(t, repo.Create(ctx, placeholder("new", "shared.png", time.Now())))

	found, err := repo.FindAnalyzedByName(ctx, "shared.png")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "old", found.ID)
}

func TestImageRepositoryUpdateAnalysis(t *testing.T) {
	ctx := context.Background()
	repo := NewImageRepository(newTestDB(t))
	require.NoError(t, repo.Create(ctx, placeholder("b1", "b1.png", time.Now())))

	err := repo.UpdateAnalysis(ctx, "b1", &domain.ImageAnalysis{
		Description:      "a blue triangle",
		Confidence:       0.91,
		Tags:             domain.JSONMap{"shapes": []interface{}{"triangle"}, "category": "shapes"},
		RawJSON:          domain.JSONMap{"model": "gpt-4o"},
		Embedding:        []float32{0.1, 0.2, 0.3},
		PromptTokens:     1200,
		CompletionTokens: 300,
		TotalTokens:      1500,
		Attempts:         1,
	})
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "a blue triangle", got.Description)
	require.NotNil(t, got.Confidence)
	assert.InDelta(t, 0.91, *got.Confidence, 1e-9)
	assert.Equal(t, "shapes", got.Tags["category"])
	assert.Equal(t, "gpt-4o", got.RawJSON["model"])
	assert.Equal(t, 1500, got.TotalTokens)
	assert.Equal(t, 1, got.AnalysisAttempts)
	require.True(t, got.IsSearchable())
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, got.Embedding.Slice())

	err = repo.UpdateAnalysis(ctx, "missing", &domain.ImageAnalysis{Description: "x"})
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestImageRepositoryListPendingAndStats(t *testing.T) {
	ctx := context.Background()
	repo := NewImageRepository(newTestDB(t))
	base := time.Now().Add(-time.Hour)

	for i, id := range []string{"c1", "c2", "c3"} {
		require.NoError(t, repo.Create(ctx, placeholder(id, id+".png", base.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, repo.UpdateAnalysis(ctx, "c2", &domain.ImageAnalysis{
		Description: "analyzed",
		Embedding:   []float32{1, 0},
	}))

	pending, err := repo.ListPending(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "c1", pending[0].ID)
	assert.Equal(t, "c3", pending[1].ID)

	// Only rows older than the cutoff are backlog.
	pending, err = repo.ListPending(ctx, base.Add(90*time.Second), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "c1", pending[0].ID)

	page, err := repo.List(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c3", page[0].ID, "newest first")

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.ImageStats{Total: 3, Analyzed: 1, Searchable: 1}, *stats)

	byIDs, err := repo.GetByIDs(ctx, []string{"c1", "c3"})
	require.NoError(t, err)
	assert.Len(t, byIDs, 2)
}

func TestImageRepositoryListPendingSkipsFreshPlaceholders(t *testing.T) {
	ctx := context.Background()
	repo := NewImageRepository(newTestDB(t))
	now := time.Now()

	require.NoError(t, repo.Create(ctx, placeholder("stale", "stale.png", now.Add(-30*time.Minute))))
	require.NoError(t, repo.Create(ctx, placeholder("fresh", "fresh.png", now)))

	pending, err := repo.ListPending(ctx, now.Add(-10*time.Minute), 50)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "stale", pending[0].ID)
}

func TestImageRepositoryEmbeddingBackfill(t *testing.T) {
	ctx := context.Background()
	repo := NewImageRepository(newTestDB(t))
	base := time.Now().Add(-time.Hour)

	require.NoError(t, repo.Create(ctx, placeholder("d1", "d1.png", base)))
	require.NoError(t, repo.Create(ctx, placeholder("d2", "d2.png", base.Add(time.Minute))))
	require.NoError(t, repo.UpdateAnalysis(ctx, "d1", &domain.ImageAnalysis{Description: "no vector yet"}))

	unembedded, err := repo.ListUnembedded(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unembedded, 1)
	assert.Equal(t, "d1", unembedded[0].ID)

	require.NoError(t, repo.UpdateEmbedding(ctx, "d1", []float32{0.5, 0.5}))

	unembedded, err = repo.ListUnembedded(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unembedded)

	assert.ErrorIs(t, repo.UpdateEmbedding(ctx, "missing", []float32{1}), gorm.ErrRecordNotFound)
}
