package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/flashtag/internal/analysis"
	"github.com/timmy/flashtag/internal/domain"
	"github.com/timmy/flashtag/internal/metrics"
)

const testID = "3f2b9c1e-8d4a-4c3e-9b1a-2f6e7d8c9a0b"

type pipelineFixture struct {
	objects  *memoryObjects
	store    *memoryStore
	exec     *scriptedExecutor
	embedder *stubEmbedder
	index    *recordingIndex
	hook     *test.Hook
	pipeline *Pipeline
}

// cdnServer answers HEAD requests like a public bucket URL.
func cdnServer(t *testing.T, status int, size int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newPipelineFixture(t *testing.T, cdn *httptest.Server, keys ...string) *pipelineFixture {
	t.Helper()
	log, hook := newTestLogger()
	f := &pipelineFixture{
		objects:  newMemoryObjects(cdn.URL, keys...),
		store:    newMemoryStore(),
		exec:     &scriptedExecutor{responses: []*VisionResponse{visionReply(confidentDoc, 1200, 300)}},
		embedder: &stubEmbedder{vector: []float32{0.1, 0.2, 0.3}},
		index:    &recordingIndex{},
		hook:     hook,
	}

	cfg := DefaultPipelineConfig()
	cfg.RenameBaseDelay = time.Millisecond
	f.pipeline = NewPipeline(
		f.store,
		f.objects,
		NewAnalyzer(f.exec, analysis.FlashcardSchema(), DefaultAnalyzerConfig()),
		f.embedder,
		analysis.FlashcardSchema(),
		cfg,
		WithLogger(log),
		WithSleep(noSleep),
		WithIDGenerator(func() string { return testID }),
		WithVectorIndex(f.index),
		WithMetrics(metrics.New("test")),
	)
	return f
}

func TestPipelineProcessHappyPath(t *testing.T) {
	cdn := cdnServer(t, http.StatusOK, 2048)
	f := newPipelineFixture(t, cdn, "Photo.PNG")

	res, err := f.pipeline.Process(context.Background(), "Photo.PNG")
	require.NoError(t, err)

	newName := testID + ".png"
	assert.Equal(t, testID, res.ID)
	assert.Equal(t, cdn.URL+"/"+newName, res.ImageURL)
	assert.True(t, res.Analyzed)
	assert.False(t, res.Skipped)
	assert.Equal(t, 1, res.Attempts)
	assert.InDelta(t, 0.93, res.Confidence, 1e-9)

	exists, _ := f.objects.Exists(context.Background(), "Photo.PNG")
	assert.False(t, exists, "original key is removed by the move")
	exists, _ = f.objects.Exists(context.Background(), newName)
	assert.True(t, exists)

	row := f.store.rows[testID]
	require.NotNil(t, row)
	assert.Equal(t, newName, row.ImageName)
	assert.Equal(t, "A red apple", row.Description)

	update := f.store.updates[testID]
	require.NotNil(t, update)
	assert.Equal(t, 1500, update.TotalTokens)
	assert.Equal(t, 1, update.Attempts)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, update.Embedding)
	assert.Equal(t, "chatcmpl-1", update.RawJSON["id"])
	assert.Contains(t, update.RawJSON, "tokenUsage")
	meta, ok := update.RawJSON["analysisMetadata"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 1, meta["attempts"])
	assert.Equal(t, "verbatim", meta["stage"])

	require.Len(t, f.embedder.texts, 1)
	assert.Contains(t, f.embedder.texts[0], "A red apple. Confidence: 0.93. Objects: apple")

	require.Len(t, f.index.payloads, 1)
	assert.Equal(t, testID, f.index.payloads[0].ImageID)
	assert.Equal(t, "food", f.index.payloads[0].Category)
}

func TestPipelineRenameRecoversAfterTwoFailures(t *testing.T) {
	f := newPipelineFixture(t, cdnServer(t, http.StatusOK, 10), "a.jpg")
	f.objects.moveFailures = 2

	res, err := f.pipeline.Process(context.Background(), "a.jpg")
	require.NoError(t, err)

	assert.Equal(t, 3, f.objects.moveCalls)
	assert.True(t, res.Analyzed)
	assert.Equal(t, 1, f.store.count())
	assert.True(t, hasLog(f.hook, logrus.WarnLevel, "Rename failed, retrying"))
}

func TestPipelineRenameExhaustedInsertsNothing(t *testing.T) {
	f := newPipelineFixture(t, cdnServer(t, http.StatusOK, 10), "a.jpg")
	f.objects.moveFailures = 3

	_, err := f.pipeline.Process(context.Background(), "a.jpg")
	require.ErrorIs(t, err, ErrStorage)
	assert.Contains(t, err.Error(), "storage temporarily unavailable")

	assert.Equal(t, 3, f.objects.moveCalls)
	assert.Zero(t, f.store.count())
	assert.Empty(t, f.exec.requests)
}

func TestPipelineSkipsAnalyzedName(t *testing.T) {
	f := newPipelineFixture(t, cdnServer(t, http.StatusOK, 10), "done.png")
	require.NoError(t, f.store.Create(context.Background(), &domain.ImageRecord{
		ID: "existing", ImageName: "done.png", ImageURL: "https://cdn/done.png", Description: "already there",
	}))

	res, err := f.pipeline.Process(context.Background(), "done.png")
	require.NoError(t, err)

	assert.True(t, res.Skipped)
	assert.Equal(t, "existing", res.ID)
	assert.Zero(t, f.objects.moveCalls)
	assert.Empty(t, f.exec.requests)
}

func TestPipelinePlaceholderWithSameNameIsProcessed(t *testing.T) {
	f := newPipelineFixture(t, cdnServer(t, http.StatusOK, 10), "half.png")
	require.NoError(t, f.store.Create(context.Background(), &domain.ImageRecord{ID: "old", ImageName: "half.png"}))

	res, err := f.pipeline.Process(context.Background(), "half.png")
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, testID, res.ID)
}

func TestPipelineDedupLookupFailureContinues(t *testing.T) {
	f := newPipelineFixture(t, cdnServer(t, http.StatusOK, 10), "x.png")
	f.store.findErr = errors.New("connection reset")

	res, err := f.pipeline.Process(context.Background(), "x.png")
	require.NoError(t, err)
	assert.True(t, res.Analyzed)
	assert.True(t, hasLog(f.hook, logrus.WarnLevel, "Dedup lookup failed"))
}

func TestPipelineMissingFileName(t *testing.T) {
	f := newPipelineFixture(t, cdnServer(t, http.StatusOK, 10))

	_, err := f.pipeline.Process(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrMissingFileName)
}

func TestPipelineObjectMissingAfterRename(t *testing.T) {
	f := newPipelineFixture(t, cdnServer(t, http.StatusOK, 10), "a.png")
	f.objects.listEmpty = true

	_, err := f.pipeline.Process(context.Background(), "a.png")
	assert.ErrorIs(t, err, ErrObjectMissing)
	assert.Zero(t, f.store.count())
}

func TestPipelineUnreachableURL(t *testing.T) {
	f := newPipelineFixture(t, cdnServer(t, http.StatusForbidden, 10), "a.png")

	_, err := f.pipeline.Process(context.Background(), "a.png")
	require.ErrorIs(t, err, ErrUnreachable)
	assert.Contains(t, err.Error(), "403")
	assert.Zero(t, f.store.count())
}

func TestPipelinePlaceholderInsertFails(t *testing.T) {
	f := newPipelineFixture(t, cdnServer(t, http.StatusOK, 10), "a.png")
	f.store.createErr = errors.New("unique violation")

	_, err := f.pipeline.Process(context.Background(), "a.png")
	assert.ErrorIs(t, err, ErrDatabase)
	assert.Empty(t, f.exec.requests)
}

func TestPipelineAnalysisFailureKeepsPlaceholder(t *testing.T) {
	f := newPipelineFixture(t, cdnServer(t, http.StatusOK, 10), "a.png")
	f.exec.errs = []error{&UpstreamError{Service: "vision", Model: "gpt-4o", StatusCode: 500}}

	res, err := f.pipeline.Process(context.Background(), "a.png")
	require.NoError(t, err)

	assert.False(t, res.Analyzed)
	assert.Equal(t, testID, res.ID)
	assert.Empty(t, f.store.rows[testID].Description)
	assert.True(t, hasLog(f.hook, logrus.ErrorLevel, "row left as placeholder"))
}

func TestPipelineEmptyModelAnswerKeepsPlaceholder(t *testing.T) {
	f := newPipelineFixture(t, cdnServer(t, http.StatusOK, 10), "a.png")
	f.exec.responses = []*VisionResponse{visionReply("", 100, 0), visionReply("", 100, 0)}

	res, err := f.pipeline.Process(context.Background(), "a.png")
	require.NoError(t, err)

	assert.False(t, res.Analyzed)
	assert.Empty(t, f.store.updates)
	assert.Empty(t, f.embedder.texts)
}

func TestPipelineEmbeddingFailureStillStoresAnalysis(t *testing.T) {
	f := newPipelineFixture(t, cdnServer(t, http.StatusOK, 10), "a.png")
	f.embedder.err = errors.New("embedding quota exceeded")

	res, err := f.pipeline.Process(context.Background(), "a.png")
	require.NoError(t, err)

	assert.True(t, res.Analyzed)
	update := f.store.updates[testID]
	require.NotNil(t, update)
	assert.Equal(t, "A red apple", update.Description)
	assert.Empty(t, update.Embedding)
	assert.Empty(t, f.index.payloads)
}

func TestPipelineSizeAndTokenAlerts(t *testing.T) {
	f := newPipelineFixture(t, cdnServer(t, http.StatusOK, 25<<20), "big.png")
	f.exec.responses = []*VisionResponse{visionReply(confidentDoc, 6000, 200)}

	_, err := f.pipeline.Process(context.Background(), "big.png")
	require.NoError(t, err)

	assert.True(t, hasLog(f.hook, logrus.ErrorLevel, "Image is very large"))
	assert.True(t, hasLog(f.hook, logrus.ErrorLevel, "Prompt token usage far above expected"))
}

func TestPipelineIndexFailureIsBestEffort(t *testing.T) {
	f := newPipelineFixture(t, cdnServer(t, http.StatusOK, 10), "a.png")
	f.index.err = errors.New("qdrant down")

	res, err := f.pipeline.Process(context.Background(), "a.png")
	require.NoError(t, err)
	assert.True(t, res.Analyzed)
	assert.True(t, hasLog(f.hook, logrus.WarnLevel, "Failed to mirror vector"))
}

func TestRenamedKey(t *testing.T) {
	assert.Equal(t, "id.png", renamedKey("id", "photo.PNG"))
	assert.Equal(t, "id.jpeg", renamedKey("id", "dir/a.b.jpeg"))
	assert.Equal(t, "id", renamedKey("id", "README"))
	assert.Equal(t, "id", renamedKey("id", "trailing."))
}

func TestSleepContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepContext(context.Background(), 0))
}

func TestRandomJitterBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := randomJitter(100*time.Millisecond, 600*time.Millisecond)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.Less(t, d, 600*time.Millisecond)
	}
	assert.Equal(t, time.Second, randomJitter(time.Second, time.Second))
}
