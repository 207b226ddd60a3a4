package service

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synthia/internal/domain"
)

func newTestService(t *testing.T, emb *conceptEmbedder, opts Options) (*FragmentServiceImpl, *recordingStore) {
	t.Helper()
	st := newRecordingStore(emb.Dimension())
	return NewFragmentService(staticChunker{}, emb, st, echoSummarizer{}, opts), st
}

func TestFragmentIDNormalizesWhitespaceOnly(t *testing.T) {
	id := FragmentID("Cats are small felines.")
	assert.Len(t, id, 32)
	assert.Equal(t, id, FragmentID("  Cats   are\nsmall\tfelines.  "))
	assert.NotEqual(t, id, FragmentID("cats are small felines."))
}

func TestUploadIsIdempotent(t *testing.T) {
	svc, st := newTestService(t, &conceptEmbedder{}, Options{})
	ctx := context.Background()

	id1, err := svc.Upload(ctx, "Cats are small domesticated felines.")
	require.NoError(t, err)
	id2, err := svc.Upload(ctx, "Cats are small domesticated felines.")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	matches, err := svc.Query(ctx, "cats", 10)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
	assert.Equal(t, 2, st.upsertCount())
}

func TestUploadRejectsBlankText(t *testing.T) {
	emb := &conceptEmbedder{}
	svc, st := newTestService(t, emb, Options{})
	_, err := svc.Upload(context.Background(), "   \n")
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Zero(t, emb.calls.Load())
	assert.Zero(t, st.upsertCount())
}

func TestUploadEmbeddingFailureDoesNotUpsert(t *testing.T) {
	svc, st := newTestService(t, &conceptEmbedder{err: errProvider}, Options{})
	_, err := svc.Upload(context.Background(), "Cats purr.")
	require.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
	assert.Zero(t, st.upsertCount())
}

func TestUploadEmbeddingTimeout(t *testing.T) {
	svc, st := newTestService(t, &conceptEmbedder{delay: time.Second}, Options{CallTimeout: 20 * time.Millisecond})
	_, err := svc.Upload(context.Background(), "Cats purr.")
	require.ErrorIs(t, err, domain.ErrDependencyTimeout)
	assert.Zero(t, st.upsertCount())
}

func TestQueryRanksRelatedFragmentFirst(t *testing.T) {
	svc, _ := newTestService(t, &conceptEmbedder{}, Options{})
	ctx := context.Background()
	catID, err := svc.Upload(ctx, "Cats are small domesticated felines.")
	require.NoError(t, err)
	stockID, err := svc.Upload(ctx, "The stock market fell sharply today.")
	require.NoError(t, err)

	matches, err := svc.Query(ctx, "Tell me about kittens and cats", 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, catID, matches[0].ID)
	assert.Equal(t, stockID, matches[1].ID)
	assert.Greater(t, matches[0].Score, matches[1].Score)
	assert.Equal(t, "Cats are small domesticated felines.", matches[0].Text)

	matches, err = svc.Query(ctx, "cats", 1)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestQueryValidation(t *testing.T) {
	svc, _ := newTestService(t, &conceptEmbedder{}, Options{})
	_, err := svc.Query(context.Background(), "", 5)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = svc.Query(context.Background(), "cats", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestScoreRanksRelatedFragmentHigher(t *testing.T) {
	svc, _ := newTestService(t, &conceptEmbedder{}, Options{})
	ctx := context.Background()
	catID, err := svc.Upload(ctx, "Cats are small domesticated felines.")
	require.NoError(t, err)
	stockID, err := svc.Upload(ctx, "The stock market fell sharply today.")
	require.NoError(t, err)

	got, err := svc.Score(ctx, "Cats are wonderful pets that love to purr.", []string{catID, stockID})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Greater(t, got[catID], got[stockID])
	for _, v := range got {
		assert.GreaterOrEqual(t, v, -1.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}

func TestScoreOfIdenticalTextIsOne(t *testing.T) {
	svc, _ := newTestService(t, &conceptEmbedder{}, Options{})
	text := "Cats purr when the market is calm."
	id, err := svc.Upload(context.Background(), text)
	require.NoError(t, err)
	got, err := svc.Score(context.Background(), text, []string{id})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got[id], 1e-9)
}

func TestScoreEmptyListMakesNoCalls(t *testing.T) {
	emb := &conceptEmbedder{}
	svc, st := newTestService(t, emb, Options{})
	got, err := svc.Score(context.Background(), "any paper", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
	assert.Zero(t, emb.calls.Load())
	assert.Zero(t, st.fetches.Load())
}

func TestScoreValidation(t *testing.T) {
	svc, _ := newTestService(t, &conceptEmbedder{}, Options{})
	_, err := svc.Score(context.Background(), "  ", []string{"a"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = svc.Score(context.Background(), "paper", []string{"a", " "})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestScoreUnknownIDFailsWholeCall(t *testing.T) {
	emb := &conceptEmbedder{}
	svc, _ := newTestService(t, emb, Options{})
	id, err := svc.Upload(context.Background(), "Cats purr.")
	require.NoError(t, err)
	emb.calls.Store(0)

	got, err := svc.Score(context.Background(), "cats", []string{id, "deadbeef"})
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, err.Error(), "deadbeef")
	assert.Nil(t, got)
	assert.Zero(t, emb.calls.Load(), "paper must not be embedded when a fetch fails")
}

func TestScoreDeduplicatesIDs(t *testing.T) {
	svc, st := newTestService(t, &conceptEmbedder{}, Options{})
	id, err := svc.Upload(context.Background(), "Cats purr.")
	require.NoError(t, err)
	got, err := svc.Score(context.Background(), "cats", []string{id, id, id})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.EqualValues(t, 1, st.fetches.Load())
}

func TestScoreFetchTimeout(t *testing.T) {
	svc, st := newTestService(t, &conceptEmbedder{}, Options{CallTimeout: 20 * time.Millisecond})
	st.fetchBlock = true
	_, err := svc.Score(context.Background(), "cats", []string{"a", "b"})
	require.ErrorIs(t, err, domain.ErrDependencyTimeout)
}

func TestScoreEmbeddingFailure(t *testing.T) {
	emb := &conceptEmbedder{}
	svc, _ := newTestService(t, emb, Options{})
	id, err := svc.Upload(context.Background(), "Cats purr.")
	require.NoError(t, err)
	emb.err = errProvider
	_, err = svc.Score(context.Background(), "cats", []string{id})
	require.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
}

func TestScoreDimensionMismatch(t *testing.T) {
	emb := &conceptEmbedder{}
	svc, st := newTestService(t, emb, Options{})
	// a fragment stored by an older, wider embedder
	require.NoError(t, st.Storage.Init(context.Background(), 4))
	require.NoError(t, st.Storage.Upsert(context.Background(), svc.Namespace(), []domain.Fragment{{ID: "old", Text: "x", Vector: []float64{1, 0, 0, 0}}}))

	_, err := svc.Score(context.Background(), "cats", []string{"old"})
	require.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestNamespacesAreIsolated(t *testing.T) {
	emb := &conceptEmbedder{}
	st := newRecordingStore(3)
	a := NewFragmentService(staticChunker{}, emb, st, echoSummarizer{}, Options{Namespace: "a"})
	b := NewFragmentService(staticChunker{}, emb, st, echoSummarizer{}, Options{Namespace: "b"})
	id, err := a.Upload(context.Background(), "Cats purr.")
	require.NoError(t, err)

	_, err = b.Score(context.Background(), "cats", []string{id})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, "mcp-namespace", NewFragmentService(nil, emb, st, nil, Options{}).Namespace())
}

func TestIngestDocuments(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cats.txt"), []byte("Cats purr.\n\nKittens play."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "market.md"), []byte("The stock market fell."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.csv"), []byte("a,b"), 0o644))

	svc, _ := newTestService(t, &conceptEmbedder{}, Options{})
	report, err := svc.IngestDocuments(context.Background(), []string{filepath.Join(dir, "*")})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Documents)
	assert.Len(t, report.FragmentIDs, 3)
	assert.Contains(t, report.Summary, "Kittens play.")

	matches, err := svc.Query(context.Background(), "stock market", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, filepath.Join(dir, "market.md"), matches[0].Source)

	again, err := svc.IngestDocuments(context.Background(), []string{filepath.Join(dir, "*.txt")})
	require.NoError(t, err)
	assert.Subset(t, report.FragmentIDs, again.FragmentIDs)
}

func TestIngestDocumentsWithNothingUsable(t *testing.T) {
	svc, _ := newTestService(t, &conceptEmbedder{}, Options{})
	_, err := svc.IngestDocuments(context.Background(), []string{filepath.Join(t.TempDir(), "*.txt")})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCosineNeverNaN(t *testing.T) {
	svc, _ := newTestService(t, &conceptEmbedder{}, Options{})
	id, err := svc.Upload(context.Background(), "Cats purr.")
	require.NoError(t, err)
	got, err := svc.Score(context.Background(), "stock", []string{id})
	require.NoError(t, err)
	assert.False(t, math.IsNaN(got[id]))
}
