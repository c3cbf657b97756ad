package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/jobimport/internal/models"
	"github.com/xhad/jobimport/internal/testutil"
	"github.com/xhad/jobimport/pkg/store"
)

var chunks = []models.Chunk{
	{ID: "d_0", SourceID: "d", Index: 0, Text: "Senior Engineer building ingestion services"},
	{ID: "d_1", SourceID: "d", Index: 1, Text: "Acme Corp is an equal opportunity employer"},
	{ID: "d_2", SourceID: "d", Index: 2, Text: "Benefits include remote work and a learning budget"},
}

func TestIndexBuildAndSearch(t *testing.T) {
	ctx := context.Background()
	index, err := store.NewIndexer(&testutil.Embedder{}).Build(ctx, chunks)
	require.NoError(t, err)
	assert.Equal(t, 3, index.Len())

	results, err := index.Search(ctx, testutil.Vector("which company is the employer Acme Corp"), 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "d_1", results[0].ID)
	assert.Equal(t, chunks[1], results[0])
}

func TestIndexSearchClampsK(t *testing.T) {
	ctx := context.Background()
	index, err := store.NewIndexer(&testutil.Embedder{}).Build(ctx, chunks)
	require.NoError(t, err)

	results, err := index.Search(ctx, testutil.Vector("remote work"), 10)
	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.Equal(t, "d_2", results[0].ID)
}

func TestIndexSearchIsStable(t *testing.T) {
	ctx := context.Background()
	index, err := store.NewIndexer(&testutil.Embedder{}).Build(ctx, chunks)
	require.NoError(t, err)

	q := testutil.Vector("engineer")
	first, err := index.Search(ctx, q, 3)
	require.NoError(t, err)
	second, err := index.Search(ctx, q, 3)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestIndexEmpty(t *testing.T) {
	ctx := context.Background()
	emb := &testutil.Embedder{}
	index, err := store.NewIndexer(emb).Build(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, index.Len())
	assert.Equal(t, 0, emb.Calls)

	results, err := index.Search(ctx, testutil.Vector("anything"), 4)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestIndexDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	index, err := store.NewIndexer(&testutil.Embedder{}).Build(ctx, chunks)
	require.NoError(t, err)

	_, err = index.Search(ctx, []float32{1, 2, 3}, 2)
	assert.Error(t, err)
}

func TestIndexBuildEmbeddingFailure(t *testing.T) {
	emb := &testutil.Embedder{FailFirst: 1, Err: &models.EmbeddingError{Op: "documents", Err: errors.New("unreachable")}}
	_, err := store.NewIndexer(emb).Build(context.Background(), chunks)
	assert.ErrorIs(t, err, models.ErrEmbedding)
}
