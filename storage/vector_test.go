package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/core"
)

func TestCosine(t *testing.T) {
	a := []float32{1, 2, 3}

	assert.InDelta(t, 1.0, Cosine(a, a), 1e-9, "self similarity")
	assert.InDelta(t, Cosine(a, []float32{3, 2, 1}), Cosine([]float32{3, 2, 1}, a), 1e-9, "symmetry")
	assert.Equal(t, 0.0, Cosine(a, []float32{0, 0, 0}), "zero vector")
	assert.Equal(t, 0.0, Cosine(a, []float32{1, 2}), "length mismatch")
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9, "orthogonal")
	assert.InDelta(t, -1.0, Cosine([]float32{1, 1}, []float32{-1, -1}), 1e-9, "opposite")
}

func indexWithChunks(t *testing.T, chunks []core.Chunk) *MemoryVectorIndex {
	t.Helper()
	idx := NewMemoryVectorIndex()
	require.NoError(t, idx.Upsert(context.Background(), "doc-1", chunks))
	return idx
}

func TestQueryRanksByScore(t *testing.T) {
	idx := indexWithChunks(t, []core.Chunk{
		{Index: 0, Text: "far", Embedding: []float32{0, 1, 0}},
		{Index: 1, Text: "near", Embedding: []float32{1, 0.1, 0}},
		{Index: 2, Text: "exact", Embedding: []float32{1, 0, 0}},
	})

	hits, err := idx.Query(context.Background(), "doc-1", []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, 2, hits[0].Chunk.Index)
	assert.Equal(t, 1, hits[1].Chunk.Index)
	assert.Equal(t, 0, hits[2].Chunk.Index)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
}

func TestQueryTopKTruncates(t *testing.T) {
	idx := indexWithChunks(t, []core.Chunk{
		{Index: 0, Embedding: []float32{1, 0}},
		{Index: 1, Embedding: []float32{0, 1}},
		{Index: 2, Embedding: []float32{1, 1}},
	})

	hits, err := idx.Query(context.Background(), "doc-1", []float32{1, 0}, 2)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	// topK larger than the corpus returns everything.
	hits, err = idx.Query(context.Background(), "doc-1", []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 3)
}

func TestQueryTieBreaksByChunkIndex(t *testing.T) {
	// Identical embeddings give identical scores.
	emb := []float32{1, 2, 3}
	idx := indexWithChunks(t, []core.Chunk{
		{Index: 2, Embedding: emb},
		{Index: 0, Embedding: emb},
		{Index: 1, Embedding: emb},
	})

	hits, err := idx.Query(context.Background(), "doc-1", emb, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, 0, hits[0].Chunk.Index)
	assert.Equal(t, 1, hits[1].Chunk.Index)
	assert.Equal(t, 2, hits[2].Chunk.Index)
}

func TestQueryZeroVectorScoresZero(t *testing.T) {
	idx := indexWithChunks(t, []core.Chunk{
		{Index: 0, Embedding: []float32{1, 0}},
		{Index: 1, Embedding: []float32{0, 1}},
	})

	hits, err := idx.Query(context.Background(), "doc-1", []float32{0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Equal(t, 0.0, h.Score)
	}
	// Ties on zero fall back to index order.
	assert.Equal(t, 0, hits[0].Chunk.Index)
	assert.Equal(t, 1, hits[1].Chunk.Index)
}

func TestQueryUnknownDocument(t *testing.T) {
	idx := NewMemoryVectorIndex()
	_, err := idx.Query(context.Background(), "missing", []float32{1}, 5)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestQueryInvalidTopK(t *testing.T) {
	idx := NewMemoryVectorIndex()
	_, err := idx.Query(context.Background(), "doc-1", []float32{1}, 0)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestUpsertReplacesWholeDocument(t *testing.T) {
	idx := indexWithChunks(t, []core.Chunk{
		{Index: 0, Text: "old", Embedding: []float32{1, 0}},
		{Index: 1, Text: "old too", Embedding: []float32{0, 1}},
	})

	require.NoError(t, idx.Upsert(context.Background(), "doc-1", []core.Chunk{
		{Index: 0, Text: "new", Embedding: []float32{1, 1}},
	}))

	hits, err := idx.Query(context.Background(), "doc-1", []float32{1, 1}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "new", hits[0].Chunk.Text)
}

func TestDeleteIsIdempotent(t *testing.T) {
	idx := indexWithChunks(t, []core.Chunk{{Index: 0, Embedding: []float32{1}}})

	require.NoError(t, idx.Delete(context.Background(), "doc-1"))
	require.NoError(t, idx.Delete(context.Background(), "doc-1"))

	_, err := idx.Query(context.Background(), "doc-1", []float32{1}, 1)
	assert.ErrorIs(t, err, core.ErrNotFound)
}
