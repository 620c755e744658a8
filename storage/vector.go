package storage

import (
	"context"
	"math"
	"sort"
	"sync"

	"docchat/core"
)

// VectorIndex stores embedded chunks per document and answers top-k
// nearest-neighbour queries by cosine similarity.
//
// Upsert replaces a document's full chunk set atomically from the
// caller's perspective: a concurrent reader sees either all-old or
// all-new chunks, never a mix. Delete is idempotent.
type VectorIndex interface {
	Upsert(ctx context.Context, documentID string, chunks []core.Chunk) error
	Query(ctx context.Context, documentID string, queryVector []float32, topK int) ([]core.RetrievalHit, error)
	Delete(ctx context.Context, documentID string) error
}

// Cosine computes cosine similarity between two vectors. Zero vectors
// (and mismatched lengths) score 0 rather than dividing by zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// isZeroVector reports whether every component is zero.
func isZeroVector(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// rankHits sorts hits by descending score, ties broken by ascending
// chunk index, and truncates to topK.
func rankHits(hits []core.RetrievalHit, topK int) []core.RetrievalHit {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.Index < hits[j].Chunk.Index
	})
	if topK < len(hits) {
		hits = hits[:topK]
	}
	return hits
}

// MemoryVectorIndex is the in-process exact cosine scan backend.
type MemoryVectorIndex struct {
	mu   sync.RWMutex
	docs map[string][]core.Chunk
}

func NewMemoryVectorIndex() *MemoryVectorIndex {
	return &MemoryVectorIndex{docs: map[string][]core.Chunk{}}
}

func (s *MemoryVectorIndex) Upsert(ctx context.Context, documentID string, chunks []core.Chunk) error {
	if documentID == "" {
		return core.ValidationErrorf("document id required")
	}
	stored := make([]core.Chunk, len(chunks))
	copy(stored, chunks)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[documentID] = stored
	return nil
}

func (s *MemoryVectorIndex) Query(ctx context.Context, documentID string, queryVector []float32, topK int) ([]core.RetrievalHit, error) {
	if topK < 1 {
		return nil, core.ValidationErrorf("top_k must be >= 1, got %d", topK)
	}

	s.mu.RLock()
	chunks, ok := s.docs[documentID]
	s.mu.RUnlock()
	if !ok {
		return nil, core.NotFoundErrorf("document %s has no indexed chunks", documentID)
	}

	hits := make([]core.RetrievalHit, 0, len(chunks))
	for _, c := range chunks {
		hits = append(hits, core.RetrievalHit{Chunk: c, Score: Cosine(queryVector, c.Embedding)})
	}
	return rankHits(hits, topK), nil
}

func (s *MemoryVectorIndex) Delete(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, documentID)
	return nil
}

var _ VectorIndex = (*MemoryVectorIndex)(nil)
