package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"docchat/config"
	"docchat/core"
	"docchat/logger"
)

// MilvusVectorIndex is the external ANN backend. It shares the
// VectorIndex contract with the in-process scan: per-document top-k
// cosine retrieval with deterministic tie-breaking.
type MilvusVectorIndex struct {
	mc   client.Client
	coll string
	dim  int
}

func NewMilvusVectorIndex(ctx context.Context, cfg config.StoreConfig, dim int) (*MilvusVectorIndex, error) {
	mc, err := client.NewClient(ctx, client.Config{
		Address:  cfg.MilvusAddr,
		Username: cfg.MilvusUsername,
		Password: cfg.MilvusPassword,
		APIKey:   cfg.MilvusAPIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("connect milvus: %w", err)
	}

	coll := cfg.MilvusCollection
	if coll == "" {
		coll = "document_chunks"
	}
	s := &MilvusVectorIndex{mc: mc, coll: coll, dim: dim}
	if err := s.ensureSchemaAndIndex(ctx); err != nil {
		mc.Close()
		return nil, err
	}
	logger.Info("milvus index initialized",
		zap.String("collection", coll),
		zap.Int("dim", dim),
	)
	return s, nil
}

func (s *MilvusVectorIndex) Close() error {
	return s.mc.Close()
}

func (s *MilvusVectorIndex) ensureSchemaAndIndex(ctx context.Context) error {
	has, err := s.mc.HasCollection(ctx, s.coll)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if !has {
		schema := entity.NewSchema().WithName(s.coll)
		schema.WithField(entity.NewField().WithName("id").WithIsAutoID(true).WithIsPrimaryKey(true).WithDataType(entity.FieldTypeInt64))
		schema.WithField(entity.NewField().WithName("document_id").WithDataType(entity.FieldTypeVarChar).WithMaxLength(64))
		schema.WithField(entity.NewField().WithName("chunk_index").WithDataType(entity.FieldTypeInt64))
		schema.WithField(entity.NewField().WithName("text").WithDataType(entity.FieldTypeVarChar).WithMaxLength(4096))
		schema.WithField(entity.NewField().WithName("start_time").WithDataType(entity.FieldTypeDouble))
		schema.WithField(entity.NewField().WithName("end_time").WithDataType(entity.FieldTypeDouble))
		schema.WithField(entity.NewField().WithName("has_time").WithDataType(entity.FieldTypeBool))
		schema.WithField(entity.NewField().WithName("vector").WithDataType(entity.FieldTypeFloatVector).WithDim(int64(s.dim)))

		if err := s.mc.CreateCollection(ctx, schema, int32(2)); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
	}
	idx, err := entity.NewIndexHNSW(entity.COSINE, 8, 200)
	if err != nil {
		return fmt.Errorf("new hnsw index: %w", err)
	}
	if err := s.mc.CreateIndex(ctx, s.coll, "vector", idx, false, client.WithIndexName("idx_vector")); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	if err := s.mc.LoadCollection(ctx, s.coll, false); err != nil {
		return fmt.Errorf("load collection: %w", err)
	}
	return nil
}

func documentFilter(documentID string) string {
	return fmt.Sprintf("document_id == %q", strings.ReplaceAll(documentID, `"`, `\"`))
}

func (s *MilvusVectorIndex) Upsert(ctx context.Context, documentID string, chunks []core.Chunk) error {
	if documentID == "" {
		return core.ValidationErrorf("document id required")
	}

	// Milvus has no multi-statement transaction; delete-then-insert
	// leaves a short window where the document looks empty, which
	// readers treat as not ready rather than partially written.
	if err := s.mc.Delete(ctx, s.coll, "", documentFilter(documentID)); err != nil {
		return fmt.Errorf("clear old chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil
	}

	docIDs := make([]string, 0, len(chunks))
	indexes := make([]int64, 0, len(chunks))
	texts := make([]string, 0, len(chunks))
	starts := make([]float64, 0, len(chunks))
	ends := make([]float64, 0, len(chunks))
	hasTimes := make([]bool, 0, len(chunks))
	vectors := make([][]float32, 0, len(chunks))
	for _, c := range chunks {
		docIDs = append(docIDs, documentID)
		indexes = append(indexes, int64(c.Index))
		texts = append(texts, c.Text)
		starts = append(starts, c.Start)
		ends = append(ends, c.End)
		hasTimes = append(hasTimes, c.HasTime)
		vectors = append(vectors, c.Embedding)
	}

	_, err := s.mc.Insert(ctx, s.coll, "",
		entity.NewColumnVarChar("document_id", docIDs),
		entity.NewColumnInt64("chunk_index", indexes),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnDouble("start_time", starts),
		entity.NewColumnDouble("end_time", ends),
		entity.NewColumnBool("has_time", hasTimes),
		entity.NewColumnFloatVector("vector", s.dim, vectors),
	)
	if err != nil {
		return fmt.Errorf("insert chunks: %w", err)
	}
	if err := s.mc.Flush(ctx, s.coll, false); err != nil {
		return fmt.Errorf("flush collection: %w", err)
	}
	return nil
}

func (s *MilvusVectorIndex) Query(ctx context.Context, documentID string, queryVector []float32, topK int) ([]core.RetrievalHit, error) {
	if topK < 1 {
		return nil, core.ValidationErrorf("top_k must be >= 1, got %d", topK)
	}
	if isZeroVector(queryVector) {
		return s.queryZeroVector(ctx, documentID, topK)
	}

	sp, _ := entity.NewIndexHNSWSearchParam(74)
	outputFields := []string{"chunk_index", "text", "start_time", "end_time", "has_time"}
	res, err := s.mc.Search(ctx, s.coll, []string{}, documentFilter(documentID), outputFields,
		[]entity.Vector{entity.FloatVector(queryVector)}, "vector", entity.COSINE, topK, sp)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}

	var hits []core.RetrievalHit
	for _, r := range res {
		cols := map[string]entity.Column{}
		for _, c := range r.Fields {
			cols[c.Name()] = c
		}
		for i := 0; i < r.ResultCount; i++ {
			var chunk core.Chunk
			if c, ok := cols["chunk_index"].(*entity.ColumnInt64); ok && i < len(c.Data()) {
				chunk.Index = int(c.Data()[i])
			}
			if c, ok := cols["text"].(*entity.ColumnVarChar); ok && i < len(c.Data()) {
				chunk.Text = c.Data()[i]
			}
			if c, ok := cols["start_time"].(*entity.ColumnDouble); ok && i < len(c.Data()) {
				chunk.Start = c.Data()[i]
			}
			if c, ok := cols["end_time"].(*entity.ColumnDouble); ok && i < len(c.Data()) {
				chunk.End = c.Data()[i]
			}
			if c, ok := cols["has_time"].(*entity.ColumnBool); ok && i < len(c.Data()) {
				chunk.HasTime = c.Data()[i]
			}
			hits = append(hits, core.RetrievalHit{Chunk: chunk, Score: float64(r.Scores[i])})
		}
	}
	if len(hits) == 0 {
		return nil, core.NotFoundErrorf("document %s has no indexed chunks", documentID)
	}
	// Milvus returns score order but not a defined tie order; re-rank
	// for the deterministic tie-break on chunk index.
	return rankHits(hits, topK), nil
}

// queryZeroVector serves the zero-query-vector edge case: every
// similarity is pinned to 0, so return the first topK chunks in index
// order via a scalar query.
func (s *MilvusVectorIndex) queryZeroVector(ctx context.Context, documentID string, topK int) ([]core.RetrievalHit, error) {
	res, err := s.mc.Query(ctx, s.coll, []string{}, documentFilter(documentID),
		[]string{"chunk_index", "text", "start_time", "end_time", "has_time"})
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}

	cols := map[string]entity.Column{}
	n := 0
	for _, c := range res {
		cols[c.Name()] = c
		if c.Len() > n {
			n = c.Len()
		}
	}
	hits := make([]core.RetrievalHit, 0, n)
	for i := 0; i < n; i++ {
		var chunk core.Chunk
		if c, ok := cols["chunk_index"].(*entity.ColumnInt64); ok && i < len(c.Data()) {
			chunk.Index = int(c.Data()[i])
		}
		if c, ok := cols["text"].(*entity.ColumnVarChar); ok && i < len(c.Data()) {
			chunk.Text = c.Data()[i]
		}
		if c, ok := cols["start_time"].(*entity.ColumnDouble); ok && i < len(c.Data()) {
			chunk.Start = c.Data()[i]
		}
		if c, ok := cols["end_time"].(*entity.ColumnDouble); ok && i < len(c.Data()) {
			chunk.End = c.Data()[i]
		}
		if c, ok := cols["has_time"].(*entity.ColumnBool); ok && i < len(c.Data()) {
			chunk.HasTime = c.Data()[i]
		}
		hits = append(hits, core.RetrievalHit{Chunk: chunk, Score: 0})
	}
	if len(hits) == 0 {
		return nil, core.NotFoundErrorf("document %s has no indexed chunks", documentID)
	}
	return rankHits(hits, topK), nil
}

func (s *MilvusVectorIndex) Delete(ctx context.Context, documentID string) error {
	if err := s.mc.Delete(ctx, s.coll, "", documentFilter(documentID)); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

var _ VectorIndex = (*MilvusVectorIndex)(nil)
