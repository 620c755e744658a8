package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"docchat/core"
	"docchat/logger"
)

// PgVectorIndex stores chunk embeddings in Postgres with the pgvector
// extension. A document's chunks are replaced in one transaction, so
// readers never observe a partially upserted document.
type PgVectorIndex struct {
	pool *pgxpool.Pool
	dim  int
}

func NewPgVectorIndex(ctx context.Context, postgresURL string, dim int) (*PgVectorIndex, error) {
	pool, err := pgxpool.New(ctx, postgresURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PgVectorIndex{pool: pool, dim: dim}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("pgvector index initialized", zap.Int("dim", dim))
	return s, nil
}

func (s *PgVectorIndex) Close() {
	s.pool.Close()
}

// Pool exposes the underlying connection pool so the Postgres
// document store can share it.
func (s *PgVectorIndex) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PgVectorIndex) ensureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector;"); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}

	table := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS document_chunks (
			id SERIAL PRIMARY KEY,
			document_id VARCHAR(64) NOT NULL,
			chunk_index INT NOT NULL,
			text TEXT NOT NULL,
			start_time FLOAT NOT NULL DEFAULT 0,
			end_time FLOAT NOT NULL DEFAULT 0,
			has_time BOOLEAN NOT NULL DEFAULT FALSE,
			embedding vector(%d) NOT NULL,
			UNIQUE(document_id, chunk_index)
		);
	`, s.dim)
	if _, err := s.pool.Exec(ctx, table); err != nil {
		return fmt.Errorf("create document_chunks table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_document_chunks_document_id ON document_chunks(document_id);",
		"CREATE INDEX IF NOT EXISTS idx_document_chunks_embedding ON document_chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);",
	}
	for _, q := range indexes {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			logger.Warn("failed to create index", zap.Error(err))
		}
	}
	return nil
}

func (s *PgVectorIndex) Upsert(ctx context.Context, documentID string, chunks []core.Chunk) error {
	if documentID == "" {
		return core.ValidationErrorf("document id required")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin upsert tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM document_chunks WHERE document_id = $1", documentID); err != nil {
		return fmt.Errorf("clear old chunks: %w", err)
	}
	for _, c := range chunks {
		_, err := tx.Exec(ctx, `
			INSERT INTO document_chunks (document_id, chunk_index, text, start_time, end_time, has_time, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, documentID, c.Index, c.Text, c.Start, c.End, c.HasTime, pgvector.NewVector(c.Embedding))
		if err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.Index, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert tx: %w", err)
	}
	return nil
}

func (s *PgVectorIndex) Query(ctx context.Context, documentID string, queryVector []float32, topK int) ([]core.RetrievalHit, error) {
	if topK < 1 {
		return nil, core.ValidationErrorf("top_k must be >= 1, got %d", topK)
	}

	var rows pgx.Rows
	var err error
	if isZeroVector(queryVector) {
		// Cosine distance is undefined against a zero vector; the
		// contract pins similarity to 0, so any topK chunks in index
		// order satisfy the ordering rule.
		rows, err = s.pool.Query(ctx, `
			SELECT chunk_index, text, start_time, end_time, has_time, 0::float8 AS similarity
			FROM document_chunks
			WHERE document_id = $1
			ORDER BY chunk_index
			LIMIT $2
		`, documentID, topK)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT chunk_index, text, start_time, end_time, has_time,
			       1 - (embedding <=> $2) AS similarity
			FROM document_chunks
			WHERE document_id = $1
			ORDER BY embedding <=> $2, chunk_index
			LIMIT $3
		`, documentID, pgvector.NewVector(queryVector), topK)
	}
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	hits := make([]core.RetrievalHit, 0, topK)
	for rows.Next() {
		var c core.Chunk
		var score float64
		if err := rows.Scan(&c.Index, &c.Text, &c.Start, &c.End, &c.HasTime, &score); err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}
		hits = append(hits, core.RetrievalHit{Chunk: c, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk rows: %w", err)
	}
	if len(hits) == 0 {
		return nil, core.NotFoundErrorf("document %s has no indexed chunks", documentID)
	}
	return hits, nil
}

func (s *PgVectorIndex) Delete(ctx context.Context, documentID string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM document_chunks WHERE document_id = $1", documentID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

var _ VectorIndex = (*PgVectorIndex)(nil)

// PgDocumentStore persists document metadata in the same Postgres
// database as the pgvector index.
type PgDocumentStore struct {
	pool *pgxpool.Pool
}

func NewPgDocumentStore(ctx context.Context, pool *pgxpool.Pool) (*PgDocumentStore, error) {
	table := `
		CREATE TABLE IF NOT EXISTS documents (
			id VARCHAR(64) PRIMARY KEY,
			filename VARCHAR(500) NOT NULL,
			file_type VARCHAR(16) NOT NULL,
			file_path VARCHAR(1000),
			doc_text TEXT,
			summary TEXT,
			duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
			segments JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`
	if _, err := pool.Exec(ctx, table); err != nil {
		return nil, fmt.Errorf("create documents table: %w", err)
	}
	return &PgDocumentStore{pool: pool}, nil
}

func (s *PgDocumentStore) Put(ctx context.Context, doc *core.Document) error {
	if doc == nil || doc.ID == "" {
		return core.ValidationErrorf("document id required")
	}
	segments, err := json.Marshal(doc.Segments)
	if err != nil {
		return fmt.Errorf("marshal segments: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO documents (id, filename, file_type, file_path, doc_text, summary, duration_seconds, segments, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, doc.ID, doc.Filename, string(doc.FileType), doc.FilePath, doc.Text, doc.Summary, doc.DurationSec, segments, doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ConflictErrorf("document %s already exists", doc.ID)
	}
	return nil
}

func (s *PgDocumentStore) Get(ctx context.Context, id string) (*core.Document, error) {
	var doc core.Document
	var fileType string
	var segments []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, filename, file_type, file_path, doc_text, summary, duration_seconds, segments, created_at
		FROM documents WHERE id = $1
	`, id).Scan(&doc.ID, &doc.Filename, &fileType, &doc.FilePath, &doc.Text, &doc.Summary, &doc.DurationSec, &segments, &doc.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, core.NotFoundErrorf("document %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("select document: %w", err)
	}
	doc.FileType = core.FileType(fileType)
	if len(segments) > 0 {
		if err := json.Unmarshal(segments, &doc.Segments); err != nil {
			return nil, fmt.Errorf("unmarshal segments: %w", err)
		}
	}
	return &doc, nil
}

func (s *PgDocumentStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM documents WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.NotFoundErrorf("document %s", id)
	}
	return nil
}

var _ DocumentStore = (*PgDocumentStore)(nil)
