package processors

import (
	"context"
	"time"

	"go.uber.org/zap"

	"docchat/core"
	"docchat/logger"
	"docchat/metrics"
	"docchat/providers"
	"docchat/storage"
)

// Pipeline runs upload processing: extract/transcribe, chunk, embed,
// index, summarize. A document becomes visible (and therefore
// queryable) only after every step succeeds; any failure rolls back
// the partial index writes so readers never see a half-processed
// document.
type Pipeline struct {
	provider   providers.Provider
	extractor  *Extractor
	vectors    storage.VectorIndex
	timestamps storage.TimestampIndex
	documents  storage.DocumentStore

	chunkSize    int
	chunkOverlap int
}

func NewPipeline(provider providers.Provider, extractor *Extractor, vectors storage.VectorIndex, timestamps storage.TimestampIndex, documents storage.DocumentStore, chunkSize, chunkOverlap int) *Pipeline {
	return &Pipeline{
		provider:     provider,
		extractor:    extractor,
		vectors:      vectors,
		timestamps:   timestamps,
		documents:    documents,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// ProcessUpload ingests one stored file and returns the ready
// document. filePath must already contain the uploaded bytes.
func (p *Pipeline) ProcessUpload(ctx context.Context, filePath, filename string) (*core.Document, error) {
	started := time.Now()
	fileType := core.DetectFileType(filename)
	if fileType == "" {
		return nil, core.ValidationErrorf("unsupported file type for %q", filename)
	}

	doc, err := p.process(ctx, filePath, filename, fileType)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.UploadsTotal.WithLabelValues(string(fileType), outcome).Inc()
	metrics.UploadDuration.Observe(time.Since(started).Seconds())
	return doc, err
}

func (p *Pipeline) process(ctx context.Context, filePath, filename string, fileType core.FileType) (*core.Document, error) {
	text, segments, err := p.extractor.Extract(ctx, filePath, fileType)
	if err != nil {
		return nil, err
	}

	var chunks []core.Chunk
	if fileType.IsMedia() {
		chunks, err = ChunkSegments(segments, p.chunkSize, p.chunkOverlap)
	} else {
		chunks, err = ChunkText(text, p.chunkSize, p.chunkOverlap)
	}
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	// Partial embedding failure aborts the whole document; the index
	// never receives a subset of chunks.
	vectors, err := p.provider.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	for i := range chunks {
		chunks[i].Embedding = vectors[i]
	}

	doc := &core.Document{
		ID:        core.NewID(),
		Filename:  filename,
		FileType:  fileType,
		FilePath:  filePath,
		Text:      text,
		Segments:  segments,
		CreatedAt: time.Now().UTC(),
	}
	if fileType.IsMedia() {
		if dur, err := p.extractor.probeDuration(ctx, filePath); err != nil {
			logger.Debug("media duration unavailable",
				zap.String("file_path", filePath), zap.Error(err))
		} else {
			doc.DurationSec = dur
		}
	}

	if err := p.vectors.Upsert(ctx, doc.ID, chunks); err != nil {
		return nil, err
	}
	if fileType.IsMedia() {
		if err := p.timestamps.Add(ctx, doc.ID, segments); err != nil {
			p.rollback(doc.ID)
			return nil, err
		}
	}

	summary, err := Summarize(ctx, p.provider, text)
	if err != nil {
		p.rollback(doc.ID)
		return nil, err
	}
	doc.Summary = summary

	if err := p.documents.Put(ctx, doc); err != nil {
		p.rollback(doc.ID)
		return nil, err
	}

	logger.Info("upload processed",
		zap.String("document_id", doc.ID),
		zap.String("filename", filename),
		zap.String("file_type", string(fileType)),
		zap.Int("chunks", len(chunks)),
		zap.Int("segments", len(segments)),
	)
	return doc, nil
}

// rollback undoes index writes for a document that failed mid-upload.
// Runs on a fresh context so cleanup still happens when the request
// context is already cancelled.
func (p *Pipeline) rollback(documentID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.vectors.Delete(ctx, documentID); err != nil {
		logger.Warn("rollback: vector delete failed",
			zap.String("document_id", documentID), zap.Error(err))
	}
	if err := p.timestamps.Delete(ctx, documentID); err != nil {
		logger.Warn("rollback: timestamp delete failed",
			zap.String("document_id", documentID), zap.Error(err))
	}
}

// DeleteDocument cascades a document deletion across the metadata
// store, both indexes, and the stored file.
func (p *Pipeline) DeleteDocument(ctx context.Context, documentID string) error {
	doc, err := p.documents.Get(ctx, documentID)
	if err != nil {
		return err
	}
	if err := p.vectors.Delete(ctx, documentID); err != nil {
		return err
	}
	if err := p.timestamps.Delete(ctx, documentID); err != nil {
		return err
	}
	if doc.FilePath != "" {
		if err := removeFile(doc.FilePath); err != nil {
			logger.Warn("failed to remove stored file",
				zap.String("file_path", doc.FilePath), zap.Error(err))
		}
	}
	return p.documents.Delete(ctx, documentID)
}
