package processors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/core"
	"docchat/providers"
	"docchat/storage"
)

type pipelineFixture struct {
	provider   *providers.MockProvider
	vectors    *storage.MemoryVectorIndex
	timestamps *storage.MemoryTimestampIndex
	documents  *storage.MemoryDocumentStore
	pipeline   *Pipeline
}

// stubRunner serves canned output for pdftotext and ffmpeg so pipeline
// tests run without external binaries.
type stubRunner struct {
	output []byte
	err    error
	calls  [][]string
}

func (r *stubRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	return r.output, r.err
}

func newPipelineFixture(runner Runner) *pipelineFixture {
	f := &pipelineFixture{
		provider:   providers.NewMockProvider(),
		vectors:    storage.NewMemoryVectorIndex(),
		timestamps: storage.NewMemoryTimestampIndex(),
		documents:  storage.NewMemoryDocumentStore(),
	}
	extractor := NewExtractorWithRunner(f.provider, runner)
	f.pipeline = NewPipeline(f.provider, extractor, f.vectors, f.timestamps, f.documents, 1000, 200)
	return f
}

func TestProcessUploadPDF(t *testing.T) {
	runner := &stubRunner{output: []byte("Extracted report text about quarterly results.")}
	f := newPipelineFixture(runner)

	doc, err := f.pipeline.ProcessUpload(context.Background(), "/tmp/report.pdf", "report.pdf")
	require.NoError(t, err)
	assert.Equal(t, core.FileTypePDF, doc.FileType)
	assert.NotEmpty(t, doc.ID)
	assert.NotEmpty(t, doc.Summary)
	assert.Empty(t, doc.Segments)

	// Document is ready: metadata readable and chunks queryable.
	stored, err := f.documents.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", stored.Filename)

	vec, err := f.provider.Embed(context.Background(), "quarterly results")
	require.NoError(t, err)
	hits, err := f.vectors.Query(context.Background(), doc.ID, vec, 5)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)

	// PDFs carry no timestamps.
	_, err = f.timestamps.List(context.Background(), doc.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestProcessUploadAudio(t *testing.T) {
	f := newPipelineFixture(&stubRunner{})

	doc, err := f.pipeline.ProcessUpload(context.Background(), "/tmp/talk.mp3", "talk.mp3")
	require.NoError(t, err)
	assert.Equal(t, core.FileTypeAudio, doc.FileType)
	require.Len(t, doc.Segments, 2)

	segs, err := f.timestamps.List(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Len(t, segs, 2)

	vec, err := f.provider.Embed(context.Background(), "placeholder transcript")
	require.NoError(t, err)
	hits, err := f.vectors.Query(context.Background(), doc.ID, vec, 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.True(t, hits[0].Chunk.HasTime)
}

func TestProcessUploadUnsupportedExtension(t *testing.T) {
	f := newPipelineFixture(&stubRunner{})

	_, err := f.pipeline.ProcessUpload(context.Background(), "/tmp/notes.txt", "notes.txt")
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestProcessUploadEmptyPDF(t *testing.T) {
	runner := &stubRunner{output: []byte("   \n ")}
	f := newPipelineFixture(runner)

	_, err := f.pipeline.ProcessUpload(context.Background(), "/tmp/blank.pdf", "blank.pdf")
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestProcessUploadEmbedFailureLeavesNothingBehind(t *testing.T) {
	f := newPipelineFixture(&stubRunner{})
	f.provider.EmbedErr = core.ProviderErrorf("embedding backend down")

	_, err := f.pipeline.ProcessUpload(context.Background(), "/tmp/talk.mp3", "talk.mp3")
	require.ErrorIs(t, err, core.ErrProvider)

	// No partially processed document is ever visible or queryable.
	_, err = f.vectors.Query(context.Background(), "any", []float32{1}, 1)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = f.timestamps.List(context.Background(), "any")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestProcessUploadSummaryFailureRollsBackIndexes(t *testing.T) {
	f := newPipelineFixture(&stubRunner{})
	f.provider.CompleteFn = func(messages []core.ConversationTurn) (string, error) {
		return "", core.ProviderErrorf("completion backend down")
	}

	_, err := f.pipeline.ProcessUpload(context.Background(), "/tmp/talk.mp3", "talk.mp3")
	require.ErrorIs(t, err, core.ErrProvider)

	// Rollback removed the index entries written before the failure, so
	// a retried upload of the same file succeeds cleanly.
	f.provider.CompleteFn = nil
	doc, err := f.pipeline.ProcessUpload(context.Background(), "/tmp/talk.mp3", "talk.mp3")
	require.NoError(t, err)

	segs, err := f.timestamps.List(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Len(t, segs, 2)
}

func TestDeleteDocumentCascades(t *testing.T) {
	f := newPipelineFixture(&stubRunner{})
	doc, err := f.pipeline.ProcessUpload(context.Background(), "/tmp/talk.mp3", "talk.mp3")
	require.NoError(t, err)

	require.NoError(t, f.pipeline.DeleteDocument(context.Background(), doc.ID))

	_, err = f.documents.Get(context.Background(), doc.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = f.vectors.Query(context.Background(), doc.ID, []float32{1}, 1)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = f.timestamps.List(context.Background(), doc.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestDeleteDocumentUnknown(t *testing.T) {
	f := newPipelineFixture(&stubRunner{})
	err := f.pipeline.DeleteDocument(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}
