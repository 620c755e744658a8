package rag

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/core"
	"docchat/providers"
	"docchat/storage"
)

type fixture struct {
	provider   *providers.MockProvider
	vectors    *storage.MemoryVectorIndex
	timestamps *storage.MemoryTimestampIndex
	documents  *storage.MemoryDocumentStore
	answerer   *Answerer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		provider:   providers.NewMockProvider(),
		vectors:    storage.NewMemoryVectorIndex(),
		timestamps: storage.NewMemoryTimestampIndex(),
		documents:  storage.NewMemoryDocumentStore(),
	}
	f.answerer = NewAnswerer(f.provider, f.vectors, f.timestamps, f.documents, 3, 6, 5)
	return f
}

// seedPDF indexes a ready text document with embedded chunks.
func (f *fixture) seedPDF(t *testing.T, id string, texts []string) {
	t.Helper()
	ctx := context.Background()
	vecs, err := f.provider.EmbedBatch(ctx, texts)
	require.NoError(t, err)

	chunks := make([]core.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = core.Chunk{Index: i, Text: text, Embedding: vecs[i]}
	}
	require.NoError(t, f.vectors.Upsert(ctx, id, chunks))
	require.NoError(t, f.documents.Put(ctx, &core.Document{
		ID: id, Filename: id + ".pdf", FileType: core.FileTypePDF,
	}))
}

func (f *fixture) seedMedia(t *testing.T, id string, segments []core.Segment, chunks []core.Chunk) {
	t.Helper()
	ctx := context.Background()
	for i := range chunks {
		vec, err := f.provider.Embed(ctx, chunks[i].Text)
		require.NoError(t, err)
		chunks[i].Embedding = vec
	}
	require.NoError(t, f.vectors.Upsert(ctx, id, chunks))
	require.NoError(t, f.timestamps.Add(ctx, id, segments))
	require.NoError(t, f.documents.Put(ctx, &core.Document{
		ID: id, Filename: id + ".mp3", FileType: core.FileTypeAudio, Segments: segments,
	}))
}

func TestAnswerEmptyQuestion(t *testing.T) {
	f := newFixture(t)
	f.seedPDF(t, "doc-1", []string{"some text"})

	_, err := f.answerer.Answer(context.Background(), "doc-1", "   ", nil)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestAnswerUnknownDocument(t *testing.T) {
	f := newFixture(t)
	_, err := f.answerer.Answer(context.Background(), "missing", "what is this?", nil)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestAnswerParsesCitedSources(t *testing.T) {
	f := newFixture(t)
	f.seedPDF(t, "doc-1", []string{
		"alpha section about billing",
		"beta section about refunds",
		"gamma section about shipping",
	})
	f.provider.CompleteFn = func(messages []core.ConversationTurn) (string, error) {
		return "Refunds are covered in Chunk 1.", nil
	}

	result, err := f.answerer.Answer(context.Background(), "doc-1", "how do refunds work?", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Chunk 1"}, result.Sources)
	assert.Empty(t, result.Timestamps)
}

func TestAnswerFallsBackToAllRetrievedSources(t *testing.T) {
	f := newFixture(t)
	f.seedPDF(t, "doc-1", []string{"alpha", "beta", "gamma"})
	f.provider.CompleteFn = func(messages []core.ConversationTurn) (string, error) {
		return "The document covers several topics.", nil
	}

	result, err := f.answerer.Answer(context.Background(), "doc-1", "what topics?", nil)
	require.NoError(t, err)
	assert.Len(t, result.Sources, 3)
	for _, s := range result.Sources {
		assert.Regexp(t, `^Chunk \d+$`, s)
	}
}

func TestAnswerIgnoresUnretrievedChunkMentions(t *testing.T) {
	f := newFixture(t)
	f.seedPDF(t, "doc-1", []string{"alpha", "beta"})
	f.provider.CompleteFn = func(messages []core.ConversationTurn) (string, error) {
		return "As Chunk 1 and Chunk 99 explain.", nil
	}

	result, err := f.answerer.Answer(context.Background(), "doc-1", "explain", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Chunk 1"}, result.Sources)
}

func TestAnswerHistoryWindow(t *testing.T) {
	f := newFixture(t)
	f.seedPDF(t, "doc-1", []string{"content"})

	var captured []core.ConversationTurn
	f.provider.CompleteFn = func(messages []core.ConversationTurn) (string, error) {
		captured = messages
		return "ok", nil
	}

	history := make([]core.ConversationTurn, 10)
	for i := range history {
		role := core.RoleUser
		if i%2 == 1 {
			role = core.RoleAssistant
		}
		history[i] = core.ConversationTurn{Role: role, Content: fmt.Sprintf("turn %d", i)}
	}

	_, err := f.answerer.Answer(context.Background(), "doc-1", "final question", history)
	require.NoError(t, err)

	// System prompt, last 6 history turns, then the question.
	require.Len(t, captured, 8)
	assert.Equal(t, core.RoleSystem, captured[0].Role)
	assert.Equal(t, "turn 4", captured[1].Content)
	assert.Equal(t, "turn 9", captured[6].Content)
	assert.Equal(t, "final question", captured[7].Content)
}

func TestAnswerMediaTimestamps(t *testing.T) {
	f := newFixture(t)
	segments := []core.Segment{
		{Start: 0, End: 5, Text: "intro"},
		{Start: 5, End: 12, Text: "pricing discussion"},
		{Start: 12, End: 20, Text: "closing"},
	}
	f.seedMedia(t, "doc-1", segments, []core.Chunk{
		{Index: 0, Text: "intro pricing discussion", Start: 0, End: 12, HasTime: true},
		{Index: 1, Text: "closing", Start: 12, End: 20, HasTime: true},
	})
	f.provider.CompleteFn = func(messages []core.ConversationTurn) (string, error) {
		return "Pricing comes up early on.", nil
	}

	result, err := f.answerer.Answer(context.Background(), "doc-1", "when is pricing discussed?", nil)
	require.NoError(t, err)
	require.NotEmpty(t, result.Timestamps)
	for i := 1; i < len(result.Timestamps); i++ {
		assert.LessOrEqual(t, result.Timestamps[i-1].Start, result.Timestamps[i].Start)
	}
	assert.LessOrEqual(t, len(result.Timestamps), 5)
}

func TestAnswerMediaTimestampsCapped(t *testing.T) {
	f := newFixture(t)
	var segments []core.Segment
	for i := 0; i < 12; i++ {
		segments = append(segments, core.Segment{
			Start: float64(i * 10), End: float64(i*10 + 10),
			Text: fmt.Sprintf("segment %d", i),
		})
	}
	f.seedMedia(t, "doc-1", segments, []core.Chunk{
		{Index: 0, Text: "everything", Start: 0, End: 120, HasTime: true},
	})

	result, err := f.answerer.Answer(context.Background(), "doc-1", "summarize everything", nil)
	require.NoError(t, err)
	require.Len(t, result.Timestamps, 5)
	// Capped list keeps the earliest segments.
	assert.Equal(t, 0.0, result.Timestamps[0].Start)
	assert.Equal(t, 40.0, result.Timestamps[4].Start)
}

func TestAnswerStreamDeliversFragmentsThenDone(t *testing.T) {
	f := newFixture(t)
	f.seedPDF(t, "doc-1", []string{"alpha", "beta"})
	f.provider.StreamFragments = []string{"The ", "answer ", "is alpha."}

	stream, err := f.answerer.AnswerStream(context.Background(), "doc-1", "what is it?", nil)
	require.NoError(t, err)
	assert.Len(t, stream.Sources, 2)

	var got string
	var done bool
	for ev := range stream.Events {
		require.NoError(t, ev.Err)
		if ev.Done {
			done = true
			continue
		}
		got += ev.Content
	}
	assert.True(t, done)
	assert.Equal(t, "The answer is alpha.", got)
}

func TestAnswerStreamSurfacesMidStreamError(t *testing.T) {
	f := newFixture(t)
	f.seedPDF(t, "doc-1", []string{"alpha"})
	f.provider.StreamFragments = []string{"partial "}
	f.provider.StreamErr = core.ProviderErrorf("upstream connection lost")

	stream, err := f.answerer.AnswerStream(context.Background(), "doc-1", "question", nil)
	require.NoError(t, err)

	var events []providers.StreamEvent
	for ev := range stream.Events {
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	assert.Equal(t, "partial ", events[0].Content)
	assert.ErrorIs(t, events[1].Err, core.ErrProvider)
	assert.False(t, events[1].Done)
}

func TestAnswerStreamStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.seedPDF(t, "doc-1", []string{"alpha"})
	f.provider.StreamFragments = []string{"a", "b", "c", "d", "e"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := f.answerer.AnswerStream(ctx, "doc-1", "question", nil)
	require.NoError(t, err)

	var received int
	for ev := range stream.Events {
		require.NoError(t, ev.Err)
		if ev.Done {
			break
		}
		received++
		if received == 2 {
			cancel()
		}
	}
	// The producer stops after cancellation without a Done event; the
	// channel just closes. At most one in-flight fragment may still
	// arrive.
	assert.LessOrEqual(t, received, 3)
}

func TestAnswerStreamUnknownDocument(t *testing.T) {
	f := newFixture(t)
	_, err := f.answerer.AnswerStream(context.Background(), "missing", "question", nil)
	assert.ErrorIs(t, err, core.ErrNotFound)
}
