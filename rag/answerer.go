package rag

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"docchat/core"
	"docchat/logger"
	"docchat/metrics"
	"docchat/providers"
	"docchat/storage"
)

const groundedSystemPrompt = "You are a helpful assistant that answers questions about a document. " +
	"Answer using ONLY the context excerpts provided below. " +
	"If the context does not contain the answer, say you don't know. " +
	"When you use information from an excerpt, mention its label (for example \"Chunk 2\")."

// Answerer runs retrieval-augmented question answering over one
// processed document at a time.
type Answerer struct {
	provider   providers.Provider
	vectors    storage.VectorIndex
	timestamps storage.TimestampIndex
	documents  storage.DocumentStore

	topK            int
	maxHistoryTurns int
	maxTimestamps   int
}

func NewAnswerer(provider providers.Provider, vectors storage.VectorIndex, timestamps storage.TimestampIndex, documents storage.DocumentStore, topK, maxHistoryTurns, maxTimestamps int) *Answerer {
	return &Answerer{
		provider:        provider,
		vectors:         vectors,
		timestamps:      timestamps,
		documents:       documents,
		topK:            topK,
		maxHistoryTurns: maxHistoryTurns,
		maxTimestamps:   maxTimestamps,
	}
}

// Result is a complete grounded answer with its provenance.
type Result struct {
	Answer     string         `json:"answer"`
	Sources    []string       `json:"sources"`
	Timestamps []core.Segment `json:"timestamps,omitempty"`
}

// retrieval holds everything gathered before the model is called, so
// the blocking and streaming paths share one retrieval step.
type retrieval struct {
	labels     []string
	timestamps []core.Segment
	messages   []core.ConversationTurn
}

// Answer runs the full question-answering flow and blocks until the
// model response is complete.
func (a *Answerer) Answer(ctx context.Context, documentID, question string, history []core.ConversationTurn) (*Result, error) {
	r, err := a.retrieve(ctx, documentID, question, history)
	if err != nil {
		metrics.ChatRequestsTotal.WithLabelValues("blocking", "error").Inc()
		return nil, err
	}

	answer, err := a.provider.Complete(ctx, r.messages, 0)
	if err != nil {
		metrics.ChatRequestsTotal.WithLabelValues("blocking", "error").Inc()
		return nil, err
	}
	metrics.ChatRequestsTotal.WithLabelValues("blocking", "ok").Inc()
	return &Result{
		Answer:     answer,
		Sources:    extractSources(answer, r.labels),
		Timestamps: r.timestamps,
	}, nil
}

// StreamResult carries the fragment channel plus the provenance known
// before streaming starts.
type StreamResult struct {
	Events     <-chan providers.StreamEvent
	Sources    []string
	Timestamps []core.Segment
}

// AnswerStream runs retrieval up front, then streams the model answer
// fragment by fragment. Sources use the all-retrieved fallback since
// the answer text is not known when the stream begins.
func (a *Answerer) AnswerStream(ctx context.Context, documentID, question string, history []core.ConversationTurn) (*StreamResult, error) {
	r, err := a.retrieve(ctx, documentID, question, history)
	if err != nil {
		metrics.ChatRequestsTotal.WithLabelValues("stream", "error").Inc()
		return nil, err
	}

	events, err := a.provider.CompleteStream(ctx, r.messages, 0)
	if err != nil {
		metrics.ChatRequestsTotal.WithLabelValues("stream", "error").Inc()
		return nil, err
	}
	metrics.ChatRequestsTotal.WithLabelValues("stream", "ok").Inc()
	return &StreamResult{
		Events:     events,
		Sources:    r.labels,
		Timestamps: r.timestamps,
	}, nil
}

func (a *Answerer) retrieve(ctx context.Context, documentID, question string, history []core.ConversationTurn) (*retrieval, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, core.ValidationErrorf("question must not be empty")
	}

	doc, err := a.documents.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}

	queryVector, err := a.provider.Embed(ctx, question)
	if err != nil {
		return nil, err
	}
	hits, err := a.vectors.Query(ctx, documentID, queryVector, a.topK)
	if err != nil {
		return nil, err
	}

	labels := make([]string, len(hits))
	for i, h := range hits {
		labels[i] = chunkLabel(h.Chunk.Index)
	}

	var timestamps []core.Segment
	if doc.FileType.IsMedia() {
		timestamps, err = a.collectTimestamps(ctx, documentID, hits)
		if err != nil {
			return nil, err
		}
	}

	logger.Debug("retrieval complete",
		zap.String("document_id", documentID),
		zap.Int("hits", len(hits)),
		zap.Int("timestamps", len(timestamps)),
	)

	return &retrieval{
		labels:     labels,
		timestamps: timestamps,
		messages:   a.buildMessages(doc, hits, question, history),
	}, nil
}

// collectTimestamps maps each timed retrieved chunk back to the
// transcript segments it overlaps, deduplicates, sorts by start time
// and caps the list.
func (a *Answerer) collectTimestamps(ctx context.Context, documentID string, hits []core.RetrievalHit) ([]core.Segment, error) {
	seen := make(map[float64]bool)
	var out []core.Segment
	for _, h := range hits {
		if !h.Chunk.HasTime {
			continue
		}
		segs, err := a.timestamps.FindOverlapping(ctx, documentID, h.Chunk.Start, h.Chunk.End)
		if err != nil {
			return nil, err
		}
		for _, s := range segs {
			if seen[s.Start] {
				continue
			}
			seen[s.Start] = true
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	if len(out) > a.maxTimestamps {
		out = out[:a.maxTimestamps]
	}
	return out, nil
}

// buildMessages assembles the grounded prompt: system instruction,
// labeled context excerpts, a bounded window of conversation history,
// then the question.
func (a *Answerer) buildMessages(doc *core.Document, hits []core.RetrievalHit, question string, history []core.ConversationTurn) []core.ConversationTurn {
	var ctxBuilder strings.Builder
	ctxBuilder.WriteString(groundedSystemPrompt)
	ctxBuilder.WriteString("\n\nDocument: ")
	ctxBuilder.WriteString(doc.Filename)
	ctxBuilder.WriteString("\n\nContext excerpts:\n")
	for _, h := range hits {
		ctxBuilder.WriteString(fmt.Sprintf("\n[%s]", chunkLabel(h.Chunk.Index)))
		if h.Chunk.HasTime {
			ctxBuilder.WriteString(fmt.Sprintf(" (%s - %s)",
				core.FormatTime(h.Chunk.Start), core.FormatTime(h.Chunk.End)))
		}
		ctxBuilder.WriteString("\n")
		ctxBuilder.WriteString(h.Chunk.Text)
		ctxBuilder.WriteString("\n")
	}

	messages := []core.ConversationTurn{
		{Role: core.RoleSystem, Content: ctxBuilder.String()},
	}
	if n := len(history); n > a.maxHistoryTurns {
		history = history[n-a.maxHistoryTurns:]
	}
	messages = append(messages, history...)
	messages = append(messages, core.ConversationTurn{Role: core.RoleUser, Content: question})
	return messages
}

func chunkLabel(index int) string {
	return "Chunk " + strconv.Itoa(index)
}

var chunkMentionRe = regexp.MustCompile(`(?i)\bchunk\s+(\d+)\b`)

// extractSources returns the retrieved chunk labels the answer text
// actually cites, in retrieval order. If the answer cites none, all
// retrieved labels are returned so provenance is never empty.
func extractSources(answer string, labels []string) []string {
	mentioned := make(map[string]bool)
	for _, m := range chunkMentionRe.FindAllStringSubmatch(answer, -1) {
		mentioned["Chunk "+m[1]] = true
	}
	var cited []string
	for _, l := range labels {
		if mentioned[l] {
			cited = append(cited, l)
		}
	}
	if len(cited) == 0 {
		return labels
	}
	return cited
}
