// Package providers adapts external AI backends (embeddings, chat
// completions, transcription) behind a single capability interface so
// the pipeline and answerer never talk to a vendor SDK directly.
package providers

import (
	"context"

	"docchat/core"
)

// StreamEvent is one frame of a streamed completion. Exactly one
// terminal event is delivered per stream: Done=true on success, or
// Err set on failure. A partial answer is never silently finalized.
type StreamEvent struct {
	Content string
	Done    bool
	Err     error
}

// Provider is the capability interface over an AI backend. All
// methods apply a timeout internally and return errors wrapping
// core.ErrProvider on upstream failure; callers must not fabricate
// degraded results when one fails.
type Provider interface {
	// Embed returns the embedding vector for one text. Deterministic
	// for identical input; fixed dimensionality.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch embeds texts in order. Partial failure fails the
	// whole batch.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Complete returns a full chat completion for the message list.
	Complete(ctx context.Context, messages []core.ConversationTurn, maxTokens int) (string, error)
	// CompleteStream starts a streamed completion. The returned
	// channel is closed after its terminal event. Cancelling ctx
	// stops the upstream request; no further frames are delivered.
	CompleteStream(ctx context.Context, messages []core.ConversationTurn, maxTokens int) (<-chan StreamEvent, error)
	// Transcribe runs speech-to-text on an audio file and returns the
	// full transcript plus ordered timestamped segments.
	Transcribe(ctx context.Context, audioPath string) (string, []core.Segment, error)
}
