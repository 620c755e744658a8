package providers

import (
	"context"
	"fmt"
	"strings"

	"docchat/core"
)

// MockProvider is a deterministic offline Provider used in tests and
// when no API key is configured. Embeddings are hashed bags of words
// projected into a fixed dimensionality, so identical text always
// embeds identically and texts sharing words score similar.
type MockProvider struct {
	Dim int

	// CompleteFn / StreamFragments / StreamErr let tests script the
	// completion side. Zero values fall back to canned behaviour.
	CompleteFn      func(messages []core.ConversationTurn) (string, error)
	StreamFragments []string
	StreamErr       error
	EmbedErr        error
}

func NewMockProvider() *MockProvider {
	return &MockProvider{Dim: 64}
}

func (m *MockProvider) dim() int {
	if m.Dim <= 0 {
		return 64
	}
	return m.Dim
}

func (m *MockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (m *MockProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if m.EmbedErr != nil {
		return nil, m.EmbedErr
	}
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, m.dim())
		for _, word := range strings.Fields(strings.ToLower(text)) {
			var h uint32 = 2166136261
			for _, c := range word {
				h ^= uint32(c)
				h *= 16777619
			}
			vec[h%uint32(m.dim())]++
		}
		vecs[i] = vec
	}
	return vecs, nil
}

func (m *MockProvider) Complete(ctx context.Context, messages []core.ConversationTurn, maxTokens int) (string, error) {
	if m.CompleteFn != nil {
		return m.CompleteFn(messages)
	}
	if len(messages) == 0 {
		return "", core.ProviderErrorf("no messages")
	}
	return fmt.Sprintf("Mock answer to: %s", messages[len(messages)-1].Content), nil
}

func (m *MockProvider) CompleteStream(ctx context.Context, messages []core.ConversationTurn, maxTokens int) (<-chan StreamEvent, error) {
	fragments := m.StreamFragments
	if fragments == nil {
		full, err := m.Complete(ctx, messages, maxTokens)
		if err != nil {
			return nil, err
		}
		fragments = strings.SplitAfter(full, " ")
	}
	events := make(chan StreamEvent)
	go func() {
		defer close(events)
		for _, frag := range fragments {
			if ctx.Err() != nil {
				return
			}
			select {
			case events <- StreamEvent{Content: frag}:
			case <-ctx.Done():
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		terminal := StreamEvent{Done: true}
		if m.StreamErr != nil {
			terminal = StreamEvent{Err: m.StreamErr}
		}
		select {
		case events <- terminal:
		case <-ctx.Done():
		}
	}()
	return events, nil
}

func (m *MockProvider) Transcribe(ctx context.Context, audioPath string) (string, []core.Segment, error) {
	segs := []core.Segment{
		{Start: 0, End: 15, Text: "Placeholder transcript from 0s to 15s"},
		{Start: 15, End: 30, Text: "Placeholder transcript from 15s to 30s"},
	}
	parts := make([]string, len(segs))
	for i, s := range segs {
		parts[i] = s.Text
	}
	return strings.Join(parts, " "), segs, nil
}

var _ Provider = (*MockProvider)(nil)
