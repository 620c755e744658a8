package providers

import (
	"context"
	"errors"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"docchat/config"
	"docchat/core"
	"docchat/logger"
	"docchat/metrics"
)

// OpenAIProvider implements Provider against any OpenAI-compatible
// endpoint (base URL is configurable).
type OpenAIProvider struct {
	cli            *openai.Client
	chatModel      string
	embeddingModel string
	whisperModel   string
	timeout        time.Duration
}

func NewOpenAIProvider(cfg config.ProviderConfig) *OpenAIProvider {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIProvider{
		cli:            openai.NewClientWithConfig(clientConfig),
		chatModel:      cfg.ChatModel,
		embeddingModel: cfg.EmbeddingModel,
		whisperModel:   cfg.WhisperModel,
		timeout:        timeout,
	}
}

func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.cli.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(p.embeddingModel),
		Input: texts,
	})
	if err != nil {
		metrics.ProviderErrorsTotal.WithLabelValues("embed").Inc()
		return nil, core.ProviderErrorf("create embeddings: %v", err)
	}
	if len(resp.Data) != len(texts) {
		metrics.ProviderErrorsTotal.WithLabelValues("embed").Inc()
		return nil, core.ProviderErrorf("embedding count mismatch: got %d, want %d", len(resp.Data), len(texts))
	}
	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

func (p *OpenAIProvider) Complete(ctx context.Context, messages []core.ConversationTurn, maxTokens int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.cli.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     p.chatModel,
		Messages:  toChatMessages(messages),
		MaxTokens: maxTokens,
	})
	if err != nil {
		metrics.ProviderErrorsTotal.WithLabelValues("complete").Inc()
		return "", core.ProviderErrorf("create chat completion: %v", err)
	}
	if len(resp.Choices) == 0 {
		metrics.ProviderErrorsTotal.WithLabelValues("complete").Inc()
		return "", core.ProviderErrorf("no completion choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) CompleteStream(ctx context.Context, messages []core.ConversationTurn, maxTokens int) (<-chan StreamEvent, error) {
	// No deadline on the stream body itself; the per-read provider
	// timeout would kill long generations. Cancellation comes from ctx.
	stream, err := p.cli.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:     p.chatModel,
		Messages:  toChatMessages(messages),
		MaxTokens: maxTokens,
		Stream:    true,
	})
	if err != nil {
		metrics.ProviderErrorsTotal.WithLabelValues("complete_stream").Inc()
		return nil, core.ProviderErrorf("create chat completion stream: %v", err)
	}

	events := make(chan StreamEvent)
	go func() {
		defer close(events)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				select {
				case events <- StreamEvent{Done: true}:
				case <-ctx.Done():
				}
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					// Consumer went away; stop pulling fragments.
					return
				}
				metrics.ProviderErrorsTotal.WithLabelValues("complete_stream").Inc()
				select {
				case events <- StreamEvent{Err: core.ProviderErrorf("stream recv: %v", err)}:
				case <-ctx.Done():
				}
				return
			}
			if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
				continue
			}
			select {
			case events <- StreamEvent{Content: resp.Choices[0].Delta.Content}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

func (p *OpenAIProvider) Transcribe(ctx context.Context, audioPath string) (string, []core.Segment, error) {
	// Whisper on long media is slow; give it more headroom than chat.
	ctx, cancel := context.WithTimeout(ctx, 4*p.timeout)
	defer cancel()

	resp, err := p.cli.CreateTranscription(ctx, openai.AudioRequest{
		Model:    p.whisperModel,
		FilePath: audioPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		metrics.ProviderErrorsTotal.WithLabelValues("transcribe").Inc()
		return "", nil, core.ProviderErrorf("create transcription: %v", err)
	}

	segs := make([]core.Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		segs = append(segs, core.Segment{Start: s.Start, End: s.End, Text: s.Text})
	}
	logger.Debug("transcription completed",
		zap.String("audio_path", audioPath),
		zap.Int("segments", len(segs)),
	)
	return resp.Text, segs, nil
}

func toChatMessages(messages []core.ConversationTurn) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}
