package processors

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"docchat/core"
	"docchat/logger"
	"docchat/providers"
)

// Runner executes an external command and returns its stdout. Split
// out so extraction is testable without ffmpeg/pdftotext installed.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Extractor turns an uploaded file into plain text (PDF) or a
// transcript with timestamped segments (audio/video). PDF text comes
// from pdftotext, video audio tracks from ffmpeg, speech-to-text from
// the AI provider.
type Extractor struct {
	provider providers.Provider
	runner   Runner
}

func NewExtractor(provider providers.Provider) *Extractor {
	return &Extractor{provider: provider, runner: execRunner{}}
}

// NewExtractorWithRunner is used by tests to stub the shell-outs.
func NewExtractorWithRunner(provider providers.Provider, runner Runner) *Extractor {
	return &Extractor{provider: provider, runner: runner}
}

// Extract dispatches on file type. For PDFs segments is nil.
func (e *Extractor) Extract(ctx context.Context, filePath string, fileType core.FileType) (string, []core.Segment, error) {
	switch fileType {
	case core.FileTypePDF:
		text, err := e.extractPDF(ctx, filePath)
		return text, nil, err
	case core.FileTypeAudio:
		return e.provider.Transcribe(ctx, filePath)
	case core.FileTypeVideo:
		audioPath, err := e.extractAudio(ctx, filePath)
		if err != nil {
			return "", nil, err
		}
		defer os.Remove(audioPath)
		return e.provider.Transcribe(ctx, audioPath)
	}
	return "", nil, core.ValidationErrorf("unsupported file type %q", fileType)
}

func (e *Extractor) extractPDF(ctx context.Context, filePath string) (string, error) {
	out, err := e.runner.Run(ctx, "pdftotext", "-layout", "-enc", "UTF-8", filePath, "-")
	if err != nil {
		return "", core.ProviderErrorf("pdftotext %s: %v", filePath, err)
	}
	text := strings.TrimSpace(string(out))
	if text == "" {
		return "", core.ValidationErrorf("no text extracted from %s", filepath.Base(filePath))
	}
	return text, nil
}

// extractAudio pulls the audio track out of a video as 16 kHz mono
// WAV next to the input, ready for transcription.
func (e *Extractor) extractAudio(ctx context.Context, videoPath string) (string, error) {
	audioPath := strings.TrimSuffix(videoPath, filepath.Ext(videoPath)) + ".wav"
	_, err := e.runner.Run(ctx, "ffmpeg",
		"-y", "-i", videoPath, "-vn", "-ac", "1", "-ar", "16000", "-f", "wav", audioPath)
	if err != nil {
		return "", core.ProviderErrorf("ffmpeg audio extraction %s: %v", videoPath, err)
	}
	logger.Debug("audio track extracted",
		zap.String("video", videoPath),
		zap.String("audio", audioPath),
	)
	return audioPath, nil
}
