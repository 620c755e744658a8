package processors

import (
	"context"
	"strconv"
	"strings"
)

// probeDuration asks ffprobe for the media duration in seconds.
func (e *Extractor) probeDuration(ctx context.Context, path string) (float64, error) {
	out, err := e.runner.Run(ctx, "ffprobe",
		"-v", "error", "-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1", path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
}
