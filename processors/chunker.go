package processors

import (
	"strings"
	"unicode"

	"docchat/core"
)

// ChunkText splits plain text (the PDF path) into chunks of at most
// size characters. Consecutive chunks overlap by at least overlap
// characters so no semantic unit is fully lost at a boundary. Breaks
// prefer whitespace near the chunk end to avoid splitting words.
// Chunking is deterministic: identical input and parameters always
// produce identical boundaries.
func ChunkText(text string, size, overlap int) ([]core.Chunk, error) {
	if err := validateChunkParams(size, overlap); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, core.ValidationErrorf("text must not be empty")
	}

	runes := []rune(text)
	if len(runes) <= size {
		return []core.Chunk{{Index: 0, Text: text}}, nil
	}

	// Cap the whitespace backtrack so every chunk stays longer than
	// the overlap; otherwise the next start would not advance.
	window := (size - overlap) / 4

	var chunks []core.Chunk
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			end = len(runes)
		} else if cut := lastSpaceWithin(runes, end, window); cut > start {
			end = cut
		}
		chunks = append(chunks, core.Chunk{
			Index: len(chunks),
			Text:  string(runes[start:end]),
		})
		if end == len(runes) {
			break
		}
		start = end - overlap
	}
	return chunks, nil
}

// lastSpaceWithin scans backwards from end for a whitespace rune, at
// most window positions. Returns the cut index, or -1 if none found.
func lastSpaceWithin(runes []rune, end, window int) int {
	for i := end - 1; i >= end-window && i > 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return -1
}

// ChunkSegments builds chunks from ordered transcript segments (the
// media path). Consecutive segments accumulate until the text would
// exceed size; the emitted chunk spans the first and last accumulated
// segment's timestamps. The next chunk restarts from the trailing
// segments that together cover at least overlap characters, so every
// chunk stays traceable to a playable time range while boundaries
// still overlap.
func ChunkSegments(segments []core.Segment, size, overlap int) ([]core.Chunk, error) {
	if err := validateChunkParams(size, overlap); err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, core.ValidationErrorf("segment list must not be empty")
	}

	var chunks []core.Chunk
	i := 0
	for i < len(segments) {
		j := i
		length := 0
		for j < len(segments) {
			segLen := len([]rune(segments[j].Text))
			if j > i {
				segLen++ // joining space
			}
			if j > i && length+segLen > size {
				break
			}
			length += segLen
			j++
		}

		texts := make([]string, 0, j-i)
		for k := i; k < j; k++ {
			texts = append(texts, strings.TrimSpace(segments[k].Text))
		}
		chunks = append(chunks, core.Chunk{
			Index:   len(chunks),
			Text:    strings.Join(texts, " "),
			Start:   segments[i].Start,
			End:     segments[j-1].End,
			HasTime: true,
		})
		if j >= len(segments) {
			break
		}

		// Restart from the shortest suffix of the accumulated
		// segments that covers the overlap, always advancing by at
		// least one segment.
		next := j
		carried := 0
		for next > i+1 && carried < overlap {
			carried += len([]rune(segments[next-1].Text))
			next--
		}
		i = next
	}
	return chunks, nil
}

func validateChunkParams(size, overlap int) error {
	if size <= 0 {
		return core.ValidationErrorf("chunk size must be positive, got %d", size)
	}
	if overlap <= 0 || overlap >= size {
		return core.ValidationErrorf("overlap must be in (0, chunk size), got %d", overlap)
	}
	return nil
}
