package storage

import (
	"context"
	"strings"
	"sync"

	"docchat/core"
)

// TimestampIndex stores the ordered timestamped segments of a media
// document and supports keyword and range lookups. It is a plain
// filter layer, deliberately independent of the embedding provider,
// so exact lookups stay cheap.
type TimestampIndex interface {
	// Add stores a document's segments. Rejects out-of-order or
	// crossing input; rejects a second Add for the same document.
	Add(ctx context.Context, documentID string, segments []core.Segment) error
	// List returns all segments ascending by start time.
	List(ctx context.Context, documentID string) ([]core.Segment, error)
	// Search returns segments whose text contains the keyword
	// (case-insensitive), preserving start-time order. An empty
	// keyword is rejected; List covers the unfiltered case.
	Search(ctx context.Context, documentID, keyword string) ([]core.Segment, error)
	// FindOverlapping returns segments whose [start,end) interval
	// intersects [chunkStart, chunkEnd).
	FindOverlapping(ctx context.Context, documentID string, chunkStart, chunkEnd float64) ([]core.Segment, error)
	// Delete removes a document's segments; idempotent.
	Delete(ctx context.Context, documentID string) error
}

// ValidateSegments checks the ordering invariant: start >= 0,
// end > start, starts non-decreasing, adjacent segments may touch but
// not cross.
func ValidateSegments(segments []core.Segment) error {
	for i, s := range segments {
		if s.Start < 0 {
			return core.ValidationErrorf("segment %d: start_time %.3f is negative", i, s.Start)
		}
		if s.End <= s.Start {
			return core.ValidationErrorf("segment %d: end_time %.3f must be greater than start_time %.3f", i, s.End, s.Start)
		}
		if i > 0 {
			prev := segments[i-1]
			if s.Start < prev.Start {
				return core.ValidationErrorf("segment %d: out of order (start %.3f before previous start %.3f)", i, s.Start, prev.Start)
			}
			if s.Start < prev.End {
				return core.ValidationErrorf("segment %d: crosses previous segment (start %.3f before previous end %.3f)", i, s.Start, prev.End)
			}
		}
	}
	return nil
}

// MemoryTimestampIndex keeps segments in process memory.
type MemoryTimestampIndex struct {
	mu   sync.RWMutex
	docs map[string][]core.Segment
}

func NewMemoryTimestampIndex() *MemoryTimestampIndex {
	return &MemoryTimestampIndex{docs: map[string][]core.Segment{}}
}

func (s *MemoryTimestampIndex) Add(ctx context.Context, documentID string, segments []core.Segment) error {
	if documentID == "" {
		return core.ValidationErrorf("document id required")
	}
	if err := ValidateSegments(segments); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[documentID]; exists {
		return core.ConflictErrorf("segments already stored for document %s", documentID)
	}
	stored := make([]core.Segment, len(segments))
	copy(stored, segments)
	s.docs[documentID] = stored
	return nil
}

func (s *MemoryTimestampIndex) List(ctx context.Context, documentID string) ([]core.Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	segments, ok := s.docs[documentID]
	if !ok {
		return nil, core.NotFoundErrorf("no segments for document %s", documentID)
	}
	out := make([]core.Segment, len(segments))
	copy(out, segments)
	return out, nil
}

func (s *MemoryTimestampIndex) Search(ctx context.Context, documentID, keyword string) ([]core.Segment, error) {
	if strings.TrimSpace(keyword) == "" {
		return nil, core.ValidationErrorf("search keyword must not be empty")
	}
	segments, err := s.List(ctx, documentID)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(keyword)
	matched := make([]core.Segment, 0, len(segments))
	for _, seg := range segments {
		if strings.Contains(strings.ToLower(seg.Text), needle) {
			matched = append(matched, seg)
		}
	}
	return matched, nil
}

func (s *MemoryTimestampIndex) FindOverlapping(ctx context.Context, documentID string, chunkStart, chunkEnd float64) ([]core.Segment, error) {
	segments, err := s.List(ctx, documentID)
	if err != nil {
		return nil, err
	}
	out := make([]core.Segment, 0, len(segments))
	for _, seg := range segments {
		if seg.End > chunkStart && seg.Start < chunkEnd {
			out = append(out, seg)
		}
	}
	return out, nil
}

func (s *MemoryTimestampIndex) Delete(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, documentID)
	return nil
}

var _ TimestampIndex = (*MemoryTimestampIndex)(nil)
