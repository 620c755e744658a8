package core

import (
	"path/filepath"
	"strings"
	"time"
)

// FileType classifies an uploaded file.
type FileType string

const (
	FileTypePDF   FileType = "pdf"
	FileTypeAudio FileType = "audio"
	FileTypeVideo FileType = "video"
)

// DetectFileType maps a filename extension to a FileType.
// Returns an empty FileType for unsupported extensions.
func DetectFileType(filename string) FileType {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	switch ext {
	case "pdf":
		return FileTypePDF
	case "mp3", "wav", "m4a":
		return FileTypeAudio
	case "mp4", "webm", "mov":
		return FileTypeVideo
	}
	return ""
}

// IsMedia reports whether the file type carries timestamped segments.
func (t FileType) IsMedia() bool {
	return t == FileTypeAudio || t == FileTypeVideo
}

// Segment is a timestamped slice of a media transcript.
// Start and End are in seconds; End > Start.
type Segment struct {
	Start float64 `json:"start_time"`
	End   float64 `json:"end_time"`
	Text  string  `json:"text"`
}

// Chunk is a bounded slice of document text, the unit of retrieval
// and citation. Index defines the "Chunk N" label. Start/End are set
// only for media-derived chunks. The embedding is produced once during
// upload processing and never mutated afterwards.
type Chunk struct {
	Index     int       `json:"index"`
	Text      string    `json:"text"`
	Start     float64   `json:"start_time,omitempty"`
	End       float64   `json:"end_time,omitempty"`
	HasTime   bool      `json:"has_time,omitempty"`
	Embedding []float32 `json:"-"`
}

// Document is the metadata record for one uploaded file. Created by
// the upload pipeline; immutable afterwards except for summary
// assignment and deletion.
type Document struct {
	ID          string    `json:"document_id"`
	Filename    string    `json:"filename"`
	FileType    FileType  `json:"file_type"`
	FilePath    string    `json:"file_path,omitempty"`
	Text        string    `json:"-"`
	Summary     string    `json:"summary,omitempty"`
	DurationSec float64   `json:"duration_seconds,omitempty"`
	Segments    []Segment `json:"timestamps,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ConversationTurn is one message in a caller-supplied chat history.
type ConversationTurn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// RetrievalHit pairs a chunk with its cosine similarity score.
type RetrievalHit struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}
