package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"docchat/core"
	"docchat/logger"
)

// UploadResponse is returned once a document has been fully processed
// and is ready for questions.
type UploadResponse struct {
	DocumentID string   `json:"document_id"`
	Filename   string   `json:"filename"`
	FileType   string   `json:"file_type"`
	Summary    string   `json:"summary,omitempty"`
	ChunkCount int      `json:"chunk_count,omitempty"`
	HasMedia   bool     `json:"has_media"`
	Message    string   `json:"message"`
	Warnings   []string `json:"warnings,omitempty"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxBytes := int64(s.cfg.Upload.MaxFileSizeMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, core.ValidationErrorf("reading multipart file: %v", err))
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if !s.extensionAllowed(filename) {
		writeError(w, core.ValidationErrorf("unsupported file extension for %q, allowed: %s",
			filename, strings.Join(s.cfg.Upload.AllowedExtensions, ", ")))
		return
	}

	id := core.NewID()
	if err := os.MkdirAll(s.cfg.Upload.Dir, 0o755); err != nil {
		writeError(w, fmt.Errorf("creating upload dir: %w", err))
		return
	}
	storedPath := filepath.Join(s.cfg.Upload.Dir, id+"_"+filename)
	dst, err := os.Create(storedPath)
	if err != nil {
		writeError(w, fmt.Errorf("creating upload file: %w", err))
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		os.Remove(storedPath)
		writeError(w, core.ValidationErrorf("saving upload: %v", err))
		return
	}
	dst.Close()

	doc, err := s.pipeline.ProcessUpload(r.Context(), storedPath, filename)
	if err != nil {
		os.Remove(storedPath)
		writeError(w, err)
		return
	}

	logger.Info("upload complete",
		zap.String("document_id", doc.ID),
		zap.String("filename", doc.Filename),
	)
	writeJSON(w, http.StatusOK, UploadResponse{
		DocumentID: doc.ID,
		Filename:   doc.Filename,
		FileType:   string(doc.FileType),
		Summary:    doc.Summary,
		HasMedia:   doc.FileType.IsMedia(),
		Message:    "document processed successfully",
	})
}

func (s *Server) extensionAllowed(filename string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	for _, allowed := range s.cfg.Upload.AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.documents.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.pipeline.DeleteDocument(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"document_id": id,
		"message":     "document deleted",
	})
}

// ChatRequest is shared by the blocking and streaming chat endpoints.
type ChatRequest struct {
	DocumentID string                  `json:"document_id"`
	Question   string                  `json:"question"`
	History    []core.ConversationTurn `json:"history,omitempty"`
}

func decodeChatRequest(r *http.Request) (*ChatRequest, error) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, core.ValidationErrorf("invalid request body: %v", err)
	}
	if strings.TrimSpace(req.DocumentID) == "" {
		return nil, core.ValidationErrorf("document_id is required")
	}
	return &req, nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChatRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := s.answerer.Answer(r.Context(), req.DocumentID, req.Question, req.History)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleChatStream streams the answer over SSE. Each fragment goes out
// as `data: {"content": "..."}`; a terminal `data: [DONE]` marks clean
// completion, and a mid-stream failure is surfaced as a JSON error
// frame so clients never mistake truncation for a finished answer.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChatRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, fmt.Errorf("streaming unsupported by connection"))
		return
	}

	stream, err := s.answerer.AnswerStream(r.Context(), req.DocumentID, req.Question, req.History)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Provenance goes first so clients can render it while the answer
	// is still arriving.
	writeSSE(w, map[string]interface{}{
		"sources":    stream.Sources,
		"timestamps": stream.Timestamps,
	})
	flusher.Flush()

	for ev := range stream.Events {
		switch {
		case ev.Err != nil:
			writeSSE(w, map[string]string{"error": ev.Err.Error()})
			flusher.Flush()
			return
		case ev.Done:
			fmt.Fprint(w, "data: [DONE]\n\n")
			flusher.Flush()
			return
		default:
			writeSSE(w, map[string]string{"content": ev.Content})
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to marshal SSE frame", zap.Error(err))
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// TimestampsResponse lists a media document's transcript segments.
type TimestampsResponse struct {
	DocumentID string         `json:"document_id"`
	Segments   []core.Segment `json:"timestamps"`
	Count      int            `json:"count"`
}

func (s *Server) handleTimestamps(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	segs, err := s.timestamps.List(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TimestampsResponse{
		DocumentID: id,
		Segments:   segs,
		Count:      len(segs),
	})
}

func (s *Server) handleTimestampSearch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	segs, err := s.timestamps.Search(r.Context(), id, r.URL.Query().Get("query"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TimestampsResponse{
		DocumentID: id,
		Segments:   segs,
		Count:      len(segs),
	})
}

// handleFile serves the original uploaded bytes for media playback.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	doc, err := s.documents.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if doc.FilePath == "" {
		writeError(w, core.NotFoundErrorf("no stored file for document %s", doc.ID))
		return
	}
	http.ServeFile(w, r, doc.FilePath)
}
