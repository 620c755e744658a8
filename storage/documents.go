package storage

import (
	"context"
	"sync"

	"docchat/core"
)

// DocumentStore persists document metadata. A document is only Put
// after its upload pipeline completes, so visibility in this store is
// what makes a document "ready": readers of a document that is still
// processing (or unknown) get a not-found error, never partial state.
type DocumentStore interface {
	Put(ctx context.Context, doc *core.Document) error
	Get(ctx context.Context, id string) (*core.Document, error)
	Delete(ctx context.Context, id string) error
}

// MemoryDocumentStore keeps documents in process memory.
type MemoryDocumentStore struct {
	mu   sync.RWMutex
	docs map[string]*core.Document
}

func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{docs: map[string]*core.Document{}}
}

func (s *MemoryDocumentStore) Put(ctx context.Context, doc *core.Document) error {
	if doc == nil || doc.ID == "" {
		return core.ValidationErrorf("document id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[doc.ID]; exists {
		return core.ConflictErrorf("document %s already exists", doc.ID)
	}
	stored := *doc
	s.docs[doc.ID] = &stored
	return nil
}

func (s *MemoryDocumentStore) Get(ctx context.Context, id string) (*core.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, core.NotFoundErrorf("document %s", id)
	}
	out := *doc
	return &out, nil
}

func (s *MemoryDocumentStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return core.NotFoundErrorf("document %s", id)
	}
	delete(s.docs, id)
	return nil
}

var _ DocumentStore = (*MemoryDocumentStore)(nil)
