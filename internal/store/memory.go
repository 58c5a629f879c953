package store

import (
	"context"
	"sync"

	"github.com/manpreetbhatti/synclink/internal/document"
)

// MemoryStore provides an in-memory document store for testing and local usage.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*document.Document
}

var _ DocumentStore = (*MemoryStore)(nil)

func NewMemory() *MemoryStore {
	return &MemoryStore{docs: map[string]*document.Document{}}
}

func (s *MemoryStore) GetOrCreate(_ context.Context, id string) (*document.Document, error) {
	if id == "" {
		return nil, ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		doc = document.New(id)
		s.docs[id] = doc
	}
	return doc.Clone(), nil
}

func (s *MemoryStore) Upsert(_ context.Context, doc *document.Document) error {
	if doc == nil || doc.ID == "" {
		return ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = doc.Clone()
	return nil
}

func (s *MemoryStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.docs)), nil
}

func (s *MemoryStore) Close() error { return nil }
