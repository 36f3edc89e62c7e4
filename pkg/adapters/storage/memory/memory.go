package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/aescanero/dagflow/pkg/domain"
)

// DocumentStore implements ports.DocumentStore using an in-memory map.
// Documents are lost when the process exits.
type DocumentStore struct {
	docs map[string][]byte
	mu   sync.RWMutex
}

// NewDocumentStore creates a new in-memory document store
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		docs: make(map[string][]byte),
	}
}

// ReadDocument returns a copy of the named document (ports.DocumentStore interface)
func (s *DocumentStore) ReadDocument(ctx context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.docs[name]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	return append([]byte(nil), data...), nil
}

// WriteDocument stores a copy of data under name (ports.DocumentStore interface)
func (s *DocumentStore) WriteDocument(ctx context.Context, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.docs[name] = append([]byte(nil), data...)
	return nil
}

// ListDocuments returns the sorted names with the given prefix (ports.DocumentStore interface)
func (s *DocumentStore) ListDocuments(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.docs))
	for name := range s.docs {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Len returns the number of stored documents
func (s *DocumentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}
