package evidence

import (
	"context"
	"sync"

	"github.com/mvrga/speer/internal/models"
)

// MemoryStore keeps evidence in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, item models.EvidenceItem, content []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[item.SHA256]; !ok {
		s.objects[item.SHA256] = append([]byte(nil), content...)
	}
	return "memory://" + item.SHA256, nil
}

func (s *MemoryStore) Get(_ context.Context, sha256 string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.objects[sha256]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), content...), nil
}

// Len reports how many distinct objects are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
