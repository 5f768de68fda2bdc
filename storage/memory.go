package storage

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/teranos/gdscraper/errors"
	"github.com/teranos/gdscraper/scrape"
)

const memoryScheme = "mem://"

// MemoryStore keeps resumes in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStore creates an empty memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (s *MemoryStore) StoreOne(ctx context.Context, r scrape.Resume) (string, error) {
	if r.Body == nil {
		return "", errors.Newf("resume %s has no body", r.Name)
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return "", errors.Wrapf(err, "read resume %s", r.Name)
	}

	key := objectName(r)
	s.mu.Lock()
	s.objects[key] = data
	s.mu.Unlock()

	return memoryScheme + key, nil
}

// Get returns the bytes stored under key or under a mem:// URL
func (s *MemoryStore) Get(key string) ([]byte, bool) {
	key = strings.TrimPrefix(key, memoryScheme)
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	return data, ok
}

// Len returns how many resumes are stored
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
