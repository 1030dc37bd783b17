package memory

import (
	"context"
	"strings"
	"sync"

	"journal-core/internal/storage"
)

// CacheStore is an in-memory implementation of storage.CacheStore, used
// for tests and --use-memory deployments.
type CacheStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewCacheStore creates a new in-memory cache store.
func NewCacheStore() *CacheStore {
	return &CacheStore{data: make(map[string]string)}
}

// Get retrieves the value for key. Returns ErrNotFound if absent.
func (s *CacheStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return v, nil
}

// Set writes the value for key, overwriting any existing value.
func (s *CacheStore) Set(_ context.Context, key, value string) error {
	if key == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *CacheStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// DeleteByPrefix removes every key beginning with prefix.
func (s *CacheStore) DeleteByPrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			delete(s.data, k)
		}
	}
	return nil
}

var _ storage.CacheStore = (*CacheStore)(nil)
