package localstore

import "sync"

// InMemStore implements Store using an in-memory map. Used in tests.
type InMemStore struct {
	values map[string]string
	mu     sync.RWMutex
}

// NewInMemStore creates a new in-memory local store
func NewInMemStore() *InMemStore {
	return &InMemStore{
		values: make(map[string]string),
	}
}

// Get returns the value for key
func (s *InMemStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, exists := s.values[key]
	return value, exists
}

// Set stores the value
func (s *InMemStore) Set(key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	return nil
}

// Delete removes the key
func (s *InMemStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}

// Keys returns all keys currently stored
func (s *InMemStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.values))
	for key := range s.values {
		keys = append(keys, key)
	}
	return keys
}
