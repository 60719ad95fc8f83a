package localstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const storeFileName = "devicetrust.json"

// FileStore implements Store using a single JSON file, written atomically on
// every mutation.
type FileStore struct {
	path   string
	values map[string]string
	mu     sync.RWMutex
}

// NewFileStore creates a file-backed local store under dataDir
func NewFileStore(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store := &FileStore{
		path:   filepath.Join(dataDir, storeFileName),
		values: make(map[string]string),
	}

	if err := store.load(); err != nil {
		return nil, fmt.Errorf("failed to load local store: %w", err)
	}

	return store, nil
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &s.values)
}

// save writes the whole map to a temp file and renames it into place.
// Callers must hold the write lock.
func (s *FileStore) save() error {
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Get returns the value for key
func (s *FileStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, exists := s.values[key]
	return value, exists
}

// Set stores the value and persists the store
func (s *FileStore) Set(key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, existed := s.values[key]
	s.values[key] = value
	if err := s.save(); err != nil {
		if existed {
			s.values[key] = previous
		} else {
			delete(s.values, key)
		}
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

// Delete removes the key and persists the store
func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, existed := s.values[key]
	if !existed {
		return nil
	}
	delete(s.values, key)
	if err := s.save(); err != nil {
		s.values[key] = previous
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

// Keys returns all keys currently stored
func (s *FileStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.values))
	for key := range s.values {
		keys = append(keys, key)
	}
	return keys
}
