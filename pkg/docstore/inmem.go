package docstore

import (
	"context"
	"log/slog"
	"sync"
)

// InMemStore implements Store using in-memory maps. It is the default for
// tests and the demo binary.
type InMemStore struct {
	docs     map[string][]byte
	watchers map[string]map[int]chan []byte
	nextID   int
	mu       sync.Mutex
}

// NewInMemStore creates a new in-memory document store
func NewInMemStore() *InMemStore {
	return &InMemStore{
		docs:     make(map[string][]byte),
		watchers: make(map[string]map[int]chan []byte),
	}
}

func docKey(collection, id string) string {
	return collection + "/" + id
}

// Get returns the raw JSON document, or ErrNotFound
func (s *InMemStore) Get(ctx context.Context, collection, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, exists := s.docs[docKey(collection, id)]
	if !exists {
		return nil, ErrNotFound
	}

	// Return a copy so callers cannot mutate the stored document
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Set replaces the document and fans the new payload out to every watcher.
func (s *InMemStore) Set(ctx context.Context, collection, id string, data []byte) error {
	key := docKey(collection, id)

	stored := make([]byte, len(data))
	copy(stored, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[key] = stored

	// Fan out under the lock so a concurrent cancel cannot close a channel
	// mid-send. Sends are non-blocking: a watcher that stopped draining does
	// not stall writers, it catches up on the next update.
	for _, ch := range s.watchers[key] {
		select {
		case ch <- stored:
		default:
			slog.Debug("Dropped watch update for slow subscriber", "key", key)
		}
	}

	return nil
}

// Watch subscribes to updates of a single document
func (s *InMemStore) Watch(ctx context.Context, collection, id string) (<-chan []byte, func(), error) {
	key := docKey(collection, id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watchers[key] == nil {
		s.watchers[key] = make(map[int]chan []byte)
	}
	watcherID := s.nextID
	s.nextID++

	ch := make(chan []byte, 16)
	s.watchers[key][watcherID] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers[key], watcherID)
			s.mu.Unlock()
			close(ch)
		})
	}

	if ctx != nil && ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}

	return ch, cancel, nil
}
