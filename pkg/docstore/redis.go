package docstore

import (
	"context"
	"errors"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on redis: documents are JSON strings at
// "<collection>:<id>" keys, and Watch rides a pub/sub channel of the same
// name that Set publishes the new document to.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a redis-backed document store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(collection, id string) string {
	return collection + ":" + id
}

// Get returns the raw JSON document, or ErrNotFound
func (s *RedisStore) Get(ctx context.Context, collection, id string) ([]byte, error) {
	data, err := s.client.Get(ctx, redisKey(collection, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Set replaces the document and publishes the new payload to watchers.
func (s *RedisStore) Set(ctx context.Context, collection, id string, data []byte) error {
	key := redisKey(collection, id)
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return err
	}

	// Publish failures do not fail the write: the document is persisted,
	// watchers on other devices simply miss one update.
	if err := s.client.Publish(ctx, key, data).Err(); err != nil {
		slog.Warn("Failed to publish document update", "key", key, "error", err)
	}
	return nil
}

// Watch subscribes to updates of a single document via redis pub/sub
func (s *RedisStore) Watch(ctx context.Context, collection, id string) (<-chan []byte, func(), error) {
	key := redisKey(collection, id)

	pubsub := s.client.Subscribe(ctx, key)
	// Force the subscription to be established before returning so callers
	// never miss an update issued right after Watch.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, err
	}

	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() {
		if err := pubsub.Close(); err != nil {
			slog.Debug("Failed to close pubsub subscription", "key", key, "error", err)
		}
	}

	return out, cancel, nil
}
