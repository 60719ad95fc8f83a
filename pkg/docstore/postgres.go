package docstore

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// notifyChannel is the single LISTEN/NOTIFY channel all document updates go
// through; the payload identifies the document ("collection/id").
const notifyChannel = "docstore_updates"

// PostgresStore implements Store on a single jsonb documents table.
//
// Schema:
//
//	CREATE TABLE documents (
//	    collection TEXT NOT NULL,
//	    doc_id     TEXT NOT NULL,
//	    data       JSONB NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    PRIMARY KEY (collection, doc_id)
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a postgres-backed document store
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Get returns the raw JSON document, or ErrNotFound
func (s *PostgresStore) Get(ctx context.Context, collection, id string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM documents WHERE collection = $1 AND doc_id = $2`,
		collection, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Set upserts the document and notifies listeners.
func (s *PostgresStore) Set(ctx context.Context, collection, id string, data []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (collection, doc_id, data, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (collection, doc_id)
		 DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		collection, id, data)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `SELECT pg_notify($1, $2)`,
		notifyChannel, docKey(collection, id))
	if err != nil {
		// The write itself succeeded; listeners miss one update.
		slog.Warn("Failed to notify document update", "collection", collection, "id", id, "error", err)
	}
	return nil
}

// Watch subscribes to updates of a single document via LISTEN/NOTIFY on a
// dedicated connection.
func (s *PostgresStore) Watch(ctx context.Context, collection, id string) (<-chan []byte, func(), error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, nil, err
	}

	watchCtx, cancelCtx := context.WithCancel(ctx)
	key := docKey(collection, id)
	out := make(chan []byte, 16)

	go func() {
		defer close(out)
		defer conn.Release()
		for {
			notification, err := conn.Conn().WaitForNotification(watchCtx)
			if err != nil {
				if watchCtx.Err() == nil {
					slog.Warn("Document watch terminated", "key", key, "error", err)
				}
				return
			}
			if notification.Payload != key {
				continue
			}
			data, err := s.Get(watchCtx, collection, id)
			if err != nil {
				slog.Warn("Failed to fetch document after notification", "key", key, "error", err)
				continue
			}
			select {
			case out <- data:
			case <-watchCtx.Done():
				return
			}
		}
	}()

	return out, cancelCtx, nil
}
