package docstore

import (
	"context"
	"errors"
)

// Collections used by the session security core.
const (
	CollectionUserDevices  = "userDevices"
	CollectionUserSecurity = "userSecurity"
)

var (
	// ErrNotFound indicates the document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrPermissionDenied indicates the backend rejected the operation.
	// Expected immediately after sign-in while server-side auth propagates,
	// so callers treat it as non-fatal.
	ErrPermissionDenied = errors.New("permission denied")
)

// Store is a minimal projection of the hosted document database: JSON
// documents addressed by collection and document id, plus a live-update
// subscription per document.
type Store interface {
	// Get returns the raw JSON document, or ErrNotFound.
	Get(ctx context.Context, collection, id string) ([]byte, error)

	// Set replaces the document with the given JSON payload, creating it if
	// absent.
	Set(ctx context.Context, collection, id string, data []byte) error

	// Watch subscribes to updates of a single document. The returned channel
	// receives the full document after every Set until cancel is called or
	// ctx is done. The channel is closed on teardown.
	Watch(ctx context.Context, collection, id string) (<-chan []byte, func(), error)
}

// IsNotFound reports whether err indicates a missing document.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsPermissionDenied reports whether err indicates a denied operation.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}
