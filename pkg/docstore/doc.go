// Package docstore provides the synchronized document backend for devicetrust.
//
// This package abstracts the hosted document database the mobile clients
// share: JSON documents addressed by collection and id, with per-document
// watch subscriptions for cross-device propagation.
//
// # Overview
//
// The docstore package provides:
//   - The Store interface (Get, Set, Watch)
//   - InMemStore for tests and the demo binary
//   - PostgresStore on a jsonb table with LISTEN/NOTIFY updates
//   - RedisStore with pub/sub updates
//   - DenyFirst, a fault-injecting wrapper simulating auth propagation delay
//
// # Basic Usage
//
//	import "github.com/casaflow/devicetrust/pkg/docstore"
//
//	store := docstore.NewInMemStore()
//
//	// Write and read a document
//	err := store.Set(ctx, docstore.CollectionUserDevices, userID, data)
//	data, err = store.Get(ctx, docstore.CollectionUserDevices, userID)
//
//	// Subscribe to updates
//	updates, cancel, err := store.Watch(ctx, docstore.CollectionUserDevices, userID)
//	defer cancel()
//	for data := range updates {
//		// handle new document version
//	}
//
// Errors are classified with IsNotFound and IsPermissionDenied; callers in
// the security layers degrade both to safe defaults instead of failing the
// login flow.
package docstore
