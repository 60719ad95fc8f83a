package docstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemStore_GetSet(t *testing.T) {
	store := NewInMemStore()
	ctx := context.Background()

	_, err := store.Get(ctx, CollectionUserDevices, "user-1")
	assert.True(t, IsNotFound(err))

	require.NoError(t, store.Set(ctx, CollectionUserDevices, "user-1", []byte(`{"a":1}`)))

	data, err := store.Get(ctx, CollectionUserDevices, "user-1")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))

	// Collections are separate namespaces.
	_, err = store.Get(ctx, CollectionUserSecurity, "user-1")
	assert.True(t, IsNotFound(err))
}

func TestInMemStore_GetReturnsCopy(t *testing.T) {
	store := NewInMemStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, CollectionUserDevices, "user-1", []byte(`{"a":1}`)))

	data, err := store.Get(ctx, CollectionUserDevices, "user-1")
	require.NoError(t, err)
	data[0] = 'X'

	again, err := store.Get(ctx, CollectionUserDevices, "user-1")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(again))
}

func TestInMemStore_WatchDeliversUpdates(t *testing.T) {
	store := NewInMemStore()
	ctx := context.Background()

	updates, cancel, err := store.Watch(ctx, CollectionUserDevices, "user-1")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, store.Set(ctx, CollectionUserDevices, "user-1", []byte(`{"v":1}`)))
	require.NoError(t, store.Set(ctx, CollectionUserDevices, "user-1", []byte(`{"v":2}`)))

	assert.Equal(t, `{"v":1}`, string(<-updates))
	assert.Equal(t, `{"v":2}`, string(<-updates))
}

func TestInMemStore_WatchIgnoresOtherDocuments(t *testing.T) {
	store := NewInMemStore()
	ctx := context.Background()

	updates, cancel, err := store.Watch(ctx, CollectionUserDevices, "user-1")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, store.Set(ctx, CollectionUserDevices, "user-2", []byte(`{}`)))
	require.NoError(t, store.Set(ctx, CollectionUserSecurity, "user-1", []byte(`{}`)))

	select {
	case data := <-updates:
		t.Fatalf("unexpected update: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInMemStore_CancelStopsWatch(t *testing.T) {
	store := NewInMemStore()
	ctx := context.Background()

	updates, cancel, err := store.Watch(ctx, CollectionUserDevices, "user-1")
	require.NoError(t, err)

	cancel()
	// Cancelling twice must be safe.
	cancel()

	_, open := <-updates
	assert.False(t, open)

	// Writes after cancel must not panic on the closed channel.
	require.NoError(t, store.Set(ctx, CollectionUserDevices, "user-1", []byte(`{}`)))
}

func TestInMemStore_ContextCancelStopsWatch(t *testing.T) {
	store := NewInMemStore()
	ctx, cancelCtx := context.WithCancel(context.Background())

	updates, _, err := store.Watch(ctx, CollectionUserDevices, "user-1")
	require.NoError(t, err)

	cancelCtx()

	select {
	case _, open := <-updates:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed after context cancel")
	}
}

func TestDenyFirst(t *testing.T) {
	store := NewDenyFirst(NewInMemStore(), 2)
	ctx := context.Background()

	assert.True(t, IsPermissionDenied(store.Set(ctx, CollectionUserDevices, "u", []byte(`{}`))))
	assert.True(t, IsPermissionDenied(store.Set(ctx, CollectionUserDevices, "u", []byte(`{}`))))
	assert.NoError(t, store.Set(ctx, CollectionUserDevices, "u", []byte(`{}`)))

	_, err := store.Get(ctx, CollectionUserDevices, "u")
	assert.True(t, IsPermissionDenied(err))
	_, err = store.Get(ctx, CollectionUserDevices, "u")
	assert.True(t, IsPermissionDenied(err))
	_, err = store.Get(ctx, CollectionUserDevices, "u")
	assert.NoError(t, err)

	_, _, err = store.Watch(ctx, CollectionUserDevices, "u")
	assert.True(t, IsPermissionDenied(err))
	_, _, err = store.Watch(ctx, CollectionUserDevices, "u")
	assert.True(t, IsPermissionDenied(err))

	updates, cancel, err := store.Watch(ctx, CollectionUserDevices, "u")
	require.NoError(t, err)
	defer cancel()
	require.NotNil(t, updates)
}
