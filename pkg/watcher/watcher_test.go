package watcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casaflow/devicetrust/pkg/docstore"
	"github.com/casaflow/devicetrust/pkg/fingerprint"
	"github.com/casaflow/devicetrust/pkg/localstore"
	"github.com/casaflow/devicetrust/pkg/registry"
)

func testFingerprint(deviceID string) *fingerprint.Fingerprint {
	fp := &fingerprint.Fingerprint{DeviceID: deviceID, Platform: "ios"}
	fp.Hash = fingerprint.ComputeHash(*fp)
	return fp
}

func waitSignOut(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case userID := <-ch:
		assert.Equal(t, want, userID)
	case <-time.After(2 * time.Second):
		t.Fatal("force sign-out not invoked")
	}
}

func TestWatcher_ForcesSignOutOnRemoteDeactivation(t *testing.T) {
	store := docstore.NewInMemStore()
	reg := registry.NewService(store)
	local := localstore.NewInMemStore()
	ctx := context.Background()

	require.True(t, reg.RegisterDevice(ctx, "user-1", testFingerprint("dev-a"), true).Success)
	require.NoError(t, localstore.SetTrustedDevice(local, "user-1", "dev-a"))

	signedOut := make(chan string, 1)
	w := New(reg, local, func(userID string) { signedOut <- userID }).
		WithRetryPolicy(3, 10*time.Millisecond)
	w.Start("user-1", "dev-a")
	defer w.Stop()

	// Give the subscription time to come up, then deactivate from "another
	// device".
	time.Sleep(100 * time.Millisecond)
	require.True(t, reg.DeactivateOtherDevices(ctx, "user-1", "dev-b").Success)

	waitSignOut(t, signedOut, "user-1")

	_, trusted := localstore.TrustedDevice(local, "user-1")
	assert.False(t, trusted)
}

func TestWatcher_CatchesDeactivationBeforeSubscription(t *testing.T) {
	store := docstore.NewInMemStore()
	reg := registry.NewService(store)
	local := localstore.NewInMemStore()
	ctx := context.Background()

	require.True(t, reg.RegisterDevice(ctx, "user-1", testFingerprint("dev-a"), true).Success)

	// The device is already inactive when the watch starts; the snapshot
	// check must still fire the sign-out.
	require.True(t, reg.DeactivateSpecificDevice(ctx, "user-1", "dev-a").Success)

	signedOut := make(chan string, 1)
	w := New(reg, local, func(userID string) { signedOut <- userID }).
		WithRetryPolicy(3, 10*time.Millisecond)
	w.Start("user-1", "dev-a")
	defer w.Stop()

	waitSignOut(t, signedOut, "user-1")
}

func TestWatcher_RetriesPermissionDenied(t *testing.T) {
	inner := docstore.NewInMemStore()
	store := docstore.NewDenyFirst(inner, 2)
	reg := registry.NewService(store)
	local := localstore.NewInMemStore()
	ctx := context.Background()

	// Seed through the inner store so the denies are spent on the watcher.
	seedReg := registry.NewService(inner)
	require.True(t, seedReg.RegisterDevice(ctx, "user-1", testFingerprint("dev-a"), true).Success)

	signedOut := make(chan string, 1)
	w := New(reg, local, func(userID string) { signedOut <- userID }).
		WithRetryPolicy(5, 10*time.Millisecond)
	w.Start("user-1", "dev-a")
	defer w.Stop()

	// Wait out the denied attempts, then deactivate.
	time.Sleep(150 * time.Millisecond)
	require.True(t, seedReg.DeactivateSpecificDevice(ctx, "user-1", "dev-a").Success)

	waitSignOut(t, signedOut, "user-1")
}

func TestWatcher_GivesUpAfterRetryBudget(t *testing.T) {
	store := docstore.NewDenyFirst(docstore.NewInMemStore(), 100)
	reg := registry.NewService(store)
	local := localstore.NewInMemStore()

	signedOut := make(chan string, 1)
	w := New(reg, local, func(userID string) { signedOut <- userID }).
		WithRetryPolicy(2, 10*time.Millisecond)
	w.Start("user-1", "dev-a")
	defer w.Stop()

	select {
	case <-signedOut:
		t.Fatal("sign-out must not fire when the watch never comes up")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatcher_StopPreventsSignOut(t *testing.T) {
	store := docstore.NewInMemStore()
	reg := registry.NewService(store)
	local := localstore.NewInMemStore()
	ctx := context.Background()

	require.True(t, reg.RegisterDevice(ctx, "user-1", testFingerprint("dev-a"), true).Success)

	signedOut := make(chan string, 1)
	w := New(reg, local, func(userID string) { signedOut <- userID }).
		WithRetryPolicy(3, 10*time.Millisecond)
	w.Start("user-1", "dev-a")

	time.Sleep(100 * time.Millisecond)
	w.Stop()
	// Stop is idempotent.
	w.Stop()

	require.True(t, reg.DeactivateSpecificDevice(ctx, "user-1", "dev-a").Success)

	select {
	case <-signedOut:
		t.Fatal("sign-out fired after Stop")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatcher_RestartSwitchesAccount(t *testing.T) {
	store := docstore.NewInMemStore()
	reg := registry.NewService(store)
	local := localstore.NewInMemStore()
	ctx := context.Background()

	require.True(t, reg.RegisterDevice(ctx, "user-1", testFingerprint("dev-a"), true).Success)
	require.True(t, reg.RegisterDevice(ctx, "user-2", testFingerprint("dev-a"), true).Success)

	signedOut := make(chan string, 2)
	w := New(reg, local, func(userID string) { signedOut <- userID }).
		WithRetryPolicy(3, 10*time.Millisecond)

	w.Start("user-1", "dev-a")
	time.Sleep(50 * time.Millisecond)
	// Starting again for another account tears down the first watch.
	w.Start("user-2", "dev-a")
	defer w.Stop()

	time.Sleep(100 * time.Millisecond)
	require.True(t, reg.DeactivateSpecificDevice(ctx, "user-2", "dev-a").Success)

	waitSignOut(t, signedOut, "user-2")
}
