package watcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/casaflow/devicetrust/pkg/docstore"
	"github.com/casaflow/devicetrust/pkg/localstore"
	"github.com/casaflow/devicetrust/pkg/registry"
)

// Watcher holds the one live subscription on the signed-in account's device
// registry. When the account's record for this device flips to inactive
// (deactivated by a login elsewhere), the watcher clears the local
// trusted-device marker and forces sign-out.
//
// The watcher is best effort: it retries permission errors a bounded number
// of times (server-side auth rules propagate shortly after sign-in) and
// swallows everything else. It must never take the app down.
type Watcher struct {
	registry *registry.Service
	local    localstore.Store

	// ForceSignOut is invoked with the account id when this device has been
	// deactivated remotely.
	forceSignOut func(userID string)

	maxRetries int
	retryDelay time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	userID string
}

// New creates a watcher with the default retry policy: up to 5 attempts,
// 200ms apart.
func New(reg *registry.Service, local localstore.Store, forceSignOut func(userID string)) *Watcher {
	return &Watcher{
		registry:     reg,
		local:        local,
		forceSignOut: forceSignOut,
		maxRetries:   5,
		retryDelay:   200 * time.Millisecond,
	}
}

// WithRetryPolicy overrides the bounded-retry parameters. Used in tests.
func (w *Watcher) WithRetryPolicy(maxRetries int, delay time.Duration) *Watcher {
	w.maxRetries = maxRetries
	w.retryDelay = delay
	return w
}

// Start begins watching the account's registry for this device. A previous
// watch, for any account, is torn down first: exactly one watcher is live at
// a time.
func (w *Watcher) Start(userID, deviceID string) {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.userID = userID
	w.mu.Unlock()

	slog.Info("Starting active-device watch", "userId", userID, "deviceId", deviceID)
	go w.run(ctx, userID, deviceID)
}

// Stop tears down the active subscription. Safe to call repeatedly and
// required on sign-out so no listener stays bound to a stale account.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
		slog.Info("Stopped active-device watch", "userId", w.userID)
		w.userID = ""
	}
}

func (w *Watcher) run(ctx context.Context, userID, deviceID string) {
	// The subscription usually races server-side auth propagation right
	// after sign-in, so give it a moment before the first attempt.
	if !sleepCtx(ctx, w.retryDelay) {
		return
	}

	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return
		}

		updates, cancel, err := w.registry.Watch(ctx, userID)
		if err != nil {
			if docstore.IsPermissionDenied(err) && attempt < w.maxRetries {
				slog.Debug("Registry watch denied, retrying",
					"userId", userID, "attempt", attempt+1, "error", err)
				if !sleepCtx(ctx, w.retryDelay) {
					return
				}
				continue
			}
			// Best-effort feature: anything else is logged and dropped.
			slog.Warn("Registry watch unavailable, giving up", "userId", userID, "error", err)
			return
		}

		// A deactivation issued before the subscription was live would never
		// arrive on the stream; check the current snapshot first.
		if w.checkSnapshot(ctx, userID, deviceID) {
			cancel()
			return
		}

		done := w.consume(ctx, updates, userID, deviceID)
		cancel()
		if done || ctx.Err() != nil {
			return
		}
		// Stream ended without a deactivation; treat like a transient error
		// and retry within the remaining budget.
		slog.Debug("Registry watch stream ended, retrying", "userId", userID, "attempt", attempt+1)
		if !sleepCtx(ctx, w.retryDelay) {
			return
		}
	}
	slog.Warn("Registry watch retries exhausted", "userId", userID)
}

// checkSnapshot reads the registry once and handles an already-recorded
// deactivation. Returns true when the device was deactivated.
func (w *Watcher) checkSnapshot(ctx context.Context, userID, deviceID string) bool {
	for _, record := range w.registry.GetUserDevices(ctx, userID) {
		if record.DeviceID == deviceID && !record.IsActive {
			w.deactivated(userID, deviceID)
			return true
		}
	}
	return false
}

// consume drains updates until a remote deactivation is seen (returns true)
// or the stream ends (returns false).
func (w *Watcher) consume(ctx context.Context, updates <-chan registry.Document, userID, deviceID string) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case doc, ok := <-updates:
			if !ok {
				return false
			}
			record, found := doc.Find(deviceID)
			if !found || record.IsActive {
				continue
			}
			w.deactivated(userID, deviceID)
			return true
		}
	}
}

// deactivated clears the local trust marker and forces sign-out.
func (w *Watcher) deactivated(userID, deviceID string) {
	slog.Warn("Device deactivated by another login, forcing sign-out",
		"userId", userID, "deviceId", deviceID)
	if err := localstore.ClearTrustedDevice(w.local, userID); err != nil {
		slog.Warn("Failed to clear trusted device marker", "userId", userID, "error", err)
	}
	if w.forceSignOut != nil {
		w.forceSignOut(userID)
	}
}

// sleepCtx sleeps for d unless ctx is cancelled first. Returns false when
// cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
