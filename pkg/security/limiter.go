package security

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/casaflow/devicetrust/pkg/docstore"
)

// Limiter tracks failed logins and device switches per account and enforces
// time-boxed blocks. Every method tolerates store failures: a denied or
// unreachable backend yields the safe default instead of an error, because
// the account may not have sync rights yet right after sign-in.
type Limiter struct {
	store docstore.Store

	maxFailedLogins     int
	loginBlockDuration  time.Duration
	maxDeviceChanges    int
	changeBlockDuration time.Duration
	retentionDays       int

	now func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the limiter's clock. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLimits overrides the failed-login and device-change thresholds.
func WithLimits(maxFailedLogins, maxDeviceChanges int) Option {
	return func(l *Limiter) {
		l.maxFailedLogins = maxFailedLogins
		l.maxDeviceChanges = maxDeviceChanges
	}
}

// WithBlockDurations overrides the block windows.
func WithBlockDurations(login, change time.Duration) Option {
	return func(l *Limiter) {
		l.loginBlockDuration = login
		l.changeBlockDuration = change
	}
}

// NewLimiter creates a limiter with the default policy: 5 failed logins a day
// block for 30 minutes, 4 device changes a day block for 24 hours, records
// kept for 7 days.
func NewLimiter(store docstore.Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:               store,
		maxFailedLogins:     5,
		loginBlockDuration:  30 * time.Minute,
		maxDeviceChanges:    4,
		changeBlockDuration: 24 * time.Hour,
		retentionDays:       7,
		now:                 time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoginResult reports the outcome of recording a failed login.
type LoginResult struct {
	Blocked           bool
	AttemptsRemaining int
	BlockedUntil      time.Time
}

// ChangeResult reports the outcome of recording a device change.
type ChangeResult struct {
	Blocked          bool
	Warning          bool
	ChangesRemaining int
	BlockedUntil     time.Time
}

// BlockStatus is a pure read of the account's current block.
type BlockStatus struct {
	IsBlocked        bool
	Reason           string
	RemainingMinutes int
}

// RecordFailedLogin appends a failed attempt to today's bucket. The attempt
// that reaches the threshold starts the block; attempts during an existing
// block neither shorten nor extend it.
func (l *Limiter) RecordFailedLogin(ctx context.Context, userID, reason string) LoginResult {
	now := l.now()
	state := l.load(ctx, userID)

	if state.LoginAttempts == nil {
		state.LoginAttempts = make(map[string][]Attempt)
	}
	day := dayKey(now)
	state.LoginAttempts[day] = append(state.LoginAttempts[day], Attempt{
		Timestamp: now,
		Reason:    reason,
	})
	count := len(state.LoginAttempts[day])

	result := LoginResult{AttemptsRemaining: l.maxFailedLogins - count}
	if result.AttemptsRemaining < 0 {
		result.AttemptsRemaining = 0
	}

	if count >= l.maxFailedLogins {
		result.Blocked = true
		if state.BlockedUntil == nil || !state.BlockedUntil.After(now) {
			until := now.Add(l.loginBlockDuration)
			state.BlockedUntil = &until
			state.BlockReason = BlockReasonFailedLogins
			state.LastBlocked = &now
			slog.Warn("Account blocked after repeated failed logins",
				"userId", userID, "attempts", count, "until", until)
		}
		result.BlockedUntil = *state.BlockedUntil
	}

	l.save(ctx, userID, state)
	return result
}

// RecordDeviceChange appends a device switch to today's bucket. The change
// that reaches the threshold blocks the account for a day; the one just
// before it returns a non-blocking warning so the caller can tell the user
// one change remains.
func (l *Limiter) RecordDeviceChange(ctx context.Context, userID, oldDeviceID, newDeviceID string) ChangeResult {
	now := l.now()
	state := l.load(ctx, userID)

	if state.DeviceChanges == nil {
		state.DeviceChanges = make(map[string][]Change)
	}
	day := dayKey(now)
	state.DeviceChanges[day] = append(state.DeviceChanges[day], Change{
		Timestamp:   now,
		OldDeviceID: oldDeviceID,
		NewDeviceID: newDeviceID,
	})
	count := len(state.DeviceChanges[day])

	result := ChangeResult{ChangesRemaining: l.maxDeviceChanges - count}
	if result.ChangesRemaining < 0 {
		result.ChangesRemaining = 0
	}

	switch {
	case count >= l.maxDeviceChanges:
		result.Blocked = true
		if state.BlockedUntil == nil || !state.BlockedUntil.After(now) {
			until := now.Add(l.changeBlockDuration)
			state.BlockedUntil = &until
			state.BlockReason = BlockReasonDeviceChanges
			state.LastBlocked = &now
			slog.Warn("Account blocked after repeated device changes",
				"userId", userID, "changes", count, "until", until)
		}
		result.BlockedUntil = *state.BlockedUntil
	case count == l.maxDeviceChanges-1:
		result.Warning = true
		slog.Info("Device change warning issued", "userId", userID, "changes", count)
	}

	l.save(ctx, userID, state)
	return result
}

// CheckBlockStatus is a pure read against the current blockedUntil.
func (l *Limiter) CheckBlockStatus(ctx context.Context, userID string) BlockStatus {
	now := l.now()
	state := l.load(ctx, userID)

	if state.BlockedUntil == nil || !state.BlockedUntil.After(now) {
		return BlockStatus{}
	}

	remaining := state.BlockedUntil.Sub(now)
	minutes := int(remaining.Minutes())
	if remaining > 0 && minutes == 0 {
		minutes = 1
	}
	return BlockStatus{
		IsBlocked:        true,
		Reason:           state.BlockReason,
		RemainingMinutes: minutes,
	}
}

// ClearFailedAttempts empties today's failed-login bucket after a verified
// successful login, and lifts the block only when it was caused by failed
// logins. Device-change blocks stay. Calling it again is a no-op.
func (l *Limiter) ClearFailedAttempts(ctx context.Context, userID string) {
	now := l.now()
	state := l.load(ctx, userID)

	day := dayKey(now)
	changed := false

	if len(state.LoginAttempts[day]) > 0 {
		delete(state.LoginAttempts, day)
		changed = true
	}

	if state.BlockedUntil != nil && strings.Contains(state.BlockReason, "failed") {
		state.BlockedUntil = nil
		state.BlockReason = ""
		changed = true
	}

	if !changed {
		return
	}

	slog.Info("Cleared failed login attempts", "userId", userID)
	l.save(ctx, userID, state)
}

// CleanupOldRecords prunes buckets older than the retention window.
// daysToKeep <= 0 uses the configured default.
func (l *Limiter) CleanupOldRecords(ctx context.Context, userID string, daysToKeep int) {
	if daysToKeep <= 0 {
		daysToKeep = l.retentionDays
	}
	cutoff := dayKey(l.now().AddDate(0, 0, -daysToKeep))

	state := l.load(ctx, userID)
	changed := false

	for day := range state.LoginAttempts {
		if day < cutoff {
			delete(state.LoginAttempts, day)
			changed = true
		}
	}
	for day := range state.DeviceChanges {
		if day < cutoff {
			delete(state.DeviceChanges, day)
			changed = true
		}
	}

	if !changed {
		return
	}

	slog.Debug("Pruned old security records", "userId", userID, "cutoff", cutoff)
	l.save(ctx, userID, state)
}

// load reads the account's security state, degrading every failure to an
// empty state.
func (l *Limiter) load(ctx context.Context, userID string) State {
	data, err := l.store.Get(ctx, docstore.CollectionUserSecurity, userID)
	if err != nil {
		if !docstore.IsNotFound(err) {
			slog.Warn("Failed to load security state, using empty state",
				"userId", userID, "error", err)
		}
		return State{}
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		slog.Warn("Unreadable security state, using empty state", "userId", userID, "error", err)
		return State{}
	}
	return state
}

// save writes the state back, logging failures instead of propagating them.
func (l *Limiter) save(ctx context.Context, userID string, state State) {
	data, err := json.Marshal(state)
	if err != nil {
		slog.Error("Failed to marshal security state", "userId", userID, "error", err)
		return
	}
	if err := l.store.Set(ctx, docstore.CollectionUserSecurity, userID, data); err != nil {
		slog.Warn("Failed to save security state", "userId", userID, "error", err)
	}
}
