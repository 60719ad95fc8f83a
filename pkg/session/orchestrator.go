package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/casaflow/devicetrust/pkg/apierror"
	"github.com/casaflow/devicetrust/pkg/authapi"
	"github.com/casaflow/devicetrust/pkg/fingerprint"
	"github.com/casaflow/devicetrust/pkg/localstore"
	"github.com/casaflow/devicetrust/pkg/registry"
	"github.com/casaflow/devicetrust/pkg/security"
	"github.com/casaflow/devicetrust/pkg/watcher"
)

// Orchestrator drives the login state machine:
//
//	phone -> password -> otp -> authenticated
//
// with the otp step skipped on the trusted-device fast path. It composes the
// fingerprint generator, rate limiter, device registry, active-device
// watcher and the backend client; it is the only layer that surfaces
// user-facing outcomes.
type Orchestrator struct {
	client       *authapi.Client
	auth         Authenticator
	fingerprints *fingerprint.Generator
	limiter      *security.Limiter
	registry     *registry.Service
	local        localstore.Store
	watcher      *watcher.Watcher
	phoneChecks  *phoneCache
	now          func() time.Time

	onForceSignOut func(userID string)

	mu           sync.Mutex
	step         Step
	phone        string
	candidateUID string // from the phone-exists check, for the pre-password block check
	pendingUID   string // carried into the otp step; never an authenticated session
	busy         bool
}

// Options tunes orchestrator construction.
type Options struct {
	// PhoneCheckTTL bounds how long a phone-exists answer is reused.
	PhoneCheckTTL time.Duration
	// PhoneCheckMaxEntries bounds the phone-check cache size.
	PhoneCheckMaxEntries int
	// Clock overrides time.Now. Used in tests.
	Clock func() time.Time
	// WatcherRetries and WatcherRetryDelay tune the active-device watcher.
	WatcherRetries    int
	WatcherRetryDelay time.Duration
}

// New creates a session orchestrator at the phone step.
func New(client *authapi.Client, auth Authenticator, gen *fingerprint.Generator,
	limiter *security.Limiter, reg *registry.Service, local localstore.Store, opts Options) *Orchestrator {

	if opts.PhoneCheckTTL <= 0 {
		opts.PhoneCheckTTL = 30 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	o := &Orchestrator{
		client:       client,
		auth:         auth,
		fingerprints: gen,
		limiter:      limiter,
		registry:     reg,
		local:        local,
		phoneChecks:  newPhoneCache(opts.PhoneCheckTTL, opts.PhoneCheckMaxEntries, opts.Clock),
		now:          opts.Clock,
		step:         StepPhone,
	}

	o.watcher = watcher.New(reg, local, o.handleRemoteDeactivation)
	if opts.WatcherRetries > 0 && opts.WatcherRetryDelay > 0 {
		o.watcher.WithRetryPolicy(opts.WatcherRetries, opts.WatcherRetryDelay)
	}
	return o
}

// SetForceSignOutHandler installs a hook invoked after a remote deactivation
// has forced this device out. The session is already torn down when it runs.
func (o *Orchestrator) SetForceSignOutHandler(handler func(userID string)) {
	o.mu.Lock()
	o.onForceSignOut = handler
	o.mu.Unlock()
}

// Step returns the machine's current step.
func (o *Orchestrator) Step() Step {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.step
}

// SubmitPhone checks whether an account exists for the phone number and
// advances to the password step when it does.
func (o *Orchestrator) SubmitPhone(ctx context.Context, phone string) Result {
	if err := o.begin(StepPhone); err != nil {
		return failure(o.Step(), err)
	}
	defer o.finish()

	normalized, verr := ValidatePhone(phone)
	if verr != nil {
		return failure(StepPhone, verr)
	}

	resp, cached := o.phoneChecks.get(normalized)
	if !cached {
		var err error
		resp, err = o.client.CheckPhone(ctx, normalized)
		if err != nil {
			return failure(StepPhone, asAPIError(err))
		}
		o.phoneChecks.put(normalized, resp)
	}

	if !resp.Exists {
		// The registration flow takes over from here.
		slog.Info("Phone has no account, handing off to registration")
		return Result{Step: StepPhone, Registration: true}
	}

	o.mu.Lock()
	o.phone = normalized
	o.candidateUID = resp.UserID
	o.step = StepPassword
	o.mu.Unlock()

	return Result{Step: StepPassword}
}

// SubmitPassword verifies the password and either completes sign-in on the
// trusted-device fast path or requests OTP step-up.
func (o *Orchestrator) SubmitPassword(ctx context.Context, password string) Result {
	if err := o.begin(StepPassword); err != nil {
		return failure(o.Step(), err)
	}
	defer o.finish()

	o.mu.Lock()
	phone := o.phone
	candidateUID := o.candidateUID
	o.mu.Unlock()

	// The block check comes before any password or OTP call.
	if blocked := o.blockResult(ctx, candidateUID, StepPassword); blocked != nil {
		return *blocked
	}

	resp, err := o.client.PasswordLogin(ctx, phone, password)
	if err != nil {
		return o.passwordFailure(ctx, candidateUID, phone, err)
	}

	fp, fpErr := o.fingerprints.Generate()
	if fpErr != nil || fp == nil {
		// Without a fingerprint the device cannot be verified; fall back to
		// OTP step-up.
		slog.Warn("No device fingerprint available, requiring OTP", "error", fpErr)
		return o.stepUpToOTP(ctx, phone, resp.UID)
	}

	conflict := o.detectConflict(ctx, resp.UID, fp.DeviceID)
	trusted := !conflict && o.isTrustedDevice(ctx, resp.UID, fp.DeviceID)

	if !trusted {
		return o.stepUpToOTP(ctx, phone, resp.UID)
	}

	// Fast path: exchange the token for a full session immediately, no OTP.
	if _, err := o.auth.SignInWithToken(ctx, resp.Token); err != nil {
		return failure(StepPassword, asAPIError(err))
	}

	result := o.completeSignIn(ctx, resp.UID, fp)
	result.UsedFastPath = true
	slog.Info("Fast-path sign-in complete", "uid", resp.UID, "deviceId", fp.DeviceID)
	return result
}

// SubmitOTP verifies the passcode and completes sign-in. A rejected code
// tears down any partial session state and keeps the machine at the otp
// step; an abandoned otp step never leaves an authenticated session behind.
func (o *Orchestrator) SubmitOTP(ctx context.Context, code string) Result {
	if err := o.begin(StepOTP); err != nil {
		return failure(o.Step(), err)
	}
	defer o.finish()

	if verr := ValidateOTP(code); verr != nil {
		return failure(StepOTP, verr)
	}

	o.mu.Lock()
	phone := o.phone
	pendingUID := o.pendingUID
	o.mu.Unlock()

	if blocked := o.blockResult(ctx, pendingUID, StepOTP); blocked != nil {
		return *blocked
	}

	resp, err := o.client.LoginWithOTP(ctx, phone, code, authapi.PurposeLogin)
	if err != nil {
		apiErr := asAPIError(err)
		if apiErr.Retryable() {
			// Transient: the user may simply resubmit the same code.
			return failure(StepOTP, apiErr)
		}

		// Rejected code: tear down whatever was partially established and
		// clear the pending account id.
		if signOutErr := o.auth.SignOut(ctx); signOutErr != nil {
			slog.Warn("Failed to tear down partial session", "error", signOutErr)
		}
		o.mu.Lock()
		o.pendingUID = ""
		o.mu.Unlock()
		slog.Info("OTP rejected, session state cleared", "code", apiErr.Code)
		return failure(StepOTP, apiErr)
	}

	if _, err := o.auth.SignInWithToken(ctx, resp.Token); err != nil {
		return failure(StepOTP, asAPIError(err))
	}

	fp, fpErr := o.fingerprints.Generate()
	if fpErr != nil || fp == nil {
		// Sign-in stands even if the device cannot be registered.
		slog.Warn("Signed in without a fingerprint, device not registered", "error", fpErr)
		o.mu.Lock()
		o.step = StepAuthenticated
		o.pendingUID = ""
		o.mu.Unlock()
		return Result{Step: StepAuthenticated, Authenticated: true}
	}

	result := o.completeSignIn(ctx, resp.UID, fp)
	slog.Info("OTP sign-in complete", "uid", resp.UID, "deviceId", fp.DeviceID)
	return result
}

// Back returns otp to password and password to phone. Busy submissions are
// never interrupted.
func (o *Orchestrator) Back() Step {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busy {
		return o.step
	}
	switch o.step {
	case StepOTP:
		o.step = StepPassword
		o.pendingUID = ""
	case StepPassword:
		o.step = StepPhone
	}
	return o.step
}

// Reset is the hard reset: the only path back to the phone step from
// anywhere. It clears the phone and every pending account id.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.step = StepPhone
	o.phone = ""
	o.candidateUID = ""
	o.pendingUID = ""
}

// SignOut tears down the session, stops the watcher, stamps the device
// record's logout time and resets the machine.
func (o *Orchestrator) SignOut(ctx context.Context) {
	o.watcher.Stop()

	if session, ok := o.auth.Current(); ok {
		if fp, err := o.fingerprints.Generate(); err == nil && fp != nil {
			if result := o.registry.MarkLogout(ctx, session.UID, fp.DeviceID); result.Error != nil {
				slog.Warn("Failed to record logout", "uid", session.UID, "error", result.Error)
			}
		}
		if err := o.auth.SignOut(ctx); err != nil {
			slog.Warn("Failed to sign out", "uid", session.UID, "error", err)
		}
	}

	o.Reset()
}

// blockResult returns a populated Result when the account is currently
// blocked, nil otherwise.
func (o *Orchestrator) blockResult(ctx context.Context, userID string, step Step) *Result {
	if userID == "" {
		return nil
	}
	status := o.limiter.CheckBlockStatus(ctx, userID)
	if !status.IsBlocked {
		return nil
	}

	slog.Info("Login attempt rejected, account blocked",
		"uid", userID, "remainingMinutes", status.RemainingMinutes)
	result := failure(step, apierror.Newf(apierror.CodeAccountBlocked,
		"account temporarily blocked, try again in %d minutes", status.RemainingMinutes))
	result.Blocked = true
	result.BlockRemainingMinutes = status.RemainingMinutes
	return &result
}

// passwordFailure maps a password-login error to the machine's failure
// semantics: wrong password increments the limiter and stays at password
// with the field cleared; a password-less account steps up to OTP; anything
// else surfaces as retryable without advancing.
func (o *Orchestrator) passwordFailure(ctx context.Context, candidateUID, phone string, err error) Result {
	apiErr := asAPIError(err)
	switch apiErr.Code {
	case apierror.CodeInvalidPassword:
		if candidateUID != "" {
			lr := o.limiter.RecordFailedLogin(ctx, candidateUID, "wrong_password")
			if lr.Blocked {
				status := o.limiter.CheckBlockStatus(ctx, candidateUID)
				result := failure(StepPassword, apierror.Newf(apierror.CodeAccountBlocked,
					"account temporarily blocked, try again in %d minutes", status.RemainingMinutes))
				result.Blocked = true
				result.BlockRemainingMinutes = status.RemainingMinutes
				return result
			}
			apiErr = apiErr.WithData("attemptsRemaining", lr.AttemptsRemaining)
		}
		return failure(StepPassword, apiErr)

	case apierror.CodePasswordNotSet:
		// The account only supports OTP login.
		return o.stepUpToOTP(ctx, phone, candidateUID)

	default:
		return failure(StepPassword, apiErr)
	}
}

// stepUpToOTP requests a passcode and advances to the otp step, carrying the
// pending account id forward without establishing any session.
func (o *Orchestrator) stepUpToOTP(ctx context.Context, phone, uid string) Result {
	if err := o.client.RequestOTP(ctx, phone, authapi.PurposeLogin); err != nil {
		return failure(StepPassword, asAPIError(err))
	}

	o.mu.Lock()
	o.pendingUID = uid
	o.step = StepOTP
	o.mu.Unlock()

	slog.Info("OTP step-up required", "uid", uid)
	return Result{Step: StepOTP}
}

// detectConflict runs the multi-account checks. A conflict disables the
// trusted-device bypass for this attempt regardless of server state; a
// different account left active on this device is deactivated immediately.
// The local heuristics are an optimization only, the registry's server-held
// state stays authoritative.
func (o *Orchestrator) detectConflict(ctx context.Context, uid, deviceID string) bool {
	conflict := false

	if lastUsed, ok := localstore.LastUsedAccount(o.local); ok && lastUsed != uid {
		slog.Info("Account switch detected on this device",
			"previousUid", lastUsed, "uid", uid)
		conflict = true

		// Resolve immediately, not deferred: the previous account must not
		// keep this device active.
		for _, record := range o.registry.GetUserDevices(ctx, lastUsed) {
			if record.DeviceID == deviceID && record.IsActive {
				if result := o.registry.DeactivateSpecificDevice(ctx, lastUsed, deviceID); result.Error != nil {
					slog.Warn("Failed to deactivate device on previous account",
						"previousUid", lastUsed, "error", result.Error)
				}
				break
			}
		}
	}

	if count := localstore.TrustedDeviceCount(o.local); count > 1 {
		slog.Info("Multiple trusted accounts recorded on this device", "count", count)
		conflict = true
	}

	return conflict
}

// isTrustedDevice checks the local marker first and falls back to the
// registry, caching a hit locally to skip the next round trip.
func (o *Orchestrator) isTrustedDevice(ctx context.Context, uid, deviceID string) bool {
	if marker, ok := localstore.TrustedDevice(o.local, uid); ok {
		if marker == deviceID {
			return true
		}
		// Stale marker from a different device fingerprint.
		if err := localstore.ClearTrustedDevice(o.local, uid); err != nil {
			slog.Warn("Failed to clear stale trusted device marker", "uid", uid, "error", err)
		}
	}

	for _, record := range o.registry.GetUserDevices(ctx, uid) {
		if record.DeviceID == deviceID && record.IsActive {
			if err := localstore.SetTrustedDevice(o.local, uid, deviceID); err != nil {
				slog.Warn("Failed to cache trusted device marker", "uid", uid, "error", err)
			}
			return true
		}
	}
	return false
}

// completeSignIn runs the post-authentication side effects shared by the
// fast path and the otp path. Registry failures are best effort: the user
// is never blocked from completing sign-in over them.
func (o *Orchestrator) completeSignIn(ctx context.Context, uid string, fp *fingerprint.Fingerprint) Result {
	o.limiter.ClearFailedAttempts(ctx, uid)

	result := Result{Step: StepAuthenticated, Authenticated: true}

	// A different previously-active device counts as a device change.
	for _, record := range o.registry.GetUserDevices(ctx, uid) {
		if record.IsActive && record.DeviceID != fp.DeviceID {
			cr := o.limiter.RecordDeviceChange(ctx, uid, record.DeviceID, fp.DeviceID)
			result.DeviceChangeWarning = cr.Warning
			if cr.Blocked {
				// The block applies to future attempts; this sign-in stands.
				result.Blocked = true
				result.BlockRemainingMinutes = int(cr.BlockedUntil.Sub(o.now()).Minutes())
			}
			break
		}
	}

	if r := o.registry.RegisterDevice(ctx, uid, fp, true); r.Error != nil {
		slog.Warn("Failed to register device", "uid", uid, "error", r.Error)
	}
	if r := o.registry.DeactivateOtherDevices(ctx, uid, fp.DeviceID); r.Error != nil {
		slog.Warn("Failed to deactivate other devices", "uid", uid, "error", r.Error)
	}

	o.watcher.Start(uid, fp.DeviceID)

	if err := localstore.SetTrustedDevice(o.local, uid, fp.DeviceID); err != nil {
		slog.Warn("Failed to cache trusted device marker", "uid", uid, "error", err)
	}
	if err := localstore.SetLastUsedAccount(o.local, uid); err != nil {
		slog.Warn("Failed to record last used account", "uid", uid, "error", err)
	}

	o.limiter.CleanupOldRecords(ctx, uid, 0)

	o.mu.Lock()
	o.step = StepAuthenticated
	o.pendingUID = ""
	o.mu.Unlock()

	return result
}

// handleRemoteDeactivation runs on the watcher goroutine when this device
// has been deactivated by a login elsewhere.
func (o *Orchestrator) handleRemoteDeactivation(userID string) {
	if err := o.auth.SignOut(context.Background()); err != nil {
		slog.Warn("Failed to sign out after remote deactivation", "uid", userID, "error", err)
	}

	o.mu.Lock()
	o.step = StepPhone
	o.phone = ""
	o.candidateUID = ""
	o.pendingUID = ""
	handler := o.onForceSignOut
	o.mu.Unlock()

	if handler != nil {
		handler(userID)
	}
}

func (o *Orchestrator) begin(step Step) *apierror.Error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busy {
		return apierror.New(apierror.CodeConflict, "another submission is in flight")
	}
	if o.step != step {
		return apierror.Newf(apierror.CodeConflict, "not at the %s step", step)
	}
	o.busy = true
	return nil
}

// finish clears the in-flight guard. Deferred on every submission so the
// machine can never get stuck busy.
func (o *Orchestrator) finish() {
	o.mu.Lock()
	o.busy = false
	o.mu.Unlock()
}

func asAPIError(err error) *apierror.Error {
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return apierror.Wrap(err, apierror.CodeInternal, "unexpected error")
}
