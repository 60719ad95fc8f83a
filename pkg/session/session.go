package session

import (
	"time"

	"github.com/casaflow/devicetrust/pkg/apierror"
)

// Step is the login state machine's position.
type Step string

const (
	StepPhone         Step = "phone"
	StepPassword      Step = "password"
	StepOTP           Step = "otp"
	StepAuthenticated Step = "authenticated"
)

// Session is an established, usable sign-in.
type Session struct {
	UID       string
	Token     string
	ExpiresAt time.Time
}

// Result reports the outcome of a state machine operation. Err is nil on
// success; on failure the step reflects where the machine stayed.
type Result struct {
	Step          Step
	Authenticated bool

	// Registration is set when the submitted phone has no account and the
	// caller should exit to the registration flow.
	Registration bool

	// UsedFastPath is set when the trusted device skipped OTP step-up.
	UsedFastPath bool

	// DeviceChangeWarning is set when exactly one device change remains
	// today before the account is blocked.
	DeviceChangeWarning bool

	// Blocked and BlockRemainingMinutes surface an active rate-limit block.
	Blocked               bool
	BlockRemainingMinutes int

	Err *apierror.Error
}

func failure(step Step, err *apierror.Error) Result {
	return Result{Step: step, Err: err}
}
