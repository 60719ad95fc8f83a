package security

import "time"

// Block reasons stored in the account's security state. ClearFailedAttempts
// keys off the failed-login reason and must never lift a device-change block,
// so the two strings stay distinct.
const (
	BlockReasonFailedLogins  = "too_many_failed_logins"
	BlockReasonDeviceChanges = "too_many_device_changes"
)

// Attempt is one failed login.
type Attempt struct {
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
}

// Change is one device switch on the account.
type Change struct {
	Timestamp   time.Time `json:"timestamp"`
	OldDeviceID string    `json:"oldDeviceId"`
	NewDeviceID string    `json:"newDeviceId"`
}

// State is the per-account security document, keyed by calendar day buckets.
// It lives in the userSecurity collection and is mutated by every device the
// account signs into; last writer wins.
type State struct {
	LoginAttempts map[string][]Attempt `json:"loginAttempts,omitempty"`
	DeviceChanges map[string][]Change  `json:"deviceChanges,omitempty"`
	BlockedUntil  *time.Time           `json:"blockedUntil,omitempty"`
	BlockReason   string               `json:"blockReason,omitempty"`
	LastBlocked   *time.Time           `json:"lastBlocked,omitempty"`
}

// dayKey buckets records by the device-local calendar day.
func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
