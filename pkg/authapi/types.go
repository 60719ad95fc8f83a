package authapi

import "encoding/json"

// OTP purposes accepted by the backend.
const (
	PurposeLogin    = "login"
	PurposeRegister = "register"
)

// CheckPhoneRequest asks whether an account exists for the phone number.
type CheckPhoneRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

// CheckPhoneResponse is the backend's answer to a phone-exists check.
type CheckPhoneResponse struct {
	Exists bool   `json:"exists"`
	UserID string `json:"userId,omitempty"`
}

// PasswordLoginRequest verifies a password for the account.
type PasswordLoginRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Password    string `json:"password"`
}

// RequestOTPRequest asks the backend to send an SMS passcode.
type RequestOTPRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Purpose     string `json:"purpose"`
}

// RequestOTPResponse acknowledges an OTP send.
type RequestOTPResponse struct {
	OK bool `json:"ok"`
}

// VerifyOTPRequest checks a passcode without signing in.
type VerifyOTPRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Code        string `json:"code"`
	Purpose     string `json:"purpose"`
}

// VerifyOTPResponse reports whether the passcode was accepted.
type VerifyOTPResponse struct {
	Verified bool `json:"verified"`
}

// LoginWithOTPRequest signs in with a verified passcode.
type LoginWithOTPRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Code        string `json:"code"`
	Purpose     string `json:"purpose"`
}

// RegisterWithOTPRequest creates an account with a verified passcode.
type RegisterWithOTPRequest struct {
	PhoneNumber string          `json:"phoneNumber"`
	Code        string          `json:"code"`
	ProfileData json.RawMessage `json:"profileData,omitempty"`
}

// LoginResponse is the shared success shape of every sign-in endpoint: the
// account id, a short-lived exchange token, and the user's profile blob. The
// token is not a usable session until it has been exchanged.
type LoginResponse struct {
	UID   string          `json:"uid"`
	Token string          `json:"token"`
	User  json.RawMessage `json:"user,omitempty"`
}
