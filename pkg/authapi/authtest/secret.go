package authtest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base32"
)

// registrationSecret derives a deterministic TOTP secret for phones that do
// not have an account yet, so request-otp and verify-otp agree without
// storing state for unknown numbers.
func registrationSecret(key []byte, phoneNumber string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(phoneNumber))
	sum := mac.Sum(nil)
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(sum[:20])
}
