package session

import (
	"strings"

	"github.com/casaflow/devicetrust/pkg/apierror"
)

// ValidatePhone checks the phone number format before any network call:
// an optional leading +, then 10 to 15 digits. Spaces and dashes are
// tolerated and stripped.
func ValidatePhone(phone string) (string, *apierror.Error) {
	cleaned := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(phone))
	digits := strings.TrimPrefix(cleaned, "+")

	if len(digits) < 10 || len(digits) > 15 {
		return "", apierror.New(apierror.CodeInvalidFormat, "phone number must have 10 to 15 digits")
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", apierror.New(apierror.CodeInvalidFormat, "phone number may only contain digits")
		}
	}
	return cleaned, nil
}

// ValidateOTP checks the passcode format before any network call: exactly
// six digits.
func ValidateOTP(code string) *apierror.Error {
	if len(code) != 6 {
		return apierror.New(apierror.CodeInvalidFormat, "passcode must be 6 digits")
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return apierror.New(apierror.CodeInvalidFormat, "passcode may only contain digits")
		}
	}
	return nil
}
