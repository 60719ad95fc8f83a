package localstore

import "strings"

// Keys persisted on the device. Only the trusted-device markers are
// account-scoped; the rest are per-device singletons.
const (
	keyTrustedDevicePrefix = "trusted_device_"
	keyLastUsedAccount     = "last_used_account"
	keyFingerprint         = "device_fingerprint"
)

// Store is the device-local key-value store. It is a cache, never the
// authority: every value it holds can be rebuilt from the backend.
type Store interface {
	Get(key string) (string, bool)
	Set(key string, value string) error
	Delete(key string) error
	Keys() []string
}

// TrustedDevice returns the last trusted device id cached for the account.
func TrustedDevice(s Store, userID string) (string, bool) {
	return s.Get(keyTrustedDevicePrefix + userID)
}

// SetTrustedDevice caches the trusted device id for the account.
func SetTrustedDevice(s Store, userID, deviceID string) error {
	return s.Set(keyTrustedDevicePrefix+userID, deviceID)
}

// ClearTrustedDevice removes the trusted-device marker for the account.
func ClearTrustedDevice(s Store, userID string) error {
	return s.Delete(keyTrustedDevicePrefix + userID)
}

// TrustedDeviceCount returns how many distinct accounts hold a trusted-device
// marker on this device. More than one is a multi-account signal.
func TrustedDeviceCount(s Store) int {
	count := 0
	for _, key := range s.Keys() {
		if strings.HasPrefix(key, keyTrustedDevicePrefix) {
			count++
		}
	}
	return count
}

// LastUsedAccount returns the most recent account id used on this device.
func LastUsedAccount(s Store) (string, bool) {
	return s.Get(keyLastUsedAccount)
}

// SetLastUsedAccount records the most recent account id used on this device.
func SetLastUsedAccount(s Store, userID string) error {
	return s.Set(keyLastUsedAccount, userID)
}

// Fingerprint returns the cached fingerprint JSON, if any.
func Fingerprint(s Store) (string, bool) {
	return s.Get(keyFingerprint)
}

// SetFingerprint caches the fingerprint JSON for reuse across restarts.
func SetFingerprint(s Store, data string) error {
	return s.Set(keyFingerprint, data)
}
