package fingerprint

import (
	"encoding/json"
	"fmt"
	"time"
)

// Fingerprint is the attribute snapshot that identifies a returning device.
// It is created once per app launch and cached locally; the Hash field is a
// change detector over the other attributes, not a security boundary. The
// trust decision is always the registry's server-held active record.
type Fingerprint struct {
	DeviceID      string `json:"deviceId"`
	Platform      string `json:"platform"`
	Brand         string `json:"brand"`
	Model         string `json:"model"`
	SystemVersion string `json:"systemVersion"`
	BuildNumber   string `json:"buildNumber"`
	BundleID      string `json:"bundleId"`
	DeviceName    string `json:"deviceName"`
	TotalMemory   int64  `json:"totalMemory"`
	ScreenWidth   int    `json:"screenWidth"`
	ScreenHeight  int    `json:"screenHeight"`
	Timestamp     int64  `json:"timestamp"`
	Hash          string `json:"hash"`
}

// hashPayload is the canonical attribute set the hash covers. Timestamp is
// excluded so an unchanged device snapshot always hashes the same.
type hashPayload struct {
	DeviceID      string `json:"deviceId"`
	Platform      string `json:"platform"`
	Brand         string `json:"brand"`
	Model         string `json:"model"`
	SystemVersion string `json:"systemVersion"`
	BuildNumber   string `json:"buildNumber"`
	BundleID      string `json:"bundleId"`
	DeviceName    string `json:"deviceName"`
	TotalMemory   int64  `json:"totalMemory"`
	ScreenWidth   int    `json:"screenWidth"`
	ScreenHeight  int    `json:"screenHeight"`
}

// ComputeHash returns the rolling 32-bit hash of the fingerprint's attribute
// set, hex encoded. Non-cryptographic: its only purpose is detecting
// whole-record drift or tampering.
func ComputeHash(fp Fingerprint) string {
	payload := hashPayload{
		DeviceID:      fp.DeviceID,
		Platform:      fp.Platform,
		Brand:         fp.Brand,
		Model:         fp.Model,
		SystemVersion: fp.SystemVersion,
		BuildNumber:   fp.BuildNumber,
		BundleID:      fp.BundleID,
		DeviceName:    fp.DeviceName,
		TotalMemory:   fp.TotalMemory,
		ScreenWidth:   fp.ScreenWidth,
		ScreenHeight:  fp.ScreenHeight,
	}

	// Struct fields marshal in declaration order, so the serialization is
	// deterministic.
	data, err := json.Marshal(payload)
	if err != nil {
		// Marshalling a flat struct of strings and ints cannot fail.
		return ""
	}

	var h uint32
	for _, b := range data {
		h = h*31 + uint32(b)
	}
	return fmt.Sprintf("%08x", h)
}

// Verify reports whether the fingerprint's stored hash matches its
// attributes. A mismatch means the cached record drifted or was tampered
// with and must be regenerated.
func Verify(fp Fingerprint) bool {
	return fp.Hash != "" && fp.Hash == ComputeHash(fp)
}

// Age returns how long ago the fingerprint was generated.
func (fp Fingerprint) Age() time.Duration {
	return time.Since(time.UnixMilli(fp.Timestamp))
}
