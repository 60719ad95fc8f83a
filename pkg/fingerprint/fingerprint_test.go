package fingerprint

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casaflow/devicetrust/pkg/localstore"
)

func testSource() StaticSource {
	return StaticSource{
		ID:           "test-device-001",
		PlatformName: "ios",
		BrandName:    "Apple",
		ModelName:    "iPhone 14",
		SystemVer:    "17.2",
		Build:        "21C62",
		Bundle:       "com.example.app",
		Name:         "Jo's iPhone",
		Memory:       6 * 1024 * 1024 * 1024,
		Width:        1170,
		Height:       2532,
	}
}

func TestComputeHash_Stable(t *testing.T) {
	gen := NewGenerator(testSource(), localstore.NewInMemStore())

	first, err := gen.Generate()
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.NotEmpty(t, first.Hash)

	// Repeated generation on an unchanged snapshot returns the same hash.
	second, err := gen.Generate()
	require.NoError(t, err)
	assert.Equal(t, first.Hash, second.Hash)
	assert.Equal(t, first.DeviceID, second.DeviceID)
}

func TestComputeHash_ChangesWithCriticalFields(t *testing.T) {
	base := Fingerprint{
		DeviceID: "test-device-001",
		Platform: "ios",
		Brand:    "Apple",
		Model:    "iPhone 14",
	}
	baseHash := ComputeHash(base)

	critical := []func(fp *Fingerprint){
		func(fp *Fingerprint) { fp.DeviceID = "other-device" },
		func(fp *Fingerprint) { fp.Platform = "android" },
		func(fp *Fingerprint) { fp.Brand = "Samsung" },
		func(fp *Fingerprint) { fp.Model = "Galaxy S23" },
	}
	for _, mutate := range critical {
		fp := base
		mutate(&fp)
		assert.NotEqual(t, baseHash, ComputeHash(fp))
	}
}

func TestVerify(t *testing.T) {
	fp := Fingerprint{DeviceID: "d", Platform: "ios"}
	fp.Hash = ComputeHash(fp)
	assert.True(t, Verify(fp))

	fp.Model = "tampered"
	assert.False(t, Verify(fp))

	assert.False(t, Verify(Fingerprint{DeviceID: "d"}))
}

func TestGenerator_CachesAcrossRestart(t *testing.T) {
	local := localstore.NewInMemStore()

	first, err := NewGenerator(testSource(), local).Generate()
	require.NoError(t, err)

	// A new generator over the same local store stands in for an app
	// restart.
	second, err := NewGenerator(testSource(), local).Generate()
	require.NoError(t, err)
	assert.Equal(t, first.DeviceID, second.DeviceID)
	assert.Equal(t, first.Timestamp, second.Timestamp)
}

func TestGenerator_DiscardsTamperedCache(t *testing.T) {
	local := localstore.NewInMemStore()
	gen := NewGenerator(testSource(), local)

	first, err := gen.Generate()
	require.NoError(t, err)

	require.NoError(t, localstore.SetFingerprint(local,
		`{"deviceId":"test-device-001","platform":"android","hash":"`+first.Hash+`"}`))

	rebuilt, err := gen.Generate()
	require.NoError(t, err)
	assert.True(t, Verify(*rebuilt))
	assert.Equal(t, "ios", rebuilt.Platform)
}

// failingSource fails every attribute getter.
type failingSource struct{}

var errRestricted = errors.New("permission restricted")

func (failingSource) DeviceID() (string, error)      { return "", errRestricted }
func (failingSource) Platform() (string, error)      { return "", errRestricted }
func (failingSource) Brand() (string, error)         { return "", errRestricted }
func (failingSource) Model() (string, error)         { return "", errRestricted }
func (failingSource) SystemVersion() (string, error) { return "", errRestricted }
func (failingSource) BuildNumber() (string, error)   { return "", errRestricted }
func (failingSource) BundleID() (string, error)      { return "", errRestricted }
func (failingSource) DeviceName() (string, error)    { return "", errRestricted }
func (failingSource) TotalMemory() (int64, error)    { return 0, errRestricted }
func (failingSource) ScreenSize() (int, int, error)  { return 0, 0, errRestricted }

func TestGenerator_DegradesPerAttribute(t *testing.T) {
	local := localstore.NewInMemStore()
	gen := NewGenerator(failingSource{}, local)

	fp, err := gen.Generate()
	require.NoError(t, err)
	require.NotNil(t, fp)

	// Every attribute degraded but the fingerprint still exists with a
	// generated device id and a valid hash.
	assert.NotEmpty(t, fp.DeviceID)
	assert.Empty(t, fp.Platform)
	assert.True(t, Verify(*fp))

	// The fallback id is stable thanks to the local cache.
	again, err := gen.Generate()
	require.NoError(t, err)
	assert.Equal(t, fp.DeviceID, again.DeviceID)
}
