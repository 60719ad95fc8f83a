package fingerprint

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/casaflow/devicetrust/pkg/localstore"
)

// Generator builds and caches the device fingerprint.
type Generator struct {
	source Source
	local  localstore.Store
	now    func() time.Time
}

// NewGenerator creates a fingerprint generator reading attributes from source
// and caching the result in local
func NewGenerator(source Source, local localstore.Store) *Generator {
	return &Generator{
		source: source,
		local:  local,
		now:    time.Now,
	}
}

// WithClock overrides the generator's clock. Used in tests.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate returns the device fingerprint, reusing the locally cached one
// when it is still valid. A cached record whose hash no longer matches its
// attributes is discarded and rebuilt.
func (g *Generator) Generate() (*Fingerprint, error) {
	if cached, ok := g.cached(); ok {
		return cached, nil
	}

	fp := g.collect()
	fp.Timestamp = g.now().UnixMilli()
	fp.Hash = ComputeHash(fp)

	if err := g.persist(fp); err != nil {
		// The fingerprint is still usable for this session; it just will not
		// survive a restart.
		slog.Warn("Failed to persist fingerprint", "deviceId", fp.DeviceID, "error", err)
	}

	slog.Info("Generated device fingerprint", "deviceId", fp.DeviceID, "platform", fp.Platform)
	return &fp, nil
}

func (g *Generator) cached() (*Fingerprint, bool) {
	raw, ok := localstore.Fingerprint(g.local)
	if !ok {
		return nil, false
	}

	var fp Fingerprint
	if err := json.Unmarshal([]byte(raw), &fp); err != nil {
		slog.Warn("Discarding unreadable cached fingerprint", "error", err)
		return nil, false
	}
	if fp.DeviceID == "" || !Verify(fp) {
		slog.Warn("Discarding cached fingerprint with stale hash", "deviceId", fp.DeviceID)
		return nil, false
	}
	return &fp, true
}

// collect gathers every attribute defensively: a failing source degrades that
// attribute to its zero value rather than aborting the fingerprint.
func (g *Generator) collect() Fingerprint {
	var fp Fingerprint

	fp.DeviceID = stringAttr("deviceId", g.source.DeviceID)
	fp.Platform = stringAttr("platform", g.source.Platform)
	fp.Brand = stringAttr("brand", g.source.Brand)
	fp.Model = stringAttr("model", g.source.Model)
	fp.SystemVersion = stringAttr("systemVersion", g.source.SystemVersion)
	fp.BuildNumber = stringAttr("buildNumber", g.source.BuildNumber)
	fp.BundleID = stringAttr("bundleId", g.source.BundleID)
	fp.DeviceName = stringAttr("deviceName", g.source.DeviceName)

	if memory, err := g.source.TotalMemory(); err != nil {
		slog.Debug("Fingerprint attribute unavailable", "attribute", "totalMemory", "error", err)
	} else {
		fp.TotalMemory = memory
	}

	if width, height, err := g.source.ScreenSize(); err != nil {
		slog.Debug("Fingerprint attribute unavailable", "attribute", "screenSize", "error", err)
	} else {
		fp.ScreenWidth = width
		fp.ScreenHeight = height
	}

	if fp.DeviceID == "" {
		// No stable hardware id: generate one. The local cache makes it
		// stable across restarts.
		fp.DeviceID = "gen-" + uuid.New().String()
		slog.Info("No hardware device id available, generated fallback", "deviceId", fp.DeviceID)
	}

	return fp
}

func (g *Generator) persist(fp Fingerprint) error {
	data, err := json.Marshal(fp)
	if err != nil {
		return fmt.Errorf("failed to marshal fingerprint: %w", err)
	}
	return localstore.SetFingerprint(g.local, string(data))
}

func stringAttr(name string, get func() (string, error)) string {
	value, err := get()
	if err != nil {
		slog.Debug("Fingerprint attribute unavailable", "attribute", name, "error", err)
		return ""
	}
	return value
}
