package fingerprint

import (
	"os"
	"runtime"
)

// Source supplies raw device attributes. Every getter may fail independently
// (permission-restricted APIs, unsupported platforms); the generator degrades
// each failure to a zero value instead of aborting the whole fingerprint.
type Source interface {
	DeviceID() (string, error)
	Platform() (string, error)
	Brand() (string, error)
	Model() (string, error)
	SystemVersion() (string, error)
	BuildNumber() (string, error)
	BundleID() (string, error)
	DeviceName() (string, error)
	TotalMemory() (int64, error)
	ScreenSize() (width, height int, err error)
}

// StaticSource is a Source backed by fixed values. Used in tests and as the
// carrier for attributes collected by platform-specific code.
type StaticSource struct {
	ID            string
	PlatformName  string
	BrandName     string
	ModelName     string
	SystemVer     string
	Build         string
	Bundle        string
	Name          string
	Memory        int64
	Width, Height int
}

func (s StaticSource) DeviceID() (string, error) { return s.ID, nil }
func (s StaticSource) Platform() (string, error) { return s.PlatformName, nil }
func (s StaticSource) Brand() (string, error) { return s.BrandName, nil }
func (s StaticSource) Model() (string, error) { return s.ModelName, nil }
func (s StaticSource) SystemVersion() (string, error) { return s.SystemVer, nil }
func (s StaticSource) BuildNumber() (string, error) { return s.Build, nil }
func (s StaticSource) BundleID() (string, error) { return s.Bundle, nil }
func (s StaticSource) DeviceName() (string, error) { return s.Name, nil }
func (s StaticSource) TotalMemory() (int64, error) { return s.Memory, nil }
func (s StaticSource) ScreenSize() (int, int, error) { return s.Width, s.Height, nil }

// HostSource collects best-effort attributes from the local host. Headless
// attributes (brand, model, screen) are unavailable and report zero values.
type HostSource struct{}

func (HostSource) DeviceID() (string, error) {
	// No stable hardware id is exposed portably; the generator falls back to
	// a generated id persisted in the local store.
	return "", nil
}

func (HostSource) Platform() (string, error) { return runtime.GOOS, nil }

func (HostSource) Brand() (string, error) { return "", nil }

func (HostSource) Model() (string, error) { return runtime.GOARCH, nil }

func (HostSource) SystemVersion() (string, error) { return runtime.Version(), nil }

func (HostSource) BuildNumber() (string, error) { return "", nil }

func (HostSource) BundleID() (string, error) { return "", nil }

func (HostSource) DeviceName() (string, error) { return os.Hostname() }

func (HostSource) TotalMemory() (int64, error) { return 0, nil }

func (HostSource) ScreenSize() (int, int, error) { return 0, 0, nil }
