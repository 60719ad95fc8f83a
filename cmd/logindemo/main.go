package main

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/casaflow/devicetrust/pkg/authapi"
	"github.com/casaflow/devicetrust/pkg/authapi/authtest"
	"github.com/casaflow/devicetrust/pkg/config"
	"github.com/casaflow/devicetrust/pkg/docstore"
	"github.com/casaflow/devicetrust/pkg/fingerprint"
	"github.com/casaflow/devicetrust/pkg/localstore"
	"github.com/casaflow/devicetrust/pkg/registry"
	"github.com/casaflow/devicetrust/pkg/security"
	"github.com/casaflow/devicetrust/pkg/session"
)

const demoPhone = "15550001111"

// The demo walks two devices through the login flow against an in-process
// backend: the first device signs in with password plus OTP step-up, comes
// back on the trusted fast path, then gets force-signed-out when the second
// device completes OTP.
func main() {
	var cfg config.Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		slog.Error("Failed to read configuration", "error", err)
		os.Exit(1)
	}

	// Start from a clean slate so the scripted flow is reproducible.
	if err := os.RemoveAll(cfg.LocalStore.DataDir); err != nil {
		slog.Error("Failed to clear demo data directory", "error", err)
		os.Exit(1)
	}

	backend := authtest.NewServer("demo-signing-secret")
	if _, err := backend.AddAccount(demoPhone, "hunter2!", nil); err != nil {
		slog.Error("Failed to seed demo account", "error", err)
		os.Exit(1)
	}
	server := httptest.NewServer(backend.Handler())
	defer server.Close()

	store := docstore.NewInMemStore()
	ctx := context.Background()

	deviceA := newDevice(server.URL, store, cfg, "device-a")
	deviceB := newDevice(server.URL, store, cfg, "device-b")

	// Device A: full password + OTP login.
	runStep(deviceA.SubmitPhone(ctx, demoPhone))
	runStep(deviceA.SubmitPassword(ctx, "hunter2!"))
	runStep(deviceA.SubmitOTP(ctx, backend.LastCode(demoPhone)))

	// Device A again: the device is now trusted, no OTP.
	deviceA.SignOut(ctx)
	runStep(deviceA.SubmitPhone(ctx, demoPhone))
	result := deviceA.SubmitPassword(ctx, "hunter2!")
	runStep(result)
	slog.Info("Second login", "fastPath", result.UsedFastPath)

	signedOut := make(chan string, 1)
	deviceA.SetForceSignOutHandler(func(uid string) { signedOut <- uid })

	// Device B completes OTP; device A's watcher must force sign-out.
	runStep(deviceB.SubmitPhone(ctx, demoPhone))
	runStep(deviceB.SubmitPassword(ctx, "hunter2!"))
	runStep(deviceB.SubmitOTP(ctx, backend.LastCode(demoPhone)))

	select {
	case uid := <-signedOut:
		slog.Info("Device A force-signed-out after device B login", "uid", uid)
	case <-time.After(3 * time.Second):
		slog.Error("Device A was not signed out in time")
		os.Exit(1)
	}
}

// newDevice assembles a full client stack sharing the backend and document
// store but with its own local storage, the way two phones would.
func newDevice(baseURL string, store docstore.Store, cfg config.Config, name string) *session.Orchestrator {
	local, err := localstore.NewFileStore(filepath.Join(cfg.LocalStore.DataDir, name))
	if err != nil {
		slog.Error("Failed to open local store", "device", name, "error", err)
		os.Exit(1)
	}
	gen := fingerprint.NewGenerator(fingerprint.StaticSource{
		ID:           name,
		PlatformName: "demo",
		ModelName:    name,
		Name:         name,
	}, local)

	client := authapi.NewClient(baseURL).WithTimeout(cfg.AuthAPI.Timeout)
	limiter := security.NewLimiter(store,
		security.WithLimits(cfg.Security.MaxFailedLogins, cfg.Security.MaxDeviceChanges),
		security.WithBlockDurations(cfg.Security.LoginBlockDuration, cfg.Security.DeviceChangeBlockDuration),
	)
	reg := registry.NewService(store)

	return session.New(client, session.NewTokenAuth(), gen, limiter, reg, local, session.Options{
		PhoneCheckTTL:     cfg.Session.PhoneCheckTTL,
		WatcherRetries:    cfg.Watcher.MaxRetries,
		WatcherRetryDelay: cfg.Watcher.RetryDelay,
	})
}

func runStep(result session.Result) {
	if result.Err != nil {
		slog.Error("Login step failed", "step", result.Step, "error", result.Err)
		os.Exit(1)
	}
	slog.Info("Login step complete", "step", result.Step, "authenticated", result.Authenticated)
}
