// Package config holds the environment-backed settings for the session
// security core. Structs carry cleanenv tags; populate them manually or call
// Load to read the environment.
package config

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// SecurityConfig tunes the abuse rate limiter.
type SecurityConfig struct {
	MaxFailedLogins           int           `env:"SECURITY_MAX_FAILED_LOGINS" env-default:"5"`
	LoginBlockDuration        time.Duration `env:"SECURITY_LOGIN_BLOCK_DURATION" env-default:"30m"`
	MaxDeviceChanges          int           `env:"SECURITY_MAX_DEVICE_CHANGES" env-default:"4"`
	DeviceChangeBlockDuration time.Duration `env:"SECURITY_DEVICE_CHANGE_BLOCK_DURATION" env-default:"24h"`
	RetentionDays             int           `env:"SECURITY_RETENTION_DAYS" env-default:"7"`
}

// WatcherConfig tunes the active-device watcher's bounded retry.
type WatcherConfig struct {
	MaxRetries int           `env:"WATCHER_MAX_RETRIES" env-default:"5"`
	RetryDelay time.Duration `env:"WATCHER_RETRY_DELAY" env-default:"200ms"`
}

// AuthAPIConfig locates the auth backend.
type AuthAPIConfig struct {
	BaseURL string        `env:"AUTH_API_BASE_URL" env-default:"http://localhost:8080"`
	Timeout time.Duration `env:"AUTH_API_TIMEOUT" env-default:"5s"`
}

// SessionConfig tunes the orchestrator's phone-check cache.
type SessionConfig struct {
	PhoneCheckTTL        time.Duration `env:"SESSION_PHONE_CHECK_TTL" env-default:"30s"`
	PhoneCheckMaxEntries int           `env:"SESSION_PHONE_CHECK_MAX_ENTRIES" env-default:"128"`
}

// LocalStoreConfig locates the device-local cache file.
type LocalStoreConfig struct {
	DataDir string `env:"LOCAL_STORE_DATA_DIR" env-default:".devicetrust"`
}

// Config aggregates every component's settings.
type Config struct {
	Security   SecurityConfig
	Watcher    WatcherConfig
	AuthAPI    AuthAPIConfig
	Session    SessionConfig
	LocalStore LocalStoreConfig
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
