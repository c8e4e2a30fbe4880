// Package config loads daemon configuration from a JSON file backend,
// a .env file, and SHOPMATE_* environment variables, in increasing order of
// precedence. Secrets (the API token) are env-only and never written to the
// backend.
package config

import (
	"fmt"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Webhook   WebhookConfig
	Storage   StorageConfig
	Archive   ArchiveConfig
	Telemetry TelemetryConfig
	Audio     AudioConfig
	Session   SessionConfig
	Auth      AuthConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
}

type WebhookConfig struct {
	URL            string
	TimeoutSeconds int
}

type StorageConfig struct {
	DataDir string
}

type ArchiveConfig struct {
	Enabled bool
}

type TelemetryConfig struct {
	SinkURL string // empty disables delivery
}

type AudioConfig struct {
	Command    string
	SampleRate int
}

type SessionConfig struct {
	TTLMinutes int
}

type AuthConfig struct {
	Token string // empty disables API auth
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server:    ServerConfig{Port: 4600},
		Webhook:   WebhookConfig{TimeoutSeconds: 10},
		Storage:   StorageConfig{DataDir: defaultDataDir()},
		Archive:   ArchiveConfig{Enabled: true},
		Audio:     AudioConfig{Command: "arecord", SampleRate: 16000},
		Session:   SessionConfig{TTLMinutes: 720},
		Log:       LogConfig{Level: "info"},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/shopmate/config.json, a .env file in the working
// directory if present, and SHOPMATE_* environment variables.
func Load() (Config, error) {
	// Missing .env is the normal case; godotenv only fills unset vars.
	_ = godotenv.Load()
	return loadWith(newFileBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Webhook.URL == "" {
		return Config{}, fmt.Errorf("missing required config: webhook URL. " +
			"Set it via `shopmate config set webhook.url <url>` or environment variable SHOPMATE_WEBHOOK_URL")
	}

	return cfg, nil
}
