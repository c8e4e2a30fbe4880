package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "SHOPMATE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "webhook.url", typ: kString, env: "SHOPMATE_WEBHOOK_URL",
		apply:   func(cfg *Config, v any) { cfg.Webhook.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Webhook.URL },
	},
	{
		key: "webhook.timeout_seconds", typ: kInt, env: "SHOPMATE_WEBHOOK_TIMEOUT_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.Webhook.TimeoutSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.Webhook.TimeoutSeconds },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SHOPMATE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "archive.enabled", typ: kBool, env: "SHOPMATE_ARCHIVE_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Archive.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Archive.Enabled },
	},
	{
		key: "telemetry.sink_url", typ: kString, env: "SHOPMATE_TELEMETRY_SINK_URL",
		apply:   func(cfg *Config, v any) { cfg.Telemetry.SinkURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Telemetry.SinkURL },
	},
	{
		key: "audio.command", typ: kString, env: "SHOPMATE_AUDIO_COMMAND",
		apply:   func(cfg *Config, v any) { cfg.Audio.Command = v.(string) },
		extract: func(cfg Config) any { return cfg.Audio.Command },
	},
	{
		key: "audio.sample_rate", typ: kInt, env: "SHOPMATE_AUDIO_SAMPLE_RATE",
		apply:   func(cfg *Config, v any) { cfg.Audio.SampleRate = v.(int) },
		extract: func(cfg Config) any { return cfg.Audio.SampleRate },
	},
	{
		key: "session.ttl_minutes", typ: kInt, env: "SHOPMATE_SESSION_TTL_MINUTES",
		apply:   func(cfg *Config, v any) { cfg.Session.TTLMinutes = v.(int) },
		extract: func(cfg Config) any { return cfg.Session.TTLMinutes },
	},
	{
		key: "auth.token", typ: kString, env: "SHOPMATE_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Auth.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.Token },
	},
	{
		key: "log.level", typ: kString, env: "SHOPMATE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
