package config

import (
	"encoding/json"
	"log/slog"
)

// legacyKeys maps names used by older config files to current ones.
var legacyKeys = map[string]string{
	"websocket":     "backend_url",
	"ws_url":        "backend_url",
	"reconnect":     "auto_reconnect",
	"retry_timeout": "reconnect_interval",
}

// decode parses a config file, renaming legacy keys and filling defaults
// for anything the file leaves out.
func decode(data []byte) (*Config, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	migrateKeys(raw)

	fixed, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := json.Unmarshal(fixed, &cfg); err != nil {
		return nil, err
	}
	migrateConfig(&cfg)
	return &cfg, nil
}

func migrateKeys(raw map[string]json.RawMessage) {
	for old, cur := range legacyKeys {
		v, ok := raw[old]
		if !ok {
			continue
		}
		delete(raw, old)
		if _, exists := raw[cur]; exists {
			continue
		}
		slog.Info("config: migrating legacy key", "from", old, "to", cur)
		raw[cur] = v
	}
}

// migrateConfig replaces values that cannot be used with defaults.
func migrateConfig(cfg *Config) {
	def := Default()
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = def.ReconnectInterval
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.BackendURL != "" {
		if err := cfg.Validate(); err != nil {
			slog.Warn("config: invalid backend_url, falling back to discovery", "url", cfg.BackendURL, "err", err)
			cfg.BackendURL = ""
		}
	}
}
