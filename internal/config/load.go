package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Version:       1,
		DefaultEngine: "live",
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: DefaultPort,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file returns defaults — the caller decides whether an
// uninitialised config is acceptable.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	return cfg, nil
}

// Initialised reports whether the config is usable: at least one engine
// must be configured. Startup refuses to continue on a partial config.
func (c *Config) Initialised() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Engines.Live.IsEnabled() || c.Engines.Cloud.IsEnabled()
}

func (c *Config) applyDefaults() {
	if c.Gateway.Host == "" {
		c.Gateway.Host = "127.0.0.1"
	}
	if c.Gateway.Port == 0 {
		c.Gateway.Port = DefaultPort
	}
	if c.DefaultEngine == "" {
		c.DefaultEngine = "live"
	}
}

// applyEnvOverrides overlays env vars onto the config. Env takes
// precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("WARDEN_OWNER_IDENTITY", &c.OwnerIdentity)
	envStr("WARDEN_DEFAULT_ENGINE", &c.DefaultEngine)
	envStr("WARDEN_LIVE_MODEL", &c.Engines.Live.Model)
	envStr("WARDEN_LIVE_ENDPOINT", &c.Engines.Live.Endpoint)
	envStr("WARDEN_WORKER_MODEL", &c.Engines.Worker.Model)
	envStr("WARDEN_WORKER_ENDPOINT", &c.Engines.Worker.Endpoint)
	envStr("WARDEN_CLOUD_MODEL", &c.Engines.Cloud.Model)
	envStr("WARDEN_CLOUD_ENDPOINT", &c.Engines.Cloud.Endpoint)
	envStr("WARDEN_EMBEDDING_MODEL", &c.Memory.EmbeddingModel)
	envStr("WARDEN_EMBEDDING_ENDPOINT", &c.Memory.EmbeddingEndpoint)
	envStr("WARDEN_HOST", &c.Gateway.Host)

	if v := os.Getenv("WARDEN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}
	if v := os.Getenv("WARDEN_GOD_MODE"); v != "" {
		c.GodMode = v == "true" || v == "1"
	}
}

// Save writes the config to path with owner-only permissions.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	data, err := json.MarshalIndent(cfg, "", "  ")
	cfg.mu.RUnlock()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}

// StateDir resolves the daemon state directory (~/.warden unless
// overridden by WARDEN_DIR or cfg.DataDir).
func StateDir(cfg *Config) string {
	if cfg != nil && cfg.DataDir != "" {
		return ExpandHome(cfg.DataDir)
	}
	if v := os.Getenv("WARDEN_DIR"); v != "" {
		return ExpandHome(v)
	}
	return ExpandHome("~/.warden")
}
