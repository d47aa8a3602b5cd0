// Package config holds the daemon configuration loaded from config.json
// (JSON5) in the Warden state directory, with WARDEN_* env overrides.
package config

import (
	"encoding/json"
	"sync"
)

// DefaultPort is the local client gateway port.
const DefaultPort = 7777

// Config is the root daemon configuration.
type Config struct {
	Version int `json:"version"`

	Engines EnginesConfig `json:"engines"`

	// OwnerIdentity is the single external identity (phone-number-like
	// string) the owner-firewall channel will talk to. Empty disables the
	// external channel entirely.
	OwnerIdentity string `json:"ownerIdentity,omitempty"`

	// DefaultEngine is "live" or "cloud"; used when the router has no
	// stronger signal.
	DefaultEngine string `json:"defaultEngine,omitempty"`

	// GodMode bypasses the approval gate for destructive tools.
	// Intrusive tools are always gated regardless.
	GodMode bool `json:"godMode,omitempty"`

	// Extensions maps extension id → subprocess spec for tool providers.
	Extensions map[string]ExtensionSpec `json:"extensions,omitempty"`

	HardwareProfile HardwareProfile `json:"hardwareProfile,omitempty"`

	// Memory configures the archival embedding backend.
	Memory MemoryConfig `json:"memory,omitempty"`

	Gateway GatewayConfig `json:"gateway"`

	// Credentials is the encrypted credential map (vault format:
	// name → {iv, ciphertext}, AES-256-CBC under .masterkey).
	Credentials map[string]EncryptedCredential `json:"credentials,omitempty"`

	// DataDir overrides the state directory (default ~/.warden).
	DataDir string `json:"-"`

	mu sync.RWMutex
}

// EnginesConfig describes the three engine tiers.
type EnginesConfig struct {
	Live   EngineConfig `json:"live"`
	Worker EngineConfig `json:"worker"`
	Cloud  EngineConfig `json:"cloud"`
}

// EngineConfig describes one model backend.
type EngineConfig struct {
	Provider      string `json:"provider"`
	Endpoint      string `json:"endpoint,omitempty"`
	Model         string `json:"model"`
	CredentialRef string `json:"credentialRef,omitempty"`
	Enabled       *bool  `json:"enabled,omitempty"` // nil = enabled
	Parallelism   int    `json:"parallelism,omitempty"`
}

// IsEnabled reports whether the engine is configured and not disabled.
func (e EngineConfig) IsEnabled() bool {
	if e.Model == "" {
		return false
	}
	return e.Enabled == nil || *e.Enabled
}

// ExtensionSpec describes a tool-provider subprocess.
type ExtensionSpec struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// HardwareProfile is advisory metadata about the host machine.
type HardwareProfile struct {
	GPUName string  `json:"gpuName,omitempty"`
	VRAMGB  float64 `json:"vramGB,omitempty"`
	RAMGB   float64 `json:"ramGB,omitempty"`
}

// MemoryConfig selects the embedding model behind archival memory.
// Endpoint defaults to the live engine's endpoint, so a plain Ollama
// setup needs only the model name.
type MemoryConfig struct {
	EmbeddingEndpoint string `json:"embeddingEndpoint,omitempty"`
	EmbeddingModel    string `json:"embeddingModel,omitempty"`
	CredentialRef     string `json:"credentialRef,omitempty"`
}

// GatewayConfig configures the local client socket.
type GatewayConfig struct {
	Host         string `json:"host,omitempty"` // default 127.0.0.1
	Port         int    `json:"port,omitempty"` // default 7777
	RateLimitRPM int    `json:"rate_limit_rpm,omitempty"`
}

// EncryptedCredential is one AES-256-CBC credential blob (hex encoded).
type EncryptedCredential struct {
	IV         string `json:"iv"`
	Ciphertext string `json:"ciphertext"`
}

// ReplaceFrom copies all data fields from src, preserving c's mutex.
// Used by the fsnotify hot-reload path.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Version = src.Version
	c.Engines = src.Engines
	c.OwnerIdentity = src.OwnerIdentity
	c.DefaultEngine = src.DefaultEngine
	c.GodMode = src.GodMode
	c.Extensions = src.Extensions
	c.HardwareProfile = src.HardwareProfile
	c.Memory = src.Memory
	c.Gateway = src.Gateway
	c.Credentials = src.Credentials
}

// Snapshot returns a copy of the mutable fields read by hot paths.
func (c *Config) Snapshot() (engines EnginesConfig, owner string, godMode bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Engines, c.OwnerIdentity, c.GodMode
}

const secretMask = "***"

// MaskedCopy returns a deep copy with credential ciphertexts masked.
// Used by the system:command config.get path.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := &Config{}
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}
	for name, cred := range cp.Credentials {
		cred.Ciphertext = secretMask
		cp.Credentials[name] = cred
	}
	return cp
}

// MarshalJSON marshals through an alias type to avoid recursion.
// Locking is the caller's job: Save and MaskedCopy hold the read lock
// around the Marshal call, and a nested RLock here could deadlock
// behind a waiting writer.
func (c *Config) MarshalJSON() ([]byte, error) {
	type alias Config // drop methods to avoid recursion
	return json.Marshal((*alias)(c))
}
