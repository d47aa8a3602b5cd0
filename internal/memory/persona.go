package memory

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	// PersonaLimit caps the persona text so it cannot crowd out the
	// rest of the system prompt.
	PersonaLimit = 2000

	personaFile = "persona.md"
)

// Persona is the owner-editable voice of the daemon, stored beside
// core memory. Empty means the built-in default persona applies.
type Persona struct {
	path string
	mu   sync.Mutex
}

// NewPersona binds the persona file to the state directory.
func NewPersona(stateDir string) *Persona {
	return &Persona{path: filepath.Join(stateDir, personaFile)}
}

// Read returns the persona text, or "" when none has been set.
func (p *Persona) Read() string {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("persona read failed", "error", err)
		}
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Set replaces the persona. Empty text resets to the default; text
// over the cap is rejected rather than truncated, since a silently
// clipped persona changes meaning.
func (p *Persona) Set(text string) error {
	text = strings.TrimSpace(text)
	if len(text) > PersonaLimit {
		return fmt.Errorf("persona is %d chars, limit is %d", len(text), PersonaLimit)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if text == "" {
		if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("persona reset: %w", err)
		}
		return nil
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(text+"\n"), 0600); err != nil {
		return fmt.Errorf("persona write: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		return fmt.Errorf("persona swap: %w", err)
	}
	return nil
}
