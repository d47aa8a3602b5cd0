// Package memory implements the three memory tiers: the core memory
// file prepended to every system prompt, the sqlite-backed archival
// store with per-category vector tables, and the pre-flight auto
// retrieval layer on top of it.
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
	// CoreLimit is the hard cap on core memory size. Writes beyond it
	// are truncated on disk and flagged for compression.
	CoreLimit = 4000

	coreFile        = "core-memory.md"
	truncationNote  = "\n\n[... core memory truncated ...]"
	defaultCoreBody = "# Core Memory\n\nNo persistent facts recorded yet.\n"
)

// CoreMemory is the always-in-context markdown file. Writes are
// serialised daemon-wide; reads go to disk so external edits are
// picked up on the next engine call.
type CoreMemory struct {
	path string
	mu   sync.Mutex
}

// NewCore binds core memory to the state directory.
func NewCore(stateDir string) *CoreMemory {
	return &CoreMemory{path: filepath.Join(stateDir, coreFile)}
}

// Read returns the current contents, seeding the file on first use.
func (c *CoreMemory) Read() string {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultCoreBody
		}
		slog.Warn("core memory read failed", "error", err)
		return defaultCoreBody
	}
	return string(data)
}

// Replace atomically swaps the contents. Oversized text is hard
// truncated with a marker so the file on disk never exceeds the cap.
func (c *CoreMemory) Replace(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(clampCore(text))
}

// Append concatenates a fact onto the file. The returned flag reports
// that the raw size crossed the cap and a distillation pass is due.
func (c *CoreMemory) Append(fact string) (needsCompression bool, err error) {
	fact = strings.TrimSpace(fact)
	if fact == "" {
		return false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.Read()
	combined := strings.TrimRight(current, "\n") + "\n- " + fact + "\n"
	needsCompression = len(combined) > CoreLimit
	return needsCompression, c.write(clampCore(combined))
}

func (c *CoreMemory) write(text string) error {
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(text), 0600); err != nil {
		return fmt.Errorf("core memory write: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("core memory swap: %w", err)
	}
	return nil
}

func clampCore(text string) string {
	if len(text) <= CoreLimit {
		return text
	}
	return text[:CoreLimit] + truncationNote
}
