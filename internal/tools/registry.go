// Package tools holds the tool catalogue, the sender-role policy, the
// repeat-call loop detector, and the human-in-the-loop approval gate
// that together wrap every tool invocation the engine asks for.
package tools

import (
	"context"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/warden/internal/bus"
	"github.com/nextlevelbuilder/warden/internal/engine"
)

// ExecContext is handed to every tool execution.
type ExecContext struct {
	ClientID   string
	SenderRole Role
	Broadcast  bus.Publisher
	GodMode    bool
}

// Tool describes one executable capability. Destructive and Intrusive
// select the approval path; OwnerOnly restricts to the owner role.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
	Destructive bool
	Intrusive   bool
	OwnerOnly   bool
	Execute     func(ctx context.Context, args map[string]interface{}, ec *ExecContext) *Result
}

// NeedsApproval reports whether the tool engages the approval gate.
func (t *Tool) NeedsApproval() bool { return t.Destructive || t.Intrusive }

// Registry is the tool catalogue: natives registered at startup plus
// forge-generated tools registered at runtime.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(t *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
}

// Get looks a tool up by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all tools sorted by name.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// EffectiveFor computes the tool set offered to the engine for one
// request: the full catalogue filtered by sender role.
func (r *Registry) EffectiveFor(role Role) []engine.ToolDef {
	var defs []engine.ToolDef
	for _, t := range r.List() {
		if t.OwnerOnly && role != RoleOwner {
			continue
		}
		defs = append(defs, engine.ToolDef{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return defs
}
