package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nextlevelbuilder/warden/internal/forge"
)

const forgeRegistryFile = "tools-registry.json"

// forgedTool is one persisted self-built tool.
type forgedTool struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Spec        forge.Spec `json:"spec"`
	CreatedAt   int64      `json:"createdAt"`
}

type forgeRegistry struct {
	Version int          `json:"version"`
	Tools   []forgedTool `json:"tools"`
}

// ForgeManager persists agent-built tools to tools-registry.json and
// re-registers them as invokable tools on startup.
type ForgeManager struct {
	path   string
	runner forge.Runner
	reg    *Registry
	mu     sync.Mutex
	state  forgeRegistry
}

// NewForgeManager loads the persisted registry and re-registers the
// surviving tools.
func NewForgeManager(stateDir string, runner forge.Runner, reg *Registry) (*ForgeManager, error) {
	m := &ForgeManager{
		path:   filepath.Join(stateDir, forgeRegistryFile),
		runner: runner,
		reg:    reg,
		state:  forgeRegistry{Version: 1},
	}
	data, err := os.ReadFile(m.path)
	if err == nil {
		if err := json.Unmarshal(data, &m.state); err != nil {
			return nil, fmt.Errorf("tools registry corrupt: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	for _, ft := range m.state.Tools {
		reg.Register(m.invokable(ft))
	}
	return m, nil
}

// invokable wraps a persisted spec as a destructive runnable tool:
// every re-run of generated code goes back through the approval gate.
func (m *ForgeManager) invokable(ft forgedTool) *Tool {
	spec := ft.Spec
	return &Tool{
		Name:        ft.Name,
		Description: ft.Description,
		Destructive: true,
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
		Execute: func(ctx context.Context, _ map[string]interface{}, _ *ExecContext) *Result {
			out, err := m.runner.CreateAndRun(ctx, spec)
			if err != nil {
				return ErrorResult(fmt.Sprintf("run failed: %v", err)).WithError(err)
			}
			return renderRunOutput(out)
		},
	}
}

func (m *ForgeManager) persist() error {
	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0600)
}

// NewForgeTool builds create_and_run_tool: writes a script, runs it in
// the sandbox, and on success persists it as a named re-invokable
// tool. Owner-only — only the human gets to grow the tool catalogue.
func NewForgeTool(m *ForgeManager) *Tool {
	return &Tool{
		Name:        "create_and_run_tool",
		Description: "Write a small script, execute it in the sandbox, and on success register it as a reusable named tool.",
		OwnerOnly:   true,
		Destructive: true,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"tool_name":   map[string]interface{}{"type": "string", "description": "Name to register the tool under (snake_case)"},
				"filename":    map[string]interface{}{"type": "string", "description": "Script filename with extension (.py, .sh, .js)"},
				"description": map[string]interface{}{"type": "string"},
				"code":        map[string]interface{}{"type": "string"},
			},
			"required": []string{"tool_name", "filename", "description", "code"},
		},
		Execute: func(ctx context.Context, args map[string]interface{}, _ *ExecContext) *Result {
			name, _ := args["tool_name"].(string)
			filename, _ := args["filename"].(string)
			description, _ := args["description"].(string)
			code, _ := args["code"].(string)
			if name == "" || filename == "" || code == "" {
				return ErrorResult("tool_name, filename, and code are required")
			}
			if _, exists := m.reg.Get(name); exists {
				if !m.isForged(name) {
					return ErrorResult(fmt.Sprintf("tool name %q collides with a builtin", name))
				}
			}

			spec := forge.Spec{Filename: filename, Description: description, Code: code}
			out, err := m.runner.CreateAndRun(ctx, spec)
			if err != nil {
				return ErrorResult(fmt.Sprintf("sandbox run failed: %v", err)).WithError(err)
			}
			if !out.Success {
				return ErrorResult(fmt.Sprintf("script failed (exit %d):\n%s%s", out.ExitCode, out.Stdout, out.Stderr))
			}

			ft := forgedTool{Name: name, Description: description, Spec: spec, CreatedAt: time.Now().UnixMilli()}
			m.mu.Lock()
			m.upsert(ft)
			err = m.persist()
			m.mu.Unlock()
			if err != nil {
				return ErrorResult(fmt.Sprintf("tool ran but registry write failed: %v", err)).WithError(err)
			}
			m.reg.Register(m.invokable(ft))

			res := renderRunOutput(out)
			res.ForLLM = fmt.Sprintf("tool %q registered and first run succeeded:\n%s", name, res.ForLLM)
			return res
		},
	}
}

func (m *ForgeManager) isForged(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ft := range m.state.Tools {
		if ft.Name == name {
			return true
		}
	}
	return false
}

// upsert is called with the mutex held.
func (m *ForgeManager) upsert(ft forgedTool) {
	for i := range m.state.Tools {
		if m.state.Tools[i].Name == ft.Name {
			m.state.Tools[i] = ft
			return
		}
	}
	m.state.Tools = append(m.state.Tools, ft)
}

func renderRunOutput(out forge.RunOutput) *Result {
	body := fmt.Sprintf("exit=%d duration=%dms\nstdout:\n%s", out.ExitCode, out.DurationMs, out.Stdout)
	if out.Stderr != "" {
		body += "\nstderr:\n" + out.Stderr
	}
	if !out.Success {
		return ErrorResult(body)
	}
	return NewResult(body)
}
