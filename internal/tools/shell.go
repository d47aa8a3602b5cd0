package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	defaultShellTimeout = 60 * time.Second
	maxShellTimeout     = 10 * time.Minute
)

// NewShellTool builds execute_shell_command. Destructive: every run is
// gated behind the approval flow unless godMode waves it through.
func NewShellTool() *Tool {
	return &Tool{
		Name:        "execute_shell_command",
		Description: "Execute a shell command on the host and return its combined output. Use for file inspection, system queries, and running programs.",
		Destructive: true,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"command": map[string]interface{}{
					"type":        "string",
					"description": "Shell command to execute",
				},
				"workdir": map[string]interface{}{
					"type":        "string",
					"description": "Working directory (optional)",
				},
				"timeout_sec": map[string]interface{}{
					"type":        "number",
					"description": "Timeout in seconds (default 60, max 600)",
				},
			},
			"required": []string{"command"},
		},
		Execute: execShell,
	}
}

func execShell(ctx context.Context, args map[string]interface{}, _ *ExecContext) *Result {
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return ErrorResult("command is required")
	}

	timeout := defaultShellTimeout
	if sec, ok := args["timeout_sec"].(float64); ok && sec > 0 {
		timeout = time.Duration(sec) * time.Second
		if timeout > maxShellTimeout {
			timeout = maxShellTimeout
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	if workdir, ok := args["workdir"].(string); ok && workdir != "" {
		cmd.Dir = workdir
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	output := out.String()
	if runCtx.Err() == context.DeadlineExceeded {
		return ErrorResult(fmt.Sprintf("command timed out after %s\n%s", timeout, output))
	}
	if err != nil {
		return ErrorResult(fmt.Sprintf("command failed (%v) in %s:\n%s", err, elapsed.Round(time.Millisecond), output))
	}
	if output == "" {
		output = "(no output)"
	}
	return NewResult(output)
}
