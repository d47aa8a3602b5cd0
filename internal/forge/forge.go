// Package forge is the contract to the code-sandbox runner: the agent
// writes a small script, the forge runs it in isolation and reports
// the outcome. The daemon core never executes generated code itself.
package forge

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Spec describes one generated script.
type Spec struct {
	Filename     string   `json:"filename"`
	Description  string   `json:"description"`
	Code         string   `json:"code"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// RunOutput is the sandbox verdict.
type RunOutput struct {
	Success    bool   `json:"success"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exitCode"`
	DurationMs int64  `json:"durationMs"`
}

// Runner executes a generated script.
type Runner interface {
	CreateAndRun(ctx context.Context, spec Spec) (RunOutput, error)
}

const runTimeout = 120 * time.Second

// subprocessRunner writes the script under <stateDir>/forge and runs
// it with an interpreter picked from the file extension.
type subprocessRunner struct {
	dir string
}

// NewSubprocessRunner builds the default runner rooted in the state
// directory.
func NewSubprocessRunner(stateDir string) (Runner, error) {
	dir := filepath.Join(stateDir, "forge")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("forge dir: %w", err)
	}
	return &subprocessRunner{dir: dir}, nil
}

func (r *subprocessRunner) CreateAndRun(ctx context.Context, spec Spec) (RunOutput, error) {
	name := filepath.Base(spec.Filename)
	if name == "." || name == "/" || name == "" {
		return RunOutput{}, fmt.Errorf("forge: invalid filename %q", spec.Filename)
	}
	path := filepath.Join(r.dir, name)
	if err := os.WriteFile(path, []byte(spec.Code), 0700); err != nil {
		return RunOutput{}, fmt.Errorf("forge: write script: %w", err)
	}

	interp, args, err := interpreterFor(name)
	if err != nil {
		return RunOutput{}, err
	}

	runCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, interp, append(args, path)...)
	cmd.Dir = r.dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	out := RunOutput{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: time.Since(start).Milliseconds(),
	}

	if runCtx.Err() == context.DeadlineExceeded {
		out.ExitCode = -1
		out.Stderr += "\n(killed: timeout)"
		return out, nil
	}
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	if runErr != nil {
		return RunOutput{}, fmt.Errorf("forge: run: %w", runErr)
	}
	out.Success = true
	return out, nil
}

func interpreterFor(filename string) (string, []string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".py":
		return "python3", nil, nil
	case ".sh":
		return "sh", nil, nil
	case ".js", ".mjs":
		return "node", nil, nil
	default:
		return "", nil, fmt.Errorf("forge: unsupported script type %q", filepath.Ext(filename))
	}
}
