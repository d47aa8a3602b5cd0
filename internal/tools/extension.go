package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/nextlevelbuilder/warden/internal/config"
)

const extensionTimeout = 120 * time.Second

// RegisterExtensionTools exposes each configured extension subprocess
// as a tool named ext_<id>. The subprocess gets the call arguments as
// JSON on stdin and its stdout becomes the tool result. Extensions run
// arbitrary commands, so they are destructive and owner-only.
func RegisterExtensionTools(reg *Registry, specs map[string]config.ExtensionSpec) {
	for id, spec := range specs {
		reg.Register(newExtensionTool(id, spec))
	}
}

func newExtensionTool(id string, spec config.ExtensionSpec) *Tool {
	return &Tool{
		Name:        "ext_" + id,
		Description: fmt.Sprintf("Invoke the %q extension. Arguments are passed to the extension as JSON.", id),
		Destructive: true,
		OwnerOnly:   true,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"input": map[string]interface{}{"type": "object", "description": "Extension-specific arguments"},
			},
		},
		Execute: func(ctx context.Context, args map[string]interface{}, _ *ExecContext) *Result {
			input, _ := json.Marshal(args["input"])

			runCtx, cancel := context.WithTimeout(ctx, extensionTimeout)
			defer cancel()

			cmd := exec.CommandContext(runCtx, spec.Command, spec.Args...)
			cmd.Stdin = bytes.NewReader(input)
			cmd.Env = os.Environ()
			for k, v := range spec.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}

			out, err := cmd.CombinedOutput()
			if runCtx.Err() == context.DeadlineExceeded {
				return ErrorResult(fmt.Sprintf("extension %s timed out after %s", id, extensionTimeout))
			}
			if err != nil {
				return ErrorResult(fmt.Sprintf("extension %s failed: %v\n%s", id, err, out)).WithError(err)
			}
			return NewResult(string(out))
		},
	}
}
