package tools

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/warden/internal/memory"
)

// NewSetPersonaTool lets the owner rewrite the daemon's persona text.
// Empty content resets to the built-in default.
func NewSetPersonaTool(persona *memory.Persona) *Tool {
	return &Tool{
		Name:        "set_persona",
		Description: "Set or reset the assistant persona. The persona replaces the default voice in the system prompt on the next request; empty content restores the default.",
		OwnerOnly:   true,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"content": map[string]interface{}{"type": "string", "description": "Persona text, or empty to reset"},
			},
		},
		Execute: func(_ context.Context, args map[string]interface{}, _ *ExecContext) *Result {
			content, _ := args["content"].(string)
			if err := persona.Set(content); err != nil {
				return ErrorResult(fmt.Sprintf("persona update failed: %v", err)).WithError(err)
			}
			if content == "" {
				return SilentResult("persona reset to default")
			}
			return SilentResult("persona updated")
		},
	}
}
