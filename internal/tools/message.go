package tools

import (
	"context"
	"fmt"
	"strings"
)

// NewSendOwnerMessageTool builds send_owner_message over an injected
// delivery function (the external channel's SendToOwner). Intrusive —
// it reaches outside the machine — and owner-only, so scheduled
// prompts cannot message third parties through the owner's channel.
func NewSendOwnerMessageTool(send func(ctx context.Context, text string) error) *Tool {
	return &Tool{
		Name:        "send_owner_message",
		Description: "Send a message to the owner on their external channel (phone/IM).",
		Intrusive:   true,
		OwnerOnly:   true,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"text": map[string]interface{}{"type": "string", "description": "Message text"},
			},
			"required": []string{"text"},
		},
		Execute: func(ctx context.Context, args map[string]interface{}, _ *ExecContext) *Result {
			text, _ := args["text"].(string)
			if strings.TrimSpace(text) == "" {
				return ErrorResult("text is required")
			}
			if send == nil {
				return ErrorResult("no external channel configured")
			}
			if err := send(ctx, text); err != nil {
				return ErrorResult(fmt.Sprintf("delivery failed: %v", err)).WithError(err)
			}
			return SilentResult("message delivered to owner")
		},
	}
}
