package agent

import (
	"fmt"
	"strings"
	"time"
)

// basePersona is the fixed part of the system prompt. Core memory is
// appended on every call, so edits to the core file take effect on the
// very next request.
const basePersona = `You are Warden, a persistent local assistant daemon running on the owner's machine. You have tools for shell access, long-term memory, scheduling, and messaging the owner. Be direct and concise. Use tools when they help; never invent tool output. Facts worth keeping go to archival memory via memorize; only durable, high-value facts belong in core memory.`

// buildSystemPrompt assembles persona + live context + core memory.
// A non-empty persona replaces the default voice wholesale.
func buildSystemPrompt(persona, coreMemory string, senderRole string) string {
	var b strings.Builder
	if persona != "" {
		b.WriteString(persona)
	} else {
		b.WriteString(basePersona)
	}
	fmt.Fprintf(&b, "\n\nCurrent time: %s\n", time.Now().Format(time.RFC1123))
	if senderRole != "owner" {
		fmt.Fprintf(&b, "This request was initiated by a %s sender, not the owner. Owner-only tools are unavailable.\n", senderRole)
	}
	b.WriteString("\n--- CORE MEMORY ---\n")
	b.WriteString(coreMemory)
	return b.String()
}

// distillInstruction is the worker-engine prompt used when core memory
// outgrows its cap.
const distillInstruction = `The following working-memory document has exceeded its size limit. Rewrite it to fit well under 4000 characters. Keep: active goals, user context, critical facts, active tasks. Merge duplicates, drop stale detail, keep the markdown section structure. Return only the rewritten document.`
