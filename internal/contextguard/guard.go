// Package contextguard implements the pre-flight token-budget check
// and the history compactor that keeps conversations inside the model
// window.
package contextguard

import (
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/warden/internal/engine"
)

// Token estimation is deliberately conservative: ~4 characters per
// token plus fixed per-message overhead. Overcounting wastes a little
// window, undercounting crashes the call.
const (
	CharsPerToken      = 4
	PerMessageOverhead = 4

	Reserve          = 2000
	blockThreshold   = 2000
	compactThreshold = 3000
	warnThreshold    = 4000

	DefaultMaxTokens = 128000
)

// Action is the guard verdict for one engine call.
type Action string

const (
	ActionProceed Action = "proceed"
	ActionWarn    Action = "warn"
	ActionCompact Action = "compact"
	ActionBlock   Action = "block"
)

// Verdict reports the budget math behind an Action.
type Verdict struct {
	Action    Action
	Used      int
	Max       int
	Remaining int
}

// modelMaxTokens maps known model prefixes to their context windows.
// Unknown models fall back to DefaultMaxTokens.
var modelMaxTokens = map[string]int{
	"gpt-4o":          128000,
	"gpt-4o-mini":     128000,
	"gpt-4.1":         1000000,
	"o3":              200000,
	"claude-3-5":      200000,
	"claude-sonnet-4": 200000,
	"claude-opus-4":   200000,
	"llama3":          8192,
	"llama3.1":        131072,
	"qwen2.5":         32768,
	"qwen3":           131072,
	"mistral":         32768,
	"deepseek-chat":   65536,
	"deepseek-r1":     65536,
	"gemma2":          8192,
}

// MaxTokensFor resolves the context window for a model id, matching
// the longest known prefix.
func MaxTokensFor(model string) int {
	model = strings.ToLower(model)
	best, bestLen := DefaultMaxTokens, 0
	for prefix, max := range modelMaxTokens {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best, bestLen = max, len(prefix)
		}
	}
	return best
}

// EstimateTokens approximates the token cost of one message.
func EstimateTokens(m engine.Message) int {
	chars := len(m.Content)
	for _, tc := range m.ToolCalls {
		chars += len(tc.Name) + 32
	}
	return (chars+CharsPerToken-1)/CharsPerToken + PerMessageOverhead
}

// EstimateAll sums message estimates.
func EstimateAll(msgs []engine.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateTokens(m)
	}
	return total
}

// Check runs the pre-flight budget math for a call against model.
func Check(model, systemPrompt string, msgs []engine.Message) Verdict {
	max := MaxTokensFor(model)
	systemTokens := (len(systemPrompt)+CharsPerToken-1)/CharsPerToken + PerMessageOverhead
	used := systemTokens + EstimateAll(msgs) + Reserve

	remaining := max - used
	if remaining < 0 {
		remaining = 0
	}

	v := Verdict{Used: used, Max: max, Remaining: remaining}
	switch {
	case remaining < blockThreshold:
		v.Action = ActionBlock
	case remaining < compactThreshold:
		v.Action = ActionCompact
	case remaining < warnThreshold:
		v.Action = ActionWarn
	default:
		v.Action = ActionProceed
	}

	if v.Action != ActionProceed {
		slog.Warn("context guard", "action", v.Action, "used", used, "max", max, "remaining", remaining)
	}
	return v
}
