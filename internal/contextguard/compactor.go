package contextguard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/warden/internal/engine"
)

// SummaryPrefix marks the synthetic message that replaces summarised
// history.
const SummaryPrefix = "[CONVERSATION HISTORY SUMMARY]"

const (
	minChunkRatio   = 0.15
	maxChunkRatio   = 0.4
	overflowBonus   = 0.2
	minMessagesKept = 2
)

// Summarizer condenses a block of conversation text, typically by
// calling the live engine.
type Summarizer func(ctx context.Context, text string) (string, error)

// summaryInstruction tells the summariser what must survive.
const summaryInstruction = `Summarize the following conversation history. Preserve: decisions made, TODO items, open questions, stated constraints, tool results that changed system state, and any file paths or identifiers referenced. Be concise but lose nothing that would change future behavior.`

// Pressure maps a guard verdict to the (used, max) pair fed to
// Compact. The effective budget is the window minus the warn
// threshold, so a conversation deep enough into the danger bands is
// already over budget and gets a proportionate chunk ratio.
func Pressure(v Verdict) (used, max int) {
	return v.Used, v.Max - warnThreshold
}

// ChunkRatio computes the share of history to summarise from how far
// the usage overshoots the budget: 0 when within budget, rising
// linearly from 0.15 (just over) to 0.4 (double), plus a capped bonus
// beyond that.
func ChunkRatio(used, max int) float64 {
	if max <= 0 || used <= max {
		return 0
	}
	over := float64(used)/float64(max) - 1 // 0 = at budget, 1 = double
	if over >= 1 {
		return maxChunkRatio + overflowBonus
	}
	return minChunkRatio + over*(maxChunkRatio-minChunkRatio)
}

// Compact summarises the oldest slice of msgs and replaces it with a
// single synthetic system message. If the summariser fails, or there
// is nothing safe to summarise, the original slice comes back
// unchanged.
func Compact(ctx context.Context, msgs []engine.Message, used, max int, summarize Summarizer) []engine.Message {
	ratio := ChunkRatio(used, max)
	if ratio == 0 || len(msgs) <= minMessagesKept || summarize == nil {
		return msgs
	}

	// Oldest-first split by token share.
	target := int(float64(EstimateAll(msgs)) * ratio)
	split, acc := 0, 0
	for i, m := range msgs {
		if len(msgs)-i <= minMessagesKept {
			break
		}
		acc += EstimateTokens(m)
		split = i + 1
		if acc >= target {
			break
		}
	}
	if split == 0 {
		return msgs
	}

	toSummarize, toKeep := msgs[:split], msgs[split:]

	var b strings.Builder
	b.WriteString(summaryInstruction)
	b.WriteString("\n\n")
	for _, m := range toSummarize {
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Content)
		for _, tc := range m.ToolCalls {
			fmt.Fprintf(&b, "[tool-call] %s\n", tc.Name)
		}
	}

	summary, err := summarize(ctx, b.String())
	if err != nil || strings.TrimSpace(summary) == "" {
		slog.Warn("compaction summariser failed, keeping history", "error", err)
		return msgs
	}

	out := make([]engine.Message, 0, len(toKeep)+1)
	out = append(out, engine.Message{
		Role:    "system",
		Content: SummaryPrefix + "\n" + summary,
	})
	out = append(out, toKeep...)
	slog.Info("history compacted", "summarized", len(toSummarize), "kept", len(toKeep), "ratio", ratio)
	return out
}
