package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// RetrievedContextPrefix marks auto-retrieved archival context injected
// ahead of the user message.
const RetrievedContextPrefix = "[SYSTEM AUTO-CONTEXT RETRIEVED]"

const autoRAGTopK = 3

// AutoRAG is the pre-flight retrieval layer: before each engine call
// it searches archival memory for context relevant to the user message
// and prepends whatever it finds. Retrieval failures never block the
// call.
type AutoRAG struct {
	store *Archival
}

func NewAutoRAG(store *Archival) *AutoRAG {
	return &AutoRAG{store: store}
}

// ShouldRetrieve filters out messages not worth a vector search: empty,
// very short, or pure acknowledgement / slash-command traffic.
func ShouldRetrieve(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 10 {
		return false
	}
	if strings.HasPrefix(trimmed, "/") {
		return false
	}
	lower := strings.ToLower(trimmed)
	for _, skip := range []string{"ok", "okay", "thanks", "thank you", "thx", "yes", "no", "got it", "nice", "cool", "sure"} {
		if lower == skip || lower == skip+"." || lower == skip+"!" {
			return false
		}
	}
	return true
}

// Augment returns the user message with retrieved context prepended,
// or the message unchanged when nothing relevant is found.
func (r *AutoRAG) Augment(ctx context.Context, userMessage string) string {
	if r == nil || r.store == nil || !ShouldRetrieve(userMessage) {
		return userMessage
	}

	searchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	hits, err := r.store.SearchAll(searchCtx, userMessage, autoRAGTopK)
	if err != nil {
		slog.Warn("auto retrieval failed", "error", err)
		return userMessage
	}
	if len(hits) == 0 {
		return userMessage
	}

	var b strings.Builder
	b.WriteString(RetrievedContextPrefix)
	b.WriteString("\nRelevant facts from long-term memory:\n")
	for _, h := range hits {
		fmt.Fprintf(&b, "- (%s) %s\n", h.Category, h.Content)
	}
	b.WriteString("\n")
	b.WriteString(userMessage)
	return b.String()
}
