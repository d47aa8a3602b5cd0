package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/warden/internal/memory"
)

// RegisterMemoryTools wires the archival store and core memory into
// the registry.
func RegisterMemoryTools(reg *Registry, store *memory.Archival, core *memory.CoreMemory, onCoreOverflow func()) {
	reg.Register(newMemorizeTool(store))
	reg.Register(newSearchMemoryTool(store))
	reg.Register(newForgetMemoryTool(store))
	reg.Register(newListCategoriesTool(store))
	reg.Register(newCoreReplaceTool(core))
	reg.Register(newCoreAppendTool(core, onCoreOverflow))
}

func newMemorizeTool(store *memory.Archival) *Tool {
	return &Tool{
		Name:        "memorize",
		Description: "Store a fact in long-term archival memory under a category. Duplicate content within a category is ignored.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"category": map[string]interface{}{"type": "string", "description": "Category label, e.g. 'preferences' or 'work'"},
				"content":  map[string]interface{}{"type": "string", "description": "The fact to remember"},
			},
			"required": []string{"category", "content"},
		},
		Execute: func(ctx context.Context, args map[string]interface{}, _ *ExecContext) *Result {
			category, _ := args["category"].(string)
			content, _ := args["content"].(string)
			res, err := store.Memorize(ctx, category, content)
			if err != nil {
				return ErrorResult(fmt.Sprintf("memorize failed: %v", err)).WithError(err)
			}
			if res.Duplicate {
				return SilentResult(fmt.Sprintf("duplicate: already stored in %s", res.Category))
			}
			return SilentResult(fmt.Sprintf("stored in %s (id %s)", res.Category, res.ID))
		},
	}
}

func newSearchMemoryTool(store *memory.Archival) *Tool {
	return &Tool{
		Name:        "search_memory",
		Description: "Semantic search over archival memory. Omit category to search every category.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"category": map[string]interface{}{"type": "string", "description": "Category to search (optional)"},
				"query":    map[string]interface{}{"type": "string", "description": "What to look for"},
				"k":        map[string]interface{}{"type": "number", "description": "Max results (default 5)"},
			},
			"required": []string{"query"},
		},
		Execute: func(ctx context.Context, args map[string]interface{}, _ *ExecContext) *Result {
			query, _ := args["query"].(string)
			k := 5
			if n, ok := args["k"].(float64); ok && n > 0 {
				k = int(n)
			}

			var hits []memory.SearchHit
			var err error
			if category, _ := args["category"].(string); category != "" {
				hits, err = store.Search(ctx, category, query, k)
			} else {
				hits, err = store.SearchAll(ctx, query, k)
			}
			if err != nil {
				return ErrorResult(fmt.Sprintf("search failed: %v", err)).WithError(err)
			}
			if len(hits) == 0 {
				return SilentResult("no matching memories")
			}

			var b strings.Builder
			for _, h := range hits {
				fmt.Fprintf(&b, "- (%s, distance %.2f) %s\n", h.Category, h.Distance, h.Content)
			}
			return SilentResult(b.String())
		},
	}
}

func newForgetMemoryTool(store *memory.Archival) *Tool {
	return &Tool{
		Name:        "forget_memory",
		Description: "Delete archival memories semantically matching the given content within a category.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"category":      map[string]interface{}{"type": "string"},
				"content_match": map[string]interface{}{"type": "string", "description": "Content to match for deletion"},
			},
			"required": []string{"category", "content_match"},
		},
		Execute: func(ctx context.Context, args map[string]interface{}, _ *ExecContext) *Result {
			category, _ := args["category"].(string)
			match, _ := args["content_match"].(string)
			removed, err := store.Forget(ctx, category, match)
			if err != nil {
				return ErrorResult(fmt.Sprintf("forget failed: %v", err)).WithError(err)
			}
			return SilentResult(fmt.Sprintf("removed %d memories from %s", removed, memory.NormaliseCategory(category)))
		},
	}
}

func newListCategoriesTool(store *memory.Archival) *Tool {
	return &Tool{
		Name:        "list_memory_categories",
		Description: "List archival memory categories with record counts.",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
		Execute: func(_ context.Context, _ map[string]interface{}, _ *ExecContext) *Result {
			entries := store.Map().Categories()
			if len(entries) == 0 {
				return SilentResult("no memory categories yet")
			}
			var b strings.Builder
			for _, e := range entries {
				fmt.Fprintf(&b, "- %s: %d memories\n", e.Category, e.MemoryCount)
			}
			return SilentResult(b.String())
		},
	}
}

func newCoreReplaceTool(core *memory.CoreMemory) *Tool {
	return &Tool{
		Name:        "core_memory_replace",
		Description: "Replace the entire core memory document. Use for restructuring; prefer core_memory_append for adding facts.",
		OwnerOnly:   true,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"content": map[string]interface{}{"type": "string", "description": "New core memory markdown"},
			},
			"required": []string{"content"},
		},
		Execute: func(_ context.Context, args map[string]interface{}, _ *ExecContext) *Result {
			content, _ := args["content"].(string)
			if err := core.Replace(content); err != nil {
				return ErrorResult(fmt.Sprintf("core memory write failed: %v", err)).WithError(err)
			}
			return SilentResult("core memory replaced")
		},
	}
}

// newCoreAppendTool is owner-only: scheduled and system senders must
// not grow the always-in-prompt document. onCoreOverflow fires when
// the append pushed the file past its cap.
func newCoreAppendTool(core *memory.CoreMemory, onCoreOverflow func()) *Tool {
	return &Tool{
		Name:        "core_memory_append",
		Description: "Append a fact to core working memory. Core memory is always in context; keep entries short.",
		OwnerOnly:   true,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"fact": map[string]interface{}{"type": "string"},
			},
			"required": []string{"fact"},
		},
		Execute: func(_ context.Context, args map[string]interface{}, _ *ExecContext) *Result {
			fact, _ := args["fact"].(string)
			needsCompression, err := core.Append(fact)
			if err != nil {
				return ErrorResult(fmt.Sprintf("core memory append failed: %v", err)).WithError(err)
			}
			if needsCompression && onCoreOverflow != nil {
				onCoreOverflow()
				return SilentResult("appended; core memory over size limit, distillation scheduled")
			}
			return SilentResult("appended to core memory")
		},
	}
}
