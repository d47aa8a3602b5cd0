package memory

import (
	"context"
	"hash/fnv"
	"strings"
	"testing"
)

// bagEmbedder is a deterministic word-bag embedding: identical texts
// map to identical vectors, disjoint texts to near-orthogonal ones.
type bagEmbedder struct{ model string }

func (e *bagEmbedder) ModelID() string { return e.model }

func (e *bagEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 64)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(word))
		vec[h.Sum32()%64]++
	}
	return vec, nil
}

func newTestStore(t *testing.T) *Archival {
	t.Helper()
	store, err := OpenArchival(t.TempDir(), &bagEmbedder{model: "bag-64"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNormaliseCategory(t *testing.T) {
	cases := map[string]string{
		"Work Projects": "work_projects",
		"  WiFi/Stuff ": "wifi_stuff",
		"":              "general",
		"__-__":         "general",
		"already_fine":  "already_fine",
	}
	for in, want := range cases {
		if got := NormaliseCategory(in); got != want {
			t.Errorf("NormaliseCategory(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMemorizeDeduplicates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.Memorize(ctx, "network", "the wifi password is hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if !first.Stored || first.Duplicate {
		t.Fatalf("first store: %+v", first)
	}

	second, err := store.Memorize(ctx, "network", "the wifi password is hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if second.Stored || !second.Duplicate {
		t.Fatalf("second store should be duplicate: %+v", second)
	}

	hits, err := store.Search(ctx, "network", "wifi password", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Errorf("record count = %d, want 1", len(hits))
	}
	if entries := store.Map().Categories(); len(entries) != 1 || entries[0].MemoryCount != 1 {
		t.Errorf("cognitive map = %+v", entries)
	}
}

func TestSearchMissingCategoryReturnsEmpty(t *testing.T) {
	store := newTestStore(t)
	hits, err := store.Search(context.Background(), "never_written", "anything", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("hits = %v", hits)
	}
}

func TestSearchAllMergesAcrossCategories(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustStore := func(cat, content string) {
		t.Helper()
		if _, err := store.Memorize(ctx, cat, content); err != nil {
			t.Fatal(err)
		}
	}
	mustStore("network", "the wifi password is hunter2")
	mustStore("preferences", "owner prefers dark roast coffee in the morning")
	mustStore("work", "the wifi router firmware needs an upgrade")

	hits, err := store.SearchAll(ctx, "wifi password", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 {
		t.Fatal("no hits")
	}
	if hits[0].Category != "network" {
		t.Errorf("best hit from %q, want network (hits: %+v)", hits[0].Category, hits)
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Distance < hits[i-1].Distance {
			t.Errorf("hits not sorted by distance: %+v", hits)
		}
	}
}

func TestForgetRemovesOnlyClose(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Memorize(ctx, "network", "the wifi password is hunter2"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Memorize(ctx, "network", "proxy server listens on port 3128"); err != nil {
		t.Fatal(err)
	}

	removed, err := store.Forget(ctx, "network", "the wifi password is hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	hits, err := store.Search(ctx, "network", "proxy server", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || !strings.Contains(hits[0].Content, "proxy") {
		t.Errorf("surviving rows = %+v", hits)
	}
	if entries := store.Map().Categories(); len(entries) != 1 || entries[0].MemoryCount != 1 {
		t.Errorf("cognitive map = %+v", entries)
	}
}

func TestForgetNoMatchPreservesCategory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Memorize(ctx, "network", "the wifi password is hunter2"); err != nil {
		t.Fatal(err)
	}
	removed, err := store.Forget(ctx, "network", "completely unrelated gardening topic here")
	if err != nil {
		t.Fatal(err)
	}
	if removed != 0 {
		t.Errorf("removed = %d", removed)
	}
	if !store.Map().Has("network") {
		t.Error("category dropped despite no deletions")
	}
}

func TestForgetLastRowDropsCategory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Memorize(ctx, "scratch", "temporary note about nothing"); err != nil {
		t.Fatal(err)
	}
	removed, err := store.Forget(ctx, "scratch", "temporary note about nothing")
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d", removed)
	}
	if store.Map().Has("scratch") {
		t.Error("emptied category still mapped")
	}

	// The category can be written again after being dropped.
	if _, err := store.Memorize(ctx, "scratch", "a fresh note"); err != nil {
		t.Fatalf("re-create after drop: %v", err)
	}
}

func TestEmbeddingModelMismatchRefused(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenArchival(dir, &bagEmbedder{model: "bag-64"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Memorize(context.Background(), "network", "the wifi password is hunter2"); err != nil {
		t.Fatal(err)
	}
	store.Close()

	store2, err := OpenArchival(dir, &bagEmbedder{model: "other-model"})
	if err != nil {
		t.Fatal(err)
	}
	defer store2.Close()
	if _, err := store2.Memorize(context.Background(), "network", "another fact entirely"); err == nil {
		t.Error("expected model mismatch error")
	}
}

func TestShouldRetrieve(t *testing.T) {
	for _, trivial := range []string{"", "ok", "thanks!", "  yes ", "/status", "hi"} {
		if ShouldRetrieve(trivial) {
			t.Errorf("ShouldRetrieve(%q) = true", trivial)
		}
	}
	if !ShouldRetrieve("what was the wifi password again?") {
		t.Error("real question filtered out")
	}
}

func TestAutoRAGAugment(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if _, err := store.Memorize(ctx, "network", "the wifi password is hunter2"); err != nil {
		t.Fatal(err)
	}

	rag := NewAutoRAG(store)
	out := rag.Augment(ctx, "remind me what the wifi password is")
	if !strings.HasPrefix(out, RetrievedContextPrefix) {
		t.Errorf("missing context prefix: %q", out)
	}
	if !strings.Contains(out, "hunter2") {
		t.Errorf("retrieved fact missing: %q", out)
	}
	if !strings.HasSuffix(out, "remind me what the wifi password is") {
		t.Errorf("original message not preserved: %q", out)
	}

	// Trivial messages pass through untouched.
	if got := rag.Augment(ctx, "ok"); got != "ok" {
		t.Errorf("trivial message modified: %q", got)
	}
}
