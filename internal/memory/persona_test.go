package memory

import (
	"strings"
	"testing"
)

func TestPersonaSetReadReset(t *testing.T) {
	p := NewPersona(t.TempDir())

	if got := p.Read(); got != "" {
		t.Fatalf("fresh persona = %q, want empty", got)
	}

	if err := p.Set("You are a terse operations assistant."); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := p.Read(); got != "You are a terse operations assistant." {
		t.Fatalf("Read = %q", got)
	}

	if err := p.Set(""); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if got := p.Read(); got != "" {
		t.Fatalf("after reset = %q, want empty", got)
	}
}

func TestPersonaRejectsOversize(t *testing.T) {
	p := NewPersona(t.TempDir())
	if err := p.Set(strings.Repeat("x", PersonaLimit+1)); err == nil {
		t.Fatal("oversize persona accepted")
	}
	if got := p.Read(); got != "" {
		t.Fatalf("rejected write left content %q", got)
	}
}
