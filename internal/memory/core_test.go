package memory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCoreReadSeedsDefault(t *testing.T) {
	core := NewCore(t.TempDir())
	if got := core.Read(); !strings.Contains(got, "Core Memory") {
		t.Errorf("default body = %q", got)
	}
}

func TestCoreReplaceAndRead(t *testing.T) {
	core := NewCore(t.TempDir())
	if err := core.Replace("# Core Memory\n\n- owner is Dana\n"); err != nil {
		t.Fatal(err)
	}
	if got := core.Read(); !strings.Contains(got, "owner is Dana") {
		t.Errorf("read = %q", got)
	}
}

func TestCoreReplaceTruncatesOnDisk(t *testing.T) {
	dir := t.TempDir()
	core := NewCore(dir)

	big := strings.Repeat("x", CoreLimit+500)
	if err := core.Replace(big); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, coreFile))
	if err != nil {
		t.Fatal(err)
	}
	if len(data) > CoreLimit+len(truncationNote) {
		t.Errorf("file size %d exceeds cap", len(data))
	}
	if !strings.HasSuffix(string(data), truncationNote) {
		t.Error("truncation marker missing")
	}
}

func TestCoreAppendFlagsCompression(t *testing.T) {
	core := NewCore(t.TempDir())
	if err := core.Replace(strings.Repeat("y", CoreLimit-20)); err != nil {
		t.Fatal(err)
	}

	needs, err := core.Append("this pushes the file past the size cap")
	if err != nil {
		t.Fatal(err)
	}
	if !needs {
		t.Error("needsCompression = false after crossing the cap")
	}

	// Small file appends do not flag.
	core2 := NewCore(t.TempDir())
	needs, err = core2.Append("a small fact")
	if err != nil {
		t.Fatal(err)
	}
	if needs {
		t.Error("needsCompression = true for a small file")
	}
	if !strings.Contains(core2.Read(), "- a small fact") {
		t.Errorf("fact not appended: %q", core2.Read())
	}
}

func TestCoreAppendEmptyIsNoop(t *testing.T) {
	core := NewCore(t.TempDir())
	before := core.Read()
	if _, err := core.Append("   "); err != nil {
		t.Fatal(err)
	}
	if core.Read() != before {
		t.Error("blank append modified the file")
	}
}
