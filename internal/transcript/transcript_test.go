package transcript

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func openTestLog(t *testing.T, redact Redactor) (*Log, string) {
	t.Helper()
	dir := t.TempDir()
	l, err := Open(dir, redact)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	return l, dir
}

func TestSessionIDFormat(t *testing.T) {
	id := NewSessionID()
	if ok, _ := regexp.MatchString(`^\d{8}-[0-9a-f]{8}$`, id); !ok {
		t.Errorf("session id = %q", id)
	}
}

func TestEveryLineIsValidJSON(t *testing.T) {
	l, _ := openTestLog(t, nil)
	l.User("hello\nwith a newline", "req-1")
	l.Assistant("hi", "req-1", "live", "llama3", 10, 5)
	l.ToolCall("execute_shell_command", `{"command":"ls"}`, "req-1")
	l.ToolResult("execute_shell_command", "file.txt", "req-1", true, 12)

	data, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) < 5 {
		t.Fatalf("line count = %d", len(lines))
	}
	for i, line := range lines {
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Errorf("line %d not valid JSON: %v", i, err)
		}
	}
}

func TestToolResultTruncation(t *testing.T) {
	l, _ := openTestLog(t, nil)
	big := strings.Repeat("z", ToolResultBudget+200)
	l.ToolResult("execute_shell_command", big, "req-1", true, 5)

	entries, err := Replay(l.Path(), TypeToolInvocation)
	if err != nil {
		t.Fatal(err)
	}
	got := entries[len(entries)-1]
	if !got.Meta.Truncated {
		t.Error("truncated flag not set")
	}
	if len(got.Content) > ToolResultBudget+len(truncationMark) {
		t.Errorf("content length %d", len(got.Content))
	}
	if !strings.HasSuffix(got.Content, truncationMark) {
		t.Error("truncation marker missing")
	}

	// A user message of the same size is not truncated.
	l.User(big, "req-2")
	msgs, _ := Replay(l.Path(), TypeMessage)
	last := msgs[len(msgs)-1]
	if len(last.Content) != len(big) {
		t.Errorf("user message truncated to %d", len(last.Content))
	}
}

func TestRedactionBeforeDisk(t *testing.T) {
	l, _ := openTestLog(t, NewRedactor([]string{"hunter2"}))
	l.ToolResult("execute_shell_command", "password is hunter2 and key sk-abcdefghij0123456789", "req-1", true, 3)

	data, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "hunter2") {
		t.Error("literal secret reached disk")
	}
	if strings.Contains(string(data), "sk-abcdefghij0123456789") {
		t.Error("api key pattern reached disk")
	}
	if !strings.Contains(string(data), "[REDACTED]") {
		t.Error("redaction marker missing")
	}
}

func TestReplayFiltersMessages(t *testing.T) {
	l, _ := openTestLog(t, nil)
	l.User("question", "req-1")
	l.ToolCall("memorize", `{}`, "req-1")
	l.Assistant("answer", "req-1", "live", "llama3", 0, 0)

	msgs, err := Replay(l.Path(), TypeMessage)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("message count = %d", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[1].Role != RoleAssistant {
		t.Errorf("roles = %s, %s", msgs[0].Role, msgs[1].Role)
	}
}

func TestRecentRingOrder(t *testing.T) {
	l, _ := openTestLog(t, nil)
	l.User("first", "r1")
	l.User("second", "r2")
	l.User("third", "r3")

	recent := l.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("len = %d", len(recent))
	}
	if recent[0].Content != "second" || recent[1].Content != "third" {
		t.Errorf("order = %q, %q", recent[0].Content, recent[1].Content)
	}
}

func TestTranscriptFilePlacement(t *testing.T) {
	l, dir := openTestLog(t, nil)
	want := filepath.Join(dir, transcriptsDir, "transcript-"+l.SessionID()+".jsonl")
	if l.Path() != want {
		t.Errorf("path = %q, want %q", l.Path(), want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Error(err)
	}
}
