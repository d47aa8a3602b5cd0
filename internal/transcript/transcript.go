// Package transcript is the append-only audit log: one JSONL file per
// session under transcripts/, mirrored by an in-memory ring buffer for
// cheap replay to newly connected clients.
package transcript

import (
	"bufio"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

const (
	// ToolResultBudget caps how much of a tool result lands on disk.
	ToolResultBudget = 1000

	ringSize       = 500
	transcriptsDir = "transcripts"
	truncationMark = "\n[... output truncated ...]"
)

// Entry types.
const (
	TypeMessage        = "message"
	TypeToolInvocation = "tool-invocation"
	TypeSessionMeta    = "session-meta"
	TypeError          = "error"
)

// Entry roles.
const (
	RoleUser       = "user"
	RoleAssistant  = "assistant"
	RoleToolCall   = "tool-call"
	RoleToolResult = "tool-result"
	RoleSystem     = "system"
)

// Meta carries the optional per-entry annotations.
type Meta struct {
	Tier       string `json:"tier,omitempty"`
	Model      string `json:"model,omitempty"`
	ToolName   string `json:"toolName,omitempty"`
	Success    *bool  `json:"success,omitempty"`
	RequestID  string `json:"requestId,omitempty"`
	Truncated  bool   `json:"truncated,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
	TokensIn   int    `json:"tokensIn,omitempty"`
	TokensOut  int    `json:"tokensOut,omitempty"`
	Hash       string `json:"hash,omitempty"`
}

// Entry is one transcript line.
type Entry struct {
	TS      int64  `json:"ts"` // unix ms
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content string `json:"content"`
	Meta    Meta   `json:"meta"`
}

// Redactor removes sensitive substrings before an entry reaches disk.
type Redactor func(string) string

// Log is the per-session transcript writer.
type Log struct {
	sessionID string
	path      string
	redact    Redactor

	mu   sync.Mutex
	file *os.File
	ring []Entry
	next int
	full bool
}

// NewSessionID mints a session identifier of the form YYYYMMDD-<8 hex>.
func NewSessionID() string {
	buf := make([]byte, 4)
	rand.Read(buf)
	return time.Now().Format("20060102") + "-" + hex.EncodeToString(buf)
}

// Open starts a new session log in the state directory. A nil redactor
// writes entries as-is.
func Open(stateDir string, redact Redactor) (*Log, error) {
	dir := filepath.Join(stateDir, transcriptsDir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("transcript dir: %w", err)
	}

	sessionID := NewSessionID()
	path := filepath.Join(dir, "transcript-"+sessionID+".jsonl")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("transcript open: %w", err)
	}

	if redact == nil {
		redact = func(s string) string { return s }
	}
	l := &Log{
		sessionID: sessionID,
		path:      path,
		redact:    redact,
		file:      file,
		ring:      make([]Entry, ringSize),
	}
	l.Append(Entry{Type: TypeSessionMeta, Role: RoleSystem, Content: "session started"})
	return l, nil
}

// SessionID returns the session identifier.
func (l *Log) SessionID() string { return l.sessionID }

// Path returns the on-disk JSONL path.
func (l *Log) Path() string { return l.path }

// Close finalises the session file.
func (l *Log) Close() error {
	l.Append(Entry{Type: TypeSessionMeta, Role: RoleSystem, Content: "session closed"})
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Append records an entry: redaction first, then tool-result
// truncation, then one JSON line on disk and a slot in the ring. A
// failed disk write is logged and the entry still lands in the ring.
func (l *Log) Append(e Entry) {
	if e.TS == 0 {
		e.TS = time.Now().UnixMilli()
	}
	e.Content = l.redact(e.Content)

	if e.Role == RoleToolResult && len(e.Content) > ToolResultBudget {
		e.Content = e.Content[:ToolResultBudget] + truncationMark
		e.Meta.Truncated = true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	line, err := json.Marshal(e)
	if err == nil {
		if _, werr := l.file.Write(append(line, '\n')); werr != nil {
			slog.Error("transcript write failed", "error", werr)
		}
	}

	l.ring[l.next] = e
	l.next = (l.next + 1) % ringSize
	if l.next == 0 {
		l.full = true
	}
}

// User, Assistant, and System are the common message appenders.
func (l *Log) User(content, requestID string) {
	l.Append(Entry{Type: TypeMessage, Role: RoleUser, Content: content, Meta: Meta{RequestID: requestID}})
}

func (l *Log) Assistant(content, requestID, tier, model string, tokensIn, tokensOut int) {
	l.Append(Entry{Type: TypeMessage, Role: RoleAssistant, Content: content,
		Meta: Meta{RequestID: requestID, Tier: tier, Model: model, TokensIn: tokensIn, TokensOut: tokensOut}})
}

func (l *Log) System(content string) {
	l.Append(Entry{Type: TypeMessage, Role: RoleSystem, Content: content})
}

// ToolCall records an invocation; ToolResult records its outcome with
// the result hash that also feeds loop detection.
func (l *Log) ToolCall(toolName, argsJSON, requestID string) {
	l.Append(Entry{Type: TypeToolInvocation, Role: RoleToolCall, Content: argsJSON,
		Meta: Meta{ToolName: toolName, RequestID: requestID}})
}

func (l *Log) ToolResult(toolName, content, requestID string, success bool, durationMs int64) {
	sum := sha256.Sum256([]byte(content))
	l.Append(Entry{Type: TypeToolInvocation, Role: RoleToolResult, Content: content,
		Meta: Meta{ToolName: toolName, RequestID: requestID, Success: &success,
			DurationMs: durationMs, Hash: hex.EncodeToString(sum[:8])}})
}

func (l *Log) Error(content, requestID string) {
	l.Append(Entry{Type: TypeError, Role: RoleSystem, Content: content, Meta: Meta{RequestID: requestID}})
}

// Recent returns up to n ring entries, oldest first.
func (l *Log) Recent(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var ordered []Entry
	if l.full {
		ordered = append(ordered, l.ring[l.next:]...)
	}
	ordered = append(ordered, l.ring[:l.next]...)
	if n > 0 && len(ordered) > n {
		ordered = ordered[len(ordered)-n:]
	}
	return ordered
}

// Replay reads a session file back, keeping only entries matching
// entryType ("" keeps all). Malformed lines are skipped.
func Replay(path, entryType string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var out []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if json.Unmarshal(scanner.Bytes(), &e) != nil {
			continue
		}
		if entryType == "" || e.Type == entryType {
			out = append(out, e)
		}
	}
	return out, scanner.Err()
}

// NewRedactor builds a Redactor from literal secrets plus the builtin
// credential-looking patterns.
func NewRedactor(secrets []string) Redactor {
	patterns := []*regexp.Regexp{
		regexp.MustCompile(`sk-[A-Za-z0-9_-]{16,}`),
		regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/-]{16,}`),
	}
	return func(s string) string {
		for _, secret := range secrets {
			if secret == "" {
				continue
			}
			s = strings.ReplaceAll(s, secret, "[REDACTED]")
		}
		for _, p := range patterns {
			s = p.ReplaceAllString(s, "[REDACTED]")
		}
		return s
	}
}
