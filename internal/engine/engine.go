// Package engine provides the uniform streaming interface over the
// heterogeneous model backends (live / worker / cloud). The rest of the
// daemon only ever sees Descriptor, Event, and the Engine interface —
// never HTTP, SSE, or provider SDK details.
package engine

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Kind identifies an engine tier.
type Kind string

const (
	KindLive   Kind = "live"
	KindWorker Kind = "worker"
	KindCloud  Kind = "cloud"
)

// Descriptor describes one model backend. Created at config load,
// read-only at runtime.
type Descriptor struct {
	Kind        Kind
	Provider    string
	Model       string
	Endpoint    string
	Credential  string // resolved API key (may be empty for local backends)
	Parallelism int
}

// Message is one conversation turn handed to an engine.
type Message struct {
	Role       string `json:"role"` // "system", "user", "assistant", "tool"
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// ToolDef describes a tool schema offered to the model.
type ToolDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Request is the input for one streaming engine call.
type Request struct {
	System   string
	Messages []Message
	Tools    []ToolDef
}

// EventType discriminates stream events.
type EventType string

const (
	EventChunk    EventType = "chunk"
	EventToolCall EventType = "tool-call"
	EventDone     EventType = "done"
	EventError    EventType = "error"
)

// Event is one element of an engine stream. Exactly one Done or Error
// terminates every stream.
type Event struct {
	Type EventType

	Text string // chunk

	Call ToolCall // tool-call

	Tier      string // done
	Model     string
	TokensIn  int
	TokensOut int

	Kind    ErrorKind // error
	Message string
}

// ErrorKind classifies engine failures for the retry policy: only
// context-overflow is ever retried (once, after compaction).
type ErrorKind string

const (
	ErrAuth            ErrorKind = "auth"
	ErrNetwork         ErrorKind = "network"
	ErrRateLimit       ErrorKind = "rate-limit"
	ErrContextOverflow ErrorKind = "context-overflow"
	ErrUnknown         ErrorKind = "unknown"
)

// Engine is the streaming contract each backend implements.
type Engine interface {
	// Stream starts a model call and returns the event channel. The
	// channel is closed after the terminal Done or Error event.
	Stream(ctx context.Context, req Request) (<-chan Event, error)
	Descriptor() Descriptor
}

// Classify maps a transport-level error to an ErrorKind.
func Classify(status int, err error) ErrorKind {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
			return ErrNetwork
		}
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "context length"), strings.Contains(msg, "context_length"),
			strings.Contains(msg, "maximum context"), strings.Contains(msg, "too many tokens"):
			return ErrContextOverflow
		case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"):
			return ErrNetwork
		}
	}
	switch {
	case status == 401 || status == 403:
		return ErrAuth
	case status == 429:
		return ErrRateLimit
	case status == 400 || status == 413:
		// Providers report overflow as a 400 with a context-length message;
		// the caller passes err built from the response body.
		if err != nil {
			msg := strings.ToLower(err.Error())
			if strings.Contains(msg, "context") || strings.Contains(msg, "token") {
				return ErrContextOverflow
			}
		}
		return ErrUnknown
	case status >= 500:
		return ErrNetwork
	}
	return ErrUnknown
}
