package tools

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Approval decisions. An expired request resolves to DecisionNone,
// which every caller treats as a deny.
type Decision string

const (
	DecisionNone        Decision = ""
	DecisionAllowOnce   Decision = "allow-once"
	DecisionAllowAlways Decision = "allow-always"
	DecisionDeny        Decision = "deny"
)

const (
	// DefaultApprovalTimeout bounds how long a tool call waits for a
	// human.
	DefaultApprovalTimeout = 120 * time.Second

	// resolvedGrace keeps resolved records around so a waiter arriving
	// just after resolution still observes the decision.
	resolvedGrace = 15 * time.Second
)

// DeniedError is the tool-result error string for a deny or timeout.
const DeniedError = "user denied"

// ApprovalRecord is one pending human decision.
type ApprovalRecord struct {
	ID          string                 `json:"id"`
	ToolName    string                 `json:"toolName"`
	Description string                 `json:"description"`
	Reason      string                 `json:"reason"`
	Args        map[string]interface{} `json:"args"`
	CreatedAt   time.Time              `json:"createdAt"`
	ExpiresAt   time.Time              `json:"expiresAt"`

	decision   Decision
	resolvedBy string
	resolvedAt time.Time
	consumed   bool
	done       chan struct{}
}

// Gate is the in-memory approval store. One map, exclusive access
// around every mutation; decisions are delivered through a per-record
// channel so any number of waiters observe the same outcome.
type Gate struct {
	mu      sync.Mutex
	records map[string]*ApprovalRecord

	// allowAlways remembers tools the owner has waved through for the
	// rest of this daemon run. Deliberately not persisted.
	allowAlways map[string]bool
}

func NewGate() *Gate {
	return &Gate{
		records:     make(map[string]*ApprovalRecord),
		allowAlways: make(map[string]bool),
	}
}

// Create builds a record. The timeout is literal: zero or negative
// expires the record as soon as it is registered. Callers that want
// the standard window pass DefaultApprovalTimeout.
func (g *Gate) Create(toolName, description, reason string, args map[string]interface{}, timeout time.Duration, idHint string) *ApprovalRecord {
	id := idHint
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	return &ApprovalRecord{
		ID:          id,
		ToolName:    toolName,
		Description: description,
		Reason:      reason,
		Args:        args,
		CreatedAt:   now,
		ExpiresAt:   now.Add(timeout),
		done:        make(chan struct{}),
	}
}

// Register stores a record and starts its expiry timer. Registering an
// already-known id returns the existing record unchanged.
func (g *Gate) Register(rec *ApprovalRecord) *ApprovalRecord {
	g.mu.Lock()
	if existing, ok := g.records[rec.ID]; ok {
		g.mu.Unlock()
		return existing
	}
	g.records[rec.ID] = rec
	g.mu.Unlock()

	wait := time.Until(rec.ExpiresAt)
	if wait < 0 {
		wait = 0
	}
	expiry := time.AfterFunc(wait, func() {
		g.resolve(rec.ID, DecisionNone, "timeout")
	})
	go func() {
		<-rec.done
		expiry.Stop()
	}()
	return rec
}

// Resolve applies a client decision. A second resolution of the same
// id is a no-op; unknown ids report false.
func (g *Gate) Resolve(id string, decision Decision, resolvedBy string) bool {
	return g.resolve(id, decision, resolvedBy)
}

func (g *Gate) resolve(id string, decision Decision, resolvedBy string) bool {
	g.mu.Lock()
	rec, ok := g.records[id]
	if !ok || rec.decision != DecisionNone || isClosed(rec.done) {
		g.mu.Unlock()
		return false
	}
	rec.decision = decision
	rec.resolvedBy = resolvedBy
	rec.resolvedAt = time.Now()
	if decision == DecisionAllowAlways {
		g.allowAlways[rec.ToolName] = true
	}
	close(rec.done)
	g.mu.Unlock()

	// Keep the record through the grace window, then drop it.
	time.AfterFunc(resolvedGrace, func() {
		g.mu.Lock()
		delete(g.records, id)
		g.mu.Unlock()
	})
	return true
}

// AwaitDecision blocks until the record resolves, the record expires,
// or ctx is cancelled. Calling after resolution (within the grace
// window) returns the decision immediately.
func (g *Gate) AwaitDecision(ctx context.Context, id string) Decision {
	g.mu.Lock()
	rec, ok := g.records[id]
	g.mu.Unlock()
	if !ok {
		return DecisionNone
	}

	select {
	case <-rec.done:
	case <-ctx.Done():
		return DecisionNone
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return rec.decision
}

// ConsumeAllowOnce burns an allow-once decision. It returns true
// exactly once per record; a replay sees false and the tool refuses to
// run.
func (g *Gate) ConsumeAllowOnce(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[id]
	if !ok || rec.decision != DecisionAllowOnce || rec.consumed {
		return false
	}
	rec.consumed = true
	return true
}

// AllowedAlways reports whether the owner has standing-approved a tool
// this run.
func (g *Gate) AllowedAlways(toolName string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.allowAlways[toolName]
}

// Pending counts unresolved records, for the heartbeat snapshot.
func (g *Gate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, rec := range g.records {
		if !isClosed(rec.done) {
			n++
		}
	}
	return n
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
