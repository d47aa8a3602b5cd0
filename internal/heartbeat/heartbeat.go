// Package heartbeat owns the canonical daemon state and the 1 Hz
// snapshot broadcast. Transitions are event-driven; the tick only
// reports.
package heartbeat

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/nextlevelbuilder/warden/pkg/protocol"
)

// State is the single authoritative daemon state.
type State string

const (
	StateIdle      State = "IDLE"
	StateThinking  State = "THINKING"
	StateExecuting State = "EXECUTING_TOOL"
	StateBlocked   State = "BLOCKED_WAITING_USER"
)

// validTransitions is the fixed transition table. Anything not listed
// is refused and logged.
var validTransitions = map[State][]State{
	StateIdle:      {StateThinking},
	StateThinking:  {StateExecuting, StateIdle},
	StateExecuting: {StateBlocked, StateThinking},
	StateBlocked:   {StateExecuting},
}

// Snapshot is the per-tick view fanned out to clients. Fields are read
// from their owning components through probes, not a global lock, so a
// snapshot is consistent only to within one tick.
type Snapshot struct {
	State            State `json:"state"`
	Tick             int64 `json:"tick"`
	UptimeMs         int64 `json:"uptimeMs"`
	ActiveTasks      int   `json:"activeTasks"`
	PendingTasks     int   `json:"pendingTasks"`
	AwaitingApproval int   `json:"awaitingApproval"`
	ConnectedClients int   `json:"connectedClients"`
	PID              int   `json:"pid"`
	Port             int   `json:"port"`
}

// Probes supply the live counters for each snapshot.
type Probes struct {
	TaskCounts       func() (active, pending int)
	PendingApprovals func() int
	ConnectedClients func() int
	Port             int
}

// Broadcaster fans a message out to all clients.
type Broadcaster interface {
	Broadcast(msg *protocol.Message)
}

// Manager holds the state machine and the tick loop.
type Manager struct {
	mu    sync.Mutex
	state State

	probes  Probes
	started time.Time
	tick    int64

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewManager(probes Probes) *Manager {
	return &Manager{
		state:   StateIdle,
		probes:  probes,
		started: time.Now(),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition applies a state change if the table permits it. Invalid
// transitions are refused, logged, and leave the state untouched.
func (m *Manager) Transition(to State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == to {
		return true
	}
	for _, allowed := range validTransitions[m.state] {
		if allowed == to {
			m.state = to
			return true
		}
	}
	slog.Warn("invalid state transition refused", "from", m.state, "to", to)
	return false
}

// Snapshot builds the current view.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	state := m.state
	tick := m.tick
	m.mu.Unlock()

	s := Snapshot{
		State:    state,
		Tick:     tick,
		UptimeMs: time.Since(m.started).Milliseconds(),
		PID:      os.Getpid(),
		Port:     m.probes.Port,
	}
	if m.probes.TaskCounts != nil {
		s.ActiveTasks, s.PendingTasks = m.probes.TaskCounts()
	}
	if m.probes.PendingApprovals != nil {
		s.AwaitingApproval = m.probes.PendingApprovals()
	}
	if m.probes.ConnectedClients != nil {
		s.ConnectedClients = m.probes.ConnectedClients()
	}
	return s
}

// Run broadcasts a snapshot every second until Stop.
func (m *Manager) Run(b Broadcaster) {
	go func() {
		defer close(m.doneCh)
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.mu.Lock()
				m.tick++
				m.mu.Unlock()
				b.Broadcast(protocol.New(protocol.TypeHeartbeat, m.Snapshot()))
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop halts the tick loop.
func (m *Manager) Stop() {
	close(m.stopCh)
	<-m.doneCh
}
