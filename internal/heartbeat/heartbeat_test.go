package heartbeat

import (
	"os"
	"testing"
)

func TestTransitionTable(t *testing.T) {
	valid := [][2]State{
		{StateIdle, StateThinking},
		{StateThinking, StateExecuting},
		{StateExecuting, StateBlocked},
		{StateBlocked, StateExecuting},
		{StateExecuting, StateThinking},
		{StateThinking, StateIdle},
	}
	for _, tr := range valid {
		m := NewManager(Probes{})
		m.state = tr[0]
		if !m.Transition(tr[1]) {
			t.Errorf("%s -> %s refused", tr[0], tr[1])
		}
		if m.State() != tr[1] {
			t.Errorf("state after %s -> %s is %s", tr[0], tr[1], m.State())
		}
	}

	invalid := [][2]State{
		{StateIdle, StateExecuting},
		{StateIdle, StateBlocked},
		{StateThinking, StateBlocked},
		{StateBlocked, StateIdle},
		{StateBlocked, StateThinking},
		{StateExecuting, StateIdle},
	}
	for _, tr := range invalid {
		m := NewManager(Probes{})
		m.state = tr[0]
		if m.Transition(tr[1]) {
			t.Errorf("%s -> %s accepted", tr[0], tr[1])
		}
		if m.State() != tr[0] {
			t.Errorf("refused transition changed state to %s", m.State())
		}
	}
}

func TestSelfTransitionIsNoop(t *testing.T) {
	m := NewManager(Probes{})
	if !m.Transition(StateIdle) {
		t.Error("self transition refused")
	}
}

func TestSnapshotProbes(t *testing.T) {
	m := NewManager(Probes{
		TaskCounts:       func() (int, int) { return 1, 2 },
		PendingApprovals: func() int { return 3 },
		ConnectedClients: func() int { return 4 },
		Port:             7777,
	})
	m.Transition(StateThinking)

	s := m.Snapshot()
	if s.State != StateThinking {
		t.Errorf("state = %s", s.State)
	}
	if s.ActiveTasks != 1 || s.PendingTasks != 2 || s.AwaitingApproval != 3 || s.ConnectedClients != 4 {
		t.Errorf("probe values = %+v", s)
	}
	if s.Port != 7777 || s.PID != os.Getpid() {
		t.Errorf("identity fields = %+v", s)
	}
}

func TestFullRequestLifecycle(t *testing.T) {
	m := NewManager(Probes{})
	steps := []State{StateThinking, StateExecuting, StateBlocked, StateExecuting, StateThinking, StateIdle}
	for _, next := range steps {
		if !m.Transition(next) {
			t.Fatalf("lifecycle stalled at %s -> %s", m.State(), next)
		}
	}
	if m.State() != StateIdle {
		t.Errorf("final state = %s", m.State())
	}
}
