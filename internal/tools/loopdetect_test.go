package tools

import (
	"fmt"
	"testing"
)

func TestArgsHashStable(t *testing.T) {
	a := ArgsHash("memorize", map[string]interface{}{"category": "x", "content": "y"})
	b := ArgsHash("memorize", map[string]interface{}{"category": "x", "content": "y"})
	if a != b {
		t.Error("identical args hash differently")
	}
	c := ArgsHash("forget_memory", map[string]interface{}{"category": "x", "content": "y"})
	if a == c {
		t.Error("tool name not part of hash")
	}
}

func TestGenericRepeatThresholds(t *testing.T) {
	d := NewDetector()
	hash := ArgsHash("search_memory", map[string]interface{}{"query": "q"})

	// Occurrences 1 and 2 pass clean.
	for i := 0; i < 2; i++ {
		if v := d.Check("search_memory", hash); v.Warn || v.Abort {
			t.Fatalf("occurrence %d: %+v", i+1, v)
		}
		d.Record("search_memory", hash, fmt.Sprintf("result-%d", i))
	}

	// Exactly at the warning threshold: warn, proceed.
	if v := d.Check("search_memory", hash); !v.Warn || v.Abort {
		t.Fatalf("occurrence 3: %+v", v)
	}
	d.Record("search_memory", hash, "result-2")
	d.Record("search_memory", hash, "result-3")

	// Exactly at the critical threshold: abort.
	if v := d.Check("search_memory", hash); !v.Abort {
		t.Fatalf("occurrence 5: %+v", v)
	}
}

func TestPollToolNoProgress(t *testing.T) {
	d := NewDetector()
	hash := ArgsHash("execute_shell_command", map[string]interface{}{"command": "cat status"})

	// Same output each time: warn at 3, abort at 5.
	d.Record("execute_shell_command", hash, "same")
	d.Record("execute_shell_command", hash, "same")
	if v := d.Check("execute_shell_command", hash); !v.Warn || v.Abort {
		t.Fatalf("3rd identical poll: %+v", v)
	}
	d.Record("execute_shell_command", hash, "same")
	d.Record("execute_shell_command", hash, "same")
	if v := d.Check("execute_shell_command", hash); !v.Abort {
		t.Fatalf("5th identical poll: %+v", v)
	}
}

func TestPollToolWithProgressRunsLonger(t *testing.T) {
	d := NewDetector()
	hash := ArgsHash("execute_shell_command", map[string]interface{}{"command": "tail log"})

	// Output changes every time: no poll abort, but the circuit
	// breaker still trips after 8 recorded repeats.
	for i := 0; i < 7; i++ {
		if v := d.Check("execute_shell_command", hash); v.Abort {
			t.Fatalf("aborted at %d despite progress: %+v", i+1, v)
		}
		d.Record("execute_shell_command", hash, fmt.Sprintf("output-%d", i))
	}
	d.Record("execute_shell_command", hash, "output-7")
	if v := d.Check("execute_shell_command", hash); !v.Abort {
		t.Fatalf("circuit breaker did not trip after 8 repeats: %+v", v)
	}
}

func TestPingPong(t *testing.T) {
	d := NewDetector()
	a := ArgsHash("search_memory", map[string]interface{}{"query": "a"})
	b := ArgsHash("search_memory", map[string]interface{}{"query": "b"})

	// A B A B recorded; the incoming A is the 5th of the alternation.
	d.Record("search_memory", a, "r")
	d.Record("search_memory", b, "r")
	d.Record("search_memory", a, "r")
	d.Record("search_memory", b, "r")
	if v := d.Check("search_memory", a); !v.Abort {
		t.Fatalf("ping-pong not detected: %+v", v)
	}
}

func TestDistinctCallsPass(t *testing.T) {
	d := NewDetector()
	for i := 0; i < 10; i++ {
		hash := ArgsHash("search_memory", map[string]interface{}{"query": fmt.Sprintf("q%d", i)})
		if v := d.Check("search_memory", hash); v.Warn || v.Abort {
			t.Fatalf("distinct call %d flagged: %+v", i, v)
		}
		d.Record("search_memory", hash, fmt.Sprintf("r%d", i))
	}
}
