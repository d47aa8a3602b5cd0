package tools

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
)

// Loop detection thresholds. A tool call counts against the detectors
// once its (tool, args) pair repeats; polling tools get the stricter
// no-progress check on result hashes.
const (
	historySize       = 30
	circuitBreakerLen = 8
	pollAbortCount    = 5
	pollWarnCount     = 3
	pingPongLen       = 5
	genericAbortCount = 5
	genericWarnCount  = 3
)

// knownPollTools legitimately repeat the same call while waiting for
// something to change. They abort only when the results stop changing.
var knownPollTools = map[string]bool{
	"execute_shell_command": true,
}

// Verdict is the loop-detector ruling on an incoming call.
type Verdict struct {
	Abort  bool
	Warn   bool
	Reason string
}

type invocation struct {
	key        string
	resultHash string
	hasResult  bool
}

// Detector keeps a bounded history of tool invocations per request and
// flags repetitive patterns before they burn the iteration budget.
type Detector struct {
	mu      sync.Mutex
	history []invocation
}

func NewDetector() *Detector {
	return &Detector{}
}

// ArgsHash derives the loop-detection identity of a call.
func ArgsHash(toolName string, args map[string]interface{}) string {
	data, _ := json.Marshal(args)
	sum := sha256.Sum256(append([]byte(toolName+"\x00"), data...))
	return hex.EncodeToString(sum[:8])
}

// HashResult hashes a tool result for no-progress comparison.
func HashResult(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:8])
}

// Check rules on an incoming call before execution. The incoming call
// itself counts as one occurrence.
func (d *Detector) Check(toolName, argsHash string) Verdict {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := toolName + ":" + argsHash

	// Trailing run of identical calls, incoming included.
	run := 1
	sameResults := true
	lastResult := ""
	for i := len(d.history) - 1; i >= 0; i-- {
		if d.history[i].key != key {
			break
		}
		run++
		if d.history[i].hasResult {
			if lastResult == "" {
				lastResult = d.history[i].resultHash
			} else if d.history[i].resultHash != lastResult {
				sameResults = false
			}
		}
	}

	if run-1 >= circuitBreakerLen {
		return Verdict{Abort: true, Reason: fmt.Sprintf("circuit breaker: %s repeated %d times in a row", toolName, run)}
	}

	if knownPollTools[toolName] {
		if sameResults && lastResult != "" {
			if run >= pollAbortCount {
				return Verdict{Abort: true, Reason: fmt.Sprintf("%s polled %d times with no change in output", toolName, run)}
			}
			if run >= pollWarnCount {
				return Verdict{Warn: true, Reason: fmt.Sprintf("%s has returned the same output %d times", toolName, run)}
			}
		}
	} else {
		if run >= genericAbortCount {
			return Verdict{Abort: true, Reason: fmt.Sprintf("%s called identically %d times", toolName, run)}
		}
		if run >= genericWarnCount {
			return Verdict{Warn: true, Reason: fmt.Sprintf("%s repeated identically %d times", toolName, run)}
		}
	}

	if d.pingPong(key) {
		return Verdict{Abort: true, Reason: "ping-pong loop: two calls alternating"}
	}

	return Verdict{}
}

// Record appends a completed invocation to the history ring.
func (d *Detector) Record(toolName, argsHash, resultHash string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.history = append(d.history, invocation{
		key:        toolName + ":" + argsHash,
		resultHash: resultHash,
		hasResult:  resultHash != "",
	})
	if len(d.history) > historySize {
		d.history = d.history[len(d.history)-historySize:]
	}
}

// pingPong reports an A-B-A-B alternation of length >= pingPongLen
// ending with the incoming key. Called with the mutex held.
func (d *Detector) pingPong(incoming string) bool {
	if len(d.history) < pingPongLen-1 {
		return false
	}
	other := d.history[len(d.history)-1].key
	if other == incoming {
		return false
	}

	expect := incoming
	length := 1
	for i := len(d.history) - 1; i >= 0 && length < pingPongLen; i-- {
		var want string
		if expect == incoming {
			want = other
		} else {
			want = incoming
		}
		if d.history[i].key != want {
			break
		}
		expect = want
		length++
	}
	return length >= pingPongLen
}
