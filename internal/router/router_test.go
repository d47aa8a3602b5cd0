package router

import (
	"testing"

	"github.com/nextlevelbuilder/warden/internal/tools"
)

func TestScoreOrdering(t *testing.T) {
	chitchat := Score("good morning, how are you today?", nil)
	coding := Score("please refactor the parser in src/parser.go:\n```go\nfunc a() {}\n```", nil)
	heavy := Score("deep analyse this crash and debug the stack trace below:\n```\npanic: nil deref\n```", nil)

	if chitchat >= 40 {
		t.Errorf("chit-chat score = %d, want < 40", chitchat)
	}
	if coding < 40 || coding >= 60 {
		t.Errorf("coding score = %d, want 40-59", coding)
	}
	if heavy < 60 {
		t.Errorf("heavy score = %d, want >= 60", heavy)
	}
	if !(chitchat < coding && coding < heavy) {
		t.Errorf("ordering broken: %d, %d, %d", chitchat, coding, heavy)
	}
}

func TestScoreSaturates(t *testing.T) {
	msg := "deep analyse and debug this error stack trace, refactor /src/main.go, build a tool:\n```\ncode\n```\n1. first\n2. second\n"
	for len(msg) < 1600 {
		msg += "more context about the failing error trace. "
	}
	if got := Score(msg, nil); got != 100 {
		t.Errorf("score = %d, want saturated 100", got)
	}
}

func TestParseHint(t *testing.T) {
	hint, rest := ParseHint("/local what time is it")
	if hint != HintLocal || rest != "what time is it" {
		t.Errorf("got %q, %q", hint, rest)
	}
	hint, rest = ParseHint("no slash here")
	if hint != HintNone || rest != "no slash here" {
		t.Errorf("got %q, %q", hint, rest)
	}
	if hint, _ := ParseHint("/worker"); hint != HintWorker {
		t.Errorf("bare command hint = %q", hint)
	}
	// Mid-message slashes are not hints.
	if hint, _ := ParseHint("try the /local endpoint"); hint != HintNone {
		t.Errorf("mid-message hint = %q", hint)
	}
}

func TestDecide(t *testing.T) {
	all := Availability{Live: true, Worker: true, Cloud: true}

	if got := Decide(10, tools.RoleOwner, HintNone, all); got != TargetLive {
		t.Errorf("low score = %s", got)
	}
	if got := Decide(45, tools.RoleOwner, HintNone, all); got != TargetCloud {
		t.Errorf("mid score = %s", got)
	}
	if got := Decide(70, tools.RoleOwner, HintNone, all); got != TargetHeavy {
		t.Errorf("high score = %s", got)
	}

	// System senders escalate to cloud regardless of score.
	if got := Decide(5, tools.RoleSystem, HintNone, all); got != TargetCloud {
		t.Errorf("system sender = %s", got)
	}

	// Worker disabled: heavy scores fall to cloud.
	noWorker := Availability{Live: true, Cloud: true}
	if got := Decide(70, tools.RoleOwner, HintNone, noWorker); got != TargetCloud {
		t.Errorf("no-worker heavy = %s", got)
	}

	// Hints override scoring.
	if got := Decide(70, tools.RoleOwner, HintLocal, all); got != TargetLive {
		t.Errorf("local hint = %s", got)
	}
	if got := Decide(5, tools.RoleOwner, HintWorker, all); got != TargetHeavy {
		t.Errorf("worker hint = %s", got)
	}
	// A hint for a missing tier falls back to normal selection.
	if got := Decide(5, tools.RoleOwner, HintWorker, noWorker); got != TargetLive {
		t.Errorf("unavailable hint = %s", got)
	}

	// Live-only deployments run everything on live.
	liveOnly := Availability{Live: true}
	if got := Decide(80, tools.RoleSystem, HintNone, liveOnly); got != TargetLive {
		t.Errorf("live-only = %s", got)
	}
}
