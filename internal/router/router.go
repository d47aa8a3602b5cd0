// Package router scores incoming messages for complexity and picks
// the engine tier: quick chat stays on the live model, harder work
// goes to the cloud, and heavy analysis is delegated to the worker
// queue.
package router

import (
	"regexp"
	"strings"

	"github.com/nextlevelbuilder/warden/internal/tools"
)

// Routing thresholds over the 0-100 complexity score.
const (
	cloudThreshold = 40
	heavyThreshold = 60
)

// Target is the routing outcome.
type Target string

const (
	TargetLive  Target = "live"
	TargetCloud Target = "cloud"
	TargetHeavy Target = "heavy"
)

var (
	codeFence  = regexp.MustCompile("```")
	filePath   = regexp.MustCompile(`(^|[\s"'(])(~?/|\./|[A-Za-z0-9_.-]+/)[A-Za-z0-9_./-]+\.[A-Za-z0-9]{1,8}`)
	enumMarker = regexp.MustCompile(`(?m)^\s*(\d+[.)]|[-*])\s+\S`)
)

var codingVerbs = []string{
	"implement", "refactor", "debug", "write a function", "write code",
	"fix the bug", "fix this bug", "generate", "compile", "optimize", "optimise",
}

var heavyMarkers = []string{
	"deep", "analyse", "analyze", "investigate", "audit", "root cause", "triage",
}

var forgeMarkers = []string{
	"build a tool", "create a tool", "forge", "new tool", "script that",
}

// Score rates message complexity 0-100. Additive signals, saturating
// at 100. The absolute weights matter less than the ordering: small
// talk lands under 40, code and editing work in the 40s and 50s,
// heavy analysis at 60 and above.
func Score(message string, prior []string) int {
	text := strings.ToLower(message)
	for _, p := range prior {
		text += "\n" + strings.ToLower(p)
	}

	score := 0
	if codeFence.MatchString(message) {
		score += 15
	}
	if filePath.MatchString(message) {
		score += 15
	}
	for _, verb := range codingVerbs {
		if strings.Contains(text, verb) {
			score += 20
			break
		}
	}
	if len(enumMarker.FindAllString(message, 3)) >= 2 {
		score += 10
	}
	if len(message) > 500 {
		score += 10
	}
	if len(message) > 1500 {
		score += 20
	}
	if strings.Contains(text, "error") || strings.Contains(text, "stack trace") ||
		strings.Contains(text, "panic:") || strings.Contains(text, "traceback") {
		score += 20
	}
	for _, marker := range forgeMarkers {
		if strings.Contains(text, marker) {
			score += 15
			break
		}
	}
	for _, marker := range heavyMarkers {
		if strings.Contains(text, marker) {
			score += 20
			break
		}
	}

	if score > 100 {
		score = 100
	}
	return score
}

// Hint is a client override parsed from a leading slash command.
type Hint string

const (
	HintNone   Hint = ""
	HintLocal  Hint = "local"
	HintWorker Hint = "worker"
	HintCloud  Hint = "cloud"
)

// ParseHint strips a leading engine slash command off the message.
func ParseHint(message string) (Hint, string) {
	trimmed := strings.TrimSpace(message)
	for prefix, hint := range map[string]Hint{
		"/local ":  HintLocal,
		"/worker ": HintWorker,
		"/cloud ":  HintCloud,
	} {
		if strings.HasPrefix(trimmed, prefix) {
			return hint, strings.TrimSpace(strings.TrimPrefix(trimmed, prefix))
		}
	}
	switch trimmed {
	case "/local":
		return HintLocal, ""
	case "/worker":
		return HintWorker, ""
	case "/cloud":
		return HintCloud, ""
	}
	return HintNone, message
}

// Availability reports which tiers are usable for this request.
type Availability struct {
	Live   bool
	Worker bool
	Cloud  bool
}

// Decide picks the target tier. The hint overrides scoring but never
// the availability of a tier; a system sender always escalates at
// least to cloud when one exists. Fallbacks degrade gracefully: a
// missing cloud engine falls back to live and the other way round.
func Decide(score int, role tools.Role, hint Hint, avail Availability) Target {
	switch hint {
	case HintLocal:
		if avail.Live {
			return TargetLive
		}
	case HintWorker:
		if avail.Worker {
			return TargetHeavy
		}
	case HintCloud:
		if avail.Cloud {
			return TargetCloud
		}
	}

	if score >= heavyThreshold && avail.Worker {
		return TargetHeavy
	}
	if (score >= cloudThreshold || role == tools.RoleSystem) && avail.Cloud {
		return TargetCloud
	}
	if avail.Live {
		return TargetLive
	}
	if avail.Cloud {
		return TargetCloud
	}
	return TargetLive
}
