package tools

import "strings"

// Role is the sender classification derived from the client id.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleSystem    Role = "system"
	RoleScheduled Role = "scheduled"
)

// RoleFor derives the sender role from a client id. Everything that is
// not the daemon itself or a scheduled job speaks for the owner — the
// gateway only accepts local connections and the external channel is
// firewalled on the owner identity before a request is ever built.
func RoleFor(clientID string) Role {
	switch {
	case clientID == "system":
		return RoleSystem
	case strings.HasPrefix(clientID, "scheduled"):
		return RoleScheduled
	default:
		return RoleOwner
	}
}

// PolicyError is the refusal string fed back to the engine when a
// non-owner sender requests an owner-only tool.
const PolicyError = "restricted to owner"

// EvaluatePolicy checks whether role may invoke the tool. Unknown
// tools pass here and fail later at lookup.
func EvaluatePolicy(t *Tool, role Role) bool {
	if t == nil {
		return true
	}
	if t.OwnerOnly && role != RoleOwner {
		return false
	}
	return true
}
