// Package channels adapts external messaging transports (phone/IM
// bridges) to the daemon. The owner gate is the only path in or out:
// inbound traffic is firewalled on the owner identity, and outbound
// traffic can only ever reach the owner.
package channels

import "context"

// Transport is the contract a concrete platform client implements.
// The daemon core never talks to a platform SDK directly.
type Transport interface {
	Name() string
	// Start begins receiving; inbound messages are delivered to
	// onInbound until Stop or ctx cancellation.
	Start(ctx context.Context, onInbound func(from, text string)) error
	Stop() error
	// Send delivers text to a platform identity.
	Send(ctx context.Context, to, text string) error
}

// InboundHandler receives owner messages that passed the firewall.
// clientID is the pseudo-client identity ("channel:<name>").
type InboundHandler func(clientID, content string)
