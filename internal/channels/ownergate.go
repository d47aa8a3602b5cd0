package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// OwnerGate is the firewall between an external transport and the
// daemon. Exactly one identity may speak through it, and there is no
// API to address anyone else.
type OwnerGate struct {
	transport Transport
	owner     string
	handler   InboundHandler

	started atomic.Bool
	dropped atomic.Int64
}

// NewOwnerGate wires a transport to the inbound handler. owner is the
// configured ownerIdentity; empty means the channel never starts.
func NewOwnerGate(transport Transport, owner string, handler InboundHandler) *OwnerGate {
	return &OwnerGate{
		transport: transport,
		owner:     owner,
		handler:   handler,
	}
}

// ClientID is the pseudo-client identity owner messages arrive under.
func (g *OwnerGate) ClientID() string {
	return "channel:" + g.transport.Name()
}

// Start activates the transport. An unset owner identity inhibits the
// channel silently: no error, no listener, nothing to firewall.
func (g *OwnerGate) Start(ctx context.Context) error {
	if g.owner == "" {
		slog.Info("external channel inhibited: no owner identity configured", "channel", g.transport.Name())
		return nil
	}
	if err := g.transport.Start(ctx, g.onInbound); err != nil {
		return fmt.Errorf("channel %s: %w", g.transport.Name(), err)
	}
	g.started.Store(true)
	slog.Info("external channel up", "channel", g.transport.Name())
	return nil
}

// Stop shuts the transport down if it was started.
func (g *OwnerGate) Stop() error {
	if !g.started.Swap(false) {
		return nil
	}
	return g.transport.Stop()
}

// onInbound drops everything that is not the owner before any routing
// happens. The drop is silent toward the sender; a counter and a log
// line are the only trace.
func (g *OwnerGate) onInbound(from, text string) {
	if from != g.owner {
		g.dropped.Add(1)
		slog.Warn("non-owner message dropped", "channel", g.transport.Name(), "from", from)
		return
	}
	g.handler(g.ClientID(), text)
}

// SendToOwner is the single outbound path. No destination parameter
// exists on purpose.
func (g *OwnerGate) SendToOwner(ctx context.Context, text string) error {
	if g.owner == "" || !g.started.Load() {
		return fmt.Errorf("external channel not active")
	}
	return g.transport.Send(ctx, g.owner, text)
}

// Dropped reports how many non-owner messages were discarded.
func (g *OwnerGate) Dropped() int64 {
	return g.dropped.Load()
}
