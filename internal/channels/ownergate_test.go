package channels

import (
	"context"
	"testing"
)

// fakeTransport records sends and lets tests inject inbound traffic.
type fakeTransport struct {
	name      string
	onInbound func(from, text string)
	sent      []string
	sentTo    []string
	started   bool
	stopped   bool
}

func (f *fakeTransport) Name() string { return f.name }

func (f *fakeTransport) Start(_ context.Context, onInbound func(from, text string)) error {
	f.started = true
	f.onInbound = onInbound
	return nil
}

func (f *fakeTransport) Stop() error {
	f.stopped = true
	return nil
}

func (f *fakeTransport) Send(_ context.Context, to, text string) error {
	f.sentTo = append(f.sentTo, to)
	f.sent = append(f.sent, text)
	return nil
}

func TestUnsetOwnerInhibitsSilently(t *testing.T) {
	tr := &fakeTransport{name: "sms"}
	gate := NewOwnerGate(tr, "", func(string, string) {
		t.Error("handler called on inhibited channel")
	})

	if err := gate.Start(context.Background()); err != nil {
		t.Fatalf("inhibit should not error: %v", err)
	}
	if tr.started {
		t.Error("transport started without owner identity")
	}
	if err := gate.SendToOwner(context.Background(), "hi"); err == nil {
		t.Error("send on inhibited channel succeeded")
	}
}

func TestNonOwnerInboundDropped(t *testing.T) {
	tr := &fakeTransport{name: "sms"}
	var got []string
	gate := NewOwnerGate(tr, "+15550001111", func(clientID, content string) {
		got = append(got, clientID+"|"+content)
	})
	if err := gate.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	tr.onInbound("+19998887777", "let me in")
	tr.onInbound("+15550001111", "hello from the owner")
	tr.onInbound("spoofed", "second try")

	if len(got) != 1 || got[0] != "channel:sms|hello from the owner" {
		t.Errorf("delivered = %v", got)
	}
	if gate.Dropped() != 2 {
		t.Errorf("dropped = %d", gate.Dropped())
	}
}

func TestSendToOwnerOnlyReachesOwner(t *testing.T) {
	tr := &fakeTransport{name: "sms"}
	gate := NewOwnerGate(tr, "+15550001111", func(string, string) {})
	if err := gate.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := gate.SendToOwner(context.Background(), "task finished"); err != nil {
		t.Fatal(err)
	}
	if len(tr.sentTo) != 1 || tr.sentTo[0] != "+15550001111" {
		t.Errorf("sent to %v", tr.sentTo)
	}
	if tr.sent[0] != "task finished" {
		t.Errorf("sent %v", tr.sent)
	}
}

func TestStopOnlyWhenStarted(t *testing.T) {
	tr := &fakeTransport{name: "sms"}
	gate := NewOwnerGate(tr, "", func(string, string) {})
	gate.Start(context.Background())
	gate.Stop()
	if tr.stopped {
		t.Error("stopped a transport that never started")
	}

	tr2 := &fakeTransport{name: "sms"}
	gate2 := NewOwnerGate(tr2, "+1", func(string, string) {})
	gate2.Start(context.Background())
	gate2.Stop()
	if !tr2.stopped {
		t.Error("started transport not stopped")
	}
}
