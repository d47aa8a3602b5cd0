package tools

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestApprovalAllowOnceConsumedExactlyOnce(t *testing.T) {
	g := NewGate()
	rec := g.Register(g.Create("execute_shell_command", "rm file", "destructive", nil, time.Minute, ""))

	done := make(chan Decision, 1)
	go func() {
		done <- g.AwaitDecision(context.Background(), rec.ID)
	}()

	time.Sleep(10 * time.Millisecond)
	if !g.Resolve(rec.ID, DecisionAllowOnce, "client-1") {
		t.Fatal("resolve failed")
	}
	if d := <-done; d != DecisionAllowOnce {
		t.Fatalf("decision = %q", d)
	}

	if !g.ConsumeAllowOnce(rec.ID) {
		t.Fatal("first consume returned false")
	}
	if g.ConsumeAllowOnce(rec.ID) {
		t.Fatal("replay consume returned true")
	}
}

func TestApprovalConsumeRace(t *testing.T) {
	g := NewGate()
	rec := g.Register(g.Create("execute_shell_command", "x", "", nil, time.Minute, ""))
	g.Resolve(rec.ID, DecisionAllowOnce, "client-1")

	var wg sync.WaitGroup
	wins := make(chan bool, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- g.ConsumeAllowOnce(rec.ID)
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for ok := range wins {
		if ok {
			count++
		}
	}
	if count != 1 {
		t.Errorf("consume succeeded %d times", count)
	}
}

func TestApprovalTimeoutIsDeny(t *testing.T) {
	g := NewGate()
	rec := g.Register(g.Create("execute_shell_command", "x", "", nil, 20*time.Millisecond, ""))

	d := g.AwaitDecision(context.Background(), rec.ID)
	if d != DecisionNone {
		t.Errorf("decision after timeout = %q", d)
	}
	if g.ConsumeAllowOnce(rec.ID) {
		t.Error("expired approval consumable")
	}
}

func TestApprovalZeroTimeoutExpiresImmediately(t *testing.T) {
	g := NewGate()
	rec := g.Register(g.Create("x", "", "", nil, 0, ""))

	// Expiry fires on registration; no client ever answers.
	if d := g.AwaitDecision(context.Background(), rec.ID); d != DecisionNone {
		t.Errorf("decision = %q", d)
	}
	if g.ConsumeAllowOnce(rec.ID) {
		t.Error("expired approval consumable")
	}
}

func TestApprovalImmediateExpiry(t *testing.T) {
	g := NewGate()
	rec := g.Register(g.Create("x", "", "", nil, -time.Second, ""))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if d := g.AwaitDecision(ctx, rec.ID); d != DecisionNone {
		t.Errorf("decision = %q", d)
	}
}

func TestApprovalGraceWindowDelivery(t *testing.T) {
	g := NewGate()
	rec := g.Register(g.Create("x", "", "", nil, time.Minute, ""))
	g.Resolve(rec.ID, DecisionDeny, "client-1")

	// Waiter arriving after resolution still sees the decision.
	if d := g.AwaitDecision(context.Background(), rec.ID); d != DecisionDeny {
		t.Errorf("late waiter got %q", d)
	}
}

func TestApprovalRegisterIdempotent(t *testing.T) {
	g := NewGate()
	rec := g.Create("x", "", "", nil, time.Minute, "fixed-id")
	first := g.Register(rec)
	second := g.Register(g.Create("x", "", "", nil, time.Minute, "fixed-id"))
	if first != second {
		t.Error("re-register returned a different record")
	}
}

func TestApprovalDoubleResolveIgnored(t *testing.T) {
	g := NewGate()
	rec := g.Register(g.Create("x", "", "", nil, time.Minute, ""))
	if !g.Resolve(rec.ID, DecisionDeny, "a") {
		t.Fatal("first resolve failed")
	}
	if g.Resolve(rec.ID, DecisionAllowOnce, "b") {
		t.Error("second resolve accepted")
	}
	if d := g.AwaitDecision(context.Background(), rec.ID); d != DecisionDeny {
		t.Errorf("decision changed to %q", d)
	}
}

func TestAllowAlwaysRemembered(t *testing.T) {
	g := NewGate()
	rec := g.Register(g.Create("execute_shell_command", "", "", nil, time.Minute, ""))
	g.Resolve(rec.ID, DecisionAllowAlways, "client-1")

	if !g.AllowedAlways("execute_shell_command") {
		t.Error("allow-always not remembered")
	}
	if g.AllowedAlways("send_owner_message") {
		t.Error("allow-always leaked to other tool")
	}
}

func TestPendingCount(t *testing.T) {
	g := NewGate()
	a := g.Register(g.Create("x", "", "", nil, time.Minute, ""))
	g.Register(g.Create("y", "", "", nil, time.Minute, ""))
	if n := g.Pending(); n != 2 {
		t.Errorf("pending = %d", n)
	}
	g.Resolve(a.ID, DecisionDeny, "c")
	if n := g.Pending(); n != 1 {
		t.Errorf("pending after resolve = %d", n)
	}
}
