package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLaneSerialOrder(t *testing.T) {
	lanes := NewLanes()
	defer lanes.Shutdown()

	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		// Stagger enqueues so FIFO order is deterministic.
		go func() {
			defer wg.Done()
			time.Sleep(time.Duration(i) * 20 * time.Millisecond)
			lanes.Enqueue(context.Background(), SessionLane("c1"), func(context.Context) {
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
			}, 0)
		}()
	}
	wg.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("order = %v", order)
		}
	}
}

func TestSubmitPreservesCallOrder(t *testing.T) {
	lanes := NewLanes()
	defer lanes.Shutdown()

	// The gateway submits inline from the read pump and runs only the
	// waits on goroutines. Back-to-back submissions to one lane must
	// execute in submit order even though the waits race.
	for trial := 0; trial < 200; trial++ {
		var mu sync.Mutex
		var order []string
		record := func(name string) Command {
			return func(context.Context) {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
			}
		}

		lane := SessionLane("c1")
		waitA := lanes.Submit(lane, record("a"), 0)
		waitB := lanes.Submit(lane, record("b"), 0)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); waitB(context.Background()) }()
		go func() { defer wg.Done(); waitA(context.Background()) }()
		wg.Wait()

		if len(order) != 2 || order[0] != "a" || order[1] != "b" {
			t.Fatalf("trial %d: order = %v", trial, order)
		}
	}
}

func TestLanesRunConcurrently(t *testing.T) {
	lanes := NewLanes()
	defer lanes.Shutdown()

	release := make(chan struct{})
	blockedStarted := make(chan struct{})
	go lanes.Enqueue(context.Background(), SessionLane("slow"), func(context.Context) {
		close(blockedStarted)
		<-release
	}, 0)
	<-blockedStarted

	done := make(chan struct{})
	go func() {
		lanes.Enqueue(context.Background(), SessionLane("fast"), func(context.Context) {}, 0)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("other lane blocked behind busy lane")
	}
	close(release)
}

func TestEnqueueBlocksUntilComplete(t *testing.T) {
	lanes := NewLanes()
	defer lanes.Shutdown()

	var ran atomic.Bool
	lanes.Enqueue(context.Background(), MainLane, func(context.Context) {
		time.Sleep(20 * time.Millisecond)
		ran.Store(true)
	}, 0)
	if !ran.Load() {
		t.Error("Enqueue returned before command completed")
	}
}

func TestLanePanicDoesNotKillRunner(t *testing.T) {
	lanes := NewLanes()
	defer lanes.Shutdown()

	lanes.Enqueue(context.Background(), MainLane, func(context.Context) {
		panic("boom")
	}, 0)

	var ran atomic.Bool
	lanes.Enqueue(context.Background(), MainLane, func(context.Context) {
		ran.Store(true)
	}, 0)
	if !ran.Load() {
		t.Error("lane dead after panic")
	}
}

func TestHeavyQueueCompletion(t *testing.T) {
	exec := func(_ context.Context, task *Task) (string, error) {
		return "result for " + task.ID, nil
	}
	q := NewHeavyQueue(exec, 1)
	defer q.Shutdown()

	done := make(chan string, 1)
	id := q.Enqueue(&Task{
		Type:       TaskDeepAnalysis,
		Prompt:     "analyse",
		OnComplete: func(result string) { done <- result },
	})
	if id == "" {
		t.Fatal("empty task id")
	}

	select {
	case result := <-done:
		if result != "result for "+id {
			t.Errorf("result = %q", result)
		}
	case <-time.After(time.Second):
		t.Fatal("task never completed")
	}
}

func TestHeavyQueueFailure(t *testing.T) {
	boom := errors.New("worker offline")
	q := NewHeavyQueue(func(context.Context, *Task) (string, error) { return "", boom }, 1)
	defer q.Shutdown()

	failed := make(chan error, 1)
	q.Enqueue(&Task{
		Type:      TaskDistillMemory,
		OnFailure: func(err error) { failed <- err },
	})

	select {
	case err := <-failed:
		if !errors.Is(err, boom) {
			t.Errorf("err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("failure callback never fired")
	}
}

func TestHeavyQueueSingleWorker(t *testing.T) {
	var concurrent, peak atomic.Int32
	exec := func(context.Context, *Task) (string, error) {
		now := concurrent.Add(1)
		if now > peak.Load() {
			peak.Store(now)
		}
		time.Sleep(20 * time.Millisecond)
		concurrent.Add(-1)
		return "", nil
	}
	q := NewHeavyQueue(exec, 1)
	defer q.Shutdown()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		q.Enqueue(&Task{OnComplete: func(string) { wg.Done() }})
	}
	wg.Wait()

	if peak.Load() != 1 {
		t.Errorf("peak concurrency = %d, want 1", peak.Load())
	}
}
