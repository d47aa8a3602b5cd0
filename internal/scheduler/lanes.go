// Package scheduler provides the two execution disciplines of the
// daemon: per-session lanes that serialise interactive work, and the
// heavy task queue that runs background analysis on the worker engine.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// LaneKey names one serial execution lane.
type LaneKey string

// MainLane carries system-originated work.
const MainLane LaneKey = "main"

// SessionLane is the lane for one connected client.
func SessionLane(clientID string) LaneKey {
	return LaneKey("session:" + clientID)
}

// Command is one unit of lane work.
type Command func(ctx context.Context)

type laneJob struct {
	cmd      Command
	enqueued time.Time
	started  chan struct{}
	done     chan struct{}
}

type lane struct {
	jobs chan *laneJob
}

// Lanes maps lane keys to FIFO runners. Commands within one lane run
// strictly serially in enqueue order; lanes run concurrently with each
// other.
type Lanes struct {
	mu     sync.Mutex
	lanes  map[LaneKey]*lane
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// laneDepth bounds how many commands can wait per lane before
	// Enqueue itself blocks the caller.
	laneDepth int
}

// NewLanes builds the scheduler. Runners live until Shutdown.
func NewLanes() *Lanes {
	ctx, cancel := context.WithCancel(context.Background())
	return &Lanes{
		lanes:     make(map[LaneKey]*lane),
		ctx:       ctx,
		cancel:    cancel,
		laneDepth: 64,
	}
}

// Submit places cmd in the lane and returns a wait that blocks until
// the command has completed (or the scheduler shuts down first).
// Admission order is the call order of Submit, so a caller that needs
// FIFO across rapid submissions submits synchronously and parks only
// the wait on a goroutine. warnAfter > 0 logs an advisory if the
// command has not started by then; it never cancels.
func (l *Lanes) Submit(key LaneKey, cmd Command, warnAfter time.Duration) (wait func(ctx context.Context)) {
	job := &laneJob{
		cmd:      cmd,
		enqueued: time.Now(),
		started:  make(chan struct{}),
		done:     make(chan struct{}),
	}

	// Advisory only: a lane stuck behind a slow command logs, the
	// command still runs in order.
	var timer *time.Timer
	if warnAfter > 0 {
		timer = time.AfterFunc(warnAfter, func() {
			select {
			case <-job.started:
			default:
				slog.Warn("lane command not started by deadline", "lane", key, "waited", time.Since(job.enqueued))
			}
		})
	}

	ln := l.laneFor(key)
	select {
	case ln.jobs <- job:
	case <-l.ctx.Done():
	}

	return func(ctx context.Context) {
		if timer != nil {
			defer timer.Stop()
		}
		select {
		case <-job.done:
		case <-l.ctx.Done():
		case <-ctx.Done():
		}
	}
}

// Enqueue submits cmd to the lane and blocks until the command has
// completed (or ctx or the scheduler ends first).
func (l *Lanes) Enqueue(ctx context.Context, key LaneKey, cmd Command, warnAfter time.Duration) {
	l.Submit(key, cmd, warnAfter)(ctx)
}

func (l *Lanes) laneFor(key LaneKey) *lane {
	l.mu.Lock()
	defer l.mu.Unlock()

	ln, ok := l.lanes[key]
	if !ok {
		ln = &lane{jobs: make(chan *laneJob, l.laneDepth)}
		l.lanes[key] = ln
		l.wg.Add(1)
		go l.run(key, ln)
	}
	return ln
}

func (l *Lanes) run(key LaneKey, ln *lane) {
	defer l.wg.Done()
	for {
		select {
		case job := <-ln.jobs:
			close(job.started)
			func() {
				defer func() {
					if r := recover(); r != nil {
						slog.Error("lane command panicked", "lane", key, "panic", r)
					}
					close(job.done)
				}()
				job.cmd(l.ctx)
			}()
		case <-l.ctx.Done():
			return
		}
	}
}

// Shutdown stops all lane runners. Pending commands are abandoned;
// their Enqueue callers unblock.
func (l *Lanes) Shutdown() {
	l.cancel()
	l.wg.Wait()
}
