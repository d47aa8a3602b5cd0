package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Heavy task types.
const (
	TaskDeepAnalysis  = "deep_analysis"
	TaskDistillMemory = "distill_memory"
)

// TaskState is the lifecycle of a heavy task.
type TaskState string

const (
	StateQueued  TaskState = "queued"
	StateRunning TaskState = "running"
	StateDone    TaskState = "done"
	StateFailed  TaskState = "failed"
)

// Task is one unit of background work for the worker engine. The
// queue is in-memory on purpose: a crash loses queued tasks, and the
// producers re-issue them.
type Task struct {
	ID          string
	Type        string
	Description string
	Prompt      string
	OnComplete  func(result string)
	OnFailure   func(err error)

	EnqueuedAt time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	State      TaskState
}

// Executor runs one task, typically a worker-engine call.
type Executor func(ctx context.Context, task *Task) (string, error)

// HeavyQueue is the bounded background worker pool. Concurrency
// defaults to 1: the worker engine is a single scarce resource.
type HeavyQueue struct {
	exec  Executor
	tasks chan *Task

	mu      sync.Mutex
	byID    map[string]*Task
	running int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHeavyQueue builds the queue; concurrency < 1 means 1.
func NewHeavyQueue(exec Executor, concurrency int) *HeavyQueue {
	if concurrency < 1 {
		concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &HeavyQueue{
		exec:   exec,
		tasks:  make(chan *Task, 128),
		byID:   make(map[string]*Task),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < concurrency; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Enqueue submits a task and returns its id immediately.
func (q *HeavyQueue) Enqueue(task *Task) string {
	if task.ID == "" {
		task.ID = uuid.NewString()[:8]
	}
	task.EnqueuedAt = time.Now()
	task.State = StateQueued

	q.mu.Lock()
	q.byID[task.ID] = task
	q.mu.Unlock()

	select {
	case q.tasks <- task:
		slog.Info("heavy task queued", "task", task.ID, "type", task.Type)
	case <-q.ctx.Done():
		q.fail(task, context.Canceled)
	}
	return task.ID
}

func (q *HeavyQueue) worker() {
	defer q.wg.Done()
	for {
		select {
		case task := <-q.tasks:
			q.run(task)
		case <-q.ctx.Done():
			return
		}
	}
}

func (q *HeavyQueue) run(task *Task) {
	q.mu.Lock()
	task.State = StateRunning
	task.StartedAt = time.Now()
	q.running++
	q.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("heavy task panicked", "task", task.ID, "panic", r)
		}
		q.mu.Lock()
		q.running--
		task.FinishedAt = time.Now()
		delete(q.byID, task.ID)
		q.mu.Unlock()
	}()

	result, err := q.exec(q.ctx, task)
	if err != nil {
		q.fail(task, err)
		return
	}
	task.State = StateDone
	slog.Info("heavy task done", "task", task.ID, "took", time.Since(task.StartedAt))
	if task.OnComplete != nil {
		task.OnComplete(result)
	}
}

func (q *HeavyQueue) fail(task *Task, err error) {
	task.State = StateFailed
	slog.Warn("heavy task failed", "task", task.ID, "error", err)
	if task.OnFailure != nil {
		task.OnFailure(err)
	}
}

// Counts reports running and queued task totals for the heartbeat.
func (q *HeavyQueue) Counts() (active, pending int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running, len(q.byID) - q.running
}

// Shutdown stops workers after their current task. Queued tasks are
// dropped.
func (q *HeavyQueue) Shutdown() {
	q.cancel()
	q.wg.Wait()
}
