// Package cron runs the scheduled prompts: owner-defined jobs stored
// in alerts.json, evaluated once a minute against standard cron
// expressions.
package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"
)

const alertsFile = "alerts.json"

// Job is one scheduled prompt. When due, the job's prompt is injected
// as a synthetic chat request with a "scheduled-<id>" client id, which
// keeps the scheduled sender role all the way through tool policy.
type Job struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Expr    string `json:"expr"`
	Prompt  string `json:"prompt"`
	Enabled bool   `json:"enabled"`
	LastRun int64  `json:"lastRun,omitempty"` // unix ms
}

// Handler receives due jobs.
type Handler func(jobID, prompt string)

// Scheduler owns the job store and the minute tick.
type Scheduler struct {
	path    string
	handler Handler
	parser  *gronx.Gronx

	mu   sync.Mutex
	jobs []Job

	stopCh chan struct{}
	doneCh chan struct{}
}

// New loads alerts.json (missing file means no jobs).
func New(stateDir string, handler Handler) (*Scheduler, error) {
	s := &Scheduler{
		path:    filepath.Join(stateDir, alertsFile),
		handler: handler,
		parser:  gronx.New(),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	data, err := os.ReadFile(s.path)
	if err == nil {
		if err := json.Unmarshal(data, &s.jobs); err != nil {
			return nil, fmt.Errorf("alerts file corrupt: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	return s, nil
}

// Start runs the tick loop until Stop or ctx cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				s.tick(now)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the tick loop and waits for it to exit.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Scheduler) tick(now time.Time) {
	s.mu.Lock()
	var due []Job
	for i := range s.jobs {
		job := &s.jobs[i]
		if !job.Enabled {
			continue
		}
		ok, err := s.parser.IsDue(job.Expr, now)
		if err != nil {
			slog.Warn("cron expression invalid", "job", job.ID, "expr", job.Expr, "error", err)
			continue
		}
		if ok {
			job.LastRun = now.UnixMilli()
			due = append(due, *job)
		}
	}
	if len(due) > 0 {
		s.persist()
	}
	s.mu.Unlock()

	for _, job := range due {
		slog.Info("cron job due", "job", job.ID, "name", job.Name)
		s.handler(job.ID, job.Prompt)
	}
}

// Add validates the expression and stores a new job.
func (s *Scheduler) Add(name, expr, prompt string) (Job, error) {
	if !gronx.IsValid(expr) {
		return Job{}, fmt.Errorf("invalid cron expression %q", expr)
	}
	job := Job{
		ID:      uuid.NewString()[:8],
		Name:    name,
		Expr:    expr,
		Prompt:  prompt,
		Enabled: true,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	return job, s.persist()
}

// Remove deletes a job by id.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.jobs {
		if s.jobs[i].ID == id {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			return s.persist()
		}
	}
	return fmt.Errorf("no job with id %q", id)
}

// SetEnabled flips a job on or off.
func (s *Scheduler) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.jobs {
		if s.jobs[i].ID == id {
			s.jobs[i].Enabled = enabled
			return s.persist()
		}
	}
	return fmt.Errorf("no job with id %q", id)
}

// List returns jobs sorted by name.
func (s *Scheduler) List() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, len(s.jobs))
	copy(out, s.jobs)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// persist is called with the mutex held.
func (s *Scheduler) persist() error {
	data, err := json.MarshalIndent(s.jobs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0600)
}
