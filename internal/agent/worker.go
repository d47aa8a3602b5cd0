package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/nextlevelbuilder/warden/internal/engine"
	"github.com/nextlevelbuilder/warden/internal/memory"
	"github.com/nextlevelbuilder/warden/internal/scheduler"
)

// NewHeavyExecutor builds the scheduler executor for background tasks.
// Work prefers the worker engine and degrades to cloud, then live.
func NewHeavyExecutor(engines *engine.Set, core *memory.CoreMemory) scheduler.Executor {
	return func(ctx context.Context, task *scheduler.Task) (string, error) {
		eng := engines.Worker
		if eng == nil {
			eng = engines.Cloud
		}
		if eng == nil {
			eng = engines.Live
		}
		if eng == nil {
			return "", errors.New("no engine available for background work")
		}

		var prompt string
		switch task.Type {
		case scheduler.TaskDistillMemory:
			prompt = distillInstruction + "\n\n" + core.Read()
		default:
			prompt = task.Prompt
		}
		if prompt == "" {
			return "", fmt.Errorf("task %s has no prompt", task.ID)
		}

		return collect(ctx, eng, prompt)
	}
}

// collect runs one non-interactive engine call and gathers the full
// text output.
func collect(ctx context.Context, eng engine.Engine, prompt string) (string, error) {
	events, err := eng.Stream(ctx, engine.Request{
		Messages: []engine.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}

	var out string
	for ev := range events {
		switch ev.Type {
		case engine.EventChunk:
			out += ev.Text
		case engine.EventError:
			return "", fmt.Errorf("%s: %s", ev.Kind, ev.Message)
		}
	}
	if out == "" {
		return "", errors.New("engine returned no output")
	}
	return out, nil
}
