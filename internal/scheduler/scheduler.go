// Package scheduler runs the periodic maintenance tasks: the escalation
// timeout sweep and the soft-delete cleanup. A fleet may run many instances;
// leader election ensures only one runs the task bodies at a time.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task is one periodic job. Tasks are created stopped and started when this
// instance acquires leadership.
type Task struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTask builds a stopped task.
func NewTask(name string, interval time.Duration, run func(ctx context.Context) error) *Task {
	return &Task{name: name, interval: interval, run: run}
}

// Name returns the task name.
func (t *Task) Name() string { return t.name }

// Running reports whether the task loop is active.
func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}

// Start launches the task loop. The body runs once immediately, then on every
// interval tick. Starting a running task is a no-op.
func (t *Task) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})

	go func() {
		defer close(t.done)
		t.runOnce(ctx)

		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.runOnce(ctx)
			}
		}
	}()
	slog.Info("scheduler task started", "task", t.name, "interval", t.interval)
}

// Stop halts the task loop and waits for the current run to finish. Stopping
// a stopped task is a no-op.
func (t *Task) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel = nil
	t.done = nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	slog.Info("scheduler task stopped", "task", t.name)
}

func (t *Task) runOnce(ctx context.Context) {
	started := time.Now()
	if err := t.run(ctx); err != nil {
		slog.Error("scheduler task failed", "task", t.name, "error", err)
		return
	}
	slog.Debug("scheduler task completed", "task", t.name, "elapsed", time.Since(started))
}

// Scheduler gates a set of tasks behind leader election: wire StartAll to
// the elector's OnElected hook and StopAll to OnDemoted.
type Scheduler struct {
	tasks []*Task
}

// New builds a scheduler over the given tasks.
func New(tasks ...*Task) *Scheduler {
	return &Scheduler{tasks: tasks}
}

// Tasks returns the managed tasks.
func (s *Scheduler) Tasks() []*Task { return s.tasks }

// StartAll starts every task under the given context.
func (s *Scheduler) StartAll(ctx context.Context) {
	for _, t := range s.tasks {
		t.Start(ctx)
	}
}

// StopAll stops every task. Also used for process shutdown.
func (s *Scheduler) StopAll() {
	for _, t := range s.tasks {
		t.Stop()
	}
}
