package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AdamBeresnev/matchday/internal/metrics"
)

// Tasks runs work that must outlive the request which started it. Errors and
// panics are logged, never returned.
type Tasks struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

func NewTasks(logger *slog.Logger) *Tasks {
	ctx, cancel := context.WithCancel(context.Background())
	return &Tasks{ctx: ctx, cancel: cancel, logger: logger}
}

// Go starts fn in the background. It reports false once the runner is closed.
func (t *Tasks) Go(name string, fn func(ctx context.Context) error) bool {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		t.logger.Warn("task dropped after shutdown", "task", name)
		return false
	}
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		err := t.run(name, fn)
		metrics.BackgroundTasks.WithLabelValues(name, metrics.Outcome(err)).Inc()
		if err != nil {
			t.logger.Error("background task failed", "task", name, "error", err)
		}
	}()
	return true
}

func (t *Tasks) run(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", name, r)
		}
	}()
	return fn(t.ctx)
}

// Wait blocks until every started task has returned.
func (t *Tasks) Wait() {
	t.wg.Wait()
}

// Close cancels the shared context, refuses new tasks and drains the running ones.
func (t *Tasks) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()
}
