package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Dispatcher runs one worker per accepted task, bounded by a weighted
// semaphore so a burst of jobs cannot exhaust the host. Dispatch returns
// immediately; the caller gets progress through the event bus and the
// task record.
type Dispatcher struct {
	runner  *Runner
	sem     *semaphore.Weighted
	logger  *slog.Logger
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher allowing maxWorkers concurrent runs.
func NewDispatcher(runner *Runner, maxWorkers int, logger *slog.Logger) *Dispatcher {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		runner:  runner,
		sem:     semaphore.NewWeighted(int64(maxWorkers)),
		logger:  logger,
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Dispatch schedules the task for execution and returns immediately.
func (d *Dispatcher) Dispatch(taskID string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		if err := d.sem.Acquire(d.baseCtx, 1); err != nil {
			d.logger.Warn("dispatcher shutting down, task not started", "task_id", taskID)
			return
		}
		defer d.sem.Release(1)

		d.runner.Run(d.baseCtx, taskID)
	}()
}

// DispatchTranslation schedules the bilingual sub-pipeline for a task.
func (d *Dispatcher) DispatchTranslation(taskID string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		if err := d.runner.Translate(d.baseCtx, taskID); err != nil {
			d.logger.Warn("translation run failed", "task_id", taskID, "err", err)
		}
	}()
}

// Shutdown stops accepting work and waits for in-flight workers, bounded
// by ctx.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
