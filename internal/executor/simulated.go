package executor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aristath/admit/internal/scheduler"
)

// SimulatedExecutor stands in for real work: every launched task sleeps for
// a fixed delay on its own goroutine and then reports completion.
type SimulatedExecutor struct {
	ctx      context.Context
	delay    time.Duration
	capacity scheduler.Resources
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewSimulatedExecutor creates an executor whose tasks take delay. A
// cancelled ctx cuts the remaining delays short; the tasks still complete.
func NewSimulatedExecutor(ctx context.Context, capacity scheduler.Resources, delay time.Duration, logger *slog.Logger) *SimulatedExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &SimulatedExecutor{
		ctx:      ctx,
		delay:    delay,
		capacity: capacity,
		logger:   logger,
	}
}

func (e *SimulatedExecutor) Launch(taskID string, demand scheduler.Resources, onComplete func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		timer := time.NewTimer(e.delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-e.ctx.Done():
			e.logger.Debug("simulated task cut short", "task", taskID, "error", e.ctx.Err())
		}
		onComplete()
	}()
}

func (e *SimulatedExecutor) Reject() {
	e.logger.Warn("executor received rejection", "capacity", e.capacity)
}

// Wait blocks until every launched task has called back.
func (e *SimulatedExecutor) Wait() {
	e.wg.Wait()
}
