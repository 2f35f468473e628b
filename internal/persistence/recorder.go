package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/aristath/admit/internal/events"
	"github.com/aristath/admit/internal/scheduler"
)

// Recorder writes scheduler events from the bus into a Store.
// Failed writes are logged and counted; they never reach the scheduler.
type Recorder struct {
	store  Store
	events <-chan events.Event
	cb     *gobreaker.CircuitBreaker
	retry  RetryConfig
	logger *slog.Logger

	failures atomic.Int64
	wg       sync.WaitGroup
}

// NewRecorder subscribes to the run and task lifecycle events of bus without
// loss. Call Start to begin writing.
func NewRecorder(store Store, bus *events.EventBus, logger *slog.Logger, retry RetryConfig) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:  store,
		events: bus.SubscribeReliable(events.TopicRun, events.TopicTask),
		cb:     newBreaker("journal", 30*time.Second, logger),
		retry:  retry,
		logger: logger.With("component", "journal"),
	}
}

// Start consumes events until the bus is closed.
func (r *Recorder) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for ev := range r.events {
			if err := r.record(ctx, ev); err != nil {
				r.failures.Add(1)
				r.logger.Error("journal write failed", "event", ev.EventType(), "run", ev.RunID(), "task", ev.TaskID(), "error", err)
			}
		}
	}()
}

// Wait blocks until every event published before the bus closed is handled.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

// Failures returns the number of events that could not be written.
func (r *Recorder) Failures() int64 {
	return r.failures.Load()
}

func (r *Recorder) write(ctx context.Context, op func(ctx context.Context) error) error {
	return writeWithRetry(ctx, r.cb, r.retry, op)
}

func (r *Recorder) record(ctx context.Context, ev events.Event) error {
	switch e := ev.(type) {
	case events.RunStartedEvent:
		if err := r.write(ctx, func(ctx context.Context) error {
			return r.store.CreateRun(ctx, &Run{
				ID:        e.Run,
				Name:      e.Name,
				Capacity:  scheduler.Resources(e.Capacity),
				Status:    RunRunning,
				StartedAt: e.Timestamp,
			})
		}); err != nil {
			return err
		}
		records := make([]TaskRecord, len(e.Tasks))
		for i, t := range e.Tasks {
			records[i] = TaskRecord{
				TaskID:    t.ID,
				Demand:    scheduler.Resources(t.Demand),
				Priority:  t.Priority,
				Implicit:  t.Implicit,
				DependsOn: t.DependsOn,
				Status:    scheduler.TaskPending,
			}
		}
		return r.write(ctx, func(ctx context.Context) error {
			return r.store.SaveTasks(ctx, e.Run, records)
		})

	case events.TaskLaunchedEvent:
		return r.write(ctx, func(ctx context.Context) error {
			return r.store.MarkTaskLaunched(ctx, e.Run, e.ID, e.Seq, e.Timestamp)
		})

	case events.TaskCompletedEvent:
		return r.write(ctx, func(ctx context.Context) error {
			return r.store.MarkTaskCompleted(ctx, e.Run, e.ID, e.Timestamp)
		})

	case events.RunRejectedEvent:
		return r.write(ctx, func(ctx context.Context) error {
			return r.store.FinishRun(ctx, e.Run, RunRejected, e.Reason, e.Timestamp)
		})

	case events.RunFinishedEvent:
		return r.write(ctx, func(ctx context.Context) error {
			return r.store.FinishRun(ctx, e.Run, RunFinished, "", e.Timestamp)
		})

	case events.TaskReadyEvent, events.TaskOutputEvent, events.ProgressEvent:
		return nil

	default:
		return fmt.Errorf("unhandled event type %q", ev.EventType())
	}
}
