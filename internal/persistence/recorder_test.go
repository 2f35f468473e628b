package persistence

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/admit/internal/events"
	"github.com/aristath/admit/internal/logging"
	"github.com/aristath/admit/internal/scheduler"
)

type instantExecutor struct{}

func (instantExecutor) Launch(_ string, _ scheduler.Resources, onComplete func()) { onComplete() }
func (instantExecutor) Reject()                                                  {}

func newFactory() scheduler.ExecutorFactory {
	return scheduler.ExecutorFactoryFunc(func(scheduler.Resources) scheduler.Executor {
		return instantExecutor{}
	})
}

func TestRecorderJournalsAcceptedRun(t *testing.T) {
	store := testStore(t)
	bus := events.NewEventBus()
	rec := NewRecorder(store, bus, logging.Discard(), fastRetry())
	rec.Start(context.Background())

	dag := scheduler.NewDAG()
	require.NoError(t, dag.AddTask(scheduler.NewTask("compile", 2, 256, 10, 0), "fetch"))
	require.NoError(t, dag.AddTask(scheduler.NewTask("test", 1, 128, 0, 1), "compile"))

	s := scheduler.New(newFactory(),
		scheduler.WithLogger(logging.Discard()),
		scheduler.WithEventBus(bus),
		scheduler.WithRunID("run-ok"),
		scheduler.WithName("build"),
	)
	_, err := s.Run(dag, scheduler.Resources{CPU: 2, Memory: 256, Disk: 10})
	require.NoError(t, err)

	bus.Close()
	rec.Wait()
	assert.Zero(t, rec.Failures())

	ctx := context.Background()
	run, err := store.GetRun(ctx, "run-ok")
	require.NoError(t, err)
	assert.Equal(t, "build", run.Name)
	assert.Equal(t, RunFinished, run.Status)
	assert.False(t, run.FinishedAt.IsZero())

	tasks, err := store.ListRunTasks(ctx, "run-ok")
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	bySeq := make(map[int]string)
	for _, task := range tasks {
		assert.Equal(t, scheduler.TaskCompleted, task.Status, task.TaskID)
		bySeq[task.LaunchSeq] = task.TaskID
	}
	assert.Equal(t, map[int]string{1: "fetch", 2: "compile", 3: "test"}, bySeq)
	assert.True(t, tasks[1].Implicit, "fetch is implicit")
	assert.Equal(t, []string{"fetch"}, tasks[0].DependsOn)
}

func TestRecorderJournalsRejection(t *testing.T) {
	store := testStore(t)
	bus := events.NewEventBus()
	rec := NewRecorder(store, bus, logging.Discard(), fastRetry())
	rec.Start(context.Background())

	dag := scheduler.NewDAG()
	require.NoError(t, dag.AddTask(scheduler.NewTask("huge", 64, 0, 0, 0)))

	s := scheduler.New(newFactory(),
		scheduler.WithLogger(logging.Discard()),
		scheduler.WithEventBus(bus),
		scheduler.WithRunID("run-rejected"),
	)
	_, err := s.Run(dag, scheduler.Resources{CPU: 8})
	require.ErrorIs(t, err, scheduler.ErrInfeasibleDemand)

	bus.Close()
	rec.Wait()

	run, err := store.GetRun(context.Background(), "run-rejected")
	require.NoError(t, err)
	assert.Equal(t, RunRejected, run.Status)
	assert.Contains(t, run.Error, "huge")
}

func TestRecorderCountsFailures(t *testing.T) {
	store := testStore(t)
	bus := events.NewEventBus()
	rec := NewRecorder(store, bus, logging.Discard(), fastRetry())
	rec.Start(context.Background())

	// A completion for a run the journal never saw cannot be written.
	bus.Emit(events.TaskCompletedEvent{Run: "ghost", ID: "a", Timestamp: time.Now()})
	bus.Close()
	rec.Wait()

	assert.EqualValues(t, 1, rec.Failures())
}

func TestRecorderJournalsLargeRun(t *testing.T) {
	store := testStore(t)
	bus := events.NewEventBus()
	rec := NewRecorder(store, bus, logging.Discard(), fastRetry())
	rec.Start(context.Background())

	const n = 5000
	dag := scheduler.NewDAG()
	for i := 0; i < n; i++ {
		require.NoError(t, dag.AddTask(scheduler.NewTask(fmt.Sprintf("t%04d", i), 1, 1, 1, 0)))
	}
	s := scheduler.New(newFactory(),
		scheduler.WithLogger(logging.Discard()),
		scheduler.WithEventBus(bus),
		scheduler.WithRunID("run-large"),
	)
	_, err := s.Run(dag, scheduler.Resources{CPU: 1, Memory: 1, Disk: 1})
	require.NoError(t, err)

	bus.Close()
	rec.Wait()
	assert.Zero(t, rec.Failures())

	ctx := context.Background()
	run, err := store.GetRun(ctx, "run-large")
	require.NoError(t, err)
	assert.Equal(t, RunFinished, run.Status)

	tasks, err := store.ListRunTasks(ctx, "run-large")
	require.NoError(t, err)
	require.Len(t, tasks, n)
	for _, task := range tasks {
		if task.Status != scheduler.TaskCompleted {
			t.Fatalf("task %s journaled as %s", task.TaskID, task.Status)
		}
	}
}
