package executor

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/admit/internal/config"
	"github.com/aristath/admit/internal/events"
	"github.com/aristath/admit/internal/logging"
	"github.com/aristath/admit/internal/scheduler"
)

func commandSettings() config.ExecutorSettings {
	return config.ExecutorSettings{Type: config.ExecutorCommand, Shell: config.DefaultShell}
}

func newCommandFactory(t *testing.T, commands map[string]string, bus *events.EventBus, pm *ProcessManager, opts ...FactoryOption) *Factory {
	t.Helper()
	opts = append([]FactoryOption{WithRunID("run-1"), WithLogger(logging.Discard())}, opts...)
	f, err := NewFactory(commandSettings(), commands, bus, pm, opts...)
	require.NoError(t, err)
	return f
}

// launch starts one task and returns a channel closed on completion.
func launch(e scheduler.Executor, id string, demand scheduler.Resources) <-chan struct{} {
	done := make(chan struct{})
	e.Launch(id, demand, func() { close(done) })
	return done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("task never completed")
	}
}

func drainOutput(ch <-chan events.Event) []events.TaskOutputEvent {
	var out []events.TaskOutputEvent
	for {
		select {
		case ev := <-ch:
			if o, ok := ev.(events.TaskOutputEvent); ok {
				out = append(out, o)
			}
		default:
			return out
		}
	}
}

func TestNewFactoryRejectsUnknownType(t *testing.T) {
	_, err := NewFactory(config.ExecutorSettings{Type: "docker"}, nil, nil, nil)
	assert.ErrorContains(t, err, `unknown executor type "docker"`)
}

func TestSimulatedExecutorDelay(t *testing.T) {
	e := NewSimulatedExecutor(context.Background(), scheduler.Resources{}, 20*time.Millisecond, logging.Discard())

	start := time.Now()
	waitDone(t, launch(e, "a", scheduler.Resources{}))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	e.Wait()
}

func TestSimulatedExecutorCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := NewSimulatedExecutor(ctx, scheduler.Resources{}, time.Hour, logging.Discard())

	done := launch(e, "a", scheduler.Resources{})
	cancel()
	waitDone(t, done)
	e.Wait()
}

func TestFactoryDrivesScheduler(t *testing.T) {
	f, err := NewFactory(config.ExecutorSettings{Type: config.ExecutorSimulate, Delay: config.Duration(time.Millisecond)},
		nil, nil, nil, WithLogger(logging.Discard()))
	require.NoError(t, err)

	dag := scheduler.NewDAG()
	require.NoError(t, dag.AddTask(scheduler.NewTask("a", 1, 1, 1, 0)))
	require.NoError(t, dag.AddTask(scheduler.NewTask("b", 1, 1, 1, 0), "a"))
	require.NoError(t, dag.AddTask(scheduler.NewTask("c", 1, 1, 1, 0), "a"))

	report, err := scheduler.New(f, scheduler.WithLogger(logging.Discard())).
		Run(dag, scheduler.Resources{CPU: 2, Memory: 2, Disk: 2})
	require.NoError(t, err)
	f.Wait()

	assert.Equal(t, "a", report.LaunchOrder[0])
	assert.ElementsMatch(t, []string{"a", "b", "c"}, report.CompletionOrder)
	assert.Equal(t, scheduler.Resources{CPU: 2, Memory: 2, Disk: 2}, report.Peak)
}

func TestCommandExecutorOutputAndEnvironment(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Close()
	ch := bus.Subscribe(64, events.TopicOutput)

	f := newCommandFactory(t, map[string]string{
		"build": `echo "task=$ADMIT_TASK run=$ADMIT_RUN cpu=$ADMIT_CPU mem=$ADMIT_MEMORY disk=$ADMIT_DISK"; echo oops >&2`,
	}, bus, NewProcessManager())

	e := f.New(scheduler.Resources{CPU: 4, Memory: 64, Disk: 8})
	waitDone(t, launch(e, "build", scheduler.Resources{CPU: 2, Memory: 32, Disk: 1}))
	f.Wait()

	out := drainOutput(ch)
	require.Len(t, out, 2)

	lines := map[string]string{}
	for _, o := range out {
		assert.Equal(t, "run-1", o.Run)
		assert.Equal(t, "build", o.ID)
		lines[o.Stream] = o.Line
	}
	assert.Equal(t, "task=build run=run-1 cpu=2 mem=32 disk=1", lines[StreamStdout])
	assert.Equal(t, "oops", lines[StreamStderr])
}

func TestCommandExecutorFailureStillCompletes(t *testing.T) {
	f := newCommandFactory(t, map[string]string{"bad": "exit 3"}, nil, nil)
	e := f.New(scheduler.Resources{})
	waitDone(t, launch(e, "bad", scheduler.Resources{}))
	f.Wait()
}

func TestCommandExecutorWithoutCommand(t *testing.T) {
	f := newCommandFactory(t, map[string]string{"blank": "   "}, nil, nil)
	e := f.New(scheduler.Resources{})

	var called atomic.Bool
	e.Launch("blank", scheduler.Resources{}, func() { called.Store(true) })
	assert.True(t, called.Load(), "tasks without a command complete inside Launch")

	e.Launch("undeclared", scheduler.Resources{}, func() {})
}

func TestCommandExecutorWorkDir(t *testing.T) {
	dir := t.TempDir()
	bus := events.NewEventBus()
	defer bus.Close()
	ch := bus.Subscribe(8, events.TopicOutput)

	settings := commandSettings()
	settings.WorkDir = dir
	f, err := NewFactory(settings, map[string]string{"where": "pwd -P"}, bus, nil, WithLogger(logging.Discard()))
	require.NoError(t, err)

	waitDone(t, launch(f.New(scheduler.Resources{}), "where", scheduler.Resources{}))
	f.Wait()

	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	out := drainOutput(ch)
	require.Len(t, out, 1)
	assert.Equal(t, want, out[0].Line)
}

func TestProcessManagerKillAll(t *testing.T) {
	pm := NewProcessManager()
	f := newCommandFactory(t, map[string]string{"slow": "sleep 30 & sleep 30; wait"}, nil, pm)

	done := launch(f.New(scheduler.Resources{}), "slow", scheduler.Resources{})
	require.Eventually(t, func() bool { return pm.Count() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, pm.KillAll())
	waitDone(t, done)
	f.Wait()
	assert.Zero(t, pm.Count())
}

func TestCommandExecutorContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pm := NewProcessManager()
	f := newCommandFactory(t, map[string]string{"slow": "sleep 30"}, nil, pm, WithContext(ctx))

	done := launch(f.New(scheduler.Resources{}), "slow", scheduler.Resources{})
	require.Eventually(t, func() bool { return pm.Count() == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	waitDone(t, done)
	f.Wait()
}

func TestNilProcessManager(t *testing.T) {
	var pm *ProcessManager
	assert.NoError(t, pm.KillAll())
	assert.Zero(t, pm.Count())
}
