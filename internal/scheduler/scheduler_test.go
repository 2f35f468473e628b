package scheduler

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/admit/internal/events"
)

const waitTimeout = 2 * time.Second

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type launchCall struct {
	ID     string
	Demand Resources
	done   func()
}

// manualExecutor hands every launch to the test, which decides when the task
// completes.
type manualExecutor struct {
	launches chan launchCall
	rejected atomic.Int32
}

func newManualExecutor() *manualExecutor {
	return &manualExecutor{launches: make(chan launchCall, 128)}
}

func (e *manualExecutor) Launch(id string, demand Resources, onComplete func()) {
	e.launches <- launchCall{ID: id, Demand: demand, done: onComplete}
}

func (e *manualExecutor) Reject() {
	e.rejected.Add(1)
}

func (e *manualExecutor) next(t *testing.T) launchCall {
	t.Helper()
	select {
	case l := <-e.launches:
		return l
	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting for a launch")
		return launchCall{}
	}
}

func (e *manualExecutor) expectIdle(t *testing.T) {
	t.Helper()
	select {
	case l := <-e.launches:
		t.Fatalf("unexpected launch of %q", l.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

// serial completes each launch as soon as it is seen, n times, and returns the
// launch order.
func (e *manualExecutor) serial(t *testing.T, n int) []string {
	t.Helper()
	var order []string
	for i := 0; i < n; i++ {
		l := e.next(t)
		order = append(order, l.ID)
		e.expectIdle(t)
		l.done()
	}
	return order
}

// recordingFactory returns the same executor for every run and remembers the
// capacities it was asked for.
type recordingFactory struct {
	mu         sync.Mutex
	capacities []Resources
	exec       Executor
}

func (f *recordingFactory) New(capacity Resources) Executor {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.capacities = append(f.capacities, capacity)
	return f.exec
}

func (f *recordingFactory) Capacities() []Resources {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Resources(nil), f.capacities...)
}

type runResult struct {
	report *Report
	err    error
}

func startRun(s *Scheduler, dag *DAG, total Resources) <-chan runResult {
	ch := make(chan runResult, 1)
	go func() {
		report, err := s.Run(dag, total)
		ch <- runResult{report, err}
	}()
	return ch
}

func waitRun(t *testing.T, ch <-chan runResult) runResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting for the run to finish")
		return runResult{}
	}
}

func mustDAG(t *testing.T, add func(d *DAG) error) *DAG {
	t.Helper()
	dag := NewDAG()
	require.NoError(t, add(dag))
	return dag
}

func TestRunSingleTask(t *testing.T) {
	exec := newManualExecutor()
	factory := &recordingFactory{exec: exec}
	s := New(factory, WithLogger(quietLogger()))

	dag := mustDAG(t, func(d *DAG) error {
		return d.AddTask(NewTask("main", 1, 1024, 2048, 0))
	})
	total := Resources{CPU: 1, Memory: 1024, Disk: 2048}

	done := startRun(s, dag, total)

	l := exec.next(t)
	assert.Equal(t, "main", l.ID)
	assert.Equal(t, Resources{CPU: 1, Memory: 1024, Disk: 2048}, l.Demand)
	l.done()

	res := waitRun(t, done)
	require.NoError(t, res.err)
	assert.Equal(t, []string{"main"}, res.report.LaunchOrder)
	assert.Equal(t, []string{"main"}, res.report.CompletionOrder)
	assert.Equal(t, total, res.report.Peak)
	assert.Equal(t, []Resources{total}, factory.Capacities())
	assert.Zero(t, exec.rejected.Load())
	exec.expectIdle(t)
}

func TestRunDependencyLaunchesAfterCompletion(t *testing.T) {
	exec := newManualExecutor()
	s := New(&recordingFactory{exec: exec}, WithLogger(quietLogger()))

	dag := mustDAG(t, func(d *DAG) error {
		if err := d.AddTask(NewTask("a", 0, 0, 0, 1)); err != nil {
			return err
		}
		return d.AddTask(NewTask("b", 1, 0, 0, 0), "a")
	})

	done := startRun(s, dag, Resources{CPU: 1, Memory: 1, Disk: 1})

	a := exec.next(t)
	require.Equal(t, "a", a.ID)
	// b has the better priority but must wait for a.
	exec.expectIdle(t)
	a.done()

	b := exec.next(t)
	assert.Equal(t, "b", b.ID)
	b.done()

	res := waitRun(t, done)
	require.NoError(t, res.err)
	assert.Equal(t, []string{"a", "b"}, res.report.LaunchOrder)
}

func TestRunAdmitsEverythingThatFitsAtOnce(t *testing.T) {
	exec := newManualExecutor()
	s := New(&recordingFactory{exec: exec}, WithLogger(quietLogger()))

	dag := NewDAG()
	for i := 0; i < 10; i++ {
		require.NoError(t, dag.AddTask(NewTask(fmt.Sprintf("t%d", i), 1, 1, 1, 0)))
	}

	done := startRun(s, dag, Resources{CPU: 10, Memory: 10, Disk: 10})

	// All ten must launch before anything completes.
	var launched []launchCall
	for i := 0; i < 10; i++ {
		launched = append(launched, exec.next(t))
	}
	for _, l := range launched {
		l.done()
	}

	res := waitRun(t, done)
	require.NoError(t, res.err)
	assert.ElementsMatch(t,
		[]string{"t0", "t1", "t2", "t3", "t4", "t5", "t6", "t7", "t8", "t9"},
		res.report.LaunchOrder)
	assert.Equal(t, Resources{CPU: 10, Memory: 10, Disk: 10}, res.report.Peak)
}

func TestRunPriorityWhenOnlyOneFits(t *testing.T) {
	exec := newManualExecutor()
	s := New(&recordingFactory{exec: exec}, WithLogger(quietLogger()))

	dag := mustDAG(t, func(d *DAG) error {
		if err := d.AddTask(NewTask("a", 1, 1, 1, 1)); err != nil {
			return err
		}
		return d.AddTask(NewTask("b", 1, 1, 1, 0))
	})

	done := startRun(s, dag, Resources{CPU: 1, Memory: 1, Disk: 1})
	order := exec.serial(t, 2)

	require.NoError(t, waitRun(t, done).err)
	assert.Equal(t, []string{"b", "a"}, order)
}

func TestRunOneByOneByPriority(t *testing.T) {
	exec := newManualExecutor()
	s := New(&recordingFactory{exec: exec}, WithLogger(quietLogger()))

	// Any two of these together exceed the pool in some dimension.
	dag := NewDAG()
	for _, task := range []Task{
		NewTask("d", 6, 4, 4, 4),
		NewTask("b", 5, 6, 5, 2),
		NewTask("e", 5, 5, 5, 5),
		NewTask("a", 6, 5, 5, 1),
		NewTask("c", 5, 5, 6, 3),
	} {
		require.NoError(t, dag.AddTask(task))
	}

	done := startRun(s, dag, Resources{CPU: 10, Memory: 10, Disk: 10})
	order := exec.serial(t, 5)

	require.NoError(t, waitRun(t, done).err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, order)
}

func TestRunPriorityWithDependencies(t *testing.T) {
	exec := newManualExecutor()
	s := New(&recordingFactory{exec: exec}, WithLogger(quietLogger()))

	dag := mustDAG(t, func(d *DAG) error {
		if err := d.AddTask(NewTask("main", 1, 1, 1, 0), "b", "c"); err != nil {
			return err
		}
		if err := d.AddTask(NewTask("b", 1, 0, 0, 1), "a"); err != nil {
			return err
		}
		return d.AddTask(NewTask("c", 1, 0, 0, 2), "a")
	})
	require.True(t, dag.IsImplicit("a"))

	done := startRun(s, dag, Resources{CPU: 1, Memory: 1, Disk: 1})
	order := exec.serial(t, 4)

	require.NoError(t, waitRun(t, done).err)
	assert.Equal(t, []string{"a", "b", "c", "main"}, order)
}

func TestRunGreedyAdmission(t *testing.T) {
	exec := newManualExecutor()
	s := New(&recordingFactory{exec: exec}, WithLogger(quietLogger()))

	dag := mustDAG(t, func(d *DAG) error {
		for _, task := range []Task{
			NewTask("a", 2, 0, 0, 0),
			NewTask("b", 2, 0, 0, 1),
			NewTask("c", 1, 0, 0, 2),
		} {
			if err := d.AddTask(task); err != nil {
				return err
			}
		}
		return nil
	})

	done := startRun(s, dag, Resources{CPU: 3})

	// b does not fit next to a, but c does and must not wait behind b.
	a := exec.next(t)
	c := exec.next(t)
	assert.Equal(t, "a", a.ID)
	assert.Equal(t, "c", c.ID)
	exec.expectIdle(t)

	c.done()
	exec.expectIdle(t)
	a.done()

	b := exec.next(t)
	assert.Equal(t, "b", b.ID)
	b.done()

	res := waitRun(t, done)
	require.NoError(t, res.err)
	assert.Equal(t, []string{"a", "c", "b"}, res.report.LaunchOrder)
	assert.Equal(t, []string{"c", "a", "b"}, res.report.CompletionOrder)
}

func TestRunPriorityOrderAmongIndependentTasks(t *testing.T) {
	exec := newManualExecutor()
	s := New(&recordingFactory{exec: exec}, WithLogger(quietLogger()))

	priorities := []int{7, -2, 3, 3, 0, 11, 5}
	dag := NewDAG()
	for i, p := range priorities {
		require.NoError(t, dag.AddTask(NewTask(fmt.Sprintf("t%d", i), 1, 1, 1, p)))
	}

	done := startRun(s, dag, Resources{CPU: 100, Memory: 100, Disk: 100})

	var launched []launchCall
	for range priorities {
		launched = append(launched, exec.next(t))
	}
	for _, l := range launched {
		l.done()
	}
	res := waitRun(t, done)
	require.NoError(t, res.err)

	// Equal priorities keep declaration order.
	assert.Equal(t, []string{"t1", "t4", "t2", "t3", "t6", "t0", "t5"}, res.report.LaunchOrder)
}

func TestRunRejection(t *testing.T) {
	tests := []struct {
		name    string
		build   func(d *DAG) error
		total   Resources
		wantErr error
	}{
		{
			name: "cycle",
			build: func(d *DAG) error {
				if err := d.AddTask(NewTask("a", 1, 1, 1, 0), "c"); err != nil {
					return err
				}
				if err := d.AddTask(NewTask("b", 1, 1, 1, 0), "a"); err != nil {
					return err
				}
				return d.AddTask(NewTask("c", 1, 1, 1, 0), "b")
			},
			total:   Resources{CPU: 10, Memory: 10, Disk: 10},
			wantErr: ErrCyclicDependency,
		},
		{
			name: "one task too large",
			build: func(d *DAG) error {
				if err := d.AddTask(NewTask("fits", 1, 1, 1, 0)); err != nil {
					return err
				}
				return d.AddTask(NewTask("huge", 1, 11, 1, 0))
			},
			total:   Resources{CPU: 10, Memory: 10, Disk: 10},
			wantErr: ErrInfeasibleDemand,
		},
		{
			name: "implicit task fits but dependent does not",
			build: func(d *DAG) error {
				return d.AddTask(NewTask("disk-heavy", 0, 0, 2, 0), "setup")
			},
			total:   Resources{CPU: 1, Memory: 1, Disk: 1},
			wantErr: ErrInfeasibleDemand,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := newManualExecutor()
			factory := &recordingFactory{exec: exec}
			s := New(factory, WithLogger(quietLogger()))

			report, err := s.Run(mustDAG(t, tt.build), tt.total)

			require.ErrorIs(t, err, tt.wantErr)
			var rej *RejectionError
			require.ErrorAs(t, err, &rej)
			require.NotNil(t, report)
			assert.Empty(t, report.LaunchOrder)
			assert.EqualValues(t, 1, exec.rejected.Load())
			assert.Equal(t, []Resources{{}}, factory.Capacities())
			assert.Empty(t, exec.launches)
		})
	}
}

func TestRunEmptyDAG(t *testing.T) {
	exec := newManualExecutor()
	factory := &recordingFactory{exec: exec}
	s := New(factory, WithLogger(quietLogger()))

	report, err := s.Run(NewDAG(), Resources{CPU: 1, Memory: 1, Disk: 1})

	require.NoError(t, err)
	assert.Empty(t, report.LaunchOrder)
	assert.Empty(t, factory.Capacities())
	assert.Zero(t, exec.rejected.Load())
}

func TestRunNegativeCapacity(t *testing.T) {
	factory := &recordingFactory{exec: newManualExecutor()}
	_, err := New(factory, WithLogger(quietLogger())).Run(NewDAG(), Resources{CPU: -1})
	assert.ErrorIs(t, err, ErrInvalidDemand)
	assert.Empty(t, factory.Capacities())
}

// syncExecutor completes every task before Launch returns.
type syncExecutor struct {
	calls int
}

func (e *syncExecutor) Launch(_ string, _ Resources, onComplete func()) {
	e.calls++
	onComplete()
}

func (e *syncExecutor) Reject() {}

func TestRunCallbackInsideLaunch(t *testing.T) {
	exec := &syncExecutor{}
	s := New(&recordingFactory{exec: exec}, WithLogger(quietLogger()))

	dag := NewDAG()
	prev := ""
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("step-%02d", i)
		var deps []string
		if prev != "" {
			deps = []string{prev}
		}
		require.NoError(t, dag.AddTask(NewTask(id, 1, 1, 1, 0), deps...))
		prev = id
	}

	report, err := s.Run(dag, Resources{CPU: 1, Memory: 1, Disk: 1})
	require.NoError(t, err)
	assert.Equal(t, 50, exec.calls)
	assert.Equal(t, report.LaunchOrder, report.CompletionOrder)
}

type doubleCallbackExecutor struct{}

func (doubleCallbackExecutor) Launch(_ string, _ Resources, onComplete func()) {
	onComplete()
	onComplete()
}

func (doubleCallbackExecutor) Reject() {}

func TestRunPanicsOnDoubleCompletion(t *testing.T) {
	s := New(&recordingFactory{exec: doubleCallbackExecutor{}}, WithLogger(quietLogger()))
	dag := mustDAG(t, func(d *DAG) error {
		return d.AddTask(NewTask("a", 0, 0, 0, 0))
	})

	assert.PanicsWithValue(t, `scheduler: completion callback for task "a" invoked twice`, func() {
		_, _ = s.Run(dag, Resources{})
	})
}

func TestRunIsRepeatable(t *testing.T) {
	exec := &syncExecutor{}
	s := New(&recordingFactory{exec: exec}, WithLogger(quietLogger()))
	dag := mustDAG(t, func(d *DAG) error {
		return d.AddTask(NewTask("b", 1, 0, 0, 0), "a")
	})

	first, err := s.Run(dag, Resources{CPU: 1})
	require.NoError(t, err)
	second, err := s.Run(dag, Resources{CPU: 1})
	require.NoError(t, err)

	assert.Equal(t, first.LaunchOrder, second.LaunchOrder)
	assert.NotEqual(t, first.RunID, second.RunID)
}

// asyncExecutor completes each launch on its own goroutine after a short
// random delay and checks the scheduling invariants as it goes.
type asyncExecutor struct {
	dag   *DAG
	total Resources

	mu        sync.Mutex
	rng       *rand.Rand
	inUse     Resources
	launched  map[string]int
	completed map[string]bool
	problems  []string
}

func newAsyncExecutor(dag *DAG, total Resources, seed uint64) *asyncExecutor {
	return &asyncExecutor{
		dag:       dag,
		total:     total,
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		launched:  make(map[string]int),
		completed: make(map[string]bool),
	}
}

func (e *asyncExecutor) Launch(id string, demand Resources, onComplete func()) {
	e.mu.Lock()
	e.launched[id]++
	if e.launched[id] > 1 {
		e.problems = append(e.problems, fmt.Sprintf("%s launched %d times", id, e.launched[id]))
	}
	deps, _ := e.dag.DependenciesOf(id)
	for _, dep := range deps {
		if !e.completed[dep] {
			e.problems = append(e.problems, fmt.Sprintf("%s launched before %s completed", id, dep))
		}
	}
	e.inUse = e.inUse.Add(demand)
	if !e.inUse.FitsIn(e.total) {
		e.problems = append(e.problems, fmt.Sprintf("in use %s exceeds %s", e.inUse, e.total))
	}
	delay := time.Duration(e.rng.IntN(300)) * time.Microsecond
	e.mu.Unlock()

	go func() {
		time.Sleep(delay)
		e.mu.Lock()
		e.inUse = e.inUse.Sub(demand)
		e.completed[id] = true
		e.mu.Unlock()
		onComplete()
	}()
}

func (e *asyncExecutor) Reject() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.problems = append(e.problems, "unexpected reject")
}

func randomDAG(t *testing.T, rng *rand.Rand, n int, total Resources) *DAG {
	t.Helper()
	dag := NewDAG()
	for i := 0; i < n; i++ {
		var deps []string
		for j := 0; j < i; j++ {
			if rng.IntN(5) == 0 {
				deps = append(deps, fmt.Sprintf("t%03d", j))
			}
		}
		if rng.IntN(10) == 0 {
			deps = append(deps, fmt.Sprintf("implicit%03d", i))
		}
		task := NewTask(fmt.Sprintf("t%03d", i),
			rng.IntN(total.CPU+1),
			rng.IntN(total.Memory+1),
			rng.IntN(total.Disk+1),
			rng.IntN(5))
		require.NoError(t, dag.AddTask(task, deps...))
	}
	return dag
}

func TestRunInvariantsUnderConcurrentCompletion(t *testing.T) {
	total := Resources{CPU: 8, Memory: 64, Disk: 16}

	for seed := uint64(1); seed <= 20; seed++ {
		t.Run(fmt.Sprintf("seed-%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewPCG(seed, 42))
			dag := randomDAG(t, rng, 40, total)
			exec := newAsyncExecutor(dag, total, seed)
			s := New(&recordingFactory{exec: exec}, WithLogger(quietLogger()))

			res := waitRun(t, startRun(s, dag, total))
			require.NoError(t, res.err)

			exec.mu.Lock()
			defer exec.mu.Unlock()
			assert.Empty(t, exec.problems)
			assert.Len(t, exec.launched, dag.Len())
			assert.Len(t, exec.completed, dag.Len())
			assert.Equal(t, Resources{}, exec.inUse)
			assert.Len(t, res.report.CompletionOrder, dag.Len())
			assert.True(t, res.report.Peak.FitsIn(total))
		})
	}
}

func TestRunPublishesEvents(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Close()
	all := bus.SubscribeAll(1024)

	s := New(&recordingFactory{exec: &syncExecutor{}},
		WithLogger(quietLogger()),
		WithEventBus(bus),
		WithRunID("run-1"),
		WithName("build.txt"),
	)
	dag := mustDAG(t, func(d *DAG) error {
		return d.AddTask(NewTask("b", 1, 2, 3, 0), "a")
	})

	report, err := s.Run(dag, Resources{CPU: 1, Memory: 2, Disk: 3})
	require.NoError(t, err)
	assert.Equal(t, "run-1", report.RunID)

	var got []events.Event
	for len(all) > 0 {
		got = append(got, <-all)
	}
	require.NotEmpty(t, got)

	started, ok := got[0].(events.RunStartedEvent)
	require.True(t, ok, "first event should be run.started, got %T", got[0])
	assert.Equal(t, "build.txt", started.Name)
	assert.Equal(t, []events.TaskInfo{
		{ID: "b", Demand: events.Resources{CPU: 1, Memory: 2, Disk: 3}, DependsOn: []string{"a"}},
		{ID: "a", Implicit: true},
	}, started.Tasks)

	finished, ok := got[len(got)-1].(events.RunFinishedEvent)
	require.True(t, ok, "last event should be run.finished, got %T", got[len(got)-1])
	assert.Equal(t, 2, finished.Completed)

	var launched []string
	for _, ev := range got {
		assert.Equal(t, "run-1", ev.RunID())
		if ev.EventType() == events.EventTypeTaskLaunched {
			launched = append(launched, ev.TaskID())
		}
	}
	assert.Equal(t, []string{"a", "b"}, launched)
}

func TestRunPublishesRejection(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Close()
	runCh := bus.Subscribe(16, events.TopicRun)

	s := New(&recordingFactory{exec: newManualExecutor()}, WithLogger(quietLogger()), WithEventBus(bus))
	dag := mustDAG(t, func(d *DAG) error {
		return d.AddTask(NewTask("a", 0, 0, 0, 0), "a")
	})

	_, err := s.Run(dag, Resources{})
	require.ErrorIs(t, err, ErrCyclicDependency)

	require.Len(t, runCh, 2)
	<-runCh
	rejected, ok := (<-runCh).(events.RunRejectedEvent)
	require.True(t, ok)
	assert.Equal(t, "cyclic dependency", rejected.Kind)
	assert.Contains(t, rejected.Reason, "a -> a")
}
