package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/admit/internal/events"
	"github.com/aristath/admit/internal/graph"
)

// Scheduler admits the tasks of a DAG under a fixed resource capacity and
// hands them to an executor. A Scheduler holds no per-run state and may run
// several DAGs, one after another or concurrently.
type Scheduler struct {
	factory ExecutorFactory
	logger  *slog.Logger
	bus     *events.EventBus
	runID   string
	name    string
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEventBus publishes run and task events to bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(s *Scheduler) { s.bus = bus }
}

// WithRunID fixes the run ID instead of generating a UUID per run.
func WithRunID(id string) Option {
	return func(s *Scheduler) { s.runID = id }
}

// WithName labels runs, usually with the job file they came from.
func WithName(name string) Option {
	return func(s *Scheduler) { s.name = name }
}

// New creates a Scheduler that obtains executors from factory.
func New(factory ExecutorFactory, opts ...Option) *Scheduler {
	s := &Scheduler{
		factory: factory,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Report summarises one run.
type Report struct {
	RunID           string
	Name            string
	Capacity        Resources
	Tasks           int
	LaunchOrder     []string
	CompletionOrder []string
	Peak            Resources // highest in-use amount per dimension
	StartedAt       time.Time
	FinishedAt      time.Time
}

// Duration returns how long the run took.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Run schedules every task of dag within total and blocks until all launched
// tasks have called back.
//
// If the DAG has a cycle or a task demands more than total in some dimension,
// Run calls Reject on an executor built with zero capacity and returns a
// *RejectionError without launching anything. An empty DAG finishes at once
// without creating an executor. The returned report is non-nil in both
// cases, so callers can still log the run ID.
func (s *Scheduler) Run(dag *DAG, total Resources) (*Report, error) {
	if total.Negative() {
		return nil, fmt.Errorf("%w: capacity %s", ErrInvalidDemand, total)
	}

	id := s.runID
	if id == "" {
		id = uuid.NewString()
	}
	report := &Report{
		RunID:     id,
		Name:      s.name,
		Capacity:  total,
		Tasks:     dag.Len(),
		StartedAt: time.Now(),
	}
	log := s.logger.With("run", id)

	s.bus.Emit(events.RunStartedEvent{
		Run:       id,
		Name:      s.name,
		Capacity:  events.Resources(total),
		Tasks:     taskInfos(dag),
		Timestamp: report.StartedAt,
	})
	log.Info("run started", "name", s.name, "tasks", dag.Len(), "capacity", total)

	if err := dag.Preflight(total); err != nil {
		s.factory.New(Resources{}).Reject()
		report.FinishedAt = time.Now()

		var rej *RejectionError
		kind := ""
		if errors.As(err, &rej) {
			kind = rej.Kind.String()
		}
		s.bus.Emit(events.RunRejectedEvent{
			Run:       id,
			Kind:      kind,
			Reason:    err.Error(),
			Timestamp: report.FinishedAt,
		})
		log.Warn("run rejected", "error", err)
		return report, err
	}

	if dag.Len() > 0 {
		r := &run{
			id:         id,
			dag:        dag,
			graph:      dag.Graph(),
			pool:       NewResourcePool(total),
			exec:       s.factory.New(total),
			status:     make(map[string]TaskStatus, dag.Len()),
			done:       make(chan string, dag.Len()),
			launchedAt: make(map[string]time.Time, dag.Len()),
			report:     report,
			bus:        s.bus,
			log:        log,
		}
		r.execute()
		report.Peak = r.pool.Peak()
	}

	report.FinishedAt = time.Now()
	s.bus.Emit(events.RunFinishedEvent{
		Run:       id,
		Completed: len(report.CompletionOrder),
		Peak:      events.Resources(report.Peak),
		Duration:  report.Duration(),
		Timestamp: report.FinishedAt,
	})
	log.Info("run finished", "tasks", report.Tasks, "peak", report.Peak, "duration", report.Duration())
	return report, nil
}

func taskInfos(dag *DAG) []events.TaskInfo {
	tasks := dag.Tasks()
	infos := make([]events.TaskInfo, len(tasks))
	for i, t := range tasks {
		deps, _ := dag.DependenciesOf(t.ID)
		infos[i] = events.TaskInfo{
			ID:        t.ID,
			Demand:    events.Resources(t.Demand),
			Priority:  t.Priority,
			Implicit:  dag.IsImplicit(t.ID),
			DependsOn: deps,
		}
	}
	return infos
}

// run is the state of one accepted run. Only the goroutine calling execute
// touches it; executors reach it solely through the done channel.
type run struct {
	id    string
	dag   *DAG
	graph *graph.Graph // tasks not yet completed
	pool  *ResourcePool
	exec  Executor

	status    map[string]TaskStatus
	ready     readyQueue
	running   int
	completed int
	launched  int

	done       chan string
	launchedAt map[string]time.Time

	report *Report
	bus    *events.EventBus
	log    *slog.Logger
}

func (r *run) execute() {
	total := r.dag.Len()
	for _, id := range r.graph.Nodes() {
		r.status[id] = TaskPending
	}
	for _, id := range r.graph.Sources() {
		r.markReady(id)
	}

	for {
		r.admit()
		if r.launched == total {
			break
		}
		if r.running == 0 {
			panic(fmt.Sprintf("scheduler: run %s stalled with %v ready and nothing running", r.id, r.ready.IDs()))
		}
		r.await()
	}

	for r.running > 0 {
		r.await()
	}

	if r.completed != total || r.pool.Available() != r.pool.Total() {
		panic(fmt.Sprintf("scheduler: run %s ended with %d/%d completed and %s available",
			r.id, r.completed, total, r.pool.Available()))
	}
}

func (r *run) markReady(id string) {
	task, _ := r.dag.Task(id)
	r.status[id] = TaskReady
	r.ready.Push(task)
	r.bus.Emit(events.TaskReadyEvent{Run: r.id, ID: id, Priority: task.Priority, Timestamp: time.Now()})
	r.log.Debug("task ready", "task", id, "priority", task.Priority)
}

// admit launches, in priority order, every ready task that fits the pool.
// A task that does not fit does not hold back the ones behind it.
func (r *run) admit() {
	taken := r.ready.Take(func(t Task) bool {
		if !r.pool.CanAcquire(t.Demand) {
			return false
		}
		r.pool.Acquire(t.Demand)
		return true
	})
	for _, task := range taken {
		r.launch(task)
	}
	if len(taken) > 0 {
		r.progress()
	}
}

func (r *run) launch(task Task) {
	r.status[task.ID] = TaskRunning
	r.running++
	r.launched++
	now := time.Now()
	r.launchedAt[task.ID] = now
	r.report.LaunchOrder = append(r.report.LaunchOrder, task.ID)

	r.bus.Emit(events.TaskLaunchedEvent{
		Run:       r.id,
		ID:        task.ID,
		Demand:    events.Resources(task.Demand),
		Seq:       r.launched,
		Timestamp: now,
	})
	r.log.Debug("launching task", "task", task.ID, "demand", task.Demand, "available", r.pool.Available())

	r.exec.Launch(task.ID, task.Demand, r.callback(task.ID))
}

// callback returns the completion function handed to the executor.
func (r *run) callback(id string) func() {
	var fired atomic.Bool
	return func() {
		if !fired.CompareAndSwap(false, true) {
			panic(fmt.Sprintf("scheduler: completion callback for task %q invoked twice", id))
		}
		r.done <- id
	}
}

// await blocks for one completion and releases what the task held.
func (r *run) await() {
	id := <-r.done
	if st := r.status[id]; st != TaskRunning {
		panic(fmt.Sprintf("scheduler: completion for task %q in state %s", id, st))
	}

	task, _ := r.dag.Task(id)
	r.pool.Release(task.Demand)
	r.status[id] = TaskCompleted
	r.running--
	r.completed++
	r.report.CompletionOrder = append(r.report.CompletionOrder, id)

	now := time.Now()
	r.bus.Emit(events.TaskCompletedEvent{
		Run:       r.id,
		ID:        id,
		Duration:  now.Sub(r.launchedAt[id]),
		Timestamp: now,
	})
	r.log.Debug("task completed", "task", id, "available", r.pool.Available())

	for _, next := range r.graph.RemoveNode(id) {
		if r.status[next] == TaskPending {
			r.markReady(next)
		}
	}
	r.progress()
}

func (r *run) progress() {
	if r.bus == nil {
		return
	}
	total := r.dag.Len()
	r.bus.Emit(events.ProgressEvent{
		Run:       r.id,
		Total:     total,
		Pending:   total - r.ready.Len() - r.running - r.completed,
		Ready:     r.ready.Len(),
		Running:   r.running,
		Completed: r.completed,
		Available: events.Resources(r.pool.Available()),
		Timestamp: time.Now(),
	})
}
