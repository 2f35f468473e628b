package status

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/aristath/admit/internal/events"
	"github.com/aristath/admit/internal/scheduler"
)

// Run states as reported by the tracker.
const (
	RunRunning  = "running"
	RunFinished = "finished"
	RunRejected = "rejected"
)

// DefaultOutputLines is how many output lines are kept per task.
const DefaultOutputLines = 50

// TaskView is the live state of one task.
type TaskView struct {
	ID          string           `json:"id"`
	Status      string           `json:"status"`
	Demand      events.Resources `json:"demand"`
	Priority    int              `json:"priority"`
	Implicit    bool             `json:"implicit,omitempty"`
	DependsOn   []string         `json:"depends_on,omitempty"`
	LaunchSeq   int              `json:"launch_seq,omitempty"`
	LaunchedAt  *time.Time       `json:"launched_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Output      []string         `json:"output,omitempty"`
}

// RunSummary is the list view of a run.
type RunSummary struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Status     string           `json:"status"`
	Reason     string           `json:"reason,omitempty"`
	Capacity   events.Resources `json:"capacity"`
	Available  events.Resources `json:"available"`
	Peak       events.Resources `json:"peak"`
	Total      int              `json:"total"`
	Pending    int              `json:"pending"`
	Ready      int              `json:"ready"`
	Running    int              `json:"running"`
	Completed  int              `json:"completed"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

// RunView is a run with its tasks in declaration order.
type RunView struct {
	RunSummary
	Tasks []TaskView `json:"tasks"`
}

type runState struct {
	view  RunView
	index map[string]int
}

// Tracker folds bus events into a snapshot of every run seen so far.
// It is safe for concurrent use.
type Tracker struct {
	mu          sync.RWMutex
	runs        map[string]*runState
	order       []string
	outputLines int
}

// NewTracker creates an empty tracker keeping outputLines lines of output
// per task (DefaultOutputLines if not positive).
func NewTracker(outputLines int) *Tracker {
	if outputLines <= 0 {
		outputLines = DefaultOutputLines
	}
	return &Tracker{
		runs:        make(map[string]*runState),
		outputLines: outputLines,
	}
}

// Start applies every event of bus until ctx is done or the bus is closed.
// It returns once subscribed. After ctx is done the subscription is still
// drained, but nothing more is applied.
func (t *Tracker) Start(ctx context.Context, bus *events.EventBus) {
	ch := bus.SubscribeReliable()
	go func() {
		for ev := range ch {
			if ctx.Err() == nil {
				t.Apply(ev)
			}
		}
	}()
}

// Apply updates the snapshot with one event. Events of unknown runs, other
// than RunStartedEvent, are ignored.
func (t *Tracker) Apply(ev events.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := ev.(events.RunStartedEvent); ok {
		t.start(e)
		return
	}

	rs, ok := t.runs[ev.RunID()]
	if !ok {
		return
	}
	run := &rs.view

	switch e := ev.(type) {
	case events.RunRejectedEvent:
		run.Status = RunRejected
		run.Reason = e.Reason
		run.FinishedAt = timePtr(e.Timestamp)

	case events.RunFinishedEvent:
		run.Status = RunFinished
		run.Peak = e.Peak
		run.FinishedAt = timePtr(e.Timestamp)

	case events.ProgressEvent:
		run.Total = e.Total
		run.Pending = e.Pending
		run.Ready = e.Ready
		run.Running = e.Running
		run.Completed = e.Completed
		run.Available = e.Available

	case events.TaskReadyEvent:
		if task := rs.task(e.ID); task != nil {
			task.Status = scheduler.TaskReady.String()
		}

	case events.TaskLaunchedEvent:
		if task := rs.task(e.ID); task != nil {
			task.Status = scheduler.TaskRunning.String()
			task.LaunchSeq = e.Seq
			task.LaunchedAt = timePtr(e.Timestamp)
		}

	case events.TaskCompletedEvent:
		if task := rs.task(e.ID); task != nil {
			task.Status = scheduler.TaskCompleted.String()
			task.CompletedAt = timePtr(e.Timestamp)
		}

	case events.TaskOutputEvent:
		if task := rs.task(e.ID); task != nil {
			task.Output = append(task.Output, e.Line)
			if n := len(task.Output); n > t.outputLines {
				task.Output = slices.Clone(task.Output[n-t.outputLines:])
			}
		}
	}
}

func (t *Tracker) start(e events.RunStartedEvent) {
	rs := &runState{
		view: RunView{
			RunSummary: RunSummary{
				ID:        e.Run,
				Name:      e.Name,
				Status:    RunRunning,
				Capacity:  e.Capacity,
				Available: e.Capacity,
				Total:     len(e.Tasks),
				Pending:   len(e.Tasks),
				StartedAt: e.Timestamp,
			},
			Tasks: make([]TaskView, len(e.Tasks)),
		},
		index: make(map[string]int, len(e.Tasks)),
	}
	for i, info := range e.Tasks {
		rs.view.Tasks[i] = TaskView{
			ID:        info.ID,
			Status:    scheduler.TaskPending.String(),
			Demand:    info.Demand,
			Priority:  info.Priority,
			Implicit:  info.Implicit,
			DependsOn: info.DependsOn,
		}
		rs.index[info.ID] = i
	}

	if _, exists := t.runs[e.Run]; !exists {
		t.order = append(t.order, e.Run)
	}
	t.runs[e.Run] = rs
}

func (rs *runState) task(id string) *TaskView {
	i, ok := rs.index[id]
	if !ok {
		return nil
	}
	return &rs.view.Tasks[i]
}

// Runs returns a summary of every run, most recently started first.
func (t *Tracker) Runs() []RunSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]RunSummary, 0, len(t.order))
	for i := len(t.order) - 1; i >= 0; i-- {
		out = append(out, t.runs[t.order[i]].view.RunSummary)
	}
	return out
}

// Run returns a copy of one run.
func (t *Tracker) Run(id string) (RunView, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rs, ok := t.runs[id]
	if !ok {
		return RunView{}, false
	}
	view := rs.view
	view.Tasks = make([]TaskView, len(rs.view.Tasks))
	for i, task := range rs.view.Tasks {
		task.Output = slices.Clone(task.Output)
		view.Tasks[i] = task
	}
	return view, true
}

func timePtr(t time.Time) *time.Time {
	return &t
}
