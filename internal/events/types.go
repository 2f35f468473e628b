package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	RunID() string
	TaskID() string
}

// Topic constants. Run and task carry lifecycle events; progress and output
// are high-volume and only of interest to live views.
const (
	TopicRun      = "run"
	TopicTask     = "task"
	TopicProgress = "progress"
	TopicOutput   = "output"
)

// Event type constants
const (
	EventTypeRunStarted    = "run.started"
	EventTypeRunRejected   = "run.rejected"
	EventTypeRunFinished   = "run.finished"
	EventTypeTaskReady     = "task.ready"
	EventTypeTaskLaunched  = "task.launched"
	EventTypeTaskCompleted = "task.completed"
	EventTypeTaskOutput    = "task.output"
	EventTypeProgress      = "run.progress"
)

// Resources is an amount of cpu, memory and disk as carried in events.
type Resources struct {
	CPU    int `json:"cpu"`
	Memory int `json:"memory"`
	Disk   int `json:"disk"`
}

// TaskInfo describes one task of a run as it was declared.
type TaskInfo struct {
	ID        string    `json:"id"`
	Demand    Resources `json:"demand"`
	Priority  int       `json:"priority"`
	Implicit  bool      `json:"implicit,omitempty"`
	DependsOn []string  `json:"depends_on,omitempty"`
}

// RunStartedEvent is published once per run, before the pre-flight checks.
type RunStartedEvent struct {
	Run       string     `json:"run"`
	Name      string     `json:"name"`
	Capacity  Resources  `json:"capacity"`
	Tasks     []TaskInfo `json:"tasks"`
	Timestamp time.Time  `json:"timestamp"`
}

func (e RunStartedEvent) EventType() string { return EventTypeRunStarted }
func (e RunStartedEvent) RunID() string     { return e.Run }
func (e RunStartedEvent) TaskID() string    { return "" }

// RunRejectedEvent is published when a run fails its pre-flight checks.
type RunRejectedEvent struct {
	Run       string    `json:"run"`
	Kind      string    `json:"kind"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

func (e RunRejectedEvent) EventType() string { return EventTypeRunRejected }
func (e RunRejectedEvent) RunID() string     { return e.Run }
func (e RunRejectedEvent) TaskID() string    { return "" }

// RunFinishedEvent is published when every task of an accepted run completed.
type RunFinishedEvent struct {
	Run       string        `json:"run"`
	Completed int           `json:"completed"`
	Peak      Resources     `json:"peak"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

func (e RunFinishedEvent) EventType() string { return EventTypeRunFinished }
func (e RunFinishedEvent) RunID() string     { return e.Run }
func (e RunFinishedEvent) TaskID() string    { return "" }

// TaskReadyEvent is published when all of a task's dependencies completed.
type TaskReadyEvent struct {
	Run       string    `json:"run"`
	ID        string    `json:"task"`
	Priority  int       `json:"priority"`
	Timestamp time.Time `json:"timestamp"`
}

func (e TaskReadyEvent) EventType() string { return EventTypeTaskReady }
func (e TaskReadyEvent) RunID() string     { return e.Run }
func (e TaskReadyEvent) TaskID() string    { return e.ID }

// TaskLaunchedEvent is published when a task is handed to the executor.
type TaskLaunchedEvent struct {
	Run       string    `json:"run"`
	ID        string    `json:"task"`
	Demand    Resources `json:"demand"`
	Seq       int       `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
}

func (e TaskLaunchedEvent) EventType() string { return EventTypeTaskLaunched }
func (e TaskLaunchedEvent) RunID() string     { return e.Run }
func (e TaskLaunchedEvent) TaskID() string    { return e.ID }

// TaskCompletedEvent is published when a task's completion callback is observed.
type TaskCompletedEvent struct {
	Run       string        `json:"run"`
	ID        string        `json:"task"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) RunID() string     { return e.Run }
func (e TaskCompletedEvent) TaskID() string    { return e.ID }

// TaskOutputEvent is published by executors for each line a task writes.
type TaskOutputEvent struct {
	Run       string    `json:"run"`
	ID        string    `json:"task"`
	Stream    string    `json:"stream"`
	Line      string    `json:"line"`
	Timestamp time.Time `json:"timestamp"`
}

func (e TaskOutputEvent) EventType() string { return EventTypeTaskOutput }
func (e TaskOutputEvent) RunID() string     { return e.Run }
func (e TaskOutputEvent) TaskID() string    { return e.ID }

// ProgressEvent is published whenever the scheduler's task sets change.
type ProgressEvent struct {
	Run       string    `json:"run"`
	Total     int       `json:"total"`
	Pending   int       `json:"pending"`
	Ready     int       `json:"ready"`
	Running   int       `json:"running"`
	Completed int       `json:"completed"`
	Available Resources `json:"available"`
	Timestamp time.Time `json:"timestamp"`
}

func (e ProgressEvent) EventType() string { return EventTypeProgress }
func (e ProgressEvent) RunID() string     { return e.Run }
func (e ProgressEvent) TaskID() string    { return "" }

// TopicOf returns the topic an event is published on.
func TopicOf(e Event) string {
	switch e.(type) {
	case ProgressEvent:
		return TopicProgress
	case TaskOutputEvent:
		return TopicOutput
	}
	if e.TaskID() != "" {
		return TopicTask
	}
	return TopicRun
}
