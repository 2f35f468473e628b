package scheduler

import "fmt"

// TaskStatus represents where a task is in its lifecycle.
type TaskStatus int

const (
	TaskPending   TaskStatus = iota // Waiting for dependencies
	TaskReady                       // All dependencies completed, waiting for resources
	TaskRunning                     // Launched, waiting for its completion callback
	TaskCompleted                   // Completion callback observed
)

func (s TaskStatus) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskReady:
		return "ready"
	case TaskRunning:
		return "running"
	case TaskCompleted:
		return "completed"
	default:
		return fmt.Sprintf("TaskStatus(%d)", int(s))
	}
}

// Resources is an amount of each schedulable resource dimension.
type Resources struct {
	CPU    int `json:"cpu"`
	Memory int `json:"memory"`
	Disk   int `json:"disk"`
}

// FitsIn reports whether r is no larger than other in every dimension.
func (r Resources) FitsIn(other Resources) bool {
	return r.CPU <= other.CPU && r.Memory <= other.Memory && r.Disk <= other.Disk
}

// Add returns the component-wise sum.
func (r Resources) Add(other Resources) Resources {
	return Resources{
		CPU:    r.CPU + other.CPU,
		Memory: r.Memory + other.Memory,
		Disk:   r.Disk + other.Disk,
	}
}

// Sub returns the component-wise difference.
func (r Resources) Sub(other Resources) Resources {
	return Resources{
		CPU:    r.CPU - other.CPU,
		Memory: r.Memory - other.Memory,
		Disk:   r.Disk - other.Disk,
	}
}

// Max returns the component-wise maximum.
func (r Resources) Max(other Resources) Resources {
	return Resources{
		CPU:    max(r.CPU, other.CPU),
		Memory: max(r.Memory, other.Memory),
		Disk:   max(r.Disk, other.Disk),
	}
}

// IsZero reports whether every dimension is zero.
func (r Resources) IsZero() bool {
	return r == Resources{}
}

// Negative reports whether any dimension is below zero.
func (r Resources) Negative() bool {
	return r.CPU < 0 || r.Memory < 0 || r.Disk < 0
}

func (r Resources) String() string {
	return fmt.Sprintf("cpu=%d memory=%d disk=%d", r.CPU, r.Memory, r.Disk)
}

// Task is an immutable unit of work.
//
// Task is comparable: two values are equal only if the ID, the demand and the
// priority all match, so a task redeclared with different resources is a
// different value even though it keeps its ID.
type Task struct {
	ID       string    // Unique identifier
	Demand   Resources // Resources held while running
	Priority int       // Lower value launches first among ready tasks
}

// NewTask creates a task from its identifier, demands and priority.
func NewTask(id string, cpu, memory, disk, priority int) Task {
	return Task{
		ID:       id,
		Demand:   Resources{CPU: cpu, Memory: memory, Disk: disk},
		Priority: priority,
	}
}

func (t Task) String() string {
	return fmt.Sprintf("%s(%s priority=%d)", t.ID, t.Demand, t.Priority)
}
