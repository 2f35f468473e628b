package scheduler

import (
	"errors"
	"fmt"

	"github.com/aristath/admit/internal/graph"
)

// DAG is the dependency graph of a job: one node per task and one edge from
// every dependency to its dependent.
//
// A dependency that is referenced but never declared is synthesised as an
// implicit task with zero demand and priority 0. Declaring it later replaces
// the implicit value. Building a DAG never rejects cycles; call Validate or
// Preflight for that.
type DAG struct {
	tasks    map[string]Task
	implicit map[string]bool
	deps     map[string][]string // declared dependencies per task
	graph    *graph.Graph
}

// NewDAG creates an empty DAG.
func NewDAG() *DAG {
	return &DAG{
		tasks:    make(map[string]Task),
		implicit: make(map[string]bool),
		deps:     make(map[string][]string),
		graph:    graph.New(),
	}
}

// AddTask declares a task and the IDs of the tasks it depends on.
// Returns ErrDuplicateTask if the ID was already declared and ErrInvalidDemand
// if any demand is negative.
func (d *DAG) AddTask(task Task, dependsOn ...string) error {
	if task.ID == "" {
		return errors.New("task ID must not be empty")
	}
	if task.Demand.Negative() {
		return fmt.Errorf("task %q: %w: %s", task.ID, ErrInvalidDemand, task.Demand)
	}
	if _, exists := d.tasks[task.ID]; exists && !d.implicit[task.ID] {
		return fmt.Errorf("%w: %q", ErrDuplicateTask, task.ID)
	}
	for _, depID := range dependsOn {
		if depID == "" {
			return fmt.Errorf("task %q: dependency ID must not be empty", task.ID)
		}
	}

	d.tasks[task.ID] = task
	delete(d.implicit, task.ID)
	d.graph.AddNode(task.ID)

	for _, depID := range dependsOn {
		if _, exists := d.tasks[depID]; !exists {
			d.tasks[depID] = Task{ID: depID}
			d.implicit[depID] = true
			d.graph.AddNode(depID)
		}
		if d.graph.HasEdge(depID, task.ID) {
			continue
		}
		if err := d.graph.AddEdge(depID, task.ID); err != nil {
			return fmt.Errorf("task %q: %w", task.ID, err)
		}
		d.deps[task.ID] = append(d.deps[task.ID], depID)
	}

	return nil
}

// Len returns the number of tasks, implicit ones included.
func (d *DAG) Len() int {
	return len(d.tasks)
}

// Tasks returns all tasks in the order they first appeared.
func (d *DAG) Tasks() []Task {
	ids := d.graph.Nodes()
	tasks := make([]Task, len(ids))
	for i, id := range ids {
		tasks[i] = d.tasks[id]
	}
	return tasks
}

// Task returns a task by ID.
func (d *DAG) Task(id string) (Task, bool) {
	task, ok := d.tasks[id]
	return task, ok
}

// IsImplicit reports whether id was only ever referenced as a dependency.
func (d *DAG) IsImplicit(id string) bool {
	return d.implicit[id]
}

// DependenciesOf returns the IDs id depends on, in declaration order.
func (d *DAG) DependenciesOf(id string) ([]string, error) {
	if _, ok := d.tasks[id]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTask, id)
	}
	return append([]string(nil), d.deps[id]...), nil
}

// DependentsOf returns the IDs that depend directly on id.
func (d *DAG) DependentsOf(id string) ([]string, error) {
	if _, ok := d.tasks[id]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTask, id)
	}
	return d.graph.Successors(id), nil
}

// Downstream returns every task that transitively depends on id.
func (d *DAG) Downstream(id string) []string {
	return d.graph.Reachable(id)
}

// Graph returns a copy of the dependency graph. The scheduler consumes the
// copy, so a DAG can be validated and run more than once.
func (d *DAG) Graph() *graph.Graph {
	return d.graph.Clone()
}

// Validate returns a topological order of the task IDs, or a *RejectionError
// of kind CyclicDependency.
func (d *DAG) Validate() ([]string, error) {
	order, err := d.graph.TopologicalOrder()
	if err != nil {
		if errors.Is(err, graph.ErrCycle) {
			return nil, &RejectionError{Kind: CyclicDependency, Cycle: d.graph.FindCycle()}
		}
		return nil, err
	}
	return order, nil
}

// Infeasible returns the tasks whose demand exceeds total in some dimension.
func (d *DAG) Infeasible(total Resources) []Task {
	var out []Task
	for _, task := range d.Tasks() {
		if !task.Demand.FitsIn(total) {
			out = append(out, task)
		}
	}
	return out
}

// Preflight runs the static checks a run must pass before anything launches:
// the graph must be acyclic and every task must fit the total capacity.
func (d *DAG) Preflight(total Resources) error {
	if cycle := d.graph.FindCycle(); cycle != nil {
		return &RejectionError{Kind: CyclicDependency, Cycle: cycle, Capacity: total}
	}
	if tasks := d.Infeasible(total); len(tasks) > 0 {
		return &RejectionError{Kind: InfeasibleResourceDemand, Tasks: tasks, Capacity: total}
	}
	return nil
}
