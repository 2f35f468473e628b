package scheduler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aristath/admit/internal/graph"
)

// Construction errors.
var (
	ErrDuplicateTask = errors.New("duplicate task")
	ErrInvalidDemand = errors.New("invalid resource demand")
	ErrUnknownTask   = errors.New("unknown task")
)

// Rejection errors. A run fails with one of these before anything is launched.
var (
	ErrCyclicDependency = errors.New("cyclic dependency")
	ErrInfeasibleDemand = errors.New("infeasible resource demand")
)

// RejectionKind says why a run was refused.
type RejectionKind int

const (
	CyclicDependency RejectionKind = iota + 1
	InfeasibleResourceDemand
)

func (k RejectionKind) String() string {
	switch k {
	case CyclicDependency:
		return "cyclic dependency"
	case InfeasibleResourceDemand:
		return "infeasible resource demand"
	default:
		return fmt.Sprintf("RejectionKind(%d)", int(k))
	}
}

// RejectionError describes a run refused by the pre-flight checks.
type RejectionError struct {
	Kind     RejectionKind
	Tasks    []Task    // tasks whose demand exceeds Capacity (infeasible only)
	Cycle    []string  // one dependency cycle (cyclic only)
	Capacity Resources // total pool of the refused run
}

func (e *RejectionError) Error() string {
	switch e.Kind {
	case CyclicDependency:
		return fmt.Sprintf("run rejected: %v: %s", ErrCyclicDependency, graph.FormatCycle(e.Cycle))
	case InfeasibleResourceDemand:
		names := make([]string, len(e.Tasks))
		for i, t := range e.Tasks {
			names[i] = fmt.Sprintf("%s (%s)", t.ID, t.Demand)
		}
		return fmt.Sprintf("run rejected: %v: capacity %s cannot hold %s",
			ErrInfeasibleDemand, e.Capacity, strings.Join(names, ", "))
	default:
		return "run rejected"
	}
}

// Unwrap returns the sentinel matching Kind, for errors.Is.
func (e *RejectionError) Unwrap() error {
	switch e.Kind {
	case CyclicDependency:
		return ErrCyclicDependency
	case InfeasibleResourceDemand:
		return ErrInfeasibleDemand
	default:
		return nil
	}
}
