package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aristath/admit/internal/jobfile"
	"github.com/aristath/admit/internal/scheduler"
)

// planEntry is one task of a plan, in topological order.
type planEntry struct {
	Order      int                 `json:"order"`
	Task       string              `json:"task"`
	Demand     scheduler.Resources `json:"demand"`
	Priority   int                 `json:"priority"`
	Implicit   bool                `json:"implicit,omitempty"`
	DependsOn  []string            `json:"depends_on,omitempty"`
	Downstream int                 `json:"downstream"`
}

type plan struct {
	Job      string              `json:"job"`
	Capacity scheduler.Resources `json:"capacity"`
	Total    int                 `json:"total"`
	Accepted bool                `json:"accepted"`
	Reason   string              `json:"reason,omitempty"`
	Tasks    []planEntry         `json:"tasks,omitempty"`
}

func (a *app) planCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "plan FILE",
		Short: "Check a job file and show the order its tasks can run in",
		Args:  args(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, files []string) error {
			job, err := jobfile.Load(files[0])
			if err != nil {
				return err
			}
			p, err := buildPlan(job)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(p); err != nil {
					return err
				}
			} else {
				a.printPlan(p)
			}

			if !p.Accepted {
				return &ExitError{Code: exitRejected, Err: errors.New(p.Reason)}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the plan as JSON")

	return cmd
}

// buildPlan runs the pre-flight checks without executing anything.
func buildPlan(job *jobfile.Job) (*plan, error) {
	dag, err := job.DAG()
	if err != nil {
		return nil, err
	}

	p := &plan{Job: job.Name, Capacity: job.Capacity, Total: dag.Len(), Accepted: true}
	if err := dag.Preflight(job.Capacity); err != nil {
		var rej *scheduler.RejectionError
		if !errors.As(err, &rej) {
			return nil, err
		}
		p.Accepted = false
		p.Reason = err.Error()
		return p, nil
	}

	order, err := dag.Validate()
	if err != nil {
		return nil, err
	}
	for i, id := range order {
		task, _ := dag.Task(id)
		deps, _ := dag.DependenciesOf(id)
		p.Tasks = append(p.Tasks, planEntry{
			Order:      i + 1,
			Task:       id,
			Demand:     task.Demand,
			Priority:   task.Priority,
			Implicit:   dag.IsImplicit(id),
			DependsOn:  deps,
			Downstream: len(dag.Downstream(id)),
		})
	}
	return p, nil
}

func (a *app) printPlan(p *plan) {
	fmt.Fprintf(a.stdout, "job %s: %d tasks, capacity %s\n", p.Job, p.Total, p.Capacity)
	if !p.Accepted {
		fmt.Fprintf(a.stdout, "rejected: %s\n", p.Reason)
		return
	}
	if p.Total == 0 {
		fmt.Fprintln(a.stdout, "nothing to run")
		return
	}

	w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tTASK\tCPU\tMEMORY\tDISK\tPRIORITY\tAFTER\tDOWNSTREAM")
	for _, e := range p.Tasks {
		name := e.Task
		if e.Implicit {
			name += " (implicit)"
		}
		after := strings.Join(e.DependsOn, ",")
		if after == "" {
			after = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%d\t%s\t%d\n",
			e.Order, name, e.Demand.CPU, e.Demand.Memory, e.Demand.Disk, e.Priority, after, e.Downstream)
	}
	w.Flush()
}
