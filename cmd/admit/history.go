package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/admit/internal/persistence"
)

func (a *app) historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [RUN-ID]",
		Short: "List journaled runs, or the tasks of one run",
		Args:  args(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, ids []string) error {
			path := a.settings.Journal.Path
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("no journal at %s", path)
			}
			store, err := persistence.NewSQLiteStore(cmd.Context(), path)
			if err != nil {
				return fmt.Errorf("opening journal %s: %w", path, err)
			}
			defer store.Close()

			if len(ids) == 0 {
				return a.listRuns(cmd.Context(), store, limit)
			}
			return a.showRun(cmd.Context(), store, ids[0])
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")

	return cmd
}

func (a *app) listRuns(ctx context.Context, store persistence.Store, limit int) error {
	runs, err := store.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(a.stdout, "no runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tNAME\tSTATUS\tSTARTED\tDURATION\tCAPACITY")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Name, r.Status, r.StartedAt.Local().Format(time.DateTime), runDuration(r), r.Capacity)
	}
	return w.Flush()
}

func (a *app) showRun(ctx context.Context, store persistence.Store, id string) error {
	run, err := store.GetRun(ctx, id)
	if errors.Is(err, persistence.ErrNotFound) {
		return fmt.Errorf("run %s not found", id)
	}
	if err != nil {
		return err
	}
	tasks, err := store.ListRunTasks(ctx, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.stdout, "run %s %s: %s", run.ID, run.Name, run.Status)
	if d := runDuration(run); d != "-" {
		fmt.Fprintf(a.stdout, " after %s", d)
	}
	fmt.Fprintf(a.stdout, "\ncapacity %s\n", run.Capacity)
	if run.Error != "" {
		fmt.Fprintf(a.stdout, "%s\n", run.Error)
	}
	fmt.Fprintln(a.stdout)

	w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tTASK\tSTATUS\tCPU\tMEMORY\tDISK\tPRIORITY\tAFTER\tTOOK")
	for _, t := range tasks {
		seq := "-"
		if t.LaunchSeq > 0 {
			seq = fmt.Sprint(t.LaunchSeq)
		}
		name := t.TaskID
		if t.Implicit {
			name += " (implicit)"
		}
		after := strings.Join(t.DependsOn, ",")
		if after == "" {
			after = "-"
		}
		took := "-"
		if !t.LaunchedAt.IsZero() && !t.CompletedAt.IsZero() {
			took = t.CompletedAt.Sub(t.LaunchedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			seq, name, t.Status, t.Demand.CPU, t.Demand.Memory, t.Demand.Disk, t.Priority, after, took)
	}
	return w.Flush()
}

func runDuration(r *persistence.Run) string {
	if r.FinishedAt.IsZero() {
		return "-"
	}
	return r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
}
