package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/admit/internal/config"
	"github.com/aristath/admit/internal/events"
	"github.com/aristath/admit/internal/executor"
	"github.com/aristath/admit/internal/forward"
	"github.com/aristath/admit/internal/jobfile"
	"github.com/aristath/admit/internal/logging"
	"github.com/aristath/admit/internal/persistence"
	"github.com/aristath/admit/internal/scheduler"
	"github.com/aristath/admit/internal/status"
	"github.com/aristath/admit/internal/tui"
)

type runOptions struct {
	executor   string
	delay      time.Duration
	noJournal  bool
	tui        bool
	statusAddr string
	natsURL    string
	parallel   int
}

// jobResult is the outcome of one job file.
type jobResult struct {
	file   string
	job    *jobfile.Job
	report *scheduler.Report
	err    error
}

func (a *app) runCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run FILE...",
		Short: "Schedule and execute job files",
		Args:  args(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, files []string) error {
			a.applyRunFlags(cmd, opts)
			if err := a.settings.Validate(); err != nil {
				return usageError(fmt.Errorf("invalid settings:\n%w", err))
			}
			return a.runJobs(cmd.Context(), files, opts.tui)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.executor, "executor", "", "executor: simulate or command")
	flags.DurationVar(&opts.delay, "delay", 0, "duration of each simulated task")
	flags.BoolVar(&opts.noJournal, "no-journal", false, "do not record runs in the journal")
	flags.BoolVar(&opts.tui, "tui", false, "show a live terminal view")
	flags.StringVar(&opts.statusAddr, "status-addr", "", "serve run status over HTTP on this address")
	flags.StringVar(&opts.natsURL, "nats-url", "", "forward events to this NATS server")
	flags.IntVarP(&opts.parallel, "parallel", "p", 0, "job files scheduled at the same time")

	return cmd
}

func (a *app) applyRunFlags(cmd *cobra.Command, opts runOptions) {
	s := a.settings
	flags := cmd.Flags()
	if flags.Changed("executor") {
		s.Executor.Type = opts.executor
	}
	if flags.Changed("delay") {
		s.Executor.Delay = config.Duration(opts.delay)
	}
	if opts.noJournal {
		s.Journal.Enabled = false
	}
	if flags.Changed("status-addr") {
		s.Status.Addr = opts.statusAddr
	}
	if flags.Changed("nats-url") {
		s.NATS.URL = opts.natsURL
	}
	if flags.Changed("parallel") {
		s.Run.Parallel = opts.parallel
	}
}

// loadJobs parses every file before anything runs, so a typo in the last
// file does not leave the first ones half done.
func loadJobs(files []string) ([]jobResult, error) {
	results := make([]jobResult, len(files))
	var errs []error
	for i, file := range files {
		job, err := jobfile.Load(file)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results[i] = jobResult{file: file, job: job}
	}
	return results, errors.Join(errs...)
}

func (a *app) runJobs(ctx context.Context, files []string, withTUI bool) error {
	results, err := loadJobs(files)
	if err != nil {
		return err
	}

	logger := logging.FromContext(ctx)
	// Cancelled on a signal or when the terminal view is closed early.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if withTUI {
		// The terminal belongs to the TUI.
		logger = logging.Discard()
	}

	bus := events.NewEventBus()
	defer bus.Close()
	procs := executor.NewProcessManager()
	stopKill := context.AfterFunc(ctx, func() {
		logger.Warn("run cancelled, killing task processes")
		if err := procs.KillAll(); err != nil {
			logger.Error("killing task processes", "error", err)
		}
	})
	defer stopKill()

	var cleanups []func()
	defer func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}()

	// Subscribers must exist before the first run starts publishing.
	var (
		store    *persistence.SQLiteStore
		recorder *persistence.Recorder
		fwd      *forward.Forwarder
		nc       *nats.Conn
	)
	if a.settings.Journal.Enabled {
		store, err = openJournal(ctx, a.settings.Journal.Path)
		if err != nil {
			return err
		}
		cleanups = append(cleanups, func() { store.Close() })
		recorder = persistence.NewRecorder(store, bus, logger, persistence.DefaultRetryConfig())
		recorder.Start(context.WithoutCancel(ctx))
	}

	if addr := a.settings.Status.Addr; addr != "" {
		tracker := status.NewTracker(0)
		tracker.Start(context.WithoutCancel(ctx), bus)
		srv, err := status.Listen(addr, tracker, logger)
		if err != nil {
			return fmt.Errorf("status server: %w", err)
		}
		go func() {
			if err := srv.Serve(); err != nil {
				logger.Error("status server stopped", "error", err)
			}
		}()
		cleanups = append(cleanups, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		})
	}

	if url := a.settings.NATS.URL; url != "" {
		nc, err = forward.Connect(url, logger)
		if err != nil {
			return err
		}
		cleanups = append(cleanups, func() { nc.Drain() })
		fwd = forward.New(nc, a.settings.NATS.SubjectPrefix, logger)
		fwd.Start(context.WithoutCancel(ctx), bus)
	}

	var (
		program *tea.Program
		tuiDone chan error
	)
	if withTUI {
		program = a.newProgram(ctx, tui.New(bus))
		tuiDone = make(chan error, 1)
		go func() {
			_, err := program.Run()
			// Quitting the view before the runs finish abandons them.
			cancel()
			tuiDone <- err
		}()
	}

	g := new(errgroup.Group)
	g.SetLimit(a.settings.Run.Parallel)
	for i := range results {
		res := &results[i]
		g.Go(func() error {
			res.report, res.err = a.runJob(ctx, res.job, bus, procs, logger)
			return nil
		})
	}
	g.Wait()

	summaryErr := summarize(results)
	if program != nil {
		program.Send(tui.DoneMsg{Err: summaryErr})
		if err := <-tuiDone; err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			logger.Error("terminal view failed", "error", err)
		}
	}

	bus.Close()
	if recorder != nil {
		recorder.Wait()
		if n := recorder.Failures(); n > 0 {
			logger.Warn("journal is incomplete", "failed_writes", n)
		}
	}
	if fwd != nil {
		fwd.Wait()
	}
	if n := bus.Dropped(); n > 0 {
		logger.Warn("live views missed events", "dropped", n)
	}

	a.printResults(results)
	return summaryErr
}

func (a *app) newProgram(ctx context.Context, m tea.Model) *tea.Program {
	if a.programOptions != nil {
		return tea.NewProgram(m, append([]tea.ProgramOption{tea.WithContext(ctx)}, a.programOptions...)...)
	}
	return tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
}

// runJob schedules one job under its own run ID and waits until its
// executor is idle.
func (a *app) runJob(ctx context.Context, job *jobfile.Job, bus *events.EventBus, procs *executor.ProcessManager, logger *slog.Logger) (*scheduler.Report, error) {
	dag, err := job.DAG()
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	factory, err := executor.NewFactory(a.settings.Executor, job.Commands(), bus, procs,
		executor.WithRunID(runID),
		executor.WithLogger(logger.With("job", job.Name)),
		executor.WithContext(ctx),
	)
	if err != nil {
		return nil, err
	}

	s := scheduler.New(factory,
		scheduler.WithLogger(logger),
		scheduler.WithEventBus(bus),
		scheduler.WithRunID(runID),
		scheduler.WithName(job.Name),
	)
	report, err := s.Run(dag, job.Capacity)
	factory.Wait()
	return report, err
}

// summarize turns per-job outcomes into the command's error: rejections
// take precedence so the exit code says the input was refused.
func summarize(results []jobResult) error {
	var rejected, failed int
	var errs []error
	for _, r := range results {
		if r.err == nil {
			continue
		}
		var rej *scheduler.RejectionError
		if errors.As(r.err, &rej) {
			rejected++
		} else {
			failed++
			errs = append(errs, fmt.Errorf("%s: %w", r.file, r.err))
		}
	}

	switch {
	case failed > 0:
		return errors.Join(errs...)
	case rejected > 0:
		return &ExitError{Code: exitRejected, Err: fmt.Errorf("%d of %d runs rejected", rejected, len(results))}
	}
	return nil
}

func (a *app) printResults(results []jobResult) {
	for _, r := range results {
		name := r.job.Name
		if r.report == nil {
			fmt.Fprintf(a.stdout, "%s: failed: %v\n", name, r.err)
			continue
		}
		rep := r.report
		if r.err != nil {
			fmt.Fprintf(a.stdout, "run %s %s: rejected: %v\n", rep.RunID, name, r.err)
			continue
		}
		fmt.Fprintf(a.stdout, "run %s %s: finished %d tasks in %v (peak %s)\n",
			rep.RunID, name, rep.Tasks, rep.Duration().Round(time.Millisecond), rep.Peak)
		if len(rep.LaunchOrder) > 0 {
			fmt.Fprintf(a.stdout, "  launch order: %s\n", strings.Join(rep.LaunchOrder, ", "))
		}
	}
}

func openJournal(ctx context.Context, path string) (*persistence.SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}
	store, err := persistence.NewSQLiteStore(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("opening journal %s: %w", path, err)
	}
	return store, nil
}
