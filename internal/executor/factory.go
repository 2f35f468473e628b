package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aristath/admit/internal/config"
	"github.com/aristath/admit/internal/events"
	"github.com/aristath/admit/internal/scheduler"
)

// Waiter is an executor whose outstanding work can be waited for.
type Waiter interface {
	scheduler.Executor
	Wait()
}

// Factory builds the executor configured in settings for each run.
type Factory struct {
	settings config.ExecutorSettings
	commands map[string]string
	bus      *events.EventBus
	procs    *ProcessManager
	ctx      context.Context
	runID    string
	logger   *slog.Logger

	mu        sync.Mutex
	executors []Waiter
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithRunID tags output events and command environments with the run ID.
// Pass the same ID to scheduler.WithRunID.
func WithRunID(id string) FactoryOption {
	return func(f *Factory) { f.runID = id }
}

// WithLogger sets the logger handed to executors.
func WithLogger(logger *slog.Logger) FactoryOption {
	return func(f *Factory) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithContext bounds the work of every executor built by the factory.
func WithContext(ctx context.Context) FactoryOption {
	return func(f *Factory) { f.ctx = ctx }
}

// NewFactory creates a factory for settings.Type. commands maps task IDs to
// shell commands and is only used by the command executor. bus and procs
// may be nil.
func NewFactory(settings config.ExecutorSettings, commands map[string]string, bus *events.EventBus, procs *ProcessManager, opts ...FactoryOption) (*Factory, error) {
	switch settings.Type {
	case config.ExecutorSimulate, config.ExecutorCommand:
	default:
		return nil, fmt.Errorf("unknown executor type %q", settings.Type)
	}
	if settings.Shell == "" {
		settings.Shell = config.DefaultShell
	}

	f := &Factory{
		settings: settings,
		commands: commands,
		bus:      bus,
		procs:    procs,
		ctx:      context.Background(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// New implements scheduler.ExecutorFactory.
func (f *Factory) New(capacity scheduler.Resources) scheduler.Executor {
	logger := f.logger.With("executor", f.settings.Type)
	if f.runID != "" {
		logger = logger.With("run", f.runID)
	}

	var exec Waiter
	switch f.settings.Type {
	case config.ExecutorCommand:
		exec = &CommandExecutor{
			ctx:      f.ctx,
			runID:    f.runID,
			shell:    f.settings.Shell,
			workDir:  f.settings.WorkDir,
			commands: f.commands,
			capacity: capacity,
			bus:      f.bus,
			procs:    f.procs,
			logger:   logger,
		}
	default:
		exec = NewSimulatedExecutor(f.ctx, capacity, time.Duration(f.settings.Delay), logger)
	}

	f.mu.Lock()
	f.executors = append(f.executors, exec)
	f.mu.Unlock()
	return exec
}

// Wait blocks until every executor built so far is idle.
func (f *Factory) Wait() {
	f.mu.Lock()
	executors := append([]Waiter(nil), f.executors...)
	f.mu.Unlock()
	for _, e := range executors {
		e.Wait()
	}
}
