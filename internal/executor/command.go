package executor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aristath/admit/internal/events"
	"github.com/aristath/admit/internal/scheduler"
)

// Output streams.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

const maxLineSize = 1 << 20

// CommandExecutor runs each task's shell command. A task is complete when
// its command exits, whatever the exit status; failures are only logged.
type CommandExecutor struct {
	ctx      context.Context
	runID    string
	shell    string
	workDir  string
	commands map[string]string
	capacity scheduler.Resources
	bus      *events.EventBus
	procs    *ProcessManager
	logger   *slog.Logger
	wg       sync.WaitGroup
}

func (e *CommandExecutor) Launch(taskID string, demand scheduler.Resources, onComplete func()) {
	command := strings.TrimSpace(e.commands[taskID])
	if command == "" {
		e.logger.Debug("task has no command", "task", taskID)
		onComplete()
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer onComplete()
		start := time.Now()
		if err := e.execute(taskID, demand, command); err != nil {
			e.logger.Warn("task command failed", "task", taskID, "error", err, "elapsed", time.Since(start))
			return
		}
		e.logger.Debug("task command finished", "task", taskID, "elapsed", time.Since(start))
	}()
}

func (e *CommandExecutor) Reject() {
	e.logger.Warn("executor received rejection", "capacity", e.capacity)
}

// Wait blocks until every started command has exited.
func (e *CommandExecutor) Wait() {
	e.wg.Wait()
}

// execute runs one command to completion. Both pipes are drained on their
// own goroutines before cmd.Wait, otherwise a chatty command can fill a
// pipe buffer and never exit.
func (e *CommandExecutor) execute(taskID string, demand scheduler.Resources, command string) error {
	cmd := newCommand(e.ctx, e.shell, command)
	cmd.Dir = e.workDir
	cmd.Env = append(os.Environ(),
		"ADMIT_RUN="+e.runID,
		"ADMIT_TASK="+taskID,
		"ADMIT_CPU="+strconv.Itoa(demand.CPU),
		"ADMIT_MEMORY="+strconv.Itoa(demand.Memory),
		"ADMIT_DISK="+strconv.Itoa(demand.Disk),
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start command: %w", err)
	}
	e.procs.Track(cmd)
	defer e.procs.Untrack(cmd)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.forward(taskID, StreamStdout, stdout)
	}()
	go func() {
		defer wg.Done()
		e.forward(taskID, StreamStderr, stderr)
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("command %q: %w", command, err)
	}
	return nil
}

// forward publishes r line by line as output events.
func (e *CommandExecutor) forward(taskID, stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		e.bus.Emit(events.TaskOutputEvent{
			Run:       e.runID,
			ID:        taskID,
			Stream:    stream,
			Line:      scanner.Text(),
			Timestamp: time.Now(),
		})
	}
	if err := scanner.Err(); err != nil {
		e.logger.Warn("dropping task output", "task", taskID, "stream", stream, "error", err)
		io.Copy(io.Discard, r)
	}
}
