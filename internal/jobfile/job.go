// Package jobfile loads job descriptions: the total capacity of a run and
// the tasks it schedules.
package jobfile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aristath/admit/internal/scheduler"
)

// Format is the syntax of a job file.
type Format string

const (
	FormatText Format = "text"
	FormatYAML Format = "yaml"
	FormatHCL  Format = "hcl"
)

// FormatFromPath picks the format from the file extension. Unknown
// extensions are read as text.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".hcl":
		return FormatHCL
	default:
		return FormatText
	}
}

// Decl is one declared task.
type Decl struct {
	Name      string
	CPU       int
	Memory    int
	Disk      int
	Priority  int
	DependsOn []string
	Command   string // empty for formats without commands
	Line      int    // 1-based source line, 0 when unknown
}

// Task returns the scheduler task for the declaration.
func (d Decl) Task() scheduler.Task {
	return scheduler.NewTask(d.Name, d.CPU, d.Memory, d.Disk, d.Priority)
}

// Job is a parsed job file.
type Job struct {
	Name     string
	Capacity scheduler.Resources
	Tasks    []Decl
}

// Commands maps task names to their commands, for tasks that have one.
func (j *Job) Commands() map[string]string {
	cmds := make(map[string]string)
	for _, d := range j.Tasks {
		if d.Command != "" {
			cmds[d.Name] = d.Command
		}
	}
	return cmds
}

// DAG builds the dependency graph. Dependencies that are never declared
// become implicit zero-demand tasks.
func (j *Job) DAG() (*scheduler.DAG, error) {
	dag := scheduler.NewDAG()
	for _, d := range j.Tasks {
		if err := dag.AddTask(d.Task(), d.DependsOn...); err != nil {
			return nil, d.errorf("%w", err)
		}
	}
	return dag, nil
}

func (d Decl) errorf(format string, args ...any) error {
	msg := fmt.Errorf(format, args...)
	if d.Line > 0 {
		return fmt.Errorf("line %d: %w", d.Line, msg)
	}
	return msg
}

// validate rejects negative numbers and duplicate names, and requires a
// capacity when tasks are declared.
func (j *Job) validate(hasCapacity bool) error {
	if j.Capacity.Negative() {
		return fmt.Errorf("capacity %s: %w", j.Capacity, scheduler.ErrInvalidDemand)
	}
	if len(j.Tasks) > 0 && !hasCapacity {
		return fmt.Errorf("job %q declares tasks but no capacity", j.Name)
	}

	seen := make(map[string]bool, len(j.Tasks))
	for _, d := range j.Tasks {
		if d.Name == "" {
			return d.errorf("task without a name")
		}
		if seen[d.Name] {
			return d.errorf("%w: %q", scheduler.ErrDuplicateTask, d.Name)
		}
		seen[d.Name] = true
		if d.CPU < 0 || d.Memory < 0 || d.Disk < 0 {
			return d.errorf("task %q: %w", d.Name, scheduler.ErrInvalidDemand)
		}
	}
	return nil
}

// Load reads a job file, choosing the format from its extension.
func Load(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading job file: %w", err)
	}

	job, err := Parse(data, FormatFromPath(path), path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return job, nil
}

// Parse decodes a job in the given format. filename names the job and is
// used in HCL diagnostics.
func Parse(data []byte, format Format, filename string) (*Job, error) {
	name := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	var (
		job         *Job
		hasCapacity bool
		err         error
	)
	switch format {
	case FormatText:
		job, hasCapacity, err = parseText(bytes.NewReader(data))
	case FormatYAML:
		job, hasCapacity, err = parseYAML(data)
	case FormatHCL:
		job, hasCapacity, err = parseHCL(data, filename)
	default:
		return nil, fmt.Errorf("unknown job format %q", format)
	}
	if err != nil {
		return nil, err
	}

	if job.Name == "" {
		job.Name = name
	}
	if err := job.validate(hasCapacity); err != nil {
		return nil, err
	}
	return job, nil
}
