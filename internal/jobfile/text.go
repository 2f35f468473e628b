package jobfile

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aristath/admit/internal/scheduler"
)

// separators are replaced by spaces before a line is split into tokens.
var separators = strings.NewReplacer(",", " ", "(", " ", ")", " ", ":", " ")

// parseText reads the line format:
//
//	cpu, memory, disk [ignored...]
//	name(dep, dep): cpu, memory, disk, priority
//	name: cpu, memory, disk, priority
//
// Blank lines and lines starting with '#' are skipped.
func parseText(r io.Reader) (*Job, bool, error) {
	job := &Job{}
	hasCapacity := false

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(separators.Replace(line))

		if !hasCapacity {
			if len(fields) < 3 {
				return nil, false, fmt.Errorf("line %d: capacity must be \"cpu, memory, disk\", got %q", lineNo, line)
			}
			nums, err := parseInts(fields[:3])
			if err != nil {
				return nil, false, fmt.Errorf("line %d: capacity must be \"cpu, memory, disk\", got %q", lineNo, line)
			}
			job.Capacity = scheduler.Resources{CPU: nums[0], Memory: nums[1], Disk: nums[2]}
			hasCapacity = true
			continue
		}

		decl, err := parseTaskLine(fields)
		if err != nil {
			return nil, false, fmt.Errorf("line %d: %w", lineNo, err)
		}
		decl.Line = lineNo
		job.Tasks = append(job.Tasks, decl)
	}
	if err := scanner.Err(); err != nil {
		return nil, false, fmt.Errorf("reading job: %w", err)
	}

	return job, hasCapacity, nil
}

// parseTaskLine takes the tokens of one task line: the name, any
// dependencies, then exactly four integers.
func parseTaskLine(fields []string) (Decl, error) {
	if len(fields) < 5 {
		return Decl{}, fmt.Errorf("task line needs a name and cpu, memory, disk, priority; got %d fields", len(fields))
	}

	nums, err := parseInts(fields[len(fields)-4:])
	if err != nil {
		return Decl{}, fmt.Errorf("task %q: %w", fields[0], err)
	}

	var deps []string
	if len(fields) > 5 {
		deps = append(deps, fields[1:len(fields)-4]...)
	}

	return Decl{
		Name:      fields[0],
		CPU:       nums[0],
		Memory:    nums[1],
		Disk:      nums[2],
		Priority:  nums[3],
		DependsOn: deps,
	}, nil
}

func parseInts(fields []string) ([]int, error) {
	nums := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", f)
		}
		nums[i] = n
	}
	return nums, nil
}
