package jobfile

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/aristath/admit/internal/scheduler"
)

type hclCapacity struct {
	CPU    int `hcl:"cpu"`
	Memory int `hcl:"memory"`
	Disk   int `hcl:"disk"`
}

type hclTask struct {
	Name      string   `hcl:"name,label"`
	CPU       int      `hcl:"cpu,optional"`
	Memory    int      `hcl:"memory,optional"`
	Disk      int      `hcl:"disk,optional"`
	Priority  int      `hcl:"priority,optional"`
	DependsOn []string `hcl:"depends_on,optional"`
	Command   string   `hcl:"command,optional"`
}

type hclJob struct {
	Name     *string      `hcl:"name,optional"`
	Capacity *hclCapacity `hcl:"capacity,block"`
	Tasks    []*hclTask   `hcl:"task,block"`
}

func parseHCL(data []byte, filename string) (*Job, bool, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, false, fmt.Errorf("failed to parse HCL: %w", diags)
	}

	var doc hclJob
	diags = gohcl.DecodeBody(file.Body, nil, &doc)
	if diags.HasErrors() {
		return nil, false, fmt.Errorf("failed to decode HCL: %w", diags)
	}

	job := &Job{}
	if doc.Name != nil {
		job.Name = *doc.Name
	}
	if doc.Capacity != nil {
		job.Capacity = scheduler.Resources{
			CPU:    doc.Capacity.CPU,
			Memory: doc.Capacity.Memory,
			Disk:   doc.Capacity.Disk,
		}
	}

	for _, t := range doc.Tasks {
		job.Tasks = append(job.Tasks, Decl{
			Name:      t.Name,
			CPU:       t.CPU,
			Memory:    t.Memory,
			Disk:      t.Disk,
			Priority:  t.Priority,
			DependsOn: t.DependsOn,
			Command:   t.Command,
		})
	}

	return job, doc.Capacity != nil, nil
}
