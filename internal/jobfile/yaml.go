package jobfile

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/aristath/admit/internal/scheduler"
)

type yamlCapacity struct {
	CPU    int `yaml:"cpu"`
	Memory int `yaml:"memory"`
	Disk   int `yaml:"disk"`
}

type yamlTask struct {
	Name      string   `yaml:"name"`
	CPU       int      `yaml:"cpu"`
	Memory    int      `yaml:"memory"`
	Disk      int      `yaml:"disk"`
	Priority  int      `yaml:"priority"`
	DependsOn []string `yaml:"depends_on"`
	Command   string   `yaml:"command"`
}

type yamlJob struct {
	Name     string        `yaml:"name"`
	Capacity *yamlCapacity `yaml:"capacity"`
	Tasks    []yaml.Node   `yaml:"tasks"`
}

func parseYAML(data []byte) (*Job, bool, error) {
	var doc yamlJob
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, false, fmt.Errorf("failed to parse job: %w", err)
	}

	job := &Job{Name: doc.Name}
	if doc.Capacity != nil {
		job.Capacity = scheduler.Resources{
			CPU:    doc.Capacity.CPU,
			Memory: doc.Capacity.Memory,
			Disk:   doc.Capacity.Disk,
		}
	}

	for i := range doc.Tasks {
		node := &doc.Tasks[i]
		var t yamlTask
		if err := node.Decode(&t); err != nil {
			return nil, false, fmt.Errorf("line %d: %w", node.Line, err)
		}
		job.Tasks = append(job.Tasks, Decl{
			Name:      t.Name,
			CPU:       t.CPU,
			Memory:    t.Memory,
			Disk:      t.Disk,
			Priority:  t.Priority,
			DependsOn: t.DependsOn,
			Command:   t.Command,
			Line:      node.Line,
		})
	}

	return job, doc.Capacity != nil, nil
}
