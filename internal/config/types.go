package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Executor types.
const (
	ExecutorSimulate = "simulate"
	ExecutorCommand  = "command"
)

// Duration is a time.Duration written as a Go duration string ("250ms").
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"250ms\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// ExecutorSettings selects and tunes the backend that runs launched tasks.
type ExecutorSettings struct {
	Type    string   `json:"type"`               // "simulate" or "command"
	Shell   string   `json:"shell,omitempty"`    // Shell used as `<shell> -c <command>`
	WorkDir string   `json:"work_dir,omitempty"` // Working directory for commands
	Delay   Duration `json:"delay"`              // Simulated task duration
}

// JournalSettings configures the SQLite run journal.
type JournalSettings struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LogSettings configures the process logger.
type LogSettings struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text or json
}

// StatusSettings configures the HTTP status server. An empty address
// disables it.
type StatusSettings struct {
	Addr string `json:"addr"`
}

// NATSSettings configures event forwarding. An empty URL disables it.
type NATSSettings struct {
	URL           string `json:"url"`
	SubjectPrefix string `json:"subject_prefix"`
}

// RunSettings configures `admit run`.
type RunSettings struct {
	Parallel int `json:"parallel"` // Job files scheduled at the same time
}

// Settings is the top-level configuration.
type Settings struct {
	Executor ExecutorSettings `json:"executor"`
	Journal  JournalSettings  `json:"journal"`
	Log      LogSettings      `json:"log"`
	Status   StatusSettings   `json:"status"`
	NATS     NATSSettings     `json:"nats"`
	Run      RunSettings      `json:"run"`
}
