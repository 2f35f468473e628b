package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aristath/admit/internal/logging"
)

// Environment variables that override file settings.
const (
	EnvLogLevel    = "ADMIT_LOG_LEVEL"
	EnvJournalPath = "ADMIT_JOURNAL_PATH"
	EnvNATSURL     = "ADMIT_NATS_URL"
	EnvStatusAddr  = "ADMIT_STATUS_ADDR"
)

// Load reads and merges settings from global and project paths.
// Order of precedence (highest to lowest): project file, global file, defaults.
// Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*Settings, error) {
	cfg := DefaultSettings()

	if globalPath != "" {
		if err := mergeFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}
	if projectPath != "" {
		if err := mergeFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	return cfg, nil
}

// GlobalPath returns ~/.admit/config.json.
func GlobalPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(homeDir, ".admit", "config.json"), nil
}

// ProjectPath is the project settings file, relative to the working directory.
const ProjectPath = ".admit/config.json"

// LoadDefault loads settings from the conventional paths and applies the
// environment overrides.
func LoadDefault() (*Settings, error) {
	globalPath, err := GlobalPath()
	if err != nil {
		return nil, err
	}

	cfg, err := Load(globalPath, ProjectPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// mergeFile decodes a JSON file over base, so only the keys present in the
// file change. Missing files are skipped.
func mergeFile(base *Settings, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	if err := json.Unmarshal(data, base); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides settings from the environment. lookup is usually
// os.LookupEnv.
func (s *Settings) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvLogLevel); ok {
		s.Log.Level = v
	}
	if v, ok := lookup(EnvJournalPath); ok {
		s.Journal.Path = v
	}
	if v, ok := lookup(EnvNATSURL); ok {
		s.NATS.URL = v
	}
	if v, ok := lookup(EnvStatusAddr); ok {
		s.Status.Addr = v
	}
}

// Validate checks the settings for values the rest of the program cannot use.
func (s *Settings) Validate() error {
	var errs []error

	switch s.Executor.Type {
	case ExecutorSimulate, ExecutorCommand:
	default:
		errs = append(errs, fmt.Errorf("executor.type: unknown executor %q", s.Executor.Type))
	}
	if s.Executor.Type == ExecutorCommand && strings.TrimSpace(s.Executor.Shell) == "" {
		errs = append(errs, errors.New("executor.shell: required by the command executor"))
	}
	if s.Executor.Delay < 0 {
		errs = append(errs, errors.New("executor.delay: must not be negative"))
	}
	if s.Journal.Enabled && s.Journal.Path == "" {
		errs = append(errs, errors.New("journal.path: required when the journal is enabled"))
	}
	if _, err := logging.ParseLevel(s.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if s.Log.Format != "text" && s.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", s.Log.Format))
	}
	if s.Run.Parallel < 1 {
		errs = append(errs, errors.New("run.parallel: must be at least 1"))
	}

	return errors.Join(errs...)
}
