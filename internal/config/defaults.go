package config

import "time"

// Default values.
const (
	DefaultShell         = "/bin/sh"
	DefaultDelay         = 100 * time.Millisecond
	DefaultJournalPath   = ".admit/journal.db"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
	DefaultSubjectPrefix = "admit"
	DefaultParallel      = 1
)

// DefaultSettings returns the built-in settings: simulated execution, the
// journal enabled and no network listeners.
func DefaultSettings() *Settings {
	return &Settings{
		Executor: ExecutorSettings{
			Type:  ExecutorSimulate,
			Shell: DefaultShell,
			Delay: Duration(DefaultDelay),
		},
		Journal: JournalSettings{
			Enabled: true,
			Path:    DefaultJournalPath,
		},
		Log: LogSettings{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		NATS: NATSSettings{
			SubjectPrefix: DefaultSubjectPrefix,
		},
		Run: RunSettings{
			Parallel: DefaultParallel,
		},
	}
}
