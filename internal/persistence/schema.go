package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
// Timestamps are stored as Unix milliseconds.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		cpu INTEGER NOT NULL,
		memory INTEGER NOT NULL,
		disk INTEGER NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		finished_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

	CREATE TABLE IF NOT EXISTS run_tasks (
		run_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		cpu INTEGER NOT NULL,
		memory INTEGER NOT NULL,
		disk INTEGER NOT NULL,
		priority INTEGER NOT NULL,
		implicit INTEGER NOT NULL DEFAULT 0,
		status INTEGER NOT NULL,
		launch_seq INTEGER NOT NULL DEFAULT 0,
		launched_at INTEGER,
		completed_at INTEGER,
		PRIMARY KEY (run_id, task_id),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS run_dependencies (
		run_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		depends_on_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (run_id, task_id, depends_on_id),
		FOREIGN KEY (run_id, task_id) REFERENCES run_tasks(run_id, task_id) ON DELETE CASCADE,
		FOREIGN KEY (run_id, depends_on_id) REFERENCES run_tasks(run_id, task_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_run_dependencies_run ON run_dependencies(run_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
