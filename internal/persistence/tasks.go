package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/admit/internal/scheduler"
)

// SaveTasks stores the tasks of a run and their dependencies in one
// transaction. Task order is preserved by ListRunTasks.
func (s *SQLiteStore) SaveTasks(ctx context.Context, runID string, tasks []TaskRecord) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, t := range tasks {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_tasks (run_id, task_id, position, cpu, memory, disk, priority, implicit, status,
				launch_seq, launched_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, runID, t.TaskID, i, t.Demand.CPU, t.Demand.Memory, t.Demand.Disk, t.Priority, t.Implicit,
			int(t.Status), t.LaunchSeq, toMillis(t.LaunchedAt), toMillis(t.CompletedAt))
		if err != nil {
			return fmt.Errorf("failed to insert task %s: %w", t.TaskID, err)
		}
	}

	// Dependencies go in after every task so the foreign keys resolve.
	for _, t := range tasks {
		for pos, depID := range t.DependsOn {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO run_dependencies (run_id, task_id, depends_on_id, position)
				VALUES (?, ?, ?, ?)
			`, runID, t.TaskID, depID, pos)
			if err != nil {
				return fmt.Errorf("failed to insert dependency %s -> %s: %w", t.TaskID, depID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// MarkTaskLaunched records the launch of a task.
func (s *SQLiteStore) MarkTaskLaunched(ctx context.Context, runID, taskID string, seq int, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE run_tasks SET status = ?, launch_seq = ?, launched_at = ?
		WHERE run_id = ? AND task_id = ?
	`, int(scheduler.TaskRunning), seq, toMillis(at), runID, taskID)
	if err != nil {
		return fmt.Errorf("failed to mark task %s launched: %w", taskID, err)
	}
	return expectOne(res, "task "+taskID)
}

// MarkTaskCompleted records the completion of a task.
func (s *SQLiteStore) MarkTaskCompleted(ctx context.Context, runID, taskID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE run_tasks SET status = ?, completed_at = ?
		WHERE run_id = ? AND task_id = ?
	`, int(scheduler.TaskCompleted), toMillis(at), runID, taskID)
	if err != nil {
		return fmt.Errorf("failed to mark task %s completed: %w", taskID, err)
	}
	return expectOne(res, "task "+taskID)
}

// ListRunTasks returns the tasks of a run in the order they were saved.
func (s *SQLiteStore) ListRunTasks(ctx context.Context, runID string) ([]*TaskRecord, error) {
	// Dependencies are read first so no query is open while tasks are scanned.
	deps, err := s.runDependencies(ctx, runID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, cpu, memory, disk, priority, implicit, status, launch_seq, launched_at, completed_at
		FROM run_tasks
		WHERE run_id = ?
		ORDER BY position
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*TaskRecord
	for rows.Next() {
		t := &TaskRecord{RunID: runID}
		var (
			status              int
			launched, completed sql.NullInt64
		)
		if err := rows.Scan(&t.TaskID, &t.Demand.CPU, &t.Demand.Memory, &t.Demand.Disk, &t.Priority,
			&t.Implicit, &status, &t.LaunchSeq, &launched, &completed); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		t.Status = scheduler.TaskStatus(status)
		t.LaunchedAt = fromMillis(launched)
		t.CompletedAt = fromMillis(completed)
		t.DependsOn = deps[t.TaskID]
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

func (s *SQLiteStore) runDependencies(ctx context.Context, runID string) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, depends_on_id FROM run_dependencies
		WHERE run_id = ?
		ORDER BY task_id, position
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	deps := make(map[string][]string)
	for rows.Next() {
		var taskID, depID string
		if err := rows.Scan(&taskID, &depID); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		deps[taskID] = append(deps[taskID], depID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependencies: %w", err)
	}
	return deps, nil
}
