package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aristath/admit/internal/scheduler"
)

// ErrNotFound is returned when a run or task is not in the journal.
var ErrNotFound = errors.New("not found")

// RunStatus is the outcome of a journaled run.
type RunStatus string

const (
	RunRunning  RunStatus = "running"
	RunFinished RunStatus = "finished"
	RunRejected RunStatus = "rejected"
)

// Run is one scheduler run as recorded in the journal.
type Run struct {
	ID         string
	Name       string
	Capacity   scheduler.Resources
	Status     RunStatus
	Error      string // rejection reason
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
}

// TaskRecord is one task of a journaled run.
type TaskRecord struct {
	RunID       string
	TaskID      string
	Demand      scheduler.Resources
	Priority    int
	Implicit    bool
	DependsOn   []string
	Status      scheduler.TaskStatus
	LaunchSeq   int       // 1-based launch order, 0 if never launched
	LaunchedAt  time.Time // zero if never launched
	CompletedAt time.Time // zero if not completed
}

// Store defines the run journal.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, runID string, status RunStatus, reason string, at time.Time) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)

	// Tasks
	SaveTasks(ctx context.Context, runID string, tasks []TaskRecord) error
	MarkTaskLaunched(ctx context.Context, runID, taskID string, seq int, at time.Time) error
	MarkTaskCompleted(ctx context.Context, runID, taskID string, at time.Time) error
	ListRunTasks(ctx context.Context, runID string) ([]*TaskRecord, error)

	// Lifecycle
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the journal at dbPath, creating parent
// directories if needed. WAL mode, foreign keys and a busy timeout are set on
// every connection.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)", dbPath)
	return open(ctx, connStr)
}

// NewMemoryStore creates an in-memory store for testing. Each store gets its
// own database, shared by the store's connections only.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:journal-%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	return open(ctx, connStr)
}

func open(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer plus one reader; an in-memory database disappears once its
	// last connection closes, so idle connections are kept.
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func toMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64)
}
