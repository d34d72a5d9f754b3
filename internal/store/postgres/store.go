// Package postgres persists tasks to PostgreSQL. It is the source of truth:
// the in-memory index is rebuilt from it on startup, and every status
// transition is written here before becoming externally visible.
package postgres

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/barkline/barkline/internal/dispatcher"
	"github.com/barkline/barkline/internal/domain"
	"github.com/barkline/barkline/internal/index"
	"github.com/barkline/barkline/internal/reconciler"
	"github.com/barkline/barkline/internal/service"
	"github.com/barkline/barkline/internal/trigger"
)

// Compile-time checks that Store satisfies every consumer interface.
var (
	_ index.Store      = (*Store)(nil)
	_ trigger.Store    = (*Store)(nil)
	_ dispatcher.Store = (*Store)(nil)
	_ service.Store    = (*Store)(nil)
	_ reconciler.Store = (*Store)(nil)
)

// Store implements the task store against PostgreSQL.
// All writes are synchronous: a returned nil error means the row is durable.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

// New creates a new PostgreSQL store with the given database connection.
// opTimeout bounds every store operation.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	return &Store{db: db, opTimeout: opTimeout}
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// Init creates the tasks table if it does not exist. Safe to call on an
// already-initialized database.
func (s *Store) Init(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInitSchema)
	return err
}

// Put inserts or replaces the task identified by task.JobID.
// Re-putting an existing id replaces every mutable column, so persisting a
// status transition is the same operation as persisting a new task.
func (s *Store) Put(ctx context.Context, task domain.Task) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	detail := sql.NullString{String: task.Detail, Valid: task.Detail != ""}
	_, err := s.db.ExecContext(ctx, queryPutTask,
		task.JobID,
		task.BarkKey,
		task.ScheduleTime,
		task.Content,
		string(task.Status),
		detail,
		task.CreatedAt,
	)
	return err
}

// GetAll returns every stored task in ascending schedule order.
// Rows that fail to scan are logged and skipped so one malformed record
// cannot block startup recovery.
func (s *Store) GetAll(ctx context.Context) ([]domain.Task, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryGetAllTasks)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Task
	for rows.Next() {
		var task domain.Task
		var status string
		var detail sql.NullString

		err := rows.Scan(
			&task.JobID,
			&task.BarkKey,
			&task.ScheduleTime,
			&task.Content,
			&status,
			&detail,
			&task.CreatedAt,
		)
		if err != nil {
			log.Printf("store: skipping malformed task row: %v", err)
			continue
		}
		task.Status = domain.TaskStatus(status)
		task.Detail = detail.String
		result = append(result, task)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Delete removes the task row. Returns domain.ErrTaskNotFound if no row
// matched, so callers can distinguish cancellation of an unknown job.
func (s *Store) Delete(ctx context.Context, jobID string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryDeleteTask, jobID)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}
