package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/courier/internal/store"
)

// TaskKind names a periodic maintenance task.
type TaskKind string

const (
	// KeyPackageUpload replenishes the key packages published for this client.
	KeyPackageUpload TaskKind = "key_package_upload"
)

// KeyPackageUploadInterval is how far out a successful upload reschedules itself.
const KeyPackageUploadInterval = 7 * 24 * time.Hour

// TimedTask is one scheduled maintenance task.
type TimedTask struct {
	Kind  TaskKind  `json:"kind"`
	DueAt time.Time `json:"due_at"`
}

// EnsureTask schedules kind at dueAt unless it is already scheduled.
func EnsureTask(ctx context.Context, ex store.Executor, kind TaskKind, dueAt time.Time) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO timed_tasks (task_kind, due_at) VALUES (?, ?)
		ON CONFLICT(task_kind) DO NOTHING
	`, string(kind), store.Millis(dueAt))
	if err != nil {
		return fmt.Errorf("ensure task %s: %w", kind, err)
	}
	return nil
}

// SetDueDate (re)schedules kind at dueAt and drops any claim on it.
func SetDueDate(ctx context.Context, ex store.Executor, kind TaskKind, dueAt time.Time) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO timed_tasks (task_kind, due_at) VALUES (?, ?)
		ON CONFLICT(task_kind) DO UPDATE SET
			due_at = excluded.due_at,
			locked_by = NULL,
			locked_at = NULL
	`, string(kind), store.Millis(dueAt))
	if err != nil {
		return fmt.Errorf("set due date %s: %w", kind, err)
	}
	return nil
}

// ClaimTimedTask claims the task with the earliest passed due date.
// Returns nil if no task is due.
func ClaimTimedTask(ctx context.Context, ex store.Executor, c Claim) (*TimedTask, error) {
	var kind string
	var dueAt int64
	err := ex.QueryRowContext(ctx, `
		UPDATE timed_tasks SET locked_by = ?, locked_at = ?
		WHERE task_kind = (
			SELECT task_kind FROM timed_tasks
			WHERE due_at <= ?
			  AND (locked_by IS NULL OR (locked_by != ? AND locked_at < ?))
			ORDER BY due_at ASC
			LIMIT 1
		)
		RETURNING task_kind, due_at
	`, c.owner(), c.now(), c.now(), c.owner(), c.cutoff()).Scan(&kind, &dueAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim timed task: %w", err)
	}
	return &TimedTask{Kind: TaskKind(kind), DueAt: store.FromMillis(dueAt)}, nil
}

// ListTimedTasks returns every scheduled task ordered by due date.
func ListTimedTasks(ctx context.Context, ex store.Executor) ([]TimedTask, error) {
	rows, err := ex.QueryContext(ctx, `SELECT task_kind, due_at FROM timed_tasks ORDER BY due_at ASC, task_kind ASC`)
	if err != nil {
		return nil, fmt.Errorf("list timed tasks: %w", err)
	}
	defer rows.Close()

	var out []TimedTask
	for rows.Next() {
		var kind string
		var dueAt int64
		if err := rows.Scan(&kind, &dueAt); err != nil {
			return nil, fmt.Errorf("list timed tasks: %w", err)
		}
		out = append(out, TimedTask{Kind: TaskKind(kind), DueAt: store.FromMillis(dueAt)})
	}
	return out, rows.Err()
}
