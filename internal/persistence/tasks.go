package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chainsched/chainsched/internal/scheduler"
)

// SaveTask upserts a task and its dependency edges. Idempotent: the
// scheduler calls it on every state change.
func (s *SQLiteStore) SaveTask(ctx context.Context, task *scheduler.Task) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var params []byte
	if task.Params != nil {
		params, err = json.Marshal(task.Params)
		if err != nil {
			return fmt.Errorf("encoding params for task %q: %w", task.ID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, protocol, action, params, priority, gate_sensitive,
			status, attempts, max_attempts, last_error, output, next_retry_at, seq,
			created_at, queued_at, started_at, finished_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			attempts = excluded.attempts,
			last_error = excluded.last_error,
			output = excluded.output,
			next_retry_at = excluded.next_retry_at,
			queued_at = excluded.queued_at,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			updated_at = CURRENT_TIMESTAMP
	`, task.ID, task.Protocol, task.Action, nullableString(string(params)),
		task.Priority, boolInt(task.GateSensitive), int(task.Status),
		task.Attempts, task.MaxAttempts, task.LastError, task.Output,
		nullableTime(task.NextRetryAt), task.Seq, nullableTime(task.CreatedAt),
		nullableTime(task.QueuedAt), nullableTime(task.StartedAt), nullableTime(task.FinishedAt))
	if err != nil {
		return fmt.Errorf("upserting task %q: %w", task.ID, err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM task_dependencies WHERE task_id = ?`, task.ID); err != nil {
		return fmt.Errorf("clearing dependencies for task %q: %w", task.ID, err)
	}
	for _, depID := range task.DependsOn {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO task_dependencies (task_id, depends_on_id) VALUES (?, ?)
		`, task.ID, depID); err != nil {
			return fmt.Errorf("inserting dependency %s -> %s: %w", task.ID, depID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// GetTask retrieves a task by id, including its dependencies.
func (s *SQLiteStore) GetTask(ctx context.Context, taskID string) (*scheduler.Task, error) {
	row := s.db.QueryRowContext(ctx, taskColumns+` FROM tasks WHERE id = ?`, taskID)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %q: %w", taskID, scheduler.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying task %q: %w", taskID, err)
	}
	if err := s.loadDependencies(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// ListTasks returns every persisted task in submission order. This is
// the recovery read: the scheduler's Restore consumes it at startup.
func (s *SQLiteStore) ListTasks(ctx context.Context) ([]*scheduler.Task, error) {
	rows, err := s.db.QueryContext(ctx, taskColumns+` FROM tasks ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*scheduler.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tasks: %w", err)
	}

	for _, task := range tasks {
		if err := s.loadDependencies(ctx, task); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

func (s *SQLiteStore) loadDependencies(ctx context.Context, task *scheduler.Task) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT depends_on_id FROM task_dependencies WHERE task_id = ?
	`, task.ID)
	if err != nil {
		return fmt.Errorf("querying dependencies for task %q: %w", task.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var depID string
		if err := rows.Scan(&depID); err != nil {
			return fmt.Errorf("scanning dependency: %w", err)
		}
		task.DependsOn = append(task.DependsOn, depID)
	}
	return rows.Err()
}

const taskColumns = `SELECT id, protocol, action, params, priority, gate_sensitive,
	status, attempts, max_attempts, last_error, output, next_retry_at, seq,
	created_at, queued_at, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*scheduler.Task, error) {
	task := &scheduler.Task{}
	var params, lastError, output sql.NullString
	var status int
	var gateSensitive int
	var nextRetryAt, createdAt, queuedAt, startedAt, finishedAt sql.NullTime

	err := row.Scan(&task.ID, &task.Protocol, &task.Action, &params, &task.Priority,
		&gateSensitive, &status, &task.Attempts, &task.MaxAttempts, &lastError,
		&output, &nextRetryAt, &task.Seq, &createdAt, &queuedAt, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	task.Status = scheduler.Status(status)
	task.GateSensitive = gateSensitive != 0
	task.LastError = lastError.String
	task.Output = output.String
	task.NextRetryAt = nextRetryAt.Time
	task.CreatedAt = createdAt.Time
	task.QueuedAt = queuedAt.Time
	task.StartedAt = startedAt.Time
	task.FinishedAt = finishedAt.Time

	if params.Valid && params.String != "" {
		if err := json.Unmarshal([]byte(params.String), &task.Params); err != nil {
			return nil, fmt.Errorf("decoding params for task %q: %w", task.ID, err)
		}
	}
	return task, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
