package persistence

import "context"

// initSchema creates all required tables if they don't exist.
// Dependency edges carry no foreign key: a batch persists its tasks in
// submission order, which may put an edge on disk before the row it
// points at.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		protocol TEXT NOT NULL,
		action TEXT NOT NULL,
		params TEXT,
		priority INTEGER NOT NULL DEFAULT 0,
		gate_sensitive INTEGER NOT NULL DEFAULT 0,
		status INTEGER NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		output TEXT,
		next_retry_at DATETIME,
		seq INTEGER NOT NULL,
		created_at DATETIME,
		queued_at DATETIME,
		started_at DATETIME,
		finished_at DATETIME,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_seq ON tasks(seq);

	CREATE TABLE IF NOT EXISTS task_dependencies (
		task_id TEXT NOT NULL,
		depends_on_id TEXT NOT NULL,
		PRIMARY KEY (task_id, depends_on_id)
	);

	CREATE INDEX IF NOT EXISTS idx_task_dependencies_task_id ON task_dependencies(task_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
