package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		repos TEXT NOT NULL,
		target_user TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		started_at DATETIME NOT NULL,
		finished_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS level_runs (
		run_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		level TEXT NOT NULL,
		mode TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		PRIMARY KEY (run_id, level),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS agent_runs (
		run_id TEXT NOT NULL,
		level TEXT NOT NULL,
		agent TEXT NOT NULL,
		item_index INTEGER NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		error_kind TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		recorded_at DATETIME NOT NULL,
		PRIMARY KEY (run_id, agent, item_index),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_agent_runs_run_level ON agent_runs(run_id, level);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
