package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// StartRun inserts a run in PROCESSING state. Starting an existing run again
// (a resumed task) resets its status and keeps its level and agent history.
func (s *SQLiteStore) StartRun(ctx context.Context, run Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO runs (id, repos, target_user, status, error, started_at, finished_at)
			VALUES (?, ?, ?, ?, '', ?, NULL)
			ON CONFLICT(id) DO UPDATE SET
				repos = excluded.repos,
				target_user = excluded.target_user,
				status = excluded.status,
				error = '',
				started_at = excluded.started_at,
				finished_at = NULL
		`, run.ID, strings.Join(run.Repos, "\n"), run.User, StatusProcessing, run.StartedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to upsert run: %w", err)
		}
		return nil
	})
}

// FinishRun records the terminal status of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status Status, runErr string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?
		`, status, runErr, time.Now().UTC(), runID)
		if err != nil {
			return fmt.Errorf("failed to update run status: %w", err)
		}
		return requireRow(res, runID)
	})
}

// GetRun retrieves a run by id.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, repos, target_user, status, error, started_at, finished_at
		FROM runs
		WHERE id = ?
	`, runID)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	return run, nil
}

// ListRuns returns every run, most recent first.
func (s *SQLiteStore) ListRuns(ctx context.Context) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repos, target_user, status, error, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var repos string
	var finished sql.NullTime
	if err := row.Scan(&run.ID, &repos, &run.User, &run.Status, &run.Error, &run.StartedAt, &finished); err != nil {
		return nil, err
	}
	if repos != "" {
		run.Repos = strings.Split(repos, "\n")
	}
	if finished.Valid {
		run.FinishedAt = finished.Time
	}
	return &run, nil
}

// StartLevel records that a level passed its gate (or was skipped, when
// level.Status says so).
func (s *SQLiteStore) StartLevel(ctx context.Context, level LevelRun) error {
	if level.Status == "" {
		level.Status = StatusProcessing
	}
	if level.StartedAt.IsZero() {
		level.StartedAt = time.Now()
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO level_runs (run_id, position, level, mode, status, error, started_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, NULL)
			ON CONFLICT(run_id, level) DO UPDATE SET
				position = excluded.position,
				mode = excluded.mode,
				status = excluded.status,
				error = excluded.error,
				started_at = excluded.started_at,
				finished_at = NULL
		`, level.RunID, level.Position, level.Level, level.Mode, level.Status, level.Error, level.StartedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to upsert level %s: %w", level.Level, err)
		}
		return nil
	})
}

// FinishLevel records the terminal status of a level.
func (s *SQLiteStore) FinishLevel(ctx context.Context, runID, level string, status Status, levelErr string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE level_runs SET status = ?, error = ?, finished_at = ?
			WHERE run_id = ? AND level = ?
		`, status, levelErr, time.Now().UTC(), runID, level)
		if err != nil {
			return fmt.Errorf("failed to update level status: %w", err)
		}
		return requireRow(res, runID+"/"+level)
	})
}

// ListLevels returns the levels of a run in pipeline order.
func (s *SQLiteStore) ListLevels(ctx context.Context, runID string) ([]LevelRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, position, level, mode, status, error, started_at, finished_at
		FROM level_runs
		WHERE run_id = ?
		ORDER BY position ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query levels: %w", err)
	}
	defer rows.Close()

	levels := []LevelRun{}
	for rows.Next() {
		var l LevelRun
		var finished sql.NullTime
		if err := rows.Scan(&l.RunID, &l.Position, &l.Level, &l.Mode, &l.Status, &l.Error, &l.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan level: %w", err)
		}
		if finished.Valid {
			l.FinishedAt = finished.Time
		}
		levels = append(levels, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating levels: %w", err)
	}
	return levels, nil
}

// RecordAgent stores the terminal outcome of one invocation. A rerun of the
// same agent and index replaces the earlier outcome.
func (s *SQLiteStore) RecordAgent(ctx context.Context, rec AgentRun) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO agent_runs (run_id, level, agent, item_index, status, error, error_kind, attempts, duration_ms, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id, agent, item_index) DO UPDATE SET
				level = excluded.level,
				status = excluded.status,
				error = excluded.error,
				error_kind = excluded.error_kind,
				attempts = excluded.attempts,
				duration_ms = excluded.duration_ms,
				recorded_at = excluded.recorded_at
		`, rec.RunID, rec.Level, rec.Agent, rec.Index, rec.Status, rec.Error, rec.ErrorKind, rec.Attempts, rec.Duration.Milliseconds(), time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to record agent %s[%d]: %w", rec.Agent, rec.Index, err)
		}
		return nil
	})
}

// ListAgents returns the agent outcomes of a run ordered by agent and index.
func (s *SQLiteStore) ListAgents(ctx context.Context, runID string) ([]AgentRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, level, agent, item_index, status, error, error_kind, attempts, duration_ms
		FROM agent_runs
		WHERE run_id = ?
		ORDER BY agent ASC, item_index ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query agent outcomes: %w", err)
	}
	defer rows.Close()

	out := []AgentRun{}
	for rows.Next() {
		var a AgentRun
		var ms int64
		if err := rows.Scan(&a.RunID, &a.Level, &a.Agent, &a.Index, &a.Status, &a.Error, &a.ErrorKind, &a.Attempts, &ms); err != nil {
			return nil, fmt.Errorf("failed to scan agent outcome: %w", err)
		}
		a.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agent outcomes: %w", err)
	}
	return out, nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}
