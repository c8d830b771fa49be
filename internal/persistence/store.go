// Package persistence keeps the run ledger: one row per task run, per level
// and per agent outcome, so finished and in-flight tasks can be inspected
// without reading the result store.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned when the ledger has no run with the given id.
var ErrRunNotFound = errors.New("run not found")

// Status is the ledger state of a run or level.
type Status string

const (
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusSkipped    Status = "SKIPPED"
)

// Run is one task run.
type Run struct {
	ID         string
	Repos      []string
	User       string
	Status     Status
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time // Zero while processing
}

// LevelRun is one level of a run.
type LevelRun struct {
	RunID      string
	Position   int
	Level      string
	Mode       string
	Status     Status
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// AgentRun is the terminal outcome of one agent invocation (or batch item).
type AgentRun struct {
	RunID     string
	Level     string
	Agent     string
	Index     int // -1 for singleton stages
	Status    string
	Error     string
	ErrorKind string
	Attempts  int
	Duration  time.Duration
}

// Store defines the ledger operations.
type Store interface {
	// Runs
	StartRun(ctx context.Context, run Run) error
	FinishRun(ctx context.Context, runID string, status Status, runErr string) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context) ([]*Run, error)

	// Levels
	StartLevel(ctx context.Context, level LevelRun) error
	FinishLevel(ctx context.Context, runID, level string, status Status, levelErr string) error
	ListLevels(ctx context.Context, runID string) ([]LevelRun, error)

	// Agent outcomes
	RecordAgent(ctx context.Context, rec AgentRun) error
	ListAgents(ctx context.Context, runID string) ([]AgentRun, error)

	// Lifecycle
	Close() error
}

// SQLiteStore implements Store using SQLite. Writes are serialized in-process;
// shared-cache databases report lock conflicts immediately instead of waiting.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore creates a new SQLite-backed ledger at the given path.
// Creates parent directories if needed. Enables WAL mode, foreign keys, and busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	// Create parent directories
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	// Note: modernc.org/sqlite doesn't support _foreign_keys in connection string
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	return open(ctx, connStr)
}

// NewMemoryStore creates an in-memory SQLite ledger for testing.
// Each store gets its own shared-cache database so connections of one store
// see the same data while separate stores stay isolated.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:ledger-%s?mode=memory&cache=shared", uuid.NewString())
	return open(ctx, connStr)
}

func open(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys via PRAGMA (required for modernc.org/sqlite)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Agents of a parallel level record outcomes concurrently
	db.SetMaxOpenConns(2)

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

// withTx runs fn in a serializable transaction (BEGIN IMMEDIATE).
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
