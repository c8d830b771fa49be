// Package graph is the commit-history graph: authors, commits and the files
// they touched, ingested from repository history and queried by the
// evaluation stages. It is stored in SQLite inside the task's working
// directory.
package graph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/alsksssass/deepagent/internal/repo"
)

// ErrCommitNotFound is returned when the graph has no commit with the given hash.
var ErrCommitNotFound = errors.New("commit not found")

// ingestBatch is the number of commits written per transaction.
const ingestBatch = 100

// Store is a SQLite-backed commit graph.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the graph database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}
	return open(ctx, fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path))
}

// OpenMemory creates an isolated in-memory graph for testing.
func OpenMemory(ctx context.Context) (*Store, error) {
	return open(ctx, fmt.Sprintf("file:graph-%s?mode=memory&cache=shared", uuid.NewString()))
}

func open(ctx context.Context, connStr string) (*Store, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open graph database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	db.SetMaxOpenConns(2)

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize graph schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS commits (
		repo TEXT NOT NULL,
		hash TEXT NOT NULL,
		author_name TEXT NOT NULL,
		author_email TEXT NOT NULL,
		authored_at INTEGER NOT NULL,
		message TEXT NOT NULL,
		lines_added INTEGER NOT NULL,
		lines_deleted INTEGER NOT NULL,
		files_changed INTEGER NOT NULL,
		PRIMARY KEY (repo, hash)
	);

	CREATE TABLE IF NOT EXISTS commit_files (
		repo TEXT NOT NULL,
		hash TEXT NOT NULL,
		path TEXT NOT NULL,
		lines_added INTEGER NOT NULL,
		lines_deleted INTEGER NOT NULL,
		is_binary INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (repo, hash, path),
		FOREIGN KEY (repo, hash) REFERENCES commits(repo, hash) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_commits_author ON commits(author_email, authored_at);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// IngestStats summarizes an ingested history.
type IngestStats struct {
	Commits int `json:"commits"`
	Users   int `json:"users"`
	Files   int `json:"files"`
}

// Ingest upserts the commits of repository repoName. Ingesting the same
// history again leaves the graph unchanged.
func (s *Store) Ingest(ctx context.Context, repoName string, commits []repo.Commit) (IngestStats, error) {
	users := make(map[string]bool)
	files := make(map[string]bool)

	for start := 0; start < len(commits); start += ingestBatch {
		end := min(start+ingestBatch, len(commits))
		if err := s.ingestBatch(ctx, repoName, commits[start:end]); err != nil {
			return IngestStats{}, err
		}
	}

	for _, c := range commits {
		users[normalizeEmail(c.AuthorEmail)] = true
		for _, f := range c.Files {
			files[f.Path] = true
		}
	}
	return IngestStats{Commits: len(commits), Users: len(users), Files: len(files)}, nil
}

func (s *Store) ingestBatch(ctx context.Context, repoName string, commits []repo.Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, c := range commits {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO commits (repo, hash, author_name, author_email, authored_at, message, lines_added, lines_deleted, files_changed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(repo, hash) DO UPDATE SET
				author_name = excluded.author_name,
				author_email = excluded.author_email,
				authored_at = excluded.authored_at,
				message = excluded.message,
				lines_added = excluded.lines_added,
				lines_deleted = excluded.lines_deleted,
				files_changed = excluded.files_changed
		`, repoName, c.Hash, c.AuthorName, normalizeEmail(c.AuthorEmail), c.AuthoredAt.Unix(), c.Message, c.Added, c.Deleted, len(c.Files))
		if err != nil {
			return fmt.Errorf("failed to upsert commit %s: %w", c.Hash, err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM commit_files WHERE repo = ? AND hash = ?", repoName, c.Hash); err != nil {
			return fmt.Errorf("failed to reset files of %s: %w", c.Hash, err)
		}
		for _, f := range c.Files {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO commit_files (repo, hash, path, lines_added, lines_deleted, is_binary)
				VALUES (?, ?, ?, ?, ?, ?)
			`, repoName, c.Hash, f.Path, f.Added, f.Deleted, f.Binary)
			if err != nil {
				return fmt.Errorf("failed to insert file %s of %s: %w", f.Path, c.Hash, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Author is a commit author, identified by email.
type Author struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Commits int    `json:"commits"`
}

// Authors returns every author, most commits first.
func (s *Store) Authors(ctx context.Context) ([]Author, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT MAX(author_name), author_email, COUNT(*) AS n
		FROM commits
		GROUP BY author_email
		ORDER BY n DESC, author_email ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list authors: %w", err)
	}
	defer rows.Close()

	var authors []Author
	for rows.Next() {
		var a Author
		if err := rows.Scan(&a.Name, &a.Email, &a.Commits); err != nil {
			return nil, fmt.Errorf("failed to scan author: %w", err)
		}
		authors = append(authors, a)
	}
	return authors, rows.Err()
}

// CommitRef is a commit node without its files.
type CommitRef struct {
	Repo         string
	Hash         string
	AuthorName   string
	AuthorEmail  string
	AuthoredAt   time.Time
	Message      string
	Added        int
	Deleted      int
	FilesChanged int
}

const commitColumns = "repo, hash, author_name, author_email, authored_at, message, lines_added, lines_deleted, files_changed"

type scanner interface {
	Scan(dest ...any) error
}

func scanCommit(row scanner) (CommitRef, error) {
	var c CommitRef
	var authored int64
	err := row.Scan(&c.Repo, &c.Hash, &c.AuthorName, &c.AuthorEmail, &authored, &c.Message, &c.Added, &c.Deleted, &c.FilesChanged)
	if err != nil {
		return CommitRef{}, err
	}
	c.AuthoredAt = time.Unix(authored, 0).UTC()
	return c, nil
}

// CommitsBy returns up to limit commits of the author with email, newest
// first. limit <= 0 returns all of them.
func (s *Store) CommitsBy(ctx context.Context, email string, limit int) ([]CommitRef, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commitColumns+`
		FROM commits
		WHERE author_email = ?
		ORDER BY authored_at DESC, repo ASC, hash ASC
		LIMIT ?
	`, normalizeEmail(email), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list commits of %s: %w", email, err)
	}
	defer rows.Close()

	var commits []CommitRef
	for rows.Next() {
		c, err := scanCommit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan commit: %w", err)
		}
		commits = append(commits, c)
	}
	return commits, rows.Err()
}

// CommitDetail is a commit with the files it changed.
type CommitDetail struct {
	CommitRef
	Files []repo.FileChange
}

// Commit returns one commit with its files.
func (s *Store) Commit(ctx context.Context, repoName, hash string) (*CommitDetail, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+commitColumns+" FROM commits WHERE repo = ? AND hash = ?", repoName, hash)
	ref, err := scanCommit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrCommitNotFound, repoName, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get commit: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT path, lines_added, lines_deleted, is_binary
		FROM commit_files
		WHERE repo = ? AND hash = ?
		ORDER BY path
	`, repoName, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to list files of %s: %w", hash, err)
	}
	defer rows.Close()

	detail := &CommitDetail{CommitRef: ref}
	for rows.Next() {
		var f repo.FileChange
		if err := rows.Scan(&f.Path, &f.Added, &f.Deleted, &f.Binary); err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		detail.Files = append(detail.Files, f)
	}
	return detail, rows.Err()
}

// Stats counts the whole graph.
func (s *Store) Stats(ctx context.Context) (IngestStats, error) {
	var st IngestStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM commits),
			(SELECT COUNT(DISTINCT author_email) FROM commits),
			(SELECT COUNT(DISTINCT path) FROM commit_files)
	`).Scan(&st.Commits, &st.Users, &st.Files)
	if err != nil {
		return IngestStats{}, fmt.Errorf("failed to count graph: %w", err)
	}
	return st, nil
}
