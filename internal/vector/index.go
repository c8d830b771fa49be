package vector

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// insertBatch is the number of chunks embedded and written per transaction.
const insertBatch = 32

// Index is a SQLite-backed vector index partitioned into named collections.
type Index struct {
	db       *sql.DB
	embedder Embedder
	mu       sync.Mutex
}

// Open opens or creates the index database at path.
func Open(ctx context.Context, path string, embedder Embedder) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}
	return open(ctx, fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path), embedder)
}

// OpenMemory creates an isolated in-memory index for testing.
func OpenMemory(ctx context.Context, embedder Embedder) (*Index, error) {
	return open(ctx, fmt.Sprintf("file:vectors-%s?mode=memory&cache=shared", uuid.NewString()), embedder)
}

func open(ctx context.Context, connStr string, embedder Embedder) (*Index, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector database: %w", err)
	}
	db.SetMaxOpenConns(2)

	_, err = db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS chunks (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		path TEXT NOT NULL,
		start_line INTEGER NOT NULL,
		end_line INTEGER NOT NULL,
		content TEXT NOT NULL,
		embedding BLOB NOT NULL,
		PRIMARY KEY (collection, id)
	);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize vector schema: %w", err)
	}
	return &Index{db: db, embedder: embedder}, nil
}

// Close closes the database.
func (x *Index) Close() error {
	return x.db.Close()
}

// Add embeds chunks and upserts them into collection.
func (x *Index) Add(ctx context.Context, collection string, chunks []Chunk) error {
	for start := 0; start < len(chunks); start += insertBatch {
		end := min(start+insertBatch, len(chunks))
		if err := x.addBatch(ctx, collection, chunks[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (x *Index) addBatch(ctx context.Context, collection string, chunks []Chunk) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text()
	}
	vectors, err := x.embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, c := range chunks {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (collection, id, path, start_line, end_line, content, embedding)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(collection, id) DO UPDATE SET
				path = excluded.path,
				start_line = excluded.start_line,
				end_line = excluded.end_line,
				content = excluded.content,
				embedding = excluded.embedding
		`, collection, c.ID(), c.Path, c.StartLine, c.EndLine, c.Content, encode(vectors[i]))
		if err != nil {
			return fmt.Errorf("failed to upsert chunk %s: %w", c.ID(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Match is a search hit.
type Match struct {
	Chunk
	Score float64 // Cosine similarity
}

// Search returns the k chunks of collection most similar to query, best first.
func (x *Index) Search(ctx context.Context, collection, query string, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	vectors, err := x.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for 1 query", len(vectors))
	}
	q := vectors[0]

	rows, err := x.db.QueryContext(ctx, `
		SELECT path, start_line, end_line, content, embedding
		FROM chunks
		WHERE collection = ?
	`, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to scan collection %s: %w", collection, err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var blob []byte
		if err := rows.Scan(&m.Path, &m.StartLine, &m.EndLine, &m.Content, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		v, err := decode(blob)
		if err != nil {
			return nil, fmt.Errorf("corrupt embedding for %s: %w", m.ID(), err)
		}
		m.Score = cosine(q, v)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID() < matches[j].ID()
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Count returns the number of chunks in collection.
func (x *Index) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := x.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks WHERE collection = ?", collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count collection %s: %w", collection, err)
	}
	return n, nil
}

func encode(v []float32) []byte {
	var buf bytes.Buffer
	buf.Grow(4 * len(v))
	binary.Write(&buf, binary.LittleEndian, v)
	return buf.Bytes()
}

func decode(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, v); err != nil {
		return nil, err
	}
	return v, nil
}

// cosine returns the cosine similarity of a and b, or 0 when their
// dimensions differ or either is zero.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
