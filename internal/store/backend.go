package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// Backend is the byte-level storage under a Store. Paths are slash-separated and
// relative to the backend root. Put must be atomic: readers never observe a
// partially-written object.
type Backend interface {
	Put(ctx context.Context, p string, data []byte) error
	Get(ctx context.Context, p string) ([]byte, error)
	Exists(ctx context.Context, p string) (bool, error)
	// List returns all object paths under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, p string) error
}

// FileBackend stores objects as files under a root directory.
type FileBackend struct {
	root string
}

// NewFileBackend creates a backend rooted at dir, creating it if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store root: %w", err)
	}
	return &FileBackend{root: dir}, nil
}

// Root returns the backend's root directory.
func (b *FileBackend) Root() string {
	return b.root
}

func (b *FileBackend) abs(p string) string {
	return filepath.Join(b.root, filepath.FromSlash(p))
}

// Put writes data to a temporary file in the target directory, syncs it and
// renames it over the destination.
func (b *FileBackend) Put(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dest := b.abs(p)
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(dest)+".tmp.*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", p, err)
	}
	if err := tmp.Chmod(0644); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", p, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", p, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", p, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("failed to rename %s: %w", p, err)
	}
	committed = true

	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// Get reads an object. Returns ErrNotFound if it does not exist.
func (b *FileBackend) Get(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(b.abs(p))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}
	return data, nil
}

// Exists reports whether an object exists.
func (b *FileBackend) Exists(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	info, err := os.Stat(b.abs(p))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", p, err)
	}
	return !info.IsDir(), nil
}

// Delete removes the file at p and syncs its directory.
func (b *FileBackend) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target := b.abs(p)
	err := os.Remove(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", p, err)
	}
	return fsyncDir(filepath.Dir(target))
}

// List walks the directory under prefix. Temporary files from in-flight writes
// are skipped.
func (b *FileBackend) List(ctx context.Context, prefix string) ([]string, error) {
	start := b.abs(prefix)
	if _, err := os.Stat(start); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	var paths []string
	err := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.Contains(d.Name(), ".tmp.") {
			return nil
		}
		rel, err := filepath.Rel(b.root, p)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}

	sort.Strings(paths)
	return paths, nil
}

// joinPath joins slash-separated path segments.
func joinPath(parts ...string) string {
	return path.Join(parts...)
}
