// Package repo is the repository source: it clones repositories into a task's
// working directory and reads their history through the git CLI.
package repo

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/alsksssass/deepagent/internal/process"
	"github.com/alsksssass/deepagent/internal/resilience"
)

// SourceConfig configures a Source.
type SourceConfig struct {
	Git      string               // Git binary (default "git")
	Procs    *process.Manager     // Optional, tracks git subprocesses for shutdown
	Breakers *resilience.Breakers // Optional, guards remote clones
	Retry    resilience.RetryConfig
}

// Source runs git against remote and cloned repositories.
type Source struct {
	git     string
	procs   *process.Manager
	breaker *gobreaker.CircuitBreaker
	retry   resilience.RetryConfig
}

// NewSource creates a repository source.
func NewSource(cfg SourceConfig) *Source {
	if cfg.Git == "" {
		cfg.Git = "git"
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	s := &Source{git: cfg.Git, procs: cfg.Procs, retry: cfg.Retry}
	if cfg.Breakers != nil {
		s.breaker = cfg.Breakers.Get("git")
	}
	return s
}

var remotePrefixes = []string{"git@", "http://", "https://", "ssh://", "git://", "file://"}

// ValidateLocator checks that locator is a git URL (SSH, HTTP(S), git or
// file scheme) or an absolute local path.
func ValidateLocator(locator string) error {
	switch {
	case locator == "":
		return errors.New("repository locator is empty")
	case strings.HasPrefix(locator, "-"), strings.ContainsAny(locator, " \t\n"):
		return fmt.Errorf("invalid repository locator %q", locator)
	case filepath.IsAbs(locator):
		return nil
	}
	for _, p := range remotePrefixes {
		if strings.HasPrefix(locator, p) && len(locator) > len(p) {
			return nil
		}
	}
	return fmt.Errorf("invalid repository locator %q: want a git URL or an absolute path", locator)
}

// Name derives a directory name from a locator: the last path segment
// without a .git suffix.
func Name(locator string) string {
	s := strings.TrimRight(locator, "/")
	s = strings.TrimSuffix(s, ".git")
	if i := strings.LastIndexAny(s, "/:"); i >= 0 {
		s = s[i+1:]
	}
	if s == "" || s == "." || s == ".." {
		return "repo"
	}
	return s
}

// Clone clones locator into dir/name, replacing any previous clone there.
// Remote failures are retried and returned as *agent.ExternalCallError.
func (s *Source) Clone(ctx context.Context, locator, dir, name string) (Checkout, error) {
	if err := ValidateLocator(locator); err != nil {
		return Checkout{}, err
	}

	dest := filepath.Join(dir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Checkout{}, fmt.Errorf("failed to create clone dir: %w", err)
	}

	_, err := resilience.Do(ctx, "clone "+locator, s.breaker, s.retry, func(ctx context.Context) (struct{}, error) {
		// A previous or partial attempt is cloned again from scratch
		if err := os.RemoveAll(dest); err != nil {
			return struct{}{}, resilience.Permanent(fmt.Errorf("failed to remove %s: %w", dest, err))
		}
		_, err := s.run(ctx, dir, "clone", "--quiet", "--", locator, dest)
		return struct{}{}, err
	})
	if err != nil {
		return Checkout{}, err
	}

	head, err := s.run(ctx, dest, "rev-parse", "HEAD")
	if err != nil {
		// An empty repository has no HEAD commit
		head = nil
	}

	return Checkout{
		Locator: locator,
		Name:    name,
		Path:    dest,
		Head:    strings.TrimSpace(string(head)),
	}, nil
}

// Record and unit separators delimit the log format.
const (
	recordSep = "\x1e"
	fieldSep  = "\x1f"
)

var logFormat = "--format=" + recordSep + strings.Join([]string{"%H", "%an", "%ae", "%aI", "%B"}, fieldSep) + fieldSep

// Log returns the non-merge commits of the repository at path, newest first,
// restricted to commits whose author matches author when it is non-empty.
func (s *Source) Log(ctx context.Context, path, author string) ([]Commit, error) {
	out, err := s.run(ctx, path, "log", "--no-merges", "--no-renames", "--numstat", logFormat)
	if err != nil {
		if strings.Contains(err.Error(), "does not have any commits") {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read history of %s: %w", path, err)
	}

	commits, err := parseLog(string(out))
	if err != nil {
		return nil, err
	}
	if author == "" {
		return commits, nil
	}

	filtered := commits[:0]
	for _, c := range commits {
		if c.MatchesAuthor(author) {
			filtered = append(filtered, c)
		}
	}
	return filtered, nil
}

func parseLog(out string) ([]Commit, error) {
	var commits []Commit
	for _, record := range strings.Split(out, recordSep) {
		if strings.TrimSpace(record) == "" {
			continue
		}

		fields := strings.SplitN(record, fieldSep, 6)
		if len(fields) != 6 {
			return nil, fmt.Errorf("malformed log record: %q", record)
		}

		authored, err := time.Parse(time.RFC3339, fields[3])
		if err != nil {
			return nil, fmt.Errorf("invalid author date %q: %w", fields[3], err)
		}

		c := Commit{
			Hash:        fields[0],
			AuthorName:  fields[1],
			AuthorEmail: fields[2],
			AuthoredAt:  authored,
			Message:     strings.TrimSpace(fields[4]),
		}

		scanner := bufio.NewScanner(strings.NewReader(fields[5]))
		for scanner.Scan() {
			fc, ok := parseNumstat(scanner.Text())
			if !ok {
				continue
			}
			c.Added += fc.Added
			c.Deleted += fc.Deleted
			c.Files = append(c.Files, fc)
		}

		commits = append(commits, c)
	}
	return commits, nil
}

// parseNumstat parses "added<TAB>deleted<TAB>path"; binary files report "-".
func parseNumstat(line string) (FileChange, bool) {
	parts := strings.SplitN(line, "\t", 3)
	if len(parts) != 3 || parts[2] == "" {
		return FileChange{}, false
	}

	fc := FileChange{Path: parts[2]}
	if parts[0] == "-" && parts[1] == "-" {
		fc.Binary = true
		return fc, true
	}

	added, err1 := strconv.Atoi(parts[0])
	deleted, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return FileChange{}, false
	}
	fc.Added, fc.Deleted = added, deleted
	return fc, true
}

var hashPattern = regexp.MustCompile(`^[0-9a-f]{7,64}$`)

// Diff returns the patch introduced by commit hash.
func (s *Source) Diff(ctx context.Context, path, hash string) (string, error) {
	if !hashPattern.MatchString(hash) {
		return "", fmt.Errorf("invalid commit hash %q", hash)
	}
	out, err := s.run(ctx, path, "show", "--format=", "--patch", "--no-color", "--no-ext-diff", hash, "--")
	if err != nil {
		return "", fmt.Errorf("failed to read commit %s: %w", hash, err)
	}
	return string(out), nil
}

func (s *Source) run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := process.Command(ctx, s.git, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	stdout, _, err := process.Run(cmd, s.procs)
	if err != nil {
		return nil, fmt.Errorf("git %s: %w", args[0], err)
	}
	return stdout, nil
}
