package repo

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alsksssass/deepagent/internal/agent"
	"github.com/alsksssass/deepagent/internal/process"
	"github.com/alsksssass/deepagent/internal/resilience"
)

func git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_CONFIG_NOSYSTEM=1", "HOME="+dir)
	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s failed: %v (output: %s)", strings.Join(args, " "), err, string(output))
	}
	return string(output)
}

// commitAs writes files and commits them with the given author.
func commitAs(t *testing.T, dir, author, message string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	git(t, dir, "add", ".")
	git(t, dir, "commit", "--quiet", "--author", author, "-m", message)
}

// setupTestRepo creates a repository with three commits by two authors.
func setupTestRepo(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	git(t, dir, "init", "--quiet", "-b", "main")
	git(t, dir, "config", "user.name", "Test User")
	git(t, dir, "config", "user.email", "test@example.com")

	commitAs(t, dir, "Alice <alice@example.com>", "Add server", map[string]string{
		"main.go": "package main\n\nfunc main() {}\n",
	})
	commitAs(t, dir, "Bob <bob@example.com>", "Add docs\n\nLonger body.", map[string]string{
		"README.md": "# Test\n",
		"logo.bin":  "\x00\x01\x02",
	})
	commitAs(t, dir, "Alice <alice@example.com>", "Handle errors", map[string]string{
		"main.go": "package main\n\nimport \"os\"\n\nfunc main() { os.Exit(0) }\n",
	})
	return dir
}

func testSource() *Source {
	return NewSource(SourceConfig{
		Procs: process.NewManager(),
		Retry: resilience.RetryConfig{MaxAttempts: 2, CallTimeout: 30 * time.Second, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1},
	})
}

func TestValidateLocator(t *testing.T) {
	tests := []struct {
		locator string
		valid   bool
	}{
		{"https://github.com/org/repo.git", true},
		{"git@github.com:org/repo.git", true},
		{"ssh://git@host/repo", true},
		{"file:///srv/repo", true},
		{"/srv/git/repo", true},
		{"", false},
		{"not a url", false},
		{"--upload-pack=evil", false},
		{"ftp://host/repo", false},
		{"https://", false},
		{"relative/path", false},
	}
	for _, tt := range tests {
		t.Run(tt.locator, func(t *testing.T) {
			err := ValidateLocator(tt.locator)
			if (err == nil) != tt.valid {
				t.Errorf("ValidateLocator(%q) = %v, want valid=%v", tt.locator, err, tt.valid)
			}
		})
	}
}

func TestName(t *testing.T) {
	tests := map[string]string{
		"https://github.com/org/repo.git": "repo",
		"https://github.com/org/repo/":    "repo",
		"git@github.com:org/tool.git":     "tool",
		"git@host:single.git":             "single",
		"/srv/git/local":                  "local",
		"file:///":                        "repo",
	}
	for locator, want := range tests {
		if got := Name(locator); got != want {
			t.Errorf("Name(%q) = %q, want %q", locator, got, want)
		}
	}
}

func TestCloneAndLog(t *testing.T) {
	origin := setupTestRepo(t)
	src := testSource()
	ctx := context.Background()

	dir := t.TempDir()
	co, err := src.Clone(ctx, origin, dir, "origin")
	if err != nil {
		t.Fatalf("Clone failed: %v", err)
	}

	if co.Path != filepath.Join(dir, "origin") || co.Name != "origin" || co.Locator != origin {
		t.Errorf("unexpected checkout: %+v", co)
	}
	if len(co.Head) != 40 {
		t.Errorf("expected a full HEAD hash, got %q", co.Head)
	}
	if _, err := os.Stat(filepath.Join(co.Path, "main.go")); err != nil {
		t.Errorf("clone is missing files: %v", err)
	}

	commits, err := src.Log(ctx, co.Path, "")
	if err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if len(commits) != 3 {
		t.Fatalf("expected 3 commits, got %d", len(commits))
	}

	newest := commits[0]
	if newest.Message != "Handle errors" || newest.AuthorEmail != "alice@example.com" || newest.AuthorName != "Alice" {
		t.Errorf("unexpected newest commit: %+v", newest)
	}
	if newest.Hash != co.Head {
		t.Errorf("newest commit %s should be HEAD %s", newest.Hash, co.Head)
	}
	if len(newest.Files) != 1 || newest.Files[0].Path != "main.go" || newest.Added != 3 || newest.Deleted != 1 {
		t.Errorf("unexpected numstat: %+v", newest)
	}
	if newest.AuthoredAt.IsZero() {
		t.Error("author date not parsed")
	}

	docs := commits[1]
	if docs.Message != "Add docs\n\nLonger body." {
		t.Errorf("multi-line message mismatch: %q", docs.Message)
	}
	var binary bool
	for _, f := range docs.Files {
		if f.Path == "logo.bin" {
			binary = f.Binary
		}
	}
	if !binary {
		t.Errorf("expected logo.bin to be binary: %+v", docs.Files)
	}
}

func TestLog_AuthorFilter(t *testing.T) {
	origin := setupTestRepo(t)
	src := testSource()

	tests := []struct {
		filter string
		want   int
	}{
		{"alice@example.com", 2},
		{"ALICE@EXAMPLE.COM", 2},
		{"Bob", 1},
		{"carol@example.com", 0},
	}
	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			commits, err := src.Log(context.Background(), origin, tt.filter)
			if err != nil {
				t.Fatalf("Log failed: %v", err)
			}
			if len(commits) != tt.want {
				t.Errorf("got %d commits, want %d", len(commits), tt.want)
			}
		})
	}
}

func TestLog_EmptyRepository(t *testing.T) {
	dir := t.TempDir()
	git(t, dir, "init", "--quiet", "-b", "main")

	commits, err := testSource().Log(context.Background(), dir, "")
	if err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if len(commits) != 0 {
		t.Errorf("expected no commits, got %d", len(commits))
	}
}

func TestClone_ReplacesPreviousClone(t *testing.T) {
	origin := setupTestRepo(t)
	src := testSource()
	dir := t.TempDir()

	stale := filepath.Join(dir, "origin", "stale.txt")
	if err := os.MkdirAll(filepath.Dir(stale), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(stale, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := src.Clone(context.Background(), origin, dir, "origin"); err != nil {
		t.Fatalf("Clone failed: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("previous clone contents should be removed")
	}
}

func TestClone_Failures(t *testing.T) {
	src := testSource()

	_, err := src.Clone(context.Background(), "not a url", t.TempDir(), "x")
	if err == nil || !strings.Contains(err.Error(), "invalid repository locator") {
		t.Errorf("expected locator error, got %v", err)
	}

	_, err = src.Clone(context.Background(), filepath.Join(t.TempDir(), "missing"), t.TempDir(), "x")
	var ext *agent.ExternalCallError
	if !errors.As(err, &ext) {
		t.Fatalf("expected ExternalCallError, got %v", err)
	}
	if ext.Attempts != 2 {
		t.Errorf("expected 2 clone attempts, got %d", ext.Attempts)
	}
}

func TestDiff(t *testing.T) {
	origin := setupTestRepo(t)
	src := testSource()
	ctx := context.Background()

	commits, err := src.Log(ctx, origin, "")
	if err != nil {
		t.Fatal(err)
	}

	diff, err := src.Diff(ctx, origin, commits[0].Hash)
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	if !strings.Contains(diff, "+import \"os\"") || !strings.Contains(diff, "diff --git a/main.go b/main.go") {
		t.Errorf("unexpected diff:\n%s", diff)
	}

	if _, err := src.Diff(ctx, origin, "--output=/tmp/x"); err == nil {
		t.Error("expected error for an invalid hash")
	}
}

func TestParseNumstat(t *testing.T) {
	tests := []struct {
		line string
		want FileChange
		ok   bool
	}{
		{"3\t1\tmain.go", FileChange{Path: "main.go", Added: 3, Deleted: 1}, true},
		{"-\t-\tlogo.png", FileChange{Path: "logo.png", Binary: true}, true},
		{"5\t0\tdir/with space.txt", FileChange{Path: "dir/with space.txt", Added: 5}, true},
		{"", FileChange{}, false},
		{"x\t1\tfile", FileChange{}, false},
	}
	for _, tt := range tests {
		got, ok := parseNumstat(tt.line)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parseNumstat(%q) = %+v, %v; want %+v, %v", tt.line, got, ok, tt.want, tt.ok)
		}
	}
}

func TestMatchesAuthor(t *testing.T) {
	c := Commit{AuthorName: "Alice Doe", AuthorEmail: "alice@example.com"}
	for filter, want := range map[string]bool{
		"":                  true,
		"alice doe":         true,
		"Alice@Example.com": true,
		"alice":             false,
	} {
		if got := c.MatchesAuthor(filter); got != want {
			t.Errorf("MatchesAuthor(%q) = %v, want %v", filter, got, want)
		}
	}
}
