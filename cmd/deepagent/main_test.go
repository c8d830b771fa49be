package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/alsksssass/deepagent/internal/agent"
	"github.com/alsksssass/deepagent/internal/config"
	"github.com/alsksssass/deepagent/internal/llm"
	"github.com/alsksssass/deepagent/internal/orchestrator"
	"github.com/alsksssass/deepagent/internal/persistence"
	"github.com/alsksssass/deepagent/internal/process"
	"github.com/alsksssass/deepagent/internal/schema"
	"github.com/alsksssass/deepagent/internal/store"
)

func init() {
	color.NoColor = true
}

type scoreResult struct {
	Score int `json:"score"`
}

// TestProcessManagerKillAllOnShutdown verifies that KillAll terminates
// tracked processes during a simulated shutdown.
func TestProcessManagerKillAllOnShutdown(t *testing.T) {
	pm := process.NewManager()

	cmd := exec.Command("sleep", "60")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start subprocess: %v", err)
	}
	pm.Track(cmd)

	if count := pm.Count(); count != 1 {
		t.Errorf("Expected 1 tracked process, got %d", count)
	}

	killAll(pm)

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Expected process to be killed (non-zero exit), got nil error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Process did not terminate after KillAll()")
	}

	// KillAll does not untrack; process.Run untracks after Wait
	if count := pm.Count(); count != 1 {
		t.Errorf("Expected process to still be tracked after KillAll, got count=%d", count)
	}
	pm.Untrack(cmd)
	if count := pm.Count(); count != 0 {
		t.Errorf("Expected 0 tracked processes after Untrack, got %d", count)
	}
}

// TestSignalContextCancellation verifies that signal.NotifyContext produces
// a context that cancels when a signal is received.
func TestSignalContextCancellation(t *testing.T) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGUSR1)
	defer stop()

	if err := syscall.Kill(os.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("Failed to send SIGUSR1: %v", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(1 * time.Second):
		t.Fatal("Context did not cancel after SIGUSR1")
	}
	if err := ctx.Err(); err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestAwaitRun(t *testing.T) {
	done := make(chan runResult, 1)
	done <- runResult{err: errors.New("cancelled")}

	res, err := awaitRun(done)
	if err != nil {
		t.Fatalf("awaitRun failed: %v", err)
	}
	if res.err == nil || res.err.Error() != "cancelled" {
		t.Errorf("got %v, want the run's error", res.err)
	}
}

func TestOpenTaskLog(t *testing.T) {
	root := t.TempDir()

	for range 2 {
		f, err := openTaskLog(root, "task-1")
		if err != nil {
			t.Fatalf("openTaskLog failed: %v", err)
		}
		if _, err := f.WriteString("line\n"); err != nil {
			t.Fatal(err)
		}
		f.Close()
	}

	data, err := os.ReadFile(filepath.Join(root, "task-1", "logs", "run.log"))
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	if string(data) != "line\nline\n" {
		t.Errorf("got %q, want the log appended across runs", data)
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.WorkDir = t.TempDir()
	cfg.Ledger.Path = filepath.Join(cfg.WorkDir, "ledger.db")
	return cfg
}

func TestNewStore(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	st, err := newStore(ctx, cfg)
	if err != nil {
		t.Fatalf("newStore failed: %v", err)
	}
	resp := agent.Response{Status: agent.StatusSuccess, Payload: json.RawMessage(`{"score":1}`)}
	if err := st.Save(ctx, store.Singleton("task-1", "scorer"), resp, schema.MustFor[scoreResult]()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.WorkDir, "task-1", "results", "scorer.json")); err != nil {
		t.Errorf("local backend should write under work_dir: %v", err)
	}

	cfg.Storage.Backend = "ftp"
	if _, err := newStore(ctx, cfg); err == nil {
		t.Error("expected an error for an unknown backend")
	}
}

func TestNewClient(t *testing.T) {
	ctx := context.Background()
	procs := process.NewManager()

	tests := []struct {
		name     string
		provider string
		model    string
		wantErr  bool
		check    func(llm.Client) bool
	}{
		{"claude cli", "claude-cli", "", false, func(c llm.Client) bool { _, ok := c.(*llm.ClaudeCLI); return ok }},
		{"ollama", "ollama", "llama3", false, func(c llm.Client) bool { _, ok := c.(*llm.OllamaClient); return ok }},
		{"ollama without model", "ollama", "", true, nil},
		{"anthropic", "anthropic", "", false, func(c llm.Client) bool { _, ok := c.(*llm.AnthropicClient); return ok }},
		{"unknown", "gpt", "", true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.LLM.Provider = tt.provider
			cfg.LLM.Model = tt.model
			cfg.LLM.APIKey = "test-key"

			client, err := newClient(ctx, cfg, procs)
			if tt.wantErr {
				if err == nil {
					t.Error("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("newClient failed: %v", err)
			}
			if !tt.check(client) {
				t.Errorf("unexpected client type %T", client)
			}
		})
	}
}

func TestNewEmbedder(t *testing.T) {
	cfg := testConfig(t)

	cfg.Embedding.Model = ""
	e, err := newEmbedder(cfg, nil, cfg.RetryPolicy())
	if err != nil || e != nil {
		t.Errorf("got %v, %v; want no embedder without a model", e, err)
	}

	cfg.Embedding.Model = "nomic-embed-text"
	cfg.Embedding.Host = "localhost:11434"
	e, err = newEmbedder(cfg, nil, cfg.RetryPolicy())
	if err != nil || e == nil {
		t.Errorf("got %v, %v; want an embedder", e, err)
	}
}

func TestNewApp(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLM.Provider = "claude-cli"

	logger := log.New(io.Discard, "", 0)
	a, err := newApp(context.Background(), cfg, process.NewManager(), logger)
	if err != nil {
		t.Fatalf("newApp failed: %v", err)
	}
	defer a.Close()

	want := "clone,analyze,evaluate,aggregate,profile,domain,summarize,report"
	if got := strings.Join(a.levelNames(), ","); got != want {
		t.Errorf("got levels %s, want %s", got, want)
	}
	if _, err := a.newOrchestrator(nil, false); err != nil {
		t.Errorf("newOrchestrator failed: %v", err)
	}
	if _, err := os.Stat(cfg.Ledger.Path); err != nil {
		t.Errorf("ledger should be created: %v", err)
	}
}

func TestShowConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLM.APIKey = "sk-secret"

	var buf bytes.Buffer
	if err := showConfig(&buf, cfg); err != nil {
		t.Fatalf("showConfig failed: %v", err)
	}
	if strings.Contains(buf.String(), "sk-secret") || !strings.Contains(buf.String(), "****") {
		t.Errorf("API key should be masked:\n%s", buf.String())
	}
	if cfg.LLM.APIKey != "sk-secret" {
		t.Error("showConfig must not modify the config")
	}
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".deepagent", "config.yaml")

	if err := initConfig(path, false); err != nil {
		t.Fatalf("initConfig failed: %v", err)
	}
	if err := initConfig(path, false); err == nil {
		t.Error("expected an existing file to be kept without --force")
	}
	if err := initConfig(path, true); err != nil {
		t.Errorf("--force should overwrite: %v", err)
	}

	cfg, err := config.Load("", "", path)
	if err != nil {
		t.Fatalf("written config does not load: %v", err)
	}
	if cfg.LLM.Provider != config.Default().LLM.Provider {
		t.Errorf("got provider %q, want the default", cfg.LLM.Provider)
	}
}

func TestReportLocation(t *testing.T) {
	cfg := testConfig(t)
	if got, want := reportLocation(cfg, "t1"), filepath.Join(cfg.WorkDir, "t1", "report.md"); got != want {
		t.Errorf("got %s, want %s", got, want)
	}

	cfg.Storage = config.StorageConfig{Backend: "s3", Bucket: "results", Prefix: "deepagent"}
	if got, want := reportLocation(cfg, "t1"), "s3://results/deepagent/t1/report.md"; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestPrintReport(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r := &orchestrator.Report{
		Task: "t1",
		Levels: []orchestrator.LevelReport{
			{Name: "clone", Mode: "sequential", Agents: []orchestrator.AgentReport{
				{Agent: "repo_cloner", Status: orchestrator.Authoritative},
			}},
			{Name: "evaluate", Mode: "parallel-batched", Agents: []orchestrator.AgentReport{
				{Agent: "commit_evaluator", Status: orchestrator.Degraded, Error: "1 of 3 items failed",
					Batch: &orchestrator.BatchTotals{Total: 3, Succeeded: 2, Failed: 1}},
			}},
		},
		TotalUsage: &llm.AgentUsage{Calls: 3, InputTokens: 300, OutputTokens: 90, CostUSD: 0.0024},
		StartedAt:  start,
		FinishedAt: start.Add(90 * time.Second),
	}

	var buf bytes.Buffer
	printReport(&buf, r, "/w/t1/report.md")
	out := buf.String()

	for _, want := range []string{
		"✓ Task t1 completed in 1m30s",
		"✓ repo_cloner\n",
		"! commit_evaluator 2/3 degraded: 1 of 3 items failed",
		"Usage: 3 calls, 300 input / 90 output tokens, $0.0024",
		"Report: /w/t1/report.md",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintFailure(t *testing.T) {
	var buf bytes.Buffer
	printFailure(&buf, &orchestrator.Failure{
		Task:   "t1",
		Level:  "clone",
		Agent:  "repo_cloner",
		Errors: []error{errors.New("repository not found")},
	})
	out := buf.String()
	if !strings.Contains(out, "✗ Task t1 failed at level clone") || !strings.Contains(out, "- repository not found") {
		t.Errorf("unexpected failure output:\n%s", out)
	}
}

func TestDisplayRun(t *testing.T) {
	ctx := context.Background()
	ledger, err := persistence.NewMemoryStore(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer ledger.Close()

	start := time.Now().Add(-time.Minute)
	if err := ledger.StartRun(ctx, persistence.Run{ID: "t1", Repos: []string{"https://example.com/api.git"}, User: "bob", StartedAt: start}); err != nil {
		t.Fatal(err)
	}
	if err := ledger.StartLevel(ctx, persistence.LevelRun{RunID: "t1", Position: 0, Level: "evaluate", Mode: "parallel-batched", StartedAt: start}); err != nil {
		t.Fatal(err)
	}
	for i, status := range []string{"success", "failed", "success"} {
		rec := persistence.AgentRun{RunID: "t1", Level: "evaluate", Agent: "commit_evaluator", Index: i, Status: status, Attempts: 1}
		if status == "failed" {
			rec.Error = "rate limited"
		}
		if err := ledger.RecordAgent(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	run, err := ledger.GetRun(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	levels, _ := ledger.ListLevels(ctx, "t1")
	agents, _ := ledger.ListAgents(ctx, "t1")

	var buf bytes.Buffer
	displayRun(&buf, run, levels, agents)
	out := buf.String()
	for _, want := range []string{
		"Run: t1",
		"User: bob",
		"! evaluate (parallel-batched) PROCESSING",
		"! commit_evaluator 2/3 items succeeded",
		"[1] rate limited",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	displayRuns(&buf, []*persistence.Run{run}, 0)
	if !strings.Contains(buf.String(), "t1  PROCESSING") {
		t.Errorf("unexpected run list:\n%s", buf.String())
	}
}

func TestAgentLines(t *testing.T) {
	lines := agentLines([]persistence.AgentRun{
		{Agent: "repo_cloner", Index: -1, Status: "success", Attempts: 1, Duration: 1500 * time.Millisecond},
		{Agent: "static_analyzer", Index: -1, Status: "failed", Attempts: 1, Error: "no tools"},
		{Agent: "commit_evaluator", Index: 0, Status: "failed", Error: "timeout"},
	})
	want := []string{
		"✓ repo_cloner (1s, 1 attempt(s))",
		"✗ static_analyzer (0s, 1 attempt(s)): no tools",
		"✗ commit_evaluator 0/1 items succeeded",
		"    [0] timeout",
	}
	if strings.Join(lines, "\n") != strings.Join(want, "\n") {
		t.Errorf("got\n%s\nwant\n%s", strings.Join(lines, "\n"), strings.Join(want, "\n"))
	}
}

// syncBuffer is a bytes.Buffer safe for a writer goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestResultWatcher(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()
	backend, err := store.NewFileBackend(root)
	if err != nil {
		t.Fatal(err)
	}
	st := store.New(backend)
	s := schema.MustFor[scoreResult]()
	ok := agent.Response{Status: agent.StatusSuccess, Payload: json.RawMessage(`{"score":1}`)}

	if _, err := newResultWatcher(root, "missing", st); err == nil {
		t.Error("expected an error for an unknown task")
	}

	if err := st.Save(ctx, store.Singleton("t1", "repo_cloner"), ok, s); err != nil {
		t.Fatal(err)
	}
	w, err := newResultWatcher(root, "t1", st)
	if err != nil {
		t.Fatalf("newResultWatcher failed: %v", err)
	}
	defer w.Close()

	var out syncBuffer
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, &out)
	}()

	waitFor(t, &out, "✓ repo_cloner")
	failed := agent.Response{Status: agent.StatusFailed, Payload: json.RawMessage(`{"score":0}`), Error: "model timeout"}
	if err := st.SaveBatch(ctx, "t1", "commit_evaluator", 0, failed, s); err != nil {
		t.Fatal(err)
	}
	waitFor(t, &out, "✗ commit_evaluator[0]: model timeout")

	if err := st.SaveDocument(ctx, "t1", orchestrator.ReportMarkdownDocument, []byte("# Report\n")); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop after the report was written")
	}
	if !strings.Contains(out.String(), "Report ready") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

func waitFor(t *testing.T, out *syncBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(out.String(), want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("output never contained %q:\n%s", want, out.String())
}

func TestRunCommand_Flags(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing repo", []string{"run"}, `required flag(s) "repo" not set`},
		{"relative path", []string{"run", "--repo", "src/api"}, "absolute"},
		{"extra argument", []string{"run", "--repo", "/src/api", "oops"}, "unknown command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runRepos = nil
			rootCmd.SetArgs(tt.args)
			rootCmd.SetOut(&bytes.Buffer{})
			rootCmd.SetErr(&bytes.Buffer{})
			err := rootCmd.Execute()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("got %v, want an error containing %q", err, tt.want)
			}
		})
	}
}
