package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alsksssass/deepagent/internal/llm"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "missing.yaml"), filepath.Join(dir, "also-missing.yaml"), "")
	if err != nil {
		t.Fatalf("missing files must not be an error: %v", err)
	}

	if cfg.WorkDir != "./work" {
		t.Errorf("work_dir: got %q", cfg.WorkDir)
	}
	if cfg.Concurrency.MaxAgents != 4 || cfg.Concurrency.BatchSize != 10 {
		t.Errorf("unexpected concurrency: %+v", cfg.Concurrency)
	}
	if cfg.Timeouts.Agent != time.Hour || cfg.Timeouts.Workflow != 2*time.Hour || cfg.Timeouts.ExternalCall != 2*time.Minute {
		t.Errorf("unexpected timeouts: %+v", cfg.Timeouts)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.InitialInterval != 500*time.Millisecond || cfg.Retry.Multiplier != 2 {
		t.Errorf("unexpected retry: %+v", cfg.Retry)
	}
	if cfg.Storage.Backend != "local" || cfg.LLM.Provider != "anthropic" || cfg.LLM.MaxTokens != 4096 {
		t.Errorf("unexpected storage or llm: %+v %+v", cfg.Storage, cfg.LLM)
	}
	if cfg.Sampling.CommitsPerUser != 20 || cfg.Sampling.TargetUserCommits != 100 || cfg.Sampling.MaxUsers != 0 {
		t.Errorf("unexpected sampling: %+v", cfg.Sampling)
	}
	if cfg.RAG.ChunkLines != 40 || cfg.RAG.Collection != "code" || cfg.Report.DiffBytes != 12000 {
		t.Errorf("unexpected rag or report: %+v %+v", cfg.RAG, cfg.Report)
	}
	if strings.HasPrefix(cfg.Ledger.Path, "~") {
		t.Errorf("ledger path should be expanded, got %q", cfg.Ledger.Path)
	}

	policies, err := cfg.ParsePolicies()
	if err != nil {
		t.Fatal(err)
	}
	if policies["commit_evaluator"] != llm.ParseFail || policies["user_skill_profiler"] != llm.ParseDegrade {
		t.Errorf("unexpected parse policies: %v", policies)
	}
	for _, name := range []string{"security_analyst", "performance_analyst", "quality_analyst", "architecture_analyst", "report_summarizer"} {
		if policies[name] != llm.ParseDegrade {
			t.Errorf("%s: got parse policy %q, want %q", name, policies[name], llm.ParseDegrade)
		}
	}
}

func TestLoad_Layering(t *testing.T) {
	dir := t.TempDir()
	global := writeConfig(t, dir, "global/config.yaml", `
work_dir: /srv/global
concurrency:
  max_agents: 8
llm:
  provider: ollama
  model: llama3
agents:
  user_skill_profiler:
    parse_policy: fail
`)
	project := writeConfig(t, dir, "project/config.yaml", `
work_dir: /srv/project
sampling:
  max_users: 3
analysis:
  tools:
    - name: vet
      command: go
      args: [vet, ./...]
`)

	cfg, err := Load(global, project, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"project overrides global", cfg.WorkDir, "/srv/project"},
		{"global overrides default", cfg.Concurrency.MaxAgents, 8},
		{"untouched sibling keeps default", cfg.Concurrency.BatchSize, 10},
		{"nested project key", cfg.Sampling.MaxUsers, 3},
		{"provider", cfg.LLM.Provider, "ollama"},
		{"agent override", cfg.Agents["user_skill_profiler"].ParsePolicy, "fail"},
		{"other agent keeps default", cfg.Agents["commit_evaluator"].ParsePolicy, "fail"},
		{"tools", len(cfg.Analysis.Tools), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}

	if tool := cfg.Analysis.Tools[0]; tool.Name != "vet" || tool.Command != "go" || strings.Join(tool.Args, " ") != "vet ./..." {
		t.Errorf("unexpected tool: %+v", tool)
	}
}

func TestLoad_EnvironmentAndExplicit(t *testing.T) {
	dir := t.TempDir()
	project := writeConfig(t, dir, "project.yaml", "concurrency:\n  batch_size: 2\n")

	t.Setenv("DEEPAGENT_CONCURRENCY_BATCH_SIZE", "6")
	t.Setenv("DEEPAGENT_TIMEOUTS_AGENT", "90s")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := Load("", project, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Concurrency.BatchSize != 6 {
		t.Errorf("environment should override the project file, got %d", cfg.Concurrency.BatchSize)
	}
	if cfg.Timeouts.Agent != 90*time.Second {
		t.Errorf("timeouts.agent: got %v", cfg.Timeouts.Agent)
	}
	if cfg.LLM.APIKey != "sk-test" {
		t.Errorf("api key should come from ANTHROPIC_API_KEY, got %q", cfg.LLM.APIKey)
	}

	explicit := writeConfig(t, dir, "explicit.yaml", "concurrency:\n  batch_size: 1\n")
	cfg, err = Load("", project, explicit)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Concurrency.BatchSize != 1 {
		t.Errorf("explicit file should override the environment, got %d", cfg.Concurrency.BatchSize)
	}
	if cfg.Timeouts.Agent != 90*time.Second {
		t.Errorf("keys absent from the explicit file keep lower layers, got %v", cfg.Timeouts.Agent)
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"malformed yaml", "work_dir: [unclosed\n", "parsing"},
		{"unknown backend", "storage:\n  backend: ftp\n", "storage.backend"},
		{"s3 without bucket", "storage:\n  backend: s3\n", "storage.bucket"},
		{"unknown provider", "llm:\n  provider: gpt\n", "llm.provider"},
		{"ollama without model", "llm:\n  provider: ollama\n", "llm.model"},
		{"bad parse policy", "agents:\n  commit_evaluator:\n    parse_policy: ignore\n", "agents.commit_evaluator.parse_policy"},
		{"zero attempts", "retry:\n  max_attempts: 0\n", "retry.max_attempts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, dir, strings.ReplaceAll(tt.name, " ", "_")+".yaml", tt.content)
			_, err := Load(path, "", "")
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}

	if _, err := Load("", "", filepath.Join(dir, "nope.yaml")); err == nil {
		t.Error("a missing explicit config file should be an error")
	}
}

func TestRetryPolicy(t *testing.T) {
	cfg := Default()
	cfg.Retry.MaxAttempts = 5
	cfg.Timeouts.ExternalCall = 30 * time.Second

	r := cfg.RetryPolicy()
	if r.MaxAttempts != 5 || r.CallTimeout != 30*time.Second || r.InitialInterval != 500*time.Millisecond {
		t.Errorf("unexpected retry policy: %+v", r)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	tests := map[string]string{
		"~":              home,
		"~/x/ledger.db":  filepath.Join(home, "x", "ledger.db"),
		"/abs/ledger.db": "/abs/ledger.db",
		"rel/~/x":        "rel/~/x",
	}
	for in, want := range tests {
		if got := ExpandHome(in); got != want {
			t.Errorf("ExpandHome(%q) = %q, want %q", in, got, want)
		}
	}
}
