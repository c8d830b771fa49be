// Package config loads the layered deepagent configuration: built-in
// defaults, the global and project YAML files, DEEPAGENT_ environment
// variables and an explicit file, in increasing precedence.
package config

import (
	"time"

	"github.com/alsksssass/deepagent/internal/analysis"
)

// Config is the top-level configuration.
type Config struct {
	WorkDir     string                 `mapstructure:"work_dir" yaml:"work_dir"`
	Concurrency ConcurrencyConfig      `mapstructure:"concurrency" yaml:"concurrency"`
	Timeouts    TimeoutsConfig         `mapstructure:"timeouts" yaml:"timeouts"`
	Retry       RetryConfig            `mapstructure:"retry" yaml:"retry"`
	Storage     StorageConfig          `mapstructure:"storage" yaml:"storage"`
	LLM         LLMConfig              `mapstructure:"llm" yaml:"llm"`
	Embedding   EmbeddingConfig        `mapstructure:"embedding" yaml:"embedding"`
	Ledger      LedgerConfig           `mapstructure:"ledger" yaml:"ledger"`
	Sampling    SamplingConfig         `mapstructure:"sampling" yaml:"sampling"`
	Agents      map[string]AgentConfig `mapstructure:"agents" yaml:"agents,omitempty"`
	Analysis    AnalysisConfig         `mapstructure:"analysis" yaml:"analysis"`
	RAG         RAGConfig              `mapstructure:"rag" yaml:"rag"`
	Report      ReportConfig           `mapstructure:"report" yaml:"report"`
}

// ConcurrencyConfig bounds parallel work.
type ConcurrencyConfig struct {
	MaxAgents int `mapstructure:"max_agents" yaml:"max_agents"` // Agents of a parallel level running at once
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"` // Batch worker pool size
}

// TimeoutsConfig holds the task, invocation and external call timeouts.
type TimeoutsConfig struct {
	Agent        time.Duration `mapstructure:"agent" yaml:"agent"`
	Workflow     time.Duration `mapstructure:"workflow" yaml:"workflow"`
	ExternalCall time.Duration `mapstructure:"external_call" yaml:"external_call"`
}

// RetryConfig is the exponential backoff of retried invocations and calls.
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier" yaml:"multiplier"`
}

// StorageConfig selects the result store backend. The local backend keeps
// results under the work directory.
type StorageConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"` // "local" or "s3"
	Bucket  string `mapstructure:"bucket" yaml:"bucket,omitempty"`
	Prefix  string `mapstructure:"prefix" yaml:"prefix,omitempty"`
	Region  string `mapstructure:"region" yaml:"region,omitempty"`
	Profile string `mapstructure:"profile" yaml:"profile,omitempty"`
}

// LLMConfig selects the inference provider.
type LLMConfig struct {
	Provider   string `mapstructure:"provider" yaml:"provider"` // anthropic, bedrock, ollama or claude-cli
	Model      string `mapstructure:"model" yaml:"model,omitempty"`
	MaxTokens  int    `mapstructure:"max_tokens" yaml:"max_tokens"`
	APIKey     string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	AWSRegion  string `mapstructure:"aws_region" yaml:"aws_region,omitempty"`
	AWSProfile string `mapstructure:"aws_profile" yaml:"aws_profile,omitempty"`
	OllamaHost string `mapstructure:"ollama_host" yaml:"ollama_host,omitempty"`
	CLIBinary  string `mapstructure:"cli_binary" yaml:"cli_binary,omitempty"`
}

// EmbeddingConfig configures the Ollama embedding model of the code index.
// An empty model disables the index.
type EmbeddingConfig struct {
	Model string `mapstructure:"model" yaml:"model"`
	Host  string `mapstructure:"host" yaml:"host,omitempty"`
}

// LedgerConfig locates the run ledger database.
type LedgerConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// SamplingConfig bounds the commits sent to evaluation.
type SamplingConfig struct {
	CommitsPerUser    int `mapstructure:"commits_per_user" yaml:"commits_per_user"`
	TargetUserCommits int `mapstructure:"target_user_commits" yaml:"target_user_commits"`
	MaxUsers          int `mapstructure:"max_users" yaml:"max_users"` // 0 for all
}

// AgentConfig holds per-agent overrides.
type AgentConfig struct {
	ParsePolicy string `mapstructure:"parse_policy" yaml:"parse_policy,omitempty"` // fail or degrade
}

// AnalysisConfig configures the static analyzer.
type AnalysisConfig struct {
	Tools        []analysis.Tool `mapstructure:"tools" yaml:"tools,omitempty"`
	MaxFileBytes int64           `mapstructure:"max_file_bytes" yaml:"max_file_bytes"`
}

// RAGConfig configures the code index.
type RAGConfig struct {
	ChunkLines int    `mapstructure:"chunk_lines" yaml:"chunk_lines"`
	Collection string `mapstructure:"collection" yaml:"collection"`
}

// ReportConfig bounds what is passed to the evaluator.
type ReportConfig struct {
	DiffBytes int `mapstructure:"diff_bytes" yaml:"diff_bytes"`
}
