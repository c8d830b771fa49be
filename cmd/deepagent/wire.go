package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/alsksssass/deepagent/internal/analysis"
	"github.com/alsksssass/deepagent/internal/config"
	"github.com/alsksssass/deepagent/internal/events"
	"github.com/alsksssass/deepagent/internal/llm"
	"github.com/alsksssass/deepagent/internal/orchestrator"
	"github.com/alsksssass/deepagent/internal/persistence"
	"github.com/alsksssass/deepagent/internal/pipeline"
	"github.com/alsksssass/deepagent/internal/process"
	"github.com/alsksssass/deepagent/internal/repo"
	"github.com/alsksssass/deepagent/internal/resilience"
	"github.com/alsksssass/deepagent/internal/scheduler"
	"github.com/alsksssass/deepagent/internal/store"
	"github.com/alsksssass/deepagent/internal/vector"
)

// modelPrices are USD per million tokens, keyed by model name prefix.
var modelPrices = map[string]llm.Price{
	"claude-opus":                       {InputPerMillion: 15.0, OutputPerMillion: 75.0},
	"claude-sonnet":                     {InputPerMillion: 3.0, OutputPerMillion: 15.0},
	"claude-haiku":                      {InputPerMillion: 0.8, OutputPerMillion: 4.0},
	"us.anthropic.claude-opus":          {InputPerMillion: 15.0, OutputPerMillion: 75.0},
	"us.anthropic.claude-sonnet":        {InputPerMillion: 3.0, OutputPerMillion: 15.0},
	"us.anthropic.claude-3-5-haiku":     {InputPerMillion: 0.8, OutputPerMillion: 4.0},
	"global.anthropic.claude-sonnet":    {InputPerMillion: 3.0, OutputPerMillion: 15.0},
	"global.anthropic.claude-haiku-4-5": {InputPerMillion: 1.0, OutputPerMillion: 5.0},
}

// app holds the collaborators of one run.
type app struct {
	cfg      *config.Config
	logger   *log.Logger
	procs    *process.Manager
	store    *store.Store
	ledger   *persistence.SQLiteStore
	usage    *llm.Accountant
	pipeline *scheduler.Pipeline
}

// newApp wires the result store, the inference client, the default pipeline
// and the run ledger from cfg.
func newApp(ctx context.Context, cfg *config.Config, procs *process.Manager, logger *log.Logger) (*app, error) {
	st, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	breakers := resilience.NewBreakers(logger)
	retry := cfg.RetryPolicy()

	client, err := newClient(ctx, cfg, procs)
	if err != nil {
		return nil, err
	}
	fallback := llm.DefaultPrice
	if cfg.LLM.Provider == "ollama" {
		fallback = llm.Price{}
	}
	usage := llm.NewAccountant(modelPrices, fallback)
	caller := llm.NewCaller(client, llm.CallerConfig{
		Usage:     usage,
		Breakers:  breakers,
		Retry:     retry,
		MaxTokens: cfg.LLM.MaxTokens,
		Logger:    logger,
	})

	embedder, err := newEmbedder(cfg, breakers, retry)
	if err != nil {
		return nil, err
	}
	if embedder == nil {
		logger.Printf("WARNING: embedding.model is not set; the code index will be degraded")
	}

	policies, err := cfg.ParsePolicies()
	if err != nil {
		return nil, err
	}

	source := repo.NewSource(repo.SourceConfig{Procs: procs, Breakers: breakers, Retry: retry})
	p, err := pipeline.Build(pipeline.Config{
		Cloner:       source,
		History:      source,
		Tools:        &analysis.Runner{Tools: cfg.Analysis.Tools, Procs: procs},
		MaxFileBytes: cfg.Analysis.MaxFileBytes,
		Embedder:     embedder,
		LLM:          caller,
		Policies:     policies,
		Sampling: pipeline.Sampling{
			CommitsPerUser:    cfg.Sampling.CommitsPerUser,
			TargetUserCommits: cfg.Sampling.TargetUserCommits,
			MaxUsers:          cfg.Sampling.MaxUsers,
		},
		Collection: cfg.RAG.Collection,
		ChunkLines: cfg.RAG.ChunkLines,
		DiffBytes:  cfg.Report.DiffBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("building pipeline: %w", err)
	}

	ledger, err := persistence.NewSQLiteStore(ctx, cfg.Ledger.Path)
	if err != nil {
		return nil, fmt.Errorf("opening run ledger: %w", err)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		procs:    procs,
		store:    st,
		ledger:   ledger,
		usage:    usage,
		pipeline: p,
	}, nil
}

// newOrchestrator creates the orchestrator of a run publishing to bus.
func (a *app) newOrchestrator(bus events.Publisher, resume bool) (*orchestrator.Orchestrator, error) {
	return orchestrator.New(orchestrator.Config{
		Pipeline:        a.pipeline,
		Store:           a.store,
		WorkDir:         a.cfg.WorkDir,
		Logger:          a.logger,
		Events:          bus,
		Ledger:          a.ledger,
		Usage:           a.usage,
		MaxAgents:       a.cfg.Concurrency.MaxAgents,
		BatchSize:       a.cfg.Concurrency.BatchSize,
		AgentTimeout:    a.cfg.Timeouts.Agent,
		WorkflowTimeout: a.cfg.Timeouts.Workflow,
		Retry:           a.cfg.RetryPolicy(),
		Resume:          resume,
	})
}

// levelNames returns the pipeline level names in execution order.
func (a *app) levelNames() []string {
	var names []string
	for _, l := range a.pipeline.Levels() {
		names = append(names, l.Name)
	}
	return names
}

func (a *app) Close() error {
	return a.ledger.Close()
}

// newStore opens the result store: files under work_dir, or an S3 bucket.
func newStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	switch cfg.Storage.Backend {
	case "s3":
		backend, err := store.NewS3Backend(ctx, store.S3Config{
			Bucket:  cfg.Storage.Bucket,
			Prefix:  cfg.Storage.Prefix,
			Region:  cfg.Storage.Region,
			Profile: cfg.Storage.Profile,
		})
		if err != nil {
			return nil, err
		}
		return store.New(backend), nil
	case "local", "":
		backend, err := store.NewFileBackend(cfg.WorkDir)
		if err != nil {
			return nil, err
		}
		return store.New(backend), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// newClient creates the inference client of the configured provider.
func newClient(ctx context.Context, cfg *config.Config, procs *process.Manager) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "anthropic", "bedrock":
		return llm.NewAnthropic(ctx, llm.AnthropicConfig{
			Model:      cfg.LLM.Model,
			APIKey:     cfg.LLM.APIKey,
			UseBedrock: cfg.LLM.Provider == "bedrock",
			AWSRegion:  cfg.LLM.AWSRegion,
			AWSProfile: cfg.LLM.AWSProfile,
		})
	case "ollama":
		client, err := llm.NewOllamaAPI(cfg.LLM.OllamaHost)
		if err != nil {
			return nil, err
		}
		return llm.NewOllama(client, cfg.LLM.Model)
	case "claude-cli":
		return llm.NewClaudeCLI(llm.ClaudeCLIConfig{
			Binary:  cfg.LLM.CLIBinary,
			Model:   cfg.LLM.Model,
			WorkDir: cfg.WorkDir,
		}, procs), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q (want one of %s)", cfg.LLM.Provider, strings.Join(config.Providers, ", "))
	}
}

// newEmbedder returns the code index embedder, or nil when no embedding
// model is configured.
func newEmbedder(cfg *config.Config, breakers *resilience.Breakers, retry resilience.RetryConfig) (vector.Embedder, error) {
	if cfg.Embedding.Model == "" {
		return nil, nil
	}
	host := cfg.Embedding.Host
	if host == "" {
		host = cfg.LLM.OllamaHost
	}
	client, err := llm.NewOllamaAPI(host)
	if err != nil {
		return nil, err
	}
	return vector.NewOllamaEmbedder(client, cfg.Embedding.Model, breakers, retry)
}
