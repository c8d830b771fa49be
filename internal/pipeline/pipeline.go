// Package pipeline assembles the fixed default pipeline: the agents, their
// levels and the binders that build each agent's context from the task
// environment.
package pipeline

import (
	"errors"

	"github.com/alsksssass/deepagent/internal/agents"
	"github.com/alsksssass/deepagent/internal/analysis"
	"github.com/alsksssass/deepagent/internal/llm"
	"github.com/alsksssass/deepagent/internal/prompt"
	"github.com/alsksssass/deepagent/internal/scheduler"
	"github.com/alsksssass/deepagent/internal/vector"
)

// Level names of the default pipeline.
const (
	LevelClone     = "clone"
	LevelAnalyze   = "analyze"
	LevelEvaluate  = "evaluate"
	LevelAggregate = "aggregate"
	LevelProfile   = "profile"
	LevelDomain    = "domain"
	LevelSummarize = "summarize"
	LevelReport    = "report"
)

// Config holds the collaborators and settings of the default pipeline.
type Config struct {
	Cloner       agents.Cloner
	History      agents.History
	Tools        *analysis.Runner // Optional
	MaxFileBytes int64
	Embedder     vector.Embedder // Optional; without it the code index level degrades
	LLM          *llm.Caller
	Prompts      *prompt.Catalog            // Defaults to prompt.Default()
	Policies     map[string]llm.ParsePolicy // Per agent; unset agents use their default
	Sampling     Sampling
	Collection   string // Vector collection (default "code")
	ChunkLines   int    // Lines per indexed chunk (default 40)
	DiffBytes    int    // Diff bytes shown per commit (default 12000)
	MaxProfiles  int    // Developers profiled (default 5)
}

// DefaultPolicies are the parse policies of the LLM-backed agents.
var DefaultPolicies = map[string]llm.ParsePolicy{
	agents.CommitEvaluator:     llm.ParseFail,
	agents.UserSkillProfiler:   llm.ParseDegrade,
	agents.SecurityAnalyst:     llm.ParseDegrade,
	agents.PerformanceAnalyst:  llm.ParseDegrade,
	agents.QualityAnalyst:      llm.ParseDegrade,
	agents.ArchitectureAnalyst: llm.ParseDegrade,
	agents.ReportSummarizer:    llm.ParseDegrade,
}

func (c Config) policy(name string) llm.ParsePolicy {
	if p, ok := c.Policies[name]; ok {
		return p
	}
	return DefaultPolicies[name]
}

// Build assembles and validates the default pipeline:
//
//	clone      sequential        repo_cloner (mandatory)
//	analyze    parallel          static_analyzer (optional), commit_analyzer (mandatory), code_rag_builder (optional)
//	evaluate   parallel-batched  commit_evaluator (mandatory)
//	aggregate  sequential        user_aggregator (mandatory)
//	profile    sequential        user_skill_profiler (optional)
//	domain     parallel          security_analyst, performance_analyst, quality_analyst, architecture_analyst (optional)
//	summarize  sequential        report_summarizer (optional)
//	report     sequential        reporter (mandatory)
func Build(cfg Config) (*scheduler.Pipeline, error) {
	if cfg.Cloner == nil || cfg.History == nil {
		return nil, errors.New("repository source must be set")
	}
	if cfg.LLM == nil {
		return nil, errors.New("inference caller must be set")
	}
	if cfg.Prompts == nil {
		c, err := prompt.Default()
		if err != nil {
			return nil, err
		}
		cfg.Prompts = c
	}
	if cfg.Collection == "" {
		cfg.Collection = "code"
	}

	evalPrompt, err := prompt.Bind[agents.Assessment](cfg.Prompts, "commit_evaluation")
	if err != nil {
		return nil, err
	}
	profilePrompt, err := prompt.Bind[agents.SkillProfile](cfg.Prompts, "skill_profile")
	if err != nil {
		return nil, err
	}

	summaryPrompt, err := prompt.Bind[agents.ExecutiveSummary](cfg.Prompts, "report_summary")
	if err != nil {
		return nil, err
	}

	b := &binders{collection: cfg.Collection, sampling: cfg.Sampling}

	analysts := make([]scheduler.AgentSpec, 0, len(agents.Domains))
	analystNames := make([]string, 0, len(agents.Domains))
	for _, d := range agents.Domains {
		p, err := prompt.Bind[agents.DomainAnalysis](cfg.Prompts, d.Template)
		if err != nil {
			return nil, err
		}
		analysts = append(analysts, scheduler.AgentSpec{
			Agent: agents.NewDomainAnalyst(d, agents.DomainConfig{
				LLM:    cfg.LLM,
				Prompt: p,
				Policy: cfg.policy(d.Agent),
			}),
			Criticality: scheduler.Optional,
			Bind:        b.domain,
		})
		analystNames = append(analystNames, d.Agent)
	}

	levels := []scheduler.Level{
		{
			Name: LevelClone,
			Mode: scheduler.Sequential,
			Agents: []scheduler.AgentSpec{
				{Agent: agents.NewRepoCloner(cfg.Cloner), Criticality: scheduler.Mandatory, Bind: b.clone},
			},
			DependsOn: []string{scheduler.SetupKey},
		},
		{
			Name: LevelAnalyze,
			Mode: scheduler.Parallel,
			Agents: []scheduler.AgentSpec{
				{
					Agent:       agents.NewStaticAnalyzer(agents.StaticConfig{Runner: cfg.Tools, MaxFileBytes: cfg.MaxFileBytes}),
					Criticality: scheduler.Optional,
					Bind:        b.repos,
				},
				{Agent: agents.NewCommitAnalyzer(cfg.History), Criticality: scheduler.Mandatory, Bind: b.repos},
				{
					Agent: agents.NewCodeRAGBuilder(agents.RAGConfig{
						Embedder:     cfg.Embedder,
						ChunkLines:   cfg.ChunkLines,
						MaxFileBytes: cfg.MaxFileBytes,
					}),
					Criticality: scheduler.Optional,
					Bind:        b.rag,
				},
			},
			DependsOn: []string{agents.RepoCloner},
		},
		{
			Name: LevelEvaluate,
			Mode: scheduler.Batched,
			Agents: []scheduler.AgentSpec{
				{
					Agent: agents.NewCommitEvaluator(agents.EvaluatorConfig{
						LLM:      cfg.LLM,
						Prompt:   evalPrompt,
						Policy:   cfg.policy(agents.CommitEvaluator),
						Diffs:    cfg.History,
						MaxDiff:  cfg.DiffBytes,
						Embedder: cfg.Embedder,
					}),
					Criticality: scheduler.Mandatory,
					Items:       b.commits,
				},
			},
			DependsOn: []string{agents.RepoCloner, agents.CommitAnalyzer, agents.CodeRAGBuilder},
		},
		{
			Name: LevelAggregate,
			Mode: scheduler.Sequential,
			Agents: []scheduler.AgentSpec{
				{Agent: agents.NewUserAggregator(), Criticality: scheduler.Mandatory, Bind: b.aggregate},
			},
			DependsOn: []string{agents.CommitAnalyzer, agents.CommitEvaluator},
		},
		{
			Name: LevelProfile,
			Mode: scheduler.Sequential,
			Agents: []scheduler.AgentSpec{
				{
					Agent: agents.NewUserSkillProfiler(agents.ProfilerConfig{
						LLM:      cfg.LLM,
						Prompt:   profilePrompt,
						Policy:   cfg.policy(agents.UserSkillProfiler),
						Embedder: cfg.Embedder,
						MaxUsers: cfg.MaxProfiles,
					}),
					Criticality: scheduler.Optional,
					Bind:        b.profile,
				},
			},
			DependsOn: []string{agents.UserAggregator, agents.CodeRAGBuilder},
		},
		{
			Name:      LevelDomain,
			Mode:      scheduler.Parallel,
			Agents:    analysts,
			DependsOn: []string{agents.RepoCloner, agents.StaticAnalyzer, agents.UserAggregator},
		},
		{
			Name: LevelSummarize,
			Mode: scheduler.Sequential,
			Agents: []scheduler.AgentSpec{
				{
					Agent: agents.NewReportSummarizer(agents.SummaryConfig{
						LLM:    cfg.LLM,
						Prompt: summaryPrompt,
						Policy: cfg.policy(agents.ReportSummarizer),
					}),
					Criticality: scheduler.Optional,
					Bind:        b.summarize,
				},
			},
			DependsOn: append([]string{agents.UserAggregator, agents.UserSkillProfiler}, analystNames...),
		},
		{
			Name: LevelReport,
			Mode: scheduler.Sequential,
			Agents: []scheduler.AgentSpec{
				{Agent: agents.NewReporter(), Criticality: scheduler.Mandatory, Bind: b.report},
			},
			DependsOn: []string{agents.RepoCloner, agents.CommitAnalyzer, agents.UserAggregator},
		},
	}

	return scheduler.NewPipeline(levels)
}
