package agents

import (
	"context"
	"errors"
	"fmt"

	"github.com/alsksssass/deepagent/internal/agent"
	"github.com/alsksssass/deepagent/internal/analysis"
	"github.com/alsksssass/deepagent/internal/repo"
)

// RepoContext is the input of agents that work on the cloned repositories.
type RepoContext struct {
	WorkDir string          `json:"work_dir"`
	Repos   []repo.Checkout `json:"repos,omitempty"`
	User    string          `json:"user,omitempty"`
}

// RepoAnalysis is the static analysis of one repository.
type RepoAnalysis struct {
	Repo  string                `json:"repo"`
	Lines analysis.LineStats    `json:"lines"`
	Tools []analysis.ToolResult `json:"tools,omitempty"`
	Error string                `json:"error,omitempty"`
}

// StaticResult is the payload of static_analyzer.
type StaticResult struct {
	Repos []RepoAnalysis `json:"repos,omitempty"`
}

// StaticConfig configures static_analyzer.
type StaticConfig struct {
	Runner       *analysis.Runner // Optional external tools
	MaxFileBytes int64            // Files above this size are not counted (0 for no limit)
}

// NewStaticAnalyzer counts lines per language and runs the configured
// analysis tools in every repository. A repository that cannot be analyzed is
// recorded with an error; the agent fails only when none could.
func NewStaticAnalyzer(cfg StaticConfig) *agent.Typed[RepoContext, StaticResult] {
	return agent.Define(StaticAnalyzer, agent.KindCollector, func(ctx context.Context, inv agent.Invocation, in RepoContext) (StaticResult, error) {
		var out StaticResult
		var errs []error

		for _, co := range in.Repos {
			ra := RepoAnalysis{Repo: co.Name}

			lines, err := analysis.CountLines(ctx, co.Path, cfg.MaxFileBytes)
			if err != nil {
				if ctx.Err() != nil {
					return StaticResult{}, &agent.ExternalCallError{Op: "static analysis", Attempts: 1, Err: ctx.Err()}
				}
				ra.Error = err.Error()
				errs = append(errs, fmt.Errorf("%s: %w", co.Name, err))
				agent.Warn(ctx, "line count of %s failed: %v", co.Name, err)
			}
			ra.Lines = lines

			if cfg.Runner != nil && len(cfg.Runner.Tools) > 0 {
				ra.Tools = cfg.Runner.Run(ctx, co.Path)
			}
			out.Repos = append(out.Repos, ra)
		}

		if len(in.Repos) > 0 && len(errs) == len(in.Repos) {
			return StaticResult{}, errors.Join(errs...)
		}
		return out, nil
	})
}
