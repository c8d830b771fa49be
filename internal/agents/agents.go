// Package agents implements the agents of the default pipeline. Each agent is
// an agent.Typed built around the collaborators it is given; none of them
// reads configuration or global state.
package agents

import (
	"context"
	"path/filepath"

	"github.com/alsksssass/deepagent/internal/repo"
)

// Agent names, which are also their result keys.
const (
	RepoCloner        = "repo_cloner"
	StaticAnalyzer    = "static_analyzer"
	CommitAnalyzer    = "commit_analyzer"
	CodeRAGBuilder    = "code_rag_builder"
	CommitEvaluator   = "commit_evaluator"
	UserAggregator    = "user_aggregator"
	UserSkillProfiler = "user_skill_profiler"
	ReportSummarizer  = "report_summarizer"
	Reporter          = "reporter"
)

// Cloner acquires repositories.
type Cloner interface {
	Clone(ctx context.Context, locator, dir, name string) (repo.Checkout, error)
}

// History reads commit history from cloned repositories.
type History interface {
	Log(ctx context.Context, path, author string) ([]repo.Commit, error)
	Diff(ctx context.Context, path, hash string) (string, error)
}

// GraphPath is the commit graph database of a task.
func GraphPath(workDir string) string {
	return filepath.Join(workDir, "graph.db")
}

// IndexPath is the vector index database of a task.
func IndexPath(workDir string) string {
	return filepath.Join(workDir, "vectors.db")
}
