package agents

import (
	"context"
	"errors"
	"fmt"

	"github.com/alsksssass/deepagent/internal/agent"
	"github.com/alsksssass/deepagent/internal/graph"
)

// HistoryResult is the payload of commit_analyzer.
type HistoryResult struct {
	Graph   string         `json:"graph"` // Graph database path
	Commits int            `json:"commits"`
	Users   int            `json:"users"`
	Files   int            `json:"files"`
	Authors []graph.Author `json:"authors,omitempty"` // Most commits first
}

// NewCommitAnalyzer reads the history of every repository and ingests it into
// the task's commit graph. With a user filter only that user's commits are
// ingested, and finding none is an error.
func NewCommitAnalyzer(h History) *agent.Typed[RepoContext, HistoryResult] {
	return agent.Define(CommitAnalyzer, agent.KindCollector, func(ctx context.Context, inv agent.Invocation, in RepoContext) (HistoryResult, error) {
		if len(in.Repos) == 0 {
			return HistoryResult{}, &agent.ValidationError{Agent: CommitAnalyzer, Err: errors.New("no repositories to analyze")}
		}

		path := GraphPath(in.WorkDir)
		g, err := graph.Open(ctx, path)
		if err != nil {
			return HistoryResult{}, err
		}
		defer g.Close()

		for _, co := range in.Repos {
			commits, err := h.Log(ctx, co.Path, in.User)
			if err != nil {
				return HistoryResult{}, err
			}
			if _, err := g.Ingest(ctx, co.Name, commits); err != nil {
				return HistoryResult{}, fmt.Errorf("failed to ingest %s: %w", co.Name, err)
			}
		}

		stats, err := g.Stats(ctx)
		if err != nil {
			return HistoryResult{}, err
		}
		if in.User != "" && stats.Commits == 0 {
			return HistoryResult{}, fmt.Errorf("no commits by %q in %d repositories", in.User, len(in.Repos))
		}

		authors, err := g.Authors(ctx)
		if err != nil {
			return HistoryResult{}, err
		}

		return HistoryResult{
			Graph:   path,
			Commits: stats.Commits,
			Users:   stats.Users,
			Files:   stats.Files,
			Authors: authors,
		}, nil
	})
}
