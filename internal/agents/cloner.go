package agents

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/alsksssass/deepagent/internal/agent"
	"github.com/alsksssass/deepagent/internal/repo"
)

// CloneContext is the input of repo_cloner.
type CloneContext struct {
	WorkDir string   `json:"work_dir"`
	Repos   []string `json:"repos,omitempty"`
}

// CloneResult lists the cloned repositories in input order.
type CloneResult struct {
	Repos []repo.Checkout `json:"repos,omitempty"`
}

// NewRepoCloner clones every repository of the task into <work_dir>/repos.
// Any clone failure fails the agent.
func NewRepoCloner(c Cloner) *agent.Typed[CloneContext, CloneResult] {
	return agent.Define(RepoCloner, agent.KindCollector, func(ctx context.Context, inv agent.Invocation, in CloneContext) (CloneResult, error) {
		if len(in.Repos) == 0 {
			return CloneResult{}, &agent.ValidationError{Agent: RepoCloner, Err: errors.New("no repositories to clone")}
		}
		for _, loc := range in.Repos {
			if err := repo.ValidateLocator(loc); err != nil {
				return CloneResult{}, &agent.ValidationError{Agent: RepoCloner, Err: err}
			}
		}

		dir := filepath.Join(in.WorkDir, "repos")
		used := make(map[string]int)

		var out CloneResult
		for _, loc := range in.Repos {
			name := uniqueName(repo.Name(loc), used)
			co, err := c.Clone(ctx, loc, dir, name)
			if err != nil {
				return CloneResult{}, fmt.Errorf("failed to clone %s: %w", loc, err)
			}
			out.Repos = append(out.Repos, co)
		}
		return out, nil
	})
}

// uniqueName suffixes repeated names with -2, -3, ...
func uniqueName(name string, used map[string]int) string {
	used[name]++
	n := used[name]
	if n == 1 {
		return name
	}
	for {
		candidate := fmt.Sprintf("%s-%d", name, n)
		if used[candidate] == 0 {
			used[candidate] = 1
			return candidate
		}
		n++
	}
}
