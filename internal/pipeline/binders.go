package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/alsksssass/deepagent/internal/agents"
	"github.com/alsksssass/deepagent/internal/graph"
	"github.com/alsksssass/deepagent/internal/orchestrator"
	"github.com/alsksssass/deepagent/internal/scheduler"
	"github.com/alsksssass/deepagent/internal/store"
)

// binders build agent contexts from persisted upstream results.
type binders struct {
	collection string
	sampling   Sampling
}

func (b *binders) clone(ctx context.Context, env scheduler.Env) (any, error) {
	return agents.CloneContext{WorkDir: env.Setup.WorkDir, Repos: env.Setup.Repos}, nil
}

func (b *binders) repos(ctx context.Context, env scheduler.Env) (any, error) {
	cloned, err := scheduler.Result[agents.CloneResult](ctx, env, agents.RepoCloner)
	if err != nil {
		return nil, err
	}
	return agents.RepoContext{WorkDir: env.Setup.WorkDir, Repos: cloned.Payload.Repos, User: env.Setup.User}, nil
}

func (b *binders) rag(ctx context.Context, env scheduler.Env) (any, error) {
	cloned, err := scheduler.Result[agents.CloneResult](ctx, env, agents.RepoCloner)
	if err != nil {
		return nil, err
	}
	return agents.RAGContext{WorkDir: env.Setup.WorkDir, Repos: cloned.Payload.Repos, Collection: b.collection}, nil
}

// optional loads the result of an optional agent. It returns nil when the
// result is missing, failed or degraded.
func optional[P any](ctx context.Context, env scheduler.Env, name string) (*P, error) {
	up, err := scheduler.Result[P](ctx, env, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if up.Degraded() {
		return nil, nil
	}
	return &up.Payload, nil
}

// sample reopens the task's commit graph and samples it. Binders that run
// after the evaluation level rely on getting the same sample again.
func (b *binders) sample(ctx context.Context, env scheduler.Env) ([]graph.CommitRef, error) {
	hist, err := scheduler.Result[agents.HistoryResult](ctx, env, agents.CommitAnalyzer)
	if err != nil {
		return nil, err
	}
	g, err := graph.Open(ctx, hist.Payload.Graph)
	if err != nil {
		return nil, err
	}
	defer g.Close()
	return Sample(ctx, g, env.Setup.User, b.sampling)
}

func (b *binders) commits(ctx context.Context, env scheduler.Env) ([]any, error) {
	cloned, err := scheduler.Result[agents.CloneResult](ctx, env, agents.RepoCloner)
	if err != nil {
		return nil, err
	}
	paths := make(map[string]string, len(cloned.Payload.Repos))
	for _, r := range cloned.Payload.Repos {
		paths[r.Name] = r.Path
	}

	rag, err := optional[agents.RAGResult](ctx, env, agents.CodeRAGBuilder)
	if err != nil {
		return nil, err
	}

	refs, err := b.sample(ctx, env)
	if err != nil {
		return nil, err
	}

	items := make([]any, 0, len(refs))
	for _, ref := range refs {
		path, ok := paths[ref.Repo]
		if !ok {
			return nil, fmt.Errorf("commit %s belongs to unknown repository %q", ref.Hash, ref.Repo)
		}
		item := agents.CommitItem{
			Repo:         ref.Repo,
			Path:         path,
			Hash:         ref.Hash,
			Author:       ref.AuthorName,
			Email:        ref.AuthorEmail,
			Message:      ref.Message,
			FilesChanged: ref.FilesChanged,
			Added:        ref.Added,
			Deleted:      ref.Deleted,
		}
		if rag != nil {
			item.Index = rag.Index
			item.Collection = rag.Collection
		}
		items = append(items, item)
	}
	return items, nil
}

// aggregate pairs every evaluation with the commit it was made for. Failed
// evaluations carry no commit identity of their own, so it is taken from the
// sample.
func (b *binders) aggregate(ctx context.Context, env scheduler.Env) (any, error) {
	refs, err := b.sample(ctx, env)
	if err != nil {
		return nil, err
	}
	results, err := scheduler.Batches[agents.Evaluation](ctx, env, agents.CommitEvaluator)
	if err != nil {
		return nil, err
	}
	if len(results) != len(refs) {
		return nil, fmt.Errorf("%d evaluations for %d sampled commits", len(results), len(refs))
	}

	in := agents.AggregateContext{User: env.Setup.User}
	for i, ref := range refs {
		ec := agents.EvaluatedCommit{
			Repo:       ref.Repo,
			Hash:       ref.Hash,
			Author:     ref.AuthorName,
			Email:      ref.AuthorEmail,
			Complexity: agents.ComplexityUnknown,
		}
		if r := results[i]; !r.Degraded() {
			ec.Succeeded = true
			ec.QualityScore = r.Payload.QualityScore
			ec.Complexity = r.Payload.Complexity
			ec.Technologies = r.Payload.Technologies
			ec.Evaluation = r.Payload.Evaluation
		}
		in.Commits = append(in.Commits, ec)
	}
	return in, nil
}

func (b *binders) profile(ctx context.Context, env scheduler.Env) (any, error) {
	agg, err := scheduler.Result[agents.Aggregate](ctx, env, agents.UserAggregator)
	if err != nil {
		return nil, err
	}
	in := agents.ProfileContext{Users: agg.Payload.Users}

	rag, err := optional[agents.RAGResult](ctx, env, agents.CodeRAGBuilder)
	if err != nil {
		return nil, err
	}
	if rag != nil {
		in.Index = rag.Index
		in.Collection = rag.Collection
	}
	return in, nil
}

func (b *binders) domain(ctx context.Context, env scheduler.Env) (any, error) {
	cloned, err := scheduler.Result[agents.CloneResult](ctx, env, agents.RepoCloner)
	if err != nil {
		return nil, err
	}
	agg, err := scheduler.Result[agents.Aggregate](ctx, env, agents.UserAggregator)
	if err != nil {
		return nil, err
	}
	in := agents.DomainContext{
		Repos:      cloned.Payload.Repos,
		Overall:    agg.Payload.Overall,
		Developers: len(agg.Payload.Users),
	}
	if in.Static, err = optional[agents.StaticResult](ctx, env, agents.StaticAnalyzer); err != nil {
		return nil, err
	}
	return in, nil
}

// domains loads the usable domain analyses in report order.
func domains(ctx context.Context, env scheduler.Env) ([]agents.DomainReport, []string, error) {
	var usable []agents.DomainReport
	var missing []string
	for _, d := range agents.Domains {
		r, err := optional[agents.DomainReport](ctx, env, d.Agent)
		if err != nil {
			return nil, nil, err
		}
		if r == nil {
			missing = append(missing, d.Agent)
			continue
		}
		usable = append(usable, *r)
	}
	return usable, missing, nil
}

func (b *binders) summarize(ctx context.Context, env scheduler.Env) (any, error) {
	agg, err := scheduler.Result[agents.Aggregate](ctx, env, agents.UserAggregator)
	if err != nil {
		return nil, err
	}
	in := agents.SummaryContext{
		User:       env.Setup.User,
		Overall:    agg.Payload.Overall,
		Developers: len(agg.Payload.Users),
	}
	if in.Domains, _, err = domains(ctx, env); err != nil {
		return nil, err
	}
	profiles, err := optional[agents.Profiles](ctx, env, agents.UserSkillProfiler)
	if err != nil {
		return nil, err
	}
	if profiles != nil {
		in.Profiles = profiles.Profiles
	}
	return in, nil
}

func (b *binders) report(ctx context.Context, env scheduler.Env) (any, error) {
	cloned, err := scheduler.Result[agents.CloneResult](ctx, env, agents.RepoCloner)
	if err != nil {
		return nil, err
	}
	hist, err := scheduler.Result[agents.HistoryResult](ctx, env, agents.CommitAnalyzer)
	if err != nil {
		return nil, err
	}
	agg, err := scheduler.Result[agents.Aggregate](ctx, env, agents.UserAggregator)
	if err != nil {
		return nil, err
	}

	in := agents.ReportContext{
		Task:      env.Task(),
		WorkDir:   env.Setup.WorkDir,
		User:      env.Setup.User,
		Repos:     cloned.Payload.Repos,
		History:   hist.Payload,
		Aggregate: agg.Payload,
	}

	if in.Static, err = optional[agents.StaticResult](ctx, env, agents.StaticAnalyzer); err != nil {
		return nil, err
	}
	if in.RAG, err = optional[agents.RAGResult](ctx, env, agents.CodeRAGBuilder); err != nil {
		return nil, err
	}
	if in.Profiles, err = optional[agents.Profiles](ctx, env, agents.UserSkillProfiler); err != nil {
		return nil, err
	}
	var missing []string
	if in.Domains, missing, err = domains(ctx, env); err != nil {
		return nil, err
	}
	if in.Summary, err = optional[agents.ExecutiveSummary](ctx, env, agents.ReportSummarizer); err != nil {
		return nil, err
	}

	if in.Static == nil {
		in.Degraded = append(in.Degraded, agents.StaticAnalyzer)
	}
	if in.RAG == nil {
		in.Degraded = append(in.Degraded, agents.CodeRAGBuilder)
	}
	if in.Profiles == nil {
		in.Degraded = append(in.Degraded, agents.UserSkillProfiler)
	}
	in.Degraded = append(in.Degraded, missing...)
	if in.Summary == nil {
		in.Degraded = append(in.Degraded, agents.ReportSummarizer)
	}
	if summary, err := scheduler.Result[orchestrator.BatchSummary](ctx, env, agents.CommitEvaluator); err == nil && summary.Degraded() {
		in.Degraded = append(in.Degraded, agents.CommitEvaluator)
	}
	return in, nil
}
