package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/alsksssass/deepagent/internal/graph"
)

// Sampling bounds how many commits are evaluated.
type Sampling struct {
	CommitsPerUser    int // Newest commits per author (default 20)
	TargetUserCommits int // Newest commits of the target user (default 100)
	MaxUsers          int // Authors evaluated, most commits first; 0 for all
}

func (s Sampling) withDefaults() Sampling {
	if s.CommitsPerUser <= 0 {
		s.CommitsPerUser = 20
	}
	if s.TargetUserCommits <= 0 {
		s.TargetUserCommits = 100
	}
	return s
}

// Sample selects the commits to evaluate from the graph. Without a target
// user, authors are taken in order of commit count, each with their newest
// commits. With one, the graph holds only that user's commits and the newest
// of them are taken across all their addresses. The result is deterministic
// for a given graph.
func Sample(ctx context.Context, g *graph.Store, user string, s Sampling) ([]graph.CommitRef, error) {
	s = s.withDefaults()

	authors, err := g.Authors(ctx)
	if err != nil {
		return nil, err
	}

	if user != "" {
		var all []graph.CommitRef
		for _, a := range authors {
			refs, err := g.CommitsBy(ctx, a.Email, s.TargetUserCommits)
			if err != nil {
				return nil, err
			}
			all = append(all, refs...)
		}
		sort.SliceStable(all, func(i, j int) bool {
			a, b := all[i], all[j]
			if !a.AuthoredAt.Equal(b.AuthoredAt) {
				return a.AuthoredAt.After(b.AuthoredAt)
			}
			if a.Repo != b.Repo {
				return a.Repo < b.Repo
			}
			return a.Hash < b.Hash
		})
		if len(all) > s.TargetUserCommits {
			all = all[:s.TargetUserCommits]
		}
		return all, nil
	}

	if s.MaxUsers > 0 && len(authors) > s.MaxUsers {
		authors = authors[:s.MaxUsers]
	}

	var out []graph.CommitRef
	for _, a := range authors {
		refs, err := g.CommitsBy(ctx, a.Email, s.CommitsPerUser)
		if err != nil {
			return nil, fmt.Errorf("failed to sample commits of %s: %w", a.Email, err)
		}
		out = append(out, refs...)
	}
	return out, nil
}
