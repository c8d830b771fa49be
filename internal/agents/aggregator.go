package agents

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"

	"github.com/alsksssass/deepagent/internal/agent"
)

// EvaluatedCommit is one commit_evaluator outcome as seen by the aggregator.
type EvaluatedCommit struct {
	Repo         string   `json:"repo"`
	Hash         string   `json:"hash"`
	Author       string   `json:"author"`
	Email        string   `json:"email"`
	Succeeded    bool     `json:"succeeded"`
	QualityScore float64  `json:"quality_score"`
	Complexity   string   `json:"complexity"`
	Technologies []string `json:"technologies,omitempty"`
	Evaluation   string   `json:"evaluation,omitempty"`
}

// AggregateContext is the input of user_aggregator.
type AggregateContext struct {
	User    string            `json:"user,omitempty"`
	Commits []EvaluatedCommit `json:"commits,omitempty"`
}

// Quality summarizes the quality scores of successful evaluations.
type Quality struct {
	Average float64 `json:"average"`
	Median  float64 `json:"median"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	StdDev  float64 `json:"std_dev"` // Sample standard deviation
}

// Bucket is one quality score range.
type Bucket struct {
	Range string `json:"range"`
	Count int    `json:"count"`
}

// TechCount is how many evaluated commits used a technology.
type TechCount struct {
	Name    string `json:"name"`
	Commits int    `json:"commits"`
}

// ComplexityShare is the share of one complexity level.
type ComplexityShare struct {
	Level   string  `json:"level"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

// Stats are the aggregate statistics of a set of evaluations.
type Stats struct {
	TotalCommits       int               `json:"total_commits"`
	Successful         int               `json:"successful"`
	Failed             int               `json:"failed"`
	Quality            Quality           `json:"quality"`
	Distribution       []Bucket          `json:"distribution,omitempty"`
	TopTechnologies    []TechCount       `json:"top_technologies,omitempty"` // At most 10, most used first
	UniqueTechnologies int               `json:"unique_technologies"`
	Complexity         []ComplexityShare `json:"complexity,omitempty"`
}

// UserStats are the statistics of one author.
type UserStats struct {
	Email      string   `json:"email"`
	Name       string   `json:"name"`
	Stats      Stats    `json:"stats"`
	Highlights []string `json:"highlights,omitempty"` // Evaluations of the best scored commits
}

// Aggregate is the payload of user_aggregator.
type Aggregate struct {
	User    string      `json:"user,omitempty"`
	Overall Stats       `json:"overall"`
	Users   []UserStats `json:"users,omitempty"` // Most commits first
}

const (
	topTechnologies = 10
	maxHighlights   = 5
)

// NewUserAggregator reduces the commit evaluations into per-user and overall
// statistics. Having no evaluations at all is an error.
func NewUserAggregator() *agent.Typed[AggregateContext, Aggregate] {
	return agent.Define(UserAggregator, agent.KindAggregator, func(ctx context.Context, inv agent.Invocation, in AggregateContext) (Aggregate, error) {
		if len(in.Commits) == 0 {
			return Aggregate{}, errors.New("no evaluations to aggregate")
		}

		out := Aggregate{User: in.User, Overall: Summarize(in.Commits)}

		byUser := make(map[string][]EvaluatedCommit)
		var order []string
		for _, c := range in.Commits {
			key := strings.ToLower(c.Email)
			if key == "" {
				key = c.Author
			}
			if _, ok := byUser[key]; !ok {
				order = append(order, key)
			}
			byUser[key] = append(byUser[key], c)
		}

		for _, key := range order {
			commits := byUser[key]
			out.Users = append(out.Users, UserStats{
				Email:      key,
				Name:       commits[0].Author,
				Stats:      Summarize(commits),
				Highlights: highlights(commits),
			})
		}
		sort.SliceStable(out.Users, func(i, j int) bool {
			return out.Users[i].Stats.TotalCommits > out.Users[j].Stats.TotalCommits
		})
		return out, nil
	})
}

// Summarize computes the statistics of commits. Only successful evaluations
// contribute scores, technologies and complexity.
func Summarize(commits []EvaluatedCommit) Stats {
	st := Stats{TotalCommits: len(commits)}

	var scores []float64
	techs := make(map[string]int)
	levels := make(map[string]int)
	for _, c := range commits {
		if !c.Succeeded {
			st.Failed++
			continue
		}
		st.Successful++
		scores = append(scores, c.QualityScore)
		for _, t := range c.Technologies {
			techs[t]++
		}
		level := strings.ToLower(c.Complexity)
		if level != ComplexityLow && level != ComplexityMedium && level != ComplexityHigh {
			level = ComplexityUnknown
		}
		levels[level]++
	}

	if len(scores) > 0 {
		st.Quality = quality(scores)
		st.Distribution = distribution(scores)
	}

	st.UniqueTechnologies = len(techs)
	for name, n := range techs {
		st.TopTechnologies = append(st.TopTechnologies, TechCount{Name: name, Commits: n})
	}
	sort.Slice(st.TopTechnologies, func(i, j int) bool {
		a, b := st.TopTechnologies[i], st.TopTechnologies[j]
		if a.Commits != b.Commits {
			return a.Commits > b.Commits
		}
		return a.Name < b.Name
	})
	if len(st.TopTechnologies) > topTechnologies {
		st.TopTechnologies = st.TopTechnologies[:topTechnologies]
	}

	if st.Successful > 0 {
		for _, level := range complexities {
			st.Complexity = append(st.Complexity, ComplexityShare{
				Level:   level,
				Count:   levels[level],
				Percent: round(float64(levels[level])*100/float64(st.Successful), 1),
			})
		}
	}
	return st
}

func quality(scores []float64) Quality {
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)

	var sum float64
	for _, s := range sorted {
		sum += s
	}
	mean := sum / float64(len(sorted))

	var median float64
	if n := len(sorted); n%2 == 1 {
		median = sorted[n/2]
	} else {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	var stdDev float64
	if len(sorted) > 1 {
		var ss float64
		for _, s := range sorted {
			ss += (s - mean) * (s - mean)
		}
		stdDev = math.Sqrt(ss / float64(len(sorted)-1))
	}

	return Quality{
		Average: round(mean, 2),
		Median:  round(median, 2),
		Min:     round(sorted[0], 2),
		Max:     round(sorted[len(sorted)-1], 2),
		StdDev:  round(stdDev, 2),
	}
}

// distribution buckets scores into [0,2) [2,4) [4,6) [6,8) [8,10].
func distribution(scores []float64) []Bucket {
	buckets := []Bucket{{Range: "0-2"}, {Range: "2-4"}, {Range: "4-6"}, {Range: "6-8"}, {Range: "8-10"}}
	for _, s := range scores {
		i := int(s / 2)
		i = max(0, min(i, len(buckets)-1))
		buckets[i].Count++
	}
	return buckets
}

func highlights(commits []EvaluatedCommit) []string {
	var ok []EvaluatedCommit
	for _, c := range commits {
		if c.Succeeded && c.Evaluation != "" {
			ok = append(ok, c)
		}
	}
	sort.SliceStable(ok, func(i, j int) bool {
		return ok[i].QualityScore > ok[j].QualityScore
	})

	var out []string
	for i := 0; i < len(ok) && i < maxHighlights; i++ {
		out = append(out, ok[i].Evaluation)
	}
	return out
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
