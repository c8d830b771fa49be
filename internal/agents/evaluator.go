package agents

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/alsksssass/deepagent/internal/agent"
	"github.com/alsksssass/deepagent/internal/llm"
	"github.com/alsksssass/deepagent/internal/prompt"
	"github.com/alsksssass/deepagent/internal/vector"
)

// CommitItem is the input of one commit_evaluator invocation.
type CommitItem struct {
	Repo         string `json:"repo"`
	Path         string `json:"path"` // Working tree of the repository
	Hash         string `json:"hash"`
	Author       string `json:"author"`
	Email        string `json:"email"`
	Message      string `json:"message"`
	FilesChanged int    `json:"files_changed"`
	Added        int    `json:"added"`
	Deleted      int    `json:"deleted"`
	Index        string `json:"index,omitempty"` // Vector index path, empty when none was built
	Collection   string `json:"collection,omitempty"`
}

// Complexity levels of a commit.
const (
	ComplexityLow     = "low"
	ComplexityMedium  = "medium"
	ComplexityHigh    = "high"
	ComplexityUnknown = "unknown"
)

var complexities = []string{ComplexityLow, ComplexityMedium, ComplexityHigh, ComplexityUnknown}

// Assessment is the model's answer for one commit.
type Assessment struct {
	QualityScore float64  `json:"quality_score" jsonschema:"code quality from 0.0 to 10.0"`
	Complexity   string   `json:"complexity" jsonschema:"one of low, medium, high, unknown"`
	Technologies []string `json:"technologies,omitempty" jsonschema:"languages, frameworks and libraries visible in the diff"`
	Evaluation   string   `json:"evaluation" jsonschema:"two or three sentence review"`
}

// Validate checks the value constraints the schema cannot express.
func (a Assessment) Validate() error {
	if a.QualityScore < 0 || a.QualityScore > 10 || math.IsNaN(a.QualityScore) {
		return fmt.Errorf("quality_score %v is outside 0-10", a.QualityScore)
	}
	for _, c := range complexities {
		if strings.EqualFold(a.Complexity, c) {
			return nil
		}
	}
	return fmt.Errorf("complexity %q is not one of %s", a.Complexity, strings.Join(complexities, ", "))
}

// Evaluation is the payload of commit_evaluator.
type Evaluation struct {
	Repo         string   `json:"repo"`
	Hash         string   `json:"hash"`
	Author       string   `json:"author"`
	Email        string   `json:"email"`
	QualityScore float64  `json:"quality_score"`
	Complexity   string   `json:"complexity"`
	Technologies []string `json:"technologies,omitempty"`
	Evaluation   string   `json:"evaluation"`
}

// EvaluatorConfig configures commit_evaluator.
type EvaluatorConfig struct {
	LLM           *llm.Caller
	Prompt        *prompt.Bound[Assessment] // commit_evaluation template
	Policy        llm.ParsePolicy
	Diffs         History
	MaxDiff       int             // Bytes of diff shown to the model (default 12000)
	Embedder      vector.Embedder // Optional; enables related-code context
	RelatedChunks int             // Related chunks per commit (default 3)
}

type snippet struct {
	Path      string
	StartLine int
	EndLine   int
	Content   string
}

type commitData struct {
	Repo         string
	Hash         string
	Author       string
	Message      string
	FilesChanged int
	Added        int
	Deleted      int
	Diff         string
	MaxDiff      int
	Related      []snippet
}

// NewCommitEvaluator scores one commit with the model. Related code from the
// vector index is added to the prompt when available; failing to fetch it
// only produces a warning.
func NewCommitEvaluator(cfg EvaluatorConfig) *agent.Typed[CommitItem, Evaluation] {
	if cfg.MaxDiff <= 0 {
		cfg.MaxDiff = 12000
	}
	if cfg.RelatedChunks <= 0 {
		cfg.RelatedChunks = 3
	}

	a := agent.Define(CommitEvaluator, agent.KindEvaluator, func(ctx context.Context, inv agent.Invocation, in CommitItem) (Evaluation, error) {
		diff, err := cfg.Diffs.Diff(ctx, in.Path, in.Hash)
		if err != nil {
			if ctx.Err() != nil {
				return Evaluation{}, &agent.ExternalCallError{Op: "diff", Attempts: 1, Err: err}
			}
			return Evaluation{}, &agent.ValidationError{Agent: CommitEvaluator, Err: err}
		}

		data := commitData{
			Repo:         in.Repo,
			Hash:         in.Hash,
			Author:       in.Author,
			Message:      strings.TrimSpace(in.Message),
			FilesChanged: in.FilesChanged,
			Added:        in.Added,
			Deleted:      in.Deleted,
			Diff:         diff,
			MaxDiff:      cfg.MaxDiff,
			Related:      related(ctx, cfg, in, diff),
		}

		got, err := llm.Structured(ctx, cfg.LLM, CommitEvaluator, cfg.Prompt, data, cfg.Policy)
		if err != nil {
			return Evaluation{}, err
		}

		return Evaluation{
			Repo:         in.Repo,
			Hash:         in.Hash,
			Author:       in.Author,
			Email:        in.Email,
			QualityScore: math.Round(got.QualityScore*10) / 10,
			Complexity:   strings.ToLower(got.Complexity),
			Technologies: dedupe(got.Technologies),
			Evaluation:   strings.TrimSpace(got.Evaluation),
		}, nil
	})

	return a.WithDefault(func() Evaluation {
		return Evaluation{Complexity: ComplexityUnknown}
	})
}

// related looks up indexed code similar to the commit.
func related(ctx context.Context, cfg EvaluatorConfig, in CommitItem, diff string) []snippet {
	if cfg.Embedder == nil || in.Index == "" || in.Collection == "" {
		return nil
	}

	idx, err := vector.Open(ctx, in.Index, cfg.Embedder)
	if err != nil {
		agent.Warn(ctx, "vector index unavailable: %v", err)
		return nil
	}
	defer idx.Close()

	query := in.Message + "\n" + truncate(diff, 2000)
	matches, err := idx.Search(ctx, in.Collection, query, cfg.RelatedChunks)
	if err != nil {
		agent.Warn(ctx, "related code search failed: %v", err)
		return nil
	}

	out := make([]snippet, 0, len(matches))
	for _, m := range matches {
		out = append(out, snippet{Path: m.Path, StartLine: m.StartLine, EndLine: m.EndLine, Content: m.Content})
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// dedupe drops empty and repeated (case-insensitive) names, keeping the first
// spelling.
func dedupe(names []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, n := range names {
		n = strings.TrimSpace(n)
		key := strings.ToLower(n)
		if n == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, n)
	}
	return out
}
