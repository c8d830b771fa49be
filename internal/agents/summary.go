package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/alsksssass/deepagent/internal/agent"
	"github.com/alsksssass/deepagent/internal/llm"
	"github.com/alsksssass/deepagent/internal/prompt"
)

// SummaryContext is the input of report_summarizer. Domains holds only the
// analysts that produced a usable result.
type SummaryContext struct {
	User       string         `json:"user,omitempty"`
	Overall    Stats          `json:"overall"`
	Developers int            `json:"developers"`
	Domains    []DomainReport `json:"domains,omitempty"`
	Profiles   []UserProfile  `json:"profiles,omitempty"`
}

var priorities = []string{"high", "medium", "low"}

// Recommendation is one prioritized action of the report summary.
type Recommendation struct {
	Priority string `json:"priority" jsonschema:"one of high, medium, low"`
	Area     string `json:"area" jsonschema:"the domain or practice the action improves"`
	Action   string `json:"action"`
}

// ExecutiveSummary is the model's answer of report_summarizer.
type ExecutiveSummary struct {
	Summary         string           `json:"summary" jsonschema:"one paragraph for a technical lead"`
	Recommendations []Recommendation `json:"recommendations,omitempty" jsonschema:"at most five, most important first"`
}

// Validate checks recommendation priorities.
func (s ExecutiveSummary) Validate() error {
	for _, r := range s.Recommendations {
		if !oneOf(r.Priority, priorities) {
			return fmt.Errorf("recommendation %q has priority %q, want one of %s", r.Action, r.Priority, strings.Join(priorities, ", "))
		}
	}
	return nil
}

// SummaryConfig configures report_summarizer.
type SummaryConfig struct {
	LLM    *llm.Caller
	Prompt *prompt.Bound[ExecutiveSummary]
	Policy llm.ParsePolicy
}

type domainLine struct {
	Title    string
	Score    float64
	Summary  string
	Findings []string
}

type summaryData struct {
	User       string
	Commits    int
	Evaluated  int
	Developers int
	Average    float64
	Domains    []domainLine
	Profiles   []string
}

// NewReportSummarizer asks the model for an executive summary of the analysis
// and a prioritized list of recommendations, sorted high to low.
func NewReportSummarizer(cfg SummaryConfig) *agent.Typed[SummaryContext, ExecutiveSummary] {
	return agent.Define(ReportSummarizer, agent.KindReporter, func(ctx context.Context, inv agent.Invocation, in SummaryContext) (ExecutiveSummary, error) {
		data := summaryData{
			User:       in.User,
			Commits:    in.Overall.TotalCommits,
			Evaluated:  in.Overall.Successful,
			Developers: in.Developers,
			Average:    in.Overall.Quality.Average,
		}
		for _, d := range in.Domains {
			dl := domainLine{Title: d.Domain, Score: d.Score, Summary: d.Summary}
			for _, f := range d.Findings {
				dl.Findings = append(dl.Findings, fmt.Sprintf("[%s] %s", f.Severity, f.Title))
			}
			data.Domains = append(data.Domains, dl)
		}
		for _, p := range in.Profiles {
			data.Profiles = append(data.Profiles, fmt.Sprintf("%s: %s", p.Name, p.Summary))
		}
		if len(data.Domains) == 0 {
			agent.Warn(ctx, "no domain analysis available, summarizing commit statistics only")
		}

		got, err := llm.Structured(ctx, cfg.LLM, ReportSummarizer, cfg.Prompt, data, cfg.Policy)
		if err != nil {
			return ExecutiveSummary{}, err
		}

		got.Summary = strings.TrimSpace(got.Summary)
		rank := make(map[string]int, len(priorities))
		for i, p := range priorities {
			rank[p] = i
		}
		for i := range got.Recommendations {
			got.Recommendations[i].Priority = strings.ToLower(got.Recommendations[i].Priority)
		}
		sort.SliceStable(got.Recommendations, func(i, j int) bool {
			return rank[got.Recommendations[i].Priority] < rank[got.Recommendations[j].Priority]
		})
		return got, nil
	})
}
