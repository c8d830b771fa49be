package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/alsksssass/deepagent/internal/agent"
	"github.com/alsksssass/deepagent/internal/analysis"
	"github.com/alsksssass/deepagent/internal/llm"
	"github.com/alsksssass/deepagent/internal/prompt"
	"github.com/alsksssass/deepagent/internal/repo"
)

// Domain analyst names.
const (
	SecurityAnalyst     = "security_analyst"
	PerformanceAnalyst  = "performance_analyst"
	QualityAnalyst      = "quality_analyst"
	ArchitectureAnalyst = "architecture_analyst"
)

// Domain describes one domain analyst: its agent name, the report heading
// and the prompt template it uses.
type Domain struct {
	Agent    string
	Title    string
	Template string
	Layout   bool // Include the directory layout of each repository
}

// Domains are the domain analysts in report order.
var Domains = []Domain{
	{Agent: SecurityAnalyst, Title: "Security", Template: "security_review"},
	{Agent: PerformanceAnalyst, Title: "Performance", Template: "performance_review"},
	{Agent: QualityAnalyst, Title: "Quality", Template: "quality_review"},
	{Agent: ArchitectureAnalyst, Title: "Architecture", Template: "architecture_review", Layout: true},
}

// DomainContext is the input of every domain analyst.
type DomainContext struct {
	Repos      []repo.Checkout `json:"repos,omitempty"`
	Static     *StaticResult   `json:"static,omitempty"` // Nil when static analysis is unavailable
	Overall    Stats           `json:"overall"`
	Developers int             `json:"developers"`
}

// Severities of a finding, most severe first.
var severities = []string{"high", "medium", "low"}

// Finding is one issue a domain analyst reports.
type Finding struct {
	Title          string `json:"title"`
	Severity       string `json:"severity" jsonschema:"one of high, medium, low"`
	Detail         string `json:"detail" jsonschema:"cause and impact in one or two sentences"`
	Recommendation string `json:"recommendation,omitempty"`
}

// DomainAnalysis is the model's answer of a domain analyst.
type DomainAnalysis struct {
	Score           float64   `json:"score" jsonschema:"0.0 to 10.0, higher is better"`
	Summary         string    `json:"summary" jsonschema:"at most three sentences"`
	Strengths       []string  `json:"strengths,omitempty"`
	Findings        []Finding `json:"findings,omitempty"`
	Recommendations []string  `json:"recommendations,omitempty"`
}

// Validate checks the score range and finding severities.
func (a DomainAnalysis) Validate() error {
	if a.Score < 0 || a.Score > 10 {
		return fmt.Errorf("score %.2f out of range [0, 10]", a.Score)
	}
	for _, f := range a.Findings {
		if !oneOf(f.Severity, severities) {
			return fmt.Errorf("finding %q has severity %q, want one of %s", f.Title, f.Severity, strings.Join(severities, ", "))
		}
	}
	return nil
}

// DomainReport is the payload of a domain analyst.
type DomainReport struct {
	Domain          string    `json:"domain"`
	Score           float64   `json:"score"`
	Summary         string    `json:"summary"`
	Strengths       []string  `json:"strengths,omitempty"`
	Findings        []Finding `json:"findings,omitempty"`
	Recommendations []string  `json:"recommendations,omitempty"`
}

// DomainConfig configures a domain analyst.
type DomainConfig struct {
	LLM         *llm.Caller
	Prompt      *prompt.Bound[DomainAnalysis]
	Policy      llm.ParsePolicy
	LayoutDepth int // Directory levels shown when the domain uses the layout (default 2)
	LayoutLimit int // Directories shown per repository (default 30)
}

type repoSummary struct {
	Name      string
	Files     int
	Lines     int
	Languages []string
	Tools     []string
	Layout    []string
}

type domainData struct {
	Static       bool
	Repos        []repoSummary
	Commits      int
	Evaluated    int
	Developers   int
	Quality      Quality
	Complexity   []string
	Technologies []string
}

// NewDomainAnalyst asks the model to assess the repositories from one
// domain's point of view, based on the static analysis and the aggregated
// commit evaluations.
func NewDomainAnalyst(d Domain, cfg DomainConfig) *agent.Typed[DomainContext, DomainReport] {
	if cfg.LayoutDepth <= 0 {
		cfg.LayoutDepth = 2
	}
	if cfg.LayoutLimit <= 0 {
		cfg.LayoutLimit = 30
	}

	a := agent.Define(d.Agent, agent.KindEvaluator, func(ctx context.Context, inv agent.Invocation, in DomainContext) (DomainReport, error) {
		data := domainData{
			Static:     in.Static != nil,
			Commits:    in.Overall.TotalCommits,
			Evaluated:  in.Overall.Successful,
			Developers: in.Developers,
			Quality:    in.Overall.Quality,
		}
		for _, c := range in.Overall.Complexity {
			data.Complexity = append(data.Complexity, fmt.Sprintf("%s %.1f%%", c.Level, c.Percent))
		}
		for _, t := range in.Overall.TopTechnologies {
			data.Technologies = append(data.Technologies, t.Name)
		}

		static := make(map[string]RepoAnalysis)
		if in.Static != nil {
			for _, r := range in.Static.Repos {
				static[r.Repo] = r
			}
		}
		for _, r := range in.Repos {
			rs := repoSummary{Name: r.Name}
			if st, ok := static[r.Name]; ok {
				rs.Files, rs.Lines = st.Lines.Files, st.Lines.Lines
				for _, l := range st.Lines.Languages {
					rs.Languages = append(rs.Languages, fmt.Sprintf("%s (%d lines)", l.Language, l.Lines))
				}
				for _, t := range st.Tools {
					if t.Error == "" {
						rs.Tools = append(rs.Tools, fmt.Sprintf("%s: %d findings", t.Tool, t.Findings))
					}
				}
			}
			if d.Layout {
				layout, err := analysis.Layout(ctx, r.Path, cfg.LayoutDepth, cfg.LayoutLimit)
				if err != nil {
					agent.Warn(ctx, "no layout for %s: %v", r.Name, err)
				}
				rs.Layout = layout
			}
			data.Repos = append(data.Repos, rs)
		}

		got, err := llm.Structured(ctx, cfg.LLM, d.Agent, cfg.Prompt, data, cfg.Policy)
		if err != nil {
			return DomainReport{}, err
		}

		out := DomainReport{
			Domain:          d.Title,
			Score:           round(got.Score, 1),
			Summary:         strings.TrimSpace(got.Summary),
			Strengths:       got.Strengths,
			Recommendations: got.Recommendations,
		}
		for _, f := range got.Findings {
			f.Severity = strings.ToLower(f.Severity)
			out.Findings = append(out.Findings, f)
		}
		return out, nil
	})
	return a.WithDefault(func() DomainReport {
		return DomainReport{Domain: d.Title}
	})
}

func oneOf(s string, values []string) bool {
	for _, v := range values {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
