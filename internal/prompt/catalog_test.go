package prompt

import (
	"errors"
	"strings"
	"testing"
)

type evaluationReply struct {
	QualityScore float64 `json:"quality_score"`
	Evaluation   string  `json:"evaluation"`
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

type code struct {
	Path    string
	Content string
}

type profileData struct {
	User           string
	Evaluated      int
	AverageQuality float64
	Complexity     map[string]int
	Technologies   []string
	Highlights     []string
	Code           []code
}

func TestDefaultCatalog(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("Default failed: %v", err)
	}

	again, _ := Default()
	if again != c {
		t.Error("Default must return the cached catalog")
	}

	names := c.Names()
	want := []string{
		"architecture_review", "commit_evaluation", "performance_review", "quality_review",
		"report_summary", "security_review", "skill_profile",
	}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("template names mismatch: got %v, want %v", names, want)
	}

	if _, err := c.Lookup("nope"); !errors.Is(err, ErrUnknownTemplate) {
		t.Errorf("expected ErrUnknownTemplate, got %v", err)
	}
}

func TestBoundRender_CommitEvaluation(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	b, err := Bind[evaluationReply](c, "commit_evaluation")
	if err != nil {
		t.Fatalf("Bind failed: %v", err)
	}

	r, err := b.Render(commitData{
		Repo:         "octo/widgets",
		Hash:         "abc1234",
		Author:       "dev@example.com",
		Message:      "Add retry to fetcher",
		FilesChanged: 2,
		Added:        40,
		Deleted:      3,
		Diff:         strings.Repeat("x", 100),
		MaxDiff:      10,
		Related:      []snippet{{Path: "fetch.go", StartLine: 1, EndLine: 40, Content: "package fetch"}},
	})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	if r.Template != "commit_evaluation" {
		t.Errorf("template mismatch: got %s", r.Template)
	}
	// The schema text is generated from the bound type
	if !strings.Contains(r.System, `"quality_score"`) || !strings.Contains(r.System, `"evaluation"`) {
		t.Errorf("system prompt does not embed the response schema:\n%s", r.System)
	}
	for _, want := range []string{"Commit: abc1234", "(+40 / -3)", "... (truncated)", "--- fetch.go (lines 1-40)"} {
		if !strings.Contains(r.User, want) {
			t.Errorf("user prompt missing %q:\n%s", want, r.User)
		}
	}
	if strings.Contains(r.User, strings.Repeat("x", 11)) {
		t.Error("diff was not truncated")
	}
}

func TestBoundRender_SkillProfile(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	b := MustBind[evaluationReply](c, "skill_profile")

	r, err := b.Render(profileData{
		User:           "dev",
		Evaluated:      3,
		AverageQuality: 7.333,
		Complexity:     map[string]int{"low": 1, "high": 2},
		Technologies:   []string{"Go", "SQLite"},
	})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	for _, want := range []string{"average quality 7.33", "high=2 low=1", "Technologies: Go, SQLite"} {
		if !strings.Contains(r.User, want) {
			t.Errorf("user prompt missing %q:\n%s", want, r.User)
		}
	}
	if strings.Contains(r.User, "Code written") {
		t.Error("empty code section must be omitted")
	}
}

type quality struct {
	Average, Median, Min, Max float64
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
	Quality      quality
	Complexity   []string
	Technologies []string
}

func TestBoundRender_DomainReviews(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatal(err)
	}

	data := domainData{
		Static:     true,
		Commits:    12,
		Evaluated:  10,
		Developers: 2,
		Quality:    quality{Average: 6.5, Median: 7, Min: 2, Max: 9},
		Complexity: []string{"low 50.0%", "high 50.0%"},
		Repos: []repoSummary{{
			Name:      "widgets",
			Files:     4,
			Lines:     120,
			Languages: []string{"Go (100 lines)"},
			Tools:     []string{"golangci-lint: 3 findings"},
			Layout:    []string{"cmd/", "internal/"},
		}},
	}

	tests := []struct {
		template string
		system   string
	}{
		{"security_review", "application security engineer"},
		{"performance_review", "performance engineer"},
		{"quality_review", "code quality"},
		{"architecture_review", "software architect"},
	}

	for _, tt := range tests {
		t.Run(tt.template, func(t *testing.T) {
			r, err := MustBind[evaluationReply](c, tt.template).Render(data)
			if err != nil {
				t.Fatalf("Render failed: %v", err)
			}
			if !strings.Contains(r.System, tt.system) || !strings.Contains(r.System, `"quality_score"`) {
				t.Errorf("unexpected system prompt:\n%s", r.System)
			}
			for _, want := range []string{
				"Commits sampled: 12 (10 evaluated, 2 developers)",
				"average 6.50, median 7.00",
				"Complexity: low 50.0%, high 50.0%",
				"Repository widgets: 4 files, 120 lines",
				"Tools: golangci-lint: 3 findings",
				"Layout:\n  cmd/\n  internal/",
			} {
				if !strings.Contains(r.User, want) {
					t.Errorf("user prompt missing %q:\n%s", want, r.User)
				}
			}
			if strings.Contains(r.User, "Static analysis is not available") {
				t.Error("static analysis note must be omitted when it is available")
			}
		})
	}

	data.Static = false
	r, err := MustBind[evaluationReply](c, "quality_review").Render(data)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(r.User, "Static analysis is not available") {
		t.Errorf("missing static analysis note:\n%s", r.User)
	}
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

func TestBoundRender_ReportSummary(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatal(err)
	}

	r, err := MustBind[evaluationReply](c, "report_summary").Render(summaryData{
		User:       "dev@example.com",
		Commits:    8,
		Evaluated:  8,
		Developers: 1,
		Average:    7.25,
		Domains:    []domainLine{{Title: "Security", Score: 6.5, Summary: "Mostly fine.", Findings: []string{"[high] Hard-coded token"}}},
		Profiles:   []string{"Dev: strong Go engineer"},
	})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	for _, want := range []string{"Target developer: dev@example.com", "average quality 7.25", "Security: 6.5/10", "- [high] Hard-coded token", "- Dev: strong Go engineer"} {
		if !strings.Contains(r.User, want) {
			t.Errorf("user prompt missing %q:\n%s", want, r.User)
		}
	}
}

func TestRender_MissingFieldFails(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	b := MustBind[evaluationReply](c, "commit_evaluation")

	if _, err := b.Render(struct{ Hash string }{"abc"}); err == nil {
		t.Error("expected error for data without the template's fields")
	}
}

func TestStrictRetry(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	b := MustBind[evaluationReply](c, "commit_evaluation")

	msg, err := b.StrictRetry("no JSON object found")
	if err != nil {
		t.Fatalf("StrictRetry failed: %v", err)
	}
	if !strings.Contains(msg, "no JSON object found") || !strings.Contains(msg, "exactly one JSON object") {
		t.Errorf("unexpected strict instruction: %s", msg)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"not yaml", "templates: [unclosed"},
		{"no templates", "strict_retry: hi\n"},
		{"missing user", "templates:\n  a:\n    system: s\n"},
		{"bad template syntax", "templates:\n  a:\n    system: '{{.Schema'\n    user: u\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Error("expected Parse to fail")
			}
		})
	}
}

func TestParse_DefaultStrictRetry(t *testing.T) {
	c, err := Parse([]byte("templates:\n  a:\n    system: 'schema {{.Schema}}'\n    user: 'hi {{.Name}}'\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	tmpl, err := c.Lookup("a")
	if err != nil {
		t.Fatal(err)
	}
	r, err := tmpl.Render("{}", map[string]string{"Name": "there"})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if r.System != "schema {}" || r.User != "hi there" {
		t.Errorf("unexpected render: %+v", r)
	}

	msg, err := c.StrictRetry("bad")
	if err != nil || !strings.Contains(msg, "bad") {
		t.Errorf("unexpected default strict retry: %q, %v", msg, err)
	}
}
