package agents

import (
	"os"
	"strings"
	"testing"

	"github.com/alsksssass/deepagent/internal/analysis"
	"github.com/alsksssass/deepagent/internal/repo"
)

func reportContext(t *testing.T) ReportContext {
	t.Helper()
	return ReportContext{
		Task:    "task-1",
		WorkDir: t.TempDir(),
		Repos:   []repo.Checkout{{Name: "api", Locator: "https://x/api|v2.git", Head: "0123456789abcdef"}},
		History: HistoryResult{Commits: 5, Users: 2, Files: 3},
		Static: &StaticResult{Repos: []RepoAnalysis{{
			Repo:  "api",
			Lines: analysis.LineStats{Files: 2, Lines: 10, Code: 8, Blank: 2, Languages: []analysis.LanguageStats{{Language: "Go", Files: 2, Lines: 10}}},
			Tools: []analysis.ToolResult{{Tool: "vet", Findings: 3, ExitCode: 1}},
		}}},
		RAG:       &RAGResult{Files: 2, Chunks: 7},
		Aggregate: decode[Aggregate](t, execute(t, NewUserAggregator(), AggregateContext{Commits: evaluations()})),
		Profiles:  &Profiles{Profiles: []UserProfile{{Name: "Alice", Summary: "Backend developer.", Skills: []Skill{{Name: "Go", Level: "advanced", Evidence: "a3"}}}}},
		Domains: []DomainReport{
			{Domain: "Security", Score: 6.5, Summary: "Secrets are read from the environment.", Findings: []Finding{{Title: "Unpinned base image", Severity: "medium", Detail: "Builds are not reproducible."}}},
			{Domain: "Architecture", Score: 8, Summary: "Clear package boundaries.", Strengths: []string{"small packages"}, Recommendations: []string{"split the api handlers"}},
		},
		Summary: &ExecutiveSummary{
			Summary:         "A healthy Go backend with room to harden builds.",
			Recommendations: []Recommendation{{Priority: "high", Area: "Security", Action: "pin the base image"}},
		},
	}
}

func TestReporter(t *testing.T) {
	in := reportContext(t)

	resp := execute(t, NewReporter(), in)
	if !resp.Succeeded() {
		t.Fatalf("expected success, got %s", resp.Error)
	}
	out := decode[ReportResult](t, resp)

	data, err := os.ReadFile(out.Path)
	if err != nil {
		t.Fatalf("report not written: %v", err)
	}
	if string(data) != out.Markdown {
		t.Error("written report differs from payload")
	}

	for _, want := range []string{
		"# Developer Analysis: task-1",
		`| api | https://x/api\|v2.git | 0123456789ab |`,
		"5 commits by 2 authors touching 3 files.",
		"| Go | 2 | 10 |",
		"- vet: 3 findings (exit 1)",
		"Average 6.75, median 7.25",
		"| 8-10 | 2 |",
		"Technologies: Go (3), Docker (1), Python (1), SQLite (1)",
		"| Alice <alice@example.com> | 4 | 1 | 8.00 | Go, Docker, SQLite |",
		"- **Go** (advanced): a3",
		"Code index: 7 chunks from 2 files.",
		"## Executive Summary\n\nA healthy Go backend with room to harden builds.",
		"| Security | 6.5 | 1 |",
		"| Performance | - | - |",
		"| Architecture | 8.0 | 0 |",
		"- **Unpinned base image** [medium]: Builds are not reproducible.",
		"- Strength: small packages",
		"_Not available: quality_analyst failed (degraded)._",
		"## Recommendations\n\n- **high** (Security): pin the base image",
	} {
		if !strings.Contains(out.Markdown, want) {
			t.Errorf("report missing %q:\n%s", want, out.Markdown)
		}
	}
}

func TestRenderReport_DegradedSections(t *testing.T) {
	in := reportContext(t)
	in.Static = nil
	in.Summary = nil
	in.Degraded = []string{StaticAnalyzer, UserSkillProfiler, CodeRAGBuilder, SecurityAnalyst, ReportSummarizer}

	md := RenderReport(in)
	for _, want := range []string{
		"_Not available: static analysis failed (degraded)._",
		"_Not available: skill profiling failed (degraded)._",
		"Code index: not available (degraded).",
		"_Not available: summary generation failed (degraded)._",
		"| Security | - | - |",
		"_Not available: security_analyst failed (degraded)._",
		// Without a summary the domain recommendations are listed
		"## Recommendations\n\n- Architecture: split the api handlers",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("report missing %q", want)
		}
	}
	if strings.Contains(md, "Unpinned base image") {
		t.Error("degraded domain analysis must not be rendered")
	}
	if strings.Contains(md, "Backend developer.") {
		t.Error("degraded profiles must not be rendered")
	}
}
