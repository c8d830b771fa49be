package agents

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/alsksssass/deepagent/internal/agent"
	"github.com/alsksssass/deepagent/internal/repo"
)

// ReportContext is the input of reporter: every upstream payload it renders.
// Optional sections are nil when their agent produced nothing usable.
type ReportContext struct {
	Task      string            `json:"task"`
	WorkDir   string            `json:"work_dir"`
	User      string            `json:"user,omitempty"`
	Repos     []repo.Checkout   `json:"repos,omitempty"`
	History   HistoryResult     `json:"history"`
	Static    *StaticResult     `json:"static,omitempty"`
	RAG       *RAGResult        `json:"rag,omitempty"`
	Aggregate Aggregate         `json:"aggregate"`
	Profiles  *Profiles         `json:"profiles,omitempty"`
	Domains   []DomainReport    `json:"domains,omitempty"` // Usable domain analyses in report order
	Summary   *ExecutiveSummary `json:"summary,omitempty"`
	Degraded  []string          `json:"degraded,omitempty"` // Agents whose results are degraded or missing
}

// ReportResult is the payload of reporter.
type ReportResult struct {
	Path     string `json:"path"`
	Markdown string `json:"markdown"`
}

// ReportFile is the analysis report inside the task's working directory.
const ReportFile = "analysis_report.md"

// NewReporter renders the analysis report as markdown and writes it to the
// task's working directory.
func NewReporter() *agent.Typed[ReportContext, ReportResult] {
	return agent.Define(Reporter, agent.KindReporter, func(ctx context.Context, inv agent.Invocation, in ReportContext) (ReportResult, error) {
		md := RenderReport(in)

		path := filepath.Join(in.WorkDir, ReportFile)
		if err := os.WriteFile(path, []byte(md), 0644); err != nil {
			return ReportResult{}, fmt.Errorf("failed to write report: %w", err)
		}
		return ReportResult{Path: path, Markdown: md}, nil
	})
}

// RenderReport renders the markdown analysis report.
func RenderReport(in ReportContext) string {
	var b strings.Builder
	degraded := make(map[string]bool)
	for _, name := range in.Degraded {
		degraded[name] = true
	}

	fmt.Fprintf(&b, "# Developer Analysis: %s\n\n", in.Task)
	if in.User != "" {
		fmt.Fprintf(&b, "Target user: %s\n\n", in.User)
	}
	writeSummary(&b, in.Summary, degraded[ReportSummarizer])

	b.WriteString("## Repositories\n\n")
	b.WriteString("| Repository | Locator | HEAD |\n|---|---|---|\n")
	for _, r := range in.Repos {
		fmt.Fprintf(&b, "| %s | %s | %s |\n", cell(r.Name), cell(r.Locator), shortHash(r.Head))
	}
	fmt.Fprintf(&b, "\n%d commits by %d authors touching %d files.\n\n", in.History.Commits, in.History.Users, in.History.Files)

	writeStatic(&b, in.Static, degraded[StaticAnalyzer])
	writeOverall(&b, in.Aggregate.Overall)
	writeUsers(&b, in.Aggregate.Users)
	writeProfiles(&b, in.Profiles, degraded[UserSkillProfiler])
	writeDomains(&b, in.Domains, degraded)
	writeRecommendations(&b, in.Summary, in.Domains)

	if in.RAG != nil && !degraded[CodeRAGBuilder] {
		fmt.Fprintf(&b, "Code index: %d chunks from %d files.\n", in.RAG.Chunks, in.RAG.Files)
	} else {
		b.WriteString("Code index: not available (degraded).\n")
	}
	return b.String()
}

func writeStatic(b *strings.Builder, st *StaticResult, degraded bool) {
	b.WriteString("## Static Analysis\n\n")
	if st == nil || degraded {
		b.WriteString("_Not available: static analysis failed (degraded)._\n\n")
		return
	}
	for _, r := range st.Repos {
		fmt.Fprintf(b, "### %s\n\n", r.Repo)
		if r.Error != "" {
			fmt.Fprintf(b, "Line count failed: %s\n\n", r.Error)
		}
		fmt.Fprintf(b, "%d files, %d lines (%d code, %d blank).\n\n", r.Lines.Files, r.Lines.Lines, r.Lines.Code, r.Lines.Blank)
		if len(r.Lines.Languages) > 0 {
			b.WriteString("| Language | Files | Lines |\n|---|---|---|\n")
			for _, l := range r.Lines.Languages {
				fmt.Fprintf(b, "| %s | %d | %d |\n", cell(l.Language), l.Files, l.Lines)
			}
			b.WriteString("\n")
		}
		for _, t := range r.Tools {
			if t.Error != "" {
				fmt.Fprintf(b, "- %s: error: %s\n", t.Tool, t.Error)
			} else {
				fmt.Fprintf(b, "- %s: %d findings (exit %d)\n", t.Tool, t.Findings, t.ExitCode)
			}
		}
		if len(r.Tools) > 0 {
			b.WriteString("\n")
		}
	}
}

func writeOverall(b *strings.Builder, st Stats) {
	b.WriteString("## Commit Quality\n\n")
	fmt.Fprintf(b, "%d commits evaluated: %d successful, %d failed.\n\n", st.TotalCommits, st.Successful, st.Failed)
	if st.Successful == 0 {
		return
	}
	q := st.Quality
	fmt.Fprintf(b, "Average %.2f, median %.2f, min %.2f, max %.2f, std-dev %.2f.\n\n", q.Average, q.Median, q.Min, q.Max, q.StdDev)

	b.WriteString("| Score | Commits |\n|---|---|\n")
	for _, bk := range st.Distribution {
		fmt.Fprintf(b, "| %s | %d |\n", bk.Range, bk.Count)
	}
	b.WriteString("\n")

	if len(st.TopTechnologies) > 0 {
		names := make([]string, len(st.TopTechnologies))
		for i, t := range st.TopTechnologies {
			names[i] = fmt.Sprintf("%s (%d)", t.Name, t.Commits)
		}
		fmt.Fprintf(b, "Technologies: %s\n\n", strings.Join(names, ", "))
	}

	parts := make([]string, 0, len(st.Complexity))
	for _, c := range st.Complexity {
		parts = append(parts, fmt.Sprintf("%s %.1f%%", c.Level, c.Percent))
	}
	if len(parts) > 0 {
		fmt.Fprintf(b, "Complexity: %s\n\n", strings.Join(parts, ", "))
	}
}

func writeUsers(b *strings.Builder, users []UserStats) {
	if len(users) == 0 {
		return
	}
	b.WriteString("## Developers\n\n")
	b.WriteString("| Developer | Commits | Failed | Average | Top technologies |\n|---|---|---|---|---|\n")
	for _, u := range users {
		var techs []string
		for i, t := range u.Stats.TopTechnologies {
			if i == 3 {
				break
			}
			techs = append(techs, t.Name)
		}
		fmt.Fprintf(b, "| %s <%s> | %d | %d | %.2f | %s |\n",
			cell(u.Name), cell(u.Email), u.Stats.TotalCommits, u.Stats.Failed, u.Stats.Quality.Average, cell(strings.Join(techs, ", ")))
	}
	b.WriteString("\n")
}

func writeProfiles(b *strings.Builder, p *Profiles, degraded bool) {
	b.WriteString("## Skill Profiles\n\n")
	if p == nil || degraded {
		b.WriteString("_Not available: skill profiling failed (degraded)._\n\n")
		return
	}
	if len(p.Profiles) == 0 {
		b.WriteString("No profiles.\n\n")
		return
	}
	for _, up := range p.Profiles {
		fmt.Fprintf(b, "### %s\n\n%s\n\n", up.Name, up.Summary)
		for _, s := range up.Skills {
			fmt.Fprintf(b, "- **%s** (%s): %s\n", s.Name, s.Level, s.Evidence)
		}
		if len(up.Skills) > 0 {
			b.WriteString("\n")
		}
	}
}

func writeSummary(b *strings.Builder, s *ExecutiveSummary, degraded bool) {
	b.WriteString("## Executive Summary\n\n")
	if s == nil || degraded || s.Summary == "" {
		b.WriteString("_Not available: summary generation failed (degraded)._\n\n")
		return
	}
	fmt.Fprintf(b, "%s\n\n", s.Summary)
}

func writeDomains(b *strings.Builder, reports []DomainReport, degraded map[string]bool) {
	b.WriteString("## Domain Analysis\n\n")
	byTitle := make(map[string]DomainReport, len(reports))
	for _, r := range reports {
		byTitle[r.Domain] = r
	}

	b.WriteString("| Domain | Score | Findings |\n|---|---|---|\n")
	for _, d := range Domains {
		r, ok := byTitle[d.Title]
		if !ok || degraded[d.Agent] {
			fmt.Fprintf(b, "| %s | - | - |\n", d.Title)
			continue
		}
		fmt.Fprintf(b, "| %s | %.1f | %d |\n", d.Title, r.Score, len(r.Findings))
	}
	b.WriteString("\n")

	for _, d := range Domains {
		fmt.Fprintf(b, "### %s\n\n", d.Title)
		r, ok := byTitle[d.Title]
		if !ok || degraded[d.Agent] {
			fmt.Fprintf(b, "_Not available: %s failed (degraded)._\n\n", d.Agent)
			continue
		}
		if r.Summary != "" {
			fmt.Fprintf(b, "%s\n\n", r.Summary)
		}
		for _, s := range r.Strengths {
			fmt.Fprintf(b, "- Strength: %s\n", s)
		}
		for _, f := range r.Findings {
			fmt.Fprintf(b, "- **%s** [%s]: %s\n", f.Title, f.Severity, f.Detail)
		}
		if len(r.Strengths)+len(r.Findings) > 0 {
			b.WriteString("\n")
		}
	}
}

// writeRecommendations prefers the summary's prioritized list and falls back
// to the recommendations of the domain analyses.
func writeRecommendations(b *strings.Builder, s *ExecutiveSummary, reports []DomainReport) {
	var lines []string
	if s != nil {
		for _, r := range s.Recommendations {
			lines = append(lines, fmt.Sprintf("- **%s** (%s): %s", r.Priority, r.Area, r.Action))
		}
	}
	if len(lines) == 0 {
		for _, r := range reports {
			for _, rec := range r.Recommendations {
				lines = append(lines, fmt.Sprintf("- %s: %s", r.Domain, rec))
			}
		}
	}
	if len(lines) == 0 {
		return
	}
	b.WriteString("## Recommendations\n\n")
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n\n")
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	if h == "" {
		return "-"
	}
	return h
}
