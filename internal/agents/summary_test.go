package agents

import (
	"strings"
	"testing"

	"github.com/alsksssass/deepagent/internal/agent"
	"github.com/alsksssass/deepagent/internal/llm"
	"github.com/alsksssass/deepagent/internal/prompt"
)

func testSummarizer(t *testing.T, client llm.Client) *agent.Typed[SummaryContext, ExecutiveSummary] {
	t.Helper()
	return NewReportSummarizer(SummaryConfig{
		LLM:    testCaller(client),
		Prompt: prompt.MustBind[ExecutiveSummary](testCatalog(t), "report_summary"),
		Policy: llm.ParseDegrade,
	})
}

func summaryContext(t *testing.T) SummaryContext {
	t.Helper()
	agg := decode[Aggregate](t, execute(t, NewUserAggregator(), AggregateContext{Commits: evaluations()}))
	return SummaryContext{
		User:       "alice@example.com",
		Overall:    agg.Overall,
		Developers: len(agg.Users),
		Domains: []DomainReport{{
			Domain:   "Security",
			Score:    6.5,
			Summary:  "Mostly sound.",
			Findings: []Finding{{Title: "Token in config", Severity: "high"}},
		}},
		Profiles: []UserProfile{{Name: "Alice", Summary: "Backend developer."}},
	}
}

func TestReportSummarizer(t *testing.T) {
	client := &scriptedClient{responses: []any{`{"summary": " Solid work. ", "recommendations": [
		{"priority": "low", "area": "Quality", "action": "add doc comments"},
		{"priority": "High", "area": "Security", "action": "rotate the token"},
		{"priority": "medium", "area": "Performance", "action": "cache lookups"}]}`}}

	resp := execute(t, testSummarizer(t, client), summaryContext(t))
	if !resp.Succeeded() || resp.Error != "" {
		t.Fatalf("expected clean success, got %s: %s", resp.Status, resp.Error)
	}

	out := decode[ExecutiveSummary](t, resp)
	if out.Summary != "Solid work." {
		t.Errorf("got summary %q, want %q", out.Summary, "Solid work.")
	}
	var order []string
	for _, r := range out.Recommendations {
		order = append(order, r.Priority)
	}
	if got := strings.Join(order, ","); got != "high,medium,low" {
		t.Errorf("got priorities %s, want high,medium,low", got)
	}

	user := client.Requests()[0].Messages[0].Content
	for _, want := range []string{"Target developer: alice@example.com", "Security: 6.5/10", "- [high] Token in config", "- Alice: Backend developer."} {
		if !strings.Contains(user, want) {
			t.Errorf("prompt missing %q:\n%s", want, user)
		}
	}
	if len(resp.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", resp.Warnings)
	}
}

func TestReportSummarizer_NoDomains(t *testing.T) {
	client := &scriptedClient{responses: []any{`{"summary": "Commit quality is good."}`}}
	in := summaryContext(t)
	in.Domains = nil

	resp := execute(t, testSummarizer(t, client), in)
	if !resp.Succeeded() {
		t.Fatalf("expected success, got %s", resp.Error)
	}
	if len(resp.Warnings) != 1 || !strings.Contains(resp.Warnings[0], "no domain analysis") {
		t.Errorf("expected a warning about missing domain analysis, got %v", resp.Warnings)
	}
}

func TestReportSummarizer_UnknownPriorityDegrades(t *testing.T) {
	bad := `{"summary": "x", "recommendations": [{"priority": "urgent", "area": "a", "action": "b"}]}`
	client := &scriptedClient{responses: []any{bad, bad}}

	resp := execute(t, testSummarizer(t, client), summaryContext(t))
	if !resp.Succeeded() || resp.ErrorKind != agent.ErrorParse {
		t.Fatalf("got %s (%s), want degraded success", resp.Status, resp.ErrorKind)
	}
	if n := len(client.Requests()); n != 2 {
		t.Errorf("got %d calls, want 2", n)
	}
}
