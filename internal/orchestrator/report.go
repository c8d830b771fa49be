package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alsksssass/deepagent/internal/agent"
	"github.com/alsksssass/deepagent/internal/llm"
	"github.com/alsksssass/deepagent/internal/scheduler"
	"github.com/alsksssass/deepagent/internal/schema"
	"github.com/alsksssass/deepagent/internal/store"
)

// Task documents written by Finalize.
const (
	ReportDocument         = "report.json"
	ReportMarkdownDocument = "report.md"
)

// ArtifactStatus classifies the persisted result of one agent.
type ArtifactStatus string

const (
	Authoritative ArtifactStatus = "authoritative" // Succeeded without errors
	Degraded      ArtifactStatus = "degraded"      // Failed, or succeeded with a recorded error
	Missing       ArtifactStatus = "missing"       // Never persisted; a default was filled in
)

// Report is the outcome of a completed task.
type Report struct {
	Task       string           `json:"task"`
	Status     string           `json:"status"`
	Repos      []string         `json:"repos"`
	User       string           `json:"user,omitempty"`
	Levels     []LevelReport    `json:"levels"`
	Artifacts  int              `json:"artifacts"`
	Usage      []llm.AgentUsage `json:"usage,omitempty"`
	TotalUsage *llm.AgentUsage  `json:"total_usage,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

// LevelReport is one level of a Report.
type LevelReport struct {
	Name   string        `json:"name"`
	Mode   string        `json:"mode"`
	Items  *int          `json:"items,omitempty"`
	Agents []AgentReport `json:"agents"`
}

// AgentReport is the artifact status of one agent.
type AgentReport struct {
	Agent       string         `json:"agent"`
	Kind        string         `json:"kind"`
	Criticality string         `json:"criticality"`
	Status      ArtifactStatus `json:"status"`
	Error       string         `json:"error,omitempty"`
	Warnings    []string       `json:"warnings,omitempty"`
	Batch       *BatchTotals   `json:"batch,omitempty"`
}

// BatchTotals counts the item outcomes of a batched agent.
type BatchTotals struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Agent returns the report entry of the named agent.
func (r *Report) Agent(name string) (AgentReport, bool) {
	for _, l := range r.Levels {
		for _, a := range l.Agents {
			if a.Agent == name {
				return a, true
			}
		}
	}
	return AgentReport{}, false
}

// Degraded returns the names of agents whose artifacts are not authoritative.
func (r *Report) Degraded() []string {
	var names []string
	for _, l := range r.Levels {
		for _, a := range l.Agents {
			if a.Status != Authoritative {
				names = append(names, a.Agent)
			}
		}
	}
	return names
}

// Markdown renders the report as a status summary.
func (r *Report) Markdown() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Task %s\n\n", r.Task)
	fmt.Fprintf(&b, "- Status: **%s**\n", r.Status)
	fmt.Fprintf(&b, "- Repositories: %s\n", strings.Join(r.Repos, ", "))
	if r.User != "" {
		fmt.Fprintf(&b, "- Target user: %s\n", r.User)
	}
	fmt.Fprintf(&b, "- Duration: %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
	fmt.Fprintf(&b, "- Artifacts: %d\n\n", r.Artifacts)

	b.WriteString("## Levels\n\n")
	b.WriteString("| Level | Mode | Agent | Criticality | Status | Notes |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, l := range r.Levels {
		for _, a := range l.Agents {
			notes := a.Error
			if a.Batch != nil {
				notes = strings.TrimSpace(fmt.Sprintf("%d/%d items succeeded. %s", a.Batch.Succeeded, a.Batch.Total, a.Error))
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
				l.Name, l.Mode, a.Agent, a.Criticality, a.Status, escapeCell(notes))
		}
	}

	if degraded := r.Degraded(); len(degraded) > 0 {
		fmt.Fprintf(&b, "\nDegraded sections: %s\n", strings.Join(degraded, ", "))
	}

	if len(r.Usage) > 0 {
		b.WriteString("\n## Usage\n\n")
		b.WriteString("| Agent | Calls | Input tokens | Output tokens | Cost (USD) |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for _, u := range r.Usage {
			fmt.Fprintf(&b, "| %s | %d | %d | %d | %.4f |\n", u.Agent, u.Calls, u.InputTokens, u.OutputTokens, u.CostUSD)
		}
		if r.TotalUsage != nil {
			fmt.Fprintf(&b, "| **total** | %d | %d | %d | %.4f |\n",
				r.TotalUsage.Calls, r.TotalUsage.InputTokens, r.TotalUsage.OutputTokens, r.TotalUsage.CostUSD)
		}
	}

	return b.String()
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}

// finalize composes the report from the persisted artifacts. Missing results
// of optional agents are filled with their default payloads.
func (r *run) finalize(ctx context.Context) (*Report, error) {
	report := &Report{
		Task:      r.task,
		Status:    string(agent.StatusSuccess),
		Repos:     r.input.Repos,
		User:      r.input.User,
		StartedAt: r.start,
	}

	for i, level := range r.o.cfg.Pipeline.Levels() {
		lr := LevelReport{Name: level.Name, Mode: string(level.Mode), Items: r.plan.Levels[i].Items}
		for _, spec := range level.Agents {
			ar, err := r.agentReport(ctx, level, spec)
			if err != nil {
				return nil, err
			}
			lr.Agents = append(lr.Agents, ar)
		}
		report.Levels = append(report.Levels, lr)
	}

	keys, err := r.o.cfg.Store.List(ctx, r.task)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	for _, k := range keys {
		if !k.Batched() {
			report.Artifacts++
		}
	}

	if r.o.cfg.Usage != nil {
		report.Usage = r.o.cfg.Usage.Snapshot()
		total := r.o.cfg.Usage.Total()
		report.TotalUsage = &total
	}
	report.FinishedAt = time.Now()

	if err := r.o.cfg.Store.SaveJSONDocument(context.WithoutCancel(ctx), r.task, ReportDocument, report); err != nil {
		return nil, err
	}
	if err := r.o.cfg.Store.SaveDocument(context.WithoutCancel(ctx), r.task, ReportMarkdownDocument, []byte(report.Markdown())); err != nil {
		return nil, err
	}
	return report, nil
}

func (r *run) agentReport(ctx context.Context, level scheduler.Level, spec scheduler.AgentSpec) (AgentReport, error) {
	ar := AgentReport{
		Agent:       spec.Name(),
		Kind:        string(spec.Agent.Kind()),
		Criticality: spec.Criticality.String(),
	}

	s := spec.Agent.OutputSchema()
	batched := level.Mode == scheduler.Batched
	if batched {
		s = summarySchema()
	}

	key := store.Singleton(r.task, spec.Name())
	resp, err := r.o.cfg.Store.Load(ctx, key, s)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if !spec.Optional() {
			return ar, fmt.Errorf("mandatory result %s is missing", spec.Name())
		}
		ar.Status = Missing
		ar.Error = "no result persisted"
		if !batched {
			r.fillDefault(ctx, key, spec, s)
		}
		return ar, nil
	case err != nil:
		if !spec.Optional() {
			return ar, err
		}
		ar.Status = Degraded
		ar.Error = err.Error()
		return ar, nil
	}

	ar.Status = Authoritative
	if !resp.Succeeded() || resp.Error != "" {
		ar.Status = Degraded
	}
	ar.Error = resp.Error
	ar.Warnings = resp.Warnings

	if batched {
		sum, err := agent.Decode[BatchSummary](resp)
		if err != nil {
			return ar, err
		}
		ar.Batch = &BatchTotals{Total: sum.Total, Succeeded: sum.Succeeded, Failed: sum.Failed}
	}
	return ar, nil
}

func (r *run) fillDefault(ctx context.Context, key store.Key, spec scheduler.AgentSpec, s *schema.Schema) {
	resp := spec.Agent.Fail(errors.New("no result persisted"))
	if err := r.persist(ctx, key, resp, s); err != nil {
		r.o.logger.Printf("WARNING: task %s: failed to fill default for %s: %v", r.task, spec.Name(), err)
	}
}
