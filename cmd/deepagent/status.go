package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/alsksssass/deepagent/internal/persistence"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status [TASK]",
	Short: "Show recorded runs",
	Long: `Display runs from the run ledger.

Without arguments, lists the most recent runs. With a task id, shows that
run's levels and the outcome of every agent invocation.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 20, "Number of runs to list")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	out := cmd.OutOrStdout()
	if _, err := os.Stat(cfg.Ledger.Path); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(out, "No runs recorded. Run 'deepagent run --repo <url>' to start.")
		return nil
	}

	ledger, err := persistence.NewSQLiteStore(cmd.Context(), cfg.Ledger.Path)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer ledger.Close()

	if len(args) == 0 {
		runs, err := ledger.ListRuns(cmd.Context())
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}
		displayRuns(out, runs, statusLimit)
		return nil
	}

	run, err := ledger.GetRun(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	levels, err := ledger.ListLevels(cmd.Context(), run.ID)
	if err != nil {
		return fmt.Errorf("list levels: %w", err)
	}
	agents, err := ledger.ListAgents(cmd.Context(), run.ID)
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}
	displayRun(out, run, levels, agents)
	return nil
}

// displayRuns prints up to limit runs, newest first.
func displayRuns(w io.Writer, runs []*persistence.Run, limit int) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}

	fmt.Fprintln(w, "Recent runs:")
	for _, r := range runs {
		fmt.Fprintf(w, "  %s %s  %-10s  %s  %s\n",
			statusMark(string(r.Status)), r.ID, r.Status, runTiming(r), strings.Join(r.Repos, ", "))
	}
}

// displayRun prints one run with its levels and agent outcomes.
func displayRun(w io.Writer, r *persistence.Run, levels []persistence.LevelRun, agents []persistence.AgentRun) {
	fmt.Fprintf(w, "Run: %s\n", r.ID)
	fmt.Fprintf(w, "  Status: %s %s\n", statusMark(string(r.Status)), r.Status)
	fmt.Fprintf(w, "  Repos: %s\n", strings.Join(r.Repos, ", "))
	if r.User != "" {
		fmt.Fprintf(w, "  User: %s\n", r.User)
	}
	fmt.Fprintf(w, "  Started: %s (%s)\n", r.StartedAt.Local().Format(time.DateTime), runTiming(r))
	if r.Error != "" {
		fmt.Fprintf(w, "  Error: %s\n", r.Error)
	}

	byLevel := make(map[string][]persistence.AgentRun)
	for _, a := range agents {
		byLevel[a.Level] = append(byLevel[a.Level], a)
	}

	fmt.Fprintln(w, "\nLevels:")
	for _, l := range levels {
		fmt.Fprintf(w, "  %s %s (%s) %s\n", statusMark(string(l.Status)), l.Level, l.Mode, l.Status)
		if l.Error != "" {
			fmt.Fprintf(w, "      %s\n", l.Error)
		}
		for _, line := range agentLines(byLevel[l.Level]) {
			fmt.Fprintf(w, "      %s\n", line)
		}
	}
}

// agentLines summarizes the outcomes of one level: singleton agents one per
// line, batched agents as counts with their failed items.
func agentLines(runs []persistence.AgentRun) []string {
	type batch struct {
		total, failed int
		failures      []string
	}
	var order []string
	batches := make(map[string]*batch)
	var lines []string

	for _, a := range runs {
		if a.Index < 0 {
			line := fmt.Sprintf("%s %s (%s, %d attempt(s))", statusMark(a.Status), a.Agent, formatDuration(a.Duration), a.Attempts)
			if a.Error != "" {
				line += ": " + a.Error
			}
			lines = append(lines, line)
			continue
		}
		b, ok := batches[a.Agent]
		if !ok {
			b = &batch{}
			batches[a.Agent] = b
			order = append(order, a.Agent)
		}
		b.total++
		if a.Status != "success" {
			b.failed++
			b.failures = append(b.failures, fmt.Sprintf("[%d] %s", a.Index, a.Error))
		}
	}

	for _, name := range order {
		b := batches[name]
		status := "success"
		switch {
		case b.failed == b.total:
			status = "failed"
		case b.failed > 0:
			status = "degraded"
		}
		lines = append(lines, fmt.Sprintf("%s %s %d/%d items succeeded", statusMark(status), name, b.total-b.failed, b.total))
		for _, f := range b.failures {
			lines = append(lines, "    "+f)
		}
	}
	return lines
}

func runTiming(r *persistence.Run) string {
	if r.FinishedAt.IsZero() {
		return "running for " + formatDuration(time.Since(r.StartedAt))
	}
	return "took " + formatDuration(r.FinishedAt.Sub(r.StartedAt))
}
