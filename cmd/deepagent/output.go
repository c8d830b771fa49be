package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/fatih/color"

	"github.com/alsksssass/deepagent/internal/config"
	"github.com/alsksssass/deepagent/internal/orchestrator"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
)

func okMark() string   { return green.Sprint("✓") }
func warnMark() string { return yellow.Sprint("!") }
func failMark() string { return red.Sprint("✗") }

// statusMark returns the marker of an artifact, agent or run status.
func statusMark(status string) string {
	switch status {
	case "success", "authoritative", "COMPLETED":
		return okMark()
	case "degraded", "missing", "SKIPPED", "PROCESSING":
		return warnMark()
	default:
		return failMark()
	}
}

// printReport prints the artifact status of every agent of a finished task.
func printReport(w io.Writer, r *orchestrator.Report, location string) {
	fmt.Fprintf(w, "\n%s Task %s completed in %s\n", okMark(), r.Task, formatDuration(r.FinishedAt.Sub(r.StartedAt)))

	for _, l := range r.Levels {
		fmt.Fprintf(w, "  %s (%s)\n", l.Name, l.Mode)
		for _, a := range l.Agents {
			line := fmt.Sprintf("    %s %s", statusMark(string(a.Status)), a.Agent)
			if a.Batch != nil {
				line += fmt.Sprintf(" %d/%d", a.Batch.Succeeded, a.Batch.Total)
			}
			if a.Status != orchestrator.Authoritative {
				line += " " + color.YellowString(string(a.Status))
			}
			if a.Error != "" {
				line += ": " + a.Error
			}
			fmt.Fprintln(w, line)
		}
	}

	if r.TotalUsage != nil && r.TotalUsage.Calls > 0 {
		fmt.Fprintf(w, "  Usage: %d calls, %d input / %d output tokens, $%.4f\n",
			r.TotalUsage.Calls, r.TotalUsage.InputTokens, r.TotalUsage.OutputTokens, r.TotalUsage.CostUSD)
	}
	if location != "" {
		fmt.Fprintf(w, "  Report: %s\n", location)
	}
}

// printFailure prints the level and agent a task failed at.
func printFailure(w io.Writer, err error) {
	var f *orchestrator.Failure
	if !errors.As(err, &f) {
		fmt.Fprintf(w, "\n%s %v\n", failMark(), err)
		return
	}
	fmt.Fprintf(w, "\n%s Task %s failed at level %s\n", failMark(), f.Task, color.RedString(f.Level))
	if f.Agent != "" {
		fmt.Fprintf(w, "  Agent: %s\n", f.Agent)
	}
	for _, e := range f.Errors {
		fmt.Fprintf(w, "  - %v\n", e)
	}
}

// reportLocation returns where the markdown report of task is stored.
func reportLocation(cfg *config.Config, task string) string {
	if cfg.Storage.Backend == "s3" {
		p := task + "/" + orchestrator.ReportMarkdownDocument
		if cfg.Storage.Prefix != "" {
			p = cfg.Storage.Prefix + "/" + p
		}
		return "s3://" + cfg.Storage.Bucket + "/" + p
	}
	return filepath.Join(cfg.WorkDir, task, orchestrator.ReportMarkdownDocument)
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
