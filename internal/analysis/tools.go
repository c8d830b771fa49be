package analysis

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/alsksssass/deepagent/internal/process"
)

// Tool is an external analysis command run in a repository's working tree.
type Tool struct {
	Name    string   `mapstructure:"name" yaml:"name"`
	Command string   `mapstructure:"command" yaml:"command"`
	Args    []string `mapstructure:"args" yaml:"args"`
}

// ToolResult is the outcome of one tool run. Linters commonly exit non-zero
// when they report findings, so a non-zero exit code is not an error.
type ToolResult struct {
	Tool     string `json:"tool"`
	ExitCode int    `json:"exit_code"`
	Findings int    `json:"findings"` // Non-empty output lines
	Output   string `json:"output,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Runner runs the configured tools.
type Runner struct {
	Tools     []Tool
	Procs     *process.Manager // Optional
	Timeout   time.Duration    // Per tool (default 5m)
	MaxOutput int              // Bytes of output kept per tool (default 8KB)
}

// Run runs every tool in dir. A tool that cannot be started or times out is
// recorded with an error; the remaining tools still run.
func (r *Runner) Run(ctx context.Context, dir string) []ToolResult {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	maxOutput := r.MaxOutput
	if maxOutput <= 0 {
		maxOutput = 8 * 1024
	}

	results := make([]ToolResult, 0, len(r.Tools))
	for _, tool := range r.Tools {
		results = append(results, r.runOne(ctx, dir, tool, timeout, maxOutput))
	}
	return results
}

func (r *Runner) runOne(ctx context.Context, dir string, tool Tool, timeout time.Duration, maxOutput int) ToolResult {
	res := ToolResult{Tool: tool.Name}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := process.Command(ctx, tool.Command, tool.Args...)
	cmd.Dir = dir
	stdout, _, err := process.Run(cmd, r.Procs)

	var exitErr *exec.ExitError
	switch {
	case ctx.Err() != nil:
		res.Error = "timed out after " + timeout.String()
		res.ExitCode = -1
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	case err != nil:
		res.Error = err.Error()
		res.ExitCode = -1
		return res
	}

	for _, line := range bytes.Split(stdout, []byte("\n")) {
		if len(bytes.TrimSpace(line)) > 0 {
			res.Findings++
		}
	}

	out := strings.TrimSpace(string(stdout))
	if len(out) > maxOutput {
		out = out[:maxOutput] + "\n[truncated]"
	}
	res.Output = out
	return res
}
