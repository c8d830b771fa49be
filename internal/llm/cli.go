package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alsksssass/deepagent/internal/process"
)

// ClaudeCLI runs completions through the claude command-line tool, one
// subprocess per request.
type ClaudeCLI struct {
	binary  string
	model   string
	workDir string
	procs   *process.Manager
}

// ClaudeCLIConfig configures NewClaudeCLI.
type ClaudeCLIConfig struct {
	Binary  string // Defaults to "claude"
	Model   string
	WorkDir string
}

// claudeOutput is the JSON printed by `claude -p --output-format json`.
// Older versions nest the text under result.content.
type claudeOutput struct {
	Result json.RawMessage `json:"result"`
	Usage  struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
	IsError bool `json:"is_error"`
}

type claudeContent struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// NewClaudeCLI creates a CLI-backed client. procs is optional; when set,
// subprocesses are tracked so they can be killed on shutdown.
func NewClaudeCLI(cfg ClaudeCLIConfig, procs *process.Manager) *ClaudeCLI {
	binary := cfg.Binary
	if binary == "" {
		binary = "claude"
	}
	return &ClaudeCLI{
		binary:  binary,
		model:   cfg.Model,
		workDir: cfg.WorkDir,
		procs:   procs,
	}
}

// Model returns the configured model name.
func (c *ClaudeCLI) Model() string {
	return c.model
}

// Complete runs one non-interactive claude invocation.
func (c *ClaudeCLI) Complete(ctx context.Context, req Request) (Reply, error) {
	cmd := process.Command(ctx, c.binary, c.buildArgs(req)...)
	cmd.Dir = c.workDir

	stdout, stderr, err := process.Run(cmd, c.procs)
	if err != nil {
		return Reply{}, fmt.Errorf("claude command failed: %w", err)
	}

	reply, err := parseClaudeOutput(stdout)
	if err != nil {
		return Reply{}, fmt.Errorf("failed to parse claude output: %w (stderr: %s)", err, strings.TrimSpace(string(stderr)))
	}
	reply.Model = c.model
	return reply, nil
}

func (c *ClaudeCLI) buildArgs(req Request) []string {
	args := []string{"-p", flatten(req.Messages), "--output-format", "json"}
	if c.model != "" {
		args = append(args, "--model", c.model)
	}
	if req.System != "" {
		args = append(args, "--system-prompt", req.System)
	}
	return args
}

func parseClaudeOutput(data []byte) (Reply, error) {
	var out claudeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Reply{}, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	var text string
	if err := json.Unmarshal(out.Result, &text); err != nil {
		var nested claudeContent
		if err := json.Unmarshal(out.Result, &nested); err != nil {
			return Reply{}, fmt.Errorf("unexpected result field: %s", out.Result)
		}
		var b strings.Builder
		for _, item := range nested.Content {
			if item.Type == "text" {
				b.WriteString(item.Text)
			}
		}
		text = b.String()
	}

	if out.IsError {
		return Reply{}, fmt.Errorf("claude reported an error: %s", text)
	}

	return Reply{
		Text:         text,
		InputTokens:  out.Usage.InputTokens,
		OutputTokens: out.Usage.OutputTokens,
	}, nil
}
