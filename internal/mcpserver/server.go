// Package mcpserver exposes finished and running tasks over the Model Context
// Protocol: the run ledger, per-agent results and task reports. Every tool is
// read-only.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/alsksssass/deepagent/internal/agent"
	"github.com/alsksssass/deepagent/internal/orchestrator"
	"github.com/alsksssass/deepagent/internal/persistence"
	"github.com/alsksssass/deepagent/internal/store"
)

// Runs is the read side of the run ledger.
type Runs interface {
	ListRuns(ctx context.Context) ([]*persistence.Run, error)
	ListLevels(ctx context.Context, runID string) ([]persistence.LevelRun, error)
}

// Config configures New.
type Config struct {
	Store   *store.Store
	Ledger  Runs // Optional; list_runs reports an error without it
	Version string
}

type server struct {
	store  *store.Store
	ledger Runs
}

// New creates an MCP server with the list_runs, get_result and get_report tools.
func New(cfg Config) *mcp.Server {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	s := &server{store: cfg.Store, ledger: cfg.Ledger}

	srv := mcp.NewServer(&mcp.Implementation{Name: "deepagent", Version: version}, nil)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_runs",
		Description: "List analysis runs from the run ledger, newest first, with the state of each level.",
	}, s.listRuns)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_result",
		Description: "Read the persisted result of one agent of a task. Without an agent, list the task's result keys.",
	}, s.getResult)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_report",
		Description: "Read the final report of a finished task as JSON or markdown.",
	}, s.getReport)
	return srv
}

// ListRunsInput filters list_runs.
type ListRunsInput struct {
	Status string `json:"status,omitempty" jsonschema:"only runs in this state: PROCESSING, COMPLETED or FAILED"`
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum number of runs, 0 for all"`
}

// LevelState is one level of a listed run.
type LevelState struct {
	Level  string `json:"level"`
	Mode   string `json:"mode"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// RunSummary is one listed run. Times are RFC 3339.
type RunSummary struct {
	ID         string       `json:"id"`
	Repos      []string     `json:"repos,omitempty"`
	User       string       `json:"user,omitempty"`
	Status     string       `json:"status"`
	Error      string       `json:"error,omitempty"`
	StartedAt  string       `json:"started_at"`
	FinishedAt string       `json:"finished_at,omitempty"`
	Levels     []LevelState `json:"levels,omitempty"`
}

// RunList is the output of list_runs.
type RunList struct {
	Runs []RunSummary `json:"runs,omitempty"`
}

func (s *server) listRuns(ctx context.Context, _ *mcp.CallToolRequest, in ListRunsInput) (*mcp.CallToolResult, RunList, error) {
	if s.ledger == nil {
		return nil, RunList{}, errors.New("run ledger is not configured")
	}
	runs, err := s.ledger.ListRuns(ctx)
	if err != nil {
		return nil, RunList{}, err
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })

	var out RunList
	for _, r := range runs {
		if in.Status != "" && string(r.Status) != in.Status {
			continue
		}
		if in.Limit > 0 && len(out.Runs) == in.Limit {
			break
		}

		sum := RunSummary{
			ID:        r.ID,
			Repos:     r.Repos,
			User:      r.User,
			Status:    string(r.Status),
			Error:     r.Error,
			StartedAt: r.StartedAt.UTC().Format(time.RFC3339),
		}
		if !r.FinishedAt.IsZero() {
			sum.FinishedAt = r.FinishedAt.UTC().Format(time.RFC3339)
		}

		levels, err := s.ledger.ListLevels(ctx, r.ID)
		if err != nil {
			return nil, RunList{}, fmt.Errorf("failed to list levels of %s: %w", r.ID, err)
		}
		for _, l := range levels {
			sum.Levels = append(sum.Levels, LevelState{Level: l.Level, Mode: l.Mode, Status: string(l.Status), Error: l.Error})
		}
		out.Runs = append(out.Runs, sum)
	}
	return nil, out, nil
}

// GetResultInput selects one artifact.
type GetResultInput struct {
	Task  string `json:"task" jsonschema:"task identifier"`
	Agent string `json:"agent,omitempty" jsonschema:"agent name, for example commit_evaluator; empty lists the task's result keys"`
	Item  *int   `json:"item,omitempty" jsonschema:"batch item index, for batched agents"`
}

// Result is one persisted artifact.
type Result struct {
	Task      string          `json:"task"`
	Agent     string          `json:"agent"`
	Item      *int            `json:"item,omitempty"`
	Status    agent.Status    `json:"status"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error,omitempty"`
	ErrorKind agent.ErrorKind `json:"error_kind,omitempty"`
	Warnings  []string        `json:"warnings,omitempty"`
}

// Keys lists the result keys of a task.
type Keys struct {
	Task string   `json:"task"`
	Keys []string `json:"keys"`
}

func (s *server) getResult(ctx context.Context, _ *mcp.CallToolRequest, in GetResultInput) (*mcp.CallToolResult, any, error) {
	if in.Agent == "" {
		keys, err := s.store.List(ctx, in.Task)
		if err != nil {
			return nil, nil, err
		}
		if len(keys) == 0 {
			return nil, nil, fmt.Errorf("task %s has no results", in.Task)
		}
		out := Keys{Task: in.Task, Keys: make([]string, len(keys))}
		for i, k := range keys {
			out.Keys[i] = k.String()
		}
		return nil, out, nil
	}

	key := store.Singleton(in.Task, in.Agent)
	if in.Item != nil {
		key = store.Batch(in.Task, in.Agent, *in.Item)
	}
	resp, err := s.store.Inspect(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	return nil, Result{
		Task:      in.Task,
		Agent:     in.Agent,
		Item:      in.Item,
		Status:    resp.Status,
		Payload:   resp.Payload,
		Error:     resp.Error,
		ErrorKind: resp.ErrorKind,
		Warnings:  resp.Warnings,
	}, nil
}

// GetReportInput selects a task report.
type GetReportInput struct {
	Task   string `json:"task" jsonschema:"task identifier"`
	Format string `json:"format,omitempty" jsonschema:"json (default) or markdown"`
}

func (s *server) getReport(ctx context.Context, _ *mcp.CallToolRequest, in GetReportInput) (*mcp.CallToolResult, any, error) {
	switch in.Format {
	case "", "json":
		data, err := s.store.LoadDocument(ctx, in.Task, orchestrator.ReportDocument)
		if err != nil {
			return nil, nil, reportErr(in.Task, err)
		}
		return nil, json.RawMessage(data), nil
	case "markdown":
		data, err := s.store.LoadDocument(ctx, in.Task, orchestrator.ReportMarkdownDocument)
		if err != nil {
			return nil, nil, reportErr(in.Task, err)
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}}, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown format %q (want json or markdown)", in.Format)
	}
}

func reportErr(task string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("task %s has no report; it is still running or failed before finalizing", task)
	}
	return err
}
