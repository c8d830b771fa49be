package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/alsksssass/deepagent/internal/orchestrator"
	"github.com/alsksssass/deepagent/internal/store"
)

var (
	resultsItem   int
	resultsReport bool
)

var resultsCmd = &cobra.Command{
	Use:   "results TASK [AGENT]",
	Short: "Show the results of a task",
	Long: `Inspect the persisted results of a task.

With only a task id, lists every result with its status. With an agent name,
prints that agent's result; use --item for one item of a batched agent.
With --report, prints the markdown report.`,
	Example: `  deepagent results 3f2c...
  deepagent results 3f2c... user_aggregator
  deepagent results 3f2c... commit_evaluator --item 4
  deepagent results 3f2c... --report`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runResults,
}

func init() {
	resultsCmd.Flags().IntVar(&resultsItem, "item", -1, "Batch item index")
	resultsCmd.Flags().BoolVar(&resultsReport, "report", false, "Print the markdown report")
}

func runResults(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	st, err := newStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	task := args[0]
	switch {
	case resultsReport:
		doc, err := st.LoadDocument(cmd.Context(), task, orchestrator.ReportMarkdownDocument)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("task %s has no report; it is still running or failed before finalizing", task)
		}
		if err != nil {
			return err
		}
		_, err = out.Write(doc)
		return err
	case len(args) == 2:
		key := store.Singleton(task, args[1])
		if resultsItem >= 0 {
			key = store.Batch(task, args[1], resultsItem)
		}
		return showResult(cmd, st, key)
	default:
		return listResults(cmd, st, task)
	}
}

// listResults prints every result of task with its status.
func listResults(cmd *cobra.Command, st *store.Store, task string) error {
	keys, err := st.List(cmd.Context(), task)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(keys) == 0 {
		fmt.Fprintf(out, "No results for task %s.\n", task)
		return nil
	}

	for _, key := range keys {
		resp, err := st.Inspect(cmd.Context(), key)
		if err != nil {
			fmt.Fprintf(out, "  %s %s: %v\n", failMark(), resultName(key), err)
			continue
		}
		line := fmt.Sprintf("  %s %s", statusMark(string(resp.Status)), resultName(key))
		if resp.Error != "" {
			line += ": " + resp.Error
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

// showResult prints one result: status, error and the indented payload.
func showResult(cmd *cobra.Command, st *store.Store, key store.Key) error {
	resp, err := st.Inspect(cmd.Context(), key)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no result %s", key)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", statusMark(string(resp.Status)), key)
	if resp.Error != "" {
		fmt.Fprintf(out, "Error (%s): %s\n", resp.ErrorKind, resp.Error)
	}
	for _, w := range resp.Warnings {
		fmt.Fprintf(out, "Warning: %s\n", w)
	}
	return writeIndented(out, resp.Payload)
}

func resultName(key store.Key) string {
	if key.Batched() {
		return fmt.Sprintf("%s[%d]", key.Agent, key.Index)
	}
	return key.Agent
}

func writeIndented(w io.Writer, payload []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, payload, "", "  "); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}
