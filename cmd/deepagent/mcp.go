package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/alsksssass/deepagent/internal/mcpserver"
	"github.com/alsksssass/deepagent/internal/persistence"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve runs and results over MCP (stdio)",
	Long: `Start a read-only Model Context Protocol server on stdin/stdout.

Tools:
  list_runs   runs from the ledger with the state of each level
  get_result  one agent's persisted result, or the result keys of a task
  get_report  the final report of a task as JSON or markdown`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// stdout carries the protocol
	log.SetOutput(os.Stderr)

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	st, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	ledger, err := persistence.NewSQLiteStore(ctx, cfg.Ledger.Path)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer ledger.Close()

	srv := mcpserver.New(mcpserver.Config{Store: st, Ledger: ledger, Version: version})
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
