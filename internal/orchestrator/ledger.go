package orchestrator

import (
	"context"

	"github.com/alsksssass/deepagent/internal/persistence"
)

// Ledger records run progress. persistence.SQLiteStore implements it.
// Ledger errors are logged and never affect the run.
type Ledger interface {
	StartRun(ctx context.Context, run persistence.Run) error
	FinishRun(ctx context.Context, runID string, status persistence.Status, runErr string) error
	StartLevel(ctx context.Context, level persistence.LevelRun) error
	FinishLevel(ctx context.Context, runID, level string, status persistence.Status, levelErr string) error
	RecordAgent(ctx context.Context, rec persistence.AgentRun) error
}

type nopLedger struct{}

func (nopLedger) StartRun(context.Context, persistence.Run) error { return nil }
func (nopLedger) FinishRun(context.Context, string, persistence.Status, string) error {
	return nil
}
func (nopLedger) StartLevel(context.Context, persistence.LevelRun) error { return nil }
func (nopLedger) FinishLevel(context.Context, string, string, persistence.Status, string) error {
	return nil
}
func (nopLedger) RecordAgent(context.Context, persistence.AgentRun) error { return nil }
