package llm

import (
	"math"
	"sync"
	"testing"
)

func TestAccountant(t *testing.T) {
	a := NewAccountant(map[string]Price{
		"llama":          {},
		"claude-haiku":   {InputPerMillion: 1, OutputPerMillion: 5},
		"claude-haiku-4": {InputPerMillion: 2, OutputPerMillion: 10},
	}, DefaultPrice)

	a.Record("commit_evaluator", Reply{Model: "claude-sonnet-4", InputTokens: 1_000_000, OutputTokens: 100_000})
	a.Record("commit_evaluator", Reply{Model: "claude-haiku-4-5", InputTokens: 1_000_000})
	a.Record("user_skill_profiler", Reply{Model: "llama3.1", InputTokens: 500, OutputTokens: 500})
	a.Record("", Reply{Model: "claude-haiku-3", OutputTokens: 1_000_000})

	snap := a.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 agents, got %d: %+v", len(snap), snap)
	}
	if snap[0].Agent != "commit_evaluator" || snap[1].Agent != "unknown" || snap[2].Agent != "user_skill_profiler" {
		t.Errorf("snapshot not sorted by agent: %+v", snap)
	}

	eval := snap[0]
	if eval.Calls != 2 || eval.InputTokens != 2_000_000 || eval.OutputTokens != 100_000 {
		t.Errorf("unexpected evaluator usage: %+v", eval)
	}
	// 3.0 + 1.5 for sonnet, 2.0 for the longest matching haiku prefix
	if math.Abs(eval.CostUSD-6.5) > 1e-9 {
		t.Errorf("evaluator cost mismatch: got %v, want 6.5", eval.CostUSD)
	}
	if snap[1].CostUSD != 5 {
		t.Errorf("unknown agent cost mismatch: got %v, want 5", snap[1].CostUSD)
	}
	if snap[2].CostUSD != 0 {
		t.Errorf("local model must be free, got %v", snap[2].CostUSD)
	}

	total := a.Total()
	if total.Calls != 4 || math.Abs(total.CostUSD-11.5) > 1e-9 {
		t.Errorf("unexpected total: %+v", total)
	}
}

func TestAccountant_Concurrent(t *testing.T) {
	a := NewAccountant(nil, DefaultPrice)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Record("commit_evaluator", Reply{InputTokens: 10, OutputTokens: 1})
		}()
	}
	wg.Wait()

	total := a.Total()
	if total.Calls != 50 || total.InputTokens != 500 || total.OutputTokens != 50 {
		t.Errorf("lost updates: %+v", total)
	}
}
