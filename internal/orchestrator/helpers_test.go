package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alsksssass/deepagent/internal/agent"
	"github.com/alsksssass/deepagent/internal/resilience"
	"github.com/alsksssass/deepagent/internal/scheduler"
	"github.com/alsksssass/deepagent/internal/store"
)

type noContext struct{}

type stagePayload struct {
	Stage string `json:"stage"`
	Value int    `json:"value"`
}

type itemContext struct {
	Index int `json:"index"`
}

var testInput = scheduler.Input{Repos: []string{"https://example.com/org/repo.git"}}

// calls counts agent invocations by name.
type calls struct {
	mu     sync.Mutex
	counts map[string]int
	order  []string
}

func newCalls() *calls {
	return &calls{counts: make(map[string]int)}
}

func (c *calls) add(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[name]++
	c.order = append(c.order, name)
}

func (c *calls) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[name]
}

// stage builds a singleton agent that records its invocation and runs fn.
func stage(c *calls, name string, fn func(ctx context.Context) error) agent.Agent {
	return agent.Define(name, agent.KindCollector, func(ctx context.Context, inv agent.Invocation, in noContext) (stagePayload, error) {
		c.add(name)
		if fn != nil {
			if err := fn(ctx); err != nil {
				return stagePayload{}, err
			}
		}
		return stagePayload{Stage: name, Value: 1}, nil
	})
}

func ok(c *calls, name string) agent.Agent {
	return stage(c, name, nil)
}

func testStore(t *testing.T) (*store.Store, string) {
	t.Helper()
	root := t.TempDir()
	backend, err := store.NewFileBackend(root)
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}
	return store.New(backend), root
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:     3,
		CallTimeout:     time.Second,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2,
	}
}

// testOrchestrator builds an orchestrator over a temp store. mutate may adjust
// the config before New.
func testOrchestrator(t *testing.T, levels []scheduler.Level, mutate func(*Config)) (*Orchestrator, *store.Store) {
	t.Helper()

	pipeline, err := scheduler.NewPipeline(levels)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}

	st, root := testStore(t)
	cfg := Config{
		Pipeline:     pipeline,
		Store:        st,
		WorkDir:      root,
		Logger:       testLogger(),
		AgentTimeout: 5 * time.Second,
		Retry:        fastRetry(),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	o, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return o, st
}

func seq(name string, a agent.Agent, deps ...string) scheduler.Level {
	return scheduler.Level{
		Name:      name,
		Mode:      scheduler.Sequential,
		Agents:    []scheduler.AgentSpec{{Agent: a}},
		DependsOn: deps,
	}
}

// keyNames renders store keys as agent or agent[index] strings.
func keyNames(keys []store.Key) string {
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.Agent
		if k.Batched() {
			names[i] = fmt.Sprintf("%s[%d]", k.Agent, k.Index)
		}
	}
	return strings.Join(names, ",")
}

func loadStage(t *testing.T, st *store.Store, task, name string) (stagePayload, agent.Response) {
	t.Helper()
	p, resp, err := store.LoadPayload[stagePayload](context.Background(), st, store.Singleton(task, name))
	if err != nil {
		t.Fatalf("failed to load %s: %v", name, err)
	}
	return p, resp
}
