package scheduler

import (
	"context"
	"fmt"

	"github.com/alsksssass/deepagent/internal/agent"
	"github.com/alsksssass/deepagent/internal/schema"
	"github.com/alsksssass/deepagent/internal/store"
)

// SetupKey is the result key of the artifact written by Setup.
const SetupKey = "setup"

// Input is the job-level input consumed by Setup.
type Input struct {
	Repos []string `json:"repos,omitempty"` // Repository locators
	User  string   `json:"user,omitempty"`  // Optional target-user filter
}

// Setup is the payload of the setup artifact: the initial context of a task.
type Setup struct {
	Task    string   `json:"task"`
	WorkDir string   `json:"work_dir"`
	Repos   []string `json:"repos,omitempty"`
	User    string   `json:"user,omitempty"`
}

// Env is what binders and item sources see of a running task: the setup
// context and read access to persisted results.
type Env struct {
	Setup Setup
	Store *store.Store
}

// Task returns the task identifier.
func (e Env) Task() string {
	return e.Setup.Task
}

// Upstream is a persisted result of an earlier stage.
type Upstream[P any] struct {
	Payload  P
	Response agent.Response
}

// Degraded reports whether the result is failed or carries an error, in which
// case Payload is the agent's default payload.
func (u Upstream[P]) Degraded() bool {
	return !u.Response.Succeeded() || u.Response.Error != ""
}

// Result loads the singleton result of the named agent.
func Result[P any](ctx context.Context, env Env, name string) (Upstream[P], error) {
	p, resp, err := store.LoadPayload[P](ctx, env.Store, store.Singleton(env.Task(), name))
	if err != nil {
		return Upstream[P]{}, fmt.Errorf("failed to load upstream result %s: %w", name, err)
	}
	return Upstream[P]{Payload: p, Response: resp}, nil
}

// Batches loads every per-item result of the named batched agent in index order.
func Batches[P any](ctx context.Context, env Env, name string) ([]Upstream[P], error) {
	s, err := schema.For[P]()
	if err != nil {
		return nil, err
	}

	responses, err := env.Store.LoadBatches(ctx, env.Task(), name, s)
	if err != nil {
		return nil, fmt.Errorf("failed to load upstream batch %s: %w", name, err)
	}

	out := make([]Upstream[P], len(responses))
	for i, resp := range responses {
		p, err := agent.Decode[P](resp)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s[%d]: %w", name, i, err)
		}
		out[i] = Upstream[P]{Payload: p, Response: resp}
	}
	return out, nil
}
