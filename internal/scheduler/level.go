package scheduler

import (
	"context"
	"time"

	"github.com/alsksssass/deepagent/internal/agent"
)

// Mode selects how the agents of a level are executed.
type Mode string

const (
	Sequential Mode = "sequential"       // One agent after another, each persisted before the next starts
	Parallel   Mode = "parallel"         // Independent agents run concurrently
	Batched    Mode = "parallel-batched" // One agent fanned out over N items
)

// Criticality determines how an agent's failure affects the task.
type Criticality int

const (
	Mandatory Criticality = iota // Failure aborts the task
	Optional                     // Failure degrades the report only
)

func (c Criticality) String() string {
	if c == Optional {
		return "optional"
	}
	return "mandatory"
}

// Binder builds the context of a singleton invocation from the task
// environment. The returned value is marshalled to JSON and validated against
// the agent's input schema.
type Binder func(ctx context.Context, env Env) (any, error)

// ItemSource resolves the per-item contexts of a batched level. It runs at the
// level gate, once every dependency is persisted.
type ItemSource func(ctx context.Context, env Env) ([]any, error)

// AgentSpec places one agent in a level.
type AgentSpec struct {
	Agent       agent.Agent
	Criticality Criticality
	Bind        Binder        // Singleton context; nil means an empty object
	Items       ItemSource    // Batched levels only
	Timeout     time.Duration // Per-invocation timeout, 0 uses the orchestrator default
}

// Name returns the agent name, which is also its result key.
func (s AgentSpec) Name() string {
	return s.Agent.Name()
}

// Optional reports whether the agent's failure is tolerated.
func (s AgentSpec) Optional() bool {
	return s.Criticality == Optional
}

// Level is one ordered position of the pipeline.
type Level struct {
	Name      string
	Mode      Mode
	Agents    []AgentSpec
	DependsOn []string // Result keys (agent names, or SetupKey) that must exist before the level starts
}

// Mandatory reports whether any agent of the level is mandatory.
func (l Level) Mandatory() bool {
	for _, a := range l.Agents {
		if !a.Optional() {
			return true
		}
	}
	return false
}

// AgentNames returns the names of the level's agents in declaration order.
func (l Level) AgentNames() []string {
	names := make([]string, len(l.Agents))
	for i, a := range l.Agents {
		names[i] = a.Name()
	}
	return names
}
