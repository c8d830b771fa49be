// Package agent defines the single contract every pipeline agent implements.
package agent

import (
	"context"
	"encoding/json"

	"github.com/alsksssass/deepagent/internal/schema"
)

// Status is the terminal status of one agent invocation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Kind tags the behavioral variant of an agent.
type Kind string

const (
	KindCollector  Kind = "collector"  // Gathers raw facts (clone, history, static analysis)
	KindBuilder    Kind = "builder"    // Builds a derived index (embeddings)
	KindEvaluator  Kind = "evaluator"  // Judges items, usually LLM-backed
	KindAggregator Kind = "aggregator" // Reduces many results into statistics
	KindReporter   Kind = "reporter"   // Renders the human-facing report
)

// ErrorKind classifies the error recorded on a failed or degraded response.
type ErrorKind string

const (
	ErrorNone       ErrorKind = ""
	ErrorValidation ErrorKind = "validation"
	ErrorExternal   ErrorKind = "external"
	ErrorParse      ErrorKind = "parse"
	ErrorInternal   ErrorKind = "internal"
)

// NoIndex marks an invocation of a singleton (non-batched) stage.
const NoIndex = -1

// Invocation is the immutable input of one Execute call.
type Invocation struct {
	Task  string          // Task identifier
	Index int             // Batch index, NoIndex for singleton stages
	Input json.RawMessage // Agent-specific context, validated against InputSchema
}

// Response is the output of one Execute call. Payload is never empty: failed
// responses carry the agent's default payload.
type Response struct {
	Status    Status          `json:"status"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error,omitempty"`
	ErrorKind ErrorKind       `json:"error_kind,omitempty"`
	Warnings  []string        `json:"warnings,omitempty"`
}

// Succeeded reports whether the response status is success.
func (r Response) Succeeded() bool {
	return r.Status == StatusSuccess
}

// Retryable reports whether a failed response may succeed if invoked again.
// Only external call failures are transient. Parse failures have already had
// their stricter retry and policy applied inside the agent.
func (r Response) Retryable() bool {
	return r.Status == StatusFailed && r.ErrorKind == ErrorExternal
}

// Agent is implemented by every pipeline unit. The orchestrator only ever holds
// this interface.
type Agent interface {
	Name() string
	Kind() Kind
	InputSchema() *schema.Schema
	OutputSchema() *schema.Schema
	Execute(ctx context.Context, inv Invocation) Response
	// Fail returns the failed response for err without running the agent,
	// carrying the agent's default payload.
	Fail(err error) Response
}
