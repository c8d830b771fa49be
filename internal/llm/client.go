// Package llm provides inference clients, usage accounting and structured
// (schema-validated) completion on top of them.
package llm

import (
	"context"
	"log"
	"strings"

	"github.com/sony/gobreaker"

	"github.com/alsksssass/deepagent/internal/resilience"
)

// Role is the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role
	Content string
}

// Request is one completion request.
type Request struct {
	Agent     string // Caller, for usage accounting
	Template  string // Prompt template name, for logs and errors
	System    string
	Messages  []Message
	MaxTokens int
	JSON      bool // Ask the provider for JSON output where supported
}

// Reply is the text answer of a completion.
type Reply struct {
	Text         string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// Client is an inference endpoint: prompt text in, response text out.
type Client interface {
	Complete(ctx context.Context, req Request) (Reply, error)
}

// flatten renders a conversation as a single prompt for providers without a
// message API.
func flatten(msgs []Message) string {
	if len(msgs) == 1 {
		return msgs[0].Content
	}

	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		switch m.Role {
		case RoleAssistant:
			b.WriteString("Previous answer:\n")
		default:
			if i > 0 {
				b.WriteString("Instruction:\n")
			}
		}
		b.WriteString(m.Content)
	}
	return b.String()
}

// Caller is the shared inference collaborator handed to LLM-backed agents. It
// applies timeouts, retry and the circuit breaker, and records usage.
type Caller struct {
	client    Client
	usage     *Accountant
	breaker   *gobreaker.CircuitBreaker
	retry     resilience.RetryConfig
	maxTokens int
	logger    *log.Logger
}

// CallerConfig configures NewCaller.
type CallerConfig struct {
	Usage     *Accountant          // Optional
	Breakers  *resilience.Breakers // Optional
	Retry     resilience.RetryConfig
	MaxTokens int         // Default max tokens per request (default 4096)
	Logger    *log.Logger // Optional, defaults to the standard logger
}

// NewCaller wraps client with resilience and accounting.
func NewCaller(client Client, cfg CallerConfig) *Caller {
	c := &Caller{
		client:    client,
		usage:     cfg.Usage,
		retry:     cfg.Retry,
		maxTokens: cfg.MaxTokens,
		logger:    cfg.Logger,
	}
	if c.logger == nil {
		c.logger = log.Default()
	}
	if c.maxTokens <= 0 {
		c.maxTokens = 4096
	}
	if cfg.Breakers != nil {
		c.breaker = cfg.Breakers.Get("inference")
	}
	return c
}

// Usage returns the accountant, which may be nil.
func (c *Caller) Usage() *Accountant {
	return c.usage
}

// Complete performs one completion with retry. Failures are returned as
// *agent.ExternalCallError.
func (c *Caller) Complete(ctx context.Context, req Request) (Reply, error) {
	if req.MaxTokens <= 0 {
		req.MaxTokens = c.maxTokens
	}

	reply, err := resilience.Do(ctx, "inference", c.breaker, c.retry, func(ctx context.Context) (Reply, error) {
		return c.client.Complete(ctx, req)
	})
	if err != nil {
		return Reply{}, err
	}

	if c.usage != nil {
		c.usage.Record(req.Agent, reply)
	}
	return reply, nil
}
