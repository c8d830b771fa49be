package llm

import (
	"context"
	"fmt"
	"sync"
)

// scriptedClient returns scripted replies in order and records requests.
type scriptedClient struct {
	mu        sync.Mutex
	responses []any // Each entry is either a string reply or an error
	requests  []Request
}

func (c *scriptedClient) Complete(ctx context.Context, req Request) (Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests = append(c.requests, req)
	n := len(c.requests)
	if n > len(c.responses) {
		return Reply{}, fmt.Errorf("unexpected call %d (only %d responses configured)", n, len(c.responses))
	}

	switch v := c.responses[n-1].(type) {
	case string:
		return Reply{Text: v, Model: "test-model", InputTokens: 100, OutputTokens: 20}, nil
	case error:
		return Reply{}, v
	default:
		return Reply{}, fmt.Errorf("invalid response type: %T", v)
	}
}

func (c *scriptedClient) Requests() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Request(nil), c.requests...)
}
