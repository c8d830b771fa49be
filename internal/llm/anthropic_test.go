package llm

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type fakeMessages struct {
	mu     sync.Mutex
	params []anthropic.MessageNewParams
	raw    string
	err    error
}

func (f *fakeMessages) New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	var msg anthropic.Message
	if err := json.Unmarshal([]byte(f.raw), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func TestAnthropicClient_Complete(t *testing.T) {
	fake := &fakeMessages{raw: `{
		"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-sonnet-4-5",
		"content": [{"type": "text", "text": "{\"score\": "}, {"type": "text", "text": "9}"}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 120, "output_tokens": 8}
	}`}
	c := &AnthropicClient{messages: fake, model: "claude-sonnet-4-5"}

	reply, err := c.Complete(context.Background(), Request{
		System:    "rubric",
		MaxTokens: 1024,
		Messages: []Message{
			{Role: RoleUser, Content: "evaluate"},
			{Role: RoleAssistant, Content: "hmm"},
			{Role: RoleUser, Content: "JSON only"},
		},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if reply.Text != `{"score": 9}` {
		t.Errorf("text mismatch: got %q", reply.Text)
	}
	if reply.InputTokens != 120 || reply.OutputTokens != 8 || reply.Model != "claude-sonnet-4-5" {
		t.Errorf("unexpected reply metadata: %+v", reply)
	}

	if len(fake.params) != 1 {
		t.Fatalf("expected 1 request, got %d", len(fake.params))
	}
	p := fake.params[0]
	if p.MaxTokens != 1024 || len(p.Messages) != 3 {
		t.Errorf("unexpected params: max_tokens=%d messages=%d", p.MaxTokens, len(p.Messages))
	}
	if p.Messages[1].Role != anthropic.MessageParamRoleAssistant {
		t.Errorf("second message role: got %s, want assistant", p.Messages[1].Role)
	}
	if len(p.System) != 1 || p.System[0].Text != "rubric" {
		t.Errorf("system prompt not set: %+v", p.System)
	}
}

func TestAnthropicClient_Error(t *testing.T) {
	fake := &fakeMessages{err: errors.New("529 overloaded")}
	c := &AnthropicClient{messages: fake, model: "claude-sonnet-4-5"}

	if _, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}}); err == nil {
		t.Fatal("expected error")
	}
}
