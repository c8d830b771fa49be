package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alsksssass/deepagent/internal/agent"
	"github.com/alsksssass/deepagent/internal/llm"
	"github.com/alsksssass/deepagent/internal/prompt"
	"github.com/alsksssass/deepagent/internal/repo"
	"github.com/alsksssass/deepagent/internal/resilience"
)

func execute(t *testing.T, a agent.Agent, in any) agent.Response {
	t.Helper()
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("failed to encode input: %v", err)
	}
	return a.Execute(context.Background(), agent.Invocation{Task: "task-1", Index: agent.NoIndex, Input: raw})
}

func decode[P any](t *testing.T, resp agent.Response) P {
	t.Helper()
	p, err := agent.Decode[P](resp)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

// fakeCloner "clones" by creating the destination directory.
type fakeCloner struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (c *fakeCloner) Clone(ctx context.Context, locator, dir, name string) (repo.Checkout, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, locator)
	if err := c.fail[locator]; err != nil {
		return repo.Checkout{}, err
	}
	dest := filepath.Join(dir, name)
	if err := os.MkdirAll(dest, 0755); err != nil {
		return repo.Checkout{}, err
	}
	return repo.Checkout{Locator: locator, Name: name, Path: dest, Head: "abc1234"}, nil
}

// fakeHistory serves commits and diffs from memory.
type fakeHistory struct {
	mu    sync.Mutex
	logs  map[string][]repo.Commit // By checkout path
	diffs map[string]string        // By hash
	err   error
}

func (h *fakeHistory) Log(ctx context.Context, path, author string) ([]repo.Commit, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return nil, h.err
	}
	var out []repo.Commit
	for _, c := range h.logs[path] {
		if c.MatchesAuthor(author) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (h *fakeHistory) Diff(ctx context.Context, path, hash string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.diffs[hash]
	if !ok {
		return "", fmt.Errorf("unknown commit %s", hash)
	}
	return d, nil
}

// scriptedClient answers completions from a script of strings and errors.
type scriptedClient struct {
	mu        sync.Mutex
	responses []any
	requests  []llm.Request
}

func (c *scriptedClient) Complete(ctx context.Context, req llm.Request) (llm.Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests = append(c.requests, req)
	n := len(c.requests)
	if n > len(c.responses) {
		return llm.Reply{}, fmt.Errorf("unexpected call %d (only %d responses configured)", n, len(c.responses))
	}
	switch v := c.responses[n-1].(type) {
	case string:
		return llm.Reply{Text: v, Model: "test-model", InputTokens: 50, OutputTokens: 10}, nil
	case error:
		return llm.Reply{}, v
	default:
		return llm.Reply{}, fmt.Errorf("invalid response type: %T", v)
	}
}

func (c *scriptedClient) Requests() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.Request(nil), c.requests...)
}

func testCaller(client llm.Client) *llm.Caller {
	return llm.NewCaller(client, llm.CallerConfig{
		Retry: resilience.RetryConfig{
			MaxAttempts:     1,
			CallTimeout:     time.Second,
			InitialInterval: time.Millisecond,
			MaxInterval:     time.Millisecond,
			Multiplier:      2,
		},
	})
}

func testCatalog(t *testing.T) *prompt.Catalog {
	t.Helper()
	c, err := prompt.Default()
	if err != nil {
		t.Fatalf("failed to load prompt catalog: %v", err)
	}
	return c
}

// keywordEmbedder embeds texts as counts of a fixed vocabulary.
type keywordEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

var vocabulary = []string{"auth", "query", "render"}

func (e *keywordEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, len(vocabulary))
		for j, w := range vocabulary {
			v[j] = float32(strings.Count(strings.ToLower(text), w))
		}
		out[i] = v
	}
	return out, nil
}
