package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// generateAPI is the part of the Ollama client used by OllamaClient.
type generateAPI interface {
	Generate(ctx context.Context, req *api.GenerateRequest, fn api.GenerateResponseFunc) error
}

// OllamaClient runs completions on a local Ollama server.
type OllamaClient struct {
	api   generateAPI
	model string
}

// NewOllamaAPI returns an Ollama API client for host, or for OLLAMA_HOST when
// host is empty.
func NewOllamaAPI(host string) (*api.Client, error) {
	if host == "" {
		return api.ClientFromEnvironment()
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	return api.NewClient(u, http.DefaultClient), nil
}

// NewOllama creates a completion client for model.
func NewOllama(client *api.Client, model string) (*OllamaClient, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama model must be set")
	}
	return &OllamaClient{api: client, model: model}, nil
}

// Model returns the configured model name.
func (c *OllamaClient) Model() string {
	return c.model
}

// Complete runs a non-streaming generate request.
func (c *OllamaClient) Complete(ctx context.Context, req Request) (Reply, error) {
	stream := false
	gen := &api.GenerateRequest{
		Model:  c.model,
		System: req.System,
		Prompt: flatten(req.Messages),
		Stream: &stream,
	}
	if req.JSON {
		gen.Format = json.RawMessage(`"json"`)
	}
	if req.MaxTokens > 0 {
		gen.Options = map[string]any{"num_predict": req.MaxTokens}
	}

	var reply Reply
	var text strings.Builder
	err := c.api.Generate(ctx, gen, func(resp api.GenerateResponse) error {
		text.WriteString(resp.Response)
		if resp.Done {
			reply.InputTokens = int64(resp.PromptEvalCount)
			reply.OutputTokens = int64(resp.EvalCount)
		}
		return nil
	})
	if err != nil {
		return Reply{}, fmt.Errorf("ollama generate failed: %w", err)
	}

	reply.Text = text.String()
	reply.Model = c.model
	return reply, nil
}
