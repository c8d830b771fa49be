// Package vector is the code vector index: source chunks embedded by a
// model, stored in SQLite, and searched by cosine similarity.
package vector

import (
	"context"
	"fmt"

	"github.com/ollama/ollama/api"
	"github.com/sony/gobreaker"

	"github.com/alsksssass/deepagent/internal/resilience"
)

// Embedder turns texts into vectors, one per text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// embedAPI is the part of the Ollama client used by OllamaEmbedder.
type embedAPI interface {
	Embed(ctx context.Context, req *api.EmbedRequest) (*api.EmbedResponse, error)
}

// OllamaEmbedder embeds texts with an Ollama embedding model.
type OllamaEmbedder struct {
	api     embedAPI
	model   string
	breaker *gobreaker.CircuitBreaker
	retry   resilience.RetryConfig
}

// NewOllamaEmbedder creates an embedder for model. breakers may be nil.
func NewOllamaEmbedder(client *api.Client, model string, breakers *resilience.Breakers, retry resilience.RetryConfig) (*OllamaEmbedder, error) {
	if model == "" {
		return nil, fmt.Errorf("embedding model must be set")
	}
	e := &OllamaEmbedder{api: client, model: model, retry: retry}
	if breakers != nil {
		e.breaker = breakers.Get("embedding")
	}
	return e, nil
}

// Embed embeds texts in a single request. Failures are returned as
// *agent.ExternalCallError.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	return resilience.Do(ctx, "embedding", e.breaker, e.retry, func(ctx context.Context) ([][]float32, error) {
		resp, err := e.api.Embed(ctx, &api.EmbedRequest{Model: e.model, Input: texts})
		if err != nil {
			return nil, fmt.Errorf("ollama embed failed: %w", err)
		}
		if len(resp.Embeddings) != len(texts) {
			return nil, resilience.Permanent(fmt.Errorf("ollama returned %d embeddings for %d inputs", len(resp.Embeddings), len(texts)))
		}
		return resp.Embeddings, nil
	})
}
