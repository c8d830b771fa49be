package agents

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"

	"github.com/alsksssass/deepagent/internal/agent"
	"github.com/alsksssass/deepagent/internal/analysis"
	"github.com/alsksssass/deepagent/internal/repo"
	"github.com/alsksssass/deepagent/internal/vector"
)

// RAGContext is the input of code_rag_builder.
type RAGContext struct {
	WorkDir    string          `json:"work_dir"`
	Repos      []repo.Checkout `json:"repos,omitempty"`
	Collection string          `json:"collection"`
}

// RAGResult is the payload of code_rag_builder: where the index lives and
// what it holds.
type RAGResult struct {
	Index      string `json:"index"`
	Collection string `json:"collection"`
	Files      int    `json:"files"`
	Chunks     int    `json:"chunks"`
}

// RAGConfig configures code_rag_builder.
type RAGConfig struct {
	Embedder     vector.Embedder
	ChunkLines   int   // Lines per chunk (default 40)
	MaxFileBytes int64 // Larger files are not indexed (0 for no limit)
}

// NewCodeRAGBuilder splits the source files of every repository into chunks
// and embeds them into the task's vector index. Chunk paths are prefixed with
// the repository name.
func NewCodeRAGBuilder(cfg RAGConfig) *agent.Typed[RAGContext, RAGResult] {
	return agent.Define(CodeRAGBuilder, agent.KindBuilder, func(ctx context.Context, inv agent.Invocation, in RAGContext) (RAGResult, error) {
		if cfg.Embedder == nil {
			return RAGResult{}, errors.New("no embedder configured")
		}
		if in.Collection == "" {
			return RAGResult{}, &agent.ValidationError{Agent: CodeRAGBuilder, Err: errors.New("collection is empty")}
		}

		indexPath := IndexPath(in.WorkDir)
		idx, err := vector.Open(ctx, indexPath, cfg.Embedder)
		if err != nil {
			return RAGResult{}, err
		}
		defer idx.Close()

		out := RAGResult{Index: indexPath, Collection: in.Collection}
		for _, co := range in.Repos {
			var chunks []vector.Chunk
			err := analysis.Walk(ctx, co.Path, cfg.MaxFileBytes, func(f analysis.SourceFile) error {
				data, err := os.ReadFile(filepath.Join(co.Path, filepath.FromSlash(f.Path)))
				if err != nil {
					return err
				}
				out.Files++
				chunks = append(chunks, vector.Split(path.Join(co.Name, f.Path), string(data), cfg.ChunkLines)...)
				return nil
			})
			if err != nil {
				return RAGResult{}, err
			}
			if err := idx.Add(ctx, in.Collection, chunks); err != nil {
				return RAGResult{}, err
			}
		}

		n, err := idx.Count(ctx, in.Collection)
		if err != nil {
			return RAGResult{}, err
		}
		out.Chunks = n
		return out, nil
	})
}
