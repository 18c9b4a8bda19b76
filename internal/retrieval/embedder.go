// Package retrieval turns lead text into grounding context: it embeds text,
// stores and searches vectors, and assembles the snippet set the downstream
// stages consume.
package retrieval

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bizpilot/bizpilot/internal/faults"
)

// embedConcurrency bounds parallel embed calls during batch ingestion so a
// local inference engine is not flooded.
const embedConcurrency = 4

// EmbeddingClient is the slice of the inference client the embedder needs.
type EmbeddingClient interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

// Embedder produces embedding vectors for lead and document text.
type Embedder struct {
	client EmbeddingClient
	model  string
}

// NewEmbedder creates an Embedder bound to one embedding model. All vectors
// in one index must come from the same model or similarity scores are
// meaningless.
func NewEmbedder(client EmbeddingClient, model string) *Embedder {
	return &Embedder{client: client, model: model}
}

// Model returns the embedding model identifier.
func (e *Embedder) Model() string { return e.model }

// Embed returns the vector for one text. Empty or whitespace-only input is a
// caller bug and fatal; provider errors pass through as transient.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, faults.Embedding(fmt.Errorf("empty input text"), false)
	}

	vec, err := e.client.Embed(ctx, e.model, text)
	if err != nil {
		return nil, faults.Embedding(fmt.Errorf("embedding text: %w", err), faults.IsTransient(err))
	}
	if len(vec) == 0 {
		return nil, faults.Embedding(fmt.Errorf("provider returned empty vector"), true)
	}
	return vec, nil
}

// EmbedBatch embeds texts concurrently, preserving input order. The first
// error cancels the remaining calls.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(ctx, text)
			if err != nil {
				return fmt.Errorf("text %d: %w", i, err)
			}
			mu.Lock()
			vectors[i] = vec
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}
