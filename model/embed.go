package model

import (
	"context"
	"log"
	"os"
)

// EmbeddingDim is fixed by the index schema; every vector must match it.
const EmbeddingDim = 1536

// EmbedderInterface converts text into a fixed-dimensionality vector.
type EmbedderInterface interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Embedder is the provider-facing embedding adapter.
type Embedder struct {
	openaiEmbedder *OpenAIEmbedder
}

func NewEmbedder() *Embedder {
	model := os.Getenv("EMBEDDING_MODEL")
	if model == "" {
		model = "text-embedding-ada-002"
	}
	openaiEmbedder := NewOpenAIEmbedder(os.Getenv("OPENAI_API_KEY"), model)

	log.Printf("[EMBEDDER] Uses OpenAI embeddings (%s, dim=%d)", model, EmbeddingDim)

	return &Embedder{
		openaiEmbedder: openaiEmbedder,
	}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.openaiEmbedder.Embed(ctx, text)
}
