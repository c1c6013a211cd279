package store

import (
	"context"

	"medrag/types"
)

// VectorStorer is the narrow contract against the external vector index:
// idempotent index setup, batch writes and top-k cosine retrieval.
type VectorStorer interface {
	EnsureIndex(ctx context.Context) error
	Upsert(ctx context.Context, records []types.Record) error
	Query(ctx context.Context, vector []float32, topK int) ([]types.ScoredRecord, error)
}
