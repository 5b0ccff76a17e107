package vector

import (
	"context"

	"github.com/ekaya-inc/ontograph/pkg/models"
)

// Document is a stored item: an embedding plus the content it was computed
// from and metadata describing its origin (kind, node_id, title).
type Document struct {
	ID        string
	Embedding []float32
	Content   string
	Metadata  map[string]any
}

// Store is the engine's client for the external vector index. The index is
// populated by the ingestion pipeline; the engine upserts graph-node
// embeddings and searches at query time. Implementations must be safe for
// concurrent use.
type Store interface {
	// Upsert stores documents with their embeddings, replacing any existing
	// document with the same id.
	Upsert(ctx context.Context, docs []Document) error

	// Search returns the topK most similar documents to the embedding,
	// highest similarity first.
	Search(ctx context.Context, embedding []float32, topK int) ([]models.VectorHit, error)

	// Ping verifies connectivity to the vector store.
	Ping(ctx context.Context) error

	// Close releases resources held by the client.
	Close() error
}
