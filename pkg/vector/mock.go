package vector

import (
	"context"

	"github.com/ekaya-inc/ontograph/pkg/models"
)

// MockStore is a configurable mock for testing vector-backed functionality.
// Set the function fields to control behavior in tests.
type MockStore struct {
	// UpsertFunc is called when Upsert is invoked. If nil, returns nil.
	UpsertFunc func(ctx context.Context, docs []Document) error

	// SearchFunc is called when Search is invoked.
	// If nil, returns nil slice and nil error.
	SearchFunc func(ctx context.Context, embedding []float32, topK int) ([]models.VectorHit, error)

	// PingFunc is called when Ping is invoked. If nil, returns nil.
	PingFunc func(ctx context.Context) error

	// Call tracking for verification
	UpsertCalls int
	SearchCalls int
	PingCalls   int
}

// NewMockStore creates a new mock vector store.
func NewMockStore() *MockStore {
	return &MockStore{}
}

// Upsert implements Store.
func (m *MockStore) Upsert(ctx context.Context, docs []Document) error {
	m.UpsertCalls++
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, docs)
	}
	return nil
}

// Search implements Store.
func (m *MockStore) Search(ctx context.Context, embedding []float32, topK int) ([]models.VectorHit, error) {
	m.SearchCalls++
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, embedding, topK)
	}
	return nil, nil
}

// Ping implements Store.
func (m *MockStore) Ping(ctx context.Context) error {
	m.PingCalls++
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

// Close implements Store.
func (m *MockStore) Close() error {
	return nil
}

// Reset clears call tracking counters.
func (m *MockStore) Reset() {
	m.UpsertCalls = 0
	m.SearchCalls = 0
	m.PingCalls = 0
}

// Ensure MockStore implements Store at compile time.
var _ Store = (*MockStore)(nil)
