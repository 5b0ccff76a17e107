package graph

import (
	"context"

	"github.com/ekaya-inc/ontograph/pkg/models"
)

// MockStore is a configurable mock for testing graph-backed functionality.
// Set the function fields to control behavior in tests.
type MockStore struct {
	// EntityTypesFunc is called when EntityTypes is invoked.
	// If nil, returns nil slice and nil error.
	EntityTypesFunc func(ctx context.Context) ([]string, error)

	// SampleEntitiesFunc is called when SampleEntities is invoked.
	// If nil, returns nil slice and nil error.
	SampleEntitiesFunc func(ctx context.Context, entityType string, limit int) ([]models.Entity, error)

	// GetEntitiesByIDsFunc is called when GetEntitiesByIDs is invoked.
	// If nil, returns nil slice and nil error.
	GetEntitiesByIDsFunc func(ctx context.Context, ids []string) ([]models.Entity, error)

	// SearchEntitiesFunc is called when SearchEntities is invoked.
	// If nil, returns nil slice and nil error.
	SearchEntitiesFunc func(ctx context.Context, term string, limit int) ([]models.Entity, error)

	// DistinctPropertyValuesFunc is called when DistinctPropertyValues is
	// invoked. If nil, returns nil slice and nil error.
	DistinctPropertyValuesFunc func(ctx context.Context, entityType, property string, limit int) ([]string, error)

	// CountPairsFunc is called when CountPairs is invoked.
	// If nil, returns 0 and nil error.
	CountPairsFunc func(ctx context.Context, pair models.TypePair, pattern models.PropertyPattern) (int, error)

	// MatchingPairsFunc is called when MatchingPairs is invoked.
	// If nil, returns nil slice and nil error.
	MatchingPairsFunc func(ctx context.Context, pair models.TypePair, pattern models.PropertyPattern, afterFrom, afterTo string, limit int) ([]EntityPair, error)

	// UpsertRelationFunc is called when UpsertRelation is invoked.
	// If nil, reports created=true and nil error.
	UpsertRelationFunc func(ctx context.Context, rel models.Relation) (bool, error)

	// RelationStatsFunc is called when RelationStats is invoked.
	// If nil, returns zero stats and nil error.
	RelationStatsFunc func(ctx context.Context, relationType string, pair models.TypePair) (RelationStats, error)

	// ExpandNeighborsFunc is called when ExpandNeighbors is invoked.
	// If nil, returns nil slice and nil error.
	ExpandNeighborsFunc func(ctx context.Context, fromIDs []string, relationType string, limit int) ([]models.GraphNeighbor, error)

	// PingFunc is called when Ping is invoked. If nil, returns nil.
	PingFunc func(ctx context.Context) error

	// Call tracking for verification
	EntityTypesCalls     int
	SampleEntitiesCalls  int
	SearchEntitiesCalls  int
	CountPairsCalls      int
	MatchingPairsCalls   int
	UpsertRelationCalls  int
	ExpandNeighborsCalls int
	PingCalls            int
}

// NewMockStore creates a new mock graph store.
func NewMockStore() *MockStore {
	return &MockStore{}
}

// EntityTypes implements Store.
func (m *MockStore) EntityTypes(ctx context.Context) ([]string, error) {
	m.EntityTypesCalls++
	if m.EntityTypesFunc != nil {
		return m.EntityTypesFunc(ctx)
	}
	return nil, nil
}

// SampleEntities implements Store.
func (m *MockStore) SampleEntities(ctx context.Context, entityType string, limit int) ([]models.Entity, error) {
	m.SampleEntitiesCalls++
	if m.SampleEntitiesFunc != nil {
		return m.SampleEntitiesFunc(ctx, entityType, limit)
	}
	return nil, nil
}

// GetEntitiesByIDs implements Store.
func (m *MockStore) GetEntitiesByIDs(ctx context.Context, ids []string) ([]models.Entity, error) {
	if m.GetEntitiesByIDsFunc != nil {
		return m.GetEntitiesByIDsFunc(ctx, ids)
	}
	return nil, nil
}

// SearchEntities implements Store.
func (m *MockStore) SearchEntities(ctx context.Context, term string, limit int) ([]models.Entity, error) {
	m.SearchEntitiesCalls++
	if m.SearchEntitiesFunc != nil {
		return m.SearchEntitiesFunc(ctx, term, limit)
	}
	return nil, nil
}

// DistinctPropertyValues implements Store.
func (m *MockStore) DistinctPropertyValues(ctx context.Context, entityType, property string, limit int) ([]string, error) {
	if m.DistinctPropertyValuesFunc != nil {
		return m.DistinctPropertyValuesFunc(ctx, entityType, property, limit)
	}
	return nil, nil
}

// CountPairs implements Store.
func (m *MockStore) CountPairs(ctx context.Context, pair models.TypePair, pattern models.PropertyPattern) (int, error) {
	m.CountPairsCalls++
	if m.CountPairsFunc != nil {
		return m.CountPairsFunc(ctx, pair, pattern)
	}
	return 0, nil
}

// MatchingPairs implements Store.
func (m *MockStore) MatchingPairs(ctx context.Context, pair models.TypePair, pattern models.PropertyPattern, afterFrom, afterTo string, limit int) ([]EntityPair, error) {
	m.MatchingPairsCalls++
	if m.MatchingPairsFunc != nil {
		return m.MatchingPairsFunc(ctx, pair, pattern, afterFrom, afterTo, limit)
	}
	return nil, nil
}

// UpsertRelation implements Store.
func (m *MockStore) UpsertRelation(ctx context.Context, rel models.Relation) (bool, error) {
	m.UpsertRelationCalls++
	if m.UpsertRelationFunc != nil {
		return m.UpsertRelationFunc(ctx, rel)
	}
	return true, nil
}

// RelationStats implements Store.
func (m *MockStore) RelationStats(ctx context.Context, relationType string, pair models.TypePair) (RelationStats, error) {
	if m.RelationStatsFunc != nil {
		return m.RelationStatsFunc(ctx, relationType, pair)
	}
	return RelationStats{}, nil
}

// ExpandNeighbors implements Store.
func (m *MockStore) ExpandNeighbors(ctx context.Context, fromIDs []string, relationType string, limit int) ([]models.GraphNeighbor, error) {
	m.ExpandNeighborsCalls++
	if m.ExpandNeighborsFunc != nil {
		return m.ExpandNeighborsFunc(ctx, fromIDs, relationType, limit)
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
func (m *MockStore) Close(ctx context.Context) error {
	return nil
}

// Reset clears call tracking counters.
func (m *MockStore) Reset() {
	m.EntityTypesCalls = 0
	m.SampleEntitiesCalls = 0
	m.SearchEntitiesCalls = 0
	m.CountPairsCalls = 0
	m.MatchingPairsCalls = 0
	m.UpsertRelationCalls = 0
	m.ExpandNeighborsCalls = 0
	m.PingCalls = 0
}

// Ensure MockStore implements Store at compile time.
var _ Store = (*MockStore)(nil)
