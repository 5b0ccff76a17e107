package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ontograph/pkg/apperrors"
	"github.com/ekaya-inc/ontograph/pkg/graph"
	"github.com/ekaya-inc/ontograph/pkg/models"
)

// mockCheckpointRepo is an in-memory ApplyCheckpointRepository.
type mockCheckpointRepo struct {
	mu      sync.Mutex
	cps     map[string]models.ApplyCheckpoint
	saveErr error
}

func newMockCheckpointRepo() *mockCheckpointRepo {
	return &mockCheckpointRepo{cps: make(map[string]models.ApplyCheckpoint)}
}

func checkpointKey(jobID, entryID uuid.UUID) string {
	return jobID.String() + "|" + entryID.String()
}

func (m *mockCheckpointRepo) Get(_ context.Context, jobID, entryID uuid.UUID) (*models.ApplyCheckpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.cps[checkpointKey(jobID, entryID)]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	out := cp
	return &out, nil
}

func (m *mockCheckpointRepo) Save(_ context.Context, cp *models.ApplyCheckpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.cps[checkpointKey(cp.JobID, cp.EntryID)] = *cp
	return nil
}

func (m *mockCheckpointRepo) ListByJob(_ context.Context, jobID uuid.UUID) ([]*models.ApplyCheckpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ApplyCheckpoint
	for _, cp := range m.cps {
		if cp.JobID == jobID {
			c := cp
			out = append(out, &c)
		}
	}
	return out, nil
}

// relationEdgeStore simulates the graph store's idempotent relation upsert
// over a fixed set of matching pairs.
type relationEdgeStore struct {
	mu        sync.Mutex
	pairs     []graph.EntityPair
	edges     map[string]models.Relation
	upsertErr func(callNumber int) error
	calls     int
}

func newRelationEdgeStore(pairCount int) *relationEdgeStore {
	pairs := make([]graph.EntityPair, pairCount)
	for i := range pairs {
		team := fmt.Sprintf("team-%d", i%5+1)
		pairs[i] = graph.EntityPair{
			FromID:    fmt.Sprintf("svc-%03d", i+1),
			ToID:      team,
			FromValue: team,
			ToValue:   team,
		}
	}
	return &relationEdgeStore{pairs: pairs, edges: make(map[string]models.Relation)}
}

func (s *relationEdgeStore) bind(store *graph.MockStore) {
	store.MatchingPairsFunc = func(_ context.Context, _ models.TypePair, _ models.PropertyPattern, afterFrom, afterTo string, limit int) ([]graph.EntityPair, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		start := 0
		if afterFrom != "" || afterTo != "" {
			for i, p := range s.pairs {
				if p.FromID == afterFrom && p.ToID == afterTo {
					start = i + 1
					break
				}
			}
		}
		end := start + limit
		if end > len(s.pairs) {
			end = len(s.pairs)
		}
		if start >= len(s.pairs) {
			return nil, nil
		}
		batch := make([]graph.EntityPair, end-start)
		copy(batch, s.pairs[start:end])
		return batch, nil
	}
	store.UpsertRelationFunc = func(_ context.Context, rel models.Relation) (bool, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.calls++
		if s.upsertErr != nil {
			if err := s.upsertErr(s.calls); err != nil {
				return false, err
			}
		}
		key := rel.IdentityKey()
		if _, exists := s.edges[key]; exists {
			return false, nil
		}
		s.edges[key] = rel
		return true, nil
	}
}

func (s *relationEdgeStore) edgeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.edges)
}

func ownedByEntry() *models.OntologySchemaEntry {
	return &models.OntologySchemaEntry{
		ID:           uuid.New(),
		RelationType: "owned_by",
		FromType:     "Service",
		ToType:       "Team",
		Cardinality:  models.CardinalityUnknown,
		Confidence:   0.84,
		Provenance: models.RelationProvenance{
			HeuristicScore: 0.66,
			LLMScore:       0.9,
			AcceptedBy:     models.AcceptedByLLM,
			Rationale:      "ownership convention",
		},
		Pattern: &models.PropertyPattern{
			Kind:         models.PatternExactMatch,
			FromProperty: "owner_team_name",
			ToProperty:   "name",
		},
	}
}

func TestApply_CreatesAllRelationsAndSecondApplyCreatesZero(t *testing.T) {
	ctx := context.Background()
	edgeStore := newRelationEdgeStore(50)
	store := graph.NewMockStore()
	edgeStore.bind(store)

	schemaRepo := &mockSchemaRepo{}
	entry := ownedByEntry()
	require.NoError(t, schemaRepo.Upsert(ctx, entry))

	applier := NewOntologyApplier(store, newMockCheckpointRepo(), schemaRepo, 10, zap.NewNop())

	created, err := applier.Apply(ctx, uuid.New(), entry)
	require.NoError(t, err)
	assert.Equal(t, 50, created)
	assert.Equal(t, 50, edgeStore.edgeCount())

	// A later job re-applying the same entry walks the same pairs but the
	// idempotent upsert matches every edge, creating none.
	created, err = applier.Apply(ctx, uuid.New(), entry)
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Equal(t, 50, edgeStore.edgeCount())
}

func TestApply_DoneCheckpointShortCircuits(t *testing.T) {
	ctx := context.Background()
	edgeStore := newRelationEdgeStore(20)
	store := graph.NewMockStore()
	edgeStore.bind(store)

	checkpoints := newMockCheckpointRepo()
	entry := ownedByEntry()
	applier := NewOntologyApplier(store, checkpoints, &mockSchemaRepo{}, 10, zap.NewNop())

	jobID := uuid.New()
	created, err := applier.Apply(ctx, jobID, entry)
	require.NoError(t, err)
	assert.Equal(t, 20, created)

	scansAfterFirst := store.MatchingPairsCalls
	created, err = applier.Apply(ctx, jobID, entry)
	require.NoError(t, err)
	assert.Equal(t, 20, created, "re-apply within the same job reports the stored count")
	assert.Equal(t, scansAfterFirst, store.MatchingPairsCalls, "a done checkpoint must skip the scan")
}

func TestApply_ResumesFromCheckpointAfterFailure(t *testing.T) {
	ctx := context.Background()
	edgeStore := newRelationEdgeStore(50)
	edgeStore.upsertErr = func(callNumber int) error {
		if callNumber == 25 {
			return errors.New("node vanished mid-write")
		}
		return nil
	}
	store := graph.NewMockStore()
	edgeStore.bind(store)

	checkpoints := newMockCheckpointRepo()
	entry := ownedByEntry()
	applier := NewOntologyApplier(store, checkpoints, &mockSchemaRepo{}, 10, zap.NewNop())

	jobID := uuid.New()
	created, err := applier.Apply(ctx, jobID, entry)
	require.Error(t, err)
	assert.Equal(t, 24, created)

	// The retry continues after the 24th pair without rewriting it.
	created, err = applier.Apply(ctx, jobID, entry)
	require.NoError(t, err)
	assert.Equal(t, 50, created)
	assert.Equal(t, 50, edgeStore.edgeCount())
}

func TestApply_NilPatternIsNoop(t *testing.T) {
	store := graph.NewMockStore()
	applier := NewOntologyApplier(store, newMockCheckpointRepo(), &mockSchemaRepo{}, 10, zap.NewNop())

	entry := ownedByEntry()
	entry.Pattern = nil

	created, err := applier.Apply(context.Background(), uuid.New(), entry)
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Zero(t, store.MatchingPairsCalls)
	assert.Zero(t, store.UpsertRelationCalls)
}

func TestApply_RefreshesCardinalityFromStats(t *testing.T) {
	ctx := context.Background()
	edgeStore := newRelationEdgeStore(50)
	store := graph.NewMockStore()
	edgeStore.bind(store)
	store.RelationStatsFunc = func(_ context.Context, relationType string, _ models.TypePair) (graph.RelationStats, error) {
		assert.Equal(t, "owned_by", relationType)
		return graph.RelationStats{Relations: 50, DistinctFrom: 50, DistinctTo: 5}, nil
	}

	schemaRepo := &mockSchemaRepo{}
	entry := ownedByEntry()
	require.NoError(t, schemaRepo.Upsert(ctx, entry))

	applier := NewOntologyApplier(store, newMockCheckpointRepo(), schemaRepo, 10, zap.NewNop())
	_, err := applier.Apply(ctx, uuid.New(), entry)
	require.NoError(t, err)

	// Every service points at exactly one team: N:1.
	assert.Equal(t, models.CardinalityManyToOne, entry.Cardinality)
	stored, err := schemaRepo.GetByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CardinalityManyToOne, stored.Cardinality)
}

func TestApply_WritesProvenanceOntoEdges(t *testing.T) {
	ctx := context.Background()
	edgeStore := newRelationEdgeStore(5)
	store := graph.NewMockStore()
	edgeStore.bind(store)

	entry := ownedByEntry()
	applier := NewOntologyApplier(store, newMockCheckpointRepo(), &mockSchemaRepo{}, 10, zap.NewNop())
	_, err := applier.Apply(ctx, uuid.New(), entry)
	require.NoError(t, err)

	for _, rel := range edgeStore.edges {
		assert.Equal(t, "owned_by", rel.Type)
		assert.InDelta(t, entry.Confidence, rel.Confidence, 0.001)
		assert.Equal(t, models.AcceptedByLLM, rel.Provenance.AcceptedBy)
		assert.InDelta(t, 0.9, rel.Provenance.LLMScore, 0.001)
	}
}

func TestApply_CancelledContextStopsBetweenBatches(t *testing.T) {
	edgeStore := newRelationEdgeStore(50)
	store := graph.NewMockStore()
	edgeStore.bind(store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	applier := NewOntologyApplier(store, newMockCheckpointRepo(), &mockSchemaRepo{}, 10, zap.NewNop())
	created, err := applier.Apply(ctx, uuid.New(), ownedByEntry())
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, created)
	assert.Zero(t, store.UpsertRelationCalls)
}
