package graph

import (
	"context"

	"github.com/ekaya-inc/ontograph/pkg/models"
)

// EntityPair is one (from, to) entity pair produced by a pattern scan.
// Results are ordered by (FromID, ToID) so callers can resume a scan from a
// checkpoint cursor. Values carry the canonical string form of the matched
// properties.
type EntityPair struct {
	FromID    string
	ToID      string
	FromValue string
	ToValue   string
}

// RelationStats aggregates one relation type between an entity-type pair.
// These counts drive cardinality inference after an apply pass.
type RelationStats struct {
	Relations    int
	DistinctFrom int
	DistinctTo   int
}

// Store is the engine's read/write view of the external knowledge graph.
// Entities are keyed by their stable external id property and labeled with
// their entity type. Implementations must be safe for concurrent use.
type Store interface {
	// EntityTypes returns all entity types (node labels) present in the graph.
	EntityTypes(ctx context.Context) ([]string, error)

	// SampleEntities returns up to limit entities of the given type, ordered
	// by id for deterministic sampling.
	SampleEntities(ctx context.Context, entityType string, limit int) ([]models.Entity, error)

	// GetEntitiesByIDs hydrates entities for the given external ids.
	// Unknown ids are skipped, not errors.
	GetEntitiesByIDs(ctx context.Context, ids []string) ([]models.Entity, error)

	// SearchEntities returns up to limit entities with a string property
	// value containing the term, case-insensitively, ordered by id. Retrieval
	// falls back to this as its seed source when vector search is unavailable.
	SearchEntities(ctx context.Context, term string, limit int) ([]models.Entity, error)

	// DistinctPropertyValues returns up to limit distinct values of the
	// property across entities of the given type, coerced to canonical string
	// form. Entities without the property are skipped.
	DistinctPropertyValues(ctx context.Context, entityType, property string, limit int) ([]string, error)

	// CountPairs counts entity pairs whose property values satisfy the
	// pattern.
	CountPairs(ctx context.Context, pair models.TypePair, pattern models.PropertyPattern) (int, error)

	// MatchingPairs scans pattern matches ordered by (from id, to id),
	// resuming strictly after the (afterFrom, afterTo) cursor. Empty cursor
	// components mean "from the start".
	MatchingPairs(ctx context.Context, pair models.TypePair, pattern models.PropertyPattern, afterFrom, afterTo string, limit int) ([]EntityPair, error)

	// UpsertRelation merges a relation by its (type, from, to) identity and
	// reports whether a new edge was created. An existing edge only has its
	// confidence refreshed; provenance is immutable after creation.
	UpsertRelation(ctx context.Context, rel models.Relation) (bool, error)

	// RelationStats aggregates edge and distinct-endpoint counts for one
	// relation type between a type pair.
	RelationStats(ctx context.Context, relationType string, pair models.TypePair) (RelationStats, error)

	// ExpandNeighbors walks one hop along the given relation type from the
	// seed ids, in either direction. Seeds themselves are excluded from the
	// result.
	ExpandNeighbors(ctx context.Context, fromIDs []string, relationType string, limit int) ([]models.GraphNeighbor, error)

	// Ping verifies connectivity to the graph store.
	Ping(ctx context.Context) error

	// Close releases the underlying driver resources.
	Close(ctx context.Context) error
}
