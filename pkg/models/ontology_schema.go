package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Cardinality
// ============================================================================

// Cardinality classifies how entity instances on each side of a relation type
// participate in it. Inferred from matched-pair counts during apply; unknown
// until the first apply completes.
type Cardinality string

const (
	CardinalityUnknown    Cardinality = "unknown"
	CardinalityOneToOne   Cardinality = "1:1"
	CardinalityOneToMany  Cardinality = "1:N"
	CardinalityManyToOne  Cardinality = "N:1"
	CardinalityManyToMany Cardinality = "N:M"
)

// ValidCardinalities contains all valid cardinality values.
var ValidCardinalities = []Cardinality{
	CardinalityUnknown,
	CardinalityOneToOne,
	CardinalityOneToMany,
	CardinalityManyToOne,
	CardinalityManyToMany,
}

// IsValidCardinality checks if the given cardinality is valid.
func IsValidCardinality(c Cardinality) bool {
	for _, v := range ValidCardinalities {
		if v == c {
			return true
		}
	}
	return false
}

// InferCardinality classifies a relation type from its apply-phase counts:
// how many distinct source and target entities participate versus how many
// relations were written between them.
func InferCardinality(relationCount, distinctFrom, distinctTo int) Cardinality {
	if relationCount == 0 || distinctFrom == 0 || distinctTo == 0 {
		return CardinalityUnknown
	}
	fromIsUnique := relationCount == distinctFrom // each source appears once
	toIsUnique := relationCount == distinctTo     // each target appears once

	switch {
	case fromIsUnique && toIsUnique:
		return CardinalityOneToOne
	case fromIsUnique:
		// Each source points at one target; targets are shared.
		return CardinalityManyToOne
	case toIsUnique:
		return CardinalityOneToMany
	default:
		return CardinalityManyToMany
	}
}

// ============================================================================
// Ontology Schema Entries
// ============================================================================

// OntologySchemaEntry is an accepted relationship type: the durable output of
// discovery. Schema entries describe types, never instances; instance edges
// live in the graph store. Entries are mutated only by the job manager after
// acceptance (or by a manual review decision / seed load).
type OntologySchemaEntry struct {
	ID           uuid.UUID          `json:"id"`
	RelationType string             `json:"relation_type"`
	FromType     string             `json:"from_type"`
	ToType       string             `json:"to_type"`
	Cardinality  Cardinality        `json:"cardinality"`
	Confidence   float64            `json:"confidence"` // 0.0-1.0
	Provenance   RelationProvenance `json:"provenance"`
	Pattern      *PropertyPattern   `json:"pattern,omitempty"` // nil for seed/manual entries without property evidence
	Description  string             `json:"description,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// IdentityKey returns the natural key of a schema entry. Re-discovering the
// same (relation_type, from_type, to_type) updates the existing entry instead
// of inserting a duplicate.
func (e *OntologySchemaEntry) IdentityKey() string {
	return e.RelationType + "|" + e.FromType + "|" + e.ToType
}

// Pair returns the entry's type pair.
func (e *OntologySchemaEntry) Pair() TypePair {
	return TypePair{FromType: e.FromType, ToType: e.ToType}
}
