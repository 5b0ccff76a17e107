package models

import (
	"time"
)

// ============================================================================
// Relation Provenance
// ============================================================================

// AcceptedBy records which actor accepted the relation (or schema entry)
// into the ontology.
//
//   - llm: auto-accepted by the evaluator's confidence band
//   - manual: a review decision or a seed vocabulary entry
//   - heuristic: written directly by a connector without evaluator involvement
type AcceptedBy string

const (
	AcceptedByHeuristic AcceptedBy = "heuristic"
	AcceptedByLLM       AcceptedBy = "llm"
	AcceptedByManual    AcceptedBy = "manual"
)

// ValidAcceptedByValues contains all valid accepted_by values.
var ValidAcceptedByValues = []AcceptedBy{
	AcceptedByHeuristic,
	AcceptedByLLM,
	AcceptedByManual,
}

// IsValidAcceptedBy checks if the given value is valid.
func IsValidAcceptedBy(a AcceptedBy) bool {
	for _, v := range ValidAcceptedByValues {
		if v == a {
			return true
		}
	}
	return false
}

// RelationProvenance records how a relation (or schema entry) earned its
// place in the ontology. Scores are normalized to [0,1]. LLMScore is zero
// for manual and heuristic provenance.
type RelationProvenance struct {
	HeuristicScore float64    `json:"heuristic_score"`
	LLMScore       float64    `json:"llm_score"`
	AcceptedBy     AcceptedBy `json:"accepted_by"`
	Rationale      string     `json:"rationale,omitempty"`
}

// ============================================================================
// Relations
// ============================================================================

// Relation represents a typed, directed edge between two graph entities.
// Relations are created only by the discovery pipeline (apply phase) or by
// explicit connector output; after creation only Confidence is mutated, and
// only by re-evaluation.
type Relation struct {
	ID           string             `json:"id"`
	Type         string             `json:"type"`
	FromEntityID string             `json:"from_entity_id"`
	ToEntityID   string             `json:"to_entity_id"`
	Confidence   float64            `json:"confidence"`
	Provenance   RelationProvenance `json:"provenance"`
	CreatedAt    time.Time          `json:"created_at"`
}

// IdentityKey returns the upsert identity of the relation: the same
// (type, from, to) triple always maps to the same edge, which is what makes
// apply idempotent.
func (r *Relation) IdentityKey() string {
	return r.Type + "|" + r.FromEntityID + "|" + r.ToEntityID
}
