package models

import (
	"fmt"
	"strings"
)

// ============================================================================
// Property Patterns
// ============================================================================

// PatternKind identifies how a source property value is matched against a
// target property value when proposing and applying a relationship.
type PatternKind string

const (
	// PatternExactMatch matches when both values have identical canonical
	// string forms and identical dynamic types.
	PatternExactMatch PatternKind = "exact_match"

	// PatternSubstring matches when the source value occurs inside the
	// target value (both coerced to strings).
	PatternSubstring PatternKind = "substring"

	// PatternTypeCoercionMatch matches when the values are equal after
	// coercing both to canonical string form ("42" matches 42).
	PatternTypeCoercionMatch PatternKind = "type_coercion_match"
)

// ValidPatternKinds contains all valid pattern kind values.
var ValidPatternKinds = []PatternKind{
	PatternExactMatch,
	PatternSubstring,
	PatternTypeCoercionMatch,
}

// IsValidPatternKind checks if the given kind is valid.
func IsValidPatternKind(k PatternKind) bool {
	for _, v := range ValidPatternKinds {
		if v == k {
			return true
		}
	}
	return false
}

// PropertyPattern describes the property-level evidence for a candidate: a
// property on the source type whose values line up with a property on the
// target type under one of the match kinds.
type PropertyPattern struct {
	Kind         PatternKind `json:"kind"`
	FromProperty string      `json:"from_property"`
	ToProperty   string      `json:"to_property"`
}

// Validate checks the pattern is complete and its kind is known.
func (p PropertyPattern) Validate() error {
	if !IsValidPatternKind(p.Kind) {
		return fmt.Errorf("unknown pattern kind %q", p.Kind)
	}
	if p.FromProperty == "" {
		return fmt.Errorf("from_property is required")
	}
	if p.ToProperty == "" {
		return fmt.Errorf("to_property is required")
	}
	return nil
}

// Matches reports whether a concrete source value matches a concrete target
// value under this pattern's kind. Nil values never match.
func (p PropertyPattern) Matches(fromValue, toValue any) bool {
	if fromValue == nil || toValue == nil {
		return false
	}
	from := CoerceToString(fromValue)
	to := CoerceToString(toValue)
	if from == "" || to == "" {
		return false
	}

	switch p.Kind {
	case PatternExactMatch:
		return from == to && fmt.Sprintf("%T", fromValue) == fmt.Sprintf("%T", toValue)
	case PatternSubstring:
		return strings.Contains(to, from)
	case PatternTypeCoercionMatch:
		return from == to
	default:
		return false
	}
}

// ============================================================================
// Heuristic Signals
// ============================================================================

// HeuristicSignals holds the per-signal scores that the generator combines
// into a candidate's heuristic score. Each signal is normalized to [0,1].
type HeuristicSignals struct {
	// ValueOverlap is the fraction of sampled source property values found
	// among the target's identifier-like property values.
	ValueOverlap float64 `json:"value_overlap"`

	// ProvenanceCooccurrence reflects how often the two types arrive in the
	// same ingestion batches (same source_ref).
	ProvenanceCooccurrence float64 `json:"provenance_cooccurrence"`

	// NameMatch reflects naming-convention evidence: a source property like
	// owner_team_name pointing at a Team type.
	NameMatch float64 `json:"name_match"`
}

// ============================================================================
// Relationship Candidates
// ============================================================================

// SamplePair is a concrete pair of entities whose property values matched the
// candidate's pattern. A bounded number of these is attached to the candidate
// as evaluator context.
type SamplePair struct {
	FromEntityID string `json:"from_entity_id"`
	ToEntityID   string `json:"to_entity_id"`
	FromValue    string `json:"from_value"`
	ToValue      string `json:"to_value"`
}

// RelationshipCandidate is a proposed relationship between two entity types,
// produced by the heuristic generator and consumed by the evaluator. It is
// transient unless it lands in the manual review queue.
type RelationshipCandidate struct {
	FromType       string           `json:"from_type"`
	ToType         string           `json:"to_type"`
	Pattern        PropertyPattern  `json:"pattern"`
	HeuristicScore float64          `json:"heuristic_score"` // 0.0-1.0
	Signals        HeuristicSignals `json:"signals"`
	SamplePairs    []SamplePair     `json:"sample_pairs,omitempty"`
	SuggestedName  string           `json:"suggested_name,omitempty"`
}

// Signature returns the stable identity of a candidate: the same type pair
// and property pattern always produce the same signature. Used for rejected
// lists, dedupe, and evaluation-failure reporting.
func (c *RelationshipCandidate) Signature() string {
	return strings.Join([]string{
		c.FromType,
		c.ToType,
		string(c.Pattern.Kind),
		c.Pattern.FromProperty,
		c.Pattern.ToProperty,
	}, "|")
}

// Pair returns the candidate's type pair.
func (c *RelationshipCandidate) Pair() TypePair {
	return TypePair{FromType: c.FromType, ToType: c.ToType}
}

// ============================================================================
// Evaluation Results & Dispositions
// ============================================================================

// EvaluationResult is the evaluator's judgment of one candidate.
type EvaluationResult struct {
	LLMScore     float64 `json:"llm_score"` // 0.0-1.0
	Rationale    string  `json:"rationale"`
	ProposedName string  `json:"proposed_name"`
}

// CandidateDisposition records what happened to a candidate after evaluation.
type CandidateDisposition string

const (
	DispositionAccepted         CandidateDisposition = "accepted"
	DispositionRejected         CandidateDisposition = "rejected"
	DispositionNeedsReview      CandidateDisposition = "needs_review"
	DispositionEvaluationFailed CandidateDisposition = "evaluation_failed"
)

// ValidCandidateDispositions contains all valid disposition values.
var ValidCandidateDispositions = []CandidateDisposition{
	DispositionAccepted,
	DispositionRejected,
	DispositionNeedsReview,
	DispositionEvaluationFailed,
}

// IsValidCandidateDisposition checks if the given disposition is valid.
func IsValidCandidateDisposition(d CandidateDisposition) bool {
	for _, v := range ValidCandidateDispositions {
		if v == d {
			return true
		}
	}
	return false
}
