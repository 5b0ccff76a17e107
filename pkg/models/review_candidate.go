package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Review Status
// ============================================================================

// ReviewStatus represents the review state of a persisted candidate.
type ReviewStatus string

const (
	ReviewStatusPending  ReviewStatus = "pending"
	ReviewStatusAccepted ReviewStatus = "accepted"
	ReviewStatusRejected ReviewStatus = "rejected"
)

// ValidReviewStatuses contains all valid review status values.
var ValidReviewStatuses = []ReviewStatus{
	ReviewStatusPending,
	ReviewStatusAccepted,
	ReviewStatusRejected,
}

// IsValidReviewStatus checks if the given status is valid.
func IsValidReviewStatus(s ReviewStatus) bool {
	for _, v := range ValidReviewStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// ReviewDecision is an explicit operator decision on a review candidate.
type ReviewDecision string

const (
	ReviewDecisionAccept ReviewDecision = "accept"
	ReviewDecisionReject ReviewDecision = "reject"
)

// IsValidReviewDecision checks if the given decision is valid.
func IsValidReviewDecision(d ReviewDecision) bool {
	return d == ReviewDecisionAccept || d == ReviewDecisionReject
}

// ============================================================================
// Review Candidates
// ============================================================================

// ReviewCandidate is a candidate whose combined score landed between the
// reject and accept thresholds. It is persisted with full provenance and
// waits for an operator decision; no schema mutation happens until then.
type ReviewCandidate struct {
	ID    uuid.UUID `json:"id"`
	JobID uuid.UUID `json:"job_id"`

	Candidate     RelationshipCandidate `json:"candidate"`
	LLMScore      float64               `json:"llm_score"`
	CombinedScore float64               `json:"combined_score"`
	Rationale     string                `json:"rationale,omitempty"`
	ProposedName  string                `json:"proposed_name,omitempty"`

	Status    ReviewStatus `json:"status"`
	DecidedAt *time.Time   `json:"decided_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsPending returns true if the candidate still awaits a decision.
func (r *ReviewCandidate) IsPending() bool {
	return r.Status == ReviewStatusPending
}
