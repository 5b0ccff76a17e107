package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ontograph/pkg/models"
	"github.com/ekaya-inc/ontograph/pkg/repositories"
)

// ReviewService handles the manual side of the confidence bands: candidates
// that landed between the reject and accept thresholds wait here until an
// operator decides. An accept writes the schema entry and applies it through
// the same pipeline as an auto-accept, with manual provenance.
type ReviewService interface {
	ListPending(ctx context.Context) ([]*models.ReviewCandidate, error)

	// Decide resolves one pending candidate. On accept it returns the number
	// of relation edges created by the apply; on reject it returns zero.
	Decide(ctx context.Context, id uuid.UUID, decision models.ReviewDecision) (*models.ReviewCandidate, int, error)
}

type reviewService struct {
	reviewRepo repositories.ReviewCandidateRepository
	schemaRepo repositories.OntologySchemaRepository
	applier    OntologyApplier
	logger     *zap.Logger
}

// NewReviewService creates the manual review service.
func NewReviewService(
	reviewRepo repositories.ReviewCandidateRepository,
	schemaRepo repositories.OntologySchemaRepository,
	applier OntologyApplier,
	logger *zap.Logger,
) ReviewService {
	return &reviewService{
		reviewRepo: reviewRepo,
		schemaRepo: schemaRepo,
		applier:    applier,
		logger:     logger.Named("review"),
	}
}

var _ ReviewService = (*reviewService)(nil)

func (s *reviewService) ListPending(ctx context.Context) ([]*models.ReviewCandidate, error) {
	return s.reviewRepo.ListPending(ctx)
}

func (s *reviewService) Decide(ctx context.Context, id uuid.UUID, decision models.ReviewDecision) (*models.ReviewCandidate, int, error) {
	if !models.IsValidReviewDecision(decision) {
		return nil, 0, fmt.Errorf("invalid review decision %q", decision)
	}

	status := models.ReviewStatusRejected
	if decision == models.ReviewDecisionAccept {
		status = models.ReviewStatusAccepted
	}

	rc, err := s.reviewRepo.Decide(ctx, id, status)
	if err != nil {
		return nil, 0, err
	}

	if decision == models.ReviewDecisionReject {
		s.logger.Info("review candidate rejected",
			zap.String("review_id", rc.ID.String()),
			zap.String("candidate", rc.Candidate.Signature()))
		return rc, 0, nil
	}

	entry := schemaEntryFromReview(rc)
	if err := s.schemaRepo.Upsert(ctx, entry); err != nil {
		return rc, 0, fmt.Errorf("persist accepted schema entry: %w", err)
	}

	// The candidate's originating job still owns the apply checkpoint, so a
	// manual accept resumes and extends that job's apply work.
	created, err := s.applier.Apply(ctx, rc.JobID, entry)
	if err != nil {
		return rc, created, fmt.Errorf("apply accepted entry %s: %w", entry.RelationType, err)
	}

	s.logger.Info("review candidate accepted and applied",
		zap.String("review_id", rc.ID.String()),
		zap.String("relation_type", entry.RelationType),
		zap.Int("relations_created", created))

	return rc, created, nil
}

// schemaEntryFromReview builds the accepted schema entry for a manually
// approved candidate. Provenance keeps both original scores; accepted_by is
// manual because a person made the call.
func schemaEntryFromReview(rc *models.ReviewCandidate) *models.OntologySchemaEntry {
	name := normalizeRelationName(rc.ProposedName)
	if name == "" {
		name = normalizeRelationName(rc.Candidate.SuggestedName)
	}
	if name == "" {
		name = "references"
	}

	pattern := rc.Candidate.Pattern
	return &models.OntologySchemaEntry{
		RelationType: name,
		FromType:     rc.Candidate.FromType,
		ToType:       rc.Candidate.ToType,
		Cardinality:  models.CardinalityUnknown,
		Confidence:   rc.CombinedScore,
		Provenance: models.RelationProvenance{
			HeuristicScore: rc.Candidate.HeuristicScore,
			LLMScore:       rc.LLMScore,
			AcceptedBy:     models.AcceptedByManual,
			Rationale:      rc.Rationale,
		},
		Pattern: &pattern,
	}
}
