package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ontograph/pkg/apperrors"
	"github.com/ekaya-inc/ontograph/pkg/database"
	"github.com/ekaya-inc/ontograph/pkg/models"
)

// ReviewCandidateRepository provides data access for the manual review queue.
type ReviewCandidateRepository interface {
	// Create persists a candidate awaiting review. Returns false without
	// error when the same signature is already pending: re-running discovery
	// over the same pair must not pile up duplicates.
	Create(ctx context.Context, rc *models.ReviewCandidate) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.ReviewCandidate, error)
	ListPending(ctx context.Context) ([]*models.ReviewCandidate, error)
	// Decide transitions a pending candidate to accepted or rejected and
	// returns the updated row. Deciding an already-decided candidate returns
	// apperrors.ErrConflict.
	Decide(ctx context.Context, id uuid.UUID, status models.ReviewStatus) (*models.ReviewCandidate, error)
}

type reviewCandidateRepository struct {
	db *database.DB
}

// NewReviewCandidateRepository creates a new ReviewCandidateRepository.
func NewReviewCandidateRepository(db *database.DB) ReviewCandidateRepository {
	return &reviewCandidateRepository{db: db}
}

var _ ReviewCandidateRepository = (*reviewCandidateRepository)(nil)

func (r *reviewCandidateRepository) Create(ctx context.Context, rc *models.ReviewCandidate) (bool, error) {
	now := time.Now()
	rc.CreatedAt = now
	rc.UpdatedAt = now
	if rc.ID == uuid.Nil {
		rc.ID = uuid.New()
	}
	if rc.Status == "" {
		rc.Status = models.ReviewStatusPending
	}

	candidateJSON, err := json.Marshal(rc.Candidate)
	if err != nil {
		return false, fmt.Errorf("failed to marshal candidate: %w", err)
	}

	query := `
		INSERT INTO review_candidates (
			id, job_id, signature, candidate,
			llm_score, combined_score, rationale, proposed_name,
			status, decided_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (signature) WHERE status = 'pending' DO NOTHING`

	result, err := r.db.Exec(ctx, query,
		rc.ID, rc.JobID, rc.Candidate.Signature(), candidateJSON,
		rc.LLMScore, rc.CombinedScore, rc.Rationale, rc.ProposedName,
		rc.Status, rc.DecidedAt, rc.CreatedAt, rc.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create review candidate: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

func (r *reviewCandidateRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ReviewCandidate, error) {
	query := `
		SELECT id, job_id, candidate,
		       llm_score, combined_score, rationale, proposed_name,
		       status, decided_at, created_at, updated_at
		FROM review_candidates
		WHERE id = $1`

	rc, err := scanReviewCandidateRow(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}

	return rc, nil
}

func (r *reviewCandidateRepository) ListPending(ctx context.Context) ([]*models.ReviewCandidate, error) {
	query := `
		SELECT id, job_id, candidate,
		       llm_score, combined_score, rationale, proposed_name,
		       status, decided_at, created_at, updated_at
		FROM review_candidates
		WHERE status = 'pending'
		ORDER BY combined_score DESC, created_at`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending review candidates: %w", err)
	}
	defer rows.Close()

	return scanReviewCandidateRows(rows)
}

func (r *reviewCandidateRepository) Decide(ctx context.Context, id uuid.UUID, status models.ReviewStatus) (*models.ReviewCandidate, error) {
	query := `
		UPDATE review_candidates
		SET status = $2, decided_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING id, job_id, candidate,
		          llm_score, combined_score, rationale, proposed_name,
		          status, decided_at, created_at, updated_at`

	rc, err := scanReviewCandidateRow(r.db.QueryRow(ctx, query, id, status))
	if err == nil {
		return rc, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	// No pending row was updated: distinguish a missing candidate from one
	// that was already decided.
	existing, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("review candidate already %s: %w", existing.Status, apperrors.ErrConflict)
}

// ============================================================================
// Helper Functions - Scan
// ============================================================================

func scanReviewCandidateRow(row pgx.Row) (*models.ReviewCandidate, error) {
	var rc models.ReviewCandidate
	var candidateJSON []byte

	err := row.Scan(
		&rc.ID, &rc.JobID, &candidateJSON,
		&rc.LLMScore, &rc.CombinedScore, &rc.Rationale, &rc.ProposedName,
		&rc.Status, &rc.DecidedAt, &rc.CreatedAt, &rc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan review candidate: %w", err)
	}

	if err := json.Unmarshal(candidateJSON, &rc.Candidate); err != nil {
		return nil, fmt.Errorf("failed to unmarshal candidate: %w", err)
	}

	return &rc, nil
}

func scanReviewCandidateRows(rows pgx.Rows) ([]*models.ReviewCandidate, error) {
	var candidates []*models.ReviewCandidate

	for rows.Next() {
		var rc models.ReviewCandidate
		var candidateJSON []byte

		err := rows.Scan(
			&rc.ID, &rc.JobID, &candidateJSON,
			&rc.LLMScore, &rc.CombinedScore, &rc.Rationale, &rc.ProposedName,
			&rc.Status, &rc.DecidedAt, &rc.CreatedAt, &rc.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan review candidate row: %w", err)
		}

		if err := json.Unmarshal(candidateJSON, &rc.Candidate); err != nil {
			return nil, fmt.Errorf("failed to unmarshal candidate: %w", err)
		}

		candidates = append(candidates, &rc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating review candidate rows: %w", err)
	}

	return candidates, nil
}
