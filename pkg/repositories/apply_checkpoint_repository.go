package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ontograph/pkg/apperrors"
	"github.com/ekaya-inc/ontograph/pkg/database"
	"github.com/ekaya-inc/ontograph/pkg/models"
)

// ApplyCheckpointRepository provides data access for apply-phase cursors.
// One checkpoint exists per (job, schema entry); the apply loop saves it
// after every batch so a crash resumes strictly after the last processed
// pair instead of restarting the scan.
type ApplyCheckpointRepository interface {
	Get(ctx context.Context, jobID, entryID uuid.UUID) (*models.ApplyCheckpoint, error)
	Save(ctx context.Context, cp *models.ApplyCheckpoint) error
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.ApplyCheckpoint, error)
}

type applyCheckpointRepository struct {
	db *database.DB
}

// NewApplyCheckpointRepository creates a new ApplyCheckpointRepository.
func NewApplyCheckpointRepository(db *database.DB) ApplyCheckpointRepository {
	return &applyCheckpointRepository{db: db}
}

var _ ApplyCheckpointRepository = (*applyCheckpointRepository)(nil)

func (r *applyCheckpointRepository) Get(ctx context.Context, jobID, entryID uuid.UUID) (*models.ApplyCheckpoint, error) {
	query := `
		SELECT job_id, entry_id, after_from_id, after_to_id,
		       relations_created, done, updated_at
		FROM apply_checkpoints
		WHERE job_id = $1 AND entry_id = $2`

	var cp models.ApplyCheckpoint
	err := r.db.QueryRow(ctx, query, jobID, entryID).Scan(
		&cp.JobID, &cp.EntryID, &cp.AfterFromID, &cp.AfterToID,
		&cp.RelationsCreated, &cp.Done, &cp.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get apply checkpoint: %w", err)
	}

	return &cp, nil
}

func (r *applyCheckpointRepository) Save(ctx context.Context, cp *models.ApplyCheckpoint) error {
	cp.UpdatedAt = time.Now()

	query := `
		INSERT INTO apply_checkpoints (
			job_id, entry_id, after_from_id, after_to_id,
			relations_created, done, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (job_id, entry_id) DO UPDATE SET
			after_from_id = EXCLUDED.after_from_id,
			after_to_id = EXCLUDED.after_to_id,
			relations_created = EXCLUDED.relations_created,
			done = EXCLUDED.done,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.Exec(ctx, query,
		cp.JobID, cp.EntryID, cp.AfterFromID, cp.AfterToID,
		cp.RelationsCreated, cp.Done, cp.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save apply checkpoint: %w", err)
	}

	return nil
}

func (r *applyCheckpointRepository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.ApplyCheckpoint, error) {
	query := `
		SELECT job_id, entry_id, after_from_id, after_to_id,
		       relations_created, done, updated_at
		FROM apply_checkpoints
		WHERE job_id = $1
		ORDER BY entry_id`

	rows, err := r.db.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list apply checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []*models.ApplyCheckpoint
	for rows.Next() {
		var cp models.ApplyCheckpoint
		err := rows.Scan(
			&cp.JobID, &cp.EntryID, &cp.AfterFromID, &cp.AfterToID,
			&cp.RelationsCreated, &cp.Done, &cp.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan apply checkpoint row: %w", err)
		}
		checkpoints = append(checkpoints, &cp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating apply checkpoint rows: %w", err)
	}

	return checkpoints, nil
}
