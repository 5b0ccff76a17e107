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

// defaultJobListLimit bounds unqualified job listings.
const defaultJobListLimit = 50

// DiscoveryJobRepository provides data access for discovery jobs.
type DiscoveryJobRepository interface {
	Create(ctx context.Context, job *models.DiscoveryJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.DiscoveryJob, error)
	List(ctx context.Context, limit int) ([]*models.DiscoveryJob, error)
	Update(ctx context.Context, job *models.DiscoveryJob) error
	RequestCancel(ctx context.Context, id uuid.UUID) error
	CancelRequested(ctx context.Context, id uuid.UUID) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) error
	MarkInterrupted(ctx context.Context) (int, error)
}

type discoveryJobRepository struct {
	db *database.DB
}

// NewDiscoveryJobRepository creates a new DiscoveryJobRepository.
func NewDiscoveryJobRepository(db *database.DB) DiscoveryJobRepository {
	return &discoveryJobRepository{db: db}
}

var _ DiscoveryJobRepository = (*discoveryJobRepository)(nil)

func (r *discoveryJobRepository) Create(ctx context.Context, job *models.DiscoveryJob) error {
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}

	scopeJSON, err := json.Marshal(job.Scope)
	if err != nil {
		return fmt.Errorf("failed to marshal job scope: %w", err)
	}
	progressJSON, acceptedJSON, rejectedJSON, failedJSON, err := marshalJobOutcome(job)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO discovery_jobs (
			id, status, scope, progress,
			accepted, rejected, evaluation_failed,
			relations_created, cancel_requested, error,
			started_at, finished_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = r.db.Exec(ctx, query,
		job.ID, job.Status, scopeJSON, progressJSON,
		acceptedJSON, rejectedJSON, failedJSON,
		job.RelationsCreated, job.CancelRequested, job.Error,
		job.StartedAt, job.FinishedAt, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create discovery job: %w", err)
	}

	return nil
}

func (r *discoveryJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.DiscoveryJob, error) {
	query := `
		SELECT id, status, scope, progress,
		       accepted, rejected, evaluation_failed,
		       relations_created, cancel_requested, error,
		       started_at, finished_at, created_at, updated_at
		FROM discovery_jobs
		WHERE id = $1`

	job, err := scanDiscoveryJobRow(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}

	return job, nil
}

func (r *discoveryJobRepository) List(ctx context.Context, limit int) ([]*models.DiscoveryJob, error) {
	if limit <= 0 {
		limit = defaultJobListLimit
	}

	query := `
		SELECT id, status, scope, progress,
		       accepted, rejected, evaluation_failed,
		       relations_created, cancel_requested, error,
		       started_at, finished_at, created_at, updated_at
		FROM discovery_jobs
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list discovery jobs: %w", err)
	}
	defer rows.Close()

	return scanDiscoveryJobRows(rows)
}

// Update persists the job's status, progress, and outcome fields. It never
// touches cancel_requested: that column is owned by RequestCancel so a
// concurrent progress write cannot clobber an operator's cancellation.
func (r *discoveryJobRepository) Update(ctx context.Context, job *models.DiscoveryJob) error {
	job.UpdatedAt = time.Now()

	progressJSON, acceptedJSON, rejectedJSON, failedJSON, err := marshalJobOutcome(job)
	if err != nil {
		return err
	}

	query := `
		UPDATE discovery_jobs
		SET status = $2, progress = $3,
		    accepted = $4, rejected = $5, evaluation_failed = $6,
		    relations_created = $7, error = $8,
		    started_at = $9, finished_at = $10, updated_at = $11
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query,
		job.ID, job.Status, progressJSON,
		acceptedJSON, rejectedJSON, failedJSON,
		job.RelationsCreated, job.Error,
		job.StartedAt, job.FinishedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update discovery job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

// RequestCancel flips the durable cancellation flag on a non-terminal job.
// Affecting zero rows is not an error: the job either finished in the
// meantime or never existed, and the caller resolves which via GetByID.
func (r *discoveryJobRepository) RequestCancel(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE discovery_jobs
		SET cancel_requested = TRUE, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('completed', 'cancelled', 'failed')`

	if _, err := r.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to request job cancellation: %w", err)
	}

	return nil
}

func (r *discoveryJobRepository) CancelRequested(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `SELECT cancel_requested FROM discovery_jobs WHERE id = $1`

	var requested bool
	err := r.db.QueryRow(ctx, query, id).Scan(&requested)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, apperrors.ErrNotFound
		}
		return false, fmt.Errorf("failed to read cancel flag: %w", err)
	}

	return requested, nil
}

func (r *discoveryJobRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM discovery_jobs WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete discovery job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

// MarkInterrupted fails every job left non-terminal by a previous process.
// Called once at startup, before the job manager accepts work. Progress is
// preserved so the stored phase shows where the job stopped.
func (r *discoveryJobRepository) MarkInterrupted(ctx context.Context) (int, error) {
	query := `
		UPDATE discovery_jobs
		SET status = 'failed', error = 'interrupted by engine restart',
		    finished_at = NOW(), updated_at = NOW()
		WHERE status NOT IN ('completed', 'cancelled', 'failed')`

	result, err := r.db.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to mark interrupted jobs: %w", err)
	}

	return int(result.RowsAffected()), nil
}

// ============================================================================
// Helper Functions - Marshal
// ============================================================================

func marshalJobOutcome(job *models.DiscoveryJob) (progress, accepted, rejected, failed []byte, err error) {
	progress, err = json.Marshal(job.Progress)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal job progress: %w", err)
	}
	accepted, err = json.Marshal(emptySliceIfNil(job.Accepted))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal accepted entries: %w", err)
	}
	rejected, err = json.Marshal(emptySliceIfNil(job.Rejected))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal rejected signatures: %w", err)
	}
	failed, err = json.Marshal(emptySliceIfNil(job.EvaluationFailed))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal failed signatures: %w", err)
	}
	return progress, accepted, rejected, failed, nil
}

// emptySliceIfNil keeps JSONB columns as [] rather than null for nil slices.
func emptySliceIfNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// ============================================================================
// Helper Functions - Scan
// ============================================================================

func scanDiscoveryJobRow(row pgx.Row) (*models.DiscoveryJob, error) {
	var j models.DiscoveryJob
	var scopeJSON, progressJSON, acceptedJSON, rejectedJSON, failedJSON []byte

	err := row.Scan(
		&j.ID, &j.Status, &scopeJSON, &progressJSON,
		&acceptedJSON, &rejectedJSON, &failedJSON,
		&j.RelationsCreated, &j.CancelRequested, &j.Error,
		&j.StartedAt, &j.FinishedAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan discovery job: %w", err)
	}

	if err := unmarshalDiscoveryJob(&j, scopeJSON, progressJSON, acceptedJSON, rejectedJSON, failedJSON); err != nil {
		return nil, err
	}

	return &j, nil
}

func scanDiscoveryJobRows(rows pgx.Rows) ([]*models.DiscoveryJob, error) {
	var jobs []*models.DiscoveryJob

	for rows.Next() {
		var j models.DiscoveryJob
		var scopeJSON, progressJSON, acceptedJSON, rejectedJSON, failedJSON []byte

		err := rows.Scan(
			&j.ID, &j.Status, &scopeJSON, &progressJSON,
			&acceptedJSON, &rejectedJSON, &failedJSON,
			&j.RelationsCreated, &j.CancelRequested, &j.Error,
			&j.StartedAt, &j.FinishedAt, &j.CreatedAt, &j.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan discovery job row: %w", err)
		}

		if err := unmarshalDiscoveryJob(&j, scopeJSON, progressJSON, acceptedJSON, rejectedJSON, failedJSON); err != nil {
			return nil, err
		}

		jobs = append(jobs, &j)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating discovery job rows: %w", err)
	}

	return jobs, nil
}

func unmarshalDiscoveryJob(j *models.DiscoveryJob, scopeJSON, progressJSON, acceptedJSON, rejectedJSON, failedJSON []byte) error {
	if err := json.Unmarshal(scopeJSON, &j.Scope); err != nil {
		return fmt.Errorf("failed to unmarshal job scope: %w", err)
	}
	if err := json.Unmarshal(progressJSON, &j.Progress); err != nil {
		return fmt.Errorf("failed to unmarshal job progress: %w", err)
	}
	if err := json.Unmarshal(acceptedJSON, &j.Accepted); err != nil {
		return fmt.Errorf("failed to unmarshal accepted entries: %w", err)
	}
	if err := json.Unmarshal(rejectedJSON, &j.Rejected); err != nil {
		return fmt.Errorf("failed to unmarshal rejected signatures: %w", err)
	}
	if err := json.Unmarshal(failedJSON, &j.EvaluationFailed); err != nil {
		return fmt.Errorf("failed to unmarshal failed signatures: %w", err)
	}
	return nil
}
