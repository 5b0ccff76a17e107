//go:build integration

package repositories

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ontograph/pkg/apperrors"
	"github.com/ekaya-inc/ontograph/pkg/models"
	"github.com/ekaya-inc/ontograph/pkg/testhelpers"
)

// checkpointTestContext holds test dependencies for apply checkpoint tests.
// Checkpoints reference a job and a schema entry; both are created per test
// and removed by cascade on job delete plus explicit entry cleanup.
type checkpointTestContext struct {
	t     *testing.T
	repo  ApplyCheckpointRepository
	jobID uuid.UUID
}

func setupCheckpointTest(t *testing.T) *checkpointTestContext {
	testDB := testhelpers.GetTestDB(t)
	jobRepo := NewDiscoveryJobRepository(testDB.DB)

	job := &models.DiscoveryJob{
		Status:   models.JobStatusApplying,
		Scope:    models.DiscoveryScope{All: true},
		Progress: models.JobProgress{Phase: models.PhaseApplying},
	}
	if err := jobRepo.Create(context.Background(), job); err != nil {
		t.Fatalf("failed to create parent job: %v", err)
	}
	t.Cleanup(func() {
		_ = jobRepo.Delete(context.Background(), job.ID)
	})

	return &checkpointTestContext{
		t:     t,
		repo:  NewApplyCheckpointRepository(testDB.DB),
		jobID: job.ID,
	}
}

// createEntry persists a schema entry for checkpoints to reference.
func (tc *checkpointTestContext) createEntry() uuid.UUID {
	tc.t.Helper()
	testDB := testhelpers.GetTestDB(tc.t)
	schemaRepo := NewOntologySchemaRepository(testDB.DB)

	suffix := uuid.New().String()[:8]
	entry := &models.OntologySchemaEntry{
		RelationType: "owned_by_" + suffix,
		FromType:     "Service_" + suffix,
		ToType:       "Team_" + suffix,
		Cardinality:  models.CardinalityUnknown,
		Confidence:   0.9,
		Provenance:   models.RelationProvenance{AcceptedBy: models.AcceptedByLLM},
	}
	if err := schemaRepo.Upsert(context.Background(), entry); err != nil {
		tc.t.Fatalf("failed to create schema entry: %v", err)
	}
	tc.t.Cleanup(func() {
		_, _ = testDB.DB.Exec(context.Background(), "DELETE FROM ontology_schemas WHERE id = $1", entry.ID)
	})
	return entry.ID
}

func TestApplyCheckpointRepository_Get_NotFound(t *testing.T) {
	tc := setupCheckpointTest(t)

	_, err := tc.repo.Get(context.Background(), tc.jobID, uuid.New())
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestApplyCheckpointRepository_SaveAndGet(t *testing.T) {
	tc := setupCheckpointTest(t)
	ctx := context.Background()
	entryID := tc.createEntry()

	fresh := &models.ApplyCheckpoint{
		JobID:   tc.jobID,
		EntryID: entryID,
	}
	if err := tc.repo.Save(ctx, fresh); err != nil {
		t.Fatalf("failed to save fresh checkpoint: %v", err)
	}

	retrieved, err := tc.repo.Get(ctx, tc.jobID, entryID)
	if err != nil {
		t.Fatalf("failed to get checkpoint: %v", err)
	}
	if retrieved.AfterFromID != "" || retrieved.AfterToID != "" {
		t.Errorf("expected empty cursor, got (%q, %q)", retrieved.AfterFromID, retrieved.AfterToID)
	}
	if retrieved.Done {
		t.Error("expected done to start false")
	}
}

func TestApplyCheckpointRepository_Save_AdvancesCursor(t *testing.T) {
	tc := setupCheckpointTest(t)
	ctx := context.Background()
	entryID := tc.createEntry()

	cp := &models.ApplyCheckpoint{JobID: tc.jobID, EntryID: entryID}
	if err := tc.repo.Save(ctx, cp); err != nil {
		t.Fatalf("failed to save checkpoint: %v", err)
	}
	firstSave := cp.UpdatedAt

	cp.AfterFromID = "svc-10"
	cp.AfterToID = "team-2"
	cp.RelationsCreated = 25
	if err := tc.repo.Save(ctx, cp); err != nil {
		t.Fatalf("failed to advance checkpoint: %v", err)
	}

	retrieved, err := tc.repo.Get(ctx, tc.jobID, entryID)
	if err != nil {
		t.Fatalf("failed to get checkpoint: %v", err)
	}
	if retrieved.AfterFromID != "svc-10" || retrieved.AfterToID != "team-2" {
		t.Errorf("expected cursor (svc-10, team-2), got (%q, %q)", retrieved.AfterFromID, retrieved.AfterToID)
	}
	if retrieved.RelationsCreated != 25 {
		t.Errorf("expected 25 relations created, got %d", retrieved.RelationsCreated)
	}
	if retrieved.UpdatedAt.Before(firstSave) {
		t.Error("expected updated_at to advance")
	}

	cp.Done = true
	if err := tc.repo.Save(ctx, cp); err != nil {
		t.Fatalf("failed to mark checkpoint done: %v", err)
	}

	retrieved, err = tc.repo.Get(ctx, tc.jobID, entryID)
	if err != nil {
		t.Fatalf("failed to get checkpoint: %v", err)
	}
	if !retrieved.Done {
		t.Error("expected done to be true")
	}
}

func TestApplyCheckpointRepository_ListByJob(t *testing.T) {
	tc := setupCheckpointTest(t)
	ctx := context.Background()

	entryA := tc.createEntry()
	entryB := tc.createEntry()

	for _, entryID := range []uuid.UUID{entryA, entryB} {
		cp := &models.ApplyCheckpoint{JobID: tc.jobID, EntryID: entryID, Done: entryID == entryA}
		if err := tc.repo.Save(ctx, cp); err != nil {
			t.Fatalf("failed to save checkpoint: %v", err)
		}
	}

	checkpoints, err := tc.repo.ListByJob(ctx, tc.jobID)
	if err != nil {
		t.Fatalf("failed to list checkpoints: %v", err)
	}
	if len(checkpoints) != 2 {
		t.Fatalf("expected 2 checkpoints, got %d", len(checkpoints))
	}

	byEntry := map[uuid.UUID]*models.ApplyCheckpoint{}
	for _, cp := range checkpoints {
		byEntry[cp.EntryID] = cp
	}
	if cp, ok := byEntry[entryA]; !ok || !cp.Done {
		t.Errorf("expected entry %s checkpoint done", entryA)
	}
	if cp, ok := byEntry[entryB]; !ok || cp.Done {
		t.Errorf("expected entry %s checkpoint not done", entryB)
	}
}
