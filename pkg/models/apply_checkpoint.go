package models

import (
	"time"

	"github.com/google/uuid"
)

// ApplyCheckpoint records how far the apply phase has progressed for one
// accepted schema entry within one job. The cursor is the last processed
// (from, to) entity-id pair in scan order; resume continues strictly after
// it, so a mid-batch failure never reprocesses or restarts.
type ApplyCheckpoint struct {
	JobID   uuid.UUID `json:"job_id"`
	EntryID uuid.UUID `json:"entry_id"`

	// Cursor. Empty strings mean "from the beginning".
	AfterFromID string `json:"after_from_id"`
	AfterToID   string `json:"after_to_id"`

	// RelationsCreated counts edges written for this entry so far
	// (created, not merely matched by the idempotent upsert).
	RelationsCreated int  `json:"relations_created"`
	Done             bool `json:"done"`

	UpdatedAt time.Time `json:"updated_at"`
}
