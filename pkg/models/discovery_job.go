package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Job Status
// ============================================================================

// JobStatus represents the lifecycle state of a discovery job.
// State machine:
//
//	pending → scanning → evaluating → applying → completed
//
//	Any non-terminal state can transition to: cancelled, failed
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusScanning   JobStatus = "scanning"
	JobStatusEvaluating JobStatus = "evaluating"
	JobStatusApplying   JobStatus = "applying"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusCancelled  JobStatus = "cancelled"
	JobStatusFailed     JobStatus = "failed"
)

// ValidJobStatuses contains all valid status values.
var ValidJobStatuses = []JobStatus{
	JobStatusPending,
	JobStatusScanning,
	JobStatusEvaluating,
	JobStatusApplying,
	JobStatusCompleted,
	JobStatusCancelled,
	JobStatusFailed,
}

// IsValidJobStatus checks if the given status is valid.
func IsValidJobStatus(s JobStatus) bool {
	for _, v := range ValidJobStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the status is a terminal state. Terminal jobs
// are retained for audit until explicitly purged.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusCancelled || s == JobStatusFailed
}

// CanTransitionTo returns true if transitioning from this status to the
// target is valid.
func (s JobStatus) CanTransitionTo(target JobStatus) bool {
	// Any non-terminal state can be cancelled or failed
	if target == JobStatusCancelled || target == JobStatusFailed {
		return !s.IsTerminal()
	}

	switch s {
	case JobStatusPending:
		return target == JobStatusScanning
	case JobStatusScanning:
		return target == JobStatusEvaluating
	case JobStatusEvaluating:
		return target == JobStatusApplying
	case JobStatusApplying:
		return target == JobStatusCompleted
	case JobStatusCompleted, JobStatusCancelled, JobStatusFailed:
		return false // Terminal states
	default:
		return false
	}
}

// ============================================================================
// Job Progress
// ============================================================================

// JobPhase names the pipeline stage a job's progress counters refer to. It is
// recorded separately from status so a cancelled or failed job still shows
// where it stopped.
type JobPhase string

const (
	PhasePending    JobPhase = "pending"
	PhaseScanning   JobPhase = "scanning"
	PhaseEvaluating JobPhase = "evaluating"
	PhaseApplying   JobPhase = "applying"
	PhaseCompleted  JobPhase = "completed"
)

// JobProgress tracks per-candidate progress through a discovery job.
// TotalCount grows while scanning discovers candidates; ProcessedCount
// increments once per candidate disposition during evaluation. Both are
// monotonic for the lifetime of the job and ProcessedCount never exceeds
// TotalCount. Message carries human-readable detail (current pair, apply
// batch, failure summary).
type JobProgress struct {
	Phase          JobPhase `json:"phase"`
	ProcessedCount int      `json:"processed_count"`
	TotalCount     int      `json:"total_count"`
	Message        string   `json:"message,omitempty"`
}

// ============================================================================
// Discovery Jobs
// ============================================================================

// DiscoveryJob tracks one ontology discovery run over a scope of entity-type
// pairs. Terminal jobs are retained for audit until explicitly purged.
type DiscoveryJob struct {
	ID       uuid.UUID      `json:"id"`
	Status   JobStatus      `json:"status"`
	Scope    DiscoveryScope `json:"scope"`
	Progress JobProgress    `json:"progress"`

	// Outcomes. Accepted holds the schema entries written by this job;
	// Rejected and EvaluationFailed hold candidate signatures. Failed
	// evaluations are excluded from both accepted and rejected counts.
	Accepted         []OntologySchemaEntry `json:"accepted,omitempty"`
	Rejected         []string              `json:"rejected,omitempty"`
	EvaluationFailed []string              `json:"evaluation_failed,omitempty"`

	// RelationsCreated counts instance edges written during the apply phase.
	RelationsCreated int `json:"relations_created"`

	CancelRequested bool    `json:"cancel_requested"`
	Error           *string `json:"error,omitempty"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// IsActive returns true while the job holds its pair locks.
func (j *DiscoveryJob) IsActive() bool {
	return !j.Status.IsTerminal()
}

// NewDiscoveryJob constructs a pending job for the given scope.
func NewDiscoveryJob(scope DiscoveryScope) *DiscoveryJob {
	now := time.Now().UTC()
	return &DiscoveryJob{
		ID:     uuid.New(),
		Status: JobStatusPending,
		Scope:  scope,
		Progress: JobProgress{
			Phase: PhasePending,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
