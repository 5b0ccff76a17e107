package models

import "testing"

func TestJobStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name   string
		from   JobStatus
		to     JobStatus
		expect bool
	}{
		{"pending to scanning", JobStatusPending, JobStatusScanning, true},
		{"scanning to evaluating", JobStatusScanning, JobStatusEvaluating, true},
		{"evaluating to applying", JobStatusEvaluating, JobStatusApplying, true},
		{"applying to completed", JobStatusApplying, JobStatusCompleted, true},
		{"pending to evaluating skips scanning", JobStatusPending, JobStatusEvaluating, false},
		{"scanning to applying skips evaluating", JobStatusScanning, JobStatusApplying, false},
		{"scanning back to pending", JobStatusScanning, JobStatusPending, false},
		{"pending can cancel", JobStatusPending, JobStatusCancelled, true},
		{"scanning can cancel", JobStatusScanning, JobStatusCancelled, true},
		{"evaluating can fail", JobStatusEvaluating, JobStatusFailed, true},
		{"applying can cancel", JobStatusApplying, JobStatusCancelled, true},
		{"completed cannot cancel", JobStatusCompleted, JobStatusCancelled, false},
		{"cancelled cannot fail", JobStatusCancelled, JobStatusFailed, false},
		{"failed cannot resume", JobStatusFailed, JobStatusScanning, false},
		{"completed cannot restart", JobStatusCompleted, JobStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.expect {
				t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.expect)
			}
		})
	}
}

func TestJobStatus_IsTerminal(t *testing.T) {
	terminal := []JobStatus{JobStatusCompleted, JobStatusCancelled, JobStatusFailed}
	active := []JobStatus{JobStatusPending, JobStatusScanning, JobStatusEvaluating, JobStatusApplying}

	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range active {
		if s.IsTerminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}

func TestNewDiscoveryJob(t *testing.T) {
	scope := DiscoveryScope{Pairs: []TypePair{{FromType: "Service", ToType: "Team"}}}
	job := NewDiscoveryJob(scope)

	if job.ID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("expected a generated job id")
	}
	if job.Status != JobStatusPending {
		t.Errorf("expected pending status, got %s", job.Status)
	}
	if job.Progress.Phase != PhasePending {
		t.Errorf("expected pending phase, got %s", job.Progress.Phase)
	}
	if job.Progress.ProcessedCount != 0 || job.Progress.TotalCount != 0 {
		t.Errorf("expected zero progress counters, got %d/%d",
			job.Progress.ProcessedCount, job.Progress.TotalCount)
	}
	if !job.IsActive() {
		t.Error("new job should be active")
	}
	if job.CancelRequested {
		t.Error("new job should not have cancel requested")
	}
}
