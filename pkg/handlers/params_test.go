package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func TestParseJobID(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name       string
		pathValue  string
		wantOK     bool
		wantNilID  bool
		wantStatus int
		wantError  string
	}{
		{
			name:      "valid UUID",
			pathValue: "550e8400-e29b-41d4-a716-446655440000",
			wantOK:    true,
			wantNilID: false,
		},
		{
			name:       "invalid UUID",
			pathValue:  "not-a-uuid",
			wantOK:     false,
			wantNilID:  true,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid_job_id",
		},
		{
			name:       "empty UUID",
			pathValue:  "",
			wantOK:     false,
			wantNilID:  true,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid_job_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req.SetPathValue("job_id", tt.pathValue)
			rec := httptest.NewRecorder()

			id, ok := ParseJobID(rec, req, logger)

			if ok != tt.wantOK {
				t.Errorf("ParseJobID() ok = %v, want %v", ok, tt.wantOK)
			}

			if tt.wantNilID && id != uuid.Nil {
				t.Errorf("ParseJobID() id = %v, want uuid.Nil", id)
			}

			if !tt.wantOK {
				if rec.Code != tt.wantStatus {
					t.Errorf("ParseJobID() status = %v, want %v", rec.Code, tt.wantStatus)
				}

				var resp map[string]string
				if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
					t.Fatalf("failed to decode response: %v", err)
				}
				if resp["error"] != tt.wantError {
					t.Errorf("ParseJobID() error = %v, want %v", resp["error"], tt.wantError)
				}
			}
		})
	}
}

func TestParseCandidateID(t *testing.T) {
	logger := zap.NewNop()

	req := httptest.NewRequest(http.MethodPost, "/test", nil)
	req.SetPathValue("candidate_id", "not-a-uuid")
	rec := httptest.NewRecorder()

	id, ok := ParseCandidateID(rec, req, logger)

	if ok {
		t.Error("ParseCandidateID() ok = true, want false")
	}
	if id != uuid.Nil {
		t.Errorf("ParseCandidateID() id = %v, want uuid.Nil", id)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("ParseCandidateID() status = %v, want %v", rec.Code, http.StatusBadRequest)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["error"] != "invalid_candidate_id" {
		t.Errorf("ParseCandidateID() error = %v, want invalid_candidate_id", resp["error"])
	}
}
