package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ontograph/pkg/apperrors"
	"github.com/ekaya-inc/ontograph/pkg/models"
	"github.com/ekaya-inc/ontograph/pkg/services"
)

// mockDiscoveryManager implements services.DiscoveryJobManager for handler
// testing. It validates scopes the way the real manager does so invalid
// bodies exercise the full error path.
type mockDiscoveryManager struct {
	jobs      []*models.DiscoveryJob
	started   []models.DiscoveryScope
	startErr  error
	getErr    error
	listErr   error
	cancelErr error
	purged    []uuid.UUID
}

func (m *mockDiscoveryManager) Start(_ context.Context, scope models.DiscoveryScope) (*models.DiscoveryJob, error) {
	if m.startErr != nil {
		return nil, m.startErr
	}
	if err := scope.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidScope, err)
	}
	job := models.NewDiscoveryJob(scope)
	m.jobs = append(m.jobs, job)
	m.started = append(m.started, scope)
	return job, nil
}

func (m *mockDiscoveryManager) Get(_ context.Context, id uuid.UUID) (*models.DiscoveryJob, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	for _, j := range m.jobs {
		if j.ID == id {
			return j, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockDiscoveryManager) List(_ context.Context, limit int) ([]*models.DiscoveryJob, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	jobs := m.jobs
	if limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (m *mockDiscoveryManager) Cancel(ctx context.Context, id uuid.UUID) (*models.DiscoveryJob, error) {
	if m.cancelErr != nil {
		return nil, m.cancelErr
	}
	job, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return job, nil
	}
	job.CancelRequested = true
	return job, nil
}

func (m *mockDiscoveryManager) Purge(_ context.Context, id uuid.UUID) error {
	for i, j := range m.jobs {
		if j.ID != id {
			continue
		}
		if !j.Status.IsTerminal() {
			return fmt.Errorf("%w: job %s is %s", apperrors.ErrJobNotTerminal, id, j.Status)
		}
		m.jobs = append(m.jobs[:i], m.jobs[i+1:]...)
		m.purged = append(m.purged, id)
		return nil
	}
	return apperrors.ErrNotFound
}

func (m *mockDiscoveryManager) RecoverInterrupted(context.Context) (int, error) { return 0, nil }

func (m *mockDiscoveryManager) Shutdown(context.Context) error { return nil }

var _ services.DiscoveryJobManager = (*mockDiscoveryManager)(nil)

func makeOntologyRequest(method, path string, body []byte) *http.Request {
	if body != nil {
		return httptest.NewRequest(method, path, bytes.NewReader(body))
	}
	return httptest.NewRequest(method, path, nil)
}

func pairScope(fromType, toType string) models.DiscoveryScope {
	return models.DiscoveryScope{
		Pairs: []models.TypePair{{FromType: fromType, ToType: toType}},
	}
}

func TestOntologyHandler_StartDiscovery_Success(t *testing.T) {
	svc := &mockDiscoveryManager{}
	handler := NewOntologyHandler(svc, zap.NewNop())

	body, _ := json.Marshal(startDiscoveryRequest{Scope: pairScope("Service", "Team")})
	req := makeOntologyRequest("POST", "/ontology/discover", body)
	rr := httptest.NewRecorder()

	handler.StartDiscovery(rr, req)

	assert.Equal(t, http.StatusAccepted, rr.Code)

	var resp ApiResponse
	err := json.NewDecoder(rr.Body).Decode(&resp)
	require.NoError(t, err)
	assert.True(t, resp.Success)

	data := resp.Data.(map[string]any)
	assert.NotEmpty(t, data["id"])
	assert.Equal(t, string(models.JobStatusPending), data["status"])

	require.Len(t, svc.started, 1)
	assert.Equal(t, "Service->Team", svc.started[0].Fingerprint())
}

func TestOntologyHandler_StartDiscovery_InvalidBody(t *testing.T) {
	svc := &mockDiscoveryManager{}
	handler := NewOntologyHandler(svc, zap.NewNop())

	req := makeOntologyRequest("POST", "/ontology/discover", []byte("{invalid json"))
	rr := httptest.NewRecorder()

	handler.StartDiscovery(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, svc.started)
}

func TestOntologyHandler_StartDiscovery_InvalidScope(t *testing.T) {
	svc := &mockDiscoveryManager{}
	handler := NewOntologyHandler(svc, zap.NewNop())

	// Neither all nor pairs set.
	body, _ := json.Marshal(startDiscoveryRequest{})
	req := makeOntologyRequest("POST", "/ontology/discover", body)
	rr := httptest.NewRecorder()

	handler.StartDiscovery(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)

	var errBody map[string]string
	err := json.NewDecoder(rr.Body).Decode(&errBody)
	require.NoError(t, err)
	assert.Equal(t, "invalid_scope", errBody["error"])
}

func TestOntologyHandler_StartDiscovery_ScopeConflict(t *testing.T) {
	blocking := uuid.New()
	svc := &mockDiscoveryManager{
		startErr: &apperrors.ConflictError{BlockingJobID: blocking, PairKey: "Service->Team"},
	}
	handler := NewOntologyHandler(svc, zap.NewNop())

	body, _ := json.Marshal(startDiscoveryRequest{Scope: pairScope("Service", "Team")})
	req := makeOntologyRequest("POST", "/ontology/discover", body)
	rr := httptest.NewRecorder()

	handler.StartDiscovery(rr, req)

	assert.Equal(t, http.StatusConflict, rr.Code)

	var errBody map[string]string
	err := json.NewDecoder(rr.Body).Decode(&errBody)
	require.NoError(t, err)
	assert.Equal(t, "conflict", errBody["error"])
	assert.Contains(t, errBody["message"], blocking.String())
}

func TestOntologyHandler_GetJob_Success(t *testing.T) {
	job := models.NewDiscoveryJob(pairScope("Service", "Team"))
	job.Status = models.JobStatusScanning
	job.Progress.Phase = models.PhaseScanning
	job.Progress.TotalCount = 12
	svc := &mockDiscoveryManager{jobs: []*models.DiscoveryJob{job}}
	handler := NewOntologyHandler(svc, zap.NewNop())

	req := makeOntologyRequest("GET", fmt.Sprintf("/ontology/discover/%s", job.ID), nil)
	req.SetPathValue("job_id", job.ID.String())
	rr := httptest.NewRecorder()

	handler.GetJob(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp ApiResponse
	err := json.NewDecoder(rr.Body).Decode(&resp)
	require.NoError(t, err)
	assert.True(t, resp.Success)

	data := resp.Data.(map[string]any)
	assert.Equal(t, job.ID.String(), data["id"])
	assert.Equal(t, string(models.JobStatusScanning), data["status"])

	progress := data["progress"].(map[string]any)
	assert.Equal(t, float64(12), progress["total_count"])
}

func TestOntologyHandler_GetJob_NotFound(t *testing.T) {
	svc := &mockDiscoveryManager{}
	handler := NewOntologyHandler(svc, zap.NewNop())

	missing := uuid.New()
	req := makeOntologyRequest("GET", fmt.Sprintf("/ontology/discover/%s", missing), nil)
	req.SetPathValue("job_id", missing.String())
	rr := httptest.NewRecorder()

	handler.GetJob(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestOntologyHandler_GetJob_InvalidID(t *testing.T) {
	svc := &mockDiscoveryManager{}
	handler := NewOntologyHandler(svc, zap.NewNop())

	req := makeOntologyRequest("GET", "/ontology/discover/not-a-uuid", nil)
	req.SetPathValue("job_id", "not-a-uuid")
	rr := httptest.NewRecorder()

	handler.GetJob(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestOntologyHandler_ListJobs(t *testing.T) {
	first := models.NewDiscoveryJob(pairScope("Service", "Team"))
	second := models.NewDiscoveryJob(pairScope("Team", "OnCallGroup"))
	svc := &mockDiscoveryManager{jobs: []*models.DiscoveryJob{first, second}}
	handler := NewOntologyHandler(svc, zap.NewNop())

	req := makeOntologyRequest("GET", "/ontology/discover", nil)
	rr := httptest.NewRecorder()

	handler.ListJobs(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp ApiResponse
	err := json.NewDecoder(rr.Body).Decode(&resp)
	require.NoError(t, err)
	assert.True(t, resp.Success)

	data := resp.Data.(map[string]any)
	items := data["items"].([]any)
	assert.Len(t, items, 2)
	assert.Equal(t, float64(2), data["total"])
}

func TestOntologyHandler_ListJobs_Limit(t *testing.T) {
	first := models.NewDiscoveryJob(pairScope("Service", "Team"))
	second := models.NewDiscoveryJob(pairScope("Team", "OnCallGroup"))
	svc := &mockDiscoveryManager{jobs: []*models.DiscoveryJob{first, second}}
	handler := NewOntologyHandler(svc, zap.NewNop())

	req := makeOntologyRequest("GET", "/ontology/discover?limit=1", nil)
	rr := httptest.NewRecorder()

	handler.ListJobs(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp ApiResponse
	err := json.NewDecoder(rr.Body).Decode(&resp)
	require.NoError(t, err)

	data := resp.Data.(map[string]any)
	items := data["items"].([]any)
	assert.Len(t, items, 1)
	assert.Equal(t, float64(1), data["limit"])
}

func TestOntologyHandler_ListJobs_InvalidLimit(t *testing.T) {
	svc := &mockDiscoveryManager{}
	handler := NewOntologyHandler(svc, zap.NewNop())

	for _, raw := range []string{"abc", "-1"} {
		req := makeOntologyRequest("GET", "/ontology/discover?limit="+raw, nil)
		rr := httptest.NewRecorder()

		handler.ListJobs(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code, "limit=%s", raw)
	}
}

func TestOntologyHandler_ListJobs_EmptyResult(t *testing.T) {
	svc := &mockDiscoveryManager{}
	handler := NewOntologyHandler(svc, zap.NewNop())

	req := makeOntologyRequest("GET", "/ontology/discover", nil)
	rr := httptest.NewRecorder()

	handler.ListJobs(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp ApiResponse
	err := json.NewDecoder(rr.Body).Decode(&resp)
	require.NoError(t, err)

	data := resp.Data.(map[string]any)
	items := data["items"].([]any)
	assert.Len(t, items, 0) // should be empty array, not null
}

func TestOntologyHandler_CancelJob_Running(t *testing.T) {
	job := models.NewDiscoveryJob(pairScope("Service", "Team"))
	job.Status = models.JobStatusEvaluating
	svc := &mockDiscoveryManager{jobs: []*models.DiscoveryJob{job}}
	handler := NewOntologyHandler(svc, zap.NewNop())

	req := makeOntologyRequest("POST", fmt.Sprintf("/ontology/discover/%s/cancel", job.ID), nil)
	req.SetPathValue("job_id", job.ID.String())
	rr := httptest.NewRecorder()

	handler.CancelJob(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp ApiResponse
	err := json.NewDecoder(rr.Body).Decode(&resp)
	require.NoError(t, err)
	assert.True(t, resp.Success)

	data := resp.Data.(map[string]any)
	assert.Equal(t, true, data["cancel_requested"])
}

func TestOntologyHandler_CancelJob_TerminalIsNoop(t *testing.T) {
	job := models.NewDiscoveryJob(pairScope("Service", "Team"))
	job.Status = models.JobStatusCompleted
	svc := &mockDiscoveryManager{jobs: []*models.DiscoveryJob{job}}
	handler := NewOntologyHandler(svc, zap.NewNop())

	req := makeOntologyRequest("POST", fmt.Sprintf("/ontology/discover/%s/cancel", job.ID), nil)
	req.SetPathValue("job_id", job.ID.String())
	rr := httptest.NewRecorder()

	handler.CancelJob(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp ApiResponse
	err := json.NewDecoder(rr.Body).Decode(&resp)
	require.NoError(t, err)

	data := resp.Data.(map[string]any)
	assert.Equal(t, string(models.JobStatusCompleted), data["status"])
	assert.Equal(t, false, data["cancel_requested"])
}

func TestOntologyHandler_CancelJob_NotFound(t *testing.T) {
	svc := &mockDiscoveryManager{}
	handler := NewOntologyHandler(svc, zap.NewNop())

	missing := uuid.New()
	req := makeOntologyRequest("POST", fmt.Sprintf("/ontology/discover/%s/cancel", missing), nil)
	req.SetPathValue("job_id", missing.String())
	rr := httptest.NewRecorder()

	handler.CancelJob(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestOntologyHandler_PurgeJob_Terminal(t *testing.T) {
	job := models.NewDiscoveryJob(pairScope("Service", "Team"))
	job.Status = models.JobStatusCompleted
	svc := &mockDiscoveryManager{jobs: []*models.DiscoveryJob{job}}
	handler := NewOntologyHandler(svc, zap.NewNop())

	req := makeOntologyRequest("DELETE", fmt.Sprintf("/ontology/discover/%s", job.ID), nil)
	req.SetPathValue("job_id", job.ID.String())
	rr := httptest.NewRecorder()

	handler.PurgeJob(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []uuid.UUID{job.ID}, svc.purged)
}

func TestOntologyHandler_PurgeJob_NonTerminal(t *testing.T) {
	job := models.NewDiscoveryJob(pairScope("Service", "Team"))
	job.Status = models.JobStatusApplying
	svc := &mockDiscoveryManager{jobs: []*models.DiscoveryJob{job}}
	handler := NewOntologyHandler(svc, zap.NewNop())

	req := makeOntologyRequest("DELETE", fmt.Sprintf("/ontology/discover/%s", job.ID), nil)
	req.SetPathValue("job_id", job.ID.String())
	rr := httptest.NewRecorder()

	handler.PurgeJob(rr, req)

	assert.Equal(t, http.StatusConflict, rr.Code)

	var errBody map[string]string
	err := json.NewDecoder(rr.Body).Decode(&errBody)
	require.NoError(t, err)
	assert.Equal(t, "job_not_terminal", errBody["error"])
	assert.Empty(t, svc.purged)
}

func TestOntologyHandler_PurgeJob_NotFound(t *testing.T) {
	svc := &mockDiscoveryManager{}
	handler := NewOntologyHandler(svc, zap.NewNop())

	missing := uuid.New()
	req := makeOntologyRequest("DELETE", fmt.Sprintf("/ontology/discover/%s", missing), nil)
	req.SetPathValue("job_id", missing.String())
	rr := httptest.NewRecorder()

	handler.PurgeJob(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}
