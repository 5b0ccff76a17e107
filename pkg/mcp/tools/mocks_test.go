package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ekaya-inc/ontograph/pkg/apperrors"
	"github.com/ekaya-inc/ontograph/pkg/models"
	"github.com/ekaya-inc/ontograph/pkg/services"
)

// mockDiscoveryManager is a stateful test double for the discovery job
// manager. Jobs are served from the in-memory slice; error fields inject
// failures.
type mockDiscoveryManager struct {
	jobs     []*models.DiscoveryJob
	started  []models.DiscoveryScope
	startErr error
	getErr   error
}

func (m *mockDiscoveryManager) Start(_ context.Context, scope models.DiscoveryScope) (*models.DiscoveryJob, error) {
	if m.startErr != nil {
		return nil, m.startErr
	}
	if err := scope.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidScope, err)
	}
	m.started = append(m.started, scope)
	job := models.NewDiscoveryJob(scope)
	m.jobs = append(m.jobs, job)
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
	if limit > 0 && limit < len(m.jobs) {
		return m.jobs[:limit], nil
	}
	return m.jobs, nil
}

func (m *mockDiscoveryManager) Cancel(ctx context.Context, id uuid.UUID) (*models.DiscoveryJob, error) {
	job, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !job.Status.IsTerminal() {
		job.CancelRequested = true
	}
	return job, nil
}

func (m *mockDiscoveryManager) Purge(ctx context.Context, id uuid.UUID) error {
	job, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if !job.Status.IsTerminal() {
		return fmt.Errorf("%w: job %s is %s", apperrors.ErrJobNotTerminal, id, job.Status)
	}
	for i, j := range m.jobs {
		if j.ID == id {
			m.jobs = append(m.jobs[:i], m.jobs[i+1:]...)
			break
		}
	}
	return nil
}

func (m *mockDiscoveryManager) RecoverInterrupted(context.Context) (int, error) { return 0, nil }

func (m *mockDiscoveryManager) Shutdown(context.Context) error { return nil }

var _ services.DiscoveryJobManager = (*mockDiscoveryManager)(nil)

// mockRetrievalService answers questions via the injected func, or echoes
// the question when none is set.
type mockRetrievalService struct {
	answerFunc   func(ctx context.Context, question string, forceRefresh bool) (*models.QueryContext, error)
	calls        int
	lastQuestion string
	lastForce    bool
}

func (m *mockRetrievalService) Answer(ctx context.Context, question string, forceRefresh bool) (*models.QueryContext, error) {
	m.calls++
	m.lastQuestion = question
	m.lastForce = forceRefresh
	if m.answerFunc != nil {
		return m.answerFunc(ctx, question, forceRefresh)
	}
	return &models.QueryContext{Question: question}, nil
}

var _ services.RetrievalService = (*mockRetrievalService)(nil)

// callTool drives a registered tool through the server's JSON-RPC entry
// point and returns the first text content plus the isError flag.
func callTool(t *testing.T, s *server.MCPServer, name string, args map[string]any) (string, bool) {
	t.Helper()

	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]any{
			"name":      name,
			"arguments": args,
		},
	}
	reqBytes, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}

	result := s.HandleMessage(context.Background(), reqBytes)
	resultBytes, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("failed to marshal result: %v", err)
	}

	var response struct {
		Result struct {
			IsError bool `json:"isError"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resultBytes, &response); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if response.Error != nil {
		return response.Error.Message, true
	}
	if len(response.Result.Content) == 0 {
		t.Fatal("expected content in response")
	}
	return response.Result.Content[0].Text, response.Result.IsError
}

// decodeToolError parses a structured error payload from a tool result.
func decodeToolError(t *testing.T, text string) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("failed to unmarshal error response: %v", err)
	}
	return resp
}
