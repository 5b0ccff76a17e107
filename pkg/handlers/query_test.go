package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ontograph/pkg/apperrors"
	"github.com/ekaya-inc/ontograph/pkg/models"
	"github.com/ekaya-inc/ontograph/pkg/services"
)

// mockRetrievalService implements services.RetrievalService for handler
// testing.
type mockRetrievalService struct {
	answerFunc func(ctx context.Context, question string, forceRefresh bool) (*models.QueryContext, error)

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

func postQuery(t *testing.T, handler *QueryHandler, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/query", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	handler.Query(rr, req)
	return rr
}

func TestQueryHandler_Query_Success(t *testing.T) {
	svc := &mockRetrievalService{
		answerFunc: func(_ context.Context, question string, _ bool) (*models.QueryContext, error) {
			return &models.QueryContext{
				Question: question,
				Answer:   "Escalations for checkout-api page the payments-oncall group. [source:oncall-1]",
				Sources: []models.Source{
					{ID: "chunk-12", Kind: models.SourceKindChunk},
					{ID: "oncall-1", Kind: models.SourceKindNode, HopDistance: 2},
				},
				LatencyMS: 42,
			}, nil
		},
	}
	handler := NewQueryHandler(svc, zap.NewNop())

	body, _ := json.Marshal(queryRequest{Question: "Who gets paged when checkout-api breaks?"})
	rr := postQuery(t, handler, body)

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp ApiResponse
	err := json.NewDecoder(rr.Body).Decode(&resp)
	require.NoError(t, err)
	assert.True(t, resp.Success)

	data := resp.Data.(map[string]any)
	assert.Contains(t, data["answer"], "payments-oncall")
	assert.Equal(t, float64(42), data["latency_ms"])
	assert.Equal(t, false, data["degraded"])
	assert.Equal(t, false, data["cached"])

	sources := data["sources"].([]any)
	require.Len(t, sources, 2)
	second := sources[1].(map[string]any)
	assert.Equal(t, "oncall-1", second["id"])
	assert.Equal(t, float64(2), second["hop_distance"])

	assert.Equal(t, "Who gets paged when checkout-api breaks?", svc.lastQuestion)
	assert.False(t, svc.lastForce)
}

func TestQueryHandler_Query_ForceRefresh(t *testing.T) {
	svc := &mockRetrievalService{}
	handler := NewQueryHandler(svc, zap.NewNop())

	body, _ := json.Marshal(queryRequest{Question: "Which team owns checkout-api?", ForceRefresh: true})
	rr := postQuery(t, handler, body)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, svc.lastForce)
}

func TestQueryHandler_Query_InvalidBody(t *testing.T) {
	svc := &mockRetrievalService{}
	handler := NewQueryHandler(svc, zap.NewNop())

	rr := postQuery(t, handler, []byte("{invalid json"))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, 0, svc.calls)
}

func TestQueryHandler_Query_BlankQuestion(t *testing.T) {
	svc := &mockRetrievalService{}
	handler := NewQueryHandler(svc, zap.NewNop())

	body, _ := json.Marshal(queryRequest{Question: "   "})
	rr := postQuery(t, handler, body)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, 0, svc.calls)
}

func TestQueryHandler_Query_NoContext(t *testing.T) {
	svc := &mockRetrievalService{
		answerFunc: func(context.Context, string, bool) (*models.QueryContext, error) {
			return nil, apperrors.ErrNoContext
		},
	}
	handler := NewQueryHandler(svc, zap.NewNop())

	body, _ := json.Marshal(queryRequest{Question: "What is the airspeed of an unladen swallow?"})
	rr := postQuery(t, handler, body)

	assert.Equal(t, http.StatusNotFound, rr.Code)

	var errBody map[string]string
	err := json.NewDecoder(rr.Body).Decode(&errBody)
	require.NoError(t, err)
	assert.Equal(t, "no_context", errBody["error"])
}

func TestQueryHandler_Query_GenerationFailed(t *testing.T) {
	svc := &mockRetrievalService{
		answerFunc: func(context.Context, string, bool) (*models.QueryContext, error) {
			return nil, &apperrors.GenerationError{
				AssembledContext: "[source:chunk-9] (chunk)\nescalation runbook\n",
				Err:              errors.New("model rejected input"),
			}
		},
	}
	handler := NewQueryHandler(svc, zap.NewNop())

	body, _ := json.Marshal(queryRequest{Question: "Who owns the ledger service?"})
	rr := postQuery(t, handler, body)

	assert.Equal(t, http.StatusBadGateway, rr.Code)

	var errBody map[string]string
	err := json.NewDecoder(rr.Body).Decode(&errBody)
	require.NoError(t, err)
	assert.Equal(t, "generation_failed", errBody["error"])
}

func TestQueryHandler_Query_DegradedAnswer(t *testing.T) {
	svc := &mockRetrievalService{
		answerFunc: func(_ context.Context, question string, _ bool) (*models.QueryContext, error) {
			qc := &models.QueryContext{
				Question: question,
				Answer:   "The payments team owns checkout-api.",
				Sources:  []models.Source{{ID: "team-1", Kind: models.SourceKindNode}},
			}
			qc.MarkDegraded(models.DegradedReasonVectorUnavailable)
			return qc, nil
		},
	}
	handler := NewQueryHandler(svc, zap.NewNop())

	body, _ := json.Marshal(queryRequest{Question: "Which team owns checkout-api?"})
	rr := postQuery(t, handler, body)

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp ApiResponse
	err := json.NewDecoder(rr.Body).Decode(&resp)
	require.NoError(t, err)

	data := resp.Data.(map[string]any)
	assert.Equal(t, true, data["degraded"])
	reasons := data["degraded_reasons"].([]any)
	assert.Contains(t, reasons, models.DegradedReasonVectorUnavailable)
}

func TestQueryHandler_Query_NilSourcesSerializeAsEmptyList(t *testing.T) {
	svc := &mockRetrievalService{
		answerFunc: func(_ context.Context, question string, _ bool) (*models.QueryContext, error) {
			return &models.QueryContext{Question: question, Answer: "yes"}, nil
		},
	}
	handler := NewQueryHandler(svc, zap.NewNop())

	body, _ := json.Marshal(queryRequest{Question: "Is the graph reachable?"})
	rr := postQuery(t, handler, body)

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp ApiResponse
	err := json.NewDecoder(rr.Body).Decode(&resp)
	require.NoError(t, err)

	data := resp.Data.(map[string]any)
	sources, ok := data["sources"].([]any)
	require.True(t, ok, "sources should be an empty array, not null")
	assert.Len(t, sources, 0)
}
