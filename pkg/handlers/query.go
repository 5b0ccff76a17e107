package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ontograph/pkg/models"
	"github.com/ekaya-inc/ontograph/pkg/services"
)

// queryRequest is the request body for a knowledge-base question.
type queryRequest struct {
	Question     string `json:"question"`
	ForceRefresh bool   `json:"force_refresh,omitempty"`
}

// queryResponse is the wire shape of an answered question. Sources lists the
// fragments the answer cites; degraded responses name what was missing.
type queryResponse struct {
	Answer          string          `json:"answer"`
	Sources         []models.Source `json:"sources"`
	LatencyMS       int64           `json:"latency_ms"`
	Degraded        bool            `json:"degraded"`
	DegradedReasons []string        `json:"degraded_reasons,omitempty"`
	Cached          bool            `json:"cached"`
}

// QueryHandler handles hybrid retrieval questions.
type QueryHandler struct {
	retrieval services.RetrievalService
	logger    *zap.Logger
}

// NewQueryHandler creates a new QueryHandler.
func NewQueryHandler(retrieval services.RetrievalService, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{
		retrieval: retrieval,
		logger:    logger,
	}
}

// RegisterRoutes registers the query route on the given mux.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /query", h.Query)
}

// Query handles POST /query.
// Answers the question from vector search plus graph expansion. A question
// with no assembled context returns 404; a generation failure returns 502
// with the taxonomy error code so the caller can retry.
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "question is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	qc, err := h.retrieval.Answer(r.Context(), req.Question, req.ForceRefresh)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	sources := qc.Sources
	if sources == nil {
		sources = []models.Source{}
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: queryResponse{
			Answer:          qc.Answer,
			Sources:         sources,
			LatencyMS:       qc.LatencyMS,
			Degraded:        qc.Degraded,
			DegradedReasons: qc.DegradedReasons,
			Cached:          qc.Cached,
		},
	}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
