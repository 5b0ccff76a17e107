package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ontograph/pkg/models"
	"github.com/ekaya-inc/ontograph/pkg/services"
)

// reviewDecisionRequest is the request body for deciding a review candidate.
type reviewDecisionRequest struct {
	Decision models.ReviewDecision `json:"decision"`
}

// reviewListResponse wraps the pending review queue.
type reviewListResponse struct {
	Candidates []*models.ReviewCandidate `json:"candidates"`
}

// reviewDecisionResponse carries the decided candidate plus the number of
// relation edges the accept created (zero on reject).
type reviewDecisionResponse struct {
	Candidate        *models.ReviewCandidate `json:"candidate"`
	RelationsCreated int                     `json:"relations_created"`
}

// ReviewHandler handles the manual review queue endpoints.
type ReviewHandler struct {
	reviews services.ReviewService
	logger  *zap.Logger
}

// NewReviewHandler creates a new ReviewHandler.
func NewReviewHandler(reviews services.ReviewService, logger *zap.Logger) *ReviewHandler {
	return &ReviewHandler{
		reviews: reviews,
		logger:  logger,
	}
}

// RegisterRoutes registers the review queue routes on the given mux.
func (h *ReviewHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ontology/review", h.ListPending)
	mux.HandleFunc("POST /ontology/review/{candidate_id}", h.Decide)
}

// ListPending handles GET /ontology/review.
// Returns candidates whose combined score landed between the reject and
// accept thresholds and which still await an operator decision.
func (h *ReviewHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	candidates, err := h.reviews.ListPending(r.Context())
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	if candidates == nil {
		candidates = []*models.ReviewCandidate{}
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    reviewListResponse{Candidates: candidates},
	}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Decide handles POST /ontology/review/{candidate_id}.
// Accept writes the schema entry and applies it through the idempotent
// apply path; reject only records the decision. A candidate that was
// already decided returns 409.
func (h *ReviewHandler) Decide(w http.ResponseWriter, r *http.Request) {
	candidateID, ok := ParseCandidateID(w, r, h.logger)
	if !ok {
		return
	}

	var req reviewDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if !models.IsValidReviewDecision(req.Decision) {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_decision", "decision must be accept or reject"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	candidate, created, err := h.reviews.Decide(r.Context(), candidateID, req.Decision)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	message := "Candidate rejected"
	if req.Decision == models.ReviewDecisionAccept {
		message = "Candidate accepted"
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: reviewDecisionResponse{
			Candidate:        candidate,
			RelationsCreated: created,
		},
		Message: message,
	}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
