package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ontograph/pkg/models"
	"github.com/ekaya-inc/ontograph/pkg/services"
)

// startDiscoveryRequest is the request body for starting a discovery job.
type startDiscoveryRequest struct {
	Scope models.DiscoveryScope `json:"scope"`
}

// OntologyHandler handles ontology discovery job endpoints.
type OntologyHandler struct {
	manager services.DiscoveryJobManager
	logger  *zap.Logger
}

// NewOntologyHandler creates a new OntologyHandler.
func NewOntologyHandler(manager services.DiscoveryJobManager, logger *zap.Logger) *OntologyHandler {
	return &OntologyHandler{
		manager: manager,
		logger:  logger,
	}
}

// RegisterRoutes registers the discovery job routes on the given mux.
func (h *OntologyHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /ontology/discover", h.StartDiscovery)
	mux.HandleFunc("GET /ontology/discover", h.ListJobs)
	mux.HandleFunc("GET /ontology/discover/{job_id}", h.GetJob)
	mux.HandleFunc("POST /ontology/discover/{job_id}/cancel", h.CancelJob)
	mux.HandleFunc("DELETE /ontology/discover/{job_id}", h.PurgeJob)
}

// StartDiscovery handles POST /ontology/discover.
// Validates the scope, locks its pairs, and launches the job in the
// background. Returns 202 with the pending job; a scope overlapping an
// active job's pairs returns 409.
func (h *OntologyHandler) StartDiscovery(w http.ResponseWriter, r *http.Request) {
	var req startDiscoveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	job, err := h.manager.Start(r.Context(), req.Scope)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusAccepted, ApiResponse{
		Success: true,
		Data:    job,
		Message: "Discovery job started",
	}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// GetJob handles GET /ontology/discover/{job_id}.
func (h *OntologyHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := ParseJobID(w, r, h.logger)
	if !ok {
		return
	}

	job, err := h.manager.Get(r.Context(), jobID)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    job,
	}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListJobs handles GET /ontology/discover.
// Returns jobs newest first. The optional limit query parameter caps the
// result; the repository default applies when it is absent.
func (h *OntologyHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		limit = parsed
	}

	jobs, err := h.manager.List(r.Context(), limit)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	if jobs == nil {
		jobs = []*models.DiscoveryJob{}
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: PaginatedResponse{
			Items: jobs,
			Total: len(jobs),
			Limit: limit,
		},
	}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// CancelJob handles POST /ontology/discover/{job_id}/cancel.
// Cancelling a terminal job is a no-op; the response carries the job's
// state after the request either way.
func (h *OntologyHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := ParseJobID(w, r, h.logger)
	if !ok {
		return
	}

	job, err := h.manager.Cancel(r.Context(), jobID)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    job,
		Message: "Cancellation requested",
	}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// PurgeJob handles DELETE /ontology/discover/{job_id}.
// Only terminal jobs can be purged; a running job returns 409.
func (h *OntologyHandler) PurgeJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := ParseJobID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.manager.Purge(r.Context(), jobID); err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Message: "Discovery job purged",
	}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
