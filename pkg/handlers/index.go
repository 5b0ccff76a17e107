package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ontograph/pkg/services"
)

// indexRequest is the request body for refreshing graph-node embeddings.
// An empty entity_types list reindexes every type in the graph.
type indexRequest struct {
	EntityTypes []string `json:"entity_types"`
}

// indexResponse reports how many graph nodes were embedded and upserted.
type indexResponse struct {
	Indexed int `json:"indexed"`
}

// IndexHandler handles the operator endpoint that refreshes graph-node
// embeddings in the vector store.
type IndexHandler struct {
	indexer services.EntityIndexer
	logger  *zap.Logger
}

// NewIndexHandler creates a new IndexHandler.
func NewIndexHandler(indexer services.EntityIndexer, logger *zap.Logger) *IndexHandler {
	return &IndexHandler{
		indexer: indexer,
		logger:  logger,
	}
}

// RegisterRoutes registers the indexing route on the given mux.
func (h *IndexHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /ontology/index", h.Index)
}

// Index handles POST /ontology/index.
// Embeds graph entities and upserts them as node documents so vector search
// can seed graph expansion. An empty body reindexes all entity types.
func (h *IndexHandler) Index(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	indexed, err := h.indexer.IndexEntities(r.Context(), req.EntityTypes)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    indexResponse{Indexed: indexed},
	}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
