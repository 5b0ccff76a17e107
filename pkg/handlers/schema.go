package handlers

import (
	"net/http"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ontograph/pkg/models"
	"github.com/ekaya-inc/ontograph/pkg/repositories"
)

// schemaListResponse wraps the accepted ontology schema entries.
type schemaListResponse struct {
	Entries []*models.OntologySchemaEntry `json:"entries"`
	Total   int                           `json:"total"`
}

// schemaSnapshot is the YAML rendering of the accepted schema. It uses the
// seed vocabulary file's shape (a top-level relations list) so an operator
// snapshot can be fed back to the seed loader in another environment; the
// extra score fields are ignored on load.
type schemaSnapshot struct {
	Relations []snapshotRelation `yaml:"relations"`
}

type snapshotRelation struct {
	Name           string           `yaml:"name"`
	FromType       string           `yaml:"from_type"`
	ToType         string           `yaml:"to_type"`
	Cardinality    string           `yaml:"cardinality,omitempty"`
	Confidence     float64          `yaml:"confidence"`
	AcceptedBy     string           `yaml:"accepted_by,omitempty"`
	HeuristicScore float64          `yaml:"heuristic_score,omitempty"`
	LLMScore       float64          `yaml:"llm_score,omitempty"`
	Description    string           `yaml:"description,omitempty"`
	Pattern        *snapshotPattern `yaml:"pattern,omitempty"`
}

type snapshotPattern struct {
	Kind         string `yaml:"kind"`
	FromProperty string `yaml:"from_property"`
	ToProperty   string `yaml:"to_property"`
}

// SchemaHandler exposes the accepted ontology schema for inspection.
type SchemaHandler struct {
	schemaRepo repositories.OntologySchemaRepository
	logger     *zap.Logger
}

// NewSchemaHandler creates a new SchemaHandler.
func NewSchemaHandler(schemaRepo repositories.OntologySchemaRepository, logger *zap.Logger) *SchemaHandler {
	return &SchemaHandler{
		schemaRepo: schemaRepo,
		logger:     logger,
	}
}

// RegisterRoutes registers the schema inspection route on the given mux.
func (h *SchemaHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ontology/schema", h.GetSchema)
}

// GetSchema handles GET /ontology/schema.
// Returns accepted schema entries with confidence and provenance, ordered
// by relation type confidence. format=yaml renders an operator snapshot.
func (h *SchemaHandler) GetSchema(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format != "" && format != "json" && format != "yaml" {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_format", "format must be json or yaml"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	entries, err := h.schemaRepo.List(r.Context())
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	if entries == nil {
		entries = []*models.OntologySchemaEntry{}
	}

	if format == "yaml" {
		h.writeYAML(w, entries)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: schemaListResponse{
			Entries: entries,
			Total:   len(entries),
		},
	}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *SchemaHandler) writeYAML(w http.ResponseWriter, entries []*models.OntologySchemaEntry) {
	snapshot := schemaSnapshot{Relations: make([]snapshotRelation, 0, len(entries))}
	for _, e := range entries {
		relation := snapshotRelation{
			Name:           e.RelationType,
			FromType:       e.FromType,
			ToType:         e.ToType,
			Cardinality:    string(e.Cardinality),
			Confidence:     e.Confidence,
			AcceptedBy:     string(e.Provenance.AcceptedBy),
			HeuristicScore: e.Provenance.HeuristicScore,
			LLMScore:       e.Provenance.LLMScore,
			Description:    e.Description,
		}
		if e.Pattern != nil {
			relation.Pattern = &snapshotPattern{
				Kind:         string(e.Pattern.Kind),
				FromProperty: e.Pattern.FromProperty,
				ToProperty:   e.Pattern.ToProperty,
			}
		}
		snapshot.Relations = append(snapshot.Relations, relation)
	}

	out, err := yaml.Marshal(snapshot)
	if err != nil {
		h.logger.Error("Failed to marshal schema snapshot", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "failed to render schema snapshot"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	w.Header().Set("Content-Type", "application/x-yaml")
	if _, err := w.Write(out); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
