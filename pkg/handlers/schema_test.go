package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ontograph/pkg/apperrors"
	"github.com/ekaya-inc/ontograph/pkg/models"
	"github.com/ekaya-inc/ontograph/pkg/repositories"
)

// mockSchemaRepository implements repositories.OntologySchemaRepository for
// handler testing. Only List is exercised by the schema endpoint.
type mockSchemaRepository struct {
	entries []*models.OntologySchemaEntry
	listErr error
}

func (m *mockSchemaRepository) Upsert(_ context.Context, entry *models.OntologySchemaEntry) error {
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockSchemaRepository) GetByID(_ context.Context, id uuid.UUID) (*models.OntologySchemaEntry, error) {
	for _, e := range m.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockSchemaRepository) List(context.Context) ([]*models.OntologySchemaEntry, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.entries, nil
}

func (m *mockSchemaRepository) ListByPair(_ context.Context, fromType, toType string) ([]*models.OntologySchemaEntry, error) {
	var matched []*models.OntologySchemaEntry
	for _, e := range m.entries {
		if e.FromType == fromType && e.ToType == toType {
			matched = append(matched, e)
		}
	}
	return matched, nil
}

func (m *mockSchemaRepository) ListRelationTypesByConfidence(context.Context) ([]string, error) {
	names := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		names = append(names, e.RelationType)
	}
	return names, nil
}

func (m *mockSchemaRepository) UpdateCardinality(_ context.Context, id uuid.UUID, cardinality models.Cardinality) error {
	for _, e := range m.entries {
		if e.ID == id {
			e.Cardinality = cardinality
			return nil
		}
	}
	return apperrors.ErrNotFound
}

var _ repositories.OntologySchemaRepository = (*mockSchemaRepository)(nil)

func acceptedSchemaEntry(relationType, fromType, toType string, confidence float64) *models.OntologySchemaEntry {
	return &models.OntologySchemaEntry{
		ID:           uuid.New(),
		RelationType: relationType,
		FromType:     fromType,
		ToType:       toType,
		Cardinality:  models.CardinalityManyToOne,
		Confidence:   confidence,
		Provenance: models.RelationProvenance{
			HeuristicScore: 0.7,
			LLMScore:       0.92,
			AcceptedBy:     models.AcceptedByLLM,
			Rationale:      "owner_team_name values match Team names",
		},
		Pattern: &models.PropertyPattern{
			Kind:         models.PatternExactMatch,
			FromProperty: "owner_team_name",
			ToProperty:   "name",
		},
	}
}

func TestSchemaHandler_GetSchema_JSON(t *testing.T) {
	repo := &mockSchemaRepository{entries: []*models.OntologySchemaEntry{
		acceptedSchemaEntry("owned_by", "Service", "Team", 0.9),
		acceptedSchemaEntry("escalates_to", "Team", "OnCallGroup", 0.8),
	}}
	handler := NewSchemaHandler(repo, zap.NewNop())

	req := httptest.NewRequest("GET", "/ontology/schema", nil)
	rr := httptest.NewRecorder()

	handler.GetSchema(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var resp ApiResponse
	err := json.NewDecoder(rr.Body).Decode(&resp)
	require.NoError(t, err)
	assert.True(t, resp.Success)

	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(2), data["total"])

	entries := data["entries"].([]any)
	require.Len(t, entries, 2)

	first := entries[0].(map[string]any)
	assert.Equal(t, "owned_by", first["relation_type"])
	assert.Equal(t, 0.9, first["confidence"])

	provenance := first["provenance"].(map[string]any)
	assert.Equal(t, string(models.AcceptedByLLM), provenance["accepted_by"])
}

func TestSchemaHandler_GetSchema_EmptyResult(t *testing.T) {
	repo := &mockSchemaRepository{}
	handler := NewSchemaHandler(repo, zap.NewNop())

	req := httptest.NewRequest("GET", "/ontology/schema", nil)
	rr := httptest.NewRecorder()

	handler.GetSchema(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp ApiResponse
	err := json.NewDecoder(rr.Body).Decode(&resp)
	require.NoError(t, err)

	data := resp.Data.(map[string]any)
	entries := data["entries"].([]any)
	assert.Len(t, entries, 0) // should be empty array, not null
}

func TestSchemaHandler_GetSchema_YAML(t *testing.T) {
	entry := acceptedSchemaEntry("owned_by", "Service", "Team", 0.9)
	entry.Description = "a Service is owned by a Team"
	repo := &mockSchemaRepository{entries: []*models.OntologySchemaEntry{entry}}
	handler := NewSchemaHandler(repo, zap.NewNop())

	req := httptest.NewRequest("GET", "/ontology/schema?format=yaml", nil)
	rr := httptest.NewRecorder()

	handler.GetSchema(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/x-yaml", rr.Header().Get("Content-Type"))

	var snapshot schemaSnapshot
	err := yaml.Unmarshal(rr.Body.Bytes(), &snapshot)
	require.NoError(t, err)
	require.Len(t, snapshot.Relations, 1)

	relation := snapshot.Relations[0]
	assert.Equal(t, "owned_by", relation.Name)
	assert.Equal(t, "Service", relation.FromType)
	assert.Equal(t, "Team", relation.ToType)
	assert.Equal(t, "N:1", relation.Cardinality)
	assert.Equal(t, 0.9, relation.Confidence)
	assert.Equal(t, string(models.AcceptedByLLM), relation.AcceptedBy)
	assert.Equal(t, "a Service is owned by a Team", relation.Description)
	require.NotNil(t, relation.Pattern)
	assert.Equal(t, "exact_match", relation.Pattern.Kind)
	assert.Equal(t, "owner_team_name", relation.Pattern.FromProperty)
}

func TestSchemaHandler_GetSchema_YAMLOmitsNilPattern(t *testing.T) {
	entry := acceptedSchemaEntry("owned_by", "Service", "Team", 1.0)
	entry.Pattern = nil
	entry.Provenance.AcceptedBy = models.AcceptedByManual
	repo := &mockSchemaRepository{entries: []*models.OntologySchemaEntry{entry}}
	handler := NewSchemaHandler(repo, zap.NewNop())

	req := httptest.NewRequest("GET", "/ontology/schema?format=yaml", nil)
	rr := httptest.NewRecorder()

	handler.GetSchema(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "pattern:")

	var snapshot schemaSnapshot
	err := yaml.Unmarshal(rr.Body.Bytes(), &snapshot)
	require.NoError(t, err)
	require.Len(t, snapshot.Relations, 1)
	assert.Nil(t, snapshot.Relations[0].Pattern)
}

func TestSchemaHandler_GetSchema_InvalidFormat(t *testing.T) {
	repo := &mockSchemaRepository{}
	handler := NewSchemaHandler(repo, zap.NewNop())

	req := httptest.NewRequest("GET", "/ontology/schema?format=xml", nil)
	rr := httptest.NewRecorder()

	handler.GetSchema(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)

	var errBody map[string]string
	err := json.NewDecoder(rr.Body).Decode(&errBody)
	require.NoError(t, err)
	assert.Equal(t, "invalid_format", errBody["error"])
}

func TestSchemaHandler_GetSchema_StoreUnavailable(t *testing.T) {
	repo := &mockSchemaRepository{listErr: apperrors.NewStoreUnavailable("database", assert.AnError)}
	handler := NewSchemaHandler(repo, zap.NewNop())

	req := httptest.NewRequest("GET", "/ontology/schema", nil)
	rr := httptest.NewRecorder()

	handler.GetSchema(rr, req)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var errBody map[string]string
	err := json.NewDecoder(rr.Body).Decode(&errBody)
	require.NoError(t, err)
	assert.Equal(t, "store_unavailable", errBody["error"])
}
