package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ontograph/pkg/apperrors"
	"github.com/ekaya-inc/ontograph/pkg/database"
	"github.com/ekaya-inc/ontograph/pkg/models"
)

// OntologySchemaRepository provides data access for accepted schema entries.
type OntologySchemaRepository interface {
	// Upsert inserts the entry or refreshes the existing row with the same
	// (relation_type, from_type, to_type) key. The entry's ID and timestamps
	// are overwritten with the canonical persisted values.
	Upsert(ctx context.Context, entry *models.OntologySchemaEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.OntologySchemaEntry, error)
	List(ctx context.Context) ([]*models.OntologySchemaEntry, error)
	ListByPair(ctx context.Context, fromType, toType string) ([]*models.OntologySchemaEntry, error)
	ListRelationTypesByConfidence(ctx context.Context) ([]string, error)
	UpdateCardinality(ctx context.Context, id uuid.UUID, cardinality models.Cardinality) error
}

type ontologySchemaRepository struct {
	db *database.DB
}

// NewOntologySchemaRepository creates a new OntologySchemaRepository.
func NewOntologySchemaRepository(db *database.DB) OntologySchemaRepository {
	return &ontologySchemaRepository{db: db}
}

var _ OntologySchemaRepository = (*ontologySchemaRepository)(nil)

// Upsert refresh rules for an existing entry: confidence, scores, and
// rationale always take the new values; cardinality and pattern keep the old
// value when the new entry carries none; a manual entry stays manual so
// curated provenance survives rediscovery.
func (r *ontologySchemaRepository) Upsert(ctx context.Context, entry *models.OntologySchemaEntry) error {
	now := time.Now()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	var patternJSON []byte
	if entry.Pattern != nil {
		var err error
		patternJSON, err = json.Marshal(entry.Pattern)
		if err != nil {
			return fmt.Errorf("failed to marshal entry pattern: %w", err)
		}
	}

	query := `
		INSERT INTO ontology_schemas (
			id, relation_type, from_type, to_type,
			cardinality, confidence, heuristic_score, llm_score,
			accepted_by, rationale, pattern, description,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
		ON CONFLICT (relation_type, from_type, to_type) DO UPDATE SET
			confidence = EXCLUDED.confidence,
			heuristic_score = EXCLUDED.heuristic_score,
			llm_score = EXCLUDED.llm_score,
			rationale = EXCLUDED.rationale,
			cardinality = CASE WHEN EXCLUDED.cardinality = 'unknown'
				THEN ontology_schemas.cardinality ELSE EXCLUDED.cardinality END,
			pattern = COALESCE(EXCLUDED.pattern, ontology_schemas.pattern),
			description = CASE WHEN EXCLUDED.description = ''
				THEN ontology_schemas.description ELSE EXCLUDED.description END,
			accepted_by = CASE WHEN ontology_schemas.accepted_by = 'manual'
				THEN ontology_schemas.accepted_by ELSE EXCLUDED.accepted_by END,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		entry.ID, entry.RelationType, entry.FromType, entry.ToType,
		entry.Cardinality, entry.Confidence, entry.Provenance.HeuristicScore, entry.Provenance.LLMScore,
		entry.Provenance.AcceptedBy, entry.Provenance.Rationale, patternJSON, entry.Description,
		now,
	).Scan(&entry.ID, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert schema entry: %w", err)
	}

	return nil
}

func (r *ontologySchemaRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.OntologySchemaEntry, error) {
	query := `
		SELECT id, relation_type, from_type, to_type,
		       cardinality, confidence, heuristic_score, llm_score,
		       accepted_by, rationale, pattern, description,
		       created_at, updated_at
		FROM ontology_schemas
		WHERE id = $1`

	entry, err := scanSchemaEntryRow(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}

	return entry, nil
}

func (r *ontologySchemaRepository) List(ctx context.Context) ([]*models.OntologySchemaEntry, error) {
	query := `
		SELECT id, relation_type, from_type, to_type,
		       cardinality, confidence, heuristic_score, llm_score,
		       accepted_by, rationale, pattern, description,
		       created_at, updated_at
		FROM ontology_schemas
		ORDER BY confidence DESC, relation_type, from_type, to_type`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list schema entries: %w", err)
	}
	defer rows.Close()

	return scanSchemaEntryRows(rows)
}

func (r *ontologySchemaRepository) ListByPair(ctx context.Context, fromType, toType string) ([]*models.OntologySchemaEntry, error) {
	query := `
		SELECT id, relation_type, from_type, to_type,
		       cardinality, confidence, heuristic_score, llm_score,
		       accepted_by, rationale, pattern, description,
		       created_at, updated_at
		FROM ontology_schemas
		WHERE from_type = $1 AND to_type = $2
		ORDER BY confidence DESC, relation_type`

	rows, err := r.db.Query(ctx, query, fromType, toType)
	if err != nil {
		return nil, fmt.Errorf("failed to list schema entries by pair: %w", err)
	}
	defer rows.Close()

	return scanSchemaEntryRows(rows)
}

// ListRelationTypesByConfidence returns distinct relation type names ordered
// by their strongest entry's confidence. Retrieval expands graph neighbors in
// this order.
func (r *ontologySchemaRepository) ListRelationTypesByConfidence(ctx context.Context) ([]string, error) {
	query := `
		SELECT relation_type
		FROM ontology_schemas
		GROUP BY relation_type
		ORDER BY MAX(confidence) DESC, relation_type`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list relation types: %w", err)
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan relation type: %w", err)
		}
		types = append(types, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating relation types: %w", err)
	}

	return types, nil
}

func (r *ontologySchemaRepository) UpdateCardinality(ctx context.Context, id uuid.UUID, cardinality models.Cardinality) error {
	query := `
		UPDATE ontology_schemas
		SET cardinality = $2, updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, cardinality)
	if err != nil {
		return fmt.Errorf("failed to update cardinality: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

// ============================================================================
// Helper Functions - Scan
// ============================================================================

func scanSchemaEntryRow(row pgx.Row) (*models.OntologySchemaEntry, error) {
	var e models.OntologySchemaEntry
	var patternJSON []byte

	err := row.Scan(
		&e.ID, &e.RelationType, &e.FromType, &e.ToType,
		&e.Cardinality, &e.Confidence, &e.Provenance.HeuristicScore, &e.Provenance.LLMScore,
		&e.Provenance.AcceptedBy, &e.Provenance.Rationale, &patternJSON, &e.Description,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan schema entry: %w", err)
	}

	if err := unmarshalEntryPattern(&e, patternJSON); err != nil {
		return nil, err
	}

	return &e, nil
}

func scanSchemaEntryRows(rows pgx.Rows) ([]*models.OntologySchemaEntry, error) {
	var entries []*models.OntologySchemaEntry

	for rows.Next() {
		var e models.OntologySchemaEntry
		var patternJSON []byte

		err := rows.Scan(
			&e.ID, &e.RelationType, &e.FromType, &e.ToType,
			&e.Cardinality, &e.Confidence, &e.Provenance.HeuristicScore, &e.Provenance.LLMScore,
			&e.Provenance.AcceptedBy, &e.Provenance.Rationale, &patternJSON, &e.Description,
			&e.CreatedAt, &e.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schema entry row: %w", err)
		}

		if err := unmarshalEntryPattern(&e, patternJSON); err != nil {
			return nil, err
		}

		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schema entry rows: %w", err)
	}

	return entries, nil
}

func unmarshalEntryPattern(e *models.OntologySchemaEntry, patternJSON []byte) error {
	if len(patternJSON) == 0 {
		return nil
	}
	var p models.PropertyPattern
	if err := json.Unmarshal(patternJSON, &p); err != nil {
		return fmt.Errorf("failed to unmarshal entry pattern: %w", err)
	}
	e.Pattern = &p
	return nil
}
