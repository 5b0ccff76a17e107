package services

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ontograph/pkg/models"
	"github.com/ekaya-inc/ontograph/pkg/repositories"
)

// seedRationale marks schema entries that came from the seed vocabulary.
const seedRationale = "seed vocabulary"

// seedFile is the on-disk shape of the optional relation-type vocabulary.
type seedFile struct {
	Relations []seedRelation `yaml:"relations"`
}

type seedRelation struct {
	Name        string       `yaml:"name"`
	FromType    string       `yaml:"from_type"`
	ToType      string       `yaml:"to_type"`
	Description string       `yaml:"description"`
	Pattern     *seedPattern `yaml:"pattern"`
}

type seedPattern struct {
	Kind         string `yaml:"kind"`
	FromProperty string `yaml:"from_property"`
	ToProperty   string `yaml:"to_property"`
}

// SeedService loads the curated relation-type vocabulary into the ontology
// schema at startup. Seed entries enter at full confidence with manual
// provenance, so discovery treats them as preferred vocabulary and retrieval
// expands along them first.
type SeedService interface {
	// LoadFromFile upserts the relation types in the YAML file at path as
	// manually accepted schema entries and returns how many were loaded.
	// An empty path is a no-op.
	LoadFromFile(ctx context.Context, path string) (int, error)
}

type seedService struct {
	schemaRepo repositories.OntologySchemaRepository
	logger     *zap.Logger
}

// NewSeedService creates the seed vocabulary loader.
func NewSeedService(schemaRepo repositories.OntologySchemaRepository, logger *zap.Logger) SeedService {
	return &seedService{
		schemaRepo: schemaRepo,
		logger:     logger.Named("seed"),
	}
}

func (s *seedService) LoadFromFile(ctx context.Context, path string) (int, error) {
	if path == "" {
		return 0, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed file: %w", err)
	}

	var file seedFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return 0, fmt.Errorf("parse seed file: %w", err)
	}

	loaded := 0
	for i, relation := range file.Relations {
		entry, err := seedEntry(relation)
		if err != nil {
			return loaded, fmt.Errorf("seed relation %d: %w", i, err)
		}
		if err := s.schemaRepo.Upsert(ctx, entry); err != nil {
			return loaded, fmt.Errorf("upsert seed relation %q: %w", entry.RelationType, err)
		}
		loaded++
	}

	if loaded > 0 {
		s.logger.Info("seed vocabulary loaded",
			zap.String("path", path),
			zap.Int("relations", loaded))
	}
	return loaded, nil
}

// seedEntry validates one seed relation and shapes it as a manually accepted
// schema entry at full confidence.
func seedEntry(relation seedRelation) (*models.OntologySchemaEntry, error) {
	name := normalizeRelationName(relation.Name)
	if name == "" {
		return nil, fmt.Errorf("relation name is required")
	}
	fromType := strings.TrimSpace(relation.FromType)
	toType := strings.TrimSpace(relation.ToType)
	if fromType == "" || toType == "" {
		return nil, fmt.Errorf("relation %q: from_type and to_type are required", name)
	}

	entry := &models.OntologySchemaEntry{
		RelationType: name,
		FromType:     fromType,
		ToType:       toType,
		Cardinality:  models.CardinalityUnknown,
		Confidence:   1.0,
		Provenance: models.RelationProvenance{
			AcceptedBy: models.AcceptedByManual,
			Rationale:  seedRationale,
		},
		Description: relation.Description,
	}

	if relation.Pattern != nil {
		pattern := models.PropertyPattern{
			Kind:         models.PatternKind(relation.Pattern.Kind),
			FromProperty: relation.Pattern.FromProperty,
			ToProperty:   relation.Pattern.ToProperty,
		}
		if err := pattern.Validate(); err != nil {
			return nil, fmt.Errorf("relation %q: %w", name, err)
		}
		entry.Pattern = &pattern
	}

	return entry, nil
}
