package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ontograph/pkg/apperrors"
	"github.com/ekaya-inc/ontograph/pkg/graph"
	"github.com/ekaya-inc/ontograph/pkg/models"
	"github.com/ekaya-inc/ontograph/pkg/repositories"
	"github.com/ekaya-inc/ontograph/pkg/retry"
)

// OntologyApplier materializes an accepted schema entry as relation edges in
// the graph store. Apply is idempotent and resumable: edges are upserted by
// identity, and a per-(job, entry) checkpoint records the scan cursor so an
// interrupted apply continues where it stopped.
type OntologyApplier interface {
	// Apply writes the entry's relations and returns how many edges were
	// created (not merely matched) across all attempts for this job.
	Apply(ctx context.Context, jobID uuid.UUID, entry *models.OntologySchemaEntry) (int, error)
}

type ontologyApplier struct {
	graph          graph.Store
	checkpointRepo repositories.ApplyCheckpointRepository
	schemaRepo     repositories.OntologySchemaRepository
	batchSize      int
	logger         *zap.Logger
}

// NewOntologyApplier creates the apply-phase service. batchSize bounds how
// many matched pairs are processed between checkpoint saves.
func NewOntologyApplier(
	graphStore graph.Store,
	checkpointRepo repositories.ApplyCheckpointRepository,
	schemaRepo repositories.OntologySchemaRepository,
	batchSize int,
	logger *zap.Logger,
) OntologyApplier {
	if batchSize < 1 {
		batchSize = 1
	}
	return &ontologyApplier{
		graph:          graphStore,
		checkpointRepo: checkpointRepo,
		schemaRepo:     schemaRepo,
		batchSize:      batchSize,
		logger:         logger.Named("applier"),
	}
}

var _ OntologyApplier = (*ontologyApplier)(nil)

// storeRetryConfig backs off transient graph outages during apply. Permanent
// errors surface immediately and fail the phase.
var storeRetryConfig = &retry.Config{
	MaxRetries:   4,
	InitialDelay: 250 * time.Millisecond,
	MaxDelay:     5 * time.Second,
	Multiplier:   2.0,
}

func (a *ontologyApplier) Apply(ctx context.Context, jobID uuid.UUID, entry *models.OntologySchemaEntry) (int, error) {
	if entry.Pattern == nil {
		// Seed and manual entries without property evidence name a relation
		// type but carry nothing to match instances on.
		a.logger.Debug("entry has no pattern, nothing to apply",
			zap.String("relation_type", entry.RelationType))
		return 0, nil
	}

	cp, err := a.checkpointRepo.Get(ctx, jobID, entry.ID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			return 0, fmt.Errorf("load apply checkpoint: %w", err)
		}
		cp = &models.ApplyCheckpoint{JobID: jobID, EntryID: entry.ID}
	}
	if cp.Done {
		a.logger.Debug("entry already applied",
			zap.String("relation_type", entry.RelationType),
			zap.Int("relations_created", cp.RelationsCreated))
		return cp.RelationsCreated, nil
	}

	pair := entry.Pair()
	for {
		if ctx.Err() != nil {
			return cp.RelationsCreated, ctx.Err()
		}

		var pairs []graph.EntityPair
		err := retry.DoIfRetryable(ctx, storeRetryConfig, func() error {
			var scanErr error
			pairs, scanErr = a.graph.MatchingPairs(ctx, pair, *entry.Pattern, cp.AfterFromID, cp.AfterToID, a.batchSize)
			return scanErr
		})
		if err != nil {
			return cp.RelationsCreated, fmt.Errorf("scan matching pairs for %s: %w", entry.RelationType, err)
		}

		for _, p := range pairs {
			rel := models.Relation{
				ID:           uuid.NewString(),
				Type:         entry.RelationType,
				FromEntityID: p.FromID,
				ToEntityID:   p.ToID,
				Confidence:   entry.Confidence,
				Provenance:   entry.Provenance,
				CreatedAt:    time.Now().UTC(),
			}
			var created bool
			err := retry.DoIfRetryable(ctx, storeRetryConfig, func() error {
				var upsertErr error
				created, upsertErr = a.graph.UpsertRelation(ctx, rel)
				return upsertErr
			})
			if err != nil {
				// Save the exact cursor so the resume continues after the
				// last written pair instead of rescanning the batch.
				if saveErr := a.checkpointRepo.Save(ctx, cp); saveErr != nil {
					a.logger.Warn("failed to save checkpoint after upsert error", zap.Error(saveErr))
				}
				return cp.RelationsCreated, fmt.Errorf("upsert relation %s: %w", rel.IdentityKey(), err)
			}
			if created {
				cp.RelationsCreated++
			}
			cp.AfterFromID = p.FromID
			cp.AfterToID = p.ToID
		}

		if len(pairs) < a.batchSize {
			cp.Done = true
		}
		if err := a.checkpointRepo.Save(ctx, cp); err != nil {
			return cp.RelationsCreated, fmt.Errorf("save apply checkpoint: %w", err)
		}
		if cp.Done {
			break
		}
	}

	a.logger.Info("entry applied",
		zap.String("relation_type", entry.RelationType),
		zap.String("pair", pair.Key()),
		zap.Int("relations_created", cp.RelationsCreated))

	a.refreshCardinality(ctx, entry, pair)
	return cp.RelationsCreated, nil
}

// refreshCardinality recomputes the entry's cardinality from post-apply
// relation statistics. Cardinality is derived metadata: a failure here is
// logged and the apply still counts as successful.
func (a *ontologyApplier) refreshCardinality(ctx context.Context, entry *models.OntologySchemaEntry, pair models.TypePair) {
	stats, err := a.graph.RelationStats(ctx, entry.RelationType, pair)
	if err != nil {
		a.logger.Warn("failed to read relation stats, keeping previous cardinality",
			zap.String("relation_type", entry.RelationType),
			zap.Error(err))
		return
	}

	cardinality := models.InferCardinality(stats.Relations, stats.DistinctFrom, stats.DistinctTo)
	if cardinality == entry.Cardinality {
		return
	}
	if err := a.schemaRepo.UpdateCardinality(ctx, entry.ID, cardinality); err != nil {
		a.logger.Warn("failed to persist cardinality",
			zap.String("relation_type", entry.RelationType),
			zap.String("cardinality", string(cardinality)),
			zap.Error(err))
		return
	}
	entry.Cardinality = cardinality
}
