package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ontograph/pkg/config"
	"github.com/ekaya-inc/ontograph/pkg/graph"
	"github.com/ekaya-inc/ontograph/pkg/llm"
	"github.com/ekaya-inc/ontograph/pkg/models"
	"github.com/ekaya-inc/ontograph/pkg/vector"
)

// indexEmbedBatchSize is how many entity texts go into one embedding request.
// Batches run concurrently through the worker pool.
const indexEmbedBatchSize = 64

// indexEntitiesPerType caps how many entities of one type get node
// embeddings per indexing run.
const indexEntitiesPerType = 1000

// EntityIndexer refreshes graph-node embeddings in the vector store so
// vector search can surface graph entities alongside document chunks.
// The ingestion pipeline owns document chunks; the engine owns node
// documents because it is the component that reads the graph.
type EntityIndexer interface {
	// IndexEntities embeds entities of the given types and upserts them as
	// node documents keyed by entity id. Empty entityTypes indexes every
	// type in the graph. Returns the number of entities indexed; batches
	// that fail to embed are logged and skipped unless every batch fails.
	IndexEntities(ctx context.Context, entityTypes []string) (int, error)
}

type entityIndexer struct {
	graphStore  graph.Store
	vectorStore vector.Store
	llmClient   llm.LLMClient
	pool        *llm.WorkerPool
	embedModel  string
	logger      *zap.Logger
}

// NewEntityIndexer creates the graph-node embedding indexer.
func NewEntityIndexer(
	graphStore graph.Store,
	vectorStore vector.Store,
	llmClient llm.LLMClient,
	pool *llm.WorkerPool,
	aiCfg *config.AIConfig,
	logger *zap.Logger,
) EntityIndexer {
	return &entityIndexer{
		graphStore:  graphStore,
		vectorStore: vectorStore,
		llmClient:   llmClient,
		pool:        pool,
		embedModel:  aiCfg.EmbeddingModel,
		logger:      logger.Named("indexer"),
	}
}

func (s *entityIndexer) IndexEntities(ctx context.Context, entityTypes []string) (int, error) {
	types := entityTypes
	if len(types) == 0 {
		all, err := s.graphStore.EntityTypes(ctx)
		if err != nil {
			return 0, fmt.Errorf("list entity types: %w", err)
		}
		types = all
	}

	var entities []models.Entity
	for _, entityType := range types {
		batch, err := s.graphStore.SampleEntities(ctx, entityType, indexEntitiesPerType)
		if err != nil {
			return 0, fmt.Errorf("load %s entities: %w", entityType, err)
		}
		entities = append(entities, batch...)
	}
	if len(entities) == 0 {
		return 0, nil
	}

	batches := chunkEntities(entities, indexEmbedBatchSize)
	items := make([]llm.WorkItem[int], 0, len(batches))
	for i, batch := range batches {
		batch := batch
		items = append(items, llm.WorkItem[int]{
			ID: fmt.Sprintf("embed-batch-%d", i),
			Execute: func(ctx context.Context) (int, error) {
				return s.indexBatch(ctx, batch)
			},
		})
	}

	indexed := 0
	failed := 0
	var firstErr error
	results := llm.Process(ctx, s.pool, items, func(completed, total int) {
		s.logger.Debug("Node embedding progress",
			zap.Int("completed", completed),
			zap.Int("total", total))
	})
	for _, result := range results {
		if result.Err != nil {
			failed++
			if firstErr == nil {
				firstErr = result.Err
			}
			s.logger.Warn("Node embedding batch failed",
				zap.String("batch", result.ID),
				zap.Error(result.Err))
			continue
		}
		indexed += result.Result
	}

	if indexed == 0 && failed > 0 {
		return 0, fmt.Errorf("node indexing failed: all %d batches errored: %w", failed, firstErr)
	}

	s.logger.Info("Indexed graph nodes",
		zap.Int("entity_types", len(types)),
		zap.Int("indexed", indexed),
		zap.Int("failed_batches", failed))
	return indexed, nil
}

// indexBatch embeds one batch of entities and upserts the node documents.
func (s *entityIndexer) indexBatch(ctx context.Context, entities []models.Entity) (int, error) {
	texts := make([]string, len(entities))
	for i, entity := range entities {
		texts[i] = renderEntity(entity)
	}

	embeddings, err := s.llmClient.CreateEmbeddings(ctx, texts, s.embedModel)
	if err != nil {
		return 0, fmt.Errorf("embed entities: %w", err)
	}
	if len(embeddings) != len(entities) {
		return 0, fmt.Errorf("embed entities: got %d embeddings for %d inputs", len(embeddings), len(entities))
	}

	docs := make([]vector.Document, len(entities))
	for i, entity := range entities {
		title := entity.ID
		if name, ok := entity.PropertyString("name"); ok {
			title = name
		}
		docs[i] = vector.Document{
			ID:        entity.ID,
			Embedding: embeddings[i],
			Content:   texts[i],
			Metadata: map[string]any{
				models.MetadataKeyKind:   string(models.SourceKindNode),
				models.MetadataKeyNodeID: entity.ID,
				models.MetadataKeyTitle:  title,
				"entity_type":            entity.Type,
			},
		}
	}

	if err := s.vectorStore.Upsert(ctx, docs); err != nil {
		return 0, fmt.Errorf("upsert node documents: %w", err)
	}
	return len(docs), nil
}

// chunkEntities splits entities into batches of at most size.
func chunkEntities(entities []models.Entity, size int) [][]models.Entity {
	if size < 1 {
		size = 1
	}
	var batches [][]models.Entity
	for start := 0; start < len(entities); start += size {
		end := start + size
		if end > len(entities) {
			end = len(entities)
		}
		batches = append(batches, entities[start:end])
	}
	return batches
}
