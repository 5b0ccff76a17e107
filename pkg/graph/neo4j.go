package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ontograph/pkg/apperrors"
	"github.com/ekaya-inc/ontograph/pkg/config"
	"github.com/ekaya-inc/ontograph/pkg/models"
)

const (
	connectMaxRetries       = 5
	connectBaseDelay        = 100 * time.Millisecond
	pingTimeout             = 5 * time.Second
	maxTransactionRetryTime = 30 * time.Second
)

// Neo4jStore implements Store against a Neo4j (bolt) endpoint. It opens one
// session per operation; the driver pools connections underneath.
type Neo4jStore struct {
	cfg    *config.GraphConfig
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewNeo4jStore dials the graph endpoint with exponential backoff and
// verifies connectivity before returning.
func NewNeo4jStore(ctx context.Context, cfg *config.GraphConfig, logger *zap.Logger) (*Neo4jStore, error) {
	s := &Neo4jStore{cfg: cfg, logger: logger}
	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Neo4jStore) connect(ctx context.Context) error {
	connectTimeout := time.Duration(s.cfg.ConnectTimeoutSeconds) * time.Second

	var lastErr error
	for attempt := 1; attempt <= connectMaxRetries; attempt++ {
		driver, err := neo4j.NewDriverWithContext(
			s.cfg.URI,
			neo4j.BasicAuth(s.cfg.Username, s.cfg.Password, ""),
			s.driverConfig,
		)
		if err == nil {
			verifyCtx, cancel := context.WithTimeout(ctx, connectTimeout)
			err = driver.VerifyConnectivity(verifyCtx)
			cancel()
			if err == nil {
				s.driver = driver
				s.logger.Info("connected to graph store",
					zap.String("uri", s.cfg.URI),
					zap.Int("attempt", attempt))
				return nil
			}
			_ = driver.Close(ctx)
		}
		lastErr = err

		if attempt < connectMaxRetries {
			delay := connectBaseDelay * time.Duration(1<<uint(attempt-1))
			if delay > connectTimeout {
				delay = connectTimeout
			}
			s.logger.Warn("graph store connection failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return apperrors.NewStoreUnavailable("graph",
		fmt.Errorf("connect after %d attempts: %w", connectMaxRetries, lastErr))
}

func (s *Neo4jStore) driverConfig(conf *neo4j.Config) {
	if s.cfg.MaxConnectionPoolSize > 0 {
		conf.MaxConnectionPoolSize = s.cfg.MaxConnectionPoolSize
	}
	conf.ConnectionAcquisitionTimeout = time.Duration(s.cfg.ConnectTimeoutSeconds) * time.Second
	conf.MaxTransactionRetryTime = maxTransactionRetryTime
}

// EntityTypes implements Store.
func (s *Neo4jStore) EntityTypes(ctx context.Context) ([]string, error) {
	records, err := s.readRecords(ctx, "entity types",
		"CALL db.labels() YIELD label RETURN label ORDER BY label", nil)
	if err != nil {
		return nil, err
	}

	types := make([]string, 0, len(records))
	for _, record := range records {
		value, ok := record.Get("label")
		if !ok {
			continue
		}
		if label, ok := value.(string); ok {
			types = append(types, label)
		}
	}
	return types, nil
}

// SampleEntities implements Store.
func (s *Neo4jStore) SampleEntities(ctx context.Context, entityType string, limit int) ([]models.Entity, error) {
	cypher := fmt.Sprintf(
		"MATCH (n:%s) RETURN n.id AS id, properties(n) AS props ORDER BY n.id LIMIT $limit",
		escapeIdentifier(entityType))

	records, err := s.readRecords(ctx, "sample entities", cypher, map[string]any{"limit": limit})
	if err != nil {
		return nil, err
	}

	entities := make([]models.Entity, 0, len(records))
	for _, record := range records {
		id, _ := record.Get("id")
		idStr, ok := id.(string)
		if !ok || idStr == "" {
			continue
		}
		props, _ := record.Get("props")
		propMap, _ := props.(map[string]any)
		entities = append(entities, entityFromProps(idStr, entityType, propMap))
	}
	return entities, nil
}

// GetEntitiesByIDs implements Store.
func (s *Neo4jStore) GetEntitiesByIDs(ctx context.Context, ids []string) ([]models.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	records, err := s.readRecords(ctx, "get entities",
		"MATCH (n) WHERE n.id IN $ids RETURN n.id AS id, labels(n) AS labels, properties(n) AS props",
		map[string]any{"ids": ids})
	if err != nil {
		return nil, err
	}

	entities := make([]models.Entity, 0, len(records))
	for _, record := range records {
		id, _ := record.Get("id")
		idStr, ok := id.(string)
		if !ok || idStr == "" {
			continue
		}
		labels, _ := record.Get("labels")
		props, _ := record.Get("props")
		propMap, _ := props.(map[string]any)
		entities = append(entities, entityFromProps(idStr, firstLabel(labels), propMap))
	}
	return entities, nil
}

// SearchEntities implements Store. This is a full label scan; it only runs
// on the degraded retrieval path, never per-query.
func (s *Neo4jStore) SearchEntities(ctx context.Context, term string, limit int) ([]models.Entity, error) {
	if strings.TrimSpace(term) == "" {
		return nil, nil
	}

	cypher := `MATCH (n)
WHERE n.id IS NOT NULL
  AND any(key IN keys(n) WHERE toLower(toString(n[key])) CONTAINS toLower($term))
RETURN n.id AS id, labels(n) AS labels, properties(n) AS props
ORDER BY id
LIMIT $limit`

	records, err := s.readRecords(ctx, "search entities", cypher,
		map[string]any{"term": term, "limit": limit})
	if err != nil {
		return nil, err
	}

	entities := make([]models.Entity, 0, len(records))
	for _, record := range records {
		id, _ := record.Get("id")
		idStr, ok := id.(string)
		if !ok || idStr == "" {
			continue
		}
		labels, _ := record.Get("labels")
		props, _ := record.Get("props")
		propMap, _ := props.(map[string]any)
		entities = append(entities, entityFromProps(idStr, firstLabel(labels), propMap))
	}
	return entities, nil
}

// DistinctPropertyValues implements Store.
func (s *Neo4jStore) DistinctPropertyValues(ctx context.Context, entityType, property string, limit int) ([]string, error) {
	cypher := fmt.Sprintf(
		"MATCH (n:%s) WHERE n[$property] IS NOT NULL RETURN DISTINCT n[$property] AS value LIMIT $limit",
		escapeIdentifier(entityType))

	records, err := s.readRecords(ctx, "distinct property values", cypher,
		map[string]any{"property": property, "limit": limit})
	if err != nil {
		return nil, err
	}

	values := make([]string, 0, len(records))
	for _, record := range records {
		raw, ok := record.Get("value")
		if !ok || raw == nil {
			continue
		}
		if v := models.CoerceToString(raw); v != "" {
			values = append(values, v)
		}
	}
	return values, nil
}

// CountPairs implements Store.
func (s *Neo4jStore) CountPairs(ctx context.Context, pair models.TypePair, pattern models.PropertyPattern) (int, error) {
	predicate, err := patternPredicate(pattern)
	if err != nil {
		return 0, err
	}
	cypher := fmt.Sprintf("MATCH (a:%s), (b:%s) WHERE %s RETURN count(*) AS pairs",
		escapeIdentifier(pair.FromType), escapeIdentifier(pair.ToType), predicate)

	records, err := s.readRecords(ctx, "count pairs", cypher, map[string]any{
		"fromProp": pattern.FromProperty,
		"toProp":   pattern.ToProperty,
	})
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	count, _ := records[0].Get("pairs")
	return asInt(count), nil
}

// MatchingPairs implements Store.
func (s *Neo4jStore) MatchingPairs(ctx context.Context, pair models.TypePair, pattern models.PropertyPattern, afterFrom, afterTo string, limit int) ([]EntityPair, error) {
	predicate, err := patternPredicate(pattern)
	if err != nil {
		return nil, err
	}

	// Keyset pagination on (a.id, b.id). The empty-string cursor sorts before
	// every non-empty id, so the first page needs no special case.
	cypher := fmt.Sprintf(`MATCH (a:%s), (b:%s)
WHERE %s AND (a.id > $afterFrom OR (a.id = $afterFrom AND b.id > $afterTo))
RETURN a.id AS from_id, b.id AS to_id, a[$fromProp] AS from_value, b[$toProp] AS to_value
ORDER BY from_id, to_id
LIMIT $limit`,
		escapeIdentifier(pair.FromType), escapeIdentifier(pair.ToType), predicate)

	records, err := s.readRecords(ctx, "matching pairs", cypher, map[string]any{
		"fromProp":  pattern.FromProperty,
		"toProp":    pattern.ToProperty,
		"afterFrom": afterFrom,
		"afterTo":   afterTo,
		"limit":     limit,
	})
	if err != nil {
		return nil, err
	}

	pairs := make([]EntityPair, 0, len(records))
	for _, record := range records {
		fromID, _ := record.Get("from_id")
		toID, _ := record.Get("to_id")
		fromValue, _ := record.Get("from_value")
		toValue, _ := record.Get("to_value")

		fromIDStr, ok := fromID.(string)
		if !ok || fromIDStr == "" {
			continue
		}
		toIDStr, ok := toID.(string)
		if !ok || toIDStr == "" {
			continue
		}
		pairs = append(pairs, EntityPair{
			FromID:    fromIDStr,
			ToID:      toIDStr,
			FromValue: models.CoerceToString(fromValue),
			ToValue:   models.CoerceToString(toValue),
		})
	}
	return pairs, nil
}

// UpsertRelation implements Store. Creation is detected from the transaction
// summary counters; if either endpoint no longer exists the merge is a no-op
// and the method reports created=false.
func (s *Neo4jStore) UpsertRelation(ctx context.Context, rel models.Relation) (bool, error) {
	cypher := fmt.Sprintf(`MATCH (a {id: $fromId}), (b {id: $toId})
MERGE (a)-[r:%s]->(b)
ON CREATE SET
    r.id = $relId,
    r.confidence = $confidence,
    r.heuristic_score = $heuristicScore,
    r.llm_score = $llmScore,
    r.accepted_by = $acceptedBy,
    r.rationale = $rationale,
    r.created_at = $createdAt
ON MATCH SET r.confidence = $confidence`,
		escapeIdentifier(rel.Type))

	params := map[string]any{
		"fromId":         rel.FromEntityID,
		"toId":           rel.ToEntityID,
		"relId":          rel.ID,
		"confidence":     rel.Confidence,
		"heuristicScore": rel.Provenance.HeuristicScore,
		"llmScore":       rel.Provenance.LLMScore,
		"acceptedBy":     string(rel.Provenance.AcceptedBy),
		"rationale":      rel.Provenance.Rationale,
		"createdAt":      rel.CreatedAt,
	}

	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		summary, err := res.Consume(ctx)
		if err != nil {
			return nil, err
		}
		return summary.Counters().RelationshipsCreated() > 0, nil
	})
	if err != nil {
		return false, wrapDriverErr("upsert relation", err)
	}
	return result.(bool), nil
}

// RelationStats implements Store.
func (s *Neo4jStore) RelationStats(ctx context.Context, relationType string, pair models.TypePair) (RelationStats, error) {
	cypher := fmt.Sprintf(`MATCH (a:%s)-[r:%s]->(b:%s)
RETURN count(r) AS relations, count(DISTINCT a) AS distinct_from, count(DISTINCT b) AS distinct_to`,
		escapeIdentifier(pair.FromType), escapeIdentifier(relationType), escapeIdentifier(pair.ToType))

	records, err := s.readRecords(ctx, "relation stats", cypher, nil)
	if err != nil {
		return RelationStats{}, err
	}
	if len(records) == 0 {
		return RelationStats{}, nil
	}

	relations, _ := records[0].Get("relations")
	distinctFrom, _ := records[0].Get("distinct_from")
	distinctTo, _ := records[0].Get("distinct_to")
	return RelationStats{
		Relations:    asInt(relations),
		DistinctFrom: asInt(distinctFrom),
		DistinctTo:   asInt(distinctTo),
	}, nil
}

// ExpandNeighbors implements Store. HopDistance on the returned neighbors is
// left at zero; the caller tracks hop depth across successive expansions.
func (s *Neo4jStore) ExpandNeighbors(ctx context.Context, fromIDs []string, relationType string, limit int) ([]models.GraphNeighbor, error) {
	if len(fromIDs) == 0 {
		return nil, nil
	}

	cypher := fmt.Sprintf(`MATCH (s)-[r:%s]-(m)
WHERE s.id IN $ids AND NOT m.id IN $ids
RETURN DISTINCT m.id AS id, labels(m) AS labels, properties(m) AS props, s.id AS via, r.confidence AS confidence
LIMIT $limit`,
		escapeIdentifier(relationType))

	records, err := s.readRecords(ctx, "expand neighbors", cypher, map[string]any{
		"ids":   fromIDs,
		"limit": limit,
	})
	if err != nil {
		return nil, err
	}

	neighbors := make([]models.GraphNeighbor, 0, len(records))
	for _, record := range records {
		id, _ := record.Get("id")
		idStr, ok := id.(string)
		if !ok || idStr == "" {
			continue
		}
		labels, _ := record.Get("labels")
		props, _ := record.Get("props")
		propMap, _ := props.(map[string]any)
		via, _ := record.Get("via")
		confidence, _ := record.Get("confidence")

		neighbors = append(neighbors, models.GraphNeighbor{
			Entity:       entityFromProps(idStr, firstLabel(labels), propMap),
			RelationType: relationType,
			ViaEntityID:  asString(via),
			Confidence:   asFloat(confidence),
		})
	}
	return neighbors, nil
}

// Ping implements Store.
func (s *Neo4jStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := s.driver.VerifyConnectivity(ctx); err != nil {
		return apperrors.NewStoreUnavailable("graph", err)
	}
	return nil
}

// Close implements Store.
func (s *Neo4jStore) Close(ctx context.Context) error {
	s.logger.Info("closing graph store connection")
	return s.driver.Close(ctx)
}

func (s *Neo4jStore) session(ctx context.Context) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.cfg.Database})
}

// readRecords runs cypher in a read transaction and collects all records.
func (s *Neo4jStore) readRecords(ctx context.Context, op, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, wrapDriverErr(op, err)
	}
	return result.([]*neo4j.Record), nil
}

// wrapDriverErr tags transient driver failures as store-unavailable so
// callers back off and retry instead of failing outright.
func wrapDriverErr(op string, err error) error {
	if neo4j.IsRetryable(err) {
		return apperrors.NewStoreUnavailable("graph", fmt.Errorf("%s: %w", op, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}

// patternPredicate renders the Cypher WHERE condition for a pattern kind.
// Property names are bound as parameters ($fromProp / $toProp), never
// interpolated into the query text.
func patternPredicate(pattern models.PropertyPattern) (string, error) {
	const notNull = "a[$fromProp] IS NOT NULL AND b[$toProp] IS NOT NULL AND "
	switch pattern.Kind {
	case models.PatternExactMatch:
		return notNull + "a[$fromProp] = b[$toProp]", nil
	case models.PatternTypeCoercionMatch:
		return notNull + "toString(a[$fromProp]) = toString(b[$toProp])", nil
	case models.PatternSubstring:
		return notNull + "toString(b[$toProp]) CONTAINS toString(a[$fromProp])", nil
	default:
		return "", fmt.Errorf("unsupported pattern kind %q", pattern.Kind)
	}
}

// escapeIdentifier backtick-quotes a label or relationship type for
// interpolation. Cypher cannot bind labels or types as parameters.
func escapeIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "") + "`"
}

// entityFromProps builds an Entity from a node's property map. The id and
// source_ref node properties are reserved and lifted into their typed fields.
func entityFromProps(id, entityType string, props map[string]any) models.Entity {
	sourceRef, _ := props["source_ref"].(string)
	properties := make(map[string]any, len(props))
	for k, v := range props {
		if k == "id" || k == "source_ref" {
			continue
		}
		properties[k] = v
	}
	return models.Entity{ID: id, Type: entityType, Properties: properties, SourceRef: sourceRef}
}

// firstLabel extracts the entity type from a labels(n) value.
func firstLabel(v any) string {
	labels, ok := v.([]any)
	if !ok || len(labels) == 0 {
		return ""
	}
	label, _ := labels[0].(string)
	return label
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}

// Ensure Neo4jStore implements Store at compile time.
var _ Store = (*Neo4jStore)(nil)
