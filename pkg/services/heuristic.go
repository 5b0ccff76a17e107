package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ontograph/pkg/config"
	"github.com/ekaya-inc/ontograph/pkg/graph"
	"github.com/ekaya-inc/ontograph/pkg/models"
	"github.com/ekaya-inc/ontograph/pkg/repositories"
)

const (
	// minIdentifierDistinctRatio marks a target property as identifier-like
	// when almost all of its sampled values are distinct, even without an
	// id-ish name.
	minIdentifierDistinctRatio = 0.95

	// distinctValueLimit caps how many distinct target values are fetched per
	// identifier property. Pairs whose target cardinality exceeds this are
	// scored on a truncated set, which can only lower the overlap signal.
	distinctValueLimit = 5000

	// minSourceOccurrences is the minimum number of sampled entities that
	// must carry a source property before it is scored. Below this the
	// overlap signal is noise.
	minSourceOccurrences = 3
)

// identifierSuffixes mark reference-style property names. The suffix is
// stripped before the remainder is matched against the target type name.
var identifierSuffixes = []string{"_id", "_uuid", "_key", "_code", "_ref", "_name"}

// identifierNames are bare property names treated as identifiers on the
// target side regardless of their distinct ratio.
var identifierNames = map[string]bool{
	"id":   true,
	"uuid": true,
	"key":  true,
	"code": true,
	"name": true,
}

// CandidateGenerator scans one directed type pair for property-level evidence
// of a relationship and proposes scored candidates. Read-only on the graph.
type CandidateGenerator interface {
	GenerateCandidates(ctx context.Context, pair models.TypePair) ([]models.RelationshipCandidate, error)
}

type heuristicGenerator struct {
	graph      graph.Store
	schemaRepo repositories.OntologySchemaRepository
	cfg        *config.DiscoveryConfig
	logger     *zap.Logger
}

// NewCandidateGenerator creates the heuristic candidate generator.
func NewCandidateGenerator(
	graphStore graph.Store,
	schemaRepo repositories.OntologySchemaRepository,
	cfg *config.DiscoveryConfig,
	logger *zap.Logger,
) CandidateGenerator {
	return &heuristicGenerator{
		graph:      graphStore,
		schemaRepo: schemaRepo,
		cfg:        cfg,
		logger:     logger.Named("heuristic"),
	}
}

var _ CandidateGenerator = (*heuristicGenerator)(nil)

// GenerateCandidates samples both types, locates identifier-like properties
// on the target, and scores every (source property, target property)
// combination on value overlap, provenance co-occurrence, and naming
// convention. Combinations already covered by an accepted schema entry are
// skipped; combinations below the candidate floor are dropped.
func (g *heuristicGenerator) GenerateCandidates(ctx context.Context, pair models.TypePair) ([]models.RelationshipCandidate, error) {
	fromSamples, err := g.graph.SampleEntities(ctx, pair.FromType, g.cfg.SampleSize)
	if err != nil {
		return nil, fmt.Errorf("sample %s entities: %w", pair.FromType, err)
	}
	toSamples, err := g.graph.SampleEntities(ctx, pair.ToType, g.cfg.SampleSize)
	if err != nil {
		return nil, fmt.Errorf("sample %s entities: %w", pair.ToType, err)
	}
	if len(fromSamples) == 0 || len(toSamples) == 0 {
		g.logger.Debug("pair has an empty side, nothing to scan",
			zap.String("pair", pair.Key()),
			zap.Int("from_samples", len(fromSamples)),
			zap.Int("to_samples", len(toSamples)))
		return nil, nil
	}

	targetProps := identifierProperties(toSamples)
	if len(targetProps) == 0 {
		g.logger.Debug("target type has no identifier-like properties",
			zap.String("pair", pair.Key()))
		return nil, nil
	}

	// Provenance co-occurrence is a pair-level signal, shared by every
	// property combination.
	provenance := provenanceCooccurrence(fromSamples, toSamples)

	existing, err := g.schemaRepo.ListByPair(ctx, pair.FromType, pair.ToType)
	if err != nil {
		return nil, fmt.Errorf("list existing schema entries for %s: %w", pair.Key(), err)
	}

	sourceProps := sourcePropertyStats(fromSamples)

	candidates := make([]models.RelationshipCandidate, 0)
	for _, target := range targetProps {
		targetValues, err := g.graph.DistinctPropertyValues(ctx, pair.ToType, target.name, distinctValueLimit)
		if err != nil {
			return nil, fmt.Errorf("distinct values of %s.%s: %w", pair.ToType, target.name, err)
		}
		targetSet := make(map[string]struct{}, len(targetValues))
		for _, v := range targetValues {
			targetSet[v] = struct{}{}
		}
		if len(targetSet) == 0 {
			continue
		}

		for _, source := range sourceProps {
			if source.occurrences < minSourceOccurrences {
				continue
			}
			// A type referencing itself through the same property is an
			// identity, not a relationship.
			if pair.FromType == pair.ToType && source.name == target.name {
				continue
			}

			overlap := valueOverlap(source.distinctValues, targetSet)
			nameScore := nameMatchScore(source.name, pair.ToType)

			kind := models.PatternTypeCoercionMatch
			if source.allStrings && target.allStrings {
				kind = models.PatternExactMatch
			}

			signals := models.HeuristicSignals{
				ValueOverlap:           overlap,
				ProvenanceCooccurrence: provenance,
				NameMatch:              nameScore,
			}
			score := g.combineSignals(signals)
			if score < g.cfg.CandidateFloor {
				continue
			}

			candidate := models.RelationshipCandidate{
				FromType: pair.FromType,
				ToType:   pair.ToType,
				Pattern: models.PropertyPattern{
					Kind:         kind,
					FromProperty: source.name,
					ToProperty:   target.name,
				},
				HeuristicScore: score,
				Signals:        signals,
				SuggestedName:  suggestRelationName(source.name, pair.ToType),
			}
			if coveredByExisting(&candidate, existing) {
				continue
			}
			candidate.SamplePairs = g.collectSamplePairs(fromSamples, toSamples, candidate.Pattern)
			candidates = append(candidates, candidate)
		}
	}

	// Highest-evidence candidates first; signature breaks ties so reruns
	// enqueue evaluations in the same order.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].HeuristicScore != candidates[j].HeuristicScore {
			return candidates[i].HeuristicScore > candidates[j].HeuristicScore
		}
		return candidates[i].Signature() < candidates[j].Signature()
	})

	g.logger.Info("pair scan completed",
		zap.String("pair", pair.Key()),
		zap.Int("target_identifier_properties", len(targetProps)),
		zap.Int("candidates", len(candidates)))

	return candidates, nil
}

// combineSignals folds the per-signal scores into one heuristic score using
// the configured weights, clipped to [0,1].
func (g *heuristicGenerator) combineSignals(s models.HeuristicSignals) float64 {
	weightSum := g.cfg.WeightValueOverlap + g.cfg.WeightProvenance + g.cfg.WeightNaming
	if weightSum <= 0 {
		return clamp01(s.ValueOverlap)
	}
	score := (g.cfg.WeightValueOverlap*s.ValueOverlap +
		g.cfg.WeightProvenance*s.ProvenanceCooccurrence +
		g.cfg.WeightNaming*s.NameMatch) / weightSum
	return clamp01(score)
}

// collectSamplePairs picks up to MaxSamplePairs concrete entity pairs whose
// values match the pattern, as grounding context for the evaluator prompt.
func (g *heuristicGenerator) collectSamplePairs(fromSamples, toSamples []models.Entity, pattern models.PropertyPattern) []models.SamplePair {
	if g.cfg.MaxSamplePairs <= 0 {
		return nil
	}

	// First target entity per canonical value; later duplicates add nothing
	// to the evaluator's context.
	targetByValue := make(map[string]*models.Entity)
	for i := range toSamples {
		v, ok := toSamples[i].PropertyString(pattern.ToProperty)
		if !ok || v == "" {
			continue
		}
		if _, seen := targetByValue[v]; !seen {
			targetByValue[v] = &toSamples[i]
		}
	}

	pairs := make([]models.SamplePair, 0, g.cfg.MaxSamplePairs)
	for i := range fromSamples {
		if len(pairs) >= g.cfg.MaxSamplePairs {
			break
		}
		v, ok := fromSamples[i].PropertyString(pattern.FromProperty)
		if !ok || v == "" {
			continue
		}
		target, ok := targetByValue[v]
		if !ok {
			continue
		}
		toValue, _ := target.PropertyString(pattern.ToProperty)
		pairs = append(pairs, models.SamplePair{
			FromEntityID: fromSamples[i].ID,
			ToEntityID:   target.ID,
			FromValue:    v,
			ToValue:      toValue,
		})
	}
	return pairs
}

// propertyStats aggregates one property's sampled values on either side of a
// pair scan.
type propertyStats struct {
	name           string
	occurrences    int
	distinctValues map[string]struct{}
	allStrings     bool
}

// sourcePropertyStats collects per-property value statistics across the
// sampled source entities, ordered by property name for deterministic scans.
func sourcePropertyStats(samples []models.Entity) []propertyStats {
	byName := make(map[string]*propertyStats)
	for i := range samples {
		for name, raw := range samples[i].Properties {
			if raw == nil {
				continue
			}
			canonical := models.CoerceToString(raw)
			if canonical == "" {
				continue
			}
			stats, ok := byName[name]
			if !ok {
				stats = &propertyStats{
					name:           name,
					distinctValues: make(map[string]struct{}),
					allStrings:     true,
				}
				byName[name] = stats
			}
			stats.occurrences++
			stats.distinctValues[canonical] = struct{}{}
			if _, isString := raw.(string); !isString {
				stats.allStrings = false
			}
		}
	}

	ordered := make([]propertyStats, 0, len(byName))
	for _, stats := range byName {
		ordered = append(ordered, *stats)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].name < ordered[j].name })
	return ordered
}

// identifierProperties returns the target-side properties worth matching
// against: id-ish names, plus any property whose sampled values are almost
// all distinct.
func identifierProperties(samples []models.Entity) []propertyStats {
	all := sourcePropertyStats(samples)

	identifiers := make([]propertyStats, 0, len(all))
	for _, stats := range all {
		if isIdentifierName(stats.name) {
			identifiers = append(identifiers, stats)
			continue
		}
		if stats.occurrences >= minSourceOccurrences &&
			float64(len(stats.distinctValues))/float64(stats.occurrences) >= minIdentifierDistinctRatio {
			identifiers = append(identifiers, stats)
		}
	}
	return identifiers
}

// isIdentifierName reports whether a property name looks like an identifier.
func isIdentifierName(name string) bool {
	lower := strings.ToLower(name)
	if identifierNames[lower] {
		return true
	}
	for _, suffix := range identifierSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

// valueOverlap is the fraction of distinct source values present in the
// target value set.
func valueOverlap(sourceValues map[string]struct{}, targetSet map[string]struct{}) float64 {
	if len(sourceValues) == 0 {
		return 0
	}
	matches := 0
	for v := range sourceValues {
		if _, ok := targetSet[v]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(sourceValues))
}

// provenanceCooccurrence is the Jaccard similarity of the source_ref sets on
// the two samples. Zero when either side carries no provenance.
func provenanceCooccurrence(fromSamples, toSamples []models.Entity) float64 {
	fromRefs := sourceRefSet(fromSamples)
	toRefs := sourceRefSet(toSamples)
	if len(fromRefs) == 0 || len(toRefs) == 0 {
		return 0
	}

	intersection := 0
	for ref := range fromRefs {
		if _, ok := toRefs[ref]; ok {
			intersection++
		}
	}
	union := len(fromRefs) + len(toRefs) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func sourceRefSet(samples []models.Entity) map[string]struct{} {
	refs := make(map[string]struct{})
	for i := range samples {
		if samples[i].SourceRef != "" {
			refs[samples[i].SourceRef] = struct{}{}
		}
	}
	return refs
}

// nameMatchScore scores how strongly a source property name points at the
// target type: owner_team_name against Team scores high, status against Team
// scores zero. Singular/plural variants fold together.
func nameMatchScore(propertyName, targetType string) float64 {
	base := strings.ToLower(propertyName)
	for _, suffix := range identifierSuffixes {
		if strings.HasSuffix(base, suffix) {
			base = strings.TrimSuffix(base, suffix)
			break
		}
	}
	if base == "" {
		return 0
	}

	target := inflection.Singular(strings.ToLower(targetType))
	if inflection.Singular(base) == target {
		return 1.0
	}
	for _, token := range strings.Split(base, "_") {
		if token == "" {
			continue
		}
		if inflection.Singular(token) == target {
			return 0.8
		}
	}
	if strings.Contains(base, target) || strings.Contains(target, base) {
		return 0.4
	}
	return 0
}

// suggestRelationName derives a starter relation name from the source
// property tokens that do not repeat the target type. The evaluator usually
// proposes something better; this is the fallback.
func suggestRelationName(propertyName, targetType string) string {
	base := strings.ToLower(propertyName)
	for _, suffix := range identifierSuffixes {
		if strings.HasSuffix(base, suffix) {
			base = strings.TrimSuffix(base, suffix)
			break
		}
	}

	target := inflection.Singular(strings.ToLower(targetType))
	leftover := make([]string, 0)
	for _, token := range strings.Split(base, "_") {
		if token == "" || inflection.Singular(token) == target {
			continue
		}
		leftover = append(leftover, token)
	}
	if len(leftover) == 0 {
		return "references"
	}
	return strings.Join(leftover, "_")
}

// coveredByExisting reports whether an accepted schema entry already covers
// the candidate's exact pattern. Entries without a pattern (seeded manually)
// never suppress a scan result.
func coveredByExisting(candidate *models.RelationshipCandidate, existing []*models.OntologySchemaEntry) bool {
	for _, entry := range existing {
		if entry.Pattern == nil {
			continue
		}
		if entry.Pattern.Kind == candidate.Pattern.Kind &&
			entry.Pattern.FromProperty == candidate.Pattern.FromProperty &&
			entry.Pattern.ToProperty == candidate.Pattern.ToProperty {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
