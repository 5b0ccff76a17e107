package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ontograph/pkg/apperrors"
	"github.com/ekaya-inc/ontograph/pkg/config"
	"github.com/ekaya-inc/ontograph/pkg/graph"
	"github.com/ekaya-inc/ontograph/pkg/llm"
	"github.com/ekaya-inc/ontograph/pkg/models"
	"github.com/ekaya-inc/ontograph/pkg/prompts"
	"github.com/ekaya-inc/ontograph/pkg/repositories"
	"github.com/ekaya-inc/ontograph/pkg/vector"
)

const (
	// answerTemperature keeps synthesis close to the retrieved context.
	answerTemperature = 0.2

	// approxCharsPerToken is the length heuristic behind token budgeting.
	// Budgets are soft limits, not tokenizer-exact.
	approxCharsPerToken = 4

	// keywordSeedScore stands in for vector similarity on seeds found by the
	// keyword fallback, which has no embedding to score against.
	keywordSeedScore = 0.5

	// maxKeywordTerms caps how many question terms the fallback searches.
	maxKeywordTerms = 5
)

// sourceMarkerPattern matches the [source:...] citations the synthesis prompt
// instructs the model to emit.
var sourceMarkerPattern = regexp.MustCompile(`\[source:([^\]\s]+)\]`)

// keywordStopwords are question words too common to seed a graph search.
var keywordStopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "from": {}, "into": {},
	"what": {}, "which": {}, "when": {}, "where": {}, "who": {}, "whom": {},
	"why": {}, "how": {}, "does": {}, "did": {}, "are": {}, "was": {},
	"were": {}, "has": {}, "have": {}, "had": {}, "can": {}, "could": {},
	"would": {}, "should": {}, "that": {}, "this": {}, "these": {},
	"those": {}, "there": {}, "their": {}, "its": {}, "our": {}, "your": {},
	"not": {}, "but": {}, "about": {}, "all": {}, "any": {}, "get": {},
	"gets": {}, "you": {},
}

// RetrievalService answers natural-language questions over the document
// chunks and the knowledge graph.
type RetrievalService interface {
	// Answer runs the hybrid retrieval pipeline: embed the question, take the
	// top-K vector hits, expand graph hits through the ontology's relation
	// types, assemble ranked context under the token budget, and synthesize a
	// cited answer. forceRefresh bypasses the result cache. Losing one store,
	// overflowing the budget, or timing out mid-generation degrades the
	// result instead of failing it; only an empty context or a generation
	// fault is an error.
	Answer(ctx context.Context, question string, forceRefresh bool) (*models.QueryContext, error)
}

type retrievalService struct {
	vectorStore vector.Store
	graphStore  graph.Store
	schemaRepo  repositories.OntologySchemaRepository
	llmClient   llm.LLMClient
	cache       CacheService
	cfg         *config.RetrievalConfig
	embedModel  string
	logger      *zap.Logger
}

// NewRetrievalService creates the query-answering service.
func NewRetrievalService(
	vectorStore vector.Store,
	graphStore graph.Store,
	schemaRepo repositories.OntologySchemaRepository,
	llmClient llm.LLMClient,
	cache CacheService,
	cfg *config.RetrievalConfig,
	aiCfg *config.AIConfig,
	logger *zap.Logger,
) RetrievalService {
	return &retrievalService{
		vectorStore: vectorStore,
		graphStore:  graphStore,
		schemaRepo:  schemaRepo,
		llmClient:   llmClient,
		cache:       cache,
		cfg:         cfg,
		embedModel:  aiCfg.EmbeddingModel,
		logger:      logger.Named("retrieval"),
	}
}

// graphSeed is a graph entity anchoring subgraph expansion, scored by the
// vector hit (or keyword match) that surfaced it. content overrides the
// rendered entity when hydration could not produce one.
type graphSeed struct {
	entity     models.Entity
	similarity float64
	content    string
}

func (s *retrievalService) Answer(ctx context.Context, question string, forceRefresh bool) (*models.QueryContext, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question must not be empty")
	}

	start := time.Now()
	key := QueryCacheKey(question, s.cfg.TopK, s.cfg.MaxHops, s.cfg.TokenBudget)
	if !forceRefresh {
		if cached, ok := s.cache.GetQuery(ctx, key); ok {
			cached.Cached = true
			cached.LatencyMS = time.Since(start).Milliseconds()
			return cached, nil
		}
	}

	qc := &models.QueryContext{Question: question}

	vectorOK := s.searchVector(ctx, qc)
	seeds, graphOK := s.resolveSeeds(ctx, qc, vectorOK)

	var inherited map[string]float64
	if graphOK {
		inherited = s.expandSubgraph(ctx, qc, seeds)
	}

	s.assembleContext(qc, seeds, inherited)
	if !qc.HasContext() {
		return nil, apperrors.ErrNoContext
	}

	if err := s.synthesizeAnswer(ctx, qc); err != nil {
		return nil, err
	}

	qc.LatencyMS = time.Since(start).Milliseconds()

	// Degraded results reflect a transient condition; caching them would
	// keep serving the gap after the store recovers.
	if !qc.Degraded {
		s.cache.SetQuery(ctx, key, qc)
	}

	s.logger.Info("query answered",
		zap.Int("vector_hits", len(qc.VectorHits)),
		zap.Int("subgraph_size", len(qc.Subgraph)),
		zap.Int("fragments", len(qc.Fragments)),
		zap.Bool("degraded", qc.Degraded),
		zap.Int64("latency_ms", qc.LatencyMS))
	return qc, nil
}

// searchVector embeds the question and runs the vector similarity stage. A
// failed embedding or search degrades the query to graph-only retrieval.
func (s *retrievalService) searchVector(ctx context.Context, qc *models.QueryContext) bool {
	embedding, err := s.llmClient.CreateEmbedding(ctx, qc.Question, s.embedModel)
	if err != nil {
		s.logger.Warn("question embedding failed, degrading to graph-only retrieval", zap.Error(err))
		qc.MarkDegraded(models.DegradedReasonVectorUnavailable)
		return false
	}
	qc.QueryEmbedding = embedding

	hits, err := s.vectorStore.Search(ctx, embedding, s.cfg.TopK)
	if err != nil {
		s.logger.Warn("vector search failed, degrading to graph-only retrieval", zap.Error(err))
		qc.MarkDegraded(models.DegradedReasonVectorUnavailable)
		return false
	}
	qc.VectorHits = hits
	return true
}

// resolveSeeds turns node-kind vector hits into hydrated graph entities that
// anchor subgraph expansion. When the vector stage is down it seeds from a
// keyword search over graph properties instead. The second return reports
// whether the graph store answered.
func (s *retrievalService) resolveSeeds(ctx context.Context, qc *models.QueryContext, vectorOK bool) ([]graphSeed, bool) {
	if !vectorOK {
		return s.keywordSeeds(ctx, qc)
	}

	var ids []string
	scores := map[string]float64{}
	contents := map[string]string{}
	for _, hit := range qc.VectorHits {
		if hit.Kind() != models.SourceKindNode {
			continue
		}
		id, ok := hit.NodeID()
		if !ok {
			continue
		}
		prev, seen := scores[id]
		if !seen {
			ids = append(ids, id)
		}
		if !seen || hit.Score > prev {
			scores[id] = hit.Score
			contents[id] = hit.Content
		}
	}
	if len(ids) == 0 {
		return nil, true
	}

	graphOK := true
	entities, err := s.graphStore.GetEntitiesByIDs(ctx, ids)
	if err != nil {
		s.logger.Warn("node hydration failed, using indexed hit content", zap.Error(err))
		qc.MarkDegraded(models.DegradedReasonGraphUnavailable)
		graphOK = false
	}

	byID := make(map[string]models.Entity, len(entities))
	for _, entity := range entities {
		byID[entity.ID] = entity
	}

	seeds := make([]graphSeed, 0, len(ids))
	for _, id := range ids {
		if entity, ok := byID[id]; ok {
			seeds = append(seeds, graphSeed{entity: entity, similarity: scores[id]})
			continue
		}
		// The graph no longer knows this id (or is down); the indexed
		// content still makes a usable fragment.
		if contents[id] != "" {
			seeds = append(seeds, graphSeed{
				entity:     models.Entity{ID: id},
				similarity: scores[id],
				content:    contents[id],
			})
		}
	}
	return seeds, graphOK
}

// keywordSeeds finds expansion anchors by searching graph properties for the
// question's salient terms. Only used when vector search is unavailable.
func (s *retrievalService) keywordSeeds(ctx context.Context, qc *models.QueryContext) ([]graphSeed, bool) {
	var seeds []graphSeed
	seen := map[string]bool{}
	for _, term := range keywordTerms(qc.Question) {
		entities, err := s.graphStore.SearchEntities(ctx, term, s.cfg.TopK)
		if err != nil {
			s.logger.Warn("keyword seed search failed", zap.String("term", term), zap.Error(err))
			qc.MarkDegraded(models.DegradedReasonGraphUnavailable)
			return seeds, false
		}
		for _, entity := range entities {
			if seen[entity.ID] {
				continue
			}
			seen[entity.ID] = true
			seeds = append(seeds, graphSeed{entity: entity, similarity: keywordSeedScore})
			if len(seeds) >= s.cfg.TopK {
				return seeds, true
			}
		}
	}
	return seeds, true
}

// expandSubgraph walks up to MaxHops hops out from the seeds, visiting
// relation types in descending ontology confidence and collecting at most
// NeighborLimit neighbors overall. Neighbors inherit the similarity of the
// entity they were reached through; hop distance is tracked here because the
// store only ever walks a single hop. Returns the inherited similarities
// keyed by entity id.
func (s *retrievalService) expandSubgraph(ctx context.Context, qc *models.QueryContext, seeds []graphSeed) map[string]float64 {
	if len(seeds) == 0 || s.cfg.MaxHops <= 0 || s.cfg.NeighborLimit <= 0 {
		return nil
	}

	relationTypes, err := s.schemaRepo.ListRelationTypesByConfidence(ctx)
	if err != nil {
		s.logger.Warn("ontology schema unavailable, skipping graph expansion", zap.Error(err))
		return nil
	}
	if len(relationTypes) == 0 {
		return nil
	}

	visited := make(map[string]bool, len(seeds))
	similarity := make(map[string]float64, len(seeds))
	frontier := make([]string, 0, len(seeds))
	for _, seed := range seeds {
		if visited[seed.entity.ID] {
			continue
		}
		visited[seed.entity.ID] = true
		similarity[seed.entity.ID] = seed.similarity
		frontier = append(frontier, seed.entity.ID)
	}

	remaining := s.cfg.NeighborLimit
	for hop := 1; hop <= s.cfg.MaxHops && len(frontier) > 0 && remaining > 0; hop++ {
		var next []string
		for _, relationType := range relationTypes {
			if remaining <= 0 {
				break
			}
			neighbors, err := s.graphStore.ExpandNeighbors(ctx, frontier, relationType, remaining)
			if err != nil {
				s.logger.Warn("graph expansion failed",
					zap.String("relation_type", relationType),
					zap.Int("hop", hop),
					zap.Error(err))
				qc.MarkDegraded(models.DegradedReasonGraphUnavailable)
				return similarity
			}
			for _, neighbor := range neighbors {
				if visited[neighbor.Entity.ID] {
					continue
				}
				visited[neighbor.Entity.ID] = true
				neighbor.HopDistance = hop
				similarity[neighbor.Entity.ID] = similarity[neighbor.ViaEntityID]
				qc.Subgraph = append(qc.Subgraph, neighbor)
				next = append(next, neighbor.Entity.ID)
				remaining--
				if remaining <= 0 {
					break
				}
			}
		}
		frontier = next
	}
	return similarity
}

// assembleContext builds, ranks, and budget-trims the context fragments.
func (s *retrievalService) assembleContext(qc *models.QueryContext, seeds []graphSeed, inherited map[string]float64) {
	var fragments []models.ContextFragment

	for _, hit := range qc.VectorHits {
		if hit.Kind() != models.SourceKindChunk {
			continue
		}
		fragments = append(fragments, models.ContextFragment{
			SourceID:   hit.ID,
			Kind:       models.SourceKindChunk,
			Content:    hit.Content,
			Similarity: hit.Score,
		})
	}

	for _, seed := range seeds {
		content := seed.content
		if content == "" {
			content = renderEntity(seed.entity)
		}
		fragments = append(fragments, models.ContextFragment{
			SourceID:   seed.entity.ID,
			Kind:       models.SourceKindNode,
			Content:    content,
			Similarity: seed.similarity,
		})
	}

	for _, neighbor := range qc.Subgraph {
		fragments = append(fragments, models.ContextFragment{
			SourceID:    neighbor.Entity.ID,
			Kind:        models.SourceKindNode,
			Content:     renderEntity(neighbor.Entity),
			Similarity:  inherited[neighbor.Entity.ID],
			HopDistance: neighbor.HopDistance,
		})
	}

	for i := range fragments {
		fragments[i].TokenEstimate = estimateTokens(fragments[i].Content)
	}

	// Similarity first, closer hops break ties, source id keeps the order
	// deterministic.
	sort.SliceStable(fragments, func(i, j int) bool {
		if fragments[i].Similarity != fragments[j].Similarity {
			return fragments[i].Similarity > fragments[j].Similarity
		}
		if fragments[i].HopDistance != fragments[j].HopDistance {
			return fragments[i].HopDistance < fragments[j].HopDistance
		}
		return fragments[i].SourceID < fragments[j].SourceID
	})

	var kept []models.ContextFragment
	used := 0
	truncated := false
	for _, fragment := range fragments {
		if used+fragment.TokenEstimate > s.cfg.TokenBudget {
			truncated = true
			break
		}
		kept = append(kept, fragment)
		used += fragment.TokenEstimate
	}

	if len(kept) == 0 && len(fragments) > 0 {
		// Even the top fragment is over budget. Hard-truncate it so the
		// question still gets an attempt.
		first := fragments[0]
		first.Content = truncateToBudget(first.Content, s.cfg.TokenBudget)
		first.TokenEstimate = estimateTokens(first.Content)
		kept = append(kept, first)
		truncated = true
	}
	if truncated {
		qc.MarkDegraded(models.DegradedReasonBudgetExceeded)
	}

	qc.Fragments = kept
	qc.AssembledContext = prompts.BuildContextBlock(fragmentContexts(kept))
}

// synthesizeAnswer generates the cited answer from the assembled fragments. A
// deadline expiring during generation returns the partial context rather than
// an error; any other generation failure surfaces as a GenerationError
// carrying the assembled context.
func (s *retrievalService) synthesizeAnswer(ctx context.Context, qc *models.QueryContext) error {
	prompt := prompts.BuildAnswerSynthesisPrompt(qc.Question, fragmentContexts(qc.Fragments))

	result, err := s.llmClient.GenerateResponse(ctx, prompt, prompts.BuildAnswerSynthesisSystemMessage(), answerTemperature, false)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("generation timed out, returning partial context", zap.Error(err))
			qc.MarkDegraded(models.DegradedReasonPartialContext)
			qc.Sources = fragmentSources(qc.Fragments)
			return nil
		}
		return &apperrors.GenerationError{AssembledContext: qc.AssembledContext, Err: err}
	}

	qc.Answer = result.Content
	qc.Sources = citedSources(qc.Answer, qc.Fragments)
	return nil
}

// citedSources maps the [source:...] markers in the answer back to the
// fragments they cite, in fragment rank order. An answer with no recognizable
// markers falls back to listing every fragment.
func citedSources(answer string, fragments []models.ContextFragment) []models.Source {
	cited := map[string]bool{}
	for _, match := range sourceMarkerPattern.FindAllStringSubmatch(answer, -1) {
		cited[match[1]] = true
	}
	if len(cited) == 0 {
		return fragmentSources(fragments)
	}

	var sources []models.Source
	seen := map[string]bool{}
	for _, fragment := range fragments {
		if !cited[fragment.SourceID] || seen[fragment.SourceID] {
			continue
		}
		seen[fragment.SourceID] = true
		sources = append(sources, models.Source{
			ID:          fragment.SourceID,
			Kind:        fragment.Kind,
			HopDistance: fragment.HopDistance,
		})
	}
	if len(sources) == 0 {
		// Markers pointed at nothing we assembled; keep the full list so the
		// caller can still trace the answer.
		return fragmentSources(fragments)
	}
	return sources
}

func fragmentSources(fragments []models.ContextFragment) []models.Source {
	sources := make([]models.Source, 0, len(fragments))
	seen := map[string]bool{}
	for _, fragment := range fragments {
		if seen[fragment.SourceID] {
			continue
		}
		seen[fragment.SourceID] = true
		sources = append(sources, models.Source{
			ID:          fragment.SourceID,
			Kind:        fragment.Kind,
			HopDistance: fragment.HopDistance,
		})
	}
	return sources
}

func fragmentContexts(fragments []models.ContextFragment) []prompts.FragmentContext {
	out := make([]prompts.FragmentContext, len(fragments))
	for i, fragment := range fragments {
		out[i] = prompts.FragmentContext{
			SourceID:    fragment.SourceID,
			Kind:        string(fragment.Kind),
			HopDistance: fragment.HopDistance,
			Content:     fragment.Content,
		}
	}
	return out
}

// keywordTerms extracts up to maxKeywordTerms searchable tokens from a
// question, dropping stopwords and words shorter than three characters.
func keywordTerms(question string) []string {
	fields := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	var terms []string
	seen := map[string]bool{}
	for _, field := range fields {
		if len(field) < 3 || seen[field] {
			continue
		}
		if _, stop := keywordStopwords[field]; stop {
			continue
		}
		seen[field] = true
		terms = append(terms, field)
		if len(terms) == maxKeywordTerms {
			break
		}
	}
	return terms
}

// renderEntity flattens a graph entity into one prompt-friendly line, with
// properties in stable key order.
func renderEntity(entity models.Entity) string {
	var b strings.Builder
	b.WriteString(entity.Type)
	b.WriteString(" ")
	b.WriteString(entity.ID)

	if len(entity.Properties) == 0 {
		return b.String()
	}

	keys := make([]string, 0, len(entity.Properties))
	for key := range entity.Properties {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	b.WriteString(":")
	for i, key := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, " %s=%v", key, entity.Properties[key])
	}
	return b.String()
}

// estimateTokens approximates token count from byte length.
func estimateTokens(content string) int {
	if content == "" {
		return 0
	}
	return (len(content) + approxCharsPerToken - 1) / approxCharsPerToken
}

// truncateToBudget cuts content to the budget's approximate character
// equivalent, backing up to a rune boundary.
func truncateToBudget(content string, budgetTokens int) string {
	maxChars := budgetTokens * approxCharsPerToken
	if maxChars <= 0 {
		return ""
	}
	if len(content) <= maxChars {
		return content
	}
	cut := maxChars
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut]
}
