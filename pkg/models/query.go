package models

// ============================================================================
// Source Kinds
// ============================================================================

// SourceKind identifies where a piece of retrieval context came from.
type SourceKind string

const (
	// SourceKindChunk is a document chunk indexed in the vector store.
	SourceKindChunk SourceKind = "chunk"
	// SourceKindNode is a graph entity (vector hit on a node embedding, or
	// reached by graph expansion).
	SourceKindNode SourceKind = "node"
)

// Vector store metadata keys shared with the external ingestion pipeline.
const (
	MetadataKeyKind   = "kind"
	MetadataKeyNodeID = "node_id"
	MetadataKeyTitle  = "title"
)

// ============================================================================
// Vector Hits
// ============================================================================

// VectorHit is one top-K similarity result from the vector store. Hits cover
// both document chunks and graph-node embeddings; node hits carry the graph
// entity id in their metadata.
type VectorHit struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"` // similarity, higher is better
	Content  string         `json:"content,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Kind returns the hit's source kind, defaulting to chunk when the metadata
// does not say otherwise.
func (h *VectorHit) Kind() SourceKind {
	if h.Metadata == nil {
		return SourceKindChunk
	}
	if kind, ok := h.Metadata[MetadataKeyKind].(string); ok && SourceKind(kind) == SourceKindNode {
		return SourceKindNode
	}
	return SourceKindChunk
}

// NodeID returns the graph entity id for node hits. For hits without an
// explicit node_id the hit's own id is used (ingestion keys node embeddings
// by entity id).
func (h *VectorHit) NodeID() (string, bool) {
	if h.Kind() != SourceKindNode {
		return "", false
	}
	if h.Metadata != nil {
		if nodeID, ok := h.Metadata[MetadataKeyNodeID].(string); ok && nodeID != "" {
			return nodeID, true
		}
	}
	return h.ID, h.ID != ""
}

// ============================================================================
// Graph Expansion
// ============================================================================

// GraphNeighbor is an entity reached by expanding the subgraph around
// vector-hit seed nodes, annotated with how it was reached.
type GraphNeighbor struct {
	Entity       Entity  `json:"entity"`
	RelationType string  `json:"relation_type"`
	ViaEntityID  string  `json:"via_entity_id"`
	HopDistance  int     `json:"hop_distance"` // 1 = direct neighbor of a seed
	Confidence   float64 `json:"confidence"`   // of the relation type traversed
}

// ============================================================================
// Context Assembly
// ============================================================================

// ContextFragment is one ranked piece of assembled context. Fragments are
// ordered by similarity, with hop distance breaking ties (closer wins).
type ContextFragment struct {
	SourceID      string     `json:"source_id"`
	Kind          SourceKind `json:"kind"`
	Content       string     `json:"content"`
	Similarity    float64    `json:"similarity"`
	HopDistance   int        `json:"hop_distance"` // 0 for vector hits
	TokenEstimate int        `json:"token_estimate"`
}

// Source is a citation attached to a synthesized answer.
type Source struct {
	ID          string     `json:"id"`
	Kind        SourceKind `json:"kind"`
	HopDistance int        `json:"hop_distance"`
}

// ============================================================================
// Query Context
// ============================================================================

// Degraded-answer reasons surfaced to callers.
const (
	DegradedReasonVectorUnavailable = "vector_store_unavailable"
	DegradedReasonGraphUnavailable  = "graph_store_unavailable"
	DegradedReasonBudgetExceeded    = "context_budget_exceeded"
	DegradedReasonPartialContext    = "timeout_partial_context"
)

// QueryContext carries one question through the retrieval pipeline: embedding,
// vector hits, graph expansion, assembled context, and the synthesized answer.
// It is transient; only the cache holds a serialized copy.
type QueryContext struct {
	Question       string    `json:"question"`
	QueryEmbedding []float32 `json:"-"`

	VectorHits []VectorHit     `json:"vector_hits,omitempty"`
	Subgraph   []GraphNeighbor `json:"subgraph,omitempty"`

	Fragments        []ContextFragment `json:"fragments,omitempty"`
	AssembledContext string            `json:"assembled_context,omitempty"`

	Answer  string   `json:"answer"`
	Sources []Source `json:"sources,omitempty"`

	Degraded        bool     `json:"degraded"`
	DegradedReasons []string `json:"degraded_reasons,omitempty"`
	Cached          bool     `json:"cached"`
	LatencyMS       int64    `json:"latency_ms"`
}

// MarkDegraded records a degradation reason once.
func (q *QueryContext) MarkDegraded(reason string) {
	q.Degraded = true
	for _, r := range q.DegradedReasons {
		if r == reason {
			return
		}
	}
	q.DegradedReasons = append(q.DegradedReasons, reason)
}

// HasContext returns true if any retrieval context was gathered.
func (q *QueryContext) HasContext() bool {
	return len(q.Fragments) > 0
}
