package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ontograph/pkg/models"
	"github.com/ekaya-inc/ontograph/pkg/services"
)

// KnowledgeToolDeps contains dependencies for the knowledge query tool.
type KnowledgeToolDeps struct {
	Retrieval services.RetrievalService
	Logger    *zap.Logger
}

// RegisterKnowledgeTools registers the hybrid retrieval MCP tools.
func RegisterKnowledgeTools(s *server.MCPServer, deps *KnowledgeToolDeps) {
	registerKnowledgeQueryTool(s, deps)
}

// registerKnowledgeQueryTool adds the knowledge_query tool for answering
// natural-language questions over the knowledge graph.
func registerKnowledgeQueryTool(s *server.MCPServer, deps *KnowledgeToolDeps) {
	tool := mcp.NewTool(
		"knowledge_query",
		mcp.WithDescription(
			"Answer a natural-language question using hybrid retrieval over the knowledge graph: "+
				"vector similarity search seeds the relevant entities, graph expansion follows "+
				"accepted ontology relations outward from those seeds, and the combined context is "+
				"synthesized into an answer with source citations. The response flags degraded "+
				"answers (a store was unreachable or context was truncated) and whether it was "+
				"served from cache. "+
				"Example: question='Who owns the checkout service and what does it depend on?'",
		),
		mcp.WithString(
			"question",
			mcp.Required(),
			mcp.Description("The natural-language question to answer"),
		),
		mcp.WithBoolean(
			"force_refresh",
			mcp.Description("Optional - bypass the query cache and recompute the answer"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}

		question = trimString(question)
		if question == "" {
			return NewErrorResult("invalid_parameters", "parameter 'question' cannot be empty"), nil
		}

		forceRefresh, _ := getOptionalBool(req, "force_refresh")

		qc, err := deps.Retrieval.Answer(ctx, question, forceRefresh)
		if err != nil {
			return HandleServiceError(err, "knowledge_query_failed")
		}

		sources := qc.Sources
		if sources == nil {
			sources = []models.Source{}
		}

		result := knowledgeQueryResponse{
			Answer:          qc.Answer,
			Sources:         sources,
			Degraded:        qc.Degraded,
			DegradedReasons: qc.DegradedReasons,
			Cached:          qc.Cached,
			LatencyMS:       qc.LatencyMS,
		}

		jsonResult, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}

		return mcp.NewToolResultText(string(jsonResult)), nil
	})
}

// knowledgeQueryResponse is the response format for the knowledge_query tool.
type knowledgeQueryResponse struct {
	Answer          string          `json:"answer"`
	Sources         []models.Source `json:"sources"`
	Degraded        bool            `json:"degraded"`
	DegradedReasons []string        `json:"degraded_reasons,omitempty"`
	Cached          bool            `json:"cached"`
	LatencyMS       int64           `json:"latency_ms"`
}
