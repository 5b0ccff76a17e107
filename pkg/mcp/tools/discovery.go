// Package tools provides MCP tool implementations for ontograph.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ontograph/pkg/models"
	"github.com/ekaya-inc/ontograph/pkg/services"
)

// DiscoveryToolDeps contains dependencies for ontology discovery tools.
type DiscoveryToolDeps struct {
	Manager services.DiscoveryJobManager
	Logger  *zap.Logger
}

// RegisterDiscoveryTools registers the ontology discovery MCP tools.
func RegisterDiscoveryTools(s *server.MCPServer, deps *DiscoveryToolDeps) {
	registerOntologyDiscoverTool(s, deps)
	registerOntologyJobStatusTool(s, deps)
}

// registerOntologyDiscoverTool adds the ontology_discover tool for starting
// discovery jobs.
func registerOntologyDiscoverTool(s *server.MCPServer, deps *DiscoveryToolDeps) {
	tool := mcp.NewTool(
		"ontology_discover",
		mcp.WithDescription(
			"Start an asynchronous ontology discovery job that scans entity-type pairs in the "+
				"knowledge graph for latent relationships, scores candidates with property-overlap "+
				"heuristics, and sends promising ones to LLM evaluation. "+
				"Scope is either all=true (every ordered type pair in the graph) or an explicit "+
				"pairs list - never both. Pairs are directional: 'Service->Team' and 'Team->Service' "+
				"are scanned separately. Returns the job ID immediately; poll ontology_job_status "+
				"for progress. Starting a scope that overlaps a running job's pairs fails with a "+
				"conflict naming the blocking job.",
		),
		mcp.WithString(
			"pairs",
			mcp.Description("Comma-separated directed type pairs to scan, each formatted as 'FromType->ToType' (e.g. 'Service->Team,Service->Repo'). Mutually exclusive with all."),
		),
		mcp.WithBoolean(
			"all",
			mcp.Description("Scan every ordered pair of entity types present in the graph. Mutually exclusive with pairs."),
		),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		all, _ := getOptionalBool(req, "all")
		pairsRaw := trimString(getOptionalString(req, "pairs"))

		scope := models.DiscoveryScope{All: all}
		if pairsRaw != "" {
			pairs, errResult := parseTypePairs(pairsRaw)
			if errResult != nil {
				return errResult, nil
			}
			scope.Pairs = pairs
		}

		job, err := deps.Manager.Start(ctx, scope)
		if err != nil {
			return HandleServiceError(err, "ontology_discover_failed")
		}

		result := startDiscoveryResponse{
			JobID:  job.ID.String(),
			Status: string(job.Status),
			Scope:  job.Scope.Fingerprint(),
		}

		jsonResult, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}

		return mcp.NewToolResultText(string(jsonResult)), nil
	})
}

// registerOntologyJobStatusTool adds the ontology_job_status tool for polling
// discovery job progress.
func registerOntologyJobStatusTool(s *server.MCPServer, deps *DiscoveryToolDeps) {
	tool := mcp.NewTool(
		"ontology_job_status",
		mcp.WithDescription(
			"Fetch the current status of an ontology discovery job: lifecycle state "+
				"(pending/scanning/evaluating/applying/completed/cancelled/failed), per-candidate "+
				"progress counters, accepted/rejected totals, and the number of relation instances "+
				"created so far. Poll this after ontology_discover until the status is terminal.",
		),
		mcp.WithString(
			"job_id",
			mcp.Required(),
			mcp.Description("UUID of the discovery job returned by ontology_discover"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobIDStr, err := req.RequireString("job_id")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}

		jobIDStr = trimString(jobIDStr)
		jobID, err := uuid.Parse(jobIDStr)
		if err != nil {
			return NewErrorResult(
				"invalid_parameters",
				fmt.Sprintf("invalid job_id format: %q is not a valid UUID", jobIDStr),
			), nil
		}

		job, err := deps.Manager.Get(ctx, jobID)
		if err != nil {
			return HandleServiceError(err, "ontology_job_status_failed")
		}

		result := jobStatusResponse{
			JobID:            job.ID.String(),
			Status:           string(job.Status),
			Phase:            string(job.Progress.Phase),
			ProcessedCount:   job.Progress.ProcessedCount,
			TotalCount:       job.Progress.TotalCount,
			Message:          job.Progress.Message,
			AcceptedCount:    len(job.Accepted),
			RejectedCount:    len(job.Rejected),
			RelationsCreated: job.RelationsCreated,
			CancelRequested:  job.CancelRequested,
			StartedAt:        job.StartedAt,
			FinishedAt:       job.FinishedAt,
		}
		if job.Error != nil {
			result.Error = *job.Error
		}

		jsonResult, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}

		return mcp.NewToolResultText(string(jsonResult)), nil
	})
}

// parseTypePairs parses a comma-separated list of 'FromType->ToType' pairs.
// Returns an error result describing the first malformed pair.
func parseTypePairs(raw string) ([]models.TypePair, *mcp.CallToolResult) {
	parts := strings.Split(raw, ",")
	pairs := make([]models.TypePair, 0, len(parts))
	for _, part := range parts {
		part = trimString(part)
		if part == "" {
			continue
		}
		fromTo := strings.Split(part, "->")
		if len(fromTo) != 2 || trimString(fromTo[0]) == "" || trimString(fromTo[1]) == "" {
			return nil, NewErrorResultWithDetails(
				"invalid_parameters",
				"malformed type pair",
				map[string]any{
					"expected": "FromType->ToType",
					"actual":   part,
				},
			)
		}
		pairs = append(pairs, models.TypePair{
			FromType: trimString(fromTo[0]),
			ToType:   trimString(fromTo[1]),
		})
	}
	return pairs, nil
}

// startDiscoveryResponse is the response format for the ontology_discover tool.
type startDiscoveryResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Scope  string `json:"scope"`
}

// jobStatusResponse is the response format for the ontology_job_status tool.
type jobStatusResponse struct {
	JobID            string     `json:"job_id"`
	Status           string     `json:"status"`
	Phase            string     `json:"phase"`
	ProcessedCount   int        `json:"processed_count"`
	TotalCount       int        `json:"total_count"`
	Message          string     `json:"message,omitempty"`
	AcceptedCount    int        `json:"accepted_count"`
	RejectedCount    int        `json:"rejected_count"`
	RelationsCreated int        `json:"relations_created"`
	CancelRequested  bool       `json:"cancel_requested"`
	Error            string     `json:"error,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
}
