package tools

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/ontograph/pkg/apperrors"
)

// ErrorResponse represents a structured error in tool results.
// This is used to return actionable error information to the calling
// agent as a tool result, ensuring error details are visible rather
// than being swallowed by the MCP client.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
// Use this for recoverable/actionable errors the agent can fix and retry
// (e.g., invalid parameters, unknown job ID).
//
// Do NOT use this for system failures (store connection errors, internal
// errors) - those should still return Go errors.
//
// Example:
//
//	if job == nil {
//	    return NewErrorResult("job_not_found", "no discovery job with that ID"), nil
//	}
func NewErrorResult(code, message string) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// NewErrorResultWithDetails creates an error result with additional context.
// The details field can carry anything that helps the agent correct the call.
//
// Example:
//
//	return NewErrorResultWithDetails(
//	    "invalid_parameters",
//	    "malformed type pair",
//	    map[string]any{
//	        "expected": "FromType->ToType",
//	        "actual":   raw,
//	    },
//	), nil
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// HandleServiceError converts a service-layer error into either a structured
// tool result (for errors the agent can act on) or a Go error (for system
// failures, which the MCP layer reports as protocol errors). fallbackCode
// names the failed operation and prefixes the protocol error message.
func HandleServiceError(err error, fallbackCode string) (*mcp.CallToolResult, error) {
	switch {
	case errors.Is(err, apperrors.ErrInvalidScope):
		return NewErrorResult("invalid_scope", err.Error()), nil
	case errors.Is(err, apperrors.ErrJobNotTerminal):
		return NewErrorResult("job_not_terminal", err.Error()), nil
	case errors.Is(err, apperrors.ErrConflict):
		return NewErrorResult("conflict", err.Error()), nil
	case errors.Is(err, apperrors.ErrNotFound):
		return NewErrorResult("not_found", err.Error()), nil
	case errors.Is(err, apperrors.ErrNoContext):
		return NewErrorResult("no_context", err.Error()), nil
	default:
		return nil, fmt.Errorf("%s: %w", fallbackCode, err)
	}
}
