package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ontograph/pkg/apperrors"
)

// ApiResponse wraps data in the envelope returned by every endpoint.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// PaginatedResponse wraps list results with metadata.
type PaginatedResponse struct {
	Items any `json:"items"`
	Total int `json:"total"`
	Limit int `json:"limit"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// WriteServiceError maps a service-layer error onto the HTTP status for its
// place in the error taxonomy and writes the error response. Errors that
// don't match a known sentinel are logged and reported as internal.
func WriteServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var writeErr error
	switch {
	case errors.Is(err, apperrors.ErrInvalidScope):
		writeErr = ErrorResponse(w, http.StatusBadRequest, "invalid_scope", err.Error())
	case errors.Is(err, apperrors.ErrJobNotTerminal):
		writeErr = ErrorResponse(w, http.StatusConflict, "job_not_terminal", err.Error())
	case errors.Is(err, apperrors.ErrConflict):
		writeErr = ErrorResponse(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, apperrors.ErrNotFound):
		writeErr = ErrorResponse(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, apperrors.ErrNoContext):
		writeErr = ErrorResponse(w, http.StatusNotFound, "no_context", err.Error())
	case errors.Is(err, apperrors.ErrGenerationFailed):
		writeErr = ErrorResponse(w, http.StatusBadGateway, "generation_failed", err.Error())
	case errors.Is(err, apperrors.ErrStoreUnavailable):
		writeErr = ErrorResponse(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
	default:
		logger.Error("Request failed", zap.Error(err))
		writeErr = ErrorResponse(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
	if writeErr != nil {
		logger.Error("Failed to write error response", zap.Error(writeErr))
	}
}
