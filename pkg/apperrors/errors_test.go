package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreUnavailableError_MatchesSentinel(t *testing.T) {
	inner := errors.New("dial tcp: connection refused")
	err := NewStoreUnavailable("graph", inner)

	assert.True(t, errors.Is(err, ErrStoreUnavailable))
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "graph store unavailable")
}

func TestStoreUnavailableError_MatchesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("scan pair: %w", NewStoreUnavailable("vector", errors.New("timeout")))

	assert.True(t, errors.Is(err, ErrStoreUnavailable))

	var storeErr *StoreUnavailableError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "vector", storeErr.Store)
}

func TestStoreUnavailableError_IsRetryable(t *testing.T) {
	err := NewStoreUnavailable("graph", errors.New("connection reset by peer"))

	assert.True(t, err.IsRetryable())
}

func TestConflictError_NamesBlockingJob(t *testing.T) {
	jobID := uuid.New()
	err := &ConflictError{BlockingJobID: jobID, PairKey: "Service->Team"}

	assert.True(t, errors.Is(err, ErrConflict))
	assert.Contains(t, err.Error(), jobID.String())
	assert.Contains(t, err.Error(), "Service->Team")
}

func TestEvaluationError_DoesNotMatchOtherSentinels(t *testing.T) {
	err := &EvaluationError{CandidateSignature: "Service.owner_team_name->Team.name", Attempts: 3, Err: errors.New("malformed response")}

	assert.True(t, errors.Is(err, ErrEvaluationFailed))
	assert.False(t, errors.Is(err, ErrStoreUnavailable))
	assert.False(t, errors.Is(err, ErrConflict))
}

func TestBudgetExceededError(t *testing.T) {
	err := &BudgetExceededError{BudgetTokens: 4000, NeededTokens: 5200}

	assert.True(t, errors.Is(err, ErrBudgetExceeded))
	assert.Contains(t, err.Error(), "5200")
	assert.Contains(t, err.Error(), "4000")
}

func TestGenerationError_CarriesContext(t *testing.T) {
	err := &GenerationError{AssembledContext: "fragment one\nfragment two", Err: errors.New("upstream 500")}

	assert.True(t, errors.Is(err, ErrGenerationFailed))

	var genErr *GenerationError
	require.True(t, errors.As(fmt.Errorf("query: %w", err), &genErr))
	assert.Equal(t, "fragment one\nfragment two", genErr.AssembledContext)
}
