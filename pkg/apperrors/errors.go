package apperrors

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrInvalidScope     = errors.New("invalid discovery scope")
	ErrJobNotTerminal   = errors.New("job is not in a terminal state")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrEvaluationFailed = errors.New("candidate evaluation failed")
	ErrBudgetExceeded   = errors.New("context token budget exceeded")
	ErrNoContext        = errors.New("no context could be assembled")
	ErrGenerationFailed = errors.New("answer generation failed")
)

// StoreUnavailableError indicates an external store could not be reached.
// Callers treat it as retryable with backoff.
type StoreUnavailableError struct {
	Store string // "graph", "vector", "cache", "database"
	Err   error
}

// NewStoreUnavailable wraps err as a StoreUnavailableError for the named store.
func NewStoreUnavailable(store string, err error) *StoreUnavailableError {
	return &StoreUnavailableError{Store: store, Err: err}
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("%s store unavailable: %v", e.Store, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrStoreUnavailable) match regardless of which store failed.
func (e *StoreUnavailableError) Is(target error) bool { return target == ErrStoreUnavailable }

// IsRetryable marks store outages as transient for retry classification.
func (e *StoreUnavailableError) IsRetryable() bool { return true }

// ConflictError reports that a requested discovery scope overlaps a pair
// already locked by an active job. Returned immediately to the caller.
type ConflictError struct {
	BlockingJobID uuid.UUID
	PairKey       string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("entity-type pair %q is locked by active discovery job %s", e.PairKey, e.BlockingJobID)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// EvaluationError marks a single candidate whose evaluation could not
// complete after retries. It is candidate-scoped and never fails the job.
type EvaluationError struct {
	CandidateSignature string
	Attempts           int
	Err                error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluation of candidate %q failed after %d attempts: %v", e.CandidateSignature, e.Attempts, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

func (e *EvaluationError) Is(target error) bool { return target == ErrEvaluationFailed }

// BudgetExceededError indicates context assembly overflowed the token budget.
// The answer is still attempted with the truncated context and the response
// is flagged degraded.
type BudgetExceededError struct {
	BudgetTokens int
	NeededTokens int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("assembled context needs %d tokens, budget is %d", e.NeededTokens, e.BudgetTokens)
}

func (e *BudgetExceededError) Is(target error) bool { return target == ErrBudgetExceeded }

// GenerationError carries the assembled context so a caller can inspect it
// and retry manually. Generation is not retried automatically.
type GenerationError struct {
	AssembledContext string
	Err              error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("answer generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func (e *GenerationError) Is(target error) bool { return target == ErrGenerationFailed }
