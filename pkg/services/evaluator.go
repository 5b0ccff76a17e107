package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ontograph/pkg/apperrors"
	"github.com/ekaya-inc/ontograph/pkg/llm"
	"github.com/ekaya-inc/ontograph/pkg/models"
	"github.com/ekaya-inc/ontograph/pkg/prompts"
	"github.com/ekaya-inc/ontograph/pkg/retry"
)

// combinedScoreHeuristicWeight and combinedScoreLLMWeight set how a
// candidate's heuristic evidence and the evaluator's judgment fold into the
// score checked against the accept/reject thresholds.
const (
	combinedScoreHeuristicWeight = 0.4
	combinedScoreLLMWeight       = 0.6

	evaluationTemperature = 0.2
)

// combinedScore folds a candidate's heuristic score and its LLM score into
// the final confidence.
func combinedScore(heuristic, llmScore float64) float64 {
	return clamp01(combinedScoreHeuristicWeight*heuristic + combinedScoreLLMWeight*llmScore)
}

// normalizeRelationName canonicalizes a relation type name: lowercase with
// underscores, stripped of anything outside [a-z0-9_].
func normalizeRelationName(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	lower = strings.ReplaceAll(lower, " ", "_")
	lower = strings.ReplaceAll(lower, "-", "_")

	var b strings.Builder
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "_")
}

// CandidateEvaluator judges one relationship candidate with the LLM and
// returns a score, rationale, and relation name proposal.
type CandidateEvaluator interface {
	Evaluate(ctx context.Context, candidate *models.RelationshipCandidate, vocabulary []prompts.VocabularyEntry) (*models.EvaluationResult, error)
}

type candidateEvaluator struct {
	llmClient      llm.LLMClient
	circuitBreaker *llm.CircuitBreaker
	retries        int
	logger         *zap.Logger
}

// NewCandidateEvaluator creates the LLM-backed candidate evaluator. retries
// bounds how often one candidate's evaluation is reattempted on timeouts or
// malformed responses before it is reported failed.
func NewCandidateEvaluator(
	llmClient llm.LLMClient,
	circuitBreaker *llm.CircuitBreaker,
	retries int,
	logger *zap.Logger,
) CandidateEvaluator {
	return &candidateEvaluator{
		llmClient:      llmClient,
		circuitBreaker: circuitBreaker,
		retries:        retries,
		logger:         logger.Named("evaluator"),
	}
}

var _ CandidateEvaluator = (*candidateEvaluator)(nil)

// evaluationResponse is the JSON document the evaluator prompt requests.
type evaluationResponse struct {
	Score        float64 `json:"score"`
	Rationale    string  `json:"rationale"`
	ProposedName string  `json:"proposed_name"`
}

// Evaluate runs one candidate through the LLM. Timeouts and malformed
// responses are retried with backoff; exhaustion returns an EvaluationError
// so the job can mark the candidate evaluation_failed and continue.
func (e *candidateEvaluator) Evaluate(ctx context.Context, candidate *models.RelationshipCandidate, vocabulary []prompts.VocabularyEntry) (*models.EvaluationResult, error) {
	signature := candidate.Signature()

	allowed, breakerErr := e.circuitBreaker.Allow()
	if !allowed {
		e.logger.Error("circuit breaker prevented evaluation",
			zap.String("candidate", signature),
			zap.String("circuit_state", e.circuitBreaker.State().String()),
			zap.Error(breakerErr))
		return nil, &apperrors.EvaluationError{
			CandidateSignature: signature,
			Attempts:           0,
			Err:                fmt.Errorf("circuit breaker open: %w", breakerErr),
		}
	}

	systemMsg := prompts.BuildCandidateEvaluationSystemMessage()
	prompt := prompts.BuildCandidateEvaluationPrompt(candidateContext(candidate), vocabulary)

	retryConfig := &retry.Config{
		MaxRetries:   e.retries,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}

	var parsed evaluationResponse
	attempts := 0
	err := retry.DoIfRetryable(ctx, retryConfig, func() error {
		attempts++
		result, callErr := e.llmClient.GenerateResponse(ctx, prompt, systemMsg, evaluationTemperature, false)
		if callErr != nil {
			classified := llm.ClassifyError(callErr)
			if classified.Retryable {
				e.logger.Warn("evaluation call failed, retrying",
					zap.String("candidate", signature),
					zap.String("error_type", string(classified.Type)),
					zap.Error(callErr))
			} else {
				e.logger.Error("evaluation call failed with non-retryable error",
					zap.String("candidate", signature),
					zap.String("error_type", string(classified.Type)),
					zap.Error(callErr))
			}
			return classified
		}

		var parseErr error
		parsed, parseErr = llm.ParseJSONResponse[evaluationResponse](result.Content)
		if parseErr != nil {
			e.logger.Warn("evaluation response malformed, retrying",
				zap.String("candidate", signature),
				zap.String("response_preview", truncateForLog(result.Content, 200)),
				zap.Error(parseErr))
			// A reworded retry usually yields valid JSON, so malformed
			// output counts as a retryable failure.
			return llm.NewError(llm.ErrorTypeUnknown, "malformed evaluation response", true, parseErr)
		}
		return nil
	})

	if err != nil {
		e.circuitBreaker.RecordFailure()
		return nil, &apperrors.EvaluationError{
			CandidateSignature: signature,
			Attempts:           attempts,
			Err:                err,
		}
	}

	e.circuitBreaker.RecordSuccess()

	result := &models.EvaluationResult{
		LLMScore:     clamp01(parsed.Score),
		Rationale:    strings.TrimSpace(parsed.Rationale),
		ProposedName: normalizeRelationName(parsed.ProposedName),
	}
	if result.ProposedName == "" {
		result.ProposedName = normalizeRelationName(candidate.SuggestedName)
	}

	e.logger.Debug("candidate evaluated",
		zap.String("candidate", signature),
		zap.Float64("llm_score", result.LLMScore),
		zap.String("proposed_name", result.ProposedName))

	return result, nil
}

// candidateContext maps a candidate onto the prompt-building view.
func candidateContext(c *models.RelationshipCandidate) prompts.CandidateContext {
	samples := make([]prompts.SamplePairContext, len(c.SamplePairs))
	for i, p := range c.SamplePairs {
		samples[i] = prompts.SamplePairContext{
			FromEntityID: p.FromEntityID,
			FromValue:    p.FromValue,
			ToEntityID:   p.ToEntityID,
			ToValue:      p.ToValue,
		}
	}
	return prompts.CandidateContext{
		FromType:               c.FromType,
		ToType:                 c.ToType,
		PatternKind:            string(c.Pattern.Kind),
		FromProperty:           c.Pattern.FromProperty,
		ToProperty:             c.Pattern.ToProperty,
		HeuristicScore:         c.HeuristicScore,
		ValueOverlap:           c.Signals.ValueOverlap,
		ProvenanceCooccurrence: c.Signals.ProvenanceCooccurrence,
		NameMatch:              c.Signals.NameMatch,
		SuggestedName:          c.SuggestedName,
		SamplePairs:            samples,
	}
}

func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
