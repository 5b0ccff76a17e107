package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ontograph/pkg/models"
	"github.com/ekaya-inc/ontograph/pkg/prompts"
	"github.com/ekaya-inc/ontograph/pkg/services/workqueue"
)

// candidateEvaluationTask runs one candidate through the evaluator and hands
// the outcome to the job manager. Evaluation failures are an outcome, not a
// task error: the disposition callback records them and the job continues.
type candidateEvaluationTask struct {
	workqueue.BaseTask
	evaluator  CandidateEvaluator
	candidate  models.RelationshipCandidate
	vocabulary []prompts.VocabularyEntry
	onResult   func(candidate models.RelationshipCandidate, result *models.EvaluationResult, evalErr error)
	logger     *zap.Logger
}

func newCandidateEvaluationTask(
	evaluator CandidateEvaluator,
	candidate models.RelationshipCandidate,
	vocabulary []prompts.VocabularyEntry,
	onResult func(candidate models.RelationshipCandidate, result *models.EvaluationResult, evalErr error),
	logger *zap.Logger,
) *candidateEvaluationTask {
	return &candidateEvaluationTask{
		BaseTask:   workqueue.NewBaseTask(fmt.Sprintf("Evaluate candidate %s", candidate.Signature()), true),
		evaluator:  evaluator,
		candidate:  candidate,
		vocabulary: vocabulary,
		onResult:   onResult,
		logger:     logger,
	}
}

// Execute implements workqueue.Task.
func (t *candidateEvaluationTask) Execute(ctx context.Context, _ workqueue.TaskEnqueuer) error {
	// A cancelled job must not record dispositions for unevaluated
	// candidates.
	if ctx.Err() != nil {
		return ctx.Err()
	}

	result, err := t.evaluator.Evaluate(ctx, &t.candidate, t.vocabulary)
	if err != nil {
		t.logger.Warn("candidate evaluation failed",
			zap.String("candidate", t.candidate.Signature()),
			zap.Error(err))
	}

	t.onResult(t.candidate, result, err)
	return nil
}
