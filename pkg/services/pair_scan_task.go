package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ontograph/pkg/models"
	"github.com/ekaya-inc/ontograph/pkg/services/workqueue"
)

// pairScanTask runs the heuristic generator for one type pair. Candidates
// are handed to the job manager through the callback; the task itself holds
// no job state.
type pairScanTask struct {
	workqueue.BaseTask
	generator    CandidateGenerator
	pair         models.TypePair
	onCandidates func(pair models.TypePair, candidates []models.RelationshipCandidate)
	logger       *zap.Logger
}

func newPairScanTask(
	generator CandidateGenerator,
	pair models.TypePair,
	onCandidates func(pair models.TypePair, candidates []models.RelationshipCandidate),
	logger *zap.Logger,
) *pairScanTask {
	return &pairScanTask{
		BaseTask:     workqueue.NewBaseTask(fmt.Sprintf("Scan pair %s", pair.Key()), false),
		generator:    generator,
		pair:         pair,
		onCandidates: onCandidates,
		logger:       logger,
	}
}

// Execute implements workqueue.Task. Store errors propagate so the queue's
// retry policy applies; an empty scan is a normal result.
func (t *pairScanTask) Execute(ctx context.Context, _ workqueue.TaskEnqueuer) error {
	candidates, err := t.generator.GenerateCandidates(ctx, t.pair)
	if err != nil {
		return fmt.Errorf("scan pair %s: %w", t.pair.Key(), err)
	}

	t.logger.Debug("pair scan produced candidates",
		zap.String("pair", t.pair.Key()),
		zap.Int("count", len(candidates)))

	t.onCandidates(t.pair, candidates)
	return nil
}
