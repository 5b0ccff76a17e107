package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ontograph/pkg/apperrors"
	"github.com/ekaya-inc/ontograph/pkg/config"
	"github.com/ekaya-inc/ontograph/pkg/graph"
	"github.com/ekaya-inc/ontograph/pkg/models"
	"github.com/ekaya-inc/ontograph/pkg/prompts"
	"github.com/ekaya-inc/ontograph/pkg/repositories"
	"github.com/ekaya-inc/ontograph/pkg/services/workqueue"
)

const (
	// cancelPollInterval is how often a running job checks the durable
	// cancel flag. The in-process cancel path reacts immediately; polling
	// catches requests written while this process was not watching.
	cancelPollInterval = 2 * time.Second

	// maxVocabularyEntries bounds how much of the accepted schema is quoted
	// into each evaluation prompt.
	maxVocabularyEntries = 40
)

// DiscoveryJobManager owns the discovery job lifecycle: it validates scopes,
// holds the pair locks, drives jobs through scanning, evaluating, and
// applying, and answers status queries. One manager instance owns the scope
// registry, so overlap checks never depend on ambient globals.
type DiscoveryJobManager interface {
	// Start validates the scope, locks its pairs, and launches the job in
	// the background. It returns the pending job immediately.
	Start(ctx context.Context, scope models.DiscoveryScope) (*models.DiscoveryJob, error)

	// Get returns the job's current state, served from the progress mirror
	// when available.
	Get(ctx context.Context, id uuid.UUID) (*models.DiscoveryJob, error)

	List(ctx context.Context, limit int) ([]*models.DiscoveryJob, error)

	// Cancel requests cancellation and returns the job's state after the
	// request. Cancelling a terminal job is a no-op, not an error.
	Cancel(ctx context.Context, id uuid.UUID) (*models.DiscoveryJob, error)

	// Purge deletes a terminal job's record. Non-terminal jobs return
	// ErrJobNotTerminal.
	Purge(ctx context.Context, id uuid.UUID) error

	// RecoverInterrupted marks jobs left non-terminal by a previous process
	// as failed. Called once at startup before accepting work.
	RecoverInterrupted(ctx context.Context) (int, error)

	// Shutdown cancels active jobs and waits for them to settle or for the
	// context to expire.
	Shutdown(ctx context.Context) error
}

type discoveryJobManager struct {
	jobRepo    repositories.DiscoveryJobRepository
	schemaRepo repositories.OntologySchemaRepository
	reviewRepo repositories.ReviewCandidateRepository
	graph      graph.Store
	generator  CandidateGenerator
	evaluator  CandidateEvaluator
	applier    OntologyApplier
	cache      CacheService
	cfg        *config.DiscoveryConfig
	logger     *zap.Logger

	scopes *scopeRegistry

	// active maps jobID -> *activeJob for cancellation support.
	active sync.Map
	wg     sync.WaitGroup

	cancelPoll time.Duration
	queueRetry workqueue.RetryConfig
}

type activeJob struct {
	queue  *workqueue.Queue
	cancel context.CancelFunc
}

// NewDiscoveryJobManager creates the job manager.
func NewDiscoveryJobManager(
	jobRepo repositories.DiscoveryJobRepository,
	schemaRepo repositories.OntologySchemaRepository,
	reviewRepo repositories.ReviewCandidateRepository,
	graphStore graph.Store,
	generator CandidateGenerator,
	evaluator CandidateEvaluator,
	applier OntologyApplier,
	cache CacheService,
	cfg *config.DiscoveryConfig,
	logger *zap.Logger,
) DiscoveryJobManager {
	return &discoveryJobManager{
		jobRepo:    jobRepo,
		schemaRepo: schemaRepo,
		reviewRepo: reviewRepo,
		graph:      graphStore,
		generator:  generator,
		evaluator:  evaluator,
		applier:    applier,
		cache:      cache,
		cfg:        cfg,
		logger:     logger.Named("discovery"),
		scopes:     newScopeRegistry(),
		cancelPoll: cancelPollInterval,
		queueRetry: workqueue.DefaultRetryConfig(),
	}
}

var _ DiscoveryJobManager = (*discoveryJobManager)(nil)

func (m *discoveryJobManager) Start(ctx context.Context, scope models.DiscoveryScope) (*models.DiscoveryJob, error) {
	if err := scope.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidScope, err)
	}

	pairs, err := m.resolvePairs(ctx, scope)
	if err != nil {
		return nil, err
	}

	job := models.NewDiscoveryJob(scope)
	if err := m.scopes.acquire(job.ID, pairs); err != nil {
		return nil, err
	}

	if err := m.jobRepo.Create(ctx, job); err != nil {
		m.scopes.release(job.ID)
		return nil, fmt.Errorf("create discovery job: %w", err)
	}
	m.cache.SetJobSnapshot(ctx, job)

	queue := workqueue.New(m.logger,
		workqueue.WithStrategy(workqueue.NewPooledStrategy(m.cfg.ScanWorkers, m.cfg.EvalWorkers)),
		workqueue.WithRetryConfig(m.queueRetry))
	jobCtx, cancel := context.WithCancel(context.Background())
	m.active.Store(job.ID, &activeJob{queue: queue, cancel: cancel})

	m.logger.Info("discovery job started",
		zap.String("job_id", job.ID.String()),
		zap.String("scope", scope.Fingerprint()),
		zap.Int("pairs", len(pairs)))

	// The background run mutates job from here on, so copy first.
	snapshot := *job
	m.wg.Add(1)
	go m.runJob(jobCtx, cancel, job, pairs, queue)

	return &snapshot, nil
}

// resolvePairs expands the scope into the concrete ordered pair list.
func (m *discoveryJobManager) resolvePairs(ctx context.Context, scope models.DiscoveryScope) ([]models.TypePair, error) {
	if !scope.All {
		seen := make(map[string]bool, len(scope.Pairs))
		pairs := make([]models.TypePair, 0, len(scope.Pairs))
		for _, p := range scope.Pairs {
			if seen[p.Key()] {
				continue
			}
			seen[p.Key()] = true
			pairs = append(pairs, p)
		}
		return pairs, nil
	}

	types, err := m.graph.EntityTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list entity types: %w", err)
	}
	if len(types) < 2 {
		return nil, fmt.Errorf("%w: graph has %d entity types, scope all needs at least 2", apperrors.ErrInvalidScope, len(types))
	}
	sort.Strings(types)

	pairs := make([]models.TypePair, 0, len(types)*(len(types)-1))
	for _, from := range types {
		for _, to := range types {
			if from == to {
				continue
			}
			pairs = append(pairs, models.TypePair{FromType: from, ToType: to})
		}
	}
	return pairs, nil
}

// runJob drives one job through its phases. It owns all status writes for
// the job; concurrent task callbacks only touch progress and outcome lists
// under the shared mutex.
func (m *discoveryJobManager) runJob(jobCtx context.Context, cancel context.CancelFunc, job *models.DiscoveryJob, pairs []models.TypePair, queue *workqueue.Queue) {
	defer m.wg.Done()
	defer m.scopes.release(job.ID)
	defer m.active.Delete(job.ID)
	defer cancel()

	go m.watchCancelRequests(jobCtx, job.ID, queue, cancel)

	var mu sync.Mutex

	// Scanning.
	now := time.Now().UTC()
	job.StartedAt = &now
	m.transition(job, models.JobStatusScanning, models.PhaseScanning, fmt.Sprintf("scanning %d pairs", len(pairs)))

	var candidates []models.RelationshipCandidate
	onCandidates := func(pair models.TypePair, found []models.RelationshipCandidate) {
		mu.Lock()
		defer mu.Unlock()
		candidates = append(candidates, found...)
		job.Progress.TotalCount += len(found)
		job.Progress.Message = fmt.Sprintf("scanned %s: %d candidates so far", pair.Key(), len(candidates))
		m.persistJob(job)
	}
	for _, pair := range pairs {
		queue.Enqueue(newPairScanTask(m.generator, pair, onCandidates, m.logger))
	}
	if err := queue.Wait(jobCtx); err != nil {
		m.settleInterrupted(jobCtx, job, "scanning", err, &mu)
		return
	}

	// Evaluating.
	m.transition(job, models.JobStatusEvaluating, models.PhaseEvaluating, fmt.Sprintf("evaluating %d candidates", len(candidates)))

	vocabulary := m.loadVocabulary(jobCtx)

	var firstFatal error
	onResult := func(candidate models.RelationshipCandidate, result *models.EvaluationResult, evalErr error) {
		mu.Lock()
		defer mu.Unlock()

		switch {
		case evalErr != nil:
			job.EvaluationFailed = append(job.EvaluationFailed, candidate.Signature())
		default:
			combined := combinedScore(candidate.HeuristicScore, result.LLMScore)
			switch {
			case combined >= m.cfg.AcceptThreshold:
				entry := acceptedEntry(&candidate, result, combined)
				if err := m.schemaRepo.Upsert(jobCtx, entry); err != nil {
					if firstFatal == nil {
						firstFatal = fmt.Errorf("persist accepted entry %s: %w", entry.RelationType, err)
					}
				} else {
					job.Accepted = append(job.Accepted, *entry)
				}
			case combined <= m.cfg.RejectThreshold:
				job.Rejected = append(job.Rejected, candidate.Signature())
			default:
				rc := &models.ReviewCandidate{
					JobID:         job.ID,
					Candidate:     candidate,
					LLMScore:      result.LLMScore,
					CombinedScore: combined,
					Rationale:     result.Rationale,
					ProposedName:  result.ProposedName,
				}
				if _, err := m.reviewRepo.Create(jobCtx, rc); err != nil {
					if firstFatal == nil {
						firstFatal = fmt.Errorf("queue candidate for review: %w", err)
					}
				}
			}
		}

		job.Progress.ProcessedCount++
		job.Progress.Message = fmt.Sprintf("evaluated %d/%d candidates", job.Progress.ProcessedCount, job.Progress.TotalCount)
		m.persistJob(job)
	}
	for _, candidate := range candidates {
		queue.Enqueue(newCandidateEvaluationTask(m.evaluator, candidate, vocabulary, onResult, m.logger))
	}
	if err := queue.Wait(jobCtx); err != nil {
		m.settleInterrupted(jobCtx, job, "evaluating", err, &mu)
		return
	}
	if firstFatal != nil {
		m.markFailed(job, firstFatal, &mu)
		return
	}

	// Applying. Entries run sequentially; each keeps its own checkpoint.
	m.transition(job, models.JobStatusApplying, models.PhaseApplying, fmt.Sprintf("applying %d accepted entries", len(job.Accepted)))

	for i := range job.Accepted {
		if jobCtx.Err() != nil {
			m.markCancelled(job, &mu)
			return
		}
		entry := &job.Accepted[i]
		created, err := m.applier.Apply(jobCtx, job.ID, entry)

		mu.Lock()
		job.RelationsCreated += created
		job.Progress.Message = fmt.Sprintf("applied %s: %d relations created", entry.RelationType, job.RelationsCreated)
		m.persistJob(job)
		mu.Unlock()

		if err != nil {
			if errors.Is(err, context.Canceled) {
				m.markCancelled(job, &mu)
				return
			}
			m.markFailed(job, fmt.Errorf("apply %s: %w", entry.RelationType, err), &mu)
			return
		}
	}

	now = time.Now().UTC()
	job.FinishedAt = &now
	m.transition(job, models.JobStatusCompleted, models.PhaseCompleted,
		fmt.Sprintf("completed: %d accepted, %d rejected, %d for review, %d relations created",
			len(job.Accepted), len(job.Rejected),
			job.Progress.ProcessedCount-len(job.Accepted)-len(job.Rejected)-len(job.EvaluationFailed),
			job.RelationsCreated))

	m.logger.Info("discovery job completed",
		zap.String("job_id", job.ID.String()),
		zap.Int("candidates", job.Progress.TotalCount),
		zap.Int("accepted", len(job.Accepted)),
		zap.Int("rejected", len(job.Rejected)),
		zap.Int("evaluation_failed", len(job.EvaluationFailed)),
		zap.Int("relations_created", job.RelationsCreated))
}

// watchCancelRequests polls the durable cancel flag until the job context
// ends. A request cancels the queue and the job context; the run loop then
// settles the job as cancelled.
func (m *discoveryJobManager) watchCancelRequests(jobCtx context.Context, jobID uuid.UUID, queue *workqueue.Queue, cancel context.CancelFunc) {
	ticker := time.NewTicker(m.cancelPoll)
	defer ticker.Stop()

	for {
		select {
		case <-jobCtx.Done():
			return
		case <-ticker.C:
			requested, err := m.jobRepo.CancelRequested(context.Background(), jobID)
			if err != nil {
				m.logger.Warn("failed to poll cancel flag",
					zap.String("job_id", jobID.String()),
					zap.Error(err))
				continue
			}
			if requested {
				m.logger.Info("cancel request observed",
					zap.String("job_id", jobID.String()))
				queue.Cancel()
				cancel()
				return
			}
		}
	}
}

// settleInterrupted decides whether a failed queue wait was a cancellation
// or a real failure.
func (m *discoveryJobManager) settleInterrupted(jobCtx context.Context, job *models.DiscoveryJob, phase string, err error, mu *sync.Mutex) {
	if jobCtx.Err() != nil || errors.Is(err, context.Canceled) {
		m.markCancelled(job, mu)
		return
	}
	m.markFailed(job, fmt.Errorf("%s: %w", phase, err), mu)
}

// transition moves the job to the next status and phase and persists it.
// Status writes happen only on the run goroutine, so no lock is needed here;
// persistJob callers during task callbacks hold the job mutex instead.
func (m *discoveryJobManager) transition(job *models.DiscoveryJob, status models.JobStatus, phase models.JobPhase, message string) {
	if !job.Status.CanTransitionTo(status) && job.Status != status {
		m.logger.Warn("skipping invalid status transition",
			zap.String("job_id", job.ID.String()),
			zap.String("from", string(job.Status)),
			zap.String("to", string(status)))
		return
	}
	job.Status = status
	job.Progress.Phase = phase
	job.Progress.Message = message
	m.persistJob(job)
}

// markCancelled and markFailed settle a job while task callbacks may still
// be draining, so they take the same mutex the callbacks hold.
func (m *discoveryJobManager) markCancelled(job *models.DiscoveryJob, mu *sync.Mutex) {
	mu.Lock()
	defer mu.Unlock()
	if job.Status.IsTerminal() {
		return
	}
	now := time.Now().UTC()
	job.Status = models.JobStatusCancelled
	job.FinishedAt = &now
	job.Progress.Message = "cancelled"
	m.persistJob(job)
	m.logger.Info("discovery job cancelled",
		zap.String("job_id", job.ID.String()),
		zap.Int("processed", job.Progress.ProcessedCount),
		zap.Int("total", job.Progress.TotalCount))
}

func (m *discoveryJobManager) markFailed(job *models.DiscoveryJob, err error, mu *sync.Mutex) {
	mu.Lock()
	defer mu.Unlock()
	if job.Status.IsTerminal() {
		return
	}
	now := time.Now().UTC()
	msg := err.Error()
	job.Status = models.JobStatusFailed
	job.Error = &msg
	job.FinishedAt = &now
	job.Progress.Message = "failed: " + msg
	m.persistJob(job)
	m.logger.Error("discovery job failed",
		zap.String("job_id", job.ID.String()),
		zap.Error(err))
}

// persistJob writes the job to Postgres and mirrors it to the cache. Runs
// under a fresh context: progress must survive even when the job context was
// cancelled.
func (m *discoveryJobManager) persistJob(job *models.DiscoveryJob) {
	ctx := context.Background()
	if err := m.jobRepo.Update(ctx, job); err != nil {
		m.logger.Error("failed to persist job state",
			zap.String("job_id", job.ID.String()),
			zap.String("status", string(job.Status)),
			zap.Error(err))
	}
	m.cache.SetJobSnapshot(ctx, job)
}

// loadVocabulary collects the accepted relation vocabulary quoted into
// evaluation prompts. Failure degrades to an empty vocabulary.
func (m *discoveryJobManager) loadVocabulary(ctx context.Context) []prompts.VocabularyEntry {
	entries, err := m.schemaRepo.List(ctx)
	if err != nil {
		m.logger.Warn("failed to load schema vocabulary, evaluating without it", zap.Error(err))
		return nil
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Confidence > entries[j].Confidence })
	if len(entries) > maxVocabularyEntries {
		entries = entries[:maxVocabularyEntries]
	}

	vocabulary := make([]prompts.VocabularyEntry, len(entries))
	for i, e := range entries {
		vocabulary[i] = prompts.VocabularyEntry{
			Name:        e.RelationType,
			FromType:    e.FromType,
			ToType:      e.ToType,
			Description: e.Description,
		}
	}
	return vocabulary
}

func (m *discoveryJobManager) Get(ctx context.Context, id uuid.UUID) (*models.DiscoveryJob, error) {
	if job, ok := m.cache.GetJobSnapshot(ctx, id); ok {
		return job, nil
	}
	job, err := m.jobRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	m.cache.SetJobSnapshot(ctx, job)
	return job, nil
}

func (m *discoveryJobManager) List(ctx context.Context, limit int) ([]*models.DiscoveryJob, error) {
	return m.jobRepo.List(ctx, limit)
}

func (m *discoveryJobManager) Cancel(ctx context.Context, id uuid.UUID) (*models.DiscoveryJob, error) {
	job, err := m.jobRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return job, nil
	}

	// Durable first: the flag survives a crash between here and the queue
	// teardown.
	if err := m.jobRepo.RequestCancel(ctx, id); err != nil {
		return nil, fmt.Errorf("request cancel: %w", err)
	}

	if value, ok := m.active.Load(id); ok {
		active := value.(*activeJob)
		active.queue.Cancel()
		active.cancel()
	}

	job, err = m.jobRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	m.cache.SetJobSnapshot(ctx, job)
	return job, nil
}

func (m *discoveryJobManager) Purge(ctx context.Context, id uuid.UUID) error {
	job, err := m.jobRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !job.Status.IsTerminal() {
		return fmt.Errorf("%w: job %s is %s", apperrors.ErrJobNotTerminal, id, job.Status)
	}
	if err := m.jobRepo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	m.cache.DeleteJobSnapshot(ctx, id)
	return nil
}

func (m *discoveryJobManager) RecoverInterrupted(ctx context.Context) (int, error) {
	count, err := m.jobRepo.MarkInterrupted(ctx)
	if err != nil {
		return 0, fmt.Errorf("mark interrupted jobs: %w", err)
	}
	if count > 0 {
		m.logger.Warn("marked jobs interrupted by previous shutdown as failed",
			zap.Int("count", count))
	}
	return count, nil
}

func (m *discoveryJobManager) Shutdown(ctx context.Context) error {
	m.active.Range(func(_, value any) bool {
		active := value.(*activeJob)
		active.queue.Cancel()
		active.cancel()
		return true
	})

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown wait: %w", ctx.Err())
	}
}

// acceptedEntry builds the schema entry for an auto-accepted candidate.
func acceptedEntry(candidate *models.RelationshipCandidate, result *models.EvaluationResult, combined float64) *models.OntologySchemaEntry {
	name := normalizeRelationName(result.ProposedName)
	if name == "" {
		name = normalizeRelationName(candidate.SuggestedName)
	}
	if name == "" {
		name = "references"
	}

	pattern := candidate.Pattern
	return &models.OntologySchemaEntry{
		RelationType: name,
		FromType:     candidate.FromType,
		ToType:       candidate.ToType,
		Cardinality:  models.CardinalityUnknown,
		Confidence:   combined,
		Provenance: models.RelationProvenance{
			HeuristicScore: candidate.HeuristicScore,
			LLMScore:       result.LLMScore,
			AcceptedBy:     models.AcceptedByLLM,
			Rationale:      result.Rationale,
		},
		Pattern: &pattern,
	}
}
