package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ontograph/pkg/apperrors"
	"github.com/ekaya-inc/ontograph/pkg/models"
)

const (
	queryKeyPrefix = "ontograph:query:"
	jobKeyPrefix   = "ontograph:job:"

	// jobSnapshotTTL bounds how long a job progress mirror outlives its last
	// update. Terminal snapshots expire on their own; purge deletes eagerly.
	jobSnapshotTTL = 24 * time.Hour
)

// QueryCacheKey derives the cache key for a question under the current
// retrieval tunables. Keying on the tunables means a config change misses
// the cache instead of serving answers assembled under different limits.
func QueryCacheKey(question string, topK, maxHops, tokenBudget int) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%d|%d|%d", question, topK, maxHops, tokenBudget))
	return queryKeyPrefix + hex.EncodeToString(sum[:])
}

// CacheService is the engine's result/progress cache. All methods are safe
// when the cache is disabled or unreachable: reads miss and writes are
// dropped, never surfaced as errors. Postgres stays the source of truth.
type CacheService interface {
	// Enabled reports whether a cache backend is configured.
	Enabled() bool

	// GetQuery returns a cached query result, with ok=false on miss.
	GetQuery(ctx context.Context, key string) (*models.QueryContext, bool)

	// SetQuery caches a query result under the configured TTL.
	SetQuery(ctx context.Context, key string, qc *models.QueryContext)

	// DeleteQuery evicts one cached query result.
	DeleteQuery(ctx context.Context, key string)

	// GetJobSnapshot returns the mirrored progress snapshot for a job.
	GetJobSnapshot(ctx context.Context, jobID uuid.UUID) (*models.DiscoveryJob, bool)

	// SetJobSnapshot mirrors a job's state so poll endpoints can serve it
	// without hitting Postgres.
	SetJobSnapshot(ctx context.Context, job *models.DiscoveryJob)

	// DeleteJobSnapshot evicts a job's mirrored snapshot.
	DeleteJobSnapshot(ctx context.Context, jobID uuid.UUID)

	// Ping verifies connectivity for health reporting.
	Ping(ctx context.Context) error
}

type cacheService struct {
	client   *redis.Client // nil when caching is disabled
	queryTTL time.Duration
	logger   *zap.Logger
}

// NewCacheService creates the cache service. A nil client disables caching;
// every method degrades to a no-op.
func NewCacheService(client *redis.Client, queryTTL time.Duration, logger *zap.Logger) CacheService {
	return &cacheService{
		client:   client,
		queryTTL: queryTTL,
		logger:   logger.Named("cache"),
	}
}

var _ CacheService = (*cacheService)(nil)

func (s *cacheService) Enabled() bool {
	return s.client != nil
}

func (s *cacheService) GetQuery(ctx context.Context, key string) (*models.QueryContext, bool) {
	if s.client == nil {
		return nil, false
	}

	payload, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("query cache read failed", zap.Error(err))
		}
		return nil, false
	}

	var qc models.QueryContext
	if err := json.Unmarshal(payload, &qc); err != nil {
		s.logger.Warn("query cache entry corrupt, evicting", zap.String("key", key), zap.Error(err))
		s.client.Del(ctx, key)
		return nil, false
	}
	return &qc, true
}

func (s *cacheService) SetQuery(ctx context.Context, key string, qc *models.QueryContext) {
	if s.client == nil {
		return
	}

	payload, err := json.Marshal(qc)
	if err != nil {
		s.logger.Warn("failed to marshal query result for cache", zap.Error(err))
		return
	}
	if err := s.client.Set(ctx, key, payload, s.queryTTL).Err(); err != nil {
		s.logger.Warn("query cache write failed", zap.Error(err))
	}
}

func (s *cacheService) DeleteQuery(ctx context.Context, key string) {
	if s.client == nil {
		return
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.logger.Warn("query cache delete failed", zap.Error(err))
	}
}

func (s *cacheService) GetJobSnapshot(ctx context.Context, jobID uuid.UUID) (*models.DiscoveryJob, bool) {
	if s.client == nil {
		return nil, false
	}

	payload, err := s.client.Get(ctx, jobKeyPrefix+jobID.String()).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("job snapshot read failed", zap.String("job_id", jobID.String()), zap.Error(err))
		}
		return nil, false
	}

	var job models.DiscoveryJob
	if err := json.Unmarshal(payload, &job); err != nil {
		s.logger.Warn("job snapshot corrupt, evicting", zap.String("job_id", jobID.String()), zap.Error(err))
		s.client.Del(ctx, jobKeyPrefix+jobID.String())
		return nil, false
	}
	return &job, true
}

func (s *cacheService) SetJobSnapshot(ctx context.Context, job *models.DiscoveryJob) {
	if s.client == nil {
		return
	}

	payload, err := json.Marshal(job)
	if err != nil {
		s.logger.Warn("failed to marshal job snapshot", zap.String("job_id", job.ID.String()), zap.Error(err))
		return
	}
	if err := s.client.Set(ctx, jobKeyPrefix+job.ID.String(), payload, jobSnapshotTTL).Err(); err != nil {
		s.logger.Warn("job snapshot write failed", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
}

func (s *cacheService) DeleteJobSnapshot(ctx context.Context, jobID uuid.UUID) {
	if s.client == nil {
		return
	}
	if err := s.client.Del(ctx, jobKeyPrefix+jobID.String()).Err(); err != nil {
		s.logger.Warn("job snapshot delete failed", zap.String("job_id", jobID.String()), zap.Error(err))
	}
}

func (s *cacheService) Ping(ctx context.Context) error {
	if s.client == nil {
		return apperrors.NewStoreUnavailable("cache", fmt.Errorf("cache not configured"))
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		return apperrors.NewStoreUnavailable("cache", err)
	}
	return nil
}
