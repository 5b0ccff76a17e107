package services

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ontograph/pkg/apperrors"
	"github.com/ekaya-inc/ontograph/pkg/models"
)

// scopeRegistry holds the in-memory advisory locks on entity-type pairs.
// A discovery job locks every pair in its scope for its whole lifetime;
// a second job whose scope overlaps is refused with a ConflictError naming
// the blocking job. The registry is owned by the job manager.
type scopeRegistry struct {
	mu    sync.Mutex
	locks map[string]uuid.UUID // pair key -> holding job
}

func newScopeRegistry() *scopeRegistry {
	return &scopeRegistry{
		locks: make(map[string]uuid.UUID),
	}
}

// acquire locks every pair for jobID, or none of them. On overlap it returns
// a ConflictError for the first conflicting pair and leaves the registry
// untouched.
func (r *scopeRegistry) acquire(jobID uuid.UUID, pairs []models.TypePair) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, pair := range pairs {
		if holder, held := r.locks[pair.Key()]; held {
			return &apperrors.ConflictError{
				BlockingJobID: holder,
				PairKey:       pair.Key(),
			}
		}
	}
	for _, pair := range pairs {
		r.locks[pair.Key()] = jobID
	}
	return nil
}

// release drops every pair lock held by jobID. Releasing a job that holds
// nothing is a no-op.
func (r *scopeRegistry) release(jobID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, holder := range r.locks {
		if holder == jobID {
			delete(r.locks, key)
		}
	}
}

// holder reports which job holds the given pair key, if any.
func (r *scopeRegistry) holder(key string) (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobID, held := r.locks[key]
	return jobID, held
}
