// Package candidates builds the grouped candidate pools offered to the
// mapping panel.
package candidates

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/mapping"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/redis"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Repository is the read surface candidate pools are built from
type Repository interface {
	CandidatePool(ctx context.Context, tenantID string, filter models.CandidateFilter, limit int) (*models.CandidatePool, error)
	Frameworks(ctx context.Context, tenantID string) ([]string, error)
}

// Service loads candidate pools, consults the cache when one is wired, and
// groups the result for display.
type Service struct {
	logger   ectologger.Logger
	repo     Repository
	cache    *redis.CandidateCache
	poolSize int
}

// NewService creates a new candidates service. cache may be nil.
func NewService(logger ectologger.Logger, repo Repository, cache *redis.CandidateCache, poolSize int) *Service {
	return &Service{
		logger:   logger,
		repo:     repo,
		cache:    cache,
		poolSize: poolSize,
	}
}

// Pool returns the raw candidate pool for the filter
func (s *Service) Pool(ctx context.Context, tenantID string, filter models.CandidateFilter) (*models.CandidatePool, error) {
	ctx, span := tracing.StartSpan(ctx, "candidates.Service.Pool")
	defer span.End()

	if s.cache != nil {
		pool, hit, err := s.cache.Get(ctx, tenantID, filter)
		if err != nil {
			s.logger.WithContext(ctx).WithError(err).Warn("Candidate cache read failed")
		}
		metrics.RecordCandidateCache(hit)
		if hit {
			return pool, nil
		}
	}

	pool, err := s.repo.CandidatePool(ctx, tenantID, filter, s.poolSize)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, tenantID, filter, pool); err != nil {
			s.logger.WithContext(ctx).WithError(err).Warn("Candidate cache write failed")
		}
	}

	return pool, nil
}

// Grouped returns the candidate pool grouped for display. Items already on
// either side of the exclude set are left out entirely.
func (s *Service) Grouped(ctx context.Context, tenantID string, filter models.CandidateFilter, exclude mapping.ExcludeSet) (mapping.GroupedCandidates, error) {
	ctx, span := tracing.StartSpan(ctx, "candidates.Service.Grouped")
	defer span.End()

	start := time.Now()

	pool, err := s.Pool(ctx, tenantID, filter)
	if err != nil {
		return mapping.GroupedCandidates{}, err
	}

	grouped := mapping.Group(*pool, filter, exclude)
	metrics.RecordCandidateQuery(string(grouped.Mode), time.Since(start).Seconds())

	return grouped, nil
}

// Frameworks lists the frameworks available for filtering
func (s *Service) Frameworks(ctx context.Context, tenantID string) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "candidates.Service.Frameworks")
	defer span.End()

	return s.repo.Frameworks(ctx, tenantID)
}

// Invalidate drops the tenant's cached pools. Called when controls change.
func (s *Service) Invalidate(ctx context.Context, tenantID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, tenantID); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("Candidate cache invalidation failed")
	}
}
