package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"riskpilot/internal/domain/models"
	drepo "riskpilot/internal/domain/repository"
	"riskpilot/pkg/cache"
	"riskpilot/pkg/config"
	"riskpilot/pkg/logger"
	"riskpilot/pkg/util"
)

// ErrNoData means neither the live source, the cache nor the stale fallback
// could produce a snapshot. Callers must refuse dependent actions.
var ErrNoData = errors.New("no margin data available")

const snapshotKey = "margin:snapshot"

// CachedSource layers a short-TTL cache, bounded retries and a stale
// fallback over the live account source. Snapshots served from the fallback
// are marked stale so downstream decisions can tell them apart.
type CachedSource struct {
	live    drepo.AccountSource
	cache   cache.Service
	cfg     config.GuardConfig
	metrics drepo.Metrics
	logger  *logger.Logger

	mu       sync.Mutex
	lastGood *models.AccountSnapshot
}

// NewCachedSource wraps the live source. The cache is optional.
func NewCachedSource(live drepo.AccountSource, c cache.Service, cfg config.GuardConfig, metrics drepo.Metrics, lgr *logger.Logger) *CachedSource {
	return &CachedSource{
		live:    live,
		cache:   c,
		cfg:     cfg,
		metrics: metrics,
		logger:  lgr,
	}
}

var _ drepo.AccountSource = (*CachedSource)(nil)

// Snapshot serves the account picture, cheapest source first: cache, then
// the live exchange with retries, then the last good value within the stale
// limit. With nothing left it returns ErrNoData.
func (s *CachedSource) Snapshot(ctx context.Context) (*models.AccountSnapshot, error) {
	if s.cache != nil {
		var snap models.AccountSnapshot
		if err := s.cache.Get(ctx, snapshotKey, &snap); err == nil {
			return &snap, nil
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			s.metrics.RecordError("margin_cache")
		}
	}

	attempts := s.cfg.Retries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(util.Backoff(s.cfg.Backoff(), 2*time.Second, attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		snap, err := s.live.Snapshot(ctx)
		if err != nil {
			lastErr = err
			s.metrics.RecordError("margin_fetch")
			continue
		}

		s.mu.Lock()
		good := *snap
		s.lastGood = &good
		s.mu.Unlock()

		if s.cache != nil {
			if err := s.cache.Set(ctx, snapshotKey, snap, s.cfg.CacheTTL()); err != nil {
				s.metrics.RecordError("margin_cache")
			}
		}
		return snap, nil
	}

	if snap := s.stale(); snap != nil {
		s.logger.Warn("margin lookups failed, serving stale snapshot",
			logger.Time("fetched_at", snap.FetchedAt),
			logger.Error(lastErr))
		return snap, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrNoData, lastErr)
}

// stale returns a copy of the last good snapshot if it is still within the
// stale limit.
func (s *CachedSource) stale() *models.AccountSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastGood == nil {
		return nil
	}
	if time.Since(s.lastGood.FetchedAt) > s.cfg.StaleLimit() {
		return nil
	}
	snap := *s.lastGood
	snap.Stale = true
	return &snap
}
