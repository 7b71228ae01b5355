package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskpilot/internal/domain/models"
	"riskpilot/internal/service/metrics"
	"riskpilot/pkg/cache"
	"riskpilot/pkg/logger"
)

// flakySource fails the first failures calls, then serves snap; errAfter > 0
// makes every call past that index fail instead.
type flakySource struct {
	mu       sync.Mutex
	calls    int
	failures int
	errAfter int
	snap     models.AccountSnapshot
}

func (f *flakySource) Snapshot(ctx context.Context) (*models.AccountSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, fmt.Errorf("exchange down (call %d)", f.calls)
	}
	if f.errAfter > 0 && f.calls > f.errAfter {
		return nil, fmt.Errorf("exchange down (call %d)", f.calls)
	}
	snap := f.snap
	return &snap, nil
}

func (f *flakySource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newCachedSource(live *flakySource, c cache.Service) *CachedSource {
	return NewCachedSource(live, c, testGuardCfg(), metrics.Nop(), logger.Nop())
}

func TestCachedSourceServesFromCache(t *testing.T) {
	live := &flakySource{snap: models.AccountSnapshot{Equity: 9000, MarginUsed: 1000, FetchedAt: time.Now().UTC()}}
	src := newCachedSource(live, cache.NewMemory())

	first, err := src.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9000.0, first.Equity)
	assert.Equal(t, 1, live.callCount())

	second, err := src.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9000.0, second.Equity)
	assert.Equal(t, 1, live.callCount(), "second read should hit the cache")
}

func TestCachedSourceRetriesBeforeGivingUp(t *testing.T) {
	live := &flakySource{
		failures: 2,
		snap:     models.AccountSnapshot{Equity: 9000, MarginUsed: 1000, FetchedAt: time.Now().UTC()},
	}
	src := newCachedSource(live, nil)

	snap, err := src.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, live.callCount(), "two failures then success")
	assert.False(t, snap.Stale)
}

func TestCachedSourceStaleFallback(t *testing.T) {
	live := &flakySource{
		errAfter: 1,
		snap:     models.AccountSnapshot{Equity: 9000, MarginUsed: 1000, FetchedAt: time.Now().UTC()},
	}
	src := newCachedSource(live, nil)

	_, err := src.Snapshot(context.Background())
	require.NoError(t, err)

	snap, err := src.Snapshot(context.Background())
	require.NoError(t, err, "fallback should mask the outage")
	assert.True(t, snap.Stale, "fallback snapshot must be marked stale")
	assert.Equal(t, 9000.0, snap.Equity)
}

func TestCachedSourceNoDataAtAll(t *testing.T) {
	live := &flakySource{failures: 100}
	src := newCachedSource(live, nil)

	_, err := src.Snapshot(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoData))
	assert.Equal(t, 3, live.callCount(), "bounded retries")
}

func TestCachedSourceStaleLimitExpires(t *testing.T) {
	live := &flakySource{
		errAfter: 1,
		snap:     models.AccountSnapshot{Equity: 9000, MarginUsed: 1000, FetchedAt: time.Now().UTC().Add(-10 * time.Minute)},
	}
	src := newCachedSource(live, nil)

	_, err := src.Snapshot(context.Background())
	require.NoError(t, err)

	// the only good snapshot is older than the 5 minute stale limit
	_, err = src.Snapshot(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoData))
}
