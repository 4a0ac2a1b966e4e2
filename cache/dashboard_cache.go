// Package cache serves dashboard snapshots per epoch. A snapshot is rebuilt at most once per
// epoch, lazily by the first request that observes the new epoch. Requests arriving while the
// rebuild is running wait for it and share its result.
package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kenshi-labs/unchained-dashboard/domain"
	"github.com/kenshi-labs/unchained-dashboard/metrics"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type Refresher interface {
	Refresh(ctx context.Context) (*domain.Snapshot, error)
}

// Archive keeps the latest snapshot across restarts.
type Archive interface {
	SaveSnapshot(epoch domain.Epoch, snapshot *domain.Snapshot) error
}

// SharedStore shares snapshots between service instances. Get returns nil if there is no
// snapshot for the epoch.
type SharedStore interface {
	Get(ctx context.Context, epoch domain.Epoch) (*domain.Snapshot, error)
	Set(ctx context.Context, epoch domain.Epoch, snapshot *domain.Snapshot) error
}

type Result struct {
	Snapshot *domain.Snapshot
	// Epoch the snapshot was computed in.
	Epoch domain.Epoch
	// Stale is set if the refresh for the current epoch failed and an older snapshot is served.
	Stale bool
}

type DashboardCache struct {
	refresher Refresher
	clock     clockwork.Clock
	window    time.Duration
	metrics   *metrics.Metrics
	logger    *zap.SugaredLogger
	archive   Archive
	shared    SharedStore

	flights   singleflight.Group
	lock      sync.RWMutex
	snapshot  *domain.Snapshot
	lastEpoch domain.Epoch
}

func NewDashboardCache(refresher Refresher, clock clockwork.Clock, window time.Duration, m *metrics.Metrics, logger *zap.SugaredLogger) *DashboardCache {
	return &DashboardCache{
		refresher: refresher,
		clock:     clock,
		window:    window,
		metrics:   m,
		logger:    logger,
	}
}

func (c *DashboardCache) WithArchive(archive Archive) *DashboardCache {
	c.archive = archive
	return c
}

func (c *DashboardCache) WithSharedStore(shared SharedStore) *DashboardCache {
	c.shared = shared
	return c
}

// Restore seeds the cache with a snapshot computed in an earlier run. It is served until the
// first successful refresh, or as stale fallback.
func (c *DashboardCache) Restore(epoch domain.Epoch, snapshot *domain.Snapshot) {
	if snapshot == nil {
		return
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.snapshot == nil || epoch > c.lastEpoch {
		c.snapshot = snapshot
		c.lastEpoch = epoch
		c.metrics.SetCachedEpoch(int64(epoch))
	}
}

// Serve returns the snapshot of the current epoch, refreshing it if necessary. If the refresh
// fails and an older snapshot exists, the older snapshot is returned and marked stale.
// Cancelling ctx only affects this caller, a running refresh is completed for the others.
func (c *DashboardCache) Serve(ctx context.Context) (*Result, error) {
	epoch := domain.EpochAt(c.clock.Now(), c.window)
	if result, ok := c.cached(epoch); ok {
		c.metrics.IncCacheHit()
		return result, nil
	}

	flight := c.flights.DoChan(strconv.FormatInt(int64(epoch), 10), func() (any, error) {
		return c.refresh(context.WithoutCancel(ctx), epoch)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-flight:
		if res.Err != nil {
			return nil, res.Err
		}
		result := res.Val.(*Result)
		if result.Stale {
			c.metrics.IncStaleServe()
		}
		return result, nil
	}
}

func (c *DashboardCache) cached(epoch domain.Epoch) (*Result, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	if c.snapshot != nil && c.lastEpoch == epoch {
		return &Result{Snapshot: c.snapshot, Epoch: c.lastEpoch}, true
	}
	return nil, false
}

func (c *DashboardCache) cachedSince(epoch domain.Epoch) (*Result, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	if c.snapshot != nil && c.lastEpoch >= epoch {
		return &Result{Snapshot: c.snapshot, Epoch: c.lastEpoch}, true
	}
	return nil, false
}

func (c *DashboardCache) refresh(ctx context.Context, epoch domain.Epoch) (*Result, error) {
	// a flight for this or a later epoch might have completed between the check and joining the group
	if result, ok := c.cachedSince(epoch); ok {
		return result, nil
	}

	start := c.clock.Now()
	snapshot, err := c.load(ctx, epoch)
	if err != nil {
		c.metrics.IncRefreshFailure()
		c.lock.RLock()
		previous, previousEpoch := c.snapshot, c.lastEpoch
		c.lock.RUnlock()
		if previous == nil {
			c.logger.Errorw("Refreshing dashboard failed", "epoch", epoch, "error", err)
			return nil, errors.Wrapf(err, "refreshing dashboard for epoch [%d]", epoch)
		}
		c.logger.Warnw("Refreshing dashboard failed. Serving stale snapshot.",
			"epoch", epoch, "cachedEpoch", previousEpoch, "error", err)
		return &Result{Snapshot: previous, Epoch: previousEpoch, Stale: true}, nil
	}

	c.lock.Lock()
	if c.snapshot != nil && epoch < c.lastEpoch { // never move back in time
		current := &Result{Snapshot: c.snapshot, Epoch: c.lastEpoch}
		c.lock.Unlock()
		return current, nil
	}
	c.snapshot = snapshot
	c.lastEpoch = epoch
	c.lock.Unlock()

	took := c.clock.Since(start)
	c.metrics.ObserveRefresh(int64(epoch), took)
	c.logger.Infow("Refreshed dashboard", "epoch", epoch, "signers", len(snapshot.Signers),
		"prices", len(snapshot.Prices), "took", took)

	if c.archive != nil {
		if err := c.archive.SaveSnapshot(epoch, snapshot); err != nil {
			c.logger.Warnw("Archiving dashboard snapshot failed", "epoch", epoch, "error", err)
		}
	}
	return &Result{Snapshot: snapshot, Epoch: epoch}, nil
}

func (c *DashboardCache) load(ctx context.Context, epoch domain.Epoch) (*domain.Snapshot, error) {
	if c.shared != nil {
		snapshot, err := c.shared.Get(ctx, epoch)
		if err != nil {
			c.logger.Warnw("Reading shared dashboard snapshot failed", "epoch", epoch, "error", err)
		} else if snapshot != nil {
			return snapshot, nil
		}
	}

	snapshot, err := c.refresher.Refresh(ctx)
	if err != nil {
		return nil, err
	}

	if c.shared != nil {
		if err := c.shared.Set(ctx, epoch, snapshot); err != nil {
			c.logger.Warnw("Sharing dashboard snapshot failed", "epoch", epoch, "error", err)
		}
	}
	return snapshot, nil
}
