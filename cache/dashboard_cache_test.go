package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kenshi-labs/unchained-dashboard/domain"
	"github.com/kenshi-labs/unchained-dashboard/metrics"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const window = 5 * time.Minute

var ErrMock = errors.New("mock error")

var start = time.Date(2024, 5, 1, 10, 0, 30, 0, time.UTC)

type FakeRefresher struct {
	calls   atomic.Int32
	started chan struct{}
	lock    sync.Mutex
	gate    chan struct{}
	fail    bool
	ctxErrs []error
}

func newFakeRefresher() *FakeRefresher {
	return &FakeRefresher{started: make(chan struct{}, 100)}
}

func (f *FakeRefresher) Refresh(ctx context.Context) (*domain.Snapshot, error) {
	call := f.calls.Add(1)
	select {
	case f.started <- struct{}{}:
	default:
	}

	f.lock.Lock()
	gate, fail := f.gate, f.fail
	f.lock.Unlock()
	if gate != nil {
		<-gate
	}

	f.lock.Lock()
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	f.lock.Unlock()

	if fail {
		return nil, domain.NewBackingStoreError(ErrMock, "query")
	}
	return snapshotOf(int64(call)), nil
}

func (f *FakeRefresher) setGate(gate chan struct{}) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.gate = gate
}

func (f *FakeRefresher) setFail(fail bool) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.fail = fail
}

// every slot carries the number of the refresh that produced it
func snapshotOf(generation int64) *domain.Snapshot {
	return &domain.Snapshot{
		Signers: []domain.SignerView{{ID: generation, Name: fmt.Sprintf("signer-%d", generation), Key: "N/A"}},
		Prices:  []domain.PriceView{{Price: decimal.NewFromInt(generation), Block: generation, Signers: generation}},
		Stats:   domain.Stats{Datapoints: generation, Validations: generation},
	}
}

type FakeArchive struct {
	lock  sync.Mutex
	saved []domain.Epoch
}

func (f *FakeArchive) SaveSnapshot(epoch domain.Epoch, _ *domain.Snapshot) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.saved = append(f.saved, epoch)
	return nil
}

type FakeSharedStore struct {
	lock      sync.Mutex
	snapshots map[domain.Epoch]*domain.Snapshot
	getErr    error
}

func (f *FakeSharedStore) Get(_ context.Context, epoch domain.Epoch) (*domain.Snapshot, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.snapshots[epoch], nil
}

func (f *FakeSharedStore) Set(_ context.Context, epoch domain.Epoch, snapshot *domain.Snapshot) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.snapshots[epoch] = snapshot
	return nil
}

func newTestCache(refresher Refresher, clock clockwork.Clock) *DashboardCache {
	return NewDashboardCache(refresher, clock, window, metrics.NewMetrics("test", prometheus.NewRegistry()), zap.NewNop().Sugar())
}

func TestDashboardCache_Serve_givenSameEpoch_thenIdenticalAndNoSecondRefresh(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	refresher := newFakeRefresher()
	cache := newTestCache(refresher, clock)

	first, err := cache.Serve(context.Background())
	require.NoError(t, err)
	clock.Advance(2 * time.Minute) // still same epoch
	second, err := cache.Serve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(1), refresher.calls.Load())
	assert.Equal(t, first.Snapshot, second.Snapshot)
	assert.Same(t, first.Snapshot, second.Snapshot)
	assert.Equal(t, domain.EpochAt(start, window), second.Epoch)
	assert.False(t, second.Stale)
}

func serveConcurrently(t *testing.T, cache *DashboardCache, callers int, refresher *FakeRefresher) []*Result {
	gate := make(chan struct{})
	refresher.setGate(gate)

	var wg sync.WaitGroup
	results := make([]*Result, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			results[i], errs[i] = cache.Serve(context.Background())
		}()
	}

	<-refresher.started
	time.Sleep(20 * time.Millisecond) // let the other callers pile up behind the refresh
	close(gate)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	return results
}

func TestDashboardCache_Serve_givenConcurrentMisses_thenRefreshOncePerEpoch(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	refresher := newFakeRefresher()
	cache := newTestCache(refresher, clock)

	results := serveConcurrently(t, cache, 50, refresher)
	assert.Equal(t, int32(1), refresher.calls.Load())
	for _, result := range results {
		assert.Same(t, results[0].Snapshot, result.Snapshot)
	}

	clock.Advance(window)
	results = serveConcurrently(t, cache, 50, refresher)
	assert.Equal(t, int32(2), refresher.calls.Load())
	for _, result := range results {
		assert.Same(t, results[0].Snapshot, result.Snapshot)
		assert.Equal(t, domain.EpochAt(start, window)+1, result.Epoch)
		assert.Equal(t, "signer-2", result.Snapshot.Signers[0].Name)
	}
}

func TestDashboardCache_Serve_neverMixesSlotsOfDifferentRefreshes(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	refresher := newFakeRefresher()
	cache := newTestCache(refresher, clock)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			clock.Advance(window)
			time.Sleep(time.Millisecond)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				result, err := cache.Serve(context.Background())
				if !assert.NoError(t, err) {
					return
				}
				snapshot := result.Snapshot
				generation := snapshot.Stats.Datapoints
				assert.Equal(t, generation, snapshot.Stats.Validations)
				assert.Equal(t, generation, snapshot.Signers[0].ID)
				assert.Equal(t, generation, snapshot.Prices[0].Block)
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, refresher.calls.Load(), int32(21))
}

func TestDashboardCache_Serve_givenRefreshFailure_thenServeStale(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	refresher := newFakeRefresher()
	cache := newTestCache(refresher, clock)

	fresh, err := cache.Serve(context.Background())
	require.NoError(t, err)

	clock.Advance(window)
	refresher.setFail(true)

	stale, err := cache.Serve(context.Background())
	require.NoError(t, err)
	assert.True(t, stale.Stale)
	assert.Same(t, fresh.Snapshot, stale.Snapshot)
	assert.Equal(t, fresh.Epoch, stale.Epoch)
	assert.Equal(t, fresh.Epoch, cache.lastEpoch) // not advanced

	// next request in the same epoch tries again and recovers
	refresher.setFail(false)
	recovered, err := cache.Serve(context.Background())
	require.NoError(t, err)
	assert.False(t, recovered.Stale)
	assert.Equal(t, fresh.Epoch+1, recovered.Epoch)
	assert.Equal(t, int32(3), refresher.calls.Load())
}

func TestDashboardCache_Serve_givenColdCacheAndFailure_thenError(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	refresher := newFakeRefresher()
	refresher.setFail(true)
	cache := newTestCache(refresher, clock)

	result, err := cache.Serve(context.Background())
	require.Error(t, err)
	assert.Nil(t, result)
	var storeErr *domain.BackingStoreError
	assert.True(t, errors.As(err, &storeErr))
	assert.Nil(t, cache.snapshot)
}

func TestDashboardCache_Serve_givenCancelledCaller_thenRefreshContinuesForOthers(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	refresher := newFakeRefresher()
	gate := make(chan struct{})
	refresher.setGate(gate)
	cache := newTestCache(refresher, clock)

	ctx, cancel := context.WithCancel(context.Background())
	cancelled := make(chan error, 1)
	go func() {
		_, err := cache.Serve(ctx)
		cancelled <- err
	}()
	<-refresher.started

	waiting := make(chan *Result, 1)
	go func() {
		result, err := cache.Serve(context.Background())
		assert.NoError(t, err)
		waiting <- result
	}()

	cancel()
	assert.ErrorIs(t, <-cancelled, context.Canceled)

	close(gate)
	result := <-waiting
	require.NotNil(t, result)
	assert.Equal(t, "signer-1", result.Snapshot.Signers[0].Name)
	assert.Equal(t, int32(1), refresher.calls.Load())

	refresher.lock.Lock()
	defer refresher.lock.Unlock()
	assert.Equal(t, []error{nil}, refresher.ctxErrs)
}

func TestDashboardCache_Serve_thenArchivesSnapshot(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	archive := &FakeArchive{}
	cache := newTestCache(newFakeRefresher(), clock).WithArchive(archive)

	_, err := cache.Serve(context.Background())
	require.NoError(t, err)
	_, err = cache.Serve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []domain.Epoch{domain.EpochAt(start, window)}, archive.saved)
}

func TestDashboardCache_Serve_givenSharedSnapshot_thenNoRefresh(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	refresher := newFakeRefresher()
	epoch := domain.EpochAt(start, window)
	shared := &FakeSharedStore{snapshots: map[domain.Epoch]*domain.Snapshot{epoch: snapshotOf(99)}}
	cache := newTestCache(refresher, clock).WithSharedStore(shared)

	result, err := cache.Serve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(99), result.Snapshot.Stats.Datapoints)
	assert.Zero(t, refresher.calls.Load())
}

func TestDashboardCache_Serve_givenNoSharedSnapshot_thenRefreshAndShare(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	refresher := newFakeRefresher()
	shared := &FakeSharedStore{snapshots: map[domain.Epoch]*domain.Snapshot{}}
	cache := newTestCache(refresher, clock).WithSharedStore(shared)

	result, err := cache.Serve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), refresher.calls.Load())
	assert.Same(t, result.Snapshot, shared.snapshots[domain.EpochAt(start, window)])
}

func TestDashboardCache_Serve_givenSharedStoreFailure_thenRefresh(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	refresher := newFakeRefresher()
	shared := &FakeSharedStore{snapshots: map[domain.Epoch]*domain.Snapshot{}, getErr: ErrMock}
	cache := newTestCache(refresher, clock).WithSharedStore(shared)

	result, err := cache.Serve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Snapshot.Stats.Datapoints)
}

func TestDashboardCache_Restore(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	refresher := newFakeRefresher()
	cache := newTestCache(refresher, clock)
	epoch := domain.EpochAt(start, window)

	cache.Restore(epoch, snapshotOf(7))
	result, err := cache.Serve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), result.Snapshot.Stats.Datapoints)
	assert.Zero(t, refresher.calls.Load())
}

func TestDashboardCache_Restore_givenOldSnapshotAndFailure_thenServeRestoredAsStale(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	refresher := newFakeRefresher()
	refresher.setFail(true)
	cache := newTestCache(refresher, clock)
	epoch := domain.EpochAt(start, window)

	cache.Restore(epoch-12, snapshotOf(7))
	result, err := cache.Serve(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Stale)
	assert.Equal(t, epoch-12, result.Epoch)
	assert.Equal(t, int32(1), refresher.calls.Load())
}
