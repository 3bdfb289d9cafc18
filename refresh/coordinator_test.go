package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dashwire/dashwire/cache"
	"github.com/dashwire/dashwire/core"
	"github.com/dashwire/dashwire/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeService is a controllable core.DataService for coordinator tests.
type fakeService struct {
	mu      sync.Mutex
	calls   int64
	err     error
	errByID map[string]error

	// gate, when set, blocks FetchChartData until released; entered is
	// signalled once per call as the fetch starts.
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeService) FetchChartData(ctx context.Context, req core.QueryRequest) (*core.QueryResult, error) {
	atomic.AddInt64(&f.calls, 1)

	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	err := f.err
	if byID, ok := f.errByID[req.ChartID]; ok {
		err = byID
	}
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}

	return &core.QueryResult{
		Data: core.Dataset{
			Columns: []core.Column{{Name: "v", Kind: core.ColumnNumber}},
			Rows:    []core.Row{{1.0}},
		},
	}, nil
}

func (f *fakeService) callCount() int64 {
	return atomic.LoadInt64(&f.calls)
}

func (f *fakeService) failWith(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func testChart(id string) core.Chart {
	return core.Chart{
		ID:               id,
		Library:          "echarts",
		Type:             "line",
		DatasetReference: "metrics." + id,
		Polling: core.PollingConfig{
			Enabled:                true,
			Interval:               10 * time.Second,
			MaxConsecutiveFailures: 3,
			Backoff:                core.BackoffExponential,
		},
	}
}

func newTestCoordinator(t *testing.T, service core.DataService) (*Coordinator, *cache.BuntCache) {
	t.Helper()

	dataCache, err := cache.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = dataCache.Close() })

	return NewCoordinator(service, dataCache, nil, logger.NewNop(), time.Second), dataCache
}

func TestCoordinator_MountIdlePhase(t *testing.T) {
	coordinator, _ := newTestCoordinator(t, &fakeService{})
	require.NoError(t, coordinator.Mount(testChart("cpu")))

	state, ok := coordinator.State("cpu")
	require.True(t, ok)
	assert.Equal(t, core.PhaseIdle, state.Phase)
}

func TestCoordinator_MountInvalidChart(t *testing.T) {
	coordinator, _ := newTestCoordinator(t, &fakeService{})

	chart := testChart("cpu")
	chart.ID = ""
	require.ErrorIs(t, coordinator.Mount(chart), core.ErrChartIDEmpty)
}

func TestCoordinator_FetchSuccess(t *testing.T) {
	service := &fakeService{}
	coordinator, _ := newTestCoordinator(t, service)
	require.NoError(t, coordinator.Mount(testChart("cpu")))

	outcome := coordinator.RequestFetch(context.Background(), "cpu", FetchOptions{})
	require.Nil(t, outcome.Err)
	require.NotNil(t, outcome.Entry)
	assert.False(t, outcome.FromCache)

	state, _ := coordinator.State("cpu")
	assert.Equal(t, core.PhaseReady, state.Phase)
	assert.Zero(t, state.ConsecutiveFailures)
	assert.False(t, state.LastSuccessAt.IsZero())
}

func TestCoordinator_FreshCacheSkipsNetwork(t *testing.T) {
	service := &fakeService{}
	coordinator, _ := newTestCoordinator(t, service)
	require.NoError(t, coordinator.Mount(testChart("cpu")))

	first := coordinator.RequestFetch(context.Background(), "cpu", FetchOptions{})
	require.Nil(t, first.Err)

	second := coordinator.RequestFetch(context.Background(), "cpu", FetchOptions{})
	require.Nil(t, second.Err)
	assert.True(t, second.FromCache)
	assert.EqualValues(t, 1, service.callCount())
}

func TestCoordinator_ForceBypassesCache(t *testing.T) {
	service := &fakeService{}
	coordinator, _ := newTestCoordinator(t, service)
	require.NoError(t, coordinator.Mount(testChart("cpu")))

	coordinator.RequestFetch(context.Background(), "cpu", FetchOptions{})
	coordinator.RequestFetch(context.Background(), "cpu", FetchOptions{Force: true})

	assert.EqualValues(t, 2, service.callCount())
}

func TestCoordinator_CoalescesOverlappingFetches(t *testing.T) {
	service := &fakeService{
		gate:    make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	coordinator, _ := newTestCoordinator(t, service)
	require.NoError(t, coordinator.Mount(testChart("cpu")))

	const callers = 5
	outcomes := make([]Outcome, callers)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		outcomes[0] = coordinator.RequestFetch(context.Background(), "cpu", FetchOptions{Force: true})
	}()

	// Wait until the first fetch is inside the service, then pile on.
	<-service.entered

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = coordinator.RequestFetch(context.Background(), "cpu", FetchOptions{Force: true})
		}(i)
	}

	// Give the stragglers a moment to join the in-flight fetch before it
	// completes.
	time.Sleep(50 * time.Millisecond)
	close(service.gate)
	wg.Wait()

	// One network call; every caller observed the same outcome.
	assert.EqualValues(t, 1, service.callCount())
	for i := 1; i < callers; i++ {
		assert.Equal(t, outcomes[0].Entry.FetchedAt, outcomes[i].Entry.FetchedAt)
	}
}

func TestCoordinator_FailureIncrementsAndSurfaces(t *testing.T) {
	service := &fakeService{}
	service.failWith(errors.New("connection refused"))
	coordinator, _ := newTestCoordinator(t, service)
	require.NoError(t, coordinator.Mount(testChart("cpu")))

	outcome := coordinator.RequestFetch(context.Background(), "cpu", FetchOptions{})
	require.NotNil(t, outcome.Err)
	assert.Equal(t, core.ErrKindNetwork, outcome.Err.Kind)

	state, _ := coordinator.State("cpu")
	assert.Equal(t, core.PhaseError, state.Phase)
	assert.Equal(t, 1, state.ConsecutiveFailures)
	require.NotNil(t, state.LastError)
}

func TestCoordinator_PauseThreshold(t *testing.T) {
	service := &fakeService{}
	service.failWith(errors.New("connection refused"))
	coordinator, _ := newTestCoordinator(t, service)
	require.NoError(t, coordinator.Mount(testChart("cpu")))

	for i := 0; i < 3; i++ {
		coordinator.RequestFetch(context.Background(), "cpu", FetchOptions{Force: true})
	}

	state, _ := coordinator.State("cpu")
	assert.Equal(t, core.PhasePaused, state.Phase)
	assert.Equal(t, 3, state.ConsecutiveFailures)
}

func TestCoordinator_TerminalErrorPausesImmediately(t *testing.T) {
	service := &fakeService{}
	service.failWith(core.NewFetchError(core.ErrKindNotFound, "cpu", errors.New("dataset missing")))
	coordinator, _ := newTestCoordinator(t, service)
	require.NoError(t, coordinator.Mount(testChart("cpu")))

	outcome := coordinator.RequestFetch(context.Background(), "cpu", FetchOptions{})
	require.NotNil(t, outcome.Err)
	assert.Equal(t, core.ErrKindNotFound, outcome.Err.Kind)

	// Terminal kinds are never auto-retried, even below the threshold.
	state, _ := coordinator.State("cpu")
	assert.Equal(t, core.PhasePaused, state.Phase)
}

func TestCoordinator_ManualRefreshResetsFailures(t *testing.T) {
	service := &fakeService{}
	service.failWith(errors.New("connection refused"))
	coordinator, _ := newTestCoordinator(t, service)
	require.NoError(t, coordinator.Mount(testChart("cpu")))

	for i := 0; i < 3; i++ {
		coordinator.RequestFetch(context.Background(), "cpu", FetchOptions{Force: true})
	}
	state, _ := coordinator.State("cpu")
	require.Equal(t, core.PhasePaused, state.Phase)

	// The reset happens before the fetch: even another failure leaves the
	// chart counting from zero again instead of staying paused.
	outcome := coordinator.ManualRefresh(context.Background(), "cpu")
	require.NotNil(t, outcome.Err)

	state, _ = coordinator.State("cpu")
	assert.Equal(t, 1, state.ConsecutiveFailures)
	assert.Equal(t, core.PhaseError, state.Phase)
}

func TestCoordinator_ManualRefreshRecovers(t *testing.T) {
	service := &fakeService{}
	service.failWith(errors.New("connection refused"))
	coordinator, _ := newTestCoordinator(t, service)
	require.NoError(t, coordinator.Mount(testChart("cpu")))

	for i := 0; i < 3; i++ {
		coordinator.RequestFetch(context.Background(), "cpu", FetchOptions{Force: true})
	}

	service.failWith(nil)
	outcome := coordinator.ManualRefresh(context.Background(), "cpu")
	require.Nil(t, outcome.Err)

	state, _ := coordinator.State("cpu")
	assert.Equal(t, core.PhaseReady, state.Phase)
	assert.Zero(t, state.ConsecutiveFailures)
}

func TestCoordinator_FailureIsolation(t *testing.T) {
	service := &fakeService{
		errByID: map[string]error{"cpu": errors.New("connection refused")},
	}
	coordinator, _ := newTestCoordinator(t, service)
	require.NoError(t, coordinator.Mount(testChart("cpu")))
	require.NoError(t, coordinator.Mount(testChart("mem")))

	for i := 0; i < 3; i++ {
		coordinator.RequestFetch(context.Background(), "cpu", FetchOptions{Force: true})
		coordinator.RequestFetch(context.Background(), "mem", FetchOptions{Force: true})
	}

	cpuState, _ := coordinator.State("cpu")
	memState, _ := coordinator.State("mem")

	// cpu's persistent failure never leaks into mem's phase or counters.
	assert.Equal(t, core.PhasePaused, cpuState.Phase)
	assert.Equal(t, core.PhaseReady, memState.Phase)
	assert.Zero(t, memState.ConsecutiveFailures)
}

func TestCoordinator_StaleDataServedOnFailure(t *testing.T) {
	service := &fakeService{}
	coordinator, _ := newTestCoordinator(t, service)
	require.NoError(t, coordinator.Mount(testChart("cpu")))

	first := coordinator.RequestFetch(context.Background(), "cpu", FetchOptions{})
	require.Nil(t, first.Err)

	service.failWith(errors.New("connection refused"))
	second := coordinator.RequestFetch(context.Background(), "cpu", FetchOptions{Force: true})

	// The failure is reported alongside last-known-good data, so the
	// chart never blanks.
	require.NotNil(t, second.Err)
	require.NotNil(t, second.Entry)
	assert.Equal(t, first.Entry.FetchedAt, second.Entry.FetchedAt)
}

func TestCoordinator_AbandonedFetchSafety(t *testing.T) {
	service := &fakeService{
		gate:    make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	coordinator, dataCache := newTestCoordinator(t, service)
	require.NoError(t, coordinator.Mount(testChart("cpu")))

	done := make(chan Outcome, 1)
	go func() {
		done <- coordinator.RequestFetch(context.Background(), "cpu", FetchOptions{})
	}()

	<-service.entered
	coordinator.Unmount("cpu")
	close(service.gate)
	outcome := <-done

	// The fetch resolved, but it must not recreate or mutate state for a
	// chart that no longer exists.
	_, ok := coordinator.State("cpu")
	assert.False(t, ok)

	_, hit := dataCache.Get("cpu", outcome.Entry.Fingerprint)
	assert.False(t, hit)
}

func TestCoordinator_SilentFetchKeepsPhase(t *testing.T) {
	service := &fakeService{}
	coordinator, _ := newTestCoordinator(t, service)
	require.NoError(t, coordinator.Mount(testChart("cpu")))

	require.Nil(t, coordinator.RequestFetch(context.Background(), "cpu", FetchOptions{}).Err)

	// Rig the next call to block so the mid-flight state is observable.
	service.gate = make(chan struct{})
	service.entered = make(chan struct{}, 1)

	go coordinator.RequestFetch(context.Background(), "cpu", FetchOptions{Force: true, Silent: true})
	<-service.entered

	state, _ := coordinator.State("cpu")
	assert.Equal(t, core.PhaseReady, state.Phase)
	assert.True(t, state.Refreshing)

	close(service.gate)
}

func TestCoordinator_TimeoutClassified(t *testing.T) {
	service := &fakeService{gate: make(chan struct{})} // never released
	dataCache, err := cache.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = dataCache.Close() })

	coordinator := NewCoordinator(service, dataCache, nil, logger.NewNop(), 20*time.Millisecond)
	require.NoError(t, coordinator.Mount(testChart("cpu")))

	outcome := coordinator.RequestFetch(context.Background(), "cpu", FetchOptions{})
	require.NotNil(t, outcome.Err)
	assert.Equal(t, core.ErrKindTimeout, outcome.Err.Kind)
}

func TestCoordinator_FetchUnmountedChart(t *testing.T) {
	coordinator, _ := newTestCoordinator(t, &fakeService{})

	outcome := coordinator.RequestFetch(context.Background(), "ghost", FetchOptions{})
	require.NotNil(t, outcome.Err)
	assert.ErrorIs(t, outcome.Err, core.ErrChartNotMounted)
}
