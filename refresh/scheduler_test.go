package refresh

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dashwire/dashwire/cache"
	"github.com/dashwire/dashwire/core"
	"github.com/dashwire/dashwire/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVisibility is a controllable core.VisibilityContext.
type fakeVisibility struct {
	mu        sync.Mutex
	hidden    map[string]bool
	tabHidden bool
}

func (v *fakeVisibility) IsChartVisible(chartID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return !v.hidden[chartID]
}

func (v *fakeVisibility) IsTabHidden() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.tabHidden
}

func (v *fakeVisibility) setChartHidden(chartID string, hidden bool) {
	v.mu.Lock()
	v.hidden[chartID] = hidden
	v.mu.Unlock()
}

func fastChart(id string, interval time.Duration) core.Chart {
	chart := testChart(id)
	chart.Polling.Interval = interval
	chart.Polling.Backoff = core.BackoffFixed
	return chart
}

func newTestScheduler(t *testing.T, service core.DataService) (*Scheduler, *Coordinator, *fakeVisibility) {
	t.Helper()

	dataCache, err := cache.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = dataCache.Close() })

	visibility := &fakeVisibility{hidden: make(map[string]bool)}
	coordinator := NewCoordinator(service, dataCache, nil, logger.NewNop(), time.Second)
	scheduler := NewScheduler(coordinator, visibility, logger.NewNop())
	t.Cleanup(scheduler.StopAll)

	return scheduler, coordinator, visibility
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestScheduler_FiresPeriodically(t *testing.T) {
	service := &fakeService{}
	scheduler, coordinator, _ := newTestScheduler(t, service)

	chart := fastChart("cpu", 10*time.Millisecond)
	require.NoError(t, coordinator.Mount(chart))
	scheduler.Start(chart)

	waitFor(t, time.Second, func() bool { return service.callCount() >= 2 })

	state, _ := coordinator.State("cpu")
	assert.Equal(t, core.PhaseReady, state.Phase)
	assert.False(t, state.NextScheduledFetch.IsZero())
}

func TestScheduler_StartDisabledPolling(t *testing.T) {
	scheduler, coordinator, _ := newTestScheduler(t, &fakeService{})

	chart := fastChart("cpu", 10*time.Millisecond)
	chart.Polling.Enabled = false
	require.NoError(t, coordinator.Mount(chart))

	scheduler.Start(chart)
	assert.False(t, scheduler.Scheduled("cpu"))
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	scheduler, coordinator, _ := newTestScheduler(t, &fakeService{})

	chart := fastChart("cpu", 10*time.Millisecond)
	require.NoError(t, coordinator.Mount(chart))
	scheduler.Start(chart)

	scheduler.Stop("cpu")
	scheduler.Stop("cpu")
	scheduler.Stop("never-started")

	assert.False(t, scheduler.Scheduled("cpu"))
}

func TestScheduler_StopDoesNotWaitForInflightFetch(t *testing.T) {
	service := &fakeService{
		gate:    make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	scheduler, coordinator, _ := newTestScheduler(t, service)

	chart := fastChart("cpu", 10*time.Millisecond)
	require.NoError(t, coordinator.Mount(chart))
	scheduler.Start(chart)

	// Wait until the scheduled fetch is inside the service, then stop
	// while it is blocked.
	<-service.entered

	start := time.Now()
	scheduler.Stop("cpu")
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.False(t, scheduler.Scheduled("cpu"))

	close(service.gate)
}

func TestScheduler_SkipsHiddenChart(t *testing.T) {
	service := &fakeService{}
	scheduler, coordinator, visibility := newTestScheduler(t, service)

	chart := fastChart("cpu", 10*time.Millisecond)
	require.NoError(t, coordinator.Mount(chart))
	visibility.setChartHidden("cpu", true)
	scheduler.Start(chart)

	time.Sleep(60 * time.Millisecond)

	// Fires were skipped, not failed.
	assert.Zero(t, service.callCount())
	state, _ := coordinator.State("cpu")
	assert.Zero(t, state.ConsecutiveFailures)
	assert.Equal(t, core.PhaseIdle, state.Phase)

	// The loop keeps rescheduling and resumes once visible again.
	visibility.setChartHidden("cpu", false)
	waitFor(t, time.Second, func() bool { return service.callCount() >= 1 })
}

func TestScheduler_SkipsWhenTabHidden(t *testing.T) {
	service := &fakeService{}
	scheduler, coordinator, visibility := newTestScheduler(t, service)

	chart := fastChart("cpu", 10*time.Millisecond)
	chart.Polling.PauseOnTabHidden = true
	require.NoError(t, coordinator.Mount(chart))
	visibility.tabHidden = true
	scheduler.Start(chart)

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, service.callCount())
}

func TestScheduler_ActiveWindowExcludesNow(t *testing.T) {
	service := &fakeService{}
	scheduler, coordinator, _ := newTestScheduler(t, service)

	chart := fastChart("cpu", 10*time.Millisecond)
	// A window on a different weekday than the clock's.
	chart.Polling.ActiveWindow = core.ActiveWindow{
		Days: []time.Weekday{(time.Now().Weekday() + 1) % 7},
	}
	require.NoError(t, coordinator.Mount(chart))
	scheduler.Start(chart)

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, service.callCount())
}

func TestScheduler_PausesOnThreshold(t *testing.T) {
	service := &fakeService{}
	service.failWith(errors.New("connection refused"))
	scheduler, coordinator, _ := newTestScheduler(t, service)

	chart := fastChart("cpu", 10*time.Millisecond)
	chart.Polling.MaxConsecutiveFailures = 2
	require.NoError(t, coordinator.Mount(chart))
	scheduler.Start(chart)

	waitFor(t, time.Second, func() bool {
		state, _ := coordinator.State("cpu")
		return state.Phase == core.PhasePaused
	})

	// The scheduling loop exits once the chart pauses.
	waitFor(t, time.Second, func() bool { return !scheduler.Scheduled("cpu") })

	calls := service.callCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, service.callCount())
}

func TestScheduler_RearmRestartsPausedChart(t *testing.T) {
	service := &fakeService{}
	service.failWith(errors.New("connection refused"))
	scheduler, coordinator, _ := newTestScheduler(t, service)

	chart := fastChart("cpu", 10*time.Millisecond)
	chart.Polling.MaxConsecutiveFailures = 1
	require.NoError(t, coordinator.Mount(chart))
	scheduler.Start(chart)

	waitFor(t, time.Second, func() bool { return !scheduler.Scheduled("cpu") })

	// Manual refresh path: reset, fetch, re-arm.
	service.failWith(nil)
	coordinator.ManualRefresh(context.Background(), "cpu")
	scheduler.Rearm(chart)

	assert.True(t, scheduler.Scheduled("cpu"))
	waitFor(t, time.Second, func() bool {
		state, _ := coordinator.State("cpu")
		return state.Phase == core.PhaseReady
	})
}

func TestScheduler_IndependentTimers(t *testing.T) {
	service := &fakeService{
		errByID: map[string]error{"cpu": errors.New("connection refused")},
	}
	scheduler, coordinator, _ := newTestScheduler(t, service)

	failing := fastChart("cpu", 10*time.Millisecond)
	healthy := fastChart("mem", 10*time.Millisecond)
	require.NoError(t, coordinator.Mount(failing))
	require.NoError(t, coordinator.Mount(healthy))

	scheduler.Start(failing)
	scheduler.Start(healthy)

	waitFor(t, time.Second, func() bool {
		state, _ := coordinator.State("mem")
		return state.Phase == core.PhaseReady
	})

	// cpu keeps failing; mem keeps succeeding on its own timer.
	memState, _ := coordinator.State("mem")
	assert.Zero(t, memState.ConsecutiveFailures)
}
