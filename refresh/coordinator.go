// Package refresh keeps chart data fresh: the Coordinator executes
// deduplicated fetches and drives each chart's lifecycle state machine,
// the Scheduler fires them on independent per-chart timers with
// failure-aware backoff.
package refresh

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dashwire/dashwire/cache"
	"github.com/dashwire/dashwire/core"
)

// DefaultTimeout bounds a single data fetch when the session does not
// override it.
const DefaultTimeout = 30 * time.Second

// defaultTTL is the cache freshness window for charts without polling,
// where the interval cannot serve as TTL.
const defaultTTL = time.Minute

// FetchOptions modifies a single fetch request.
type FetchOptions struct {
	// Force bypasses the freshness check and always goes to the network.
	Force bool
	// Silent keeps the chart out of the user-visible loading phase; used
	// by background polling so last-known-good data stays on screen.
	Silent bool
}

// Outcome is the result every caller of a (possibly coalesced) fetch
// receives. Failures are reported here, never raised, so one chart's
// failure cannot propagate to its siblings.
type Outcome struct {
	Entry     *core.CacheEntry
	Err       *core.FetchError
	FromCache bool
}

// inflight is one running fetch shared by every coalesced caller.
type inflight struct {
	done    chan struct{}
	outcome Outcome
}

// chartEntry is the coordinator-owned mutable state of one mounted chart.
type chartEntry struct {
	chart core.Chart
	state core.RuntimeState

	// generation increments on every mount of the chart id, so a fetch
	// started before an unmount can never apply to a later remount.
	generation uint64

	running *inflight
}

// StateListener observes runtime state transitions. Invoked outside the
// coordinator lock.
type StateListener func(chartID string, state core.RuntimeState)

// Coordinator executes chart data fetches with per-chart request
// coalescing, classifies outcomes and owns the cache and runtime state of
// every mounted chart.
type Coordinator struct {
	service  core.DataService
	cache    core.DataCache
	notifier core.Notifier
	log      core.Logger
	timeout  time.Duration

	mu          sync.Mutex
	charts      map[string]*chartEntry
	generations map[string]uint64
	listener    StateListener

	now func() time.Time
}

// NewCoordinator creates a coordinator. The notifier may be nil.
func NewCoordinator(
	service core.DataService,
	dataCache core.DataCache,
	notifier core.Notifier,
	log core.Logger,
	timeout time.Duration,
) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Coordinator{
		service:     service,
		cache:       dataCache,
		notifier:    notifier,
		log:         log,
		timeout:     timeout,
		charts:      make(map[string]*chartEntry),
		generations: make(map[string]uint64),
		now:         time.Now,
	}
}

// SetStateListener installs the transition observer. Must be called before
// any chart is mounted.
func (c *Coordinator) SetStateListener(listener StateListener) {
	c.listener = listener
}

// SetNotifier installs the alerting channel after construction; the
// notifier usually needs the session that owns this coordinator.
func (c *Coordinator) SetNotifier(notifier core.Notifier) {
	c.notifier = notifier
}

// Mount registers a chart and creates its runtime state at the idle phase.
func (c *Coordinator) Mount(chart core.Chart) error {
	if err := chart.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.charts[chart.ID]; ok {
		return nil
	}

	c.generations[chart.ID]++
	c.charts[chart.ID] = &chartEntry{
		chart:      chart,
		generation: c.generations[chart.ID],
		state: core.RuntimeState{
			ChartID: chart.ID,
			Phase:   core.PhaseIdle,
		},
	}

	c.log.WithField("chart", chart.ID).Debug("chart mounted")
	return nil
}

// Unmount destroys a chart's runtime state. An in-flight fetch for the
// chart is abandoned: its eventual result is still delivered to waiting
// callers but no longer mutates state or cache.
func (c *Coordinator) Unmount(chartID string) {
	c.mu.Lock()
	delete(c.charts, chartID)
	c.mu.Unlock()

	c.log.WithField("chart", chartID).Debug("chart unmounted")
}

// UpdateChart replaces a mounted chart's configuration and drops its
// cached entries, since the logical query may have changed.
func (c *Coordinator) UpdateChart(chart core.Chart) error {
	if err := chart.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	entry, ok := c.charts[chart.ID]
	if ok {
		entry.chart = chart
	}
	c.mu.Unlock()

	if !ok {
		return core.ErrChartNotMounted
	}

	return c.cache.Invalidate(chart.ID)
}

// State returns a read-only snapshot of a chart's runtime state.
func (c *Coordinator) State(chartID string) (core.RuntimeState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.charts[chartID]
	if !ok {
		return core.RuntimeState{}, false
	}
	return entry.state, true
}

// Chart returns the current definition of a mounted chart.
func (c *Coordinator) Chart(chartID string) (core.Chart, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.charts[chartID]
	if !ok {
		return core.Chart{}, false
	}
	return entry.chart, true
}

// RequestFetch resolves the chart's data: from the cache when a fresh
// entry exists and Force is unset, otherwise via the data service.
// Overlapping calls for the same chart coalesce into one network request
// and all callers receive the same outcome. Blocks until resolved.
func (c *Coordinator) RequestFetch(ctx context.Context, chartID string, opts FetchOptions) Outcome {
	c.mu.Lock()

	entry, ok := c.charts[chartID]
	if !ok {
		c.mu.Unlock()
		return Outcome{Err: core.NewFetchError(core.ErrKindConfiguration, chartID, core.ErrChartNotMounted)}
	}

	// Coalesce into the running fetch, if any.
	if entry.running != nil {
		running := entry.running
		c.mu.Unlock()
		<-running.done
		return running.outcome
	}

	chart := entry.chart
	fingerprint := cache.Fingerprint(chart)

	if !opts.Force {
		if cached, hit := c.cache.Get(chartID, fingerprint); hit && cached.Fresh(c.now()) {
			transitioned := entry.state.Phase == core.PhaseIdle
			if transitioned {
				c.transitionLocked(entry, core.PhaseReady)
			}
			c.mu.Unlock()
			if transitioned {
				c.notifyState(chartID)
			}
			return Outcome{Entry: cached, FromCache: true}
		}
	}

	running := &inflight{done: make(chan struct{})}
	entry.running = running
	generation := entry.generation

	if opts.Silent {
		entry.state.Refreshing = true
	} else if entry.state.ConsecutiveFailures > 0 {
		c.transitionLocked(entry, core.PhaseRetrying)
	} else {
		c.transitionLocked(entry, core.PhaseLoading)
	}
	c.mu.Unlock()
	c.notifyState(chartID)

	outcome := c.execute(ctx, chart, fingerprint, generation)

	running.outcome = outcome
	close(running.done)
	c.notifyState(chartID)

	return outcome
}

// execute performs the network fetch and applies the classified result to
// cache and state, unless the chart was unmounted while the fetch was in
// flight.
func (c *Coordinator) execute(ctx context.Context, chart core.Chart, fingerprint string, generation uint64) Outcome {
	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := c.service.FetchChartData(fetchCtx, core.QueryRequest{
		ChartID:          chart.ID,
		DatasetReference: chart.DatasetReference,
		Filters:          chart.Filters,
		Timeout:          c.timeout,
	})

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = core.NewFetchError(core.ErrKindTimeout, chart.ID, err)
		}
		return c.applyFailure(chart, fingerprint, generation, core.ClassifyError(chart.ID, err))
	}

	return c.applySuccess(chart, fingerprint, generation, result)
}

// applySuccess stores the result and moves the chart to ready.
func (c *Coordinator) applySuccess(chart core.Chart, fingerprint string, generation uint64, result *core.QueryResult) Outcome {
	now := c.now()
	cacheEntry := core.CacheEntry{
		ChartID:     chart.ID,
		Fingerprint: fingerprint,
		Data:        result.Data,
		FetchedAt:   now,
		TTL:         cacheTTL(chart),
	}

	c.mu.Lock()
	entry, live := c.liveEntry(chart.ID, generation)
	if !live {
		c.mu.Unlock()
		c.log.WithField("chart", chart.ID).Debug("discarding fetch result for unmounted chart")
		return Outcome{Entry: &cacheEntry}
	}

	recoveredAfter := time.Duration(0)
	if entry.state.ConsecutiveFailures > 0 && !entry.state.LastSuccessAt.IsZero() {
		recoveredAfter = now.Sub(entry.state.LastSuccessAt)
	}

	// Write the cache entry before the phase flips to ready, so a reader
	// never sees a ready chart without data behind it.
	if err := c.cache.Put(cacheEntry); err != nil {
		c.log.WithError(err).WithField("chart", chart.ID).Error("failed to write cache entry")
	}

	entry.running = nil
	entry.state.Refreshing = false
	entry.state.ConsecutiveFailures = 0
	entry.state.LastError = nil
	entry.state.LastSuccessAt = now
	c.transitionLocked(entry, core.PhaseReady)
	c.mu.Unlock()

	if recoveredAfter > 0 && c.notifier != nil {
		c.notifier.OnChartRecovered(chart.ID, recoveredAfter)
	}

	return Outcome{Entry: &cacheEntry}
}

// applyFailure records a classified failure: retryable kinds count toward
// the failure threshold, terminal kinds pause the chart immediately. The
// last-known-good cache entry, if any, is returned alongside the error so
// the UI never blanks the chart.
func (c *Coordinator) applyFailure(chart core.Chart, fingerprint string, generation uint64, fetchErr *core.FetchError) Outcome {
	lastKnown, _ := c.cache.Get(chart.ID, fingerprint)

	c.mu.Lock()
	entry, live := c.liveEntry(chart.ID, generation)
	if !live {
		c.mu.Unlock()
		return Outcome{Entry: lastKnown, Err: fetchErr}
	}

	entry.running = nil
	entry.state.Refreshing = false
	entry.state.LastError = fetchErr

	paused := false
	if !fetchErr.Kind.Retryable() {
		paused = true
	} else {
		entry.state.ConsecutiveFailures++
		threshold := chart.Polling.MaxConsecutiveFailures
		paused = threshold > 0 && entry.state.ConsecutiveFailures >= threshold
	}

	failures := entry.state.ConsecutiveFailures
	if paused {
		c.transitionLocked(entry, core.PhasePaused)
	} else {
		c.transitionLocked(entry, core.PhaseError)
	}
	c.mu.Unlock()

	c.log.WithError(fetchErr).WithFields(map[string]any{
		"chart":    chart.ID,
		"kind":     fetchErr.Kind,
		"failures": failures,
	}).Warn("chart fetch failed")

	if c.notifier != nil {
		if paused {
			c.notifier.OnChartPaused(chart.ID, failures, fetchErr)
		} else {
			c.notifier.OnChartError(chart.ID, fetchErr)
		}
	}

	return Outcome{Entry: lastKnown, Err: fetchErr}
}

// ManualRefresh resets the failure count, leaves the paused phase and
// forces a fetch. The reset happens before the fetch, so automatic
// scheduling resumes regardless of the fetch outcome.
func (c *Coordinator) ManualRefresh(ctx context.Context, chartID string) Outcome {
	c.mu.Lock()
	entry, ok := c.charts[chartID]
	if ok {
		entry.state.ConsecutiveFailures = 0
		if entry.state.Phase == core.PhasePaused {
			c.transitionLocked(entry, core.PhaseLoading)
		}
	}
	c.mu.Unlock()

	if !ok {
		return Outcome{Err: core.NewFetchError(core.ErrKindConfiguration, chartID, core.ErrChartNotMounted)}
	}
	c.notifyState(chartID)

	return c.RequestFetch(ctx, chartID, FetchOptions{Force: true})
}

// setNextScheduled records when the scheduler will fire next for a chart.
func (c *Coordinator) setNextScheduled(chartID string, at time.Time) {
	c.mu.Lock()
	if entry, ok := c.charts[chartID]; ok {
		entry.state.NextScheduledFetch = at
	}
	c.mu.Unlock()
}

// liveEntry returns the chart entry only if the chart is still mounted in
// the same generation the fetch started in.
func (c *Coordinator) liveEntry(chartID string, generation uint64) (*chartEntry, bool) {
	entry, ok := c.charts[chartID]
	if !ok || entry.generation != generation {
		return nil, false
	}
	return entry, true
}

// transitionLocked sets the phase. Caller holds the lock.
func (c *Coordinator) transitionLocked(entry *chartEntry, phase core.Phase) {
	if entry.state.Phase == phase {
		return
	}

	c.log.WithFields(map[string]any{
		"chart": entry.chart.ID,
		"from":  entry.state.Phase,
		"to":    phase,
	}).Trace("phase transition")
	entry.state.Phase = phase
}

// notifyState pushes the current snapshot to the listener, outside the
// lock.
func (c *Coordinator) notifyState(chartID string) {
	if c.listener == nil {
		return
	}
	if state, ok := c.State(chartID); ok {
		c.listener(chartID, state)
	}
}

// cacheTTL is the adopted freshness policy: the polling interval when the
// chart polls, a fixed default otherwise.
func cacheTTL(chart core.Chart) time.Duration {
	if chart.Polling.Enabled && chart.Polling.Interval > 0 {
		return chart.Polling.Interval
	}
	return defaultTTL
}
