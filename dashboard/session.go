// Package dashboard wires the core subsystems into one session: a
// registry of renderer backends, the chart data cache and the refresh
// engine, exposed to the embedding UI through a narrow surface.
package dashboard

import (
	"context"
	"fmt"
	"sync"

	"github.com/dashwire/dashwire/cache"
	"github.com/dashwire/dashwire/core"
	"github.com/dashwire/dashwire/event"
	"github.com/dashwire/dashwire/refresh"
	"github.com/dashwire/dashwire/registry"

	"github.com/StudioSol/set"
)

// Session owns the full lifecycle of one dashboard: charts are added,
// made visible, kept fresh by the refresh engine and rendered through
// whichever backend the registry resolves. One registry and one cache
// exist per session; there is no hidden process-global state.
type Session struct {
	registry    *registry.Registry
	cache       core.DataCache
	coordinator *refresh.Coordinator
	scheduler   *refresh.Scheduler
	normalizer  *event.Normalizer
	notifier    core.Notifier
	visibility  core.VisibilityContext
	log         core.Logger

	mu        sync.RWMutex
	charts    map[string]core.Chart
	visible   *set.LinkedHashSetString
	tabHidden bool

	stateListener refresh.StateListener
	liveTarget    *core.RenderTarget

	timeout timeoutConfig
}

// New creates a session. The data service is the only mandatory
// collaborator; cache, notifier and visibility default to built-ins.
func New(service core.DataService, log core.Logger, options ...Option) (*Session, error) {
	if service == nil {
		return nil, fmt.Errorf("data service cannot be nil")
	}

	if log == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	s := &Session{
		registry: registry.New(log),
		log:      log,
		charts:   make(map[string]core.Chart),
		visible:  set.NewLinkedHashSetString(),
	}

	for _, option := range options {
		option(s)
	}

	if s.cache == nil {
		dataCache, err := cache.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create data cache: %w", err)
		}
		s.cache = dataCache
	}

	if s.visibility == nil {
		s.visibility = s
	}

	s.coordinator = refresh.NewCoordinator(service, s.cache, s.notifier, log, s.timeout.fetch)
	s.coordinator.SetStateListener(s.handleStateChange)
	s.scheduler = refresh.NewScheduler(s.coordinator, s.visibility, log)
	s.normalizer = event.NewNormalizer(log)

	return s, nil
}

// Registry exposes the session's renderer registry for startup
// registration.
func (s *Session) Registry() *registry.Registry {
	return s.registry
}

// AddChart mounts a chart. Charts start invisible; SetVisible begins
// scheduling.
func (s *Session) AddChart(chart core.Chart) error {
	if err := s.coordinator.Mount(chart); err != nil {
		return err
	}

	s.mu.Lock()
	s.charts[chart.ID] = chart
	s.mu.Unlock()

	return nil
}

// RemoveChart unmounts a chart: scheduling stops, its runtime state is
// destroyed, cached entries are dropped and any in-flight fetch is
// abandoned.
func (s *Session) RemoveChart(chartID string) {
	s.scheduler.Stop(chartID)
	s.coordinator.Unmount(chartID)
	s.normalizer.Unsubscribe(chartID)

	s.mu.Lock()
	delete(s.charts, chartID)
	s.visible.Remove(chartID)
	s.mu.Unlock()

	if err := s.cache.Invalidate(chartID); err != nil {
		s.log.WithError(err).WithField("chart", chartID).Warn("failed to invalidate cache")
	}
}

// UpdateChart replaces a chart's configuration. Cached data for the chart
// is invalidated, since the logical query may have changed.
func (s *Session) UpdateChart(chart core.Chart) error {
	if err := s.coordinator.UpdateChart(chart); err != nil {
		return err
	}

	s.mu.Lock()
	s.charts[chart.ID] = chart
	s.mu.Unlock()

	return nil
}

// Charts returns the mounted chart definitions.
func (s *Session) Charts() []core.Chart {
	s.mu.RLock()
	defer s.mu.RUnlock()

	charts := make([]core.Chart, 0, len(s.charts))
	for _, chart := range s.charts {
		charts = append(charts, chart)
	}
	return charts
}

// SetVisible starts or stops scheduling for a chart. Hidden charts keep
// their runtime state and cache but stop polling.
func (s *Session) SetVisible(chartID string, visible bool) {
	s.mu.Lock()
	chart, ok := s.charts[chartID]
	if visible {
		s.visible.Add(chartID)
	} else {
		s.visible.Remove(chartID)
	}
	s.mu.Unlock()

	if !ok {
		return
	}

	if visible {
		s.scheduler.Start(chart)
	} else {
		s.scheduler.Stop(chartID)
	}
}

// SetTabHidden records whether the host tab is hidden; charts with
// PauseOnTabHidden skip their fires while it is.
func (s *Session) SetTabHidden(hidden bool) {
	s.mu.Lock()
	s.tabHidden = hidden
	s.mu.Unlock()
}

// IsChartVisible implements core.VisibilityContext.
func (s *Session) IsChartVisible(chartID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.visible.InArray(chartID)
}

// IsTabHidden implements core.VisibilityContext.
func (s *Session) IsTabHidden() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.tabHidden
}

// GetChartState returns a read-only snapshot of a chart's runtime state.
func (s *Session) GetChartState(chartID string) (core.RuntimeState, bool) {
	return s.coordinator.State(chartID)
}

// OnStateChange installs the state transition observer.
func (s *Session) OnStateChange(listener refresh.StateListener) {
	s.mu.Lock()
	s.stateListener = listener
	s.mu.Unlock()
}

// EnableLiveRender re-renders a chart through its resolved backend every
// time a fetch completes with fresh data. Push-style backends (the web
// server) receive their frames this way; pull-style backends are invoked
// with the given target.
func (s *Session) EnableLiveRender(target core.RenderTarget) {
	s.mu.Lock()
	s.liveTarget = &target
	s.mu.Unlock()
}

// handleStateChange fans a coordinator transition out to the observer and,
// when live rendering is on, pushes fresh data through the chart's
// backend. Fetches that are still in flight (loading, retrying, silent
// refresh) are skipped; by the time a chart reports ready the cache entry
// is fresh, so the nested Render never issues a network call.
func (s *Session) handleStateChange(chartID string, state core.RuntimeState) {
	s.mu.RLock()
	listener := s.stateListener
	target := s.liveTarget
	s.mu.RUnlock()

	if listener != nil {
		listener(chartID, state)
	}

	if target == nil || state.Phase != core.PhaseReady || state.Refreshing {
		return
	}

	if err := s.Render(context.Background(), chartID, *target); err != nil {
		s.log.WithError(err).WithField("chart", chartID).Debug("live render failed")
	}
}

// SetNotifier installs the alerting channel after construction, for
// notifiers that themselves need the session (e.g. to serve manual
// refresh commands).
func (s *Session) SetNotifier(notifier core.Notifier) {
	s.notifier = notifier
	s.coordinator.SetNotifier(notifier)
}

// ManualRefresh forces a fetch for a chart, resetting its failure count
// and resuming automatic scheduling if it was paused. The currently
// scheduled fire is cancelled and re-armed at the base interval.
func (s *Session) ManualRefresh(ctx context.Context, chartID string) refresh.Outcome {
	outcome := s.coordinator.ManualRefresh(ctx, chartID)

	s.mu.RLock()
	chart, ok := s.charts[chartID]
	visible := s.visible.InArray(chartID)
	s.mu.RUnlock()

	if ok && visible && chart.Polling.Enabled {
		s.scheduler.Rearm(chart)
	}

	return outcome
}

// OnInteraction subscribes a handler to a chart's normalized interaction
// events.
func (s *Session) OnInteraction(chartID string, handler core.InteractionHandler) {
	s.normalizer.Subscribe(chartID, handler)
}

// DispatchInteraction feeds a renderer-native interaction payload through
// the chart's adapter into the normalizer. Used as the sink for renderer
// backends with an interaction channel.
func (s *Session) DispatchInteraction(chartID string, native map[string]any) {
	s.mu.RLock()
	chart, ok := s.charts[chartID]
	s.mu.RUnlock()
	if !ok {
		return
	}

	descriptor, err := s.registry.Resolve(chart.Library, chart.Type)
	if err != nil {
		return
	}

	s.normalizer.Dispatch(chartID, descriptor.Adapter, native)
}

// Render resolves the chart's backend and invokes it with the freshest
// available data. A fetch failure with last-known-good data still renders
// the stale data and reports the error, so the chart never blanks.
func (s *Session) Render(ctx context.Context, chartID string, target core.RenderTarget) error {
	s.mu.RLock()
	chart, ok := s.charts[chartID]
	s.mu.RUnlock()
	if !ok {
		return core.ErrChartNotMounted
	}

	descriptor, err := s.registry.Resolve(chart.Library, chart.Type)
	if err != nil {
		// A resolution failure is a configuration error of this chart,
		// distinct from a data-fetch error.
		return core.NewFetchError(core.ErrKindRenderer, chartID, err)
	}

	outcome := s.coordinator.RequestFetch(ctx, chartID, refresh.FetchOptions{})
	if outcome.Entry == nil {
		if outcome.Err != nil {
			return outcome.Err
		}
		return fmt.Errorf("chart %s has no data", chartID)
	}

	if err := descriptor.Renderer.Render(ctx, chart, outcome.Entry.Data, target); err != nil {
		return core.NewFetchError(core.ErrKindRenderer, chartID, err)
	}

	if outcome.Err != nil {
		// Rendered last-known-good data; surface the failure for the
		// error indicator.
		return outcome.Err
	}
	return nil
}

// Prime runs the initial fetch of every mounted chart, reporting progress
// through the callback. Failures are recorded per chart and never abort
// the loop.
func (s *Session) Prime(ctx context.Context, progress func(done, total int)) {
	charts := s.Charts()
	for i, chart := range charts {
		s.coordinator.RequestFetch(ctx, chart.ID, refresh.FetchOptions{})
		if progress != nil {
			progress(i+1, len(charts))
		}
	}
}

// Run primes all charts, makes them visible and blocks until the context
// is cancelled.
func (s *Session) Run(ctx context.Context) error {
	s.Prime(ctx, nil)

	for _, chart := range s.Charts() {
		s.SetVisible(chart.ID, true)
	}

	<-ctx.Done()
	s.Close()
	return ctx.Err()
}

// Close stops all scheduling and releases the cache and registry.
func (s *Session) Close() {
	s.scheduler.StopAll()
	s.registry.Dispose()

	if err := s.cache.Close(); err != nil {
		s.log.WithError(err).Warn("failed to close cache")
	}
}
