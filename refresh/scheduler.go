package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/dashwire/dashwire/core"
)

// task is one chart's scheduling loop. Each visible chart owns exactly
// one; loops never share timers, so one chart's backoff cannot delay
// another's.
type task struct {
	chart core.Chart
	stop  chan struct{}
	rearm chan struct{}
}

// Scheduler fires periodic silent fetches per chart through the
// coordinator. It skips fires while the chart is invisible, the host tab
// is hidden (when the chart opts in) or the active window excludes now;
// skips are rescheduled at the base interval and never count as failures.
type Scheduler struct {
	coordinator *Coordinator
	visibility  core.VisibilityContext
	log         core.Logger

	mu    sync.Mutex
	tasks map[string]*task

	now func() time.Time
}

// NewScheduler creates a scheduler bound to a coordinator.
func NewScheduler(coordinator *Coordinator, visibility core.VisibilityContext, log core.Logger) *Scheduler {
	return &Scheduler{
		coordinator: coordinator,
		visibility:  visibility,
		log:         log,
		tasks:       make(map[string]*task),
		now:         time.Now,
	}
}

// Start begins scheduling for a chart if its polling is enabled. Starting
// an already scheduled chart is a no-op.
func (s *Scheduler) Start(chart core.Chart) {
	if !chart.Polling.Enabled {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[chart.ID]; ok {
		return
	}

	t := &task{
		chart: chart,
		stop:  make(chan struct{}),
		rearm: make(chan struct{}, 1),
	}
	s.tasks[chart.ID] = t

	go s.run(t)

	s.log.WithField("chart", chart.ID).Debugf("scheduling every %s", chart.Polling.Interval)
}

// Stop cancels a chart's timer. Idempotent, safe on charts that were never
// started. Stop does not wait for an in-flight fetch: the loop exits at
// its next timer check, and the coordinator's liveness check discards the
// result if the chart was unmounted in the meantime.
func (s *Scheduler) Stop(chartID string) {
	s.mu.Lock()
	t, ok := s.tasks[chartID]
	if ok {
		delete(s.tasks, chartID)
	}
	s.mu.Unlock()

	if ok {
		close(t.stop)
	}
}

// StopAll cancels every timer, used on session shutdown.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = make(map[string]*task)
	s.mu.Unlock()

	for _, t := range tasks {
		close(t.stop)
	}
}

// Rearm cancels the currently scheduled fire and re-arms the timer at the
// base interval, without touching any in-flight request. Called after a
// manual refresh. If the chart is not scheduled (e.g. it was paused), the
// loop is started again.
func (s *Scheduler) Rearm(chart core.Chart) {
	s.mu.Lock()
	t, ok := s.tasks[chart.ID]
	s.mu.Unlock()

	if !ok {
		s.Start(chart)
		return
	}

	select {
	case t.rearm <- struct{}{}:
	default:
	}
}

// Scheduled reports whether a chart currently owns a scheduling loop.
func (s *Scheduler) Scheduled(chartID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.tasks[chartID]
	return ok
}

// run is the per-chart loop: wait for the timer, fire a silent fetch,
// recompute the delay from the failure count.
func (s *Scheduler) run(t *task) {
	chartID := t.chart.ID
	base := t.chart.Polling.Interval
	delay := base

	for {
		s.coordinator.setNextScheduled(chartID, s.now().Add(delay))

		timer := time.NewTimer(delay)
		select {
		case <-t.stop:
			timer.Stop()
			return

		case <-t.rearm:
			timer.Stop()
			delay = base
			continue

		case <-timer.C:
		}

		if s.skip(t.chart) {
			delay = base
			continue
		}

		s.coordinator.RequestFetch(context.Background(), chartID, FetchOptions{Silent: true})

		state, ok := s.coordinator.State(chartID)
		if !ok {
			// Chart unmounted while fetching; the dashboard also stops the
			// task, this is just the short way out.
			s.forget(chartID)
			return
		}

		if state.Phase == core.PhasePaused {
			s.log.WithField("chart", chartID).Infof(
				"automatic refresh paused after %d consecutive failures", state.ConsecutiveFailures)
			s.forget(chartID)
			return
		}

		delay = NextDelay(t.chart.Polling, state.ConsecutiveFailures)
	}
}

// skip reports whether this fire must be silently rescheduled instead of
// fetching.
func (s *Scheduler) skip(chart core.Chart) bool {
	if s.visibility != nil {
		if !s.visibility.IsChartVisible(chart.ID) {
			return true
		}
		if chart.Polling.PauseOnTabHidden && s.visibility.IsTabHidden() {
			return true
		}
	}

	return !chart.Polling.ActiveWindow.Contains(s.now())
}

// forget removes the task entry for a loop that exited on its own.
func (s *Scheduler) forget(chartID string) {
	s.mu.Lock()
	delete(s.tasks, chartID)
	s.mu.Unlock()
}
