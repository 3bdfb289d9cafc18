package core

import (
	"time"
)

// Phase is the lifecycle state of a mounted chart.
type Phase string

const (
	// PhaseIdle is the initial phase: chart mounted, no fetch attempted.
	PhaseIdle Phase = "idle"
	// PhaseLoading means a user-visible fetch is in flight.
	PhaseLoading Phase = "loading"
	// PhaseReady means the last fetch succeeded and data is displayable.
	PhaseReady Phase = "ready"
	// PhaseError means the last fetch failed but automatic retries continue.
	PhaseError Phase = "error"
	// PhaseRetrying means a retry fetch is in flight after a failure.
	PhaseRetrying Phase = "retrying"
	// PhasePaused means the failure threshold was crossed; automatic
	// scheduling is halted until a manual refresh.
	PhasePaused Phase = "paused"
)

// RuntimeState is a read-only snapshot of one chart's lifecycle, exposed
// to the rendering layer. It is owned by the fetch coordinator/scheduler
// pair; consumers must never mutate it.
type RuntimeState struct {
	ChartID             string
	Phase               Phase
	ConsecutiveFailures int
	LastError           *FetchError
	LastSuccessAt       time.Time
	NextScheduledFetch  time.Time

	// Refreshing is true while a background (silent) fetch is in flight;
	// Phase stays untouched so the UI keeps showing last-known-good data.
	Refreshing bool
}
