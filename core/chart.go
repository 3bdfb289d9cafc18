package core

import (
	"time"
)

// BackoffStrategy selects how the refresh delay grows after consecutive
// fetch failures.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// Valid reports whether the strategy is one of the known values.
func (b BackoffStrategy) Valid() bool {
	switch b {
	case BackoffFixed, BackoffLinear, BackoffExponential:
		return true
	}
	return false
}

// ActiveWindow restricts the time-of-day range and weekdays during which
// polling may fire. A zero window places no restriction.
type ActiveWindow struct {
	StartHour int            // inclusive, 0-23
	EndHour   int            // exclusive, 1-24
	Days      []time.Weekday // empty means every day
}

// IsZero reports whether no window restriction is configured.
func (w ActiveWindow) IsZero() bool {
	return w.StartHour == 0 && w.EndHour == 0 && len(w.Days) == 0
}

// Contains reports whether the given instant falls inside the window.
func (w ActiveWindow) Contains(t time.Time) bool {
	if w.IsZero() {
		return true
	}

	if len(w.Days) > 0 {
		found := false
		for _, day := range w.Days {
			if t.Weekday() == day {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if w.StartHour == 0 && w.EndHour == 0 {
		return true
	}

	hour := t.Hour()
	if w.StartHour <= w.EndHour {
		return hour >= w.StartHour && hour < w.EndHour
	}

	// Window crosses midnight, e.g. 22-6
	return hour >= w.StartHour || hour < w.EndHour
}

// PollingConfig controls the automatic refresh cycle of a single chart.
// It is supplied by the chart configuration and never mutated by the core.
type PollingConfig struct {
	Enabled                bool
	Interval               time.Duration
	MaxConsecutiveFailures int
	Backoff                BackoffStrategy
	PauseOnTabHidden       bool
	ActiveWindow           ActiveWindow
}

// Chart describes a single dashboard widget: which rendering backend draws
// it, which dataset feeds it and how it polls. Identity is immutable,
// configuration may change between fetches.
type Chart struct {
	ID               string
	Library          string
	Type             string
	DatasetReference string

	// Configuration is the declarative chart blob (axes, series, styling).
	// Opaque to the core, forwarded to the renderer as-is.
	Configuration map[string]any

	// Filters are the applied dataset filters; they participate in the
	// cache fingerprint together with the dataset reference.
	Filters map[string]any

	Polling PollingConfig
}

// Validate performs the structural checks the coordinator relies on.
func (c Chart) Validate() error {
	if c.ID == "" {
		return ErrChartIDEmpty
	}

	if c.Library == "" || c.Type == "" {
		return ErrChartTypeEmpty
	}

	if c.Polling.Enabled {
		if c.Polling.Interval <= 0 {
			return ErrInvalidInterval
		}
		if !c.Polling.Backoff.Valid() {
			return ErrInvalidBackoff
		}
	}

	return nil
}
