package core

import (
	"errors"
	"fmt"
)

var (
	ErrChartIDEmpty    = errors.New("empty chart id")
	ErrChartTypeEmpty  = errors.New("empty chart library or type")
	ErrInvalidInterval = errors.New("polling interval must be positive")
	ErrInvalidBackoff  = errors.New("unknown backoff strategy")
	ErrChartNotMounted = errors.New("chart is not mounted")
)

// ErrorKind classifies a fetch or render failure so the scheduler and the
// UI can tell retryable conditions from terminal ones.
type ErrorKind string

const (
	ErrKindNetwork          ErrorKind = "network"
	ErrKindTimeout          ErrorKind = "timeout"
	ErrKindServer           ErrorKind = "server"
	ErrKindNotFound         ErrorKind = "not_found"
	ErrKindPermissionDenied ErrorKind = "permission_denied"
	ErrKindConfiguration    ErrorKind = "configuration"
	ErrKindRenderer         ErrorKind = "renderer"
)

// Retryable reports whether failures of this kind should count toward the
// automatic retry cycle. Terminal kinds are surfaced immediately and are
// never auto-retried, even below the failure threshold.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrKindNetwork, ErrKindTimeout, ErrKindServer:
		return true
	}
	return false
}

// FetchError is a classified failure of a chart data fetch. It is captured
// into the chart's own runtime state and never thrown across chart
// boundaries.
type FetchError struct {
	Kind    ErrorKind
	ChartID string
	Err     error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("chart %s: %s: %v", e.ChartID, e.Kind, e.Err)
}

// Unwrap exposes the underlying error for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError wraps err with a classification for the given chart.
func NewFetchError(kind ErrorKind, chartID string, err error) *FetchError {
	return &FetchError{Kind: kind, ChartID: chartID, Err: err}
}

// ClassifyError maps an arbitrary error returned by a data service into a
// FetchError. Already-classified errors pass through; one missing a chart
// id is stamped on a copy, never mutated in place, since services may
// return shared error values. Everything else defaults to a network
// failure.
func ClassifyError(chartID string, err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		if fe.ChartID == "" {
			stamped := *fe
			stamped.ChartID = chartID
			return &stamped
		}
		return fe
	}

	return NewFetchError(ErrKindNetwork, chartID, err)
}
