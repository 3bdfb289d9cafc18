package core

import (
	"context"
	"io"
	"time"
)

// DataService executes chart data queries against the backend. How the
// query runs server-side is outside the core; only this contract matters.
type DataService interface {
	FetchChartData(ctx context.Context, req QueryRequest) (*QueryResult, error)
}

// DataCache stores the last successful query result per (chart,
// fingerprint) key. Implementations must make Put atomic with respect to a
// single key, so concurrent readers never observe a half-written entry.
// Freshness is a pure function of (now, entry); the cache holds no timers.
type DataCache interface {
	Get(chartID, fingerprint string) (*CacheEntry, bool)
	Put(entry CacheEntry) error
	Invalidate(chartID string) error
	Close() error
}

// VisibilityContext tells the scheduler whether a chart is currently
// visible and whether the host tab is hidden. Supplied by the embedding
// UI layer.
type VisibilityContext interface {
	IsChartVisible(chartID string) bool
	IsTabHidden() bool
}

// RenderTarget carries the output dimensions handed to a renderer.
type RenderTarget struct {
	Width  int
	Height int
	Output io.Writer
}

// Renderer turns tabular data plus declarative configuration into a
// visual chart. Each registered backend implements this once; the core
// reaches it only through the registry.
type Renderer interface {
	Render(ctx context.Context, chart Chart, data Dataset, target RenderTarget) error
	SupportedInteractions() []InteractionType
}

// Notifier receives out-of-band alerts about chart health. Optional; a
// nil notifier disables alerting.
type Notifier interface {
	OnChartPaused(chartID string, failures int, lastErr *FetchError)
	OnChartError(chartID string, err *FetchError)
	OnChartRecovered(chartID string, after time.Duration)
}
