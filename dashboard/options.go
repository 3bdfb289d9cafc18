package dashboard

import (
	"time"

	"github.com/dashwire/dashwire/core"
)

type timeoutConfig struct {
	fetch time.Duration
}

// Option configures a Session at construction time.
type Option func(*Session)

// WithCache replaces the default in-memory cache.
func WithCache(dataCache core.DataCache) Option {
	return func(s *Session) {
		s.cache = dataCache
	}
}

// WithNotifier installs an out-of-band alerting channel for chart health.
func WithNotifier(notifier core.Notifier) Option {
	return func(s *Session) {
		s.notifier = notifier
	}
}

// WithVisibility replaces the session's own visibility tracking with an
// external context, e.g. one driven by the embedding UI.
func WithVisibility(visibility core.VisibilityContext) Option {
	return func(s *Session) {
		s.visibility = visibility
	}
}

// WithFetchTimeout bounds each data fetch.
func WithFetchTimeout(timeout time.Duration) Option {
	return func(s *Session) {
		s.timeout.fetch = timeout
	}
}
