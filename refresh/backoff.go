package refresh

import (
	"time"

	"github.com/dashwire/dashwire/core"

	"github.com/jpillora/backoff"
)

// maxDelayFactor caps the exponential delay at a multiple of the base
// interval, bounding worst-case staleness.
const maxDelayFactor = 10

// NextDelay computes the wait before the next automatic fetch from the
// chart's polling configuration and its current consecutive failure count.
// Pure; the scheduler calls it after every fetch completion.
func NextDelay(cfg core.PollingConfig, consecutiveFailures int) time.Duration {
	base := cfg.Interval

	switch cfg.Backoff {
	case core.BackoffLinear:
		return time.Duration(float64(base) * (1 + float64(consecutiveFailures)*0.5))

	case core.BackoffExponential:
		b := &backoff.Backoff{
			Min:    base,
			Max:    maxDelayFactor * base,
			Factor: 2,
			Jitter: false,
		}
		return b.ForAttempt(float64(consecutiveFailures))

	default: // fixed
		return base
	}
}
