package refresh

import (
	"testing"
	"time"

	"github.com/dashwire/dashwire/core"

	"github.com/stretchr/testify/assert"
)

func pollingWith(strategy core.BackoffStrategy) core.PollingConfig {
	return core.PollingConfig{
		Enabled:  true,
		Interval: 10 * time.Second,
		Backoff:  strategy,
	}
}

func TestNextDelay_Fixed(t *testing.T) {
	cfg := pollingWith(core.BackoffFixed)

	for failures := 0; failures < 5; failures++ {
		assert.Equal(t, 10*time.Second, NextDelay(cfg, failures))
	}
}

func TestNextDelay_Linear(t *testing.T) {
	cfg := pollingWith(core.BackoffLinear)

	assert.Equal(t, 10*time.Second, NextDelay(cfg, 0))
	assert.Equal(t, 15*time.Second, NextDelay(cfg, 1))
	assert.Equal(t, 20*time.Second, NextDelay(cfg, 2))
	assert.Equal(t, 25*time.Second, NextDelay(cfg, 3))
}

func TestNextDelay_Exponential(t *testing.T) {
	cfg := pollingWith(core.BackoffExponential)

	assert.Equal(t, 10*time.Second, NextDelay(cfg, 0))
	assert.Equal(t, 20*time.Second, NextDelay(cfg, 1))
	assert.Equal(t, 40*time.Second, NextDelay(cfg, 2))
	assert.Equal(t, 80*time.Second, NextDelay(cfg, 3))
}

func TestNextDelay_ExponentialCap(t *testing.T) {
	cfg := pollingWith(core.BackoffExponential)

	// 10s * 2^10 would be ~2.8h; the cap bounds worst-case staleness at
	// ten times the base interval.
	assert.Equal(t, 100*time.Second, NextDelay(cfg, 10))
}

func TestNextDelay_ResetsWithFailures(t *testing.T) {
	cfg := pollingWith(core.BackoffExponential)

	// After a success the failure count is zero and the delay returns to
	// the base interval immediately.
	assert.Equal(t, 80*time.Second, NextDelay(cfg, 3))
	assert.Equal(t, 10*time.Second, NextDelay(cfg, 0))
}
