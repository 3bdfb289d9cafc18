// Package event normalizes renderer-native interaction payloads into one
// canonical event shape and fans it out to per-chart subscribers.
package event

import (
	"sync"
	"time"

	"github.com/dashwire/dashwire/core"
)

// Normalizer relays renderer interactions to upstream consumers. Adapters
// are pure, registered per renderer backend; the normalizer itself only
// routes.
type Normalizer struct {
	log core.Logger

	mu       sync.RWMutex
	handlers map[string][]core.InteractionHandler

	now func() time.Time
}

// NewNormalizer creates an empty normalizer.
func NewNormalizer(log core.Logger) *Normalizer {
	return &Normalizer{
		log:      log,
		handlers: make(map[string][]core.InteractionHandler),
		now:      time.Now,
	}
}

// Subscribe registers a handler for one chart's normalized events.
func (n *Normalizer) Subscribe(chartID string, handler core.InteractionHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.handlers[chartID] = append(n.handlers[chartID], handler)
}

// Unsubscribe drops all handlers for a chart, used on unmount.
func (n *Normalizer) Unsubscribe(chartID string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	delete(n.handlers, chartID)
}

// Dispatch runs the adapter over a native payload and delivers the
// canonical event to the chart's subscribers. Payloads the adapter does
// not recognize are dropped.
func (n *Normalizer) Dispatch(chartID string, adapter core.InteractionAdapter, native map[string]any) {
	if adapter == nil {
		return
	}

	evt, ok := adapter(chartID, native)
	if !ok {
		n.log.WithField("chart", chartID).Trace("dropping unrecognized interaction payload")
		return
	}

	if evt.Timestamp.IsZero() {
		evt.Timestamp = n.now()
	}
	evt.ChartID = chartID

	n.Emit(evt)
}

// Emit delivers an already-canonical event to the chart's subscribers.
func (n *Normalizer) Emit(evt core.InteractionEvent) {
	n.mu.RLock()
	handlers := make([]core.InteractionHandler, len(n.handlers[evt.ChartID]))
	copy(handlers, n.handlers[evt.ChartID])
	n.mu.RUnlock()

	for _, handler := range handlers {
		handler(evt)
	}
}
