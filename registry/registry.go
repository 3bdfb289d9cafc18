// Package registry holds the process-wide catalog of renderer backends and
// resolves a chart's declared library/type to the first available one.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dashwire/dashwire/core"

	"github.com/samber/lo"
	"golang.org/x/exp/maps"
)

// FallbackKey is the generic tabular backend every resolution falls back
// to when neither the exact nor the library-wide renderer is registered.
const FallbackKey = "table"

// Descriptor describes one registered renderer backend.
type Descriptor struct {
	// Key is "{library}-{chartType}" for an exact match, or
	// "{library}-renderer" for a library-wide backend.
	Key          string
	DisplayName  string
	Capabilities []core.InteractionType
	Renderer     core.Renderer

	// Adapter normalizes this backend's native interaction payloads.
	// Optional; a nil adapter means the backend emits no interactions.
	Adapter core.InteractionAdapter
}

// DuplicateRendererError is returned when a key is registered twice with a
// different descriptor.
type DuplicateRendererError struct {
	Key string
}

func (e *DuplicateRendererError) Error() string {
	return fmt.Sprintf("renderer already registered for key %q", e.Key)
}

// RendererNotFoundError is returned when none of the candidate keys for a
// chart resolve to a registered backend. It is a configuration error, not
// a data-fetch error, and is never subject to polling retry.
type RendererNotFoundError struct {
	Library   string
	ChartType string
	Tried     []string
}

func (e *RendererNotFoundError) Error() string {
	return fmt.Sprintf("no renderer for %s/%s (tried %s)",
		e.Library, e.ChartType, strings.Join(e.Tried, ", "))
}

// Registry maps renderer keys to descriptors. One instance is owned by
// the dashboard session; it is populated at startup and read-mostly
// afterwards.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Descriptor
	log     core.Logger
}

// New creates an empty registry.
func New(log core.Logger) *Registry {
	return &Registry{
		entries: make(map[string]Descriptor),
		log:     log,
	}
}

// Key builds the lookup key for a library/chartType pair.
func Key(library, chartType string) string {
	return fmt.Sprintf("%s-%s", library, chartType)
}

// Register adds a renderer under its key. Re-registering an identical
// descriptor is a no-op; registering a different descriptor under an
// existing key fails. Registration is additive only, existing entries are
// never replaced.
func (r *Registry) Register(d Descriptor) error {
	if d.Key == "" || d.Renderer == nil {
		return fmt.Errorf("invalid descriptor: key and renderer are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[d.Key]; ok {
		if sameDescriptor(existing, d) {
			return nil
		}
		return &DuplicateRendererError{Key: d.Key}
	}

	r.entries[d.Key] = d
	r.log.WithField("key", d.Key).Debugf("registered renderer %q", d.DisplayName)
	return nil
}

// Candidates returns the ordered lookup keys for a library/chartType pair:
// exact match first, then the library-wide renderer, then the tabular
// fallback.
func Candidates(library, chartType string) []string {
	return []string{
		Key(library, chartType),
		Key(library, "renderer"),
		FallbackKey,
	}
}

// Resolve returns the first registered descriptor among the candidate keys
// for the chart's declared library/type. It is deterministic and free of
// side effects, safe to call on every re-render.
func (r *Registry) Resolve(library, chartType string) (Descriptor, error) {
	candidates := Candidates(library, chartType)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, key := range candidates {
		if d, ok := r.entries[key]; ok {
			return d, nil
		}
	}

	return Descriptor{}, &RendererNotFoundError{
		Library:   library,
		ChartType: chartType,
		Tried:     candidates,
	}
}

// Lookup returns the descriptor registered under an exact key.
func (r *Registry) Lookup(key string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.entries[key]
	return d, ok
}

// Keys returns all registered keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := maps.Keys(r.entries)
	sort.Strings(keys)
	return keys
}

// Dispose drops all entries. The registry must not be used afterwards.
func (r *Registry) Dispose() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = make(map[string]Descriptor)
}

// sameDescriptor reports whether two descriptors describe the same
// registration, making duplicate registration idempotent.
func sameDescriptor(a, b Descriptor) bool {
	return a.Key == b.Key &&
		a.DisplayName == b.DisplayName &&
		a.Renderer == b.Renderer &&
		lo.Every(a.Capabilities, b.Capabilities) &&
		lo.Every(b.Capabilities, a.Capabilities)
}
