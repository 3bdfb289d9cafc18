package core

import (
	"time"
)

// InteractionType is the canonical kind of a user interaction with a
// rendered chart.
type InteractionType string

const (
	InteractionClick        InteractionType = "click"
	InteractionHover        InteractionType = "hover"
	InteractionLegendToggle InteractionType = "legend_toggle"
	InteractionZoom         InteractionType = "zoom"
)

// InteractionEvent is the one canonical event shape every renderer-native
// interaction payload is normalized into before reaching upstream
// consumers.
type InteractionEvent struct {
	Type      InteractionType `json:"type"`
	ChartID   string          `json:"chart_id"`
	SeriesID  string          `json:"series_id,omitempty"`
	DataIndex int             `json:"data_index,omitempty"`
	Value     any             `json:"value,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// InteractionHandler consumes normalized interaction events for one chart.
type InteractionHandler func(event InteractionEvent)

// InteractionAdapter maps one renderer's native interaction payload into
// the canonical event shape. Adapters are pure functions registered
// alongside the renderer descriptor; ok is false when the payload does not
// describe a supported interaction.
type InteractionAdapter func(chartID string, native map[string]any) (event InteractionEvent, ok bool)
