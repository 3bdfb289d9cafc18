package web

import (
	"github.com/dashwire/dashwire/core"
)

// echartsEventTypes maps ECharts native event names to the canonical
// interaction types.
var echartsEventTypes = map[string]core.InteractionType{
	"click":               core.InteractionClick,
	"mouseover":           core.InteractionHover,
	"legendselectchanged": core.InteractionLegendToggle,
	"datazoom":            core.InteractionZoom,
}

// EchartsAdapter maps a native ECharts event payload into the canonical
// interaction event. Pure; registered alongside the echarts descriptor.
func EchartsAdapter(chartID string, native map[string]any) (core.InteractionEvent, bool) {
	name, _ := native["type"].(string)
	eventType, ok := echartsEventTypes[name]
	if !ok {
		return core.InteractionEvent{}, false
	}

	evt := core.InteractionEvent{
		Type:    eventType,
		ChartID: chartID,
	}

	if series, ok := native["seriesName"].(string); ok {
		evt.SeriesID = series
	}

	// ECharts reports dataIndex as a JSON number.
	if idx, ok := native["dataIndex"].(float64); ok {
		evt.DataIndex = int(idx)
	}

	switch eventType {
	case core.InteractionLegendToggle:
		evt.Value = native["name"]
	case core.InteractionZoom:
		evt.Value = map[string]any{
			"start": native["start"],
			"end":   native["end"],
		}
	default:
		evt.Value = native["value"]
	}

	return evt, true
}
