package web

import (
	"context"
	"fmt"
	"time"

	"github.com/dashwire/dashwire/core"
	"github.com/dashwire/dashwire/registry"
)

// Renderer is the registry-facing side of the web backend. Render does not
// draw anything server-side; it pushes the payload to the browser, where
// ECharts draws it.
type Renderer struct {
	server *Server
}

// Descriptor builds the library-wide registration for the echarts backend,
// so every echarts chart type resolves here.
func (s *Server) Descriptor() registry.Descriptor {
	return registry.Descriptor{
		Key:         registry.Key("echarts", "renderer"),
		DisplayName: "ECharts (browser)",
		Capabilities: []core.InteractionType{
			core.InteractionClick,
			core.InteractionHover,
			core.InteractionLegendToggle,
			core.InteractionZoom,
		},
		Renderer: &Renderer{server: s},
		Adapter:  EchartsAdapter,
	}
}

// Render implements core.Renderer.
func (r *Renderer) Render(_ context.Context, chart core.Chart, data core.Dataset, _ core.RenderTarget) error {
	if r.server == nil {
		return fmt.Errorf("web renderer: no server configured for chart %s", chart.ID)
	}

	r.server.Push(ChartPayload{
		ChartID:       chart.ID,
		ChartType:     chart.Type,
		Configuration: chart.Configuration,
		Data:          data,
		UpdatedAt:     time.Now(),
	})
	return nil
}

// SupportedInteractions implements core.Renderer.
func (r *Renderer) SupportedInteractions() []core.InteractionType {
	return []core.InteractionType{
		core.InteractionClick,
		core.InteractionHover,
		core.InteractionLegendToggle,
		core.InteractionZoom,
	}
}
