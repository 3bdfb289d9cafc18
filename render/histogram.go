package render

import (
	"context"
	"fmt"

	"github.com/dashwire/dashwire/core"
	"github.com/dashwire/dashwire/registry"

	"github.com/aybabtme/uniplot/histogram"
)

const defaultHistogramBins = 10

// Histogram renders the distribution of the first numeric column as a
// terminal histogram. Registered library-wide under "uniplot-renderer" so
// any uniplot chart type resolves to it.
type Histogram struct {
	Bins int
}

// HistogramDescriptor builds the registry descriptor for the uniplot
// backend.
func HistogramDescriptor() registry.Descriptor {
	return registry.Descriptor{
		Key:         registry.Key("uniplot", "renderer"),
		DisplayName: "Terminal histogram",
		Renderer:    &Histogram{Bins: defaultHistogramBins},
	}
}

// Render implements core.Renderer.
func (h *Histogram) Render(_ context.Context, chart core.Chart, data core.Dataset, target core.RenderTarget) error {
	if target.Output == nil {
		return fmt.Errorf("histogram renderer: no output writer for chart %s", chart.ID)
	}

	index := -1
	for i, col := range data.Columns {
		if col.Kind == core.ColumnNumber {
			index = i
			break
		}
	}
	if index == -1 {
		return fmt.Errorf("histogram renderer: chart %s has no numeric column", chart.ID)
	}

	values := numericColumn(data, index)
	if len(values) == 0 {
		return fmt.Errorf("histogram renderer: chart %s has no numeric values", chart.ID)
	}

	bins := h.Bins
	if bins <= 0 {
		bins = defaultHistogramBins
	}

	hist := histogram.Hist(bins, values)
	width := target.Width
	if width <= 0 {
		width = 40
	}

	return histogram.Fprint(target.Output, hist, histogram.Linear(width))
}

// SupportedInteractions implements core.Renderer.
func (h *Histogram) SupportedInteractions() []core.InteractionType {
	return nil
}
