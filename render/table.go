// Package render ships the built-in renderer backends registered with the
// registry, including the generic tabular fallback every resolution ends
// at.
package render

import (
	"context"
	"fmt"

	"github.com/dashwire/dashwire/core"
	"github.com/dashwire/dashwire/registry"

	"github.com/google/goterm/term"
	"github.com/olekukonko/tablewriter"
	"gonum.org/v1/gonum/stat"
)

// maxTableRows bounds terminal output for large datasets.
const maxTableRows = 50

// Table is the generic tabular backend. It renders any dataset and serves
// as the final resolver fallback, so it must never depend on
// chart-specific configuration.
type Table struct {
	// Color enables terminal coloring of the header and summary rows.
	Color bool
}

// TableDescriptor builds the registry descriptor for the fallback backend.
func TableDescriptor() registry.Descriptor {
	return registry.Descriptor{
		Key:         registry.FallbackKey,
		DisplayName: "Table",
		Renderer:    &Table{Color: true},
	}
}

// Render writes the dataset as an aligned text table, followed by a
// mean/stddev summary line per numeric column.
func (t *Table) Render(_ context.Context, chart core.Chart, data core.Dataset, target core.RenderTarget) error {
	if target.Output == nil {
		return fmt.Errorf("table renderer: no output writer for chart %s", chart.ID)
	}

	writer := tablewriter.NewWriter(target.Output)
	writer.SetHeader(headerNames(data.Columns, t.Color))
	writer.SetBorder(false)
	writer.SetAutoWrapText(false)

	for i, row := range data.Rows {
		if i >= maxTableRows {
			writer.SetCaption(true, fmt.Sprintf("%d more rows", len(data.Rows)-maxTableRows))
			break
		}
		writer.Append(formatRow(row))
	}

	writer.Render()

	for i, col := range data.Columns {
		if col.Kind != core.ColumnNumber {
			continue
		}

		values := numericColumn(data, i)
		if len(values) == 0 {
			continue
		}

		mean, std := stat.MeanStdDev(values, nil)
		summary := fmt.Sprintf("%s: mean=%.4g stddev=%.4g n=%d", col.Name, mean, std, len(values))
		if t.Color {
			summary = term.Cyanf("%s", summary)
		}
		fmt.Fprintln(target.Output, summary)
	}

	return nil
}

// SupportedInteractions implements core.Renderer. Terminal output has no
// interaction channel.
func (t *Table) SupportedInteractions() []core.InteractionType {
	return nil
}

func headerNames(columns []core.Column, color bool) []string {
	names := make([]string, len(columns))
	for i, col := range columns {
		if color {
			names[i] = term.Bluef("%s", col.Name)
		} else {
			names[i] = col.Name
		}
	}
	return names
}

func formatRow(row core.Row) []string {
	cells := make([]string, len(row))
	for i, v := range row {
		cells[i] = fmt.Sprintf("%v", v)
	}
	return cells
}

// numericColumn extracts the float values at column index, skipping cells
// that are not numbers.
func numericColumn(data core.Dataset, index int) []float64 {
	values := make([]float64, 0, len(data.Rows))
	for _, row := range data.Rows {
		if index >= len(row) {
			continue
		}
		switch v := row[index].(type) {
		case float64:
			values = append(values, v)
		case float32:
			values = append(values, float64(v))
		case int:
			values = append(values, float64(v))
		case int64:
			values = append(values, float64(v))
		}
	}
	return values
}
