// Package viz renders distribution plots comparing column values before and
// after imputation. One PNG per column, written alongside the run output so
// a reviewer can eyeball what the gap filling did to each element.
package viz

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
	"golang.org/x/sync/errgroup"

	"github.com/soilflow/soilflow/internal/stats"
	"github.com/soilflow/soilflow/pkg/dataset"
	"github.com/soilflow/soilflow/pkg/errors"
)

// DefaultBins is the histogram resolution used for the overlays.
const DefaultBins = 20

// Plotter writes comparison plots into a directory.
type Plotter struct {
	dir  string
	bins int
}

// NewPlotter creates a plotter writing PNGs under dir.
func NewPlotter(dir string) *Plotter {
	return &Plotter{dir: dir, bins: DefaultBins}
}

// WithBins overrides the histogram bin count.
func (p *Plotter) WithBins(bins int) *Plotter {
	if bins > 0 {
		p.bins = bins
	}
	return p
}

// Write renders one plot per column that has numeric observations on both
// sides, and returns the paths written. Columns with too little data to Draw
// are skipped rather than failed: a plot is a courtesy, not a deliverable.
func (p *Plotter) Write(ctx context.Context, before, after *dataset.Table, columns []string) ([]string, error) {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return nil, errors.OutputError(p.dir, err)
	}

	paths := make([]string, len(columns))
	g, ctx := errgroup.WithContext(ctx)
	for i, col := range columns {
		i, col := i, col
		b := columnValues(before, col)
		a := columnValues(after, col)
		if len(b) == 0 || len(a) == 0 {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			png, ok, err := p.render(col, b, a)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			path := filepath.Join(p.dir, fileName(col))
			if err := os.WriteFile(path, png, 0o644); err != nil {
				return errors.OutputError(path, err)
			}
			paths[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	written := make([]string, 0, len(paths))
	for _, path := range paths {
		if path != "" {
			written = append(written, path)
		}
	}
	return written, nil
}

// render draws both distributions over a shared set of bins. The second
// return reports whether the sample spans enough distinct values to plot.
func (p *Plotter) render(column string, before, after []float64) ([]byte, bool, error) {
	combined := make([]float64, 0, len(before)+len(after))
	combined = append(combined, before...)
	combined = append(combined, after...)
	edges, _ := stats.Histogram(combined, p.bins)
	if len(edges) < 3 {
		return nil, false, nil
	}

	centers := make([]float64, len(edges)-1)
	for i := range centers {
		centers[i] = (edges[i] + edges[i+1]) / 2
	}
	beforeCounts := binCounts(edges, before)
	afterCounts := binCounts(edges, after)

	beforeFill := &chart.ContinuousSeries{
		Name:    "before imputation",
		XValues: centers,
		YValues: beforeCounts,
		Style: chart.Style{
			StrokeColor: drawing.ColorBlue,
			FillColor:   drawing.ColorBlue.WithAlpha(60),
			StrokeWidth: 2,
		},
	}
	afterLine := &chart.ContinuousSeries{
		Name:    "after imputation",
		XValues: centers,
		YValues: afterCounts,
		Style: chart.Style{
			StrokeColor: drawing.ColorGreen,
			StrokeWidth: 2,
		},
	}

	graph := chart.Chart{
		Title: column + " distribution",
		Background: chart.Style{
			FillColor: drawing.ColorWhite,
			Padding:   chart.Box{Top: 40, Left: 20, Right: 20, Bottom: 20},
		},
		Width:  1024,
		Height: 512,
		XAxis: chart.XAxis{
			Name: column,
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("%.1f", f)
				}
				return ""
			},
		},
		YAxis: chart.YAxis{
			Name: "Frequency",
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("%.0f", f)
				}
				return ""
			},
		},
		Series: []chart.Series{beforeFill, afterLine},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, false, errors.Wrap(err, errors.CodeOutput, "render plot for "+column)
	}
	return buf.Bytes(), true, nil
}

func binCounts(edges []float64, values []float64) []float64 {
	counts := make([]float64, len(edges)-1)
	min, max := edges[0], edges[len(edges)-1]
	width := (max - min) / float64(len(counts))
	for _, v := range values {
		if v < min || v > max {
			continue
		}
		idx := int((v - min) / width)
		if idx >= len(counts) {
			idx = len(counts) - 1
		}
		counts[idx]++
	}
	return counts
}

func columnValues(t *dataset.Table, name string) []float64 {
	if t == nil {
		return nil
	}
	col, ok := t.Column(name)
	if !ok {
		return nil
	}
	out := make([]float64, 0, len(col))
	for _, v := range col {
		if v.Kind == dataset.KindNumber {
			out = append(out, v.Num)
		}
	}
	return out
}

// fileName maps a column name to a filesystem-safe plot name, e.g.
// "Olsen P" -> "Olsen_P_distribution.png".
func fileName(column string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '_'
		}
	}, column)
	return safe + "_distribution.png"
}
