// Package contam derives the contamination index. Each tracked element's
// concentration is expressed as a ratio to its native background level, the
// ratios average into a single index per row, and the index maps to a
// contamination class.
package contam

import (
	"github.com/soilflow/soilflow/internal/stats"
	"github.com/soilflow/soilflow/pkg/dataset"
	"github.com/soilflow/soilflow/pkg/errors"
)

// Element pairs a tracked element with its native background concentration.
// The set and the levels are survey constants, not configuration.
type Element struct {
	Name     string
	Baseline float64
}

// Elements returns the tracked elements in canonical order.
func Elements() []Element {
	return []Element{
		{"As", 6.2},
		{"Cd", 0.375},
		{"Cr", 28.5},
		{"Cu", 23.0},
		{"Ni", 17.95},
		{"Pb", 33.0},
		{"Zn", 94.5},
	}
}

// Contamination classes.
const (
	ClassLow      = "Low Contamination"
	ClassModerate = "Moderate Contamination"
	ClassHigh     = "High Contamination"
)

// Index column names.
const (
	IndexColumn = "ICI"
	ClassColumn = "ICI_Class"
)

// CIColumns returns the per-element ratio column names in canonical order.
func CIColumns() []string {
	els := Elements()
	out := make([]string, len(els))
	for i, el := range els {
		out[i] = "CI_" + el.Name
	}
	return out
}

// Classify maps an index value to its class.
func Classify(ici float64) string {
	switch {
	case ici <= 1:
		return ClassLow
	case ici <= 3:
		return ClassModerate
	default:
		return ClassHigh
	}
}

// Report counts the classified rows.
type Report struct {
	Rows         int
	Classes      map[string]int
	Unclassified int
}

// Score appends, per tracked element, a CI_<El> ratio column, then the ICI
// aggregate and its class. Every element column must exist and be free of
// text; otherwise the run fails. A missing concentration leaves its ratio
// missing and the aggregate averages over what remains; a row with no ratios
// at all gets no index and no class.
func Score(t *dataset.Table) (*dataset.Table, Report, error) {
	els := Elements()

	indices := make([]int, len(els))
	for i, el := range els {
		idx, ok := t.ColumnIndex(el.Name)
		if !ok {
			return nil, Report{}, errors.BadColumn(el.Name, "element column absent")
		}
		if !t.IsNumeric(idx) {
			return nil, Report{}, errors.BadColumn(el.Name, "element column holds text")
		}
		indices[i] = idx
	}

	out := t.Clone()
	report := Report{
		Rows:    t.NumRows(),
		Classes: make(map[string]int),
	}

	ratios := make([][]dataset.Value, len(els))
	for i, el := range els {
		col := make([]dataset.Value, t.NumRows())
		for r := 0; r < t.NumRows(); r++ {
			if v, ok := t.Cell(r, indices[i]).Float(); ok {
				col[r] = dataset.Number(stats.Round2(v / el.Baseline))
			} else {
				col[r] = dataset.Missing
			}
		}
		ratios[i] = col
	}
	for i, name := range CIColumns() {
		if err := out.AppendColumn(name, ratios[i]); err != nil {
			return nil, Report{}, err
		}
	}

	index := make([]dataset.Value, t.NumRows())
	class := make([]dataset.Value, t.NumRows())
	for r := 0; r < t.NumRows(); r++ {
		sum, n := 0.0, 0
		for i := range els {
			if v, ok := ratios[i][r].Float(); ok {
				sum += v
				n++
			}
		}
		if n == 0 {
			index[r] = dataset.Missing
			class[r] = dataset.Missing
			report.Unclassified++
			continue
		}
		ici := stats.Round2(sum / float64(n))
		label := Classify(ici)
		index[r] = dataset.Number(ici)
		class[r] = dataset.Text(label)
		report.Classes[label]++
	}
	if err := out.AppendColumn(IndexColumn, index); err != nil {
		return nil, Report{}, err
	}
	if err := out.AppendColumn(ClassColumn, class); err != nil {
		return nil, Report{}, err
	}

	return out, report, nil
}
