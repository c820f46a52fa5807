// Package impute fills missing numeric cells by iterative multivariate
// regression. Each round refits every incomplete column against all other
// numeric columns and replaces its missing entries with the fitted values,
// until the largest change falls under tolerance or the round limit hits.
package impute

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/soilflow/soilflow/pkg/dataset"
	"github.com/soilflow/soilflow/pkg/errors"
)

// Column visit orders.
const (
	OrderAscending = "ascending"
	OrderRandom    = "random"
)

// Options tunes a run. The zero value is not usable; start from
// DefaultOptions.
type Options struct {
	MaxIterations int
	Tolerance     float64
	Seed          int64
	Order         string
}

// DefaultOptions returns the standard settings: ten rounds, early stop at a
// relative tolerance of 1e-3, columns visited least-missing first.
func DefaultOptions() Options {
	return Options{
		MaxIterations: 10,
		Tolerance:     1e-3,
		Seed:          0,
		Order:         OrderAscending,
	}
}

// ColumnReport describes one imputed column.
type ColumnReport struct {
	Name    string
	Missing int
	Mean    float64
}

// Report summarizes a run.
type Report struct {
	Columns    []ColumnReport // columns that received values, schema order
	Skipped    []string       // numeric columns with nothing observed
	Iterations int
	Converged  bool
}

// Imputer runs the iterative scheme. Safe to reuse; each call reseeds from
// Options.Seed so identical inputs give identical outputs.
type Imputer struct {
	opts Options
}

// New returns an Imputer, filling unset options from the defaults.
func New(opts Options) *Imputer {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultOptions().MaxIterations
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultOptions().Tolerance
	}
	if opts.Order == "" {
		opts.Order = DefaultOptions().Order
	}
	return &Imputer{opts: opts}
}

// column is one numeric column in the working matrix.
type column struct {
	name    string
	pos     int   // position in the working matrix
	missing []int // row indices needing values, ascending
	mean    float64
}

// Impute returns a copy of t with missing cells of its numeric columns
// filled. Columns named in exclude and columns holding any text are carried
// through untouched; numeric columns with no observed value at all are
// skipped and reported. A table with nothing missing comes back unchanged.
func (im *Imputer) Impute(t *dataset.Table, exclude []string) (*dataset.Table, Report, error) {
	if t.NumRows() == 0 {
		return t, Report{Converged: true}, nil
	}

	skip := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		skip[name] = true
	}

	var report Report
	var cols []column
	for _, name := range t.NumericColumns(skip) {
		idx, _ := t.ColumnIndex(name)

		var missing []int
		sum, observed := 0.0, 0
		for r := 0; r < t.NumRows(); r++ {
			if v, ok := t.Cell(r, idx).Float(); ok {
				sum += v
				observed++
			} else {
				missing = append(missing, r)
			}
		}
		if observed == 0 {
			report.Skipped = append(report.Skipped, name)
			continue
		}

		cols = append(cols, column{
			name:    name,
			pos:     len(cols),
			missing: missing,
			mean:    sum / float64(observed),
		})
		if len(missing) > 0 {
			report.Columns = append(report.Columns, ColumnReport{
				Name:    name,
				Missing: len(missing),
				Mean:    sum / float64(observed),
			})
		}
	}

	if len(report.Columns) == 0 {
		report.Converged = true
		return t, report, nil
	}

	work, scale := im.initialFill(t, cols)
	threshold := im.opts.Tolerance * scale
	if scale == 0 {
		threshold = im.opts.Tolerance
	}

	rng := rand.New(rand.NewSource(im.opts.Seed))
	targets := visitOrder(cols)

	for iter := 1; iter <= im.opts.MaxIterations; iter++ {
		if im.opts.Order == OrderRandom {
			rng.Shuffle(len(targets), func(i, j int) {
				targets[i], targets[j] = targets[j], targets[i]
			})
		}

		maxDelta := 0.0
		for _, j := range targets {
			preds := fitColumn(work, cols, j)
			for k, r := range cols[j].missing {
				if d := math.Abs(preds[k] - work[r][cols[j].pos]); d > maxDelta {
					maxDelta = d
				}
				work[r][cols[j].pos] = preds[k]
			}
		}

		report.Iterations = iter
		if maxDelta <= threshold {
			report.Converged = true
			break
		}
	}

	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
	}
	out, err := Apply(t, names, work)
	if err != nil {
		return nil, report, err
	}
	return out, report, nil
}

// initialFill builds the row-major working matrix, seeding missing entries
// with their column's observed mean. scale is the largest observed magnitude,
// the reference for the convergence threshold.
func (im *Imputer) initialFill(t *dataset.Table, cols []column) (work [][]float64, scale float64) {
	work = make([][]float64, t.NumRows())
	for r := range work {
		work[r] = make([]float64, len(cols))
	}
	for _, c := range cols {
		idx, _ := t.ColumnIndex(c.name)
		for r := 0; r < t.NumRows(); r++ {
			if v, ok := t.Cell(r, idx).Float(); ok {
				work[r][c.pos] = v
				if a := math.Abs(v); a > scale {
					scale = a
				}
			} else {
				work[r][c.pos] = c.mean
			}
		}
	}
	return work, scale
}

// visitOrder returns the incomplete columns sorted by ascending missing
// count, ties in schema order.
func visitOrder(cols []column) []int {
	var targets []int
	for j, c := range cols {
		if len(c.missing) > 0 {
			targets = append(targets, j)
		}
	}
	sort.SliceStable(targets, func(a, b int) bool {
		return len(cols[targets[a]].missing) < len(cols[targets[b]].missing)
	})
	return targets
}

// fitColumn regresses column j on every other working column over the rows
// where j was observed, then predicts j's missing rows. Underdetermined or
// ill-conditioned fits fall back to the observed mean.
func fitColumn(work [][]float64, cols []column, j int) []float64 {
	target := cols[j]
	preds := make([]float64, len(target.missing))

	missing := make(map[int]bool, len(target.missing))
	for _, r := range target.missing {
		missing[r] = true
	}
	var obsRows []int
	for r := range work {
		if !missing[r] {
			obsRows = append(obsRows, r)
		}
	}

	nParams := len(cols) // intercept plus the other columns
	if len(obsRows) < nParams {
		for k := range preds {
			preds[k] = target.mean
		}
		return preds
	}

	x := mat.NewDense(len(obsRows), nParams, nil)
	y := mat.NewVecDense(len(obsRows), nil)
	for i, r := range obsRows {
		x.Set(i, 0, 1)
		c := 1
		for p := range cols {
			if p == j {
				continue
			}
			x.Set(i, c, work[r][p])
			c++
		}
		y.SetVec(i, work[r][target.pos])
	}

	var qr mat.QR
	qr.Factorize(x)
	var beta mat.Dense
	if err := qr.SolveTo(&beta, false, y); err != nil {
		for k := range preds {
			preds[k] = target.mean
		}
		return preds
	}

	for k, r := range target.missing {
		v := beta.At(0, 0)
		c := 1
		for p := range cols {
			if p == j {
				continue
			}
			v += beta.At(c, 0) * work[r][p]
			c++
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = target.mean
		}
		preds[k] = v
	}
	return preds
}

// Apply writes the working matrix back over the named columns of a copy of
// t, row by row. The matrix must line up with the table exactly; a
// disagreement means the imputed values no longer correspond to their source
// rows and the run must not produce output.
func Apply(t *dataset.Table, columns []string, values [][]float64) (*dataset.Table, error) {
	if len(values) != t.NumRows() {
		return nil, errors.AlignmentMismatch(t.NumRows(), len(values))
	}

	idx := make([]int, len(columns))
	for i, name := range columns {
		j, ok := t.ColumnIndex(name)
		if !ok {
			return nil, errors.New(errors.CodeAlignment, fmt.Sprintf("imputed column %q not in table", name))
		}
		idx[i] = j
	}

	out := t.Clone()
	for r, row := range values {
		if len(row) != len(columns) {
			return nil, errors.New(errors.CodeAlignment,
				fmt.Sprintf("row %d carries %d values for %d columns", r, len(row), len(columns)))
		}
		for i, j := range idx {
			out.SetCell(r, j, dataset.Number(row[i]))
		}
	}
	return out, nil
}
