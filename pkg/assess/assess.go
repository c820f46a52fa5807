// Package assess checks imputation quality: for each contaminant column it
// compares the distribution of originally observed values against the
// post-imputation column with a two-sample Kolmogorov-Smirnov test. A small
// p-value means filling the gaps changed the shape of the data.
package assess

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/soilflow/soilflow/internal/stats"
	"github.com/soilflow/soilflow/pkg/dataset"
)

// DefaultAlpha is the significance level for flagging a distorted column.
const DefaultAlpha = 0.05

// DefaultColumns returns the contaminant and physical columns the survey
// assesses.
func DefaultColumns() []string {
	return []string{"MP-10", "As", "Cd", "Cr", "Cu", "Ni", "Pb", "Zn"}
}

// ColumnResult is the KS outcome for one column.
type ColumnResult struct {
	Column    string
	Statistic float64
	PValue    float64
	NBefore   int
	NAfter    int
}

// Report holds per-column results in request order, plus the requested
// columns that could not be tested.
type Report struct {
	Results []ColumnResult
	Skipped []string
}

// Flagged returns the columns whose p-value falls below alpha.
func (r Report) Flagged(alpha float64) []string {
	var out []string
	for _, res := range r.Results {
		if res.PValue < alpha {
			out = append(out, res.Column)
		}
	}
	return out
}

// Compare tests each requested column between the pre-imputation and
// post-imputation tables. Columns absent from either table, or with no
// numeric values on one side, are skipped rather than failing the run. The
// per-column tests run concurrently; result order follows the request.
func Compare(ctx context.Context, before, after *dataset.Table, columns []string) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	type job struct {
		column string
		pre    []float64
		post   []float64
	}

	var report Report
	var jobs []job
	for _, col := range columns {
		pre := numericValues(before, col)
		post := numericValues(after, col)
		if len(pre) == 0 || len(post) == 0 {
			report.Skipped = append(report.Skipped, col)
			continue
		}
		jobs = append(jobs, job{column: col, pre: pre, post: post})
	}

	results := make([]ColumnResult, len(jobs))
	g, ctx := errgroup.WithContext(ctx)
	for i, jb := range jobs {
		i, jb := i, jb
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ks := stats.KolmogorovSmirnov(jb.pre, jb.post)
			results[i] = ColumnResult{
				Column:    jb.column,
				Statistic: ks.Statistic,
				PValue:    ks.PValue,
				NBefore:   ks.N1,
				NAfter:    ks.N2,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	report.Results = results
	return report, nil
}

// numericValues extracts the column's numeric cells, dropping missing and
// textual ones. Returns nil when the column is absent.
func numericValues(t *dataset.Table, name string) []float64 {
	cells, ok := t.Column(name)
	if !ok {
		return nil
	}
	var out []float64
	for _, c := range cells {
		if v, numeric := c.Float(); numeric {
			out = append(out, v)
		}
	}
	return out
}
