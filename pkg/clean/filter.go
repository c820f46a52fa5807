// Package clean implements the row-level cleaning stages: dropping rows with
// missing critical measurements, duplicate detection and removal, and
// below-detection-limit value normalization.
package clean

import (
	"github.com/soilflow/soilflow/pkg/dataset"
	"github.com/soilflow/soilflow/pkg/errors"
)

// FilterReport records the effect of the critical-value row filter.
type FilterReport struct {
	RowsBefore int
	RowsAfter  int
	Dropped    int
}

// DropMissingCritical returns a table without the rows missing any critical
// measurement. Row order is preserved; the operation is idempotent.
func DropMissingCritical(t *dataset.Table, critical []string) (*dataset.Table, FilterReport, error) {
	idx := make([]int, len(critical))
	for i, col := range critical {
		j, ok := t.ColumnIndex(col)
		if !ok {
			return nil, FilterReport{}, errors.MissingColumns([]string{col}, t.Columns())
		}
		idx[i] = j
	}

	out := t.FilterRows(func(_ int, row []dataset.Value) bool {
		for _, j := range idx {
			if row[j].IsMissing() {
				return false
			}
		}
		return true
	})

	report := FilterReport{
		RowsBefore: t.NumRows(),
		RowsAfter:  out.NumRows(),
		Dropped:    t.NumRows() - out.NumRows(),
	}
	return out, report, nil
}
