// Package schema validates that a dataset carries the columns the pipeline
// depends on, and profiles what it actually carries.
package schema

import (
	"github.com/soilflow/soilflow/pkg/dataset"
	"github.com/soilflow/soilflow/pkg/errors"
)

// Validate confirms every required column is present. On failure it returns a
// single coded error naming exactly the missing columns, in required order.
func Validate(t *dataset.Table, required []string) error {
	var missing []string
	for _, col := range required {
		if !t.HasColumn(col) {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return errors.MissingColumns(missing, t.Columns())
	}
	return nil
}

// ColumnProfile summarizes one column for reporting.
type ColumnProfile struct {
	Name        string
	Kind        string // numeric | text | empty
	Missing     int
	MissingRate float64
}

// Profile summarizes a dataset: shape plus per-column missingness. It is
// purely observational and feeds the info command and the run report.
type Profile struct {
	Rows    int
	Cols    int
	Columns []ColumnProfile
}

// Describe profiles every column in schema order.
func Describe(t *dataset.Table) *Profile {
	p := &Profile{
		Rows:    t.NumRows(),
		Cols:    t.NumCols(),
		Columns: make([]ColumnProfile, 0, t.NumCols()),
	}

	for i, name := range t.Columns() {
		missing := t.MissingCount(name)
		kind := "text"
		if missing == p.Rows {
			kind = "empty"
		} else if t.IsNumeric(i) {
			kind = "numeric"
		}

		rate := 0.0
		if p.Rows > 0 {
			rate = float64(missing) / float64(p.Rows)
		}

		p.Columns = append(p.Columns, ColumnProfile{
			Name:        name,
			Kind:        kind,
			Missing:     missing,
			MissingRate: rate,
		})
	}
	return p
}
