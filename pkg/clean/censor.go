package clean

import (
	"strconv"
	"strings"

	"github.com/soilflow/soilflow/pkg/dataset"
	"github.com/soilflow/soilflow/pkg/errors"
)

// censorMarker prefixes a value reported only as "below detection limit".
const censorMarker = "<"

// CensoredColumn records the normalization applied to one column.
type CensoredColumn struct {
	Name     string
	Replaced int // censored values rewritten to limit/2
	Coerced  int // plain text coerced to missing
}

// CensorReport lists the columns that carried censored values.
type CensorReport struct {
	Columns []CensoredColumn
}

// NormalizeCensored rewrites left-censored values. Any column containing at
// least one "<limit" cell is converted wholesale: censored cells become
// limit/2, other textual cells are coerced to numbers where possible and to
// missing otherwise. Columns without the marker are untouched. A censored
// cell whose limit is not numeric aborts the run.
func NormalizeCensored(t *dataset.Table) (*dataset.Table, CensorReport, error) {
	out := t.Clone()
	var report CensorReport

	for col, name := range out.Columns() {
		if !columnHasCensored(out, col) {
			continue
		}

		cc := CensoredColumn{Name: name}
		for row := 0; row < out.NumRows(); row++ {
			v := out.Cell(row, col)
			if v.Kind != dataset.KindText {
				continue
			}

			if strings.HasPrefix(v.Str, censorMarker) {
				limit, err := strconv.ParseFloat(strings.TrimSpace(v.Str[len(censorMarker):]), 64)
				if err != nil {
					return nil, CensorReport{}, errors.CensoredValueError(name, row, v.Str)
				}
				out.SetCell(row, col, dataset.Number(limit/2))
				cc.Replaced++
				continue
			}

			if f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64); err == nil {
				out.SetCell(row, col, dataset.Number(f))
			} else {
				out.SetCell(row, col, dataset.Missing)
				cc.Coerced++
			}
		}
		report.Columns = append(report.Columns, cc)
	}

	return out, report, nil
}

func columnHasCensored(t *dataset.Table, col int) bool {
	for row := 0; row < t.NumRows(); row++ {
		v := t.Cell(row, col)
		if v.Kind == dataset.KindText && strings.HasPrefix(v.Str, censorMarker) {
			return true
		}
	}
	return false
}
