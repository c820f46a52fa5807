package clean

import (
	"strconv"
	"strings"

	"github.com/soilflow/soilflow/pkg/dataset"
)

// DuplicateReport counts rows that exactly repeat an earlier row.
type DuplicateReport struct {
	Total      int
	Duplicates int
	Percent    float64
}

// Duplicates detects rows identical to an earlier row across all columns.
// Missing cells compare equal. Detection always runs and only reports;
// removal is a separate, explicitly requested operation.
func Duplicates(t *dataset.Table) DuplicateReport {
	seen := make(map[string]bool, t.NumRows())
	dups := 0
	for i := 0; i < t.NumRows(); i++ {
		key := rowKey(t.Row(i))
		if seen[key] {
			dups++
		} else {
			seen[key] = true
		}
	}

	report := DuplicateReport{Total: t.NumRows(), Duplicates: dups}
	if t.NumRows() > 0 {
		report.Percent = float64(dups) / float64(t.NumRows()) * 100
	}
	return report
}

// DropDuplicates returns a table keeping only the first occurrence of each
// distinct row, and the number of rows removed.
func DropDuplicates(t *dataset.Table) (*dataset.Table, int) {
	seen := make(map[string]bool, t.NumRows())
	out := t.FilterRows(func(i int, row []dataset.Value) bool {
		key := rowKey(row)
		if seen[key] {
			return false
		}
		seen[key] = true
		return true
	})
	return out, t.NumRows() - out.NumRows()
}

// rowKey serializes a row for exact comparison. Cells are length-delimited so
// adjacent values cannot run together.
func rowKey(row []dataset.Value) string {
	var sb strings.Builder
	for _, v := range row {
		switch v.Kind {
		case dataset.KindMissing:
			sb.WriteString("m;")
		case dataset.KindNumber:
			s := strconv.FormatFloat(v.Num, 'g', -1, 64)
			sb.WriteString("n")
			sb.WriteString(s)
			sb.WriteString(";")
		case dataset.KindText:
			sb.WriteString("t")
			sb.WriteString(strconv.Itoa(len(v.Str)))
			sb.WriteString(":")
			sb.WriteString(v.Str)
			sb.WriteString(";")
		}
	}
	return sb.String()
}
