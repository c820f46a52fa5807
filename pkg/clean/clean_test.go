package clean

import (
	"testing"

	"github.com/soilflow/soilflow/pkg/dataset"
	"github.com/soilflow/soilflow/pkg/errors"
)

var criticals = []string{"pH", "BD"}

func buildTable(rows ...[]dataset.Value) *dataset.Table {
	t := dataset.New([]string{"Site No.1", "pH", "BD"})
	for _, r := range rows {
		t.AppendRow(r)
	}
	return t
}

func TestDropMissingCritical(t *testing.T) {
	tbl := buildTable(
		[]dataset.Value{dataset.Text("A-01"), dataset.Number(6.1), dataset.Number(1.1)},
		[]dataset.Value{dataset.Text("A-02"), dataset.Missing, dataset.Number(1.0)},
		[]dataset.Value{dataset.Text("A-03"), dataset.Number(5.9), dataset.Missing},
		[]dataset.Value{dataset.Text("A-04"), dataset.Number(6.4), dataset.Number(0.9)},
	)

	out, report, err := DropMissingCritical(tbl, criticals)
	if err != nil {
		t.Fatalf("DropMissingCritical: %v", err)
	}

	if report.RowsBefore != 4 || report.RowsAfter != 2 || report.Dropped != 2 {
		t.Errorf("report = %+v, want 4/2/2", report)
	}

	for r := 0; r < out.NumRows(); r++ {
		for _, col := range criticals {
			idx, _ := out.ColumnIndex(col)
			if out.Cell(r, idx).IsMissing() {
				t.Errorf("row %d still has missing %s", r, col)
			}
		}
	}

	// Idempotent: filtering the filtered table drops nothing.
	again, report2, err := DropMissingCritical(out, criticals)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if report2.Dropped != 0 || again.NumRows() != out.NumRows() {
		t.Errorf("second pass dropped %d rows", report2.Dropped)
	}
}

func TestDropMissingCriticalAbsentColumn(t *testing.T) {
	tbl := buildTable()
	_, _, err := DropMissingCritical(tbl, []string{"Olsen P"})
	if !errors.IsCode(err, errors.CodeMissingColumns) {
		t.Errorf("error = %v, want %s", err, errors.CodeMissingColumns)
	}
}

func TestDuplicates(t *testing.T) {
	dup := []dataset.Value{dataset.Text("A-01"), dataset.Number(6.1), dataset.Number(1.1)}
	tbl := buildTable(
		dup,
		append([]dataset.Value(nil), dup...),
		[]dataset.Value{dataset.Text("A-02"), dataset.Number(5.5), dataset.Number(1.0)},
		append([]dataset.Value(nil), dup...),
	)

	report := Duplicates(tbl)
	if report.Duplicates != 2 {
		t.Errorf("Duplicates = %d, want 2", report.Duplicates)
	}
	if report.Percent != 50 {
		t.Errorf("Percent = %v, want 50", report.Percent)
	}

	// Detection does not modify the table.
	if tbl.NumRows() != 4 {
		t.Error("detection must not remove rows")
	}

	out, removed := DropDuplicates(tbl)
	if removed != 2 || out.NumRows() != 2 {
		t.Errorf("DropDuplicates removed %d, kept %d", removed, out.NumRows())
	}
	// First occurrence is the survivor.
	if !out.Cell(0, 0).Equal(dataset.Text("A-01")) || !out.Cell(1, 0).Equal(dataset.Text("A-02")) {
		t.Error("wrong survivors after dedup")
	}
}

func TestDuplicatesMissingEqual(t *testing.T) {
	tbl := buildTable(
		[]dataset.Value{dataset.Text("A-01"), dataset.Missing, dataset.Number(1.1)},
		[]dataset.Value{dataset.Text("A-01"), dataset.Missing, dataset.Number(1.1)},
	)
	if got := Duplicates(tbl).Duplicates; got != 1 {
		t.Errorf("Duplicates = %d, want 1 (missing compares equal)", got)
	}
}

func TestRowKeyDisambiguates(t *testing.T) {
	// "ab"+"c" must not collide with "a"+"bc".
	a := rowKey([]dataset.Value{dataset.Text("ab"), dataset.Text("c")})
	b := rowKey([]dataset.Value{dataset.Text("a"), dataset.Text("bc")})
	if a == b {
		t.Error("rowKey collides on adjacent text")
	}
	// Number 1 and text "1" are different rows.
	n := rowKey([]dataset.Value{dataset.Number(1)})
	s := rowKey([]dataset.Value{dataset.Text("1")})
	if n == s {
		t.Error("rowKey collides across kinds")
	}
}

func TestNormalizeCensored(t *testing.T) {
	tbl := dataset.New([]string{"As", "Cd", "Site No.1"})
	tbl.AppendRow([]dataset.Value{dataset.Text("<0.2"), dataset.Number(0.3), dataset.Text("A-01")})
	tbl.AppendRow([]dataset.Value{dataset.Number(4.0), dataset.Number(0.1), dataset.Text("A-02")})
	tbl.AppendRow([]dataset.Value{dataset.Text("n/a"), dataset.Number(0.2), dataset.Text("A-03")})

	out, report, err := NormalizeCensored(tbl)
	if err != nil {
		t.Fatalf("NormalizeCensored: %v", err)
	}

	// "<0.2" halves to 0.1.
	if !out.Cell(0, 0).Equal(dataset.Number(0.1)) {
		t.Errorf("censored cell = %+v, want 0.1", out.Cell(0, 0))
	}
	// Plain numbers in a censored column survive.
	if !out.Cell(1, 0).Equal(dataset.Number(4.0)) {
		t.Errorf("numeric cell = %+v, want 4.0", out.Cell(1, 0))
	}
	// Stray text in a censored column coerces to missing.
	if !out.Cell(2, 0).IsMissing() {
		t.Errorf("text cell = %+v, want missing", out.Cell(2, 0))
	}
	// Columns without the marker are untouched.
	if !out.Cell(0, 2).Equal(dataset.Text("A-01")) {
		t.Error("marker-free column was modified")
	}

	if len(report.Columns) != 1 {
		t.Fatalf("report columns = %d, want 1", len(report.Columns))
	}
	if c := report.Columns[0]; c.Name != "As" || c.Replaced != 1 || c.Coerced != 1 {
		t.Errorf("report = %+v", c)
	}

	// Source table is untouched.
	if !tbl.Cell(0, 0).Equal(dataset.Text("<0.2")) {
		t.Error("NormalizeCensored mutated its input")
	}
}

func TestNormalizeCensoredSpacedLimit(t *testing.T) {
	tbl := dataset.New([]string{"Pb"})
	tbl.AppendRow([]dataset.Value{dataset.Text("< 10")})

	out, _, err := NormalizeCensored(tbl)
	if err != nil {
		t.Fatalf("NormalizeCensored: %v", err)
	}
	if !out.Cell(0, 0).Equal(dataset.Number(5)) {
		t.Errorf("cell = %+v, want 5", out.Cell(0, 0))
	}
}

func TestNormalizeCensoredBadLimit(t *testing.T) {
	tbl := dataset.New([]string{"Zn"})
	tbl.AppendRow([]dataset.Value{dataset.Text("<dl")})

	_, _, err := NormalizeCensored(tbl)
	if !errors.IsCode(err, errors.CodeCensoredValue) {
		t.Errorf("error = %v, want %s", err, errors.CodeCensoredValue)
	}
}
