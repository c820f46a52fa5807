package impute

import (
	"math"
	"testing"

	"github.com/soilflow/soilflow/pkg/dataset"
	"github.com/soilflow/soilflow/pkg/errors"
)

func makeTable(t *testing.T, cols []string, rows ...[]dataset.Value) *dataset.Table {
	t.Helper()
	tbl := dataset.New(cols)
	for _, row := range rows {
		if err := tbl.AppendRow(row); err != nil {
			t.Fatalf("AppendRow: %v", err)
		}
	}
	return tbl
}

func near(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

// linearTable holds B = 2*A + 1 with B unobserved on the last two rows.
func linearTable(t *testing.T) *dataset.Table {
	return makeTable(t, []string{"A", "B"},
		[]dataset.Value{dataset.Number(1), dataset.Number(3)},
		[]dataset.Value{dataset.Number(2), dataset.Number(5)},
		[]dataset.Value{dataset.Number(3), dataset.Number(7)},
		[]dataset.Value{dataset.Number(4), dataset.Number(9)},
		[]dataset.Value{dataset.Number(5), dataset.Missing},
		[]dataset.Value{dataset.Number(6), dataset.Missing},
	)
}

func TestImputeRecoversLinearRelation(t *testing.T) {
	tbl := linearTable(t)

	out, report, err := New(DefaultOptions()).Impute(tbl, nil)
	if err != nil {
		t.Fatalf("Impute: %v", err)
	}
	if !report.Converged {
		t.Errorf("expected convergence, ran %d iterations", report.Iterations)
	}

	idx, _ := out.ColumnIndex("B")
	for row, want := range map[int]float64{4: 11, 5: 13} {
		got, ok := out.Cell(row, idx).Float()
		if !ok || !near(got, want, 1e-6) {
			t.Errorf("B[%d] = %v, want %v", row, out.Cell(row, idx), want)
		}
	}

	if len(report.Columns) != 1 || report.Columns[0].Name != "B" || report.Columns[0].Missing != 2 {
		t.Errorf("report.Columns = %+v, want one entry for B with 2 missing", report.Columns)
	}
	if !near(report.Columns[0].Mean, 6, 1e-12) {
		t.Errorf("B mean = %v, want 6", report.Columns[0].Mean)
	}
}

func TestImputeObservedCellsUntouched(t *testing.T) {
	tbl := linearTable(t)
	out, _, err := New(DefaultOptions()).Impute(tbl, nil)
	if err != nil {
		t.Fatalf("Impute: %v", err)
	}

	for row := 0; row < 4; row++ {
		for col := 0; col < tbl.NumCols(); col++ {
			if !out.Cell(row, col).Equal(tbl.Cell(row, col)) {
				t.Errorf("cell (%d,%d) changed: %v -> %v", row, col, tbl.Cell(row, col), out.Cell(row, col))
			}
		}
	}
	// The input table itself keeps its gaps.
	if !tbl.Cell(4, 1).IsMissing() {
		t.Error("input table was mutated")
	}
}

func TestImputeNothingMissing(t *testing.T) {
	tbl := makeTable(t, []string{"A", "B"},
		[]dataset.Value{dataset.Number(1), dataset.Number(2)},
		[]dataset.Value{dataset.Number(3), dataset.Number(4)},
	)

	out, report, err := New(DefaultOptions()).Impute(tbl, nil)
	if err != nil {
		t.Fatalf("Impute: %v", err)
	}
	if out != tbl {
		t.Error("complete table should come back as-is")
	}
	if report.Iterations != 0 || !report.Converged {
		t.Errorf("report = %+v, want zero iterations and converged", report)
	}
}

func TestImputeSingleColumnUsesMean(t *testing.T) {
	tbl := makeTable(t, []string{"A"},
		[]dataset.Value{dataset.Number(1)},
		[]dataset.Value{dataset.Number(2)},
		[]dataset.Value{dataset.Number(3)},
		[]dataset.Value{dataset.Missing},
	)

	out, report, err := New(DefaultOptions()).Impute(tbl, nil)
	if err != nil {
		t.Fatalf("Impute: %v", err)
	}
	got, ok := out.Cell(3, 0).Float()
	if !ok || !near(got, 2, 1e-9) {
		t.Errorf("A[3] = %v, want observed mean 2", out.Cell(3, 0))
	}
	if !report.Converged {
		t.Error("mean fill should converge immediately")
	}
}

func TestImputeSkipsEmptyAndCarriesText(t *testing.T) {
	tbl := makeTable(t, []string{"A", "Empty", "Notes", "B"},
		[]dataset.Value{dataset.Number(1), dataset.Missing, dataset.Text("ok"), dataset.Number(3)},
		[]dataset.Value{dataset.Number(2), dataset.Missing, dataset.Missing, dataset.Number(5)},
		[]dataset.Value{dataset.Number(3), dataset.Missing, dataset.Text("x"), dataset.Missing},
	)

	out, report, err := New(DefaultOptions()).Impute(tbl, nil)
	if err != nil {
		t.Fatalf("Impute: %v", err)
	}

	if len(report.Skipped) != 1 || report.Skipped[0] != "Empty" {
		t.Errorf("Skipped = %v, want [Empty]", report.Skipped)
	}
	emptyIdx, _ := out.ColumnIndex("Empty")
	for r := 0; r < out.NumRows(); r++ {
		if !out.Cell(r, emptyIdx).IsMissing() {
			t.Errorf("Empty[%d] gained a value: %v", r, out.Cell(r, emptyIdx))
		}
	}

	// A column holding text is not numeric; its gap stays.
	notesIdx, _ := out.ColumnIndex("Notes")
	if !out.Cell(1, notesIdx).IsMissing() {
		t.Errorf("Notes[1] = %v, want missing", out.Cell(1, notesIdx))
	}
	if out.Cell(0, notesIdx).Str != "ok" {
		t.Errorf("Notes[0] = %v, want ok", out.Cell(0, notesIdx))
	}

	// B still gets filled.
	bIdx, _ := out.ColumnIndex("B")
	if out.Cell(2, bIdx).IsMissing() {
		t.Error("B[2] not imputed")
	}
}

func TestImputeExcludedColumnsCarried(t *testing.T) {
	tbl := makeTable(t, []string{"Year", "A"},
		[]dataset.Value{dataset.Number(2013), dataset.Number(1)},
		[]dataset.Value{dataset.Missing, dataset.Number(2)},
		[]dataset.Value{dataset.Number(2017), dataset.Missing},
	)

	out, report, err := New(DefaultOptions()).Impute(tbl, []string{"Year"})
	if err != nil {
		t.Fatalf("Impute: %v", err)
	}
	yearIdx, _ := out.ColumnIndex("Year")
	if !out.Cell(1, yearIdx).IsMissing() {
		t.Errorf("excluded Year[1] = %v, want missing", out.Cell(1, yearIdx))
	}
	for _, c := range report.Columns {
		if c.Name == "Year" {
			t.Error("excluded column appears in report")
		}
	}
	aIdx, _ := out.ColumnIndex("A")
	if out.Cell(2, aIdx).IsMissing() {
		t.Error("A[2] not imputed")
	}
}

func TestImputeDeterministic(t *testing.T) {
	for _, order := range []string{OrderAscending, OrderRandom} {
		opts := DefaultOptions()
		opts.Order = order
		opts.Seed = 42

		first, _, err := New(opts).Impute(linearTable(t), nil)
		if err != nil {
			t.Fatalf("first run (%s): %v", order, err)
		}
		second, _, err := New(opts).Impute(linearTable(t), nil)
		if err != nil {
			t.Fatalf("second run (%s): %v", order, err)
		}

		for r := 0; r < first.NumRows(); r++ {
			for c := 0; c < first.NumCols(); c++ {
				if !first.Cell(r, c).Equal(second.Cell(r, c)) {
					t.Fatalf("order %s: cell (%d,%d) differs between runs", order, r, c)
				}
			}
		}
	}
}

func TestApplyAlignment(t *testing.T) {
	tbl := makeTable(t, []string{"A"},
		[]dataset.Value{dataset.Number(1)},
		[]dataset.Value{dataset.Number(2)},
	)

	_, err := Apply(tbl, []string{"A"}, [][]float64{{1}})
	if !errors.IsCode(err, errors.CodeAlignment) {
		t.Errorf("row mismatch: code = %s, want %s", errors.GetCode(err), errors.CodeAlignment)
	}

	_, err = Apply(tbl, []string{"A"}, [][]float64{{1, 9}, {2}})
	if !errors.IsCode(err, errors.CodeAlignment) {
		t.Errorf("width mismatch: code = %s, want %s", errors.GetCode(err), errors.CodeAlignment)
	}

	_, err = Apply(tbl, []string{"Nope"}, [][]float64{{1}, {2}})
	if !errors.IsCode(err, errors.CodeAlignment) {
		t.Errorf("unknown column: code = %s, want %s", errors.GetCode(err), errors.CodeAlignment)
	}
}
