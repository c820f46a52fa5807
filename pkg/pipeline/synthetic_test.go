package pipeline

import (
	"context"
	"testing"

	"github.com/soilflow/soilflow/pkg/contam"
	"github.com/soilflow/soilflow/pkg/testing/generators"
)

// runSynthetic executes the pipeline over a generated survey and returns the
// result.
func runSynthetic(t *testing.T, seed int64, rows int) *Result {
	t.Helper()

	g := generators.NewSurvey(seed)
	g.CriticalMissRate = 0.03
	g.DuplicateRate = 0.02

	res, err := NewRunner(nil).Run(context.Background(), g.Table(rows))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res
}

func TestRunnerSyntheticSurvey(t *testing.T) {
	res := runSynthetic(t, 42, 300)

	if res.Final.NumRows() == 0 {
		t.Fatal("no rows survived")
	}
	if !res.CountsApplied || !res.PeriodsApplied || !res.SelectionApplied {
		t.Fatalf("derivation stages skipped: counts=%v periods=%v selection=%v",
			res.CountsApplied, res.PeriodsApplied, res.SelectionApplied)
	}

	for _, name := range []string{"Sample Count", "Period", contam.IndexColumn, contam.ClassColumn} {
		if !res.Final.HasColumn(name) {
			t.Errorf("output column %q missing", name)
		}
	}

	// Imputation fills every missing cell in the assessed columns.
	for _, el := range []string{"As", "Cd", "Cr", "Cu", "Ni", "Pb", "Zn"} {
		if n := res.Final.MissingCount(el); n != 0 {
			t.Errorf("column %s still has %d missing cells", el, n)
		}
	}

	classes, ok := res.Final.Column(contam.ClassColumn)
	if !ok {
		t.Fatal("class column missing")
	}
	for i, v := range classes {
		switch v.Str {
		case "Low Contamination", "Moderate Contamination", "High Contamination":
		default:
			t.Fatalf("row %d: unexpected class %q", i, v.Str)
		}
	}
}

func TestRunnerSyntheticDeterministic(t *testing.T) {
	a := runSynthetic(t, 7, 200)
	b := runSynthetic(t, 7, 200)

	if a.Final.NumRows() != b.Final.NumRows() {
		t.Fatalf("row counts differ: %d vs %d", a.Final.NumRows(), b.Final.NumRows())
	}
	if a.Final.NumCols() != b.Final.NumCols() {
		t.Fatalf("col counts differ: %d vs %d", a.Final.NumCols(), b.Final.NumCols())
	}
	for i := 0; i < a.Final.NumRows(); i++ {
		ra, rb := a.Final.Row(i), b.Final.Row(i)
		for j := range ra {
			if !ra[j].Equal(rb[j]) {
				t.Fatalf("cell (%d,%d) differs between identical runs: %v vs %v", i, j, ra[j], rb[j])
			}
		}
	}
}

func TestRunnerSyntheticFilterDropsRows(t *testing.T) {
	g := generators.NewSurvey(19)
	g.CriticalMissRate = 0.2

	res, err := NewRunner(nil).Run(context.Background(), g.Table(100))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Filter.Dropped == 0 {
		t.Error("expected rows dropped for missing critical values")
	}
	if res.Filter.RowsBefore != 100 {
		t.Errorf("RowsBefore = %d, want 100", res.Filter.RowsBefore)
	}
	if res.Filter.RowsAfter+res.Filter.Dropped != res.Filter.RowsBefore {
		t.Errorf("filter report inconsistent: %+v", res.Filter)
	}
}
