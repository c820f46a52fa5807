package assess

import (
	"context"
	"testing"

	"github.com/soilflow/soilflow/pkg/dataset"
)

func tableOf(t *testing.T, col string, values ...dataset.Value) *dataset.Table {
	t.Helper()
	tbl := dataset.New([]string{col})
	for _, v := range values {
		if err := tbl.AppendRow([]dataset.Value{v}); err != nil {
			t.Fatalf("AppendRow: %v", err)
		}
	}
	return tbl
}

func nums(vs ...float64) []dataset.Value {
	out := make([]dataset.Value, len(vs))
	for i, v := range vs {
		out[i] = dataset.Number(v)
	}
	return out
}

func TestCompareIdenticalDistributions(t *testing.T) {
	cells := nums(1, 2, 3, 4, 5, 6, 7, 8)
	before := tableOf(t, "As", cells...)
	after := tableOf(t, "As", cells...)

	report, err := Compare(context.Background(), before, after, []string{"As"})
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if len(report.Results) != 1 {
		t.Fatalf("results = %d, want 1", len(report.Results))
	}

	r := report.Results[0]
	if r.Column != "As" || r.Statistic != 0 {
		t.Errorf("result = %+v, want As with statistic 0", r)
	}
	if r.PValue < 0.99 {
		t.Errorf("p = %v, want ~1 for identical samples", r.PValue)
	}
	if len(report.Flagged(DefaultAlpha)) != 0 {
		t.Errorf("flagged = %v, want none", report.Flagged(DefaultAlpha))
	}
}

func TestCompareDetectsDistortion(t *testing.T) {
	before := tableOf(t, "Pb", nums(1, 2, 3, 4, 5, 6, 7, 8, 9, 10)...)
	after := tableOf(t, "Pb", nums(101, 102, 103, 104, 105, 106, 107, 108, 109, 110)...)

	report, err := Compare(context.Background(), before, after, []string{"Pb"})
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}

	r := report.Results[0]
	if r.Statistic != 1 {
		t.Errorf("statistic = %v, want 1 for disjoint samples", r.Statistic)
	}
	if r.PValue >= DefaultAlpha {
		t.Errorf("p = %v, want significant", r.PValue)
	}
	if flagged := report.Flagged(DefaultAlpha); len(flagged) != 1 || flagged[0] != "Pb" {
		t.Errorf("flagged = %v, want [Pb]", flagged)
	}
}

func TestCompareSkipsUntestableColumns(t *testing.T) {
	before := dataset.New([]string{"As", "Cd"})
	after := dataset.New([]string{"As", "Cd"})
	for i := 0; i < 6; i++ {
		// Cd never observed before imputation.
		before.AppendRow([]dataset.Value{dataset.Number(float64(i)), dataset.Missing})
		after.AppendRow([]dataset.Value{dataset.Number(float64(i)), dataset.Number(1)})
	}

	report, err := Compare(context.Background(), before, after, []string{"As", "Cd", "Zn"})
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}

	if len(report.Results) != 1 || report.Results[0].Column != "As" {
		t.Errorf("results = %+v, want only As", report.Results)
	}
	if len(report.Skipped) != 2 || report.Skipped[0] != "Cd" || report.Skipped[1] != "Zn" {
		t.Errorf("skipped = %v, want [Cd Zn]", report.Skipped)
	}
}

func TestCompareDropsMissingBeforeTesting(t *testing.T) {
	before := tableOf(t, "Cu",
		dataset.Number(10), dataset.Missing, dataset.Number(12), dataset.Missing, dataset.Number(14))
	after := tableOf(t, "Cu",
		dataset.Number(10), dataset.Number(11), dataset.Number(12), dataset.Number(13), dataset.Number(14))

	report, err := Compare(context.Background(), before, after, []string{"Cu"})
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}

	r := report.Results[0]
	if r.NBefore != 3 || r.NAfter != 5 {
		t.Errorf("sample sizes = %d/%d, want 3/5", r.NBefore, r.NAfter)
	}
}

func TestCompareResultOrderFollowsRequest(t *testing.T) {
	cols := []string{"Zn", "As", "Cu"}
	before := dataset.New(cols)
	after := dataset.New(cols)
	for i := 0; i < 5; i++ {
		row := nums(float64(i), float64(i+10), float64(i+20))
		before.AppendRow(row)
		after.AppendRow(nums(float64(i), float64(i+10), float64(i+20)))
	}

	report, err := Compare(context.Background(), before, after, []string{"As", "Cu", "Zn"})
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}

	got := make([]string, len(report.Results))
	for i, r := range report.Results {
		got[i] = r.Column
	}
	want := []string{"As", "Cu", "Zn"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("result order = %v, want %v", got, want)
		}
	}
}

func TestCompareCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	before := tableOf(t, "As", nums(1, 2, 3)...)
	after := tableOf(t, "As", nums(1, 2, 3)...)

	if _, err := Compare(ctx, before, after, []string{"As"}); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
