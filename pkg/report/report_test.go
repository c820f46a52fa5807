package report

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/soilflow/soilflow/pkg/assess"
	"github.com/soilflow/soilflow/pkg/clean"
	"github.com/soilflow/soilflow/pkg/contam"
	"github.com/soilflow/soilflow/pkg/impute"
	"github.com/soilflow/soilflow/pkg/pipeline"
	"github.com/soilflow/soilflow/pkg/schema"
)

func TestRunReportSections(t *testing.T) {
	res := &pipeline.Result{
		Filter:     clean.FilterReport{RowsBefore: 10, RowsAfter: 8, Dropped: 2},
		Duplicates: clean.DuplicateReport{Total: 8, Duplicates: 1, Percent: 12.5},
		Censor: clean.CensorReport{Columns: []clean.CensoredColumn{
			{Name: "Olsen P", Replaced: 3, Coerced: 1},
		}},
		Imputation: impute.Report{
			Columns:    []impute.ColumnReport{{Name: "As", Missing: 2, Mean: 6.2}},
			Iterations: 4,
			Converged:  true,
		},
		Assessment: assess.Report{Results: []assess.ColumnResult{
			{Column: "As", Statistic: 0.12, PValue: 0.88, NBefore: 6, NAfter: 8},
			{Column: "Pb", Statistic: 0.61, PValue: 0.01, NBefore: 6, NAfter: 8},
		}},
		Contamination: contam.Report{
			Rows:    8,
			Classes: map[string]int{contam.ClassLow: 5, contam.ClassHigh: 3},
		},
		Warnings: []string{"column \"Year\" missing; period assignment skipped"},
	}

	var buf bytes.Buffer
	NewRenderer(&buf).Run(res, 1500*time.Millisecond)
	out := buf.String()

	for _, want := range []string{
		"PIPELINE COMPLETE",
		"1.5s",
		"Olsen P",
		"CLEANING",
		"IMPUTATION",
		"KOLMOGOROV-SMIRNOV",
		"shifted",
		"CONTAMINATION",
		"period assignment skipped",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q\n%s", want, out)
		}
	}
}

func TestProfileReport(t *testing.T) {
	p := &schema.Profile{
		Rows: 3, Cols: 2,
		Columns: []schema.ColumnProfile{
			{Name: "pH", Kind: "number", Missing: 1, MissingRate: 1.0 / 3.0},
			{Name: "Site No.1", Kind: "text", Missing: 0, MissingRate: 0},
		},
	}

	var buf bytes.Buffer
	NewRenderer(&buf).Profile("soil.xlsx", p)
	out := buf.String()

	for _, want := range []string{"soil.xlsx", "pH", "Site No.1", "33.3"} {
		if !strings.Contains(out, want) {
			t.Errorf("profile missing %q\n%s", want, out)
		}
	}
}

func TestErrorReport(t *testing.T) {
	var buf bytes.Buffer
	NewRenderer(&buf).Error(errors.New("boom"))
	if !strings.Contains(buf.String(), "boom") {
		t.Errorf("error report missing message: %s", buf.String())
	}
}

func TestSortedClasses(t *testing.T) {
	got := SortedClasses(map[string]int{contam.ClassHigh: 1, contam.ClassLow: 2})
	if len(got) != 2 || got[0] != contam.ClassHigh || got[1] != contam.ClassLow {
		t.Errorf("unexpected order: %v", got)
	}
}
