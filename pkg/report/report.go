// Package report renders run results for the terminal: styled section
// headers with tabular detail. The logger carries diagnostics; everything a
// person is meant to read of a run goes through here.
package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/schollz/progressbar/v3"

	"github.com/soilflow/soilflow/pkg/assess"
	"github.com/soilflow/soilflow/pkg/contam"
	"github.com/soilflow/soilflow/pkg/pipeline"
	"github.com/soilflow/soilflow/pkg/schema"
)

var (
	accent  = lipgloss.Color("#5F8700")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	warning = lipgloss.Color("#D7AF00")
	white   = lipgloss.Color("#FFFFFF")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(warning)
)

// Renderer writes human-readable reports.
type Renderer struct {
	out io.Writer
}

// NewRenderer creates a renderer writing to out.
func NewRenderer(out io.Writer) *Renderer {
	return &Renderer{out: out}
}

// Run renders the complete post-run report.
func (r *Renderer) Run(res *pipeline.Result, took time.Duration) {
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, successStyle.Render("  ✓ PIPELINE COMPLETE")+
		mutedStyle.Render("  "+formatDuration(took)))

	r.section("CLEANING")
	r.kv("Rows in", fmt.Sprintf("%d", res.Filter.RowsBefore))
	r.kv("Missing criticals dropped", fmt.Sprintf("%d", res.Filter.Dropped))
	dup := fmt.Sprintf("%d (%.2f%%)", res.Duplicates.Duplicates, res.Duplicates.Percent)
	if res.DuplicatesRemoved > 0 {
		dup += mutedStyle.Render(fmt.Sprintf("  %d removed", res.DuplicatesRemoved))
	}
	r.kv("Duplicate rows", dup)
	if res.SelectionApplied {
		r.kv("Site-period groups", fmt.Sprintf("%d", res.Selection.Groups))
		r.kv("Superseded samples dropped", fmt.Sprintf("%d", res.Selection.RowsBefore-res.Selection.RowsAfter))
	}
	if len(res.Censor.Columns) > 0 {
		tw := r.table()
		tw.AppendHeader(table.Row{"Censored column", "Replaced", "Coerced"})
		for _, c := range res.Censor.Columns {
			tw.AppendRow(table.Row{c.Name, c.Replaced, c.Coerced})
		}
		tw.Render()
	}

	r.section("IMPUTATION")
	r.kv("Cells filled", fmt.Sprintf("%d", res.ImputedCells()))
	converged := "yes"
	if !res.Imputation.Converged {
		converged = warnStyle.Render("no")
	}
	r.kv("Iterations", fmt.Sprintf("%d (converged: %s)", res.Imputation.Iterations, converged))
	if len(res.Imputation.Columns) > 0 {
		tw := r.table()
		tw.AppendHeader(table.Row{"Column", "Missing", "Observed mean"})
		for _, c := range res.Imputation.Columns {
			tw.AppendRow(table.Row{c.Name, c.Missing, fmt.Sprintf("%.3f", c.Mean)})
		}
		tw.Render()
	}

	if len(res.Assessment.Results) > 0 {
		r.section("DISTRIBUTION CHECK (KOLMOGOROV-SMIRNOV)")
		tw := r.table()
		tw.AppendHeader(table.Row{"Column", "Statistic", "p-value", ""})
		for _, kr := range res.Assessment.Results {
			verdict := successStyle.Render("ok")
			if kr.PValue < assess.DefaultAlpha {
				verdict = warnStyle.Render("shifted")
			}
			tw.AppendRow(table.Row{
				kr.Column,
				fmt.Sprintf("%.4f", kr.Statistic),
				fmt.Sprintf("%.4f", kr.PValue),
				verdict,
			})
		}
		tw.Render()
	}

	if len(res.Summaries) > 0 {
		r.section("BEFORE / AFTER")
		tw := r.table()
		tw.AppendHeader(table.Row{"Column", "n before", "mean before", "n after", "mean after"})
		for _, s := range res.Summaries {
			tw.AppendRow(table.Row{
				s.Column,
				s.Before.Count, fmt.Sprintf("%.3f", s.Before.Mean),
				s.After.Count, fmt.Sprintf("%.3f", s.After.Mean),
			})
		}
		tw.Render()
	}

	r.section("CONTAMINATION")
	for _, class := range []string{contam.ClassLow, contam.ClassModerate, contam.ClassHigh} {
		r.kv(class, fmt.Sprintf("%d", res.Contamination.Classes[class]))
	}
	if res.Contamination.Unclassified > 0 {
		r.kv("Unclassified", warnStyle.Render(fmt.Sprintf("%d", res.Contamination.Unclassified)))
	}

	if len(res.Warnings) > 0 {
		r.section("WARNINGS")
		for _, w := range res.Warnings {
			fmt.Fprintln(r.out, warnStyle.Render("  ⚠ "+w))
		}
	}
	fmt.Fprintln(r.out)
}

// Profile renders dataset shape and per-column missingness for the info
// command.
func (r *Renderer) Profile(name string, p *schema.Profile) {
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, titleStyle.Render("  "+name))
	r.kv("Rows", fmt.Sprintf("%d", p.Rows))
	r.kv("Columns", fmt.Sprintf("%d", p.Cols))

	tw := r.table()
	tw.AppendHeader(table.Row{"Column", "Kind", "Missing", "%"})
	for _, c := range p.Columns {
		tw.AppendRow(table.Row{c.Name, c.Kind, c.Missing, fmt.Sprintf("%.1f", c.MissingRate*100)})
	}
	tw.Render()
	fmt.Fprintln(r.out)
}

// Duplicates renders the standalone duplicate summary for the info command.
func (r *Renderer) Duplicates(count int, percent float64) {
	r.kv("Duplicate rows", fmt.Sprintf("%d (%.2f%%)", count, percent))
}

// Grid renders arbitrary rows, for query results.
func (r *Renderer) Grid(header []string, rows [][]string) {
	tw := r.table()
	h := make(table.Row, len(header))
	for i, c := range header {
		h[i] = c
	}
	tw.AppendHeader(h)
	for _, row := range rows {
		tr := make(table.Row, len(row))
		for i, c := range row {
			tr[i] = c
		}
		tw.AppendRow(tr)
	}
	tw.Render()
}

// Timings renders per-stage wall times when verbose output is requested.
func (r *Renderer) Timings(timings []pipeline.StageTiming) {
	r.section("STAGE TIMINGS")
	tw := r.table()
	tw.AppendHeader(table.Row{"Stage", "Duration"})
	for _, st := range timings {
		tw.AppendRow(table.Row{st.Stage, formatDuration(st.Duration)})
	}
	tw.Render()
}

// Error renders a fatal error.
func (r *Renderer) Error(err error) {
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")).Bold(true).
		Render("  ✗ "+err.Error()))
	fmt.Fprintln(r.out)
}

func (r *Renderer) section(name string) {
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, accentStyle.Render("  ▸ "+name))
}

func (r *Renderer) kv(key, value string) {
	fmt.Fprintf(r.out, "  %s %s\n", mutedStyle.Render(key+":"), value)
}

func (r *Renderer) table() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(r.out)
	tw.SetStyle(table.StyleLight)
	tw.Style().Options.DrawBorder = false
	return tw
}

// SortedClasses returns class names with deterministic ordering for JSON
// consumers.
func SortedClasses(classes map[string]int) []string {
	out := make([]string, 0, len(classes))
	for class := range classes {
		out = append(out, class)
	}
	sort.Strings(out)
	return out
}

// StageBar creates the stage progress bar shown during a run.
func StageBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
