// Package pipeline sequences the cleaning and scoring stages over one
// dataset. A Runner owns the stage order, collects per-stage reports and
// timings into a Result, and stops at the first failure, so a failed run
// never yields a partial dataset.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/soilflow/soilflow/internal/stats"
	"github.com/soilflow/soilflow/pkg/assess"
	"github.com/soilflow/soilflow/pkg/clean"
	"github.com/soilflow/soilflow/pkg/config"
	"github.com/soilflow/soilflow/pkg/contam"
	"github.com/soilflow/soilflow/pkg/dataset"
	"github.com/soilflow/soilflow/pkg/errors"
	"github.com/soilflow/soilflow/pkg/impute"
	"github.com/soilflow/soilflow/pkg/sample"
	"github.com/soilflow/soilflow/pkg/schema"
	"github.com/soilflow/soilflow/pkg/telemetry"
)

// StageTiming records one stage's wall time.
type StageTiming struct {
	Stage    string
	Duration time.Duration
}

// ColumnSummary pairs the pre- and post-imputation distribution of one
// assessed column.
type ColumnSummary struct {
	Column string
	Before stats.Summary
	After  stats.Summary
}

// Result aggregates everything a run produced. Final is the scored output
// table; Before is the post-normalization table the imputer started from,
// kept for distribution plots and quality checks.
type Result struct {
	Profile *schema.Profile

	Filter            clean.FilterReport
	Duplicates        clean.DuplicateReport
	DuplicatesRemoved int

	CountsApplied    bool
	PeriodsApplied   bool
	SelectionApplied bool
	Selection        sample.SelectionReport

	Censor        clean.CensorReport
	Imputation    impute.Report
	Assessment    assess.Report
	Contamination contam.Report
	Summaries     []ColumnSummary

	Warnings []string
	Timings  []StageTiming

	Before *dataset.Table
	Final  *dataset.Table
}

// ImputedCells returns the total number of cells the imputer filled.
func (r *Result) ImputedCells() int {
	n := 0
	for _, c := range r.Imputation.Columns {
		n += c.Missing
	}
	return n
}

// Runner executes the pipeline over one table per Run call.
type Runner struct {
	cfg            *config.Config
	log            *zap.Logger
	dropDuplicates bool
	onStage        func(stage string, index, total int)
}

// NewRunner creates a runner with the given configuration; nil means the
// defaults.
func NewRunner(cfg *config.Config) *Runner {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Runner{cfg: cfg, log: zap.NewNop()}
}

// WithLogger sets the structured logger.
func (r *Runner) WithLogger(log *zap.Logger) *Runner {
	if log != nil {
		r.log = log
	}
	return r
}

// WithDropDuplicates enables duplicate row removal. Duplicate detection and
// reporting happen regardless.
func (r *Runner) WithDropDuplicates(drop bool) *Runner {
	r.dropDuplicates = drop
	return r
}

// WithStageHook registers a callback invoked before each stage starts, for
// progress display.
func (r *Runner) WithStageHook(fn func(stage string, index, total int)) *Runner {
	r.onStage = fn
	return r
}

// step is one named stage over the shared working table.
type step struct {
	name string
	fn   func(context.Context) error
}

// Run executes every stage in order over input. The input table is never
// mutated. On any error the run stops and no Result is returned.
func (r *Runner) Run(ctx context.Context, input *dataset.Table) (*Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "pipeline.run",
		attribute.Int("rows", input.NumRows()),
		attribute.Int("columns", input.NumCols()))
	defer span.End()

	res := &Result{Profile: schema.Describe(input)}
	current := input

	steps := []step{
		{"validate", func(context.Context) error {
			return schema.Validate(current, r.cfg.Columns.Critical)
		}},

		{"filter", func(context.Context) error {
			out, report, err := clean.DropMissingCritical(current, r.cfg.Columns.Critical)
			if err != nil {
				return err
			}
			res.Filter = report
			current = out
			r.log.Info("rows with missing critical values dropped",
				zap.Int("before", report.RowsBefore),
				zap.Int("after", report.RowsAfter),
				zap.Int("dropped", report.Dropped))
			return nil
		}},

		{"duplicates", func(context.Context) error {
			res.Duplicates = clean.Duplicates(current)
			r.log.Info("duplicate rows checked",
				zap.Int("duplicates", res.Duplicates.Duplicates),
				zap.Float64("percent", res.Duplicates.Percent))
			if r.dropDuplicates {
				out, removed := clean.DropDuplicates(current)
				current = out
				res.DuplicatesRemoved = removed
				r.log.Info("duplicate rows removed", zap.Int("removed", removed))
			}
			return nil
		}},

		{"counts", func(context.Context) error {
			out, applied, err := sample.DeriveCounts(current, r.cfg.Columns.Identifier, r.cfg.Columns.SampleCount)
			if err != nil {
				return err
			}
			if !applied {
				r.warn(res, fmt.Sprintf("column %q missing; sample count extraction skipped", r.cfg.Columns.Identifier))
				return nil
			}
			res.CountsApplied = true
			current = out
			return nil
		}},

		{"periods", func(context.Context) error {
			out, applied := sample.AssignPeriods(current, r.cfg.Columns.Year, r.cfg.Columns.Period, r.periodRules())
			if !applied {
				r.warn(res, fmt.Sprintf("column %q missing; period assignment skipped", r.cfg.Columns.Year))
				return nil
			}
			res.PeriodsApplied = true
			current = out
			return nil
		}},

		{"select", func(context.Context) error {
			out, report, applied := sample.SelectLatest(current, r.cfg.Columns.SiteKey, r.cfg.Columns.Period, r.cfg.Columns.SampleCount)
			if !applied {
				r.warn(res, fmt.Sprintf("columns %q, %q or %q missing; latest-sample selection skipped",
					r.cfg.Columns.SiteKey, r.cfg.Columns.Period, r.cfg.Columns.SampleCount))
				return nil
			}
			res.SelectionApplied = true
			res.Selection = report
			current = out
			r.log.Info("latest sample per site and period kept",
				zap.Int("groups", report.Groups),
				zap.Int("before", report.RowsBefore),
				zap.Int("after", report.RowsAfter))
			return nil
		}},

		{"censor", func(context.Context) error {
			out, report, err := clean.NormalizeCensored(current)
			if err != nil {
				return err
			}
			res.Censor = report
			current = out
			res.Before = current
			r.log.Info("censored values normalized", zap.Int("columns", len(report.Columns)))
			return nil
		}},

		{"impute", func(context.Context) error {
			imputer := impute.New(impute.Options{
				MaxIterations: r.cfg.Imputation.MaxIterations,
				Tolerance:     r.cfg.Imputation.Tolerance,
				Seed:          r.cfg.Imputation.Seed,
				Order:         r.cfg.Imputation.Order,
			})
			out, report, err := imputer.Impute(current, r.carriedColumns())
			if err != nil {
				return err
			}
			res.Imputation = report
			current = out
			for _, name := range report.Skipped {
				r.warn(res, fmt.Sprintf("column %q has no observed values; imputation skipped", name))
			}
			r.log.Info("missing values imputed",
				zap.Int("cells", res.ImputedCells()),
				zap.Int("iterations", report.Iterations),
				zap.Bool("converged", report.Converged))
			return nil
		}},

		{"assemble", func(context.Context) error {
			out, err := r.assemble(current)
			if err != nil {
				return err
			}
			current = out
			return nil
		}},

		{"assess", func(ctx context.Context) error {
			report, err := assess.Compare(ctx, res.Before, current, r.cfg.Assessment.Columns)
			if err != nil {
				return err
			}
			res.Assessment = report
			for _, kr := range report.Results {
				res.Summaries = append(res.Summaries, ColumnSummary{
					Column: kr.Column,
					Before: stats.Describe(columnNumbers(res.Before, kr.Column)),
					After:  stats.Describe(columnNumbers(current, kr.Column)),
				})
			}
			if flagged := report.Flagged(assess.DefaultAlpha); len(flagged) > 0 {
				r.warn(res, fmt.Sprintf("imputation shifted the distribution of: %s", strings.Join(flagged, ", ")))
			}
			return nil
		}},

		{"score", func(context.Context) error {
			out, report, err := contam.Score(current)
			if err != nil {
				return err
			}
			res.Contamination = report
			current = out
			r.log.Info("contamination index derived",
				zap.Int("rows", report.Rows),
				zap.Int("unclassified", report.Unclassified))
			return nil
		}},
	}

	for i, s := range steps {
		if err := ctx.Err(); err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		if r.onStage != nil {
			r.onStage(s.name, i+1, len(steps))
		}

		stageCtx, stageSpan := telemetry.StartSpan(ctx, "stage."+s.name)
		start := time.Now()
		err := s.fn(stageCtx)
		elapsed := time.Since(start)
		res.Timings = append(res.Timings, StageTiming{Stage: s.name, Duration: elapsed})

		if err != nil {
			telemetry.RecordError(stageSpan, err)
			stageSpan.End()
			telemetry.RecordError(span, err)
			r.log.Error("stage failed", zap.String("stage", s.name), zap.Error(err))
			return nil, err
		}
		stageSpan.SetAttributes(attribute.Int("rows", current.NumRows()))
		stageSpan.End()
		r.log.Debug("stage complete", zap.String("stage", s.name), zap.Duration("took", elapsed))
	}

	res.Final = current
	span.SetAttributes(attribute.Int("rows_out", current.NumRows()))
	return res, nil
}

// carriedColumns returns the non-predictive columns: excluded from
// imputation, re-attached ahead of the numeric block at assembly.
func (r *Runner) carriedColumns() []string {
	return []string{
		r.cfg.Columns.Identifier,
		r.cfg.Columns.SiteKey,
		r.cfg.Columns.Year,
		r.cfg.Columns.SampleCount,
		r.cfg.Columns.Period,
	}
}

// assemble builds the output column layout: carried columns that exist, in
// canonical order, followed by the numeric columns in table order. Other
// textual columns do not survive into the output.
func (r *Runner) assemble(t *dataset.Table) (*dataset.Table, error) {
	carried := r.carriedColumns()
	skip := make(map[string]bool, len(carried))
	var keep []string
	for _, name := range carried {
		skip[name] = true
		if t.HasColumn(name) {
			keep = append(keep, name)
		}
	}
	keep = append(keep, t.NumericColumns(skip)...)

	if dropped := t.NumCols() - len(keep); dropped > 0 {
		r.log.Debug("non-numeric columns dropped at assembly", zap.Int("count", dropped))
	}

	out, err := t.Select(keep)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeAlignment, "failed to assemble output columns")
	}
	return out, nil
}

// periodRules converts the configured rules for the sample package.
func (r *Runner) periodRules() []sample.Rule {
	rules := make([]sample.Rule, len(r.cfg.Periods))
	for i, p := range r.cfg.Periods {
		rules[i] = sample.Rule{From: p.From, To: p.To, Label: p.Label}
	}
	return rules
}

// warn records a non-fatal condition on the result and the log.
func (r *Runner) warn(res *Result, msg string) {
	res.Warnings = append(res.Warnings, msg)
	r.log.Warn(msg)
}

// columnNumbers extracts a column's numeric cells for summarizing.
func columnNumbers(t *dataset.Table, name string) []float64 {
	cells, ok := t.Column(name)
	if !ok {
		return nil
	}
	var out []float64
	for _, c := range cells {
		if v, numeric := c.Float(); numeric {
			out = append(out, v)
		}
	}
	return out
}
