// Soilflow - Deterministic cleaning and contamination scoring for
// environmental soil survey workbooks.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/soilflow/soilflow/pkg/clean"
	"github.com/soilflow/soilflow/pkg/config"
	"github.com/soilflow/soilflow/pkg/dataset"
	"github.com/soilflow/soilflow/pkg/export"
	"github.com/soilflow/soilflow/pkg/pipeline"
	"github.com/soilflow/soilflow/pkg/report"
	"github.com/soilflow/soilflow/pkg/schema"
	"github.com/soilflow/soilflow/pkg/storage"
	"github.com/soilflow/soilflow/pkg/telemetry"
	"github.com/soilflow/soilflow/pkg/util"
	"github.com/soilflow/soilflow/pkg/viz"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// CLI flags
var (
	configFile string
	verbose    bool
	quiet      bool

	outputFlag     string
	formatFlag     string
	dropDuplicates bool
	plotsDir       string
	noProgress     bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "soilflow",
	Short: "Soilflow - Clean and score environmental soil datasets",
	Long: `Soilflow cleans soil survey workbooks and scores heavy metal contamination
against native concentration baselines.

The run command executes the whole pipeline: schema checks, critical-row
filtering, duplicate detection, sample counts, period assignment,
latest-sample selection, censored-value normalization, iterative imputation,
distribution checks, and contamination indices.`,
	Version: fmt.Sprintf("%s (%s)", version, commit),
}

var runCmd = &cobra.Command{
	Use:   "run <input>",
	Short: "Run the full cleaning and scoring pipeline",
	Long: `Run the pipeline over a survey workbook and write the processed dataset.

Inputs may be local paths, s3:// keys, or http(s) URLs. The output format
follows the -o extension unless --format forces one.

Examples:
  soilflow run soil.xlsx
  soilflow run soil.xlsx -o processed.xlsx --drop-duplicates
  soilflow run s3://surveys/auckland.xlsx -o s3://surveys/processed.xlsx
  soilflow run soil.csv --format parquet -o soil.parquet --plots dist/`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var infoCmd = &cobra.Command{
	Use:   "info <input>",
	Short: "Describe a dataset without transforming it",
	Long:  `Load a dataset and print its shape, per-column missing counts, and duplicate rows.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("soilflow %s (%s)\n", version, commit)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Explicit config file merged over the standard locations")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging and stage timings")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress the report and progress bar; errors only")

	// Run command flags
	runCmd.Flags().StringVarP(&outputFlag, "output", "o", "", "Output path (default: <input>_processed.xlsx)")
	runCmd.Flags().StringVar(&formatFlag, "format", "", "Output format (xlsx, csv, parquet) - inferred from -o if not specified")
	runCmd.Flags().BoolVar(&dropDuplicates, "drop-duplicates", false, "Remove duplicate rows instead of only reporting them")
	runCmd.Flags().StringVar(&plotsDir, "plots", "", "Write before/after distribution PNGs to this directory")
	runCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the stage progress bar")

	// Add commands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(versionCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	input := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := cliLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	shutdown, err := telemetry.Setup(ctx, telemetryConfig(cfg))
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdown(flushCtx); err != nil {
			log.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	output := outputFlag
	if output == "" {
		output = defaultOutput(input)
	}
	format, err := outputFormat(output)
	if err != nil {
		return err
	}

	start := time.Now()
	table, err := loadInput(ctx, input, cfg)
	if err != nil {
		return err
	}
	log.Debug("dataset loaded",
		zap.String("input", input),
		zap.Int("rows", table.NumRows()),
		zap.Int("columns", table.NumCols()))

	runner := pipeline.NewRunner(cfg).
		WithLogger(log).
		WithDropDuplicates(dropDuplicates)

	var bar *progressbar.ProgressBar
	if !quiet && !noProgress {
		runner = runner.WithStageHook(func(stage string, index, total int) {
			if bar == nil {
				bar = report.StageBar(total, stage)
			}
			bar.Describe(stage)
			bar.Set(index - 1)
		})
	}

	res, err := runner.Run(ctx, table)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		if !quiet {
			report.NewRenderer(os.Stdout).Error(err)
		}
		return err
	}

	if err := writeOutput(ctx, res.Final, output, format, cfg); err != nil {
		return err
	}

	if plotsDir != "" {
		paths, err := viz.NewPlotter(plotsDir).Write(ctx, res.Before, res.Final, cfg.Assessment.Columns)
		if err != nil {
			return err
		}
		log.Debug("distribution plots written", zap.Int("count", len(paths)), zap.String("dir", plotsDir))
	}

	if !quiet {
		r := report.NewRenderer(os.Stdout)
		r.Run(res, time.Since(start))
		if verbose {
			r.Timings(res.Timings)
		}
		fmt.Printf("\n  Output written to %s\n", output)
	}
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	table, err := loadInput(ctx, args[0], cfg)
	if err != nil {
		return err
	}

	r := report.NewRenderer(os.Stdout)
	r.Profile(args[0], schema.Describe(table))
	dup := clean.Duplicates(table)
	r.Duplicates(dup.Duplicates, dup.Percent)
	return nil
}

// loadConfig merges the standard config locations, then the --config file on
// top when one was given.
func loadConfig() (*config.Config, error) {
	mgr := config.NewManager()
	if configFile != "" {
		if err := mgr.LoadFile(configFile); err != nil {
			return nil, err
		}
	} else if err := mgr.Load(); err != nil {
		return nil, err
	}
	return mgr.Get(), nil
}

// cliLogger builds the logger for terminal commands. Stage detail stays out of
// the way unless --verbose asks for it; the styled report covers the rest.
func cliLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	switch {
	case verbose:
		return newLogger(cfg, zapcore.DebugLevel)
	case quiet:
		return newLogger(cfg, zapcore.ErrorLevel)
	default:
		return newLogger(cfg, zapcore.WarnLevel)
	}
}

// serverLogger builds the logger for the serve command, honoring the
// configured level since no styled report competes for the terminal.
func serverLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	return newLogger(cfg, level)
}

// newLogger builds a zap logger at the given level. Everything goes to stderr
// so stdout stays clean for reports and query output.
func newLogger(cfg config.LoggingConfig, level zapcore.Level) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	if !cfg.JSON {
		zc.Encoding = "console"
		enc := zap.NewDevelopmentEncoderConfig()
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zc.EncoderConfig = enc
	}
	return zc.Build()
}

// telemetryConfig maps file configuration onto the tracing subsystem.
func telemetryConfig(cfg *config.Config) telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.Enabled = cfg.Telemetry.Enabled
	if cfg.Telemetry.Endpoint != "" {
		tc.Endpoint = cfg.Telemetry.Endpoint
	}
	if cfg.Telemetry.ServiceName != "" {
		tc.ServiceName = cfg.Telemetry.ServiceName
	}
	tc.ServiceVersion = version
	tc.SampleRatio = cfg.Telemetry.SampleRatio
	return tc
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

// loadInput fetches the dataset from local disk, S3, or HTTP and parses it
// according to the path extension. Gzip-compressed inputs decompress
// transparently.
func loadInput(ctx context.Context, path string, cfg *config.Config) (*dataset.Table, error) {
	rc, _, err := storage.Fetch(ctx, path, cfg.S3)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	r, closeFn, err := util.OpenReader(rc, path)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	return dataset.LoadReader(r, dataset.DetectFormat(path))
}

// writeOutput saves locally through an atomic rename, or streams through the
// resolved store for remote targets.
func writeOutput(ctx context.Context, t *dataset.Table, path string, format export.Format, cfg *config.Config) error {
	store, key, err := storage.Resolve(path, cfg.S3)
	if err != nil {
		return err
	}
	if store.Scheme() == "file" {
		return export.Save(t, key, format)
	}

	w, err := store.Writer(ctx, key)
	if err != nil {
		return err
	}
	if err := export.Write(t, w, format); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// outputFormat resolves --format against the output path extension.
func outputFormat(output string) (export.Format, error) {
	if formatFlag != "" {
		return export.ParseFormat(formatFlag)
	}
	return export.FormatFromPath(output), nil
}

// defaultOutput derives the output path from the input: soil.xlsx becomes
// soil_processed.xlsx next to it. Remote inputs land in the working directory.
func defaultOutput(input string) string {
	base := filepath.Base(input)
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	base = util.StripCompression(base)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = "soilflow"
	}

	dir := "."
	if !isRemote(input) {
		dir = filepath.Dir(input)
	}
	return filepath.Join(dir, stem+"_processed.xlsx")
}

// isRemote reports whether the path needs network access to read.
func isRemote(path string) bool {
	return strings.HasPrefix(path, "s3://") ||
		strings.HasPrefix(path, "http://") ||
		strings.HasPrefix(path, "https://")
}
