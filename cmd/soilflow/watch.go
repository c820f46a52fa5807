package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/soilflow/soilflow/pkg/pipeline"
	"github.com/soilflow/soilflow/pkg/report"
	"github.com/soilflow/soilflow/pkg/watch"
)

// Watch flags
var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch <input>",
	Short: "Rerun the pipeline whenever the input file changes",
	Long: `Watch a local dataset and rerun the full pipeline after each save.

Every run overwrites the same output path. Editors that save through a
temporary file are handled; rapid save bursts are debounced.

Examples:
  soilflow watch soil.xlsx
  soilflow watch soil.xlsx -o processed.xlsx --drop-duplicates
  soilflow watch soil.xlsx --debounce 2s`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&outputFlag, "output", "o", "", "Output path (default: <input>_processed.xlsx)")
	watchCmd.Flags().StringVar(&formatFlag, "format", "", "Output format (xlsx, csv, parquet) - inferred from -o if not specified")
	watchCmd.Flags().BoolVar(&dropDuplicates, "drop-duplicates", false, "Remove duplicate rows instead of only reporting them")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", watch.DefaultDebounce, "Quiet window after a change before reprocessing")

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
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

	output := outputFlag
	if output == "" {
		output = defaultOutput(input)
	}
	format, err := outputFormat(output)
	if err != nil {
		return err
	}

	process := func(path string) error {
		start := time.Now()
		table, err := loadInput(ctx, path, cfg)
		if err != nil {
			return err
		}

		res, err := pipeline.NewRunner(cfg).
			WithLogger(log).
			WithDropDuplicates(dropDuplicates).
			Run(ctx, table)
		if err != nil {
			return err
		}

		if err := writeOutput(ctx, res.Final, output, format, cfg); err != nil {
			return err
		}
		if !quiet {
			report.NewRenderer(os.Stdout).Run(res, time.Since(start))
			fmt.Printf("\n  Output written to %s\n", output)
		}
		return nil
	}

	w, err := watch.New(input)
	if err != nil {
		return err
	}
	w = w.WithDebounce(watchDebounce)
	w.OnChange = process
	w.OnError = func(path string, err error) {
		log.Warn("reprocess failed", zap.String("path", path), zap.Error(err))
		if !quiet {
			report.NewRenderer(os.Stdout).Error(err)
		}
	}

	// One pass up front; the watcher covers subsequent saves.
	if err := process(input); err != nil {
		return err
	}

	fmt.Printf("  Watching %s (Ctrl+C to stop)\n", w.Path())
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
