package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/soilflow/soilflow/pkg/query"
	"github.com/soilflow/soilflow/pkg/report"
)

// Query flags
var queryTable string

var queryCmd = &cobra.Command{
	Use:   "query <input> <sql>",
	Short: "Run read-only SQL over a dataset",
	Long: `Load a dataset into an in-memory DuckDB table and run a read-only query
against it. Nothing is persisted; every invocation loads fresh.

Column names keep their spreadsheet form, so most need quoting.

Examples:
  soilflow query processed.xlsx 'SELECT "Period", count(*) FROM soil GROUP BY 1'
  soilflow query processed.xlsx 'SELECT "Site Num", "ICI" FROM soil ORDER BY "ICI" DESC LIMIT 10'
  soilflow query soil.csv 'SELECT avg("pH") FROM soil WHERE "Olsen P" IS NOT NULL'`,
	Args: cobra.ExactArgs(2),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&queryTable, "table", query.DefaultTable, "Name of the in-memory table")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
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

	engine, err := query.Open(ctx, table, queryTable)
	if err != nil {
		return err
	}
	defer engine.Close()

	header, rows, err := engine.Run(ctx, args[1])
	if err != nil {
		return err
	}

	report.NewRenderer(os.Stdout).Grid(header, rows)
	fmt.Printf("  %d rows\n", len(rows))
	return nil
}
