package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/solstice/syscrawl/internal/report"
	"github.com/solstice/syscrawl/internal/store"
	"github.com/solstice/syscrawl/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a Markdown report of the catalogue crawl state",
	Long: `Generate a summary report in Markdown format.

The report includes:
- Systems per crawl status
- Coverage of BGG ids, hero images, publishers, categories and mechanics
- Systems stuck in processing
- Top error messages
- Recent crawl events

The report is saved to artifacts/reports/<timestamp>/summary.md`,
	Args: cobra.NoArgs,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().String("out", "", "Output directory for report (default: artifacts/reports/<timestamp>)")
	reportCmd.Flags().Duration("since", 7*24*time.Hour, "include crawl events newer than this")
}

func runReport(cmd *cobra.Command, args []string) error {
	setupLogging()
	ctx := context.Background()

	dbPath := viper.GetString("db")
	util.InfoLog("=== Generating Crawl Report ===")
	util.InfoLog("Database: %s", displayDSN(dbPath))

	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	since, _ := cmd.Flags().GetDuration("since")
	util.InfoLog("Analyzing data...")
	catalogReport, err := report.GenerateCatalogReport(ctx, db, time.Now().Add(-since))
	if err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}
	catalogReport.DatabasePath = displayDSN(dbPath)

	outputDir, _ := cmd.Flags().GetString("out")
	if outputDir == "" {
		timestamp := time.Now().Format("20060102-150405")
		outputDir = filepath.Join("artifacts", "reports", timestamp)
	}
	outputPath := filepath.Join(outputDir, "summary.md")

	util.InfoLog("Writing report to: %s", outputPath)
	if err := report.WriteMarkdownReport(catalogReport, outputPath); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	t := catalogReport.Totals
	util.SuccessLog("Report generated successfully!")
	util.InfoLog("")
	util.InfoLog("Summary:")
	util.InfoLog("  Game systems: %d", t.Systems)
	util.InfoLog("  Succeeded: %d", catalogReport.StatusCounts[store.CrawlSuccess])
	util.InfoLog("  Partial: %d", catalogReport.StatusCounts[store.CrawlPartial])
	if n := catalogReport.StatusCounts[store.CrawlError]; n > 0 {
		util.WarnLog("  Errors: %d", n)
	}
	if n := len(catalogReport.Stuck); n > 0 {
		util.WarnLog("  Stuck in processing: %d", n)
	}
	return nil
}
