package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/solstice/syscrawl/internal/store"
	"github.com/solstice/syscrawl/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show crawl status counts and recent crawl events",
	Long: `Show how many game systems are in each crawl status, the rows left in
"processing" by an interrupted run, and the most recent crawl events.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().Int("events", 10, "number of recent crawl events to show")
	statusCmd.Flags().Duration("since", 0, "only show events newer than this (e.g. 24h)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	setupLogging()
	ctx := context.Background()

	dbPath := viper.GetString("db")
	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	counts, err := db.CountByCrawlStatus(ctx)
	if err != nil {
		return err
	}
	totals, err := db.GetCatalogTotals(ctx)
	if err != nil {
		return err
	}

	util.InfoLog("=== Crawl Status ===")
	util.InfoLog("Database: %s", displayDSN(dbPath))
	util.InfoLog("")
	util.InfoLog("Game systems: %s (%s from BGG)", humanize.Comma(int64(totals.Systems)), humanize.Comma(int64(totals.FromBGG)))
	for _, status := range []store.CrawlStatus{
		store.CrawlSuccess, store.CrawlPartial, store.CrawlError, store.CrawlProcessing, store.CrawlPending,
	} {
		util.InfoLog("  %-10s %s", status, humanize.Comma(int64(counts[status])))
	}
	util.InfoLog("Media assets: %s  Publishers: %s  Categories: %s  Mechanics: %s",
		humanize.Comma(int64(totals.MediaAssets)), humanize.Comma(int64(totals.Publishers)),
		humanize.Comma(int64(totals.Categories)), humanize.Comma(int64(totals.Mechanics)))

	if counts[store.CrawlProcessing] > 0 {
		stuck, err := db.ListByCrawlStatus(ctx, store.CrawlProcessing, 10)
		if err != nil {
			return err
		}
		util.InfoLog("")
		util.WarnLog("%d systems left in processing (interrupted run?):", counts[store.CrawlProcessing])
		for _, g := range stuck {
			util.WarnLog("  %s (%s), last crawled %s", g.Name, g.Slug, relTime(g.LastCrawledAt))
		}
	}

	limit, _ := cmd.Flags().GetInt("events")
	since, _ := cmd.Flags().GetDuration("since")
	var from time.Time
	if since > 0 {
		from = time.Now().Add(-since)
	}
	events, err := db.RecentCrawlEvents(ctx, from, limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	util.InfoLog("")
	util.InfoLog("Recent crawl events:")
	for _, e := range events {
		line := fmt.Sprintf("  %-12s %-8s %-5s %s", relTime(e.FinishedAt), e.Status, e.Severity, e.SystemName)
		if e.ErrorMessage != "" {
			line += ": " + e.ErrorMessage
		}
		switch e.Severity {
		case store.SeverityError:
			util.ErrorLog("%s", line)
		case store.SeverityWarn:
			util.WarnLog("%s", line)
		default:
			util.InfoLog("%s", line)
		}
	}
	return nil
}

func relTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}
