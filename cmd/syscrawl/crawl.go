package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/solstice/syscrawl/internal/bgg"
	"github.com/solstice/syscrawl/internal/crawl"
	"github.com/solstice/syscrawl/internal/media"
	"github.com/solstice/syscrawl/internal/pacer"
	"github.com/solstice/syscrawl/internal/report"
	"github.com/solstice/syscrawl/internal/store"
	"github.com/solstice/syscrawl/internal/taxonomy"
	"github.com/solstice/syscrawl/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Crawl the most popular BoardGameGeek titles into the catalogue",
	Long: `Crawl BoardGameGeek listing pages in two batches (Top 1-100, Top 101-200),
fetch each candidate's detail data, keep the most popular ones and reconcile
them into the game system catalogue.

Environment:
  BGG_LIMIT            systems per batch (default 100, max 200)
  BGG_SORT             listing sort key (default numvoters)
  BGG_SORT_DIR         listing sort direction (default desc)
  CRAWLER_USER_AGENT   User-Agent for every request

Hero images are stored according to --storage:
  none    keep referencing the image at its source
  local   write below --media-dir, served from --media-base-url
  gcs     upload to --gcs-bucket (credentials from GOOGLE_APPLICATION_CREDENTIALS_JSON
          or GOOGLE_APPLICATION_CREDENTIALS)`,
	Args: cobra.NoArgs,
	RunE: runCrawl,
}

func init() {
	rootCmd.AddCommand(crawlCmd)

	crawlCmd.Flags().String("base-url", bgg.DefaultBaseURL, "BoardGameGeek site root")
	crawlCmd.Flags().Duration("interval", pacer.DefaultInterval, "minimum spacing between detail fetches")
	crawlCmd.Flags().String("storage", "none", "hero image storage: none, local or gcs")
	crawlCmd.Flags().String("media-dir", "artifacts/media", "directory for --storage=local")
	crawlCmd.Flags().String("media-base-url", "", "public URL prefix of --media-dir")
	crawlCmd.Flags().String("gcs-bucket", "", "bucket for --storage=gcs")
	crawlCmd.Flags().String("gcs-cdn-domain", "", "CDN domain serving the bucket (optional)")
	crawlCmd.Flags().String("events-dir", "artifacts/events", "directory for the JSONL event log (empty to disable)")
	crawlCmd.Flags().String("metrics-file", "", "write Prometheus metrics to this textfile after the run")
	crawlCmd.Flags().String("report-out", "", "write a Markdown crawl report to this file after the run")
	crawlCmd.Flags().Bool("no-progress", false, "disable the progress bar")

	for _, name := range []string{
		"base-url", "interval", "storage", "media-dir", "media-base-url", "gcs-bucket",
		"gcs-cdn-domain", "events-dir", "metrics-file", "report-out", "no-progress",
	} {
		viper.BindPFlag(name, crawlCmd.Flags().Lookup(name))
	}
}

func runCrawl(cmd *cobra.Command, args []string) error {
	setupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPath := viper.GetString("db")
	desired := crawl.ParseLimit(viper.GetString("limit"))
	userAgent := util.GetUserAgent()

	util.InfoLog("=== BGG Crawl ===")
	util.InfoLog("Database: %s", displayDSN(dbPath))
	util.InfoLog("User-Agent: %s", userAgent)

	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	resolver := taxonomy.NewResolver(db, store.SourceBGG)
	if err := resolver.Prime(ctx); err != nil {
		return fmt.Errorf("failed to load taxonomy: %w", err)
	}
	util.DebugLog("Taxonomy cache: %d categories, %d mechanics",
		resolver.Size(store.KindCategory), resolver.Size(store.KindMechanic))

	uploader, err := newUploader(ctx)
	if err != nil {
		return err
	}
	if c, ok := uploader.(interface{ Close() error }); ok {
		defer c.Close()
	}

	events := report.NullLogger()
	if dir := viper.GetString("events-dir"); dir != "" {
		events, err = report.NewEventLogger(dir, report.LevelInfo)
		if err != nil {
			return fmt.Errorf("failed to create event log: %w", err)
		}
		defer events.Close()
		util.InfoLog("Event log: %s", events.Path())
	}
	metrics := report.NewMetrics()

	httpClient := &http.Client{Timeout: 30 * time.Second}
	client := bgg.NewClient(bgg.Options{
		BaseURL:    GetConfigString("base-url", bgg.DefaultBaseURL),
		UserAgent:  userAgent,
		HTTPClient: httpClient,
		Observer:   metrics.ObserveRequest,
	})

	writer := crawl.NewWriter(crawl.WriterOptions{
		Store:    db,
		Resolver: resolver,
		Fetcher:  media.NewFetcher(httpClient, userAgent, nil),
		Uploader: uploader,
		Enricher: crawl.NewCatalogEnricher(db, client, resolver),
	})

	runner := crawl.NewRunner(crawl.RunnerOptions{
		Catalog:  client,
		Writer:   writer,
		Pacer:    pacer.NewSpaced(GetConfigDuration("interval", pacer.DefaultInterval)),
		Desired:  desired,
		Sort:     GetConfigString("sort", bgg.DefaultSort),
		SortDir:  GetConfigString("sort-dir", bgg.DefaultSortDir),
		Events:   events,
		Metrics:  metrics,
		Progress: util.ShowProgress() && !GetConfigBool("no-progress"),
	})

	summary, runErr := runner.Run(ctx)

	if path := viper.GetString("metrics-file"); path != "" {
		if err := metrics.WriteTextfile(path); err != nil {
			util.WarnLog("Failed to write metrics: %v", err)
		}
	}
	if runErr != nil {
		return runErr
	}

	util.InfoLog("")
	util.InfoLog("Duration: %s", summary.Duration().Round(time.Second))
	if summary.BytesUploaded > 0 {
		util.InfoLog("Hero images uploaded: %s", humanize.Bytes(uint64(summary.BytesUploaded)))
	}
	util.SuccessLog("%s", summary.Line())

	if out := viper.GetString("report-out"); out != "" {
		if err := writeRunReport(ctx, db, dbPath, summary, out); err != nil {
			util.WarnLog("Failed to write report: %v", err)
		} else {
			util.InfoLog("Report saved to: %s", out)
		}
	}
	return nil
}

// writeRunReport renders the catalogue report with this run's counters
func writeRunReport(ctx context.Context, db *store.Store, dbPath string, summary *report.Summary, out string) error {
	r, err := report.GenerateCatalogReport(ctx, db, summary.StartedAt)
	if err != nil {
		return err
	}
	r.DatabasePath = displayDSN(dbPath)
	r.EventLogPath = summary.EventLogPath
	r.LastRun = summary
	return report.WriteMarkdownReport(r, out)
}

// newUploader builds the hero image uploader selected by --storage
func newUploader(ctx context.Context) (media.Uploader, error) {
	switch mode := GetConfigString("storage", "none"); mode {
	case "none":
		return media.NopUploader{}, nil
	case "local":
		dir, err := media.NewDirUploader(viper.GetString("media-dir"), viper.GetString("media-base-url"))
		if err != nil {
			return nil, err
		}
		util.InfoLog("Hero images: %s", dir.Root)
		return dir, nil
	case "gcs":
		bucket := viper.GetString("gcs-bucket")
		if bucket == "" {
			return nil, fmt.Errorf("%w: --gcs-bucket is required with --storage=gcs", util.ErrInvalidConfig)
		}
		gcs, err := media.NewGCSUploader(ctx, bucket, viper.GetString("gcs-cdn-domain"))
		if err != nil {
			return nil, err
		}
		util.InfoLog("Hero images: gs://%s", bucket)
		return gcs, nil
	default:
		return nil, fmt.Errorf("%w: unknown storage %q (want none, local or gcs)", util.ErrInvalidConfig, mode)
	}
}
