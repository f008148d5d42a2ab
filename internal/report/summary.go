package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/solstice/syscrawl/internal/store"
)

// BatchResult accumulates the counters of one batch
type BatchResult struct {
	Label      string
	StartPage  int
	Candidates int // harvested from listing pages
	Detailed   int // with detail or fallback data
	Processed  int // reached the catalogue; skipped candidates are not counted
	Success    int
	Partial    int
	Errors     int
	Created    int
	Skipped    int
	Duration   time.Duration

	BytesUploaded int64
}

// Record counts one writer outcome. status is a crawl status or "skipped".
func (b *BatchResult) Record(status string, created bool) {
	if status == "skipped" {
		b.Skipped++
		return
	}
	b.Processed++
	if created {
		b.Created++
	}
	switch store.CrawlStatus(status) {
	case store.CrawlSuccess:
		b.Success++
	case store.CrawlPartial:
		b.Partial++
	case store.CrawlError:
		b.Errors++
	}
}

// Line renders the per-batch completion log line
func (b *BatchResult) Line() string {
	return fmt.Sprintf("Batch %s complete: %d success, %d partial, %d errors, %d created (processed %d)",
		b.Label, b.Success, b.Partial, b.Errors, b.Created, b.Processed)
}

// Summary aggregates a whole crawl run
type Summary struct {
	RunID         string
	StartedAt     time.Time
	FinishedAt    time.Time
	Desired       int
	Batches       []*BatchResult
	BytesUploaded int64
	EventLogPath  string
}

// Totals sums the batch counters
func (s *Summary) Totals() BatchResult {
	t := BatchResult{Label: "total"}
	for _, b := range s.Batches {
		t.Candidates += b.Candidates
		t.Detailed += b.Detailed
		t.Processed += b.Processed
		t.Success += b.Success
		t.Partial += b.Partial
		t.Errors += b.Errors
		t.Created += b.Created
		t.Skipped += b.Skipped
		t.Duration += b.Duration
		t.BytesUploaded += b.BytesUploaded
	}
	return t
}

// Duration is the wall time of the run
func (s *Summary) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Line renders the final summary line printed by the crawl command
func (s *Summary) Line() string {
	t := s.Totals()
	return fmt.Sprintf("BGG crawl summary: %d success, %d partial, %d errors, %d created across %d processed systems",
		t.Success, t.Partial, t.Errors, t.Created, t.Processed)
}

// CatalogReport describes the crawl state of the catalogue
type CatalogReport struct {
	GeneratedAt  time.Time
	DatabasePath string
	EventLogPath string

	StatusCounts map[store.CrawlStatus]int
	Totals       store.CatalogTotals
	Stuck        []*store.GameSystem
	Failed       []*store.GameSystem
	RecentEvents []store.CrawlEventRow
	TopErrors    []ErrorSummary

	LastRun *Summary
}

// ErrorSummary represents an error with its count
type ErrorSummary struct {
	Error string
	Count int
}

// GenerateCatalogReport gathers crawl status, coverage and recent events
func GenerateCatalogReport(ctx context.Context, db *store.Store, since time.Time) (*CatalogReport, error) {
	report := &CatalogReport{
		GeneratedAt: time.Now(),
		TopErrors:   make([]ErrorSummary, 0),
	}

	counts, err := db.CountByCrawlStatus(ctx)
	if err != nil {
		return nil, err
	}
	report.StatusCounts = counts

	totals, err := db.GetCatalogTotals(ctx)
	if err != nil {
		return nil, err
	}
	report.Totals = *totals

	if report.Stuck, err = db.ListByCrawlStatus(ctx, store.CrawlProcessing, 20); err != nil {
		return nil, err
	}
	if report.Failed, err = db.ListByCrawlStatus(ctx, store.CrawlError, 100); err != nil {
		return nil, err
	}
	report.TopErrors = gatherTopErrors(report.Failed, 10)

	if report.RecentEvents, err = db.RecentCrawlEvents(ctx, since, 20); err != nil {
		return nil, err
	}

	return report, nil
}

// gatherTopErrors groups failed systems by error message
func gatherTopErrors(failed []*store.GameSystem, limit int) []ErrorSummary {
	errorCounts := make(map[string]int)
	for _, g := range failed {
		if g.ErrorMessage != "" {
			errorCounts[g.ErrorMessage]++
		}
	}

	errors := make([]ErrorSummary, 0, len(errorCounts))
	for msg, count := range errorCounts {
		errors = append(errors, ErrorSummary{Error: msg, Count: count})
	}

	sort.Slice(errors, func(i, j int) bool {
		if errors[i].Count != errors[j].Count {
			return errors[i].Count > errors[j].Count
		}
		return errors[i].Error < errors[j].Error
	})

	if len(errors) > limit {
		errors = errors[:limit]
	}
	return errors
}

// WriteMarkdownReport writes the catalogue report as Markdown
func WriteMarkdownReport(report *CatalogReport, outputPath string) error {
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := os.WriteFile(outputPath, []byte(RenderMarkdown(report)), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// RenderMarkdown renders the catalogue report
func RenderMarkdown(report *CatalogReport) string {
	var md strings.Builder

	md.WriteString("# Game System Crawl Report\n\n")
	md.WriteString(fmt.Sprintf("**Generated:** %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04:05")))
	if report.DatabasePath != "" {
		md.WriteString(fmt.Sprintf("**Database:** `%s`\n\n", report.DatabasePath))
	}
	if report.EventLogPath != "" {
		md.WriteString(fmt.Sprintf("**Event Log:** `%s`\n\n", report.EventLogPath))
	}
	md.WriteString("---\n\n")

	// Last run
	if run := report.LastRun; run != nil {
		t := run.Totals()
		md.WriteString("## Last Run\n\n")
		md.WriteString("| Batch | Candidates | Processed | Success | Partial | Errors | Created |\n")
		md.WriteString("|-------|------------|-----------|---------|---------|--------|---------|\n")
		for _, b := range run.Batches {
			md.WriteString(fmt.Sprintf("| %s | %d | %d | %d | %d | %d | %d |\n",
				b.Label, b.Candidates, b.Processed, b.Success, b.Partial, b.Errors, b.Created))
		}
		md.WriteString(fmt.Sprintf("| **Total** | %d | %d | %d | %d | %d | %d |\n\n",
			t.Candidates, t.Processed, t.Success, t.Partial, t.Errors, t.Created))
		if run.BytesUploaded > 0 {
			md.WriteString(fmt.Sprintf("Uploaded %s of hero images", humanize.Bytes(uint64(run.BytesUploaded))))
			if d := run.Duration(); d > 0 {
				md.WriteString(fmt.Sprintf(" in %s", d.Round(time.Second)))
			}
			md.WriteString(".\n\n")
		}
	}

	// Status
	md.WriteString("## Crawl Status\n\n")
	md.WriteString("| Status | Systems |\n")
	md.WriteString("|--------|---------|\n")
	for _, status := range []store.CrawlStatus{
		store.CrawlSuccess, store.CrawlPartial, store.CrawlError, store.CrawlProcessing, store.CrawlPending,
	} {
		md.WriteString(fmt.Sprintf("| %s | %s |\n", status, humanize.Comma(int64(report.StatusCounts[status]))))
	}
	md.WriteString("\n")

	// Coverage
	t := report.Totals
	md.WriteString("## Coverage\n\n")
	md.WriteString("| Metric | Value |\n")
	md.WriteString("|--------|-------|\n")
	md.WriteString(fmt.Sprintf("| Game Systems | %s |\n", humanize.Comma(int64(t.Systems))))
	md.WriteString(fmt.Sprintf("| From BGG | %s |\n", percentOf(t.FromBGG, t.Systems)))
	md.WriteString(fmt.Sprintf("| With Hero Image | %s |\n", percentOf(t.WithHeroImage, t.Systems)))
	md.WriteString(fmt.Sprintf("| With Publisher | %s |\n", percentOf(t.WithPublisher, t.Systems)))
	md.WriteString(fmt.Sprintf("| With Categories | %s |\n", percentOf(t.WithCategories, t.Systems)))
	md.WriteString(fmt.Sprintf("| With Mechanics | %s |\n", percentOf(t.WithMechanics, t.Systems)))
	md.WriteString(fmt.Sprintf("| Media Assets | %s |\n", humanize.Comma(int64(t.MediaAssets))))
	md.WriteString(fmt.Sprintf("| Publishers | %s |\n", humanize.Comma(int64(t.Publishers))))
	md.WriteString(fmt.Sprintf("| Categories | %s |\n", humanize.Comma(int64(t.Categories))))
	md.WriteString(fmt.Sprintf("| Mechanics | %s |\n", humanize.Comma(int64(t.Mechanics))))
	md.WriteString("\n")

	// Stuck
	if len(report.Stuck) > 0 {
		md.WriteString("## Stuck in Processing\n\n")
		md.WriteString("| System | Slug | Last Crawled |\n")
		md.WriteString("|--------|------|--------------|\n")
		for _, g := range report.Stuck {
			md.WriteString(fmt.Sprintf("| %s | `%s` | %s |\n", escapeCell(g.Name), g.Slug, relTime(g.LastCrawledAt)))
		}
		md.WriteString("\n")
	}

	// Errors
	if len(report.TopErrors) > 0 {
		md.WriteString("## Top Errors\n\n")
		md.WriteString("| Count | Error |\n")
		md.WriteString("|-------|-------|\n")
		for _, e := range report.TopErrors {
			md.WriteString(fmt.Sprintf("| %d | %s |\n", e.Count, escapeCell(truncate(e.Error, 120))))
		}
		md.WriteString("\n")
	}

	// Events
	if len(report.RecentEvents) > 0 {
		md.WriteString("## Recent Crawl Events\n\n")
		md.WriteString("| Finished | System | Status | Severity |\n")
		md.WriteString("|----------|--------|--------|----------|\n")
		for _, e := range report.RecentEvents {
			md.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
				relTime(e.FinishedAt), escapeCell(e.SystemName), e.Status, e.Severity))
		}
		md.WriteString("\n")
	}

	md.WriteString("---\n\n")
	md.WriteString("*Generated by syscrawl*\n")
	return md.String()
}

func percentOf(n, total int) string {
	if total == 0 {
		return "0"
	}
	return fmt.Sprintf("%s (%.1f%%)", humanize.Comma(int64(n)), float64(n)*100/float64(total))
}

func relTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

func escapeCell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", "\\|"), "\n", " ")
}

// truncate shortens s to at most maxLen bytes, keeping the start
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
