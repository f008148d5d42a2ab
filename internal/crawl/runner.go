package crawl

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/solstice/syscrawl/internal/bgg"
	"github.com/solstice/syscrawl/internal/pacer"
	"github.com/solstice/syscrawl/internal/report"
	"github.com/solstice/syscrawl/internal/util"
)

const (
	// DefaultDesired is the batch size used when none is configured
	DefaultDesired = 100

	// MaxDesired caps the batch size
	MaxDesired = 200

	// CandidateMargin extra candidates are harvested to absorb attrition
	CandidateMargin = 50

	// MaxBrowsePages bounds listing pages visited per batch
	MaxBrowsePages = 4

	// throttleCoolOff is how long the pacer backs off after a 429/503
	throttleCoolOff = 30 * time.Second
)

// Batch is a fixed listing-page range
type Batch struct {
	Label     string
	StartPage int
}

// DefaultBatches are the two page ranges crawled per run
func DefaultBatches() []Batch {
	return []Batch{
		{Label: "Top 1-100", StartPage: 1},
		{Label: "Top 101-200", StartPage: 2},
	}
}

// ParseLimit turns a BGG_LIMIT value into a batch size: default 100,
// capped at 200, non-positive or unparsable values fall back to 100.
func ParseLimit(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultDesired
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(n) || n <= 0 {
		return DefaultDesired
	}
	if n > MaxDesired {
		return MaxDesired
	}
	if n < 1 {
		return 1
	}
	return int(n)
}

// Catalog is the BoardGameGeek surface the runner reads
type Catalog interface {
	Browse(ctx context.Context, opts bgg.BrowseOptions) ([]bgg.Candidate, error)
	Detail(ctx context.Context, id int) (*bgg.Detail, error)
	Thing(ctx context.Context, id int) (*bgg.Thing, error)
}

// Processor reconciles one candidate
type Processor interface {
	Process(ctx context.Context, d Detailed) (Outcome, error)
}

// RunnerOptions configures a Runner
type RunnerOptions struct {
	Catalog  Catalog
	Writer   Processor
	Pacer    pacer.Scheduler // nil means pacer.NewSpaced(pacer.DefaultInterval)
	Desired  int
	Sort     string
	SortDir  string
	Batches  []Batch
	Events   *report.EventLogger
	Metrics  *report.Metrics
	Progress bool
}

// Runner harvests, details, ranks and processes candidates batch by batch
type Runner struct {
	catalog  Catalog
	writer   Processor
	pacer    pacer.Scheduler
	desired  int
	sort     string
	sortDir  string
	batches  []Batch
	events   *report.EventLogger
	metrics  *report.Metrics
	progress bool
}

// NewRunner creates a runner, filling defaults
func NewRunner(opts RunnerOptions) *Runner {
	r := &Runner{
		catalog:  opts.Catalog,
		writer:   opts.Writer,
		pacer:    opts.Pacer,
		desired:  opts.Desired,
		sort:     opts.Sort,
		sortDir:  opts.SortDir,
		batches:  opts.Batches,
		events:   opts.Events,
		metrics:  opts.Metrics,
		progress: opts.Progress,
	}
	if r.pacer == nil {
		r.pacer = pacer.NewSpaced(pacer.DefaultInterval)
	}
	if r.desired <= 0 {
		r.desired = DefaultDesired
	}
	if r.desired > MaxDesired {
		r.desired = MaxDesired
	}
	if r.sort == "" {
		r.sort = bgg.DefaultSort
	}
	if r.sortDir == "" {
		r.sortDir = bgg.DefaultSortDir
	}
	if len(r.batches) == 0 {
		r.batches = DefaultBatches()
	}
	return r
}

// Run processes every batch in order. Per-candidate failures are counted,
// anything else stops the run and is returned with the partial summary.
func (r *Runner) Run(ctx context.Context) (*report.Summary, error) {
	summary := &report.Summary{
		RunID:        r.events.RunID(),
		StartedAt:    time.Now(),
		Desired:      r.desired,
		EventLogPath: r.events.Path(),
	}
	util.InfoLog("Fetching BGG browse data batches with desired size %d", r.desired)

	for _, b := range r.batches {
		result, err := r.RunBatch(ctx, b)
		if result != nil {
			summary.Batches = append(summary.Batches, result)
			summary.BytesUploaded += result.BytesUploaded
		}
		if err != nil {
			summary.FinishedAt = time.Now()
			r.events.LogError(b.Label, err)
			return summary, err
		}
	}

	summary.FinishedAt = time.Now()
	r.metrics.MarkRunFinished(summary.FinishedAt)
	r.events.LogRun(summary)
	return summary, nil
}

// RunBatch harvests desired+margin candidates from the batch's pages,
// fetches their details, keeps the most popular desired and processes them
func (r *Runner) RunBatch(ctx context.Context, b Batch) (*report.BatchResult, error) {
	start := time.Now()
	result := &report.BatchResult{Label: b.Label, StartPage: b.StartPage}
	defer func() { result.Duration = time.Since(start) }()

	util.InfoLog("=== Starting BGG batch: %s (page %d) ===", b.Label, b.StartPage)
	candidates, err := r.catalog.Browse(ctx, bgg.BrowseOptions{
		Desired:   r.desired + CandidateMargin,
		StartPage: b.StartPage,
		MaxPages:  MaxBrowsePages,
		Sort:      r.sort,
		SortDir:   r.sortDir,
	})
	if err != nil {
		return result, err
	}
	result.Candidates = len(candidates)
	util.InfoLog("Batch %s candidates fetched: %d. Sample: %s", b.Label, len(candidates), sampleCandidates(candidates, 5))
	if len(candidates) == 0 {
		util.WarnLog("Batch %s has no candidates; skipping.", b.Label)
		return result, nil
	}

	detailed, err := r.FetchDetails(ctx, b.Label, candidates)
	if err != nil {
		return result, err
	}
	result.Detailed = len(detailed)
	util.InfoLog("Batch %s details resolved for %d systems. Sample: %s", b.Label, len(detailed), sampleDetailed(detailed, 5))
	if len(detailed) == 0 {
		util.WarnLog("Batch %s missing detail data; skipping.", b.Label)
		return result, nil
	}

	SortDetailed(detailed)
	if len(detailed) > r.desired {
		detailed = detailed[:r.desired]
	}
	top := detailed[0]
	util.InfoLog("Batch %s processing %d systems. Top candidate: %s (%d voters, %d comments)",
		b.Label, len(detailed), top.PreferredName(), top.voters(), top.comments())

	for _, d := range detailed {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		began := time.Now()
		out, err := r.writer.Process(ctx, d)
		if err != nil {
			return result, fmt.Errorf("batch %s: %s (BGG %d): %w", b.Label, d.Candidate.Name, d.Candidate.ID, err)
		}
		r.record(result, d, out, time.Since(began))
	}

	result.Duration = time.Since(start)
	util.InfoLog("%s", result.Line())
	r.events.LogBatch(result)
	return result, nil
}

func (r *Runner) record(result *report.BatchResult, d Detailed, out Outcome, elapsed time.Duration) {
	name := d.PreferredName()
	result.Record(string(out.Status), out.Created)
	r.metrics.RecordOutcome(string(out.Status), out.Created)

	switch out.Status {
	case StatusSkipped:
		util.InfoLog("Batch %s: skipped %s after slug check", result.Label, d.Candidate.Name)
		r.events.LogSkip(result.Label, d.Candidate.ID, name, skipReason(out.Err))
		return
	case StatusPartial:
		util.InfoLog("Batch %s: partial enrichment for %s; check taxonomy mappings or release date coverage", result.Label, name)
	case StatusError:
		util.ErrorLog("Batch %s: error state for %s; see above logs", result.Label, name)
	}
	if out.Created {
		util.SuccessLog("Batch %s: created %s (BGG %d) voters:%d comments:%d",
			result.Label, name, d.Candidate.ID, d.voters(), d.comments())
	}
	if out.BytesUploaded > 0 {
		result.BytesUploaded += out.BytesUploaded
		r.metrics.AddHeroBytes(out.BytesUploaded)
		r.events.LogHero(out.SystemID, d.HeroImageURL(), out.BytesUploaded)
	}

	r.events.LogCandidate(result.Label, d.Candidate.ID, name, out.Slug, out.SystemID,
		string(out.Status), out.Created, d.Candidate.Rank, elapsed, out.Err)
}

// FetchDetails resolves every candidate sequentially through the pacer.
// Candidates with neither detail nor fallback data are dropped.
func (r *Runner) FetchDetails(ctx context.Context, label string, candidates []bgg.Candidate) ([]Detailed, error) {
	var bar *progressbar.ProgressBar
	if r.progress {
		bar = progressbar.NewOptions(len(candidates),
			progressbar.OptionSetDescription(fmt.Sprintf("Details %s", label)),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(200*time.Millisecond),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetRenderBlankState(true),
		)
		defer bar.Finish()
	}

	detailed := make([]Detailed, 0, len(candidates))
	for _, c := range candidates {
		if bar != nil {
			bar.Add(1)
		}
		if err := r.pacer.Wait(ctx); err != nil {
			return detailed, err
		}

		detail, err := r.catalog.Detail(ctx, c.ID)
		if err != nil {
			return detailed, err
		}

		var fallback *bgg.Thing
		if detail == nil {
			fallback, err = r.fallback(ctx, c)
			if err != nil {
				return detailed, err
			}
		}

		thing := MergeThing(c.ID, detail, fallback)
		if thing == nil {
			util.WarnLog("Skipping BGG id %d; no detail data available", c.ID)
			r.events.LogSkip(label, c.ID, c.Name, util.ErrNoDetail.Error())
			continue
		}
		detailed = append(detailed, Detailed{Candidate: c, Detail: detail, Thing: thing})
	}
	return detailed, nil
}

// fallback fetches the XML API record for a candidate whose detail page
// yielded nothing. Only cancellation is returned as an error.
func (r *Runner) fallback(ctx context.Context, c bgg.Candidate) (*bgg.Thing, error) {
	if err := r.pacer.Wait(ctx); err != nil {
		return nil, err
	}
	thing, err := r.catalog.Thing(ctx, c.ID)
	if err == nil {
		return thing, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if bgg.IsThrottled(err) {
		if p, ok := r.pacer.(interface{ CoolOff(time.Duration) }); ok {
			util.WarnLog("BGG is throttling requests; cooling off for %s", throttleCoolOff)
			p.CoolOff(throttleCoolOff)
		}
	}
	if errors.Is(err, util.ErrNotFound) {
		util.WarnLog("BGG thing %d not found", c.ID)
	} else {
		util.WarnLog("Failed to fetch BGG thing for %d: %v", c.ID, err)
	}
	return nil, nil
}

func skipReason(err error) string {
	if err == nil {
		return "skipped"
	}
	return err.Error()
}

func sampleCandidates(cs []bgg.Candidate, n int) string {
	parts := make([]string, 0, n)
	for i := 0; i < len(cs) && i < n; i++ {
		parts = append(parts, fmt.Sprintf("%s#%d[rank:%d]", cs[i].Name, cs[i].ID, cs[i].Rank))
	}
	return strings.Join(parts, ", ")
}

func sampleDetailed(ds []Detailed, n int) string {
	parts := make([]string, 0, n)
	for i := 0; i < len(ds) && i < n; i++ {
		parts = append(parts, fmt.Sprintf("%s voters:%d comments:%d",
			ds[i].PreferredName(), ds[i].voters(), ds[i].comments()))
	}
	return strings.Join(parts, ", ")
}
