package crawl

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/solstice/syscrawl/internal/media"
	"github.com/solstice/syscrawl/internal/meta"
	"github.com/solstice/syscrawl/internal/store"
	"github.com/solstice/syscrawl/internal/taxonomy"
	"github.com/solstice/syscrawl/internal/util"
)

const (
	heroLicense    = "BGG Fair Use"
	heroLicenseURL = "https://boardgamegeek.com/wiki/page/Copyright"
)

// Status is the outcome of processing one candidate
type Status string

const (
	StatusSkipped Status = "skipped"
	StatusSuccess Status = Status(store.CrawlSuccess)
	StatusPartial Status = Status(store.CrawlPartial)
	StatusError   Status = Status(store.CrawlError)
)

// Outcome describes what Process did with a candidate
type Outcome struct {
	Status        Status
	Created       bool
	SystemID      int64
	Slug          string
	BytesUploaded int64
	Err           error // why a candidate was skipped or failed
}

// Store is the persistence the writer needs
type Store interface {
	GetGameSystemBySlug(ctx context.Context, slug string) (*store.GameSystem, error)
	InsertGameSystem(ctx context.Context, g *store.GameSystem) error
	UpdateGameSystem(ctx context.Context, id int64, u store.GameSystemUpdate) error
	FindMediaAssetByChecksum(ctx context.Context, systemID int64, checksum string) (*store.MediaAsset, error)
	InsertMediaAsset(ctx context.Context, a *store.MediaAsset) error
	FindOrCreatePublisher(ctx context.Context, name string) (*store.Publisher, error)
	InsertCrawlEvent(ctx context.Context, e *store.CrawlEvent) error
}

// ImageFetcher downloads and probes an image
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) (*media.Image, error)
}

// WriterOptions wires a Writer's collaborators
type WriterOptions struct {
	Store    Store
	Resolver *taxonomy.Resolver
	Fetcher  ImageFetcher   // nil disables hero images
	Uploader media.Uploader // nil means media.NopUploader
	Enricher Enricher       // nil always yields partial
	Now      func() time.Time
}

// Writer reconciles one candidate at a time into the catalogue
type Writer struct {
	store    Store
	resolver *taxonomy.Resolver
	fetcher  ImageFetcher
	uploader media.Uploader
	enricher Enricher
	now      func() time.Time
}

// NewWriter creates a writer
func NewWriter(opts WriterOptions) *Writer {
	w := &Writer{
		store:    opts.Store,
		resolver: opts.Resolver,
		fetcher:  opts.Fetcher,
		uploader: opts.Uploader,
		enricher: opts.Enricher,
		now:      opts.Now,
	}
	if w.uploader == nil {
		w.uploader = media.NopUploader{}
	}
	if w.now == nil {
		w.now = func() time.Time { return time.Now().UTC() }
	}
	return w
}

// Process finds or creates the candidate's system by slug, gap-fills it,
// attaches hero image, taxonomy and publisher, runs enrichment and records
// the crawl event. Failures from the publisher step on are recorded on the
// row and returned as StatusError with a nil error; earlier failures are
// returned as errors.
func (w *Writer) Process(ctx context.Context, d Detailed) (Outcome, error) {
	startedAt := w.now()
	name := d.PreferredName()
	slug := meta.Slugify(name)
	if slug == "" {
		util.WarnLog("Skipping %s due to empty slug", name)
		return Outcome{Status: StatusSkipped, Err: util.ErrEmptySlug}, nil
	}

	existing, err := w.store.GetGameSystemBySlug(ctx, slug)
	if err != nil {
		return Outcome{}, err
	}

	refs := store.ExternalRefs{store.SourceBGG: strconv.Itoa(d.Candidate.ID)}
	processing := store.CrawlProcessing
	var (
		sys     *store.GameSystem
		created bool
	)

	if existing == nil {
		util.InfoLog("No existing record for %s; creating new system with slug %s", name, slug)
		sys = &store.GameSystem{
			Name:          name,
			Slug:          slug,
			ExternalRefs:  refs,
			SourceOfTruth: store.SourceBGG,
			CrawlStatus:   processing,
			LastCrawledAt: startedAt,
		}
		meta.FillNew(sys, d.Fields())
		if err := w.store.InsertGameSystem(ctx, sys); err != nil {
			return Outcome{}, err
		}
		created = true
	} else {
		sys = existing
		util.InfoLog("Updating existing system %s (id=%d) voters:%d comments:%d",
			name, sys.ID, d.voters(), d.comments())
		u := meta.GapFill(existing, d.Fields()).Update
		u.ExternalRefs = existing.ExternalRefs.Merge(refs)
		u.CrawlStatus = &processing
		u.LastCrawledAt = &startedAt
		if err := w.store.UpdateGameSystem(ctx, sys.ID, u); err != nil {
			return Outcome{}, err
		}
		sys.Apply(u)
	}

	out := Outcome{Created: created, SystemID: sys.ID, Slug: slug}

	if url := d.HeroImageURL(); url != "" && sys.HeroImageID == 0 && w.fetcher != nil {
		heroID, n, err := w.ensureHero(ctx, sys, url)
		if err != nil {
			util.WarnLog("Failed to process hero image for system %d: %v", sys.ID, err)
		} else {
			sys.HeroImageID = heroID
			out.BytesUploaded = n
		}
	}

	if w.resolver != nil && d.Thing != nil {
		if err := w.resolver.Link(ctx, sys.ID, d.Thing.Categories, d.Thing.Mechanics); err != nil {
			return Outcome{}, err
		}
	}

	status, err := w.complete(ctx, d, sys, created, startedAt)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		if ferr := w.fail(ctx, d, sys, created, startedAt, err); ferr != nil {
			return Outcome{}, ferr
		}
		out.Status = StatusError
		out.Err = err
		return out, nil
	}
	out.Status = status
	return out, nil
}

// complete runs publisher, enrichment, final status and the success event
func (w *Writer) complete(ctx context.Context, d Detailed, sys *store.GameSystem, created bool, startedAt time.Time) (Status, error) {
	if sys.PublisherID == 0 && d.Thing != nil && len(d.Thing.Publishers) > 0 {
		pub, err := w.store.FindOrCreatePublisher(ctx, d.Thing.Publishers[0])
		if err != nil {
			return "", err
		}
		if pub != nil {
			if err := w.store.UpdateGameSystem(ctx, sys.ID, store.GameSystemUpdate{PublisherID: &pub.ID}); err != nil {
				return "", err
			}
			sys.PublisherID = pub.ID
		}
	}

	var result *EnrichResult
	if w.enricher != nil {
		var err error
		result, err = w.enricher.Enrich(ctx, EnrichRequest{
			SystemID:     sys.ID,
			Name:         sys.Name,
			ExternalRefs: sys.ExternalRefs,
			ReleaseDate:  sys.ReleaseDate,
			Thing:        d.Thing,
		})
		if err != nil {
			return "", fmt.Errorf("enrichment failed: %w", err)
		}
	}

	status := store.CrawlPartial
	if result != nil {
		status = store.CrawlSuccess
	}
	finishedAt := w.now()
	cleared := ""
	err := w.store.UpdateGameSystem(ctx, sys.ID, store.GameSystemUpdate{
		CrawlStatus:   &status,
		LastCrawledAt: &finishedAt,
		LastSuccessAt: &finishedAt,
		ErrorMessage:  &cleared,
	})
	if err != nil {
		return "", err
	}

	err = w.store.InsertCrawlEvent(ctx, &store.CrawlEvent{
		GameSystemID: sys.ID,
		Source:       store.SourceBGG,
		Status:       status,
		StartedAt:    startedAt,
		FinishedAt:   finishedAt,
		Severity:     store.SeverityInfo,
		Details: map[string]any{
			"bggId":       d.Candidate.ID,
			"name":        d.Candidate.Name,
			"numComments": d.comments(),
			"usersRated":  d.voters(),
			"rank":        d.Candidate.Rank,
			"created":     created,
		},
	})
	if err != nil {
		return "", err
	}
	return Status(status), nil
}

// fail records cause on the row and as an error-severity crawl event
func (w *Writer) fail(ctx context.Context, d Detailed, sys *store.GameSystem, created bool, startedAt time.Time, cause error) error {
	util.ErrorLog("Failed to process BGG system %s: %v", d.Candidate.Name, cause)

	finishedAt := w.now()
	status := store.CrawlError
	msg := cause.Error()
	err := w.store.UpdateGameSystem(ctx, sys.ID, store.GameSystemUpdate{
		CrawlStatus:   &status,
		LastCrawledAt: &finishedAt,
		ErrorMessage:  &msg,
	})
	if err != nil {
		return fmt.Errorf("failed to record error for system %d: %w", sys.ID, err)
	}

	return w.store.InsertCrawlEvent(ctx, &store.CrawlEvent{
		GameSystemID: sys.ID,
		Source:       store.SourceBGG,
		Status:       status,
		StartedAt:    startedAt,
		FinishedAt:   finishedAt,
		Severity:     store.SeverityError,
		ErrorMessage: msg,
		Details: map[string]any{
			"bggId":   d.Candidate.ID,
			"name":    d.Candidate.Name,
			"created": created,
		},
	})
}

// ensureHero downloads url, reuses an asset with the same checksum or
// uploads a new one, and points the system at it. It returns the hero id
// and the number of bytes uploaded.
func (w *Writer) ensureHero(ctx context.Context, sys *store.GameSystem, url string) (int64, int64, error) {
	img, err := w.fetcher.Fetch(ctx, url)
	if err != nil {
		return 0, 0, err
	}

	asset, err := w.store.FindMediaAssetByChecksum(ctx, sys.ID, img.Checksum)
	if err != nil {
		return 0, 0, err
	}

	var uploaded int64
	if asset == nil {
		key := media.ObjectKey(sys.Slug, img.Checksum, img.Format)
		obj, err := w.uploader.Upload(ctx, key, img.ContentType, img.Data)
		if err != nil {
			return 0, 0, err
		}
		secureURL := obj.URL
		if secureURL == "" {
			secureURL = img.SourceURL
		}
		publicID := obj.PublicID
		if publicID == "" {
			publicID = key
		}

		asset = &store.MediaAsset{
			GameSystemID: sys.ID,
			PublicID:     publicID,
			SecureURL:    secureURL,
			Width:        img.Width,
			Height:       img.Height,
			Format:       strings.ToLower(img.Format),
			License:      heroLicense,
			LicenseURL:   heroLicenseURL,
			Kind:         "hero",
			OrderIndex:   0,
			Moderated:    false,
			Checksum:     img.Checksum,
		}
		if err := w.store.InsertMediaAsset(ctx, asset); err != nil {
			return 0, 0, err
		}
		if obj.URL != "" {
			uploaded = int64(len(img.Data))
		}
		util.DebugLog("Stored hero image for %s as %s", sys.Slug, publicID)
	}

	if err := w.store.UpdateGameSystem(ctx, sys.ID, store.GameSystemUpdate{HeroImageID: &asset.ID}); err != nil {
		return 0, 0, err
	}
	return asset.ID, uploaded, nil
}
