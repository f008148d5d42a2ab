package crawl

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solstice/syscrawl/internal/bgg"
	"github.com/solstice/syscrawl/internal/media"
	"github.com/solstice/syscrawl/internal/store"
	"github.com/solstice/syscrawl/internal/taxonomy"
	"github.com/solstice/syscrawl/internal/util"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type fakeFetcher struct {
	img   *media.Image
	err   error
	calls atomic.Int32
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (*media.Image, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	img := *f.img
	img.SourceURL = url
	return &img, nil
}

func heroImage() *media.Image {
	data := []byte("not really a png but good enough for storage")
	return &media.Image{
		Data:        data,
		Checksum:    util.ContentChecksum(data),
		ContentType: "image/png",
		Width:       640,
		Height:      480,
		Format:      "png",
	}
}

var alwaysEnriched = EnricherFunc(func(_ context.Context, req EnrichRequest) (*EnrichResult, error) {
	return &EnrichResult{BggID: 13}, nil
})

func catanDetailed() Detailed {
	detail := &bgg.Detail{
		Name:            "Catan",
		Description:     "Trade, build and settle.",
		MinPlayers:      3,
		MaxPlayers:      4,
		AveragePlayTime: 90,
		MinAge:          10,
		YearPublished:   1995,
		Publishers:      []string{"KOSMOS", "Catan Studio"},
		Categories:      []string{"Economic", "Negotiation"},
		Mechanics:       []string{"Dice Rolling"},
		NumComments:     25000,
		UsersRated:      108000,
		AverageWeight:   2.2857,
		HeroImageURL:    "https://cf.geekdo-images.com/catan.jpg",
	}
	return Detailed{
		Candidate: bgg.Candidate{ID: 13, Name: "Catan", Rank: 1},
		Detail:    detail,
		Thing:     MergeThing(13, detail, nil),
	}
}

func newTestWriter(t *testing.T, s *store.Store, opts WriterOptions) *Writer {
	t.Helper()
	opts.Store = s
	if opts.Resolver == nil {
		opts.Resolver = taxonomy.NewResolver(s, store.SourceBGG)
		require.NoError(t, opts.Resolver.Prime(context.Background()))
	}
	return NewWriter(opts)
}

func TestProcess_CreatesSystem(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	w := newTestWriter(t, s, WriterOptions{Enricher: alwaysEnriched})

	out, err := w.Process(ctx, catanDetailed())
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, out.Status)
	assert.True(t, out.Created)
	assert.Equal(t, "catan", out.Slug)
	assert.NoError(t, out.Err)

	g, err := s.GetGameSystemBySlug(ctx, "catan")
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, out.SystemID, g.ID)
	assert.Equal(t, "Catan", g.Name)
	assert.Equal(t, "13", g.ExternalRefs[store.SourceBGG])
	assert.Equal(t, store.SourceBGG, g.SourceOfTruth)
	assert.Equal(t, "1995-01-01", g.ReleaseDate)
	assert.Equal(t, 3, g.MinPlayers)
	assert.Equal(t, 4, g.MaxPlayers)
	assert.Equal(t, 90, g.AveragePlayTime)
	assert.Equal(t, "10+", g.AgeRating)
	assert.Equal(t, "2.29", g.ComplexityRating)
	assert.Equal(t, store.CrawlSuccess, g.CrawlStatus)
	assert.False(t, g.LastSuccessAt.IsZero())
	assert.Empty(t, g.ErrorMessage)

	pub, err := s.FindPublisherByName(ctx, "KOSMOS")
	require.NoError(t, err)
	require.NotNil(t, pub)
	assert.Equal(t, pub.ID, g.PublisherID)

	cats, err := s.LinkedTaxonomyNames(ctx, store.KindCategory, g.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Economic", "Negotiation"}, cats)
	mechs, err := s.LinkedTaxonomyNames(ctx, store.KindMechanic, g.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Dice Rolling"}, mechs)

	events, err := s.CountCrawlEvents(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, events)
}

func TestProcess_UpdatesWithoutOverwriting(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	existing := &store.GameSystem{
		Name:               "Catan",
		Slug:               "catan",
		DescriptionScraped: "Curated text",
		MinPlayers:         2,
		ExternalRefs:       store.ExternalRefs{"wikidata": "Q17271"},
	}
	require.NoError(t, s.InsertGameSystem(ctx, existing))

	w := newTestWriter(t, s, WriterOptions{Enricher: alwaysEnriched})
	out, err := w.Process(ctx, catanDetailed())
	require.NoError(t, err)
	assert.False(t, out.Created)
	assert.Equal(t, existing.ID, out.SystemID)

	g, err := s.GetGameSystem(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, "Curated text", g.DescriptionScraped)
	assert.Equal(t, 2, g.MinPlayers)
	assert.Equal(t, 4, g.MaxPlayers)
	assert.Equal(t, "Q17271", g.ExternalRefs["wikidata"])
	assert.Equal(t, "13", g.ExternalRefs[store.SourceBGG])
	assert.Equal(t, store.CrawlSuccess, g.CrawlStatus)
}

func TestProcess_EmptySlugSkipped(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	w := newTestWriter(t, s, WriterOptions{Enricher: alwaysEnriched})

	d := Detailed{
		Candidate: bgg.Candidate{ID: 77, Name: "日本語"},
		Thing:     &bgg.Thing{ID: 77, Name: "日本語"},
	}
	out, err := w.Process(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, out.Status)
	assert.ErrorIs(t, out.Err, util.ErrEmptySlug)

	totals, err := s.GetCatalogTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, totals.Systems)
}

func TestProcess_PartialWithoutEnrichment(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	w := newTestWriter(t, s, WriterOptions{
		Enricher: EnricherFunc(func(context.Context, EnrichRequest) (*EnrichResult, error) {
			return nil, nil
		}),
	})

	out, err := w.Process(ctx, catanDetailed())
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, out.Status)

	g, err := s.GetGameSystem(ctx, out.SystemID)
	require.NoError(t, err)
	assert.Equal(t, store.CrawlPartial, g.CrawlStatus)
}

func TestProcess_EnrichmentFailureRecorded(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	w := newTestWriter(t, s, WriterOptions{
		Enricher: EnricherFunc(func(context.Context, EnrichRequest) (*EnrichResult, error) {
			return nil, errors.New("thing lookup exploded")
		}),
	})

	out, err := w.Process(ctx, catanDetailed())
	require.NoError(t, err, "per-candidate failures are not returned")
	assert.Equal(t, StatusError, out.Status)
	assert.ErrorContains(t, out.Err, "enrichment failed: thing lookup exploded")

	g, err := s.GetGameSystem(ctx, out.SystemID)
	require.NoError(t, err)
	assert.Equal(t, store.CrawlError, g.CrawlStatus)
	assert.Equal(t, "enrichment failed: thing lookup exploded", g.ErrorMessage)
	assert.True(t, g.LastSuccessAt.IsZero())

	events, err := s.RecentCrawlEvents(ctx, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, store.SeverityError, events[0].Severity)
	assert.Equal(t, store.CrawlError, events[0].Status)
}

func TestProcess_CanceledContext(t *testing.T) {
	s := openTestStore(t)
	w := newTestWriter(t, s, WriterOptions{Enricher: alwaysEnriched})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := w.Process(ctx, catanDetailed())
	assert.Error(t, err)
}

func TestProcess_HeroImage(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	uploader, err := media.NewDirUploader(t.TempDir(), "https://cdn.example.test")
	require.NoError(t, err)
	fetcher := &fakeFetcher{img: heroImage()}
	w := newTestWriter(t, s, WriterOptions{Enricher: alwaysEnriched, Fetcher: fetcher, Uploader: uploader})

	out, err := w.Process(ctx, catanDetailed())
	require.NoError(t, err)
	assert.Equal(t, int64(len(fetcher.img.Data)), out.BytesUploaded)

	g, err := s.GetGameSystem(ctx, out.SystemID)
	require.NoError(t, err)
	require.NotZero(t, g.HeroImageID)

	asset, err := s.FindMediaAssetByChecksum(ctx, g.ID, fetcher.img.Checksum)
	require.NoError(t, err)
	require.NotNil(t, asset)
	assert.Equal(t, g.HeroImageID, asset.ID)
	assert.Equal(t, "hero", asset.Kind)
	assert.Equal(t, heroLicense, asset.License)
	assert.Equal(t, 640, asset.Width)
	assert.Contains(t, asset.SecureURL, "https://cdn.example.test/game-systems/catan/hero-")

	// a system that already has a hero is left alone
	out, err = w.Process(ctx, catanDetailed())
	require.NoError(t, err)
	assert.Zero(t, out.BytesUploaded)
	assert.Equal(t, int32(1), fetcher.calls.Load())
}

func TestEnsureHero_ReusesChecksum(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	fetcher := &fakeFetcher{img: heroImage()}
	w := newTestWriter(t, s, WriterOptions{Fetcher: fetcher})

	sys := &store.GameSystem{Name: "Catan", Slug: "catan"}
	require.NoError(t, s.InsertGameSystem(ctx, sys))

	first, n, err := w.ensureHero(ctx, sys, "https://img/a.png")
	require.NoError(t, err)
	assert.Zero(t, n, "the no-op uploader uploads nothing")

	second, n, err := w.ensureHero(ctx, sys, "https://img/b.png")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Zero(t, n)

	count, err := s.CountMediaAssets(ctx, sys.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	asset, err := s.FindMediaAssetByChecksum(ctx, sys.ID, fetcher.img.Checksum)
	require.NoError(t, err)
	assert.Equal(t, "https://img/a.png", asset.SecureURL, "source URL is kept when nothing was uploaded")
}

func TestProcess_HeroFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	fetcher := &fakeFetcher{err: errors.New("connection reset")}
	w := newTestWriter(t, s, WriterOptions{Enricher: alwaysEnriched, Fetcher: fetcher})

	out, err := w.Process(ctx, catanDetailed())
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, out.Status)

	g, err := s.GetGameSystem(ctx, out.SystemID)
	require.NoError(t, err)
	assert.Zero(t, g.HeroImageID)
}

func TestProcess_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	w := newTestWriter(t, s, WriterOptions{Enricher: alwaysEnriched, Fetcher: &fakeFetcher{img: heroImage()}})

	first, err := w.Process(ctx, catanDetailed())
	require.NoError(t, err)
	second, err := w.Process(ctx, catanDetailed())
	require.NoError(t, err)

	assert.True(t, first.Created)
	assert.False(t, second.Created)
	assert.Equal(t, first.SystemID, second.SystemID)

	totals, err := s.GetCatalogTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, totals.Systems)
	assert.Equal(t, 1, totals.MediaAssets)
	assert.Equal(t, 1, totals.Publishers)

	cats, err := s.LinkedTaxonomyNames(ctx, store.KindCategory, first.SystemID)
	require.NoError(t, err)
	assert.Len(t, cats, 2)

	events, err := s.CountCrawlEvents(ctx, first.SystemID)
	require.NoError(t, err)
	assert.Equal(t, 2, events)
}
