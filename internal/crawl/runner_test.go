package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solstice/syscrawl/internal/bgg"
	"github.com/solstice/syscrawl/internal/pacer"
	"github.com/solstice/syscrawl/internal/report"
	"github.com/solstice/syscrawl/internal/store"
	"github.com/solstice/syscrawl/internal/util"
)

const listingPage = `<html><body><table id="collectionitems">
<tr id="row_"><td class="collection_rank">1</td>
  <td class="collection_objectname"><a href="/boardgame/13/catan">Catan</a></td></tr>
<tr id="row_"><td class="collection_rank">2</td>
  <td class="collection_objectname"><a href="/boardgameexpansion/926/catan-seafarers">Catan: Seafarers</a></td></tr>
<tr id="row_"><td class="collection_rank">3</td>
  <td class="collection_objectname"><a href="/boardgame/822/carcassonne">Carcassonne</a></td></tr>
<tr id="row_"><td class="collection_rank">4</td>
  <td class="collection_objectname"><a href="/boardgame/30549/pandemic">Pandemic</a></td></tr>
</table></body></html>`

const emptyListingPage = `<html><body><table id="collectionitems"></table></body></html>`

func detailPage(name string, voters, comments int) string {
	return fmt.Sprintf(`<script>GEEK.geekitemPreload = {"item":{"name":%q,"minplayers":"2","maxplayers":"5",
"minplaytime":"30","maxplaytime":"45","minage":"8","yearpublished":"2000",
"links":{"boardgamepublisher":[{"name":"Hans im Glück"}],"boardgamecategory":[{"name":"Medieval"}]},
"stats":{"numcomments":"%d","usersrated":"%d","avgweight":"1.9"}}};</script>`, name, comments, voters)
}

const pandemicThing = `<?xml version="1.0" encoding="utf-8"?>
<items><item type="boardgame" id="30549">
  <name type="primary" value="Pandemic"/>
  <yearpublished value="2008"/>
  <minplayers value="2"/><maxplayers value="4"/><playingtime value="45"/><minage value="8"/>
  <link type="boardgamepublisher" id="1" value="Z-Man Games"/>
  <link type="boardgamemechanic" id="2" value="Cooperative Game"/>
  <statistics><ratings><usersrated value="120000"/><numcomments value="20000"/><averageweight value="2.4"/></ratings></statistics>
</item></items>`

func bggStub(t *testing.T, thingStatus int) *bgg.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/browse/boardgame":
			fmt.Fprint(w, listingPage)
		case strings.HasPrefix(r.URL.Path, "/browse/boardgame/page/"):
			fmt.Fprint(w, emptyListingPage)
		case r.URL.Path == "/boardgame/13":
			fmt.Fprint(w, detailPage("Catan", 108000, 25000))
		case r.URL.Path == "/boardgame/822":
			fmt.Fprint(w, detailPage("Carcassonne", 90000, 20000))
		case r.URL.Path == "/xmlapi2/thing" && r.URL.Query().Get("id") == "30549":
			if thingStatus != http.StatusOK {
				w.WriteHeader(thingStatus)
				return
			}
			fmt.Fprint(w, pandemicThing)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	return bgg.NewClient(bgg.Options{
		BaseURL:   srv.URL,
		UserAgent: "TestCrawler/1.0",
		Retry:     &util.RetryConfig{MaxAttempts: 2, InitialWait: time.Millisecond, MaxWait: time.Millisecond},
	})
}

func TestRunner_EndToEnd(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	metrics := report.NewMetrics()

	runner := NewRunner(RunnerOptions{
		Catalog: bggStub(t, http.StatusOK),
		Writer:  newTestWriter(t, s, WriterOptions{Enricher: alwaysEnriched}),
		Pacer:   pacer.Unpaced{},
		Desired: 3,
		Batches: []Batch{{Label: "Top 1-100", StartPage: 1}},
		Metrics: metrics,
	})

	summary, err := runner.Run(ctx)
	require.NoError(t, err)
	require.Len(t, summary.Batches, 1)

	b := summary.Batches[0]
	assert.Equal(t, 3, b.Candidates, "expansions are filtered out")
	assert.Equal(t, 3, b.Detailed)
	assert.Equal(t, 3, b.Processed)
	assert.Equal(t, 3, b.Success)
	assert.Equal(t, 3, b.Created)
	assert.Equal(t, "BGG crawl summary: 3 success, 0 partial, 0 errors, 3 created across 3 processed systems", summary.Line())

	pandemic, err := s.GetGameSystemBySlug(ctx, "pandemic")
	require.NoError(t, err)
	require.NotNil(t, pandemic, "a missing detail page falls back to the XML API")
	assert.Equal(t, 2008, pandemic.YearReleased)
	mechs, err := s.LinkedTaxonomyNames(ctx, store.KindMechanic, pandemic.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Cooperative Game"}, mechs)

	catan, err := s.GetGameSystemBySlug(ctx, "catan")
	require.NoError(t, err)
	require.NotNil(t, catan)
	assert.Equal(t, 38, catan.AveragePlayTime)
}

func TestRunner_DropsCandidatesWithoutData(t *testing.T) {
	s := openTestStore(t)
	runner := NewRunner(RunnerOptions{
		Catalog: bggStub(t, http.StatusNotFound),
		Writer:  newTestWriter(t, s, WriterOptions{Enricher: alwaysEnriched}),
		Pacer:   pacer.Unpaced{},
		Desired: 3,
		Batches: []Batch{{Label: "Top 1-100", StartPage: 1}},
	})

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)
	b := summary.Batches[0]
	assert.Equal(t, 3, b.Candidates)
	assert.Equal(t, 2, b.Detailed)
	assert.Equal(t, 2, b.Processed)
}

type fakeCatalog struct {
	candidates []bgg.Candidate
	things     map[int]*bgg.Thing
	browseErr  error
	browsed    []bgg.BrowseOptions
}

func (f *fakeCatalog) Browse(_ context.Context, opts bgg.BrowseOptions) ([]bgg.Candidate, error) {
	f.browsed = append(f.browsed, opts)
	return f.candidates, f.browseErr
}

func (f *fakeCatalog) Detail(_ context.Context, id int) (*bgg.Detail, error) {
	return nil, nil
}

func (f *fakeCatalog) Thing(_ context.Context, id int) (*bgg.Thing, error) {
	if t, ok := f.things[id]; ok {
		return t, nil
	}
	return nil, util.ErrNotFound
}

type recordingProcessor struct {
	seen    []int
	outcome func(d Detailed) (Outcome, error)
}

func (p *recordingProcessor) Process(_ context.Context, d Detailed) (Outcome, error) {
	p.seen = append(p.seen, d.Candidate.ID)
	return p.outcome(d)
}

func popularityCatalog() *fakeCatalog {
	return &fakeCatalog{
		candidates: []bgg.Candidate{
			{ID: 1, Name: "One", Rank: 1},
			{ID: 2, Name: "Two", Rank: 2},
			{ID: 3, Name: "Three", Rank: 3},
			{ID: 4, Name: "Four", Rank: 4},
		},
		things: map[int]*bgg.Thing{
			1: {ID: 1, Name: "One", UsersRated: 10},
			2: {ID: 2, Name: "Two", UsersRated: 500},
			3: {ID: 3, Name: "Three", UsersRated: 300},
			4: {ID: 4, Name: "Four", UsersRated: 400},
		},
	}
}

func TestRunBatch_KeepsMostPopular(t *testing.T) {
	catalog := popularityCatalog()
	proc := &recordingProcessor{outcome: func(Detailed) (Outcome, error) {
		return Outcome{Status: StatusSuccess}, nil
	}}
	runner := NewRunner(RunnerOptions{Catalog: catalog, Writer: proc, Pacer: pacer.Unpaced{}, Desired: 2})

	result, err := runner.RunBatch(context.Background(), Batch{Label: "Top 101-200", StartPage: 2})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4}, proc.seen)
	assert.Equal(t, 2, result.Processed)

	require.Len(t, catalog.browsed, 1)
	assert.Equal(t, bgg.BrowseOptions{
		Desired:   2 + CandidateMargin,
		StartPage: 2,
		MaxPages:  MaxBrowsePages,
		Sort:      bgg.DefaultSort,
		SortDir:   bgg.DefaultSortDir,
	}, catalog.browsed[0])
}

func TestRunBatch_CountsOutcomes(t *testing.T) {
	proc := &recordingProcessor{outcome: func(d Detailed) (Outcome, error) {
		switch d.Candidate.ID {
		case 1:
			return Outcome{Status: StatusSkipped}, nil
		case 2:
			return Outcome{Status: StatusPartial, Created: true}, nil
		case 3:
			return Outcome{Status: StatusError, Err: errors.New("boom")}, nil
		}
		return Outcome{Status: StatusSuccess, Created: true}, nil
	}}
	runner := NewRunner(RunnerOptions{Catalog: popularityCatalog(), Writer: proc, Pacer: pacer.Unpaced{}, Desired: 10})

	result, err := runner.RunBatch(context.Background(), Batch{Label: "Top 1-100", StartPage: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 3, result.Processed, "skipped candidates are not processed")
	assert.Equal(t, 1, result.Success)
	assert.Equal(t, 1, result.Partial)
	assert.Equal(t, 1, result.Errors)
	assert.Equal(t, 2, result.Created)
}

func TestRunBatch_NoCandidates(t *testing.T) {
	proc := &recordingProcessor{}
	runner := NewRunner(RunnerOptions{Catalog: &fakeCatalog{}, Writer: proc, Pacer: pacer.Unpaced{}})

	result, err := runner.RunBatch(context.Background(), Batch{Label: "Top 1-100", StartPage: 1})
	require.NoError(t, err)
	assert.Zero(t, result.Candidates)
	assert.Empty(t, proc.seen)
}

func TestRun_StopsOnFatalError(t *testing.T) {
	proc := &recordingProcessor{outcome: func(Detailed) (Outcome, error) {
		return Outcome{}, errors.New("database is locked")
	}}
	runner := NewRunner(RunnerOptions{Catalog: popularityCatalog(), Writer: proc, Pacer: pacer.Unpaced{}})

	summary, err := runner.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
	assert.Len(t, proc.seen, 1)
	assert.Len(t, summary.Batches, 1, "the second batch never starts")
}

func TestRun_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := NewRunner(RunnerOptions{
		Catalog: popularityCatalog(),
		Writer:  &recordingProcessor{},
		Pacer:   pacer.NewSpaced(time.Hour),
	})
	_, err := runner.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRunner_Defaults(t *testing.T) {
	r := NewRunner(RunnerOptions{Desired: 1000})
	assert.Equal(t, MaxDesired, r.desired)
	assert.Len(t, r.batches, 2)
	assert.Equal(t, "Top 1-100", r.batches[0].Label)
	assert.Equal(t, 2, r.batches[1].StartPage)
	assert.NotNil(t, r.pacer)
}
