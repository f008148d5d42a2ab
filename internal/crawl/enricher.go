package crawl

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/solstice/syscrawl/internal/bgg"
	"github.com/solstice/syscrawl/internal/meta"
	"github.com/solstice/syscrawl/internal/store"
	"github.com/solstice/syscrawl/internal/taxonomy"
	"github.com/solstice/syscrawl/internal/util"
)

// EnrichRequest is what the writer hands the enrichment step
type EnrichRequest struct {
	SystemID     int64
	Name         string
	ExternalRefs store.ExternalRefs
	ReleaseDate  string
	Thing        *bgg.Thing
}

// EnrichResult reports a successful enrichment
type EnrichResult struct {
	BggID         int
	YearPublished int
	FieldsChanged []string
}

// Enricher completes a system from its external source. A nil result with
// a nil error means the system could not be matched, which makes the crawl
// outcome partial.
type Enricher interface {
	Enrich(ctx context.Context, req EnrichRequest) (*EnrichResult, error)
}

// EnricherFunc adapts a function to Enricher
type EnricherFunc func(ctx context.Context, req EnrichRequest) (*EnrichResult, error)

// Enrich implements Enricher
func (f EnricherFunc) Enrich(ctx context.Context, req EnrichRequest) (*EnrichResult, error) {
	return f(ctx, req)
}

// EnrichStore is the persistence the catalogue enricher needs
type EnrichStore interface {
	GetGameSystem(ctx context.Context, id int64) (*store.GameSystem, error)
	UpdateGameSystem(ctx context.Context, id int64, u store.GameSystemUpdate) error
}

// ThingSource looks items up on the XML API
type ThingSource interface {
	Search(ctx context.Context, name string) (int, error)
	Thing(ctx context.Context, id int) (*bgg.Thing, error)
}

// CatalogEnricher fills a system's empty columns from its BGG record and
// links the tags that already have a mapping. It never overwrites a value
// and leaves CMS-approved rows alone apart from their release date.
type CatalogEnricher struct {
	store    EnrichStore
	source   ThingSource
	resolver *taxonomy.Resolver
}

// NewCatalogEnricher creates the default enricher
func NewCatalogEnricher(s EnrichStore, source ThingSource, resolver *taxonomy.Resolver) *CatalogEnricher {
	return &CatalogEnricher{store: s, source: source, resolver: resolver}
}

// Enrich implements Enricher
func (e *CatalogEnricher) Enrich(ctx context.Context, req EnrichRequest) (*EnrichResult, error) {
	bggID, err := e.resolveID(ctx, req)
	if err != nil {
		return nil, err
	}
	if bggID == 0 {
		util.DebugLog("Enrich: no BGG id for '%s'", req.Name)
		return nil, nil
	}

	thing := req.Thing
	if thing == nil {
		if e.source == nil {
			return nil, nil
		}
		if thing, err = e.source.Thing(ctx, bggID); err != nil {
			return nil, err
		}
	}

	current, err := e.store.GetGameSystem(ctx, req.SystemID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("game system %d: %w", req.SystemID, util.ErrNotFound)
	}

	r := meta.GapFillCurated(current, meta.Fields{
		YearPublished:   thing.YearPublished,
		Description:     thing.Description,
		MinPlayers:      thing.MinPlayers,
		MaxPlayers:      thing.MaxPlayers,
		AveragePlayTime: thing.PlayingTime,
		MinAge:          thing.MinAge,
		AverageWeight:   thing.AverageWeight,
	})
	r.Update.ExternalRefs = current.ExternalRefs.Merge(store.ExternalRefs{store.SourceBGG: strconv.Itoa(bggID)})
	if err := e.store.UpdateGameSystem(ctx, req.SystemID, r.Update); err != nil {
		return nil, err
	}

	if e.resolver != nil {
		if _, err := e.resolver.LinkMapped(ctx, req.SystemID, store.KindCategory, thing.Categories); err != nil {
			return nil, err
		}
		if _, err := e.resolver.LinkMapped(ctx, req.SystemID, store.KindMechanic, thing.Mechanics); err != nil {
			return nil, err
		}
	}

	if r.Enriched() {
		util.DebugLog("Enrich: %s filled %s", req.Name, strings.Join(r.FieldsChanged, ", "))
	}
	return &EnrichResult{
		BggID:         bggID,
		YearPublished: thing.YearPublished,
		FieldsChanged: r.FieldsChanged,
	}, nil
}

func (e *CatalogEnricher) resolveID(ctx context.Context, req EnrichRequest) (int, error) {
	if raw := strings.TrimSpace(req.ExternalRefs[store.SourceBGG]); raw != "" {
		if id, err := strconv.Atoi(raw); err == nil && id > 0 {
			return id, nil
		}
		util.WarnLog("Enrich: ignoring malformed BGG ref %q for '%s'", raw, req.Name)
	}
	if e.source == nil {
		return 0, nil
	}
	return e.source.Search(ctx, req.Name)
}
