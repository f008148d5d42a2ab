// Package taxonomy resolves category and mechanic names to catalogue ids,
// caching what it learns for the duration of one crawl run.
package taxonomy

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/solstice/syscrawl/internal/meta"
	"github.com/solstice/syscrawl/internal/store"
	"github.com/solstice/syscrawl/internal/util"
)

// Store is the persistence the resolver needs
type Store interface {
	ListTaxonomy(ctx context.Context, kind store.TaxonomyKind) ([]store.TaxonomyRow, error)
	ListExternalMappings(ctx context.Context, kind store.TaxonomyKind, source string) ([]store.ExternalMapping, error)
	InsertTaxonomyName(ctx context.Context, kind store.TaxonomyKind, name string) error
	FindTaxonomyID(ctx context.Context, kind store.TaxonomyKind, name string) (int64, error)
	InsertExternalMapping(ctx context.Context, kind store.TaxonomyKind, m store.ExternalMapping) error
	LinkTaxonomy(ctx context.Context, kind store.TaxonomyKind, systemID, taxonomyID int64) error
}

// Resolver caches name → id for categories and mechanics, plus the
// external tag mappings of one source. It is created per run.
type Resolver struct {
	store  Store
	source string

	mu       sync.Mutex
	ids      map[store.TaxonomyKind]map[string]int64
	external map[store.TaxonomyKind]map[string]int64
}

var kinds = []store.TaxonomyKind{store.KindCategory, store.KindMechanic}

// NewResolver creates an empty resolver for the given external source
func NewResolver(s Store, source string) *Resolver {
	if source == "" {
		source = store.SourceBGG
	}
	r := &Resolver{
		store:    s,
		source:   source,
		ids:      make(map[store.TaxonomyKind]map[string]int64, len(kinds)),
		external: make(map[store.TaxonomyKind]map[string]int64, len(kinds)),
	}
	for _, k := range kinds {
		r.ids[k] = make(map[string]int64)
		r.external[k] = make(map[string]int64)
	}
	return r
}

// Prime loads both taxonomies and both external mapping tables
func (r *Resolver) Prime(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, kind := range kinds {
		kind := kind
		g.Go(func() error {
			rows, err := r.store.ListTaxonomy(gctx, kind)
			if err != nil {
				return fmt.Errorf("failed to load %s names: %w", kind, err)
			}
			r.mu.Lock()
			defer r.mu.Unlock()
			for _, row := range rows {
				r.ids[kind][meta.NormalizeKey(row.Name)] = row.ID
			}
			return nil
		})
		g.Go(func() error {
			mappings, err := r.store.ListExternalMappings(gctx, kind, r.source)
			if err != nil {
				return fmt.Errorf("failed to load %s mappings: %w", kind, err)
			}
			r.mu.Lock()
			defer r.mu.Unlock()
			for _, m := range mappings {
				r.external[kind][meta.NormalizeKey(m.ExternalTag)] = m.TaxonomyID
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	util.DebugLog("Taxonomy primed: %d categories, %d mechanics, %d/%d %s mappings",
		len(r.ids[store.KindCategory]), len(r.ids[store.KindMechanic]),
		len(r.external[store.KindCategory]), len(r.external[store.KindMechanic]), r.source)
	return nil
}

// Ensure returns the id for name, creating the row when it does not exist.
// 0 with a nil error means the name was blank or the row could not be read back.
func (r *Resolver) Ensure(ctx context.Context, kind store.TaxonomyKind, name string) (int64, error) {
	name = meta.NormalizeName(name)
	if name == "" {
		return 0, nil
	}
	key := meta.NormalizeKey(name)

	r.mu.Lock()
	cache, ok := r.ids[kind]
	if !ok {
		r.mu.Unlock()
		return 0, fmt.Errorf("unknown taxonomy kind %q", kind)
	}
	id, hit := cache[key]
	r.mu.Unlock()
	if hit {
		return id, nil
	}

	if err := r.store.InsertTaxonomyName(ctx, kind, name); err != nil {
		return 0, err
	}
	id, err := r.store.FindTaxonomyID(ctx, kind, name)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		util.WarnLog("Taxonomy: %s %q not found after insert", kind, name)
		return 0, nil
	}

	r.mu.Lock()
	r.ids[kind][key] = id
	r.mu.Unlock()
	return id, nil
}

// EnsureExternal records that the source's tag maps to id. Repeat calls for
// a tag already mapped in this run are no-ops.
func (r *Resolver) EnsureExternal(ctx context.Context, kind store.TaxonomyKind, tag string, id int64) error {
	tag = meta.NormalizeName(tag)
	if tag == "" || id == 0 {
		return nil
	}
	key := meta.NormalizeKey(tag)

	r.mu.Lock()
	cache, ok := r.external[kind]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("unknown taxonomy kind %q", kind)
	}
	_, known := cache[key]
	r.mu.Unlock()
	if known {
		return nil
	}

	err := r.store.InsertExternalMapping(ctx, kind, store.ExternalMapping{
		Source:      r.source,
		ExternalTag: tag,
		TaxonomyID:  id,
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.external[kind][key] = id
	r.mu.Unlock()
	return nil
}

// ExternalID returns the id a source tag is mapped to, if any
func (r *Resolver) ExternalID(kind store.TaxonomyKind, tag string) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.external[kind][meta.NormalizeKey(tag)]
	return id, ok
}

// Link ensures every category and mechanic name and attaches it to the
// system. Names are de-duplicated; join rows are inserted idempotently.
func (r *Resolver) Link(ctx context.Context, systemID int64, categories, mechanics []string) error {
	groups := []struct {
		kind  store.TaxonomyKind
		names []string
	}{
		{store.KindCategory, categories},
		{store.KindMechanic, mechanics},
	}

	for _, grp := range groups {
		linked := make(map[int64]struct{})
		for _, name := range meta.UniqueNames(grp.names) {
			id, err := r.Ensure(ctx, grp.kind, name)
			if err != nil {
				return err
			}
			if id == 0 {
				continue
			}
			if _, dup := linked[id]; dup {
				continue
			}
			if err := r.EnsureExternal(ctx, grp.kind, name, id); err != nil {
				return err
			}
			if err := r.store.LinkTaxonomy(ctx, grp.kind, systemID, id); err != nil {
				return err
			}
			linked[id] = struct{}{}
		}
	}
	return nil
}

// LinkMapped attaches only the names that already have an external mapping
// for this source. It never creates taxonomy rows.
func (r *Resolver) LinkMapped(ctx context.Context, systemID int64, kind store.TaxonomyKind, tags []string) (int, error) {
	linked := 0
	for _, tag := range meta.UniqueNames(tags) {
		id, ok := r.ExternalID(kind, tag)
		if !ok || id == 0 {
			continue
		}
		if err := r.store.LinkTaxonomy(ctx, kind, systemID, id); err != nil {
			return linked, err
		}
		linked++
	}
	return linked, nil
}

// Size returns the number of cached names of a kind
func (r *Resolver) Size(kind store.TaxonomyKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids[kind])
}
