package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreOpenAndMigrate(t *testing.T) {
	store := openTestStore(t)

	version, err := store.getSchemaVersion()
	if err != nil {
		t.Fatalf("failed to get schema version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("expected schema version %d, got %d", currentSchemaVersion, version)
	}

	tables := []string{
		"game_systems", "publishers", "game_system_categories", "game_system_mechanics",
		"game_system_to_category", "game_system_to_mechanics", "external_category_map",
		"external_mechanic_map", "media_assets", "system_crawl_events", "schema_version",
	}
	for _, table := range tables {
		var count int
		err := store.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if err != nil {
			t.Fatalf("failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("expected table %s to exist", table)
		}
	}

	v2Indexes := []string{
		"idx_game_systems_crawl_status",
		"idx_crawl_events_system",
	}
	for _, index := range v2Indexes {
		var count int
		err := store.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", index).Scan(&count)
		if err != nil {
			t.Fatalf("failed to query index %s: %v", index, err)
		}
		if count != 1 {
			t.Errorf("expected index %s to exist (schema v2)", index)
		}
	}
}

func TestStoreReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	for i := 0; i < 2; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("open #%d failed: %v", i+1, err)
		}
		s.Close()
	}
}

func TestDialectForDSN(t *testing.T) {
	tests := []struct {
		dsn      string
		expected Dialect
	}{
		{"catalog.db", DialectSQLite},
		{"/var/lib/syscrawl/catalog.db", DialectSQLite},
		{"postgres://user:pw@localhost:5432/app", DialectPostgres},
		{"postgresql://localhost/app?sslmode=disable", DialectPostgres},
		{"POSTGRES://localhost/app", DialectPostgres},
	}
	for _, tt := range tests {
		if got := DialectForDSN(tt.dsn); got != tt.expected {
			t.Errorf("DialectForDSN(%q) = %s, expected %s", tt.dsn, got, tt.expected)
		}
	}
}

func TestRebind(t *testing.T) {
	pg := &Store{dialect: DialectPostgres}
	got := pg.rebind("UPDATE t SET a = ?, b = ? WHERE id = ?")
	if got != "UPDATE t SET a = $1, b = $2 WHERE id = $3" {
		t.Errorf("rebind = %q", got)
	}

	lite := &Store{dialect: DialectSQLite}
	if q := lite.rebind("SELECT ?"); q != "SELECT ?" {
		t.Errorf("sqlite rebind should be identity, got %q", q)
	}
}

func TestExternalRefsMerge(t *testing.T) {
	existing := ExternalRefs{"wikipedia": "Catan", "bgg": "1"}
	merged := existing.Merge(ExternalRefs{"bgg": "13"})

	if merged["wikipedia"] != "Catan" {
		t.Errorf("expected wikipedia ref to survive merge, got %v", merged)
	}
	if merged["bgg"] != "13" {
		t.Errorf("expected bgg ref 13, got %q", merged["bgg"])
	}
	if existing["bgg"] != "1" {
		t.Error("Merge must not mutate the receiver")
	}

	var none ExternalRefs
	if got := none.Merge(ExternalRefs{"bgg": "5"}); got["bgg"] != "5" {
		t.Errorf("merge into nil refs = %v", got)
	}
}

func TestGameSystemInsertAndRetrieve(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	crawled := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	g := &GameSystem{
		Name:             "Catan",
		Slug:             "catan",
		ExternalRefs:     ExternalRefs{"bgg": "13"},
		SourceOfTruth:    SourceBGG,
		ReleaseDate:      "1995-01-01",
		YearReleased:     1995,
		MinPlayers:       3,
		MaxPlayers:       4,
		AveragePlayTime:  90,
		AgeRating:        "10+",
		ComplexityRating: "2.29",
		CrawlStatus:      CrawlProcessing,
		LastCrawledAt:    crawled,
	}
	if err := store.InsertGameSystem(ctx, g); err != nil {
		t.Fatalf("InsertGameSystem failed: %v", err)
	}
	if g.ID == 0 {
		t.Fatal("expected ID to be set after insert")
	}

	got, err := store.GetGameSystemBySlug(ctx, "catan")
	if err != nil {
		t.Fatalf("GetGameSystemBySlug failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected game system, got nil")
	}
	if got.ID != g.ID || got.Name != "Catan" {
		t.Errorf("unexpected row: %+v", got)
	}
	if got.ExternalRefs["bgg"] != "13" {
		t.Errorf("expected bgg ref 13, got %v", got.ExternalRefs)
	}
	if got.ReleaseDate != "1995-01-01" || got.YearReleased != 1995 {
		t.Errorf("release = %q/%d", got.ReleaseDate, got.YearReleased)
	}
	if got.AgeRating != "10+" || got.ComplexityRating != "2.29" {
		t.Errorf("ratings = %q/%q", got.AgeRating, got.ComplexityRating)
	}
	if got.CrawlStatus != CrawlProcessing {
		t.Errorf("crawl status = %q", got.CrawlStatus)
	}
	if !got.LastCrawledAt.Equal(crawled) {
		t.Errorf("last crawled = %v, expected %v", got.LastCrawledAt, crawled)
	}
	if got.DescriptionScraped != "" || got.PublisherID != 0 || got.HeroImageID != 0 {
		t.Errorf("absent fields should read back as zero values: %+v", got)
	}

	missing, err := store.GetGameSystemBySlug(ctx, "does-not-exist")
	if err != nil {
		t.Fatalf("lookup of missing slug failed: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing slug, got %+v", missing)
	}
}

func TestUpdateGameSystem(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	g := &GameSystem{Name: "Azul", Slug: "azul", CrawlStatus: CrawlProcessing, ErrorMessage: "boom"}
	if err := store.InsertGameSystem(ctx, g); err != nil {
		t.Fatalf("InsertGameSystem failed: %v", err)
	}

	status := CrawlSuccess
	empty := ""
	players := 2
	now := time.Now().UTC().Truncate(time.Second)
	err := store.UpdateGameSystem(ctx, g.ID, GameSystemUpdate{
		ExternalRefs:  ExternalRefs{"bgg": "230802"},
		CrawlStatus:   &status,
		LastSuccessAt: &now,
		ErrorMessage:  &empty,
		MinPlayers:    &players,
	})
	if err != nil {
		t.Fatalf("UpdateGameSystem failed: %v", err)
	}

	got, err := store.GetGameSystem(ctx, g.ID)
	if err != nil {
		t.Fatalf("GetGameSystem failed: %v", err)
	}
	if got.CrawlStatus != CrawlSuccess {
		t.Errorf("crawl status = %q", got.CrawlStatus)
	}
	if got.ErrorMessage != "" {
		t.Errorf("expected error message cleared, got %q", got.ErrorMessage)
	}
	if got.MinPlayers != 2 || got.MaxPlayers != 0 {
		t.Errorf("players = %d-%d", got.MinPlayers, got.MaxPlayers)
	}
	if got.ExternalRefs["bgg"] != "230802" {
		t.Errorf("refs = %v", got.ExternalRefs)
	}
	if !got.LastSuccessAt.Equal(now) {
		t.Errorf("last success = %v, expected %v", got.LastSuccessAt, now)
	}

	// Empty update is a no-op
	if err := store.UpdateGameSystem(ctx, g.ID, GameSystemUpdate{}); err != nil {
		t.Errorf("empty update failed: %v", err)
	}
}

func TestCountByCrawlStatus(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rows := []*GameSystem{
		{Name: "A", Slug: "a", CrawlStatus: CrawlSuccess},
		{Name: "B", Slug: "b", CrawlStatus: CrawlSuccess},
		{Name: "C", Slug: "c", CrawlStatus: CrawlError},
		{Name: "D", Slug: "d"},
	}
	for _, g := range rows {
		if err := store.InsertGameSystem(ctx, g); err != nil {
			t.Fatalf("insert %s failed: %v", g.Name, err)
		}
	}

	counts, err := store.CountByCrawlStatus(ctx)
	if err != nil {
		t.Fatalf("CountByCrawlStatus failed: %v", err)
	}
	if counts[CrawlSuccess] != 2 || counts[CrawlError] != 1 || counts[CrawlPending] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}

	errored, err := store.ListByCrawlStatus(ctx, CrawlError, 10)
	if err != nil {
		t.Fatalf("ListByCrawlStatus failed: %v", err)
	}
	if len(errored) != 1 || errored[0].Name != "C" {
		t.Errorf("unexpected error rows: %+v", errored)
	}
}

func TestTaxonomyInsertIgnoreAndLink(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := store.InsertTaxonomyName(ctx, KindCategory, "Economic"); err != nil {
			t.Fatalf("InsertTaxonomyName #%d failed: %v", i+1, err)
		}
	}
	id, err := store.FindTaxonomyID(ctx, KindCategory, "Economic")
	if err != nil || id == 0 {
		t.Fatalf("FindTaxonomyID = %d, %v", id, err)
	}

	rows, err := store.ListTaxonomy(ctx, KindCategory)
	if err != nil {
		t.Fatalf("ListTaxonomy failed: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("expected a single category after duplicate insert, got %d", len(rows))
	}

	missing, err := store.FindTaxonomyID(ctx, KindMechanic, "Economic")
	if err != nil || missing != 0 {
		t.Errorf("expected 0 for unknown mechanic, got %d, %v", missing, err)
	}

	mapping := ExternalMapping{Source: SourceBGG, ExternalTag: "Economic", TaxonomyID: id}
	for i := 0; i < 2; i++ {
		if err := store.InsertExternalMapping(ctx, KindCategory, mapping); err != nil {
			t.Fatalf("InsertExternalMapping #%d failed: %v", i+1, err)
		}
	}
	mappings, err := store.ListExternalMappings(ctx, KindCategory, SourceBGG)
	if err != nil {
		t.Fatalf("ListExternalMappings failed: %v", err)
	}
	if len(mappings) != 1 || mappings[0].TaxonomyID != id {
		t.Errorf("unexpected mappings: %+v", mappings)
	}

	g := &GameSystem{Name: "Brass", Slug: "brass"}
	if err := store.InsertGameSystem(ctx, g); err != nil {
		t.Fatalf("InsertGameSystem failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := store.LinkTaxonomy(ctx, KindCategory, g.ID, id); err != nil {
			t.Fatalf("LinkTaxonomy #%d failed: %v", i+1, err)
		}
	}
	names, err := store.LinkedTaxonomyNames(ctx, KindCategory, g.ID)
	if err != nil {
		t.Fatalf("LinkedTaxonomyNames failed: %v", err)
	}
	if len(names) != 1 || names[0] != "Economic" {
		t.Errorf("linked names = %v", names)
	}

	if _, err := store.ListTaxonomy(ctx, TaxonomyKind("genre")); err == nil {
		t.Error("expected error for unknown taxonomy kind")
	}
}

func TestFindOrCreatePublisher(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first, err := store.FindOrCreatePublisher(ctx, "  KOSMOS ")
	if err != nil {
		t.Fatalf("FindOrCreatePublisher failed: %v", err)
	}
	if first == nil || first.ID == 0 || first.Name != "KOSMOS" {
		t.Fatalf("unexpected publisher: %+v", first)
	}

	second, err := store.FindOrCreatePublisher(ctx, "KOSMOS")
	if err != nil {
		t.Fatalf("second FindOrCreatePublisher failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected same publisher id, got %d and %d", first.ID, second.ID)
	}

	none, err := store.FindOrCreatePublisher(ctx, "   ")
	if err != nil || none != nil {
		t.Errorf("blank name should yield nil, got %+v, %v", none, err)
	}
}

func TestMediaAssetChecksumDedup(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	g := &GameSystem{Name: "Wingspan", Slug: "wingspan"}
	if err := store.InsertGameSystem(ctx, g); err != nil {
		t.Fatalf("InsertGameSystem failed: %v", err)
	}

	asset := &MediaAsset{
		GameSystemID: g.ID,
		PublicID:     "game-systems/wingspan/hero-abc.jpg",
		SecureURL:    "https://cdn.example.com/game-systems/wingspan/hero-abc.jpg",
		Width:        800,
		Height:       600,
		Format:       "jpeg",
		License:      "BGG Fair Use",
		Checksum:     "abc",
	}
	if err := store.InsertMediaAsset(ctx, asset); err != nil {
		t.Fatalf("InsertMediaAsset failed: %v", err)
	}

	dup := *asset
	dup.ID = 0
	if err := store.InsertMediaAsset(ctx, &dup); err != nil {
		t.Fatalf("duplicate InsertMediaAsset failed: %v", err)
	}
	if dup.ID != asset.ID {
		t.Errorf("duplicate checksum should resolve to existing id %d, got %d", asset.ID, dup.ID)
	}

	found, err := store.FindMediaAssetByChecksum(ctx, g.ID, "abc")
	if err != nil {
		t.Fatalf("FindMediaAssetByChecksum failed: %v", err)
	}
	if found == nil || found.Kind != "hero" || found.Moderated || found.Width != 800 {
		t.Errorf("unexpected asset: %+v", found)
	}

	n, err := store.CountMediaAssets(ctx, g.ID)
	if err != nil || n != 1 {
		t.Errorf("CountMediaAssets = %d, %v", n, err)
	}
}

func TestCrawlEvents(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	g := &GameSystem{Name: "Root", Slug: "root"}
	if err := store.InsertGameSystem(ctx, g); err != nil {
		t.Fatalf("InsertGameSystem failed: %v", err)
	}

	start := time.Now().UTC().Add(-time.Second)
	ev := &CrawlEvent{
		GameSystemID: g.ID,
		Status:       CrawlSuccess,
		StartedAt:    start,
		FinishedAt:   start.Add(500 * time.Millisecond),
		Details:      map[string]any{"bggId": 237182, "created": true},
	}
	if err := store.InsertCrawlEvent(ctx, ev); err != nil {
		t.Fatalf("InsertCrawlEvent failed: %v", err)
	}
	if ev.Source != SourceBGG || ev.Severity != SeverityInfo {
		t.Errorf("defaults not applied: %+v", ev)
	}

	events, err := store.RecentCrawlEvents(ctx, time.Time{}, 10)
	if err != nil {
		t.Fatalf("RecentCrawlEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].SystemName != "Root" || events[0].Status != CrawlSuccess {
		t.Errorf("unexpected event: %+v", events[0])
	}
	if events[0].Details["bggId"] != float64(237182) || events[0].Details["created"] != true {
		t.Errorf("details = %v", events[0].Details)
	}

	n, err := store.CountCrawlEvents(ctx, g.ID)
	if err != nil || n != 1 {
		t.Errorf("CountCrawlEvents = %d, %v", n, err)
	}
}

func TestGetCatalogTotals(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	g := &GameSystem{Name: "Terraforming Mars", Slug: "terraforming-mars", SourceOfTruth: SourceBGG}
	if err := store.InsertGameSystem(ctx, g); err != nil {
		t.Fatalf("InsertGameSystem failed: %v", err)
	}

	totals, err := store.GetCatalogTotals(ctx)
	if err != nil {
		t.Fatalf("GetCatalogTotals failed: %v", err)
	}
	if totals.Systems != 1 || totals.FromBGG != 1 || totals.WithHeroImage != 0 {
		t.Errorf("unexpected totals: %+v", totals)
	}
}
