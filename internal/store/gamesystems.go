package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const gameSystemColumns = `
	id, name, slug, external_refs, source_of_truth, release_date, year_released,
	description_scraped, min_players, max_players, average_play_time,
	age_rating, complexity_rating, publisher_id, hero_image_id, crawl_status,
	last_crawled_at, last_success_at, error_message, cms_approved,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGameSystem(row rowScanner) (*GameSystem, error) {
	var (
		g                               GameSystem
		refs, source, release, desc     sql.NullString
		age, complexity, status, errMsg sql.NullString
		year, minP, maxP, playTime      sql.NullInt64
		publisherID, heroID             sql.NullInt64
		lastCrawled, lastSuccess        sql.NullTime
		created, updated                sql.NullTime
	)
	err := row.Scan(
		&g.ID, &g.Name, &g.Slug, &refs, &source, &release, &year,
		&desc, &minP, &maxP, &playTime,
		&age, &complexity, &publisherID, &heroID, &status,
		&lastCrawled, &lastSuccess, &errMsg, &g.CMSApproved,
		&created, &updated,
	)
	if err != nil {
		return nil, err
	}

	g.ExternalRefs, err = decodeExternalRefs(refs)
	if err != nil {
		return nil, err
	}
	g.SourceOfTruth = source.String
	g.ReleaseDate = dateOnly(release)
	g.YearReleased = int(year.Int64)
	g.DescriptionScraped = desc.String
	g.MinPlayers = int(minP.Int64)
	g.MaxPlayers = int(maxP.Int64)
	g.AveragePlayTime = int(playTime.Int64)
	g.AgeRating = age.String
	g.ComplexityRating = complexity.String
	g.PublisherID = publisherID.Int64
	g.HeroImageID = heroID.Int64
	g.CrawlStatus = CrawlStatus(status.String)
	g.LastCrawledAt = lastCrawled.Time
	g.LastSuccessAt = lastSuccess.Time
	g.ErrorMessage = errMsg.String
	g.CreatedAt = created.Time
	g.UpdatedAt = updated.Time
	return &g, nil
}

// GetGameSystemBySlug returns the system with the given slug, or nil if none exists
func (s *Store) GetGameSystemBySlug(ctx context.Context, slug string) (*GameSystem, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+gameSystemColumns+`
		FROM game_systems WHERE slug = ? LIMIT 1`), slug)
	g, err := scanGameSystem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game system %q: %w", slug, err)
	}
	return g, nil
}

// GetGameSystem returns the system with the given id, or nil if none exists
func (s *Store) GetGameSystem(ctx context.Context, id int64) (*GameSystem, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+gameSystemColumns+`
		FROM game_systems WHERE id = ?`), id)
	g, err := scanGameSystem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game system %d: %w", id, err)
	}
	return g, nil
}

// InsertGameSystem creates a row and sets g.ID
func (s *Store) InsertGameSystem(ctx context.Context, g *GameSystem) error {
	refs, err := g.ExternalRefs.encode()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	err = s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO game_systems (
			name, slug, external_refs, source_of_truth, release_date, year_released,
			description_scraped, min_players, max_players, average_play_time,
			age_rating, complexity_rating, publisher_id, hero_image_id,
			crawl_status, last_crawled_at, last_success_at, error_message,
			cms_approved, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		g.Name, g.Slug, refs, nullString(g.SourceOfTruth), nullString(g.ReleaseDate), nullInt(g.YearReleased),
		nullString(g.DescriptionScraped), nullInt(g.MinPlayers), nullInt(g.MaxPlayers), nullInt(g.AveragePlayTime),
		nullString(g.AgeRating), nullString(g.ComplexityRating), nullID(g.PublisherID), nullID(g.HeroImageID),
		nullString(string(g.CrawlStatus)), nullTime(g.LastCrawledAt), nullTime(g.LastSuccessAt), nullString(g.ErrorMessage),
		g.CMSApproved, now, now,
	).Scan(&g.ID)
	if err != nil {
		return fmt.Errorf("failed to insert game system %q: %w", g.Name, err)
	}
	return nil
}

// IsEmpty reports whether the update touches no columns
func (u *GameSystemUpdate) IsEmpty() bool {
	return u.ExternalRefs == nil && u.CrawlStatus == nil && u.LastCrawledAt == nil &&
		u.LastSuccessAt == nil && u.ErrorMessage == nil && u.ReleaseDate == nil &&
		u.YearReleased == nil && u.DescriptionScraped == nil && u.MinPlayers == nil &&
		u.MaxPlayers == nil && u.AveragePlayTime == nil && u.AgeRating == nil &&
		u.ComplexityRating == nil && u.PublisherID == nil && u.HeroImageID == nil
}

// UpdateGameSystem applies the non-nil fields of u to the row
func (s *Store) UpdateGameSystem(ctx context.Context, id int64, u GameSystemUpdate) error {
	if u.IsEmpty() {
		return nil
	}

	var (
		sets []string
		args []any
	)
	set := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}

	if u.ExternalRefs != nil {
		refs, err := u.ExternalRefs.encode()
		if err != nil {
			return err
		}
		set("external_refs", refs)
	}
	if u.CrawlStatus != nil {
		set("crawl_status", string(*u.CrawlStatus))
	}
	if u.LastCrawledAt != nil {
		set("last_crawled_at", nullTime(*u.LastCrawledAt))
	}
	if u.LastSuccessAt != nil {
		set("last_success_at", nullTime(*u.LastSuccessAt))
	}
	if u.ErrorMessage != nil {
		set("error_message", nullString(*u.ErrorMessage))
	}
	if u.ReleaseDate != nil {
		set("release_date", nullString(*u.ReleaseDate))
	}
	if u.YearReleased != nil {
		set("year_released", nullInt(*u.YearReleased))
	}
	if u.DescriptionScraped != nil {
		set("description_scraped", nullString(*u.DescriptionScraped))
	}
	if u.MinPlayers != nil {
		set("min_players", nullInt(*u.MinPlayers))
	}
	if u.MaxPlayers != nil {
		set("max_players", nullInt(*u.MaxPlayers))
	}
	if u.AveragePlayTime != nil {
		set("average_play_time", nullInt(*u.AveragePlayTime))
	}
	if u.AgeRating != nil {
		set("age_rating", nullString(*u.AgeRating))
	}
	if u.ComplexityRating != nil {
		set("complexity_rating", nullString(*u.ComplexityRating))
	}
	if u.PublisherID != nil {
		set("publisher_id", nullID(*u.PublisherID))
	}
	if u.HeroImageID != nil {
		set("hero_image_id", nullID(*u.HeroImageID))
	}
	set("updated_at", time.Now().UTC())

	args = append(args, id)
	query := "UPDATE game_systems SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	if _, err := s.db.ExecContext(ctx, s.rebind(query), args...); err != nil {
		return fmt.Errorf("failed to update game system %d: %w", id, err)
	}
	return nil
}

// CountByCrawlStatus returns the number of systems per crawl status.
// Rows that were never crawled are reported under CrawlPending.
func (s *Store) CountByCrawlStatus(ctx context.Context) (map[CrawlStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(crawl_status, ''), COUNT(*)
		FROM game_systems
		GROUP BY COALESCE(crawl_status, '')
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count crawl statuses: %w", err)
	}
	defer rows.Close()

	counts := make(map[CrawlStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan crawl status count: %w", err)
		}
		if status == "" {
			status = string(CrawlPending)
		}
		counts[CrawlStatus(status)] += n
	}
	return counts, rows.Err()
}

// ListByCrawlStatus returns systems in the given status, oldest crawl first
func (s *Store) ListByCrawlStatus(ctx context.Context, status CrawlStatus, limit int) ([]*GameSystem, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+gameSystemColumns+`
		FROM game_systems WHERE crawl_status = ?
		ORDER BY last_crawled_at, id
		LIMIT ?`), string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list game systems: %w", err)
	}
	defer rows.Close()

	var systems []*GameSystem
	for rows.Next() {
		g, err := scanGameSystem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan game system: %w", err)
		}
		systems = append(systems, g)
	}
	return systems, rows.Err()
}

// CatalogTotals summarises catalogue coverage for reports
type CatalogTotals struct {
	Systems        int
	FromBGG        int
	WithHeroImage  int
	WithPublisher  int
	WithCategories int
	WithMechanics  int
	MediaAssets    int
	Publishers     int
	Categories     int
	Mechanics      int
}

// GetCatalogTotals computes coverage counters over the catalogue
func (s *Store) GetCatalogTotals(ctx context.Context) (*CatalogTotals, error) {
	t := &CatalogTotals{}
	queries := []struct {
		dest  *int
		query string
	}{
		{&t.Systems, "SELECT COUNT(*) FROM game_systems"},
		{&t.FromBGG, "SELECT COUNT(*) FROM game_systems WHERE source_of_truth = 'bgg'"},
		{&t.WithHeroImage, "SELECT COUNT(*) FROM game_systems WHERE hero_image_id IS NOT NULL"},
		{&t.WithPublisher, "SELECT COUNT(*) FROM game_systems WHERE publisher_id IS NOT NULL"},
		{&t.WithCategories, "SELECT COUNT(DISTINCT game_system_id) FROM game_system_to_category"},
		{&t.WithMechanics, "SELECT COUNT(DISTINCT game_system_id) FROM game_system_to_mechanics"},
		{&t.MediaAssets, "SELECT COUNT(*) FROM media_assets"},
		{&t.Publishers, "SELECT COUNT(*) FROM publishers"},
		{&t.Categories, "SELECT COUNT(*) FROM game_system_categories"},
		{&t.Mechanics, "SELECT COUNT(*) FROM game_system_mechanics"},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("failed to compute catalog totals: %w", err)
		}
	}
	return t, nil
}

// Apply copies the non-nil fields of u onto g
func (g *GameSystem) Apply(u GameSystemUpdate) {
	if u.ExternalRefs != nil {
		g.ExternalRefs = u.ExternalRefs
	}
	if u.CrawlStatus != nil {
		g.CrawlStatus = *u.CrawlStatus
	}
	if u.LastCrawledAt != nil {
		g.LastCrawledAt = *u.LastCrawledAt
	}
	if u.LastSuccessAt != nil {
		g.LastSuccessAt = *u.LastSuccessAt
	}
	if u.ErrorMessage != nil {
		g.ErrorMessage = *u.ErrorMessage
	}
	if u.ReleaseDate != nil {
		g.ReleaseDate = *u.ReleaseDate
	}
	if u.YearReleased != nil {
		g.YearReleased = *u.YearReleased
	}
	if u.DescriptionScraped != nil {
		g.DescriptionScraped = *u.DescriptionScraped
	}
	if u.MinPlayers != nil {
		g.MinPlayers = *u.MinPlayers
	}
	if u.MaxPlayers != nil {
		g.MaxPlayers = *u.MaxPlayers
	}
	if u.AveragePlayTime != nil {
		g.AveragePlayTime = *u.AveragePlayTime
	}
	if u.AgeRating != nil {
		g.AgeRating = *u.AgeRating
	}
	if u.ComplexityRating != nil {
		g.ComplexityRating = *u.ComplexityRating
	}
	if u.PublisherID != nil {
		g.PublisherID = *u.PublisherID
	}
	if u.HeroImageID != nil {
		g.HeroImageID = *u.HeroImageID
	}
}
