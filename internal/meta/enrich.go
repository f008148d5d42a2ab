package meta

import (
	"fmt"

	"github.com/solstice/syscrawl/internal/store"
)

// Fields are crawl-derived values offered to a game system row.
// Zero values mean the source had nothing for that field.
type Fields struct {
	YearPublished   int
	Description     string
	MinPlayers      int
	MaxPlayers      int
	AveragePlayTime int
	MinAge          int
	AverageWeight   float64
}

// EnrichmentResult tracks what was enriched
type EnrichmentResult struct {
	Update        store.GameSystemUpdate
	FieldsChanged []string
}

// Enriched reports whether any field was filled
func (r *EnrichmentResult) Enriched() bool {
	return len(r.FieldsChanged) > 0
}

func (r *EnrichmentResult) add(field string) {
	r.FieldsChanged = append(r.FieldsChanged, field)
}

// ReleaseDateFromYear returns the first of January of year as YYYY-MM-DD
func ReleaseDateFromYear(year int) string {
	if year <= 0 {
		return ""
	}
	return fmt.Sprintf("%04d-01-01", year)
}

// AgeRating renders a minimum age as "N+"
func AgeRating(minAge int) string {
	if minAge <= 0 {
		return ""
	}
	return fmt.Sprintf("%d+", minAge)
}

// ComplexityRating renders an average weight with two decimals
func ComplexityRating(weight float64) string {
	if weight <= 0 {
		return ""
	}
	return fmt.Sprintf("%.2f", weight)
}

// GapFill computes the update that fills empty columns of existing from f.
// A column that already holds a value is never part of the update.
// A nil existing row is treated as entirely empty.
func GapFill(existing *store.GameSystem, f Fields) *EnrichmentResult {
	if existing == nil {
		existing = &store.GameSystem{}
	}
	r := &EnrichmentResult{}

	fillDates(existing, f, r)

	if f.Description != "" && existing.DescriptionScraped == "" {
		v := f.Description
		r.Update.DescriptionScraped = &v
		r.add("description_scraped")
	}
	if f.MinPlayers > 0 && existing.MinPlayers == 0 {
		v := f.MinPlayers
		r.Update.MinPlayers = &v
		r.add("min_players")
	}
	if f.MaxPlayers > 0 && existing.MaxPlayers == 0 {
		v := f.MaxPlayers
		r.Update.MaxPlayers = &v
		r.add("max_players")
	}
	if f.AveragePlayTime > 0 && existing.AveragePlayTime == 0 {
		v := f.AveragePlayTime
		r.Update.AveragePlayTime = &v
		r.add("average_play_time")
	}
	if rating := AgeRating(f.MinAge); rating != "" && existing.AgeRating == "" {
		r.Update.AgeRating = &rating
		r.add("age_rating")
	}
	if rating := ComplexityRating(f.AverageWeight); rating != "" && existing.ComplexityRating == "" {
		r.Update.ComplexityRating = &rating
		r.add("complexity_rating")
	}

	return r
}

// GapFillCurated is GapFill for rows an editor may have approved: when
// existing is CMS-approved only the release date and year are offered.
func GapFillCurated(existing *store.GameSystem, f Fields) *EnrichmentResult {
	if existing != nil && existing.CMSApproved {
		r := &EnrichmentResult{}
		fillDates(existing, f, r)
		return r
	}
	return GapFill(existing, f)
}

func fillDates(existing *store.GameSystem, f Fields, r *EnrichmentResult) {
	if date := ReleaseDateFromYear(f.YearPublished); date != "" && existing.ReleaseDate == "" {
		r.Update.ReleaseDate = &date
		r.add("release_date")
	}
	if f.YearPublished > 0 && existing.YearReleased == 0 {
		v := f.YearPublished
		r.Update.YearReleased = &v
		r.add("year_released")
	}
}

// FillNew populates the empty fields of a row that is about to be inserted
func FillNew(g *store.GameSystem, f Fields) []string {
	r := GapFill(g, f)
	g.Apply(r.Update)
	return r.FieldsChanged
}
