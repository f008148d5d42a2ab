// Package crawl reconciles BoardGameGeek candidates into the game system
// catalogue and drives the batched crawl.
package crawl

import (
	"sort"
	"strings"

	"github.com/solstice/syscrawl/internal/bgg"
	"github.com/solstice/syscrawl/internal/meta"
)

// Detailed is a harvested candidate with whatever detail data was found.
// Thing is never nil; Detail is nil when the detail page yielded nothing.
type Detailed struct {
	Candidate bgg.Candidate
	Detail    *bgg.Detail
	Thing     *bgg.Thing
}

// MergeThing builds the record carried for a candidate. Values present on
// the detail page win; the fallback fills what the detail lacks. Returns
// nil when both are missing.
func MergeThing(id int, detail *bgg.Detail, fallback *bgg.Thing) *bgg.Thing {
	if detail == nil && fallback == nil {
		return nil
	}

	t := &bgg.Thing{ID: id}
	if fallback != nil {
		*t = *fallback
		if t.ID == 0 {
			t.ID = id
		}
	}
	if detail == nil {
		return t
	}

	if detail.Name != "" {
		t.Name = detail.Name
	}
	if detail.Description != "" {
		t.Description = detail.Description
	}
	if len(detail.Publishers) > 0 {
		t.Publishers = detail.Publishers
	}
	if len(detail.Categories) > 0 {
		t.Categories = detail.Categories
	}
	if len(detail.Mechanics) > 0 {
		t.Mechanics = detail.Mechanics
	}
	setInt(&t.YearPublished, detail.YearPublished)
	setInt(&t.MinPlayers, detail.MinPlayers)
	setInt(&t.MaxPlayers, detail.MaxPlayers)
	setInt(&t.PlayingTime, detail.AveragePlayTime)
	setInt(&t.MinAge, detail.MinAge)
	setInt(&t.NumComments, detail.NumComments)
	setInt(&t.UsersRated, detail.UsersRated)
	if detail.AverageWeight > 0 {
		t.AverageWeight = detail.AverageWeight
	}
	if detail.HeroImageURL != "" {
		t.Image = detail.HeroImageURL
	}
	return t
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

// PreferredName is the detail page's name, else the listing name
func (d *Detailed) PreferredName() string {
	if d.Detail != nil {
		if name := strings.TrimSpace(d.Detail.Name); name != "" {
			return name
		}
	}
	return strings.TrimSpace(d.Candidate.Name)
}

// HeroImageURL is the detail page's original image, else the fallback's image
func (d *Detailed) HeroImageURL() string {
	if d.Detail != nil && d.Detail.HeroImageURL != "" {
		return d.Detail.HeroImageURL
	}
	if d.Thing != nil {
		return d.Thing.Image
	}
	return ""
}

// Fields are the gap-fillable values offered to the catalogue row
func (d *Detailed) Fields() meta.Fields {
	var f meta.Fields
	if d.Thing != nil {
		f = meta.Fields{
			YearPublished:   d.Thing.YearPublished,
			Description:     d.Thing.Description,
			MinPlayers:      d.Thing.MinPlayers,
			MaxPlayers:      d.Thing.MaxPlayers,
			AveragePlayTime: d.Thing.PlayingTime,
			MinAge:          d.Thing.MinAge,
			AverageWeight:   d.Thing.AverageWeight,
		}
	}
	if d.Detail != nil {
		if d.Detail.Description != "" {
			f.Description = d.Detail.Description
		}
		setInt(&f.YearPublished, d.Detail.YearPublished)
		setInt(&f.MinPlayers, d.Detail.MinPlayers)
		setInt(&f.MaxPlayers, d.Detail.MaxPlayers)
		setInt(&f.AveragePlayTime, d.Detail.AveragePlayTime)
		setInt(&f.MinAge, d.Detail.MinAge)
		if d.Detail.AverageWeight > 0 {
			f.AverageWeight = d.Detail.AverageWeight
		}
	}
	return f
}

func (d *Detailed) voters() int {
	if d.Thing == nil {
		return 0
	}
	return d.Thing.UsersRated
}

func (d *Detailed) comments() int {
	if d.Thing == nil {
		return 0
	}
	return d.Thing.NumComments
}

// SortDetailed orders by voters descending, then comments descending,
// then listing rank ascending
func SortDetailed(items []Detailed) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := &items[i], &items[j]
		if av, bv := a.voters(), b.voters(); av != bv {
			return av > bv
		}
		if ac, bc := a.comments(), b.comments(); ac != bc {
			return ac > bc
		}
		return a.Candidate.Rank < b.Candidate.Rank
	})
}
