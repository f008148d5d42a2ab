package bgg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/solstice/syscrawl/internal/meta"
	"github.com/solstice/syscrawl/internal/util"
)

var geekPreload = regexp.MustCompile(`(?s)GEEK\.geekitemPreload\s*=\s*(\{.*?\});`)

// Detail is the normalized record extracted from an item's detail page.
// Zero values mean the page did not carry the field.
type Detail struct {
	Name            string
	Description     string
	MinPlayers      int
	MaxPlayers      int
	AveragePlayTime int
	MinAge          int
	YearPublished   int
	Publishers      []string
	Categories      []string
	Mechanics       []string
	NumComments     int
	UsersRated      int
	AverageWeight   float64
	AverageRating   float64
	HeroImageURL    string
}

// DetailURL returns the detail page URL for an item
func (c *Client) DetailURL(id int) string {
	return fmt.Sprintf("%s/boardgame/%d", c.baseURL, id)
}

// Detail fetches and normalizes an item's detail page. Any failure to
// fetch or parse yields (nil, nil) with a warning; only cancellation of
// ctx is returned as an error.
func (c *Client) Detail(ctx context.Context, id int) (*Detail, error) {
	body, err := c.get(ctx, "detail", c.DetailURL(id))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		util.WarnLog("Failed to load BGG detail page for %d: %v", id, err)
		return nil, nil
	}

	d, err := ParseDetailPage(body)
	if err != nil {
		util.WarnLog("BGG detail page for %d: %v", id, err)
		return nil, nil
	}
	return d, nil
}

// ParseDetailPage extracts the embedded preload JSON from a detail page
func ParseDetailPage(html []byte) (*Detail, error) {
	m := geekPreload.FindSubmatch(html)
	if m == nil {
		return nil, fmt.Errorf("missing geekitemPreload data")
	}

	var payload preloadPayload
	dec := json.NewDecoder(bytes.NewReader(m[1]))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to parse geekitemPreload: %w", err)
	}
	if payload.Item == nil {
		return nil, fmt.Errorf("geekitemPreload has no item")
	}
	return payload.Item.normalize(), nil
}

// preloadPayload is the subset of GEEK.geekitemPreload the crawler reads
type preloadPayload struct {
	Item *preloadItem `json:"item"`
}

type preloadItem struct {
	Name          flexString      `json:"name"`
	Description   flexString      `json:"description"`
	MinPlayers    flexNumber      `json:"minplayers"`
	MaxPlayers    flexNumber      `json:"maxplayers"`
	MinPlayTime   flexNumber      `json:"minplaytime"`
	MaxPlayTime   flexNumber      `json:"maxplaytime"`
	MinAge        flexNumber      `json:"minage"`
	YearPublished flexNumber      `json:"yearpublished"`
	Links         json.RawMessage `json:"links"`
	Stats         json.RawMessage `json:"stats"`
	Images        json.RawMessage `json:"images"`
}

type preloadStats struct {
	NumComments flexNumber `json:"numcomments"`
	UsersRated  flexNumber `json:"usersrated"`
	AvgWeight   flexNumber `json:"avgweight"`
	Average     flexNumber `json:"average"`
}

func (it *preloadItem) normalize() *Detail {
	// Nested objects are decoded leniently: a malformed section only
	// blanks its own fields.
	var (
		links  map[string]json.RawMessage
		images map[string]json.RawMessage
		stats  preloadStats
	)
	_ = json.Unmarshal(it.Links, &links)
	_ = json.Unmarshal(it.Images, &images)
	_ = json.Unmarshal(it.Stats, &stats)

	d := &Detail{
		Name:            strings.TrimSpace(it.Name.Value),
		Description:     meta.CleanDescription(it.Description.Value),
		MinPlayers:      it.MinPlayers.Int(),
		MaxPlayers:      it.MaxPlayers.Int(),
		AveragePlayTime: AveragePlayTime(it.MinPlayTime.Int(), it.MaxPlayTime.Int()),
		MinAge:          it.MinAge.Int(),
		YearPublished:   it.YearPublished.Int(),
		Publishers:      linkNames(links["boardgamepublisher"]),
		Categories:      linkNames(links["boardgamecategory"]),
		Mechanics:       linkNames(links["boardgamemechanic"]),
		NumComments:     stats.NumComments.Int(),
		UsersRated:      stats.UsersRated.Int(),
		AverageWeight:   stats.AvgWeight.Float(),
		AverageRating:   stats.Average.Float(),
	}

	var original string
	if raw, ok := images["original"]; ok && json.Unmarshal(raw, &original) == nil {
		d.HeroImageURL = strings.TrimSpace(original)
	}
	return d
}

// AveragePlayTime is the rounded mean of min and max when both are known,
// otherwise whichever one is known. 0 means unknown.
func AveragePlayTime(minTime, maxTime int) int {
	switch {
	case minTime > 0 && maxTime > 0:
		return int(math.Round(float64(minTime+maxTime) / 2))
	case maxTime > 0:
		return maxTime
	case minTime > 0:
		return minTime
	}
	return 0
}

// linkNames returns the unique trimmed names of a links.<type> array.
// Anything that is not an array of objects with a string name is ignored.
func linkNames(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return []string{}
	}
	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return []string{}
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		var name string
		if err := json.Unmarshal(e["name"], &name); err != nil {
			continue
		}
		names = append(names, name)
	}
	return meta.UniqueNames(names)
}

// flexNumber accepts a JSON number, a numeric string, or null. Anything
// else decodes as "absent" instead of failing the whole payload.
type flexNumber struct {
	Value float64
	Valid bool
}

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	n.Value, n.Valid = 0, false
	var v any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case string:
		s = strings.TrimSpace(t)
	default:
		return nil
	}
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return nil
	}
	n.Value, n.Valid = f, true
	return nil
}

// Int returns the value truncated to an int, 0 when absent
func (n flexNumber) Int() int {
	if !n.Valid {
		return 0
	}
	return int(n.Value)
}

// Float returns the value, 0 when absent
func (n flexNumber) Float() float64 {
	if !n.Valid {
		return 0
	}
	return n.Value
}

// flexString accepts a JSON string; any other type decodes as empty
type flexString struct {
	Value string
}

func (s *flexString) UnmarshalJSON(b []byte) error {
	s.Value = ""
	var v string
	if err := json.Unmarshal(b, &v); err == nil {
		s.Value = v
	}
	return nil
}
