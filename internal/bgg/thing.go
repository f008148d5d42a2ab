package bgg

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/solstice/syscrawl/internal/meta"
	"github.com/solstice/syscrawl/internal/util"
)

// Thing is the coarser record served by the XML API. It is also the merged
// shape the orchestrator carries for each candidate.
type Thing struct {
	ID            int
	Name          string
	YearPublished int
	MinPlayers    int
	MaxPlayers    int
	PlayingTime   int
	MinAge        int
	Publishers    []string
	Categories    []string
	Mechanics     []string
	NumComments   int
	UsersRated    int
	AverageWeight float64
	Description   string
	Thumbnail     string
	Image         string
}

type xmlValue struct {
	Value string `xml:"value,attr"`
}

func (v xmlValue) Int() int {
	n, err := strconv.Atoi(strings.TrimSpace(v.Value))
	if err != nil {
		f, ferr := strconv.ParseFloat(strings.TrimSpace(v.Value), 64)
		if ferr != nil {
			return 0
		}
		return int(f)
	}
	return n
}

func (v xmlValue) Float() float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v.Value), 64)
	if err != nil {
		return 0
	}
	return f
}

type xmlName struct {
	Type  string `xml:"type,attr"`
	Value string `xml:"value,attr"`
}

type xmlLink struct {
	Type  string `xml:"type,attr"`
	ID    int    `xml:"id,attr"`
	Value string `xml:"value,attr"`
}

type xmlItem struct {
	Type          string    `xml:"type,attr"`
	ID            int       `xml:"id,attr"`
	Names         []xmlName `xml:"name"`
	Thumbnail     string    `xml:"thumbnail"`
	Image         string    `xml:"image"`
	Description   string    `xml:"description"`
	YearPublished xmlValue  `xml:"yearpublished"`
	MinPlayers    xmlValue  `xml:"minplayers"`
	MaxPlayers    xmlValue  `xml:"maxplayers"`
	PlayingTime   xmlValue  `xml:"playingtime"`
	MinAge        xmlValue  `xml:"minage"`
	Links         []xmlLink `xml:"link"`
	Ratings       struct {
		UsersRated    xmlValue `xml:"usersrated"`
		NumComments   xmlValue `xml:"numcomments"`
		AverageWeight xmlValue `xml:"averageweight"`
	} `xml:"statistics>ratings"`
}

type xmlItems struct {
	XMLName xml.Name  `xml:"items"`
	Items   []xmlItem `xml:"item"`
}

func (it *xmlItem) primaryName() string {
	for _, n := range it.Names {
		if n.Type == "primary" {
			return strings.TrimSpace(n.Value)
		}
	}
	if len(it.Names) > 0 {
		return strings.TrimSpace(it.Names[0].Value)
	}
	return ""
}

func (it *xmlItem) linkValues(linkType string) []string {
	var values []string
	for _, l := range it.Links {
		if l.Type == linkType {
			values = append(values, l.Value)
		}
	}
	return meta.UniqueNames(values)
}

// ThingURL returns the XML API thing URL for an item
func (c *Client) ThingURL(id int) string {
	return fmt.Sprintf("%s/xmlapi2/thing?id=%d&stats=1", c.baseURL, id)
}

// Thing fetches an item from the XML API. util.ErrNotFound is returned
// when the response carries no item.
func (c *Client) Thing(ctx context.Context, id int) (*Thing, error) {
	body, err := c.get(ctx, "thing", c.ThingURL(id))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch BGG thing %d: %w", id, err)
	}
	thing, err := ParseThing(body)
	if err != nil {
		return nil, fmt.Errorf("BGG thing %d: %w", id, err)
	}
	if thing.ID == 0 {
		thing.ID = id
	}
	return thing, nil
}

// ParseThing decodes an XML API thing response
func ParseThing(body []byte) (*Thing, error) {
	var doc xmlItems
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode thing XML: %w", err)
	}
	if len(doc.Items) == 0 {
		return nil, util.ErrNotFound
	}
	it := &doc.Items[0]

	return &Thing{
		ID:            it.ID,
		Name:          it.primaryName(),
		YearPublished: it.YearPublished.Int(),
		MinPlayers:    it.MinPlayers.Int(),
		MaxPlayers:    it.MaxPlayers.Int(),
		PlayingTime:   it.PlayingTime.Int(),
		MinAge:        it.MinAge.Int(),
		Publishers:    it.linkValues("boardgamepublisher"),
		Categories:    it.linkValues("boardgamecategory"),
		Mechanics:     it.linkValues("boardgamemechanic"),
		NumComments:   it.Ratings.NumComments.Int(),
		UsersRated:    it.Ratings.UsersRated.Int(),
		AverageWeight: it.Ratings.AverageWeight.Float(),
		Description:   meta.CleanDescription(it.Description),
		Thumbnail:     strings.TrimSpace(it.Thumbnail),
		Image:         strings.TrimSpace(it.Image),
	}, nil
}

// SearchURL returns the XML API search URL for a name
func (c *Client) SearchURL(name string) string {
	return fmt.Sprintf("%s/xmlapi2/search?type=boardgame&query=%s", c.baseURL, url.QueryEscape(name))
}

// Search resolves a name to a BGG id, preferring an exact
// case-insensitive name match over the first hit. 0 means no hit.
func (c *Client) Search(ctx context.Context, name string) (int, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("search name cannot be empty")
	}
	body, err := c.get(ctx, "search", c.SearchURL(name))
	if err != nil {
		return 0, fmt.Errorf("failed to search BGG for %q: %w", name, err)
	}
	return ParseSearch(body, name)
}

// ParseSearch picks the best id from an XML API search response
func ParseSearch(body []byte, name string) (int, error) {
	var doc xmlItems
	if err := xml.Unmarshal(body, &doc); err != nil {
		return 0, fmt.Errorf("failed to decode search XML: %w", err)
	}
	if len(doc.Items) == 0 {
		util.DebugLog("BGG: no search results for '%s'", name)
		return 0, nil
	}
	for _, it := range doc.Items {
		for _, n := range it.Names {
			if strings.EqualFold(strings.TrimSpace(n.Value), name) {
				return it.ID, nil
			}
		}
	}
	return doc.Items[0].ID, nil
}
