package bgg

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/solstice/syscrawl/internal/util"
)

// Candidate is a row harvested from a listing page
type Candidate struct {
	ID   int
	Name string
	Href string
	Rank int
}

// BrowseOptions controls listing-page pagination
type BrowseOptions struct {
	Desired   int // stop paginating once this many unique candidates are held
	StartPage int // 1-based
	MaxPages  int // pages to visit at most, starting at StartPage
	Sort      string
	SortDir   string
}

var (
	itemHrefID = regexp.MustCompile(`(?i)/(?:boardgame|rpgitem)/(\d+)`)
	nonDigits  = regexp.MustCompile(`[^0-9]`)
)

// BrowseURL returns the listing URL for a page. Page 1 has no page suffix.
func (c *Client) BrowseURL(page int, sort, sortDir string) string {
	suffix := ""
	if page > 1 {
		suffix = fmt.Sprintf("/page/%d", page)
	}
	return fmt.Sprintf("%s/browse/boardgame%s?sort=%s&sortdir=%s",
		c.baseURL, suffix, url.QueryEscape(sort), url.QueryEscape(sortDir))
}

// Browse harvests candidates from consecutive listing pages until Desired
// unique ids are held or MaxPages pages were visited. A failed page stops
// pagination; what was collected so far is returned.
func (c *Client) Browse(ctx context.Context, opts BrowseOptions) ([]Candidate, error) {
	if opts.StartPage < 1 {
		opts.StartPage = 1
	}
	if opts.MaxPages < 1 {
		opts.MaxPages = 1
	}
	if opts.Sort == "" {
		opts.Sort = DefaultSort
	}
	if opts.SortDir == "" {
		opts.SortDir = DefaultSortDir
	}

	seen := make(map[int]struct{})
	var out []Candidate

	for page := opts.StartPage; len(out) < opts.Desired && page < opts.StartPage+opts.MaxPages; page++ {
		pageURL := c.BrowseURL(page, opts.Sort, opts.SortDir)
		util.DebugLog("BGG: fetching browse page %d (%s)", page, pageURL)

		body, err := c.get(ctx, "browse", pageURL)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			util.WarnLog("Failed to load BGG browse page %d: %v", page, err)
			break
		}

		rows, err := parseBrowsePage(body)
		if err != nil {
			util.WarnLog("Failed to parse BGG browse page %d: %v", page, err)
			break
		}
		for _, cand := range rows {
			if _, dup := seen[cand.ID]; dup {
				continue
			}
			if cand.Rank == 0 {
				cand.Rank = len(out) + 1
			}
			seen[cand.ID] = struct{}{}
			out = append(out, cand)
		}
	}

	return out, nil
}

// parseBrowsePage extracts candidate rows. Rank is left 0 when the row has
// no numeric rank; the caller assigns a positional one.
func parseBrowsePage(body []byte) ([]Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing HTML: %w", err)
	}

	var rows []Candidate
	doc.Find("#collectionitems tr[id^='row_']").Each(func(_ int, row *goquery.Selection) {
		anchor := row.Find(".collection_objectname a").First()
		name := strings.TrimSpace(anchor.Text())
		if name == "" {
			return
		}
		href, _ := anchor.Attr("href")
		if !strings.Contains(href, "/boardgame/") && !strings.Contains(href, "/rpgitem/") {
			return
		}
		if strings.Contains(href, "/boardgameexpansion/") {
			return
		}

		idAttr, _ := row.Attr("id")
		id, err := strconv.Atoi(strings.TrimPrefix(idAttr, "row_"))
		if err != nil || id <= 0 {
			m := itemHrefID.FindStringSubmatch(href)
			if m == nil {
				return
			}
			id, err = strconv.Atoi(m[1])
			if err != nil || id <= 0 {
				return
			}
		}

		rank, _ := strconv.Atoi(nonDigits.ReplaceAllString(row.Find(".collection_rank").Text(), ""))
		rows = append(rows, Candidate{ID: id, Name: name, Href: href, Rank: rank})
	})
	return rows, nil
}
