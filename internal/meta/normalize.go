package meta

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxSlugLength caps derived slugs
const MaxSlugLength = 80

var (
	nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)
	whitespaceRe = regexp.MustCompile(`\s+`)

	// combining diacritical marks block (U+0300..U+036F)
	combiningMarks = runes.Predicate(func(r rune) bool {
		return r >= 0x0300 && r <= 0x036f
	})
)

// stripMarks decomposes compatibility characters and drops combining marks
func stripMarks(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(combiningMarks))
	out, _, err := transform.String(t, s)
	if err != nil {
		return norm.NFKD.String(s)
	}
	return out
}

// Slugify derives the reconciliation key for a game system name:
// NFKD, combining marks removed, lower-cased, every run of characters
// outside [a-z0-9] replaced by "-", leading/trailing "-" trimmed, and
// the result cut to MaxSlugLength. An empty result means the name has
// no usable slug.
func Slugify(name string) string {
	s := strings.ToLower(stripMarks(name))
	s = nonSlugChars.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > MaxSlugLength {
		s = s[:MaxSlugLength]
	}
	return s
}

// NormalizeName trims a taxonomy or publisher name for storage
func NormalizeName(name string) string {
	return strings.TrimSpace(name)
}

// NormalizeKey is the case-insensitive cache key for a taxonomy name
func NormalizeKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// UniqueNames trims names and drops blanks and duplicates, keeping first-seen order
func UniqueNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = NormalizeName(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// CleanString collapses whitespace runs and trims
func CleanString(s string) string {
	if s == "" {
		return ""
	}
	return collapseWhitespace(norm.NFC.String(s))
}

// CleanDescription turns an HTML description fragment into plain text with
// collapsed whitespace. Entities are decoded. Returns "" when nothing is left.
func CleanDescription(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<section>" + html + "</section>"))
	if err != nil {
		return collapseWhitespace(html)
	}
	return collapseWhitespace(doc.Find("section").First().Text())
}

// collapseWhitespace replaces multiple spaces with a single space
func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
