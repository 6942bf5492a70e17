package watch

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"ipuwatch/internal/source"
)

// maxTitles caps the number of titles that feed the fingerprint. Only the
// head of the listing matters for change detection; the tail of these pages
// is years of archive that never changes.
const maxTitles = 10

// minTitleLen drops stray one-word anchors ("PDF", "New") that appear and
// disappear between renders of the same listing.
const minTitleLen = 5

// ExtractTitles reduces a page body to the ordered list of normalized link
// titles found in its structured listing rows. Titles are whitespace
// collapsed and trimmed; header and navigation rows are filtered by the
// profile's exclusion substrings. The result is what gets fingerprinted.
func ExtractTitles(body []byte, p source.Profile) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	titles := make([]string, 0, maxTitles)
	doc.Find("table tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		link := row.Find("a").First()
		if link.Length() == 0 {
			return true
		}
		title := normalizeTitle(link.Text())
		if !qualifies(title, p) {
			return true
		}
		titles = append(titles, title)
		return len(titles) < maxTitles
	})
	return titles, nil
}

// normalizeTitle collapses runs of whitespace to single spaces and trims.
// Control characters count as whitespace here; the raw cells carry newlines,
// padding, and the occasional stray control entity that differ between
// renders of identical content, and fingerprints must not see any of that.
func normalizeTitle(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

func qualifies(title string, p source.Profile) bool {
	if len(title) <= minTitleLen {
		return false
	}
	lower := strings.ToLower(title)
	for _, sub := range p.ExcludeSubstrings {
		if strings.Contains(lower, sub) {
			return false
		}
	}
	return true
}
