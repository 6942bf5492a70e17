package watch

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"ipuwatch/internal/source"
)

// maxPreviewItems bounds the digest shown in notifications and on-demand
// listings.
const maxPreviewItems = 5

// Item is one display entry of a preview digest. Purely presentational:
// nothing here feeds the fingerprint or the change decision.
type Item struct {
	Title string
	Link  string
	Date  string
}

// boilerplateLinks are anchor texts excluded from the fallback scan.
var boilerplateLinks = []string{"read more", "click here", "home"}

// BuildPreview re-fetches the page for kind and extracts up to five
// {title, link, date} entries. If the structured listing scan yields
// nothing, a broader scan over all anchors is attempted so users still get
// some content when the page layout shifts.
func BuildPreview(ctx context.Context, f *Fetcher, p source.Profile) ([]Item, error) {
	body, err := f.Fetch(ctx, p.URL)
	if err != nil {
		return nil, err
	}
	return ExtractPreview(body, p)
}

// ExtractPreview parses a page body into preview items.
func ExtractPreview(body []byte, p source.Profile) ([]Item, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	items := scanListing(doc, p)
	if len(items) == 0 {
		items = scanAllAnchors(doc)
	}
	if len(items) > maxPreviewItems {
		items = items[:maxPreviewItems]
	}
	return items, nil
}

// scanListing walks the structured listing rows, mirroring the extractor's
// row classification but keeping link and date cells.
func scanListing(doc *goquery.Document, p source.Profile) []Item {
	items := make([]Item, 0, maxPreviewItems)
	doc.Find("table tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		link := row.Find("a").First()
		if link.Length() == 0 {
			return true
		}
		title := normalizeTitle(link.Text())
		if !qualifies(title, p) {
			return true
		}
		date := normalizeTitle(row.Find("td").Last().Text())
		if p.RequireDate != nil && !p.RequireDate.MatchString(date) {
			return true
		}
		href, _ := link.Attr("href")
		items = append(items, Item{Title: title, Link: href, Date: date})
		return len(items) < maxPreviewItems
	})
	return items
}

// scanAllAnchors is the fallback when the listing scan comes up empty:
// every anchor on the page, de-duplicated by (text, link), with known
// boilerplate phrases dropped.
func scanAllAnchors(doc *goquery.Document) []Item {
	seen := make(map[string]struct{})
	items := make([]Item, 0, maxPreviewItems)
	doc.Find("a").EachWithBreak(func(_ int, link *goquery.Selection) bool {
		title := normalizeTitle(link.Text())
		if len(title) <= minTitleLen || isBoilerplate(title) {
			return true
		}
		href, _ := link.Attr("href")
		key := title + "\x00" + href
		if _, dup := seen[key]; dup {
			return true
		}
		seen[key] = struct{}{}
		items = append(items, Item{Title: title, Link: href})
		return len(items) < maxPreviewItems
	})
	return items
}

func isBoilerplate(title string) bool {
	lower := strings.ToLower(title)
	for _, phrase := range boilerplateLinks {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
