// Package render builds the Telegram HTML bodies for notifications and
// command replies. Rendering is presentational only; nothing here feeds
// change detection.
package render

import (
	"fmt"
	"strings"
	"time"

	"ipuwatch/internal/source"
	"ipuwatch/internal/storage"
	"ipuwatch/internal/watch"
	"ipuwatch/pkg/tgui"
)

const (
	divider = "━━━━━━━━━━━━━━━"

	// maxTitleRunes clips scraped titles; some IPU notice titles run to
	// several hundred characters.
	maxTitleRunes = 200

	// notifyItems limits the digest inside a push notification. On-demand
	// listings show the full preview instead.
	notifyItems = 3

	timeFormat = "2 Jan 2006, 3:04 PM MST"
)

// ist is the timezone shown to users. Falls back to a fixed offset when the
// tz database is unavailable (static binaries on scratch images).
var ist = loadIST()

func loadIST() *time.Location {
	if loc, err := time.LoadLocation("Asia/Kolkata"); err == nil {
		return loc
	}
	return time.FixedZone("IST", 5*3600+1800)
}

// ChangeNotification renders the push message for a detected change.
func ChangeNotification(p source.Profile, items []watch.Item, now time.Time) string {
	var b strings.Builder
	header(&b, p)

	if len(items) > 0 {
		b.WriteString(tgui.B("Latest Updates:").String())
		b.WriteString("\n\n")
		n := len(items)
		if n > notifyItems {
			n = notifyItems
		}
		writeItems(&b, items[:n])
	} else {
		b.WriteString("New update available!\n\n")
	}

	footer(&b, p, now)
	return b.String()
}

// Listing renders the reply for the on-demand /results, /datesheet and
// /circular commands.
func Listing(p source.Profile, items []watch.Item, now time.Time) string {
	var b strings.Builder
	header(&b, p)
	writeItems(&b, items)
	footer(&b, p, now)
	return b.String()
}

// Status renders the /status reply from the stored source states.
func Status(states map[source.Kind]*storage.SourceState, now time.Time) string {
	var b strings.Builder
	b.WriteString(tgui.B("Monitor Status").String())
	b.WriteString("\n" + divider + "\n\n")

	for _, kind := range source.Kinds() {
		p, _ := source.ProfileFor(kind)
		b.WriteString(p.Icon + " " + tgui.B(p.Title).String() + "\n")
		st := states[kind]
		if st == nil {
			b.WriteString(tgui.I("not yet checked").String() + "\n\n")
			continue
		}
		b.WriteString("Checked: " + tgui.I(st.LastCheckedAt.In(ist).Format(timeFormat)).String() + "\n")
		if !st.LastChangedAt.IsZero() {
			b.WriteString("Changed: " + tgui.I(st.LastChangedAt.In(ist).Format(timeFormat)).String() + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("⏰ " + tgui.I(now.In(ist).Format(timeFormat)).String())
	return b.String()
}

func header(b *strings.Builder, p source.Profile) {
	b.WriteString(tgui.B(p.Icon + " " + p.Title).String())
	b.WriteString("\n" + divider + "\n\n")
}

func writeItems(b *strings.Builder, items []watch.Item) {
	for i, it := range items {
		fmt.Fprintf(b, "%d. %s", i+1, tgui.Esc(tgui.Clip(it.Title, maxTitleRunes)))
		if it.Date != "" {
			b.WriteString("\n   \U0001F4C5 " + tgui.I(it.Date).String())
		}
		b.WriteString("\n\n")
	}
}

func footer(b *strings.Builder, p source.Profile, now time.Time) {
	b.WriteString("\U0001F517 " + tgui.Link("View All Updates", p.URL).String() + "\n\n")
	b.WriteString("⏰ " + tgui.I(now.In(ist).Format(timeFormat)).String())
}
