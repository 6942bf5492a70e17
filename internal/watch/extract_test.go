package watch

import (
	"testing"

	"ipuwatch/internal/source"
)

func resultProfile(t *testing.T) source.Profile {
	t.Helper()
	p, ok := source.ProfileFor(source.KindResult)
	if !ok {
		t.Fatal("missing result profile")
	}
	return p
}

func TestExtractTitles(t *testing.T) {
	t.Parallel()
	body := []byte(`<html><body><table>
		<tr><td>S.No</td><td><a href="#">Title</a></td><td>Date</td></tr>
		<tr><td>1</td><td><a href="/r1.htm">Result of B.Tech Semester 5</a></td><td>12-08-2026</td></tr>
		<tr><td>2</td><td><a href="/r2.htm">  Result   of
			BBA  Semester 3 </a></td><td>10-08-2026</td></tr>
		<tr><td>3</td><td>No link here</td><td>09-08-2026</td></tr>
		<tr><td>4</td><td><a href="/pdf">PDF</a></td><td>08-08-2026</td></tr>
	</table></body></html>`)

	titles, err := ExtractTitles(body, resultProfile(t))
	if err != nil {
		t.Fatalf("ExtractTitles error: %v", err)
	}
	want := []string{"Result of B.Tech Semester 5", "Result of BBA Semester 3"}
	if len(titles) != len(want) {
		t.Fatalf("got %d titles %v, want %d", len(titles), titles, len(want))
	}
	for i := range want {
		if titles[i] != want[i] {
			t.Fatalf("titles[%d] = %q, want %q", i, titles[i], want[i])
		}
	}
}

// Rendering noise in the cells must not change what gets extracted.
func TestExtractTitlesWhitespaceInvariant(t *testing.T) {
	t.Parallel()
	clean := []byte(`<table><tr><td><a href="/x">Revised Datesheet December 2026</a></td></tr></table>`)
	noisy := []byte("<table><tr><td><a href=\"/x\">\n\t  Revised \t Datesheet\n December   2026 </a></td></tr></table>")

	p := resultProfile(t)
	a, err := ExtractTitles(clean, p)
	if err != nil {
		t.Fatalf("clean extract error: %v", err)
	}
	b, err := ExtractTitles(noisy, p)
	if err != nil {
		t.Fatalf("noisy extract error: %v", err)
	}
	if Fingerprint(a) != Fingerprint(b) {
		t.Fatalf("whitespace changed the fingerprint: %v vs %v", a, b)
	}
}

// A control character in the page markup must never survive into a title;
// the fingerprint joins titles with one, and a leaked separator would let
// two different title lists hash identically.
func TestExtractTitlesStripsControlCharacters(t *testing.T) {
	t.Parallel()
	body := []byte("<table><tr><td><a href=\"/x\">Notice\x1fregarding revaluation results</a></td></tr></table>")

	titles, err := ExtractTitles(body, resultProfile(t))
	if err != nil {
		t.Fatalf("ExtractTitles error: %v", err)
	}
	if len(titles) != 1 || titles[0] != "Notice regarding revaluation results" {
		t.Fatalf("unexpected titles: %q", titles)
	}
}

func TestExtractTitlesCapped(t *testing.T) {
	t.Parallel()
	var body []byte
	body = append(body, "<table>"...)
	for i := 0; i < 30; i++ {
		body = append(body, `<tr><td><a href="/n">Notice regarding examination schedule</a></td></tr>`...)
	}
	body = append(body, "</table>"...)

	titles, err := ExtractTitles(body, resultProfile(t))
	if err != nil {
		t.Fatalf("ExtractTitles error: %v", err)
	}
	if len(titles) != maxTitles {
		t.Fatalf("got %d titles, want cap %d", len(titles), maxTitles)
	}
}

func TestExtractTitlesEmptyPage(t *testing.T) {
	t.Parallel()
	titles, err := ExtractTitles([]byte(`<html><body><p>maintenance</p></body></html>`), resultProfile(t))
	if err != nil {
		t.Fatalf("ExtractTitles error: %v", err)
	}
	if len(titles) != 0 {
		t.Fatalf("got %d titles from empty page, want 0", len(titles))
	}
}

func TestExtractTitlesExcludesHeaderRows(t *testing.T) {
	t.Parallel()
	p, ok := source.ProfileFor(source.KindCircular)
	if !ok {
		t.Fatal("missing circular profile")
	}
	body := []byte(`<table>
		<tr><td><a href="/nav">About University</a></td></tr>
		<tr><td><a href="/n1">Notice regarding fee submission</a></td><td>15-08-2026</td></tr>
	</table>`)
	titles, err := ExtractTitles(body, p)
	if err != nil {
		t.Fatalf("ExtractTitles error: %v", err)
	}
	if len(titles) != 1 || titles[0] != "Notice regarding fee submission" {
		t.Fatalf("unexpected titles: %v", titles)
	}
}
