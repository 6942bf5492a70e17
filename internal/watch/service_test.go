package watch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"ipuwatch/internal/source"
	"ipuwatch/pkg/logx"
)

type fakeNotifier struct {
	mu    sync.Mutex
	calls []source.Kind
	items [][]Item
	count int
}

func (n *fakeNotifier) NotifyChange(_ context.Context, p source.Profile, items []Item) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, p.Kind)
	n.items = append(n.items, items)
	return n.count, nil
}

// pageServer serves a mutable listing page per source path.
type pageServer struct {
	mu    sync.Mutex
	pages map[string]string
	srv   *httptest.Server
}

func newPageServer(t *testing.T) *pageServer {
	t.Helper()
	ps := &pageServer{pages: map[string]string{}}
	ps.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ps.mu.Lock()
		page, ok := ps.pages[r.URL.Path]
		ps.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(page))
	}))
	t.Cleanup(ps.srv.Close)
	return ps
}

func (ps *pageServer) set(path, page string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.pages[path] = page
}

func listingPage(titles ...string) string {
	page := "<table>"
	for _, title := range titles {
		page += `<tr><td><a href="/doc.pdf">` + title + `</a></td><td>12-08-2026</td></tr>`
	}
	return page + "</table>"
}

func newPassService(t *testing.T, ps *pageServer, notifier Notifier) (*Service, *fakeStore) {
	t.Helper()
	reg, err := source.NewRegistry(map[string]string{
		"result":    ps.srv.URL + "/result",
		"datesheet": ps.srv.URL + "/datesheet",
		"circular":  ps.srv.URL + "/circular",
	})
	if err != nil {
		t.Fatalf("NewRegistry error: %v", err)
	}
	store := newFakeStore()
	fetcher := NewFetcher(FetchConfig{Timeout: 2 * time.Second, RetryMax: RetryDisabled, RetryDelay: time.Millisecond}, logx.Nop())
	svc := NewService(reg, fetcher, NewDetector(store, logx.Nop()), notifier, logx.Nop())
	return svc, store
}

func TestRunPassInitializesWithoutNotifying(t *testing.T) {
	t.Parallel()
	ps := newPageServer(t)
	ps.set("/result", listingPage("Result of B.Tech Semester 5"))
	ps.set("/datesheet", listingPage("Datesheet for end term exams"))
	ps.set("/circular", listingPage("Notice regarding fee submission"))

	notifier := &fakeNotifier{}
	svc, _ := newPassService(t, ps, notifier)

	report := svc.RunPass(context.Background())
	if len(report.Changes) != 0 {
		t.Fatalf("first pass produced changes: %+v", report.Changes)
	}
	if len(report.Checks) != 3 {
		t.Fatalf("got %d checks, want 3", len(report.Checks))
	}
	for _, c := range report.Checks {
		if c.Status != StatusInitialized {
			t.Fatalf("check %s = %s, want %s", c.Source, c.Status, StatusInitialized)
		}
	}
	if len(notifier.calls) != 0 {
		t.Fatalf("first pass must not notify, got %v", notifier.calls)
	}
}

func TestRunPassDetectsChangeOnce(t *testing.T) {
	t.Parallel()
	ps := newPageServer(t)
	ps.set("/result", listingPage("Result of B.Tech Semester 5"))
	ps.set("/datesheet", listingPage("Datesheet for end term exams"))
	ps.set("/circular", listingPage("Notice regarding fee submission"))

	notifier := &fakeNotifier{count: 7}
	svc, _ := newPassService(t, ps, notifier)

	svc.RunPass(context.Background())

	// Unchanged pages only touch timestamps.
	report := svc.RunPass(context.Background())
	if len(report.Changes) != 0 {
		t.Fatalf("unchanged pass produced changes: %+v", report.Changes)
	}

	ps.set("/result", listingPage("Result of MBA Semester 1", "Result of B.Tech Semester 5"))
	report = svc.RunPass(context.Background())
	if len(report.Changes) != 1 {
		t.Fatalf("got %d changes, want 1: %+v", len(report.Changes), report.Changes)
	}
	ch := report.Changes[0]
	if ch.Source != "result" || ch.NotifiedCount != 7 {
		t.Fatalf("unexpected change: %+v", ch)
	}
	if len(notifier.calls) != 1 || notifier.calls[0] != source.KindResult {
		t.Fatalf("unexpected notifier calls: %v", notifier.calls)
	}
	if len(notifier.items[0]) == 0 {
		t.Fatal("notification should carry a preview digest")
	}

	// Same content again: no further notifications.
	report = svc.RunPass(context.Background())
	if len(report.Changes) != 0 || len(notifier.calls) != 1 {
		t.Fatalf("repeat pass re-notified: changes=%v calls=%v", report.Changes, notifier.calls)
	}
}

func TestRunPassUnavailableSourceKeepsState(t *testing.T) {
	t.Parallel()
	ps := newPageServer(t)
	ps.set("/result", listingPage("Result of B.Tech Semester 5"))
	ps.set("/datesheet", listingPage("Datesheet for end term exams"))
	ps.set("/circular", listingPage("Notice regarding fee submission"))

	notifier := &fakeNotifier{}
	svc, store := newPassService(t, ps, notifier)
	svc.RunPass(context.Background())

	before, err := store.GetSourceState(context.Background(), source.KindResult)
	if err != nil {
		t.Fatal(err)
	}

	// Server starts failing for results; the other sources stay up.
	ps.mu.Lock()
	delete(ps.pages, "/result")
	ps.mu.Unlock()

	report := svc.RunPass(context.Background())
	var resultStatus CheckStatus
	for _, c := range report.Checks {
		if c.Source == "result" {
			resultStatus = c.Status
		}
	}
	if resultStatus != StatusUnavailable {
		t.Fatalf("result status = %s, want %s", resultStatus, StatusUnavailable)
	}

	after, err := store.GetSourceState(context.Background(), source.KindResult)
	if err != nil {
		t.Fatal(err)
	}
	if after.Fingerprint != before.Fingerprint {
		t.Fatal("unavailable source must not disturb stored state")
	}
	if len(notifier.calls) != 0 {
		t.Fatalf("outage caused notifications: %v", notifier.calls)
	}
}

func TestRunPassZeroTitlesDegraded(t *testing.T) {
	t.Parallel()
	ps := newPageServer(t)
	ps.set("/result", listingPage("Result of B.Tech Semester 5"))
	ps.set("/datesheet", listingPage("Datesheet for end term exams"))
	ps.set("/circular", listingPage("Notice regarding fee submission"))

	notifier := &fakeNotifier{}
	svc, store := newPassService(t, ps, notifier)
	svc.RunPass(context.Background())

	// Layout break: page comes back with no recognizable listing.
	ps.set("/result", "<html><body><p>under maintenance</p></body></html>")

	report := svc.RunPass(context.Background())
	var resultStatus CheckStatus
	for _, c := range report.Checks {
		if c.Source == "result" {
			resultStatus = c.Status
		}
	}
	if resultStatus != StatusDegraded {
		t.Fatalf("result status = %s, want %s", resultStatus, StatusDegraded)
	}
	if len(notifier.calls) != 0 {
		t.Fatalf("degraded source notified: %v", notifier.calls)
	}

	// Page recovers with the original content: still no change.
	ps.set("/result", listingPage("Result of B.Tech Semester 5"))
	report = svc.RunPass(context.Background())
	if len(report.Changes) != 0 {
		t.Fatalf("recovery flapped a notification: %+v", report.Changes)
	}

	st, err := store.GetSourceState(context.Background(), source.KindResult)
	if err != nil {
		t.Fatal(err)
	}
	if st.Fingerprint == "" {
		t.Fatal("fingerprint lost across degraded pass")
	}
}
