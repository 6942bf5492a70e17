package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"ipuwatch/internal/source"
	"ipuwatch/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		BusyTimeout: time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSourceStateLifecycle(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	if _, err := st.GetSourceState(ctx, source.KindResult); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unseeded source: err = %v, want ErrNotFound", err)
	}

	inserted, err := st.InitSourceState(ctx, source.KindResult, "fp1", now)
	if err != nil {
		t.Fatalf("InitSourceState error: %v", err)
	}
	if !inserted {
		t.Fatal("first init reported not inserted")
	}

	// Second seed loses; the stored fingerprint stays.
	inserted, err = st.InitSourceState(ctx, source.KindResult, "fp-other", now)
	if err != nil {
		t.Fatalf("second InitSourceState error: %v", err)
	}
	if inserted {
		t.Fatal("second init reported inserted")
	}

	got, err := st.GetSourceState(ctx, source.KindResult)
	if err != nil {
		t.Fatalf("GetSourceState error: %v", err)
	}
	if got.Fingerprint != "fp1" {
		t.Fatalf("fingerprint = %q, want fp1", got.Fingerprint)
	}
	if !got.LastCheckedAt.Equal(now.UTC()) {
		t.Fatalf("LastCheckedAt = %v, want %v", got.LastCheckedAt, now.UTC())
	}
}

func TestSwapFingerprintCompareAndSet(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if _, err := st.InitSourceState(ctx, source.KindDatesheet, "fp1", now); err != nil {
		t.Fatal(err)
	}

	swapped, err := st.SwapFingerprint(ctx, source.KindDatesheet, "fp1", "fp2", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("SwapFingerprint error: %v", err)
	}
	if !swapped {
		t.Fatal("swap with matching old fingerprint did not apply")
	}

	// Replaying the same swap must lose: the stored value moved on.
	swapped, err = st.SwapFingerprint(ctx, source.KindDatesheet, "fp1", "fp3", now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("second SwapFingerprint error: %v", err)
	}
	if swapped {
		t.Fatal("stale swap applied")
	}

	got, err := st.GetSourceState(ctx, source.KindDatesheet)
	if err != nil {
		t.Fatal(err)
	}
	if got.Fingerprint != "fp2" {
		t.Fatalf("fingerprint = %q, want fp2", got.Fingerprint)
	}
}

func TestTouchSourceChecked(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	seeded := time.Now().Add(-time.Hour)

	if _, err := st.InitSourceState(ctx, source.KindCircular, "fp1", seeded); err != nil {
		t.Fatal(err)
	}
	touched := time.Now().Truncate(time.Millisecond)
	if err := st.TouchSourceChecked(ctx, source.KindCircular, touched); err != nil {
		t.Fatalf("TouchSourceChecked error: %v", err)
	}

	got, err := st.GetSourceState(ctx, source.KindCircular)
	if err != nil {
		t.Fatal(err)
	}
	if !got.LastCheckedAt.Equal(touched.UTC()) {
		t.Fatalf("LastCheckedAt = %v, want %v", got.LastCheckedAt, touched.UTC())
	}
	if got.Fingerprint != "fp1" {
		t.Fatalf("touch disturbed fingerprint: %+v", got)
	}
	if !got.LastChangedAt.Equal(seeded) {
		t.Fatalf("touch disturbed LastChangedAt: %v, want %v", got.LastChangedAt, seeded)
	}
}

func TestSubscriberLifecycle(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.UpsertSubscriber(ctx, Subscriber{ChatID: 42, Username: "alice", FirstName: "Alice"}); err != nil {
		t.Fatalf("UpsertSubscriber error: %v", err)
	}

	sub, err := st.GetSubscriber(ctx, 42)
	if err != nil {
		t.Fatalf("GetSubscriber error: %v", err)
	}
	if !sub.Active {
		t.Fatal("new subscriber not active")
	}
	if sub.Prefs != AllPreferences() {
		t.Fatalf("new subscriber prefs = %+v, want all on", sub.Prefs)
	}

	// Opt out of one topic, then unsubscribe entirely.
	if err := st.SetSubscriberPref(ctx, 42, source.KindResult, false); err != nil {
		t.Fatal(err)
	}
	if err := st.SetSubscriberActive(ctx, 42, false); err != nil {
		t.Fatal(err)
	}

	subs, err := st.ListActiveSubscribers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 0 {
		t.Fatalf("inactive subscriber still listed: %+v", subs)
	}

	// Re-subscribing reactivates but keeps the tweaked preferences.
	if err := st.UpsertSubscriber(ctx, Subscriber{ChatID: 42, Username: "alice2"}); err != nil {
		t.Fatal(err)
	}
	sub, err = st.GetSubscriber(ctx, 42)
	if err != nil {
		t.Fatal(err)
	}
	if !sub.Active {
		t.Fatal("re-subscribe did not reactivate")
	}
	if sub.Prefs.Result {
		t.Fatal("re-subscribe reset the result preference")
	}
	if sub.Username != "alice2" {
		t.Fatalf("username not refreshed: %q", sub.Username)
	}
}

func TestListActiveSubscribersOrder(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	for _, id := range []int64{30, 10, 20} {
		if err := st.UpsertSubscriber(ctx, Subscriber{ChatID: id}); err != nil {
			t.Fatal(err)
		}
	}
	subs, err := st.ListActiveSubscribers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 3 {
		t.Fatalf("got %d subscribers, want 3", len(subs))
	}
	for i, want := range []int64{10, 20, 30} {
		if subs[i].ChatID != want {
			t.Fatalf("subs[%d].ChatID = %d, want %d", i, subs[i].ChatID, want)
		}
	}
}

func TestDedup(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	seen, err := st.SeenDedup(ctx, "check:t1", now)
	if err != nil {
		t.Fatal(err)
	}
	if seen {
		t.Fatal("unknown key reported seen")
	}

	if err := st.PutDedup(ctx, "check:t1", now.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	seen, err = st.SeenDedup(ctx, "check:t1", now)
	if err != nil {
		t.Fatal(err)
	}
	if !seen {
		t.Fatal("stored key not reported seen")
	}

	// Expired keys stop matching even before they are pruned.
	seen, err = st.SeenDedup(ctx, "check:t1", now.Add(2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if seen {
		t.Fatal("expired key reported seen")
	}
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty path")
	}
}
