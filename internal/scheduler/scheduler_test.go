package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"ipuwatch/pkg/logx"
)

func TestWithDefaults(t *testing.T) {
	t.Parallel()
	cfg := Config{}.withDefaults()
	if cfg.Spec != "*/2 * * * *" {
		t.Fatalf("Spec = %q", cfg.Spec)
	}
	if cfg.Timezone != "Asia/Kolkata" {
		t.Fatalf("Timezone = %q", cfg.Timezone)
	}
	if cfg.PassTimeout != 2*time.Minute {
		t.Fatalf("PassTimeout = %v", cfg.PassTimeout)
	}
}

func TestStartRejectsBadSpec(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Spec: "not a cron spec"}, logx.Nop(), func(context.Context) {})
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
}

func TestStartRejectsBadTimezone(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Timezone: "Mars/Olympus"}, logx.Nop(), func(context.Context) {})
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

func TestDisabledSchedulerDoesNothing(t *testing.T) {
	t.Parallel()
	ran := false
	s := New(Config{Enabled: false, Spec: "* * * * *"}, logx.Nop(), func(context.Context) { ran = true })
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	s.Stop(context.Background())
	if ran {
		t.Fatal("disabled scheduler ran the job")
	}
}

// A tick arriving while the previous pass still runs is skipped, not queued.
func TestTickSkipsWhileRunning(t *testing.T) {
	t.Parallel()
	var (
		mu    sync.Mutex
		runs  int
		block = make(chan struct{})
	)
	s := New(Config{Enabled: true, PassTimeout: time.Second}, logx.Nop(), func(context.Context) {
		mu.Lock()
		runs++
		mu.Unlock()
		<-block
	})
	s.runCtx = context.Background()

	done := make(chan struct{})
	go func() {
		s.tick()
		close(done)
	}()

	// Wait for the first tick to be inside the job.
	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := runs
		mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first tick never started")
		case <-time.After(time.Millisecond):
		}
	}

	// Overlapping tick returns immediately without running the job.
	s.tick()
	mu.Lock()
	n := runs
	mu.Unlock()
	if n != 1 {
		t.Fatalf("overlapping tick ran the job (%d runs)", n)
	}

	close(block)
	<-done

	// With the first pass finished the next tick runs again.
	s.tick()
	mu.Lock()
	n = runs
	mu.Unlock()
	if n != 2 {
		t.Fatalf("follow-up tick did not run (%d runs)", n)
	}
}

func TestJobContextBoundedByPassTimeout(t *testing.T) {
	t.Parallel()
	var deadlineSet bool
	s := New(Config{Enabled: true, PassTimeout: 30 * time.Second}, logx.Nop(), func(ctx context.Context) {
		_, deadlineSet = ctx.Deadline()
	})
	s.runCtx = context.Background()
	s.tick()
	if !deadlineSet {
		t.Fatal("job context has no deadline")
	}
}
