package watch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"ipuwatch/internal/source"
	"ipuwatch/pkg/logx"
)

// Notifier delivers a change notification to subscribers and reports how
// many deliveries succeeded. Implemented by the dispatch service.
type Notifier interface {
	NotifyChange(ctx context.Context, p source.Profile, items []Item) (int, error)
}

// Check summarizes one non-changed source check within a pass.
type Check struct {
	Source string      `json:"source"`
	Status CheckStatus `json:"status"`
}

// Change summarizes one detected change within a pass.
type Change struct {
	Source         string `json:"source"`
	NotifiedCount  int    `json:"notified_count"`
	NewFingerprint string `json:"new_fingerprint"`
}

// PassReport is the structured summary of one full pass, returned to the
// HTTP trigger and logged by the scheduler.
type PassReport struct {
	PassID    string    `json:"pass_id"`
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
	Changes   []Change  `json:"changes"`
	Checks    []Check   `json:"checks"`
}

// Service runs the detection pipeline across all monitored sources.
type Service struct {
	registry *source.Registry
	fetcher  *Fetcher
	detector *Detector
	notifier Notifier
	log      logx.Logger
}

func NewService(reg *source.Registry, f *Fetcher, d *Detector, n Notifier, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{registry: reg, fetcher: f, detector: d, notifier: n, log: log}
}

// RunPass checks every monitored source sequentially. Each source's
// detect-and-persist step is independent, so a pass abandoned mid-way by
// ctx cancellation is safe; the skipped sources are reported unavailable.
//
// RunPass is itself idempotent: re-running against unchanged pages only
// touches check timestamps.
func (s *Service) RunPass(ctx context.Context) PassReport {
	start := time.Now()
	report := PassReport{
		PassID:    uuid.NewString(),
		StartedAt: start,
		Changes:   []Change{},
		Checks:    []Check{},
	}
	log := s.log.With(logx.String("pass", report.PassID))
	log.Info("pass started", logx.Int("sources", len(s.registry.All())))

	for _, p := range s.registry.All() {
		if ctx.Err() != nil {
			log.Warn("pass deadline hit, abandoning remaining sources")
			report.Checks = append(report.Checks, Check{Source: string(p.Kind), Status: StatusUnavailable})
			continue
		}
		s.checkSource(ctx, log, p, &report)
	}

	report.Duration = time.Since(start).String()
	log.Info("pass finished",
		logx.Int("changes", len(report.Changes)),
		logx.Duration("dur", time.Since(start)))
	return report
}

func (s *Service) checkSource(ctx context.Context, log logx.Logger, p source.Profile, report *PassReport) {
	slog := log.With(logx.String("source", string(p.Kind)))

	body, err := s.fetcher.Fetch(ctx, p.URL)
	if err != nil {
		// Fetch failure degrades to "no data this pass"; stored state stays
		// untouched so the next tick compares against the same baseline.
		slog.Warn("fetch failed, skipping source", logx.Err(err))
		report.Checks = append(report.Checks, Check{Source: string(p.Kind), Status: StatusUnavailable})
		return
	}

	titles, err := ExtractTitles(body, p)
	if err != nil {
		slog.Warn("extraction failed, skipping source", logx.Err(err))
		report.Checks = append(report.Checks, Check{Source: string(p.Kind), Status: StatusUnavailable})
		return
	}
	if len(titles) == 0 {
		// Zero titles means the layout changed or the page is temporarily
		// hollow. Comparing an empty fingerprint would either mask an outage
		// as a change or flap back and forth when the page recovers.
		slog.Warn("extraction yielded zero titles, treating as degraded")
		report.Checks = append(report.Checks, Check{Source: string(p.Kind), Status: StatusDegraded})
		return
	}

	status, event, err := s.detector.Observe(ctx, p.Kind, Fingerprint(titles))
	if err != nil {
		// Persistence failure: do not notify without a durably recorded
		// fingerprint, or every next tick repeats the same notification.
		slog.Error("state persistence failed, notification aborted", logx.Err(err))
		report.Checks = append(report.Checks, Check{Source: string(p.Kind), Status: StatusUnavailable})
		return
	}
	if status != StatusChanged {
		report.Checks = append(report.Checks, Check{Source: string(p.Kind), Status: status})
		return
	}

	notified := s.notify(ctx, slog, p, event)
	report.Changes = append(report.Changes, Change{
		Source:         string(p.Kind),
		NotifiedCount:  notified,
		NewFingerprint: event.NewFingerprint,
	})
}

// notify builds the preview digest and fans the notification out. The
// fingerprint is already persisted at this point; delivery problems must
// not fail the check.
func (s *Service) notify(ctx context.Context, slog logx.Logger, p source.Profile, event *ChangeEvent) int {
	items, err := BuildPreview(ctx, s.fetcher, p)
	if err != nil {
		if !errors.Is(err, ErrUnavailable) {
			slog.Warn("preview build failed", logx.Err(err))
		}
		// Send without a digest rather than not at all.
		items = nil
	}

	notified, err := s.notifier.NotifyChange(ctx, p, items)
	if err != nil {
		slog.Error("dispatch failed", logx.Err(err))
		return notified
	}
	slog.Info("subscribers notified",
		logx.Int("count", notified),
		logx.String("fingerprint", short(event.NewFingerprint)))
	return notified
}
