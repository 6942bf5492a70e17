package watch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ipuwatch/internal/source"
	"ipuwatch/internal/storage"
	"ipuwatch/pkg/logx"
)

// CheckStatus classifies the outcome of one source check.
type CheckStatus string

const (
	// StatusInitialized is the first successful check of a source. The
	// fingerprint is seeded and nobody is notified.
	StatusInitialized CheckStatus = "initialized"
	// StatusNoChange means the fingerprint matched the stored one.
	StatusNoChange CheckStatus = "no_change"
	// StatusChanged means the fingerprint differed and this pass won the
	// compare-and-set; a ChangeEvent was produced.
	StatusChanged CheckStatus = "changed"
	// StatusDegraded means extraction yielded zero titles. Stored state is
	// left untouched: an empty page is more likely a layout change or an
	// outage than a real removal of every listing at once.
	StatusDegraded CheckStatus = "degraded"
	// StatusUnavailable means the page could not be fetched this pass.
	StatusUnavailable CheckStatus = "unavailable"
)

// ChangeEvent describes one detected change. It is ephemeral: produced by
// the detector, consumed by the dispatcher, kept only in logs.
type ChangeEvent struct {
	Kind                source.Kind
	PreviousFingerprint string
	NewFingerprint      string
	DetectedAt          time.Time
}

// Detector runs the per-source state machine
// UNSEEN -> INITIALIZED -> (UNCHANGED <-> CHANGED) against the store.
//
// The new fingerprint is always persisted before the caller may dispatch;
// a crash after persistence loses at most one notification, which beats
// notifying twice on every tick after a crash.
type Detector struct {
	store storage.Store
	log   logx.Logger
	now   func() time.Time
}

func NewDetector(store storage.Store, log logx.Logger) *Detector {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Detector{store: store, log: log, now: time.Now}
}

// Observe feeds one freshly computed fingerprint into the state machine.
// It returns a non-nil ChangeEvent only for StatusChanged. An error means
// state could not be persisted; the caller must not notify.
func (d *Detector) Observe(ctx context.Context, kind source.Kind, fingerprint string) (CheckStatus, *ChangeEvent, error) {
	now := d.now()

	prev, err := d.store.GetSourceState(ctx, kind)
	if errors.Is(err, storage.ErrNotFound) {
		inserted, err := d.store.InitSourceState(ctx, kind, fingerprint, now)
		if err != nil {
			return "", nil, fmt.Errorf("seed %s: %w", kind, err)
		}
		if !inserted {
			// A concurrent pass seeded first. Either way the source is now
			// initialized and seeding never notifies.
			d.log.Debug("lost seed race", logx.String("source", string(kind)))
		}
		d.log.Info("source initialized",
			logx.String("source", string(kind)),
			logx.String("fingerprint", short(fingerprint)))
		return StatusInitialized, nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("load state %s: %w", kind, err)
	}

	if prev.Fingerprint == fingerprint {
		if err := d.store.TouchSourceChecked(ctx, kind, now); err != nil {
			// Only the check timestamp is stale; detection is unaffected.
			d.log.Warn("touch failed", logx.String("source", string(kind)), logx.Err(err))
		}
		return StatusNoChange, nil, nil
	}

	swapped, err := d.store.SwapFingerprint(ctx, kind, prev.Fingerprint, fingerprint, now)
	if err != nil {
		return "", nil, fmt.Errorf("persist %s: %w", kind, err)
	}
	if !swapped {
		// A concurrent pass already recorded a change for this source; it
		// owns the notification.
		d.log.Info("lost change race, skipping notify", logx.String("source", string(kind)))
		return StatusNoChange, nil, nil
	}

	d.log.Info("change detected",
		logx.String("source", string(kind)),
		logx.String("old", short(prev.Fingerprint)),
		logx.String("new", short(fingerprint)))

	return StatusChanged, &ChangeEvent{
		Kind:                kind,
		PreviousFingerprint: prev.Fingerprint,
		NewFingerprint:      fingerprint,
		DetectedAt:          now,
	}, nil
}

// short truncates a fingerprint for logging.
func short(fp string) string {
	if len(fp) > 8 {
		return fp[:8]
	}
	return fp
}
