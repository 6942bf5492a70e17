package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"ipuwatch/internal/source"
	"ipuwatch/pkg/logx"
)

// Store is the persistence API used by the pipeline and the bot commands.
type Store interface {
	// GetSourceState returns the stored state for kind, or ErrNotFound if
	// the source has never been successfully checked.
	GetSourceState(ctx context.Context, kind source.Kind) (SourceState, error)

	// InitSourceState inserts the first fingerprint for kind. It reports
	// whether this call created the row; a concurrent pass may have won.
	InitSourceState(ctx context.Context, kind source.Kind, fingerprint string, now time.Time) (bool, error)

	// SwapFingerprint atomically replaces oldFP with newFP for kind and
	// stamps the change time. It reports whether the swap applied; false
	// means the stored fingerprint no longer equals oldFP (a concurrent
	// pass won).
	SwapFingerprint(ctx context.Context, kind source.Kind, oldFP, newFP string, now time.Time) (bool, error)

	// TouchSourceChecked updates only the last-checked timestamp.
	TouchSourceChecked(ctx context.Context, kind source.Kind, now time.Time) error

	// UpsertSubscriber creates the subscriber with default preferences or,
	// if it already exists, reactivates it without touching preferences.
	UpsertSubscriber(ctx context.Context, sub Subscriber) error
	SetSubscriberActive(ctx context.Context, chatID int64, active bool) error
	SetSubscriberPref(ctx context.Context, chatID int64, kind source.Kind, enabled bool) error
	GetSubscriber(ctx context.Context, chatID int64) (Subscriber, error)
	ListActiveSubscribers(ctx context.Context) ([]Subscriber, error)

	// SeenDedup reports whether key is present and unexpired.
	SeenDedup(ctx context.Context, key string, now time.Time) (bool, error)
	// PutDedup records key until the given time. Expired keys are pruned
	// opportunistically.
	PutDedup(ctx context.Context, key string, until time.Time) error

	Close() error
}

// Open initializes the sqlite store at cfg.Path.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return openSQLite(cfg, log)
}
