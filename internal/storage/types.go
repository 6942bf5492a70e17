package storage

import (
	"errors"
	"time"

	"ipuwatch/internal/source"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("storage: not found")
)

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// SourceState is the durable record of one monitored source.
// A row exists only after the first successful check; Fingerprint is never
// empty once the row exists.
type SourceState struct {
	Kind          source.Kind
	Fingerprint   string
	LastCheckedAt time.Time
	LastChangedAt time.Time
}

// Preferences holds the per-topic opt-ins. New subscribers default to all true.
type Preferences struct {
	Result    bool
	Datesheet bool
	Circular  bool
}

func AllPreferences() Preferences {
	return Preferences{Result: true, Datesheet: true, Circular: true}
}

// Wants reports whether the given source kind is enabled.
func (p Preferences) Wants(kind source.Kind) bool {
	switch kind {
	case source.KindResult:
		return p.Result
	case source.KindDatesheet:
		return p.Datesheet
	case source.KindCircular:
		return p.Circular
	}
	return false
}

// Subscriber is one Telegram chat that opted in. Subscribers are never
// hard-deleted; opt-out and permanent delivery failures flip Active off.
type Subscriber struct {
	ChatID       int64
	Username     string
	FirstName    string
	Active       bool
	Prefs        Preferences
	SubscribedAt time.Time
}
