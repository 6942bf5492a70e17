package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"ipuwatch/internal/source"
	"ipuwatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := cfg.Path
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- source state ----

func (s *sqliteStore) GetSourceState(ctx context.Context, kind source.Kind) (SourceState, error) {
	var (
		st              SourceState
		checked, change string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT fingerprint, last_checked_at, last_changed_at FROM sources WHERE kind = ?`,
		string(kind),
	).Scan(&st.Fingerprint, &checked, &change)
	if errors.Is(err, sql.ErrNoRows) {
		return SourceState{}, ErrNotFound
	}
	if err != nil {
		return SourceState{}, err
	}
	st.Kind = kind
	st.LastCheckedAt = parseTime(checked)
	st.LastChangedAt = parseTime(change)
	return st, nil
}

func (s *sqliteStore) InitSourceState(ctx context.Context, kind source.Kind, fingerprint string, now time.Time) (bool, error) {
	if fingerprint == "" {
		return false, errors.New("empty fingerprint")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sources(kind, fingerprint, last_checked_at, last_changed_at)
		 VALUES(?,?,?,?)
		 ON CONFLICT(kind) DO NOTHING`,
		string(kind), fingerprint, fmtTime(now), fmtTime(now),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sqliteStore) SwapFingerprint(ctx context.Context, kind source.Kind, oldFP, newFP string, now time.Time) (bool, error) {
	if newFP == "" {
		return false, errors.New("empty fingerprint")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources
		 SET fingerprint = ?, last_checked_at = ?, last_changed_at = ?
		 WHERE kind = ? AND fingerprint = ?`,
		newFP, fmtTime(now), fmtTime(now), string(kind), oldFP,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sqliteStore) TouchSourceChecked(ctx context.Context, kind source.Kind, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sources SET last_checked_at = ? WHERE kind = ?`,
		fmtTime(now), string(kind),
	)
	return err
}

// ---- subscribers ----

func (s *sqliteStore) UpsertSubscriber(ctx context.Context, sub Subscriber) error {
	at := sub.SubscribedAt
	if at.IsZero() {
		at = time.Now()
	}
	// New rows get default (all-on) preferences; existing rows keep theirs
	// and are only reactivated.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers(chat_id, username, first_name, active, pref_result, pref_datesheet, pref_circular, subscribed_at)
		 VALUES(?,?,?,1,1,1,1,?)
		 ON CONFLICT(chat_id) DO UPDATE SET
		   active = 1,
		   username = excluded.username,
		   first_name = excluded.first_name`,
		sub.ChatID, nullStr(sub.Username), nullStr(sub.FirstName), fmtTime(at),
	)
	return err
}

func (s *sqliteStore) SetSubscriberActive(ctx context.Context, chatID int64, active bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscribers SET active = ? WHERE chat_id = ?`,
		boolInt(active), chatID,
	)
	return err
}

func (s *sqliteStore) SetSubscriberPref(ctx context.Context, chatID int64, kind source.Kind, enabled bool) error {
	col, err := prefColumn(kind)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE subscribers SET `+col+` = ? WHERE chat_id = ?`,
		boolInt(enabled), chatID,
	)
	return err
}

func prefColumn(kind source.Kind) (string, error) {
	switch kind {
	case source.KindResult:
		return "pref_result", nil
	case source.KindDatesheet:
		return "pref_datesheet", nil
	case source.KindCircular:
		return "pref_circular", nil
	}
	return "", fmt.Errorf("storage: no preference column for kind %q", kind)
}

func (s *sqliteStore) GetSubscriber(ctx context.Context, chatID int64) (Subscriber, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT chat_id, username, first_name, active, pref_result, pref_datesheet, pref_circular, subscribed_at
		 FROM subscribers WHERE chat_id = ?`, chatID)
	sub, err := scanSubscriber(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Subscriber{}, ErrNotFound
	}
	return sub, err
}

func (s *sqliteStore) ListActiveSubscribers(ctx context.Context) ([]Subscriber, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, username, first_name, active, pref_result, pref_datesheet, pref_circular, subscribed_at
		 FROM subscribers WHERE active = 1 ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscriber(r rowScanner) (Subscriber, error) {
	var (
		sub                 Subscriber
		username, firstName sql.NullString
		active, pr, pd, pc  int
		subscribedAt        string
	)
	if err := r.Scan(&sub.ChatID, &username, &firstName, &active, &pr, &pd, &pc, &subscribedAt); err != nil {
		return Subscriber{}, err
	}
	sub.Username = username.String
	sub.FirstName = firstName.String
	sub.Active = active == 1
	sub.Prefs = Preferences{Result: pr == 1, Datesheet: pd == 1, Circular: pc == 1}
	sub.SubscribedAt = parseTime(subscribedAt)
	return sub, nil
}

// ---- dedup ----

func (s *sqliteStore) SeenDedup(ctx context.Context, key string, now time.Time) (bool, error) {
	if key == "" {
		return false, nil
	}
	var until int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&until)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return now.UnixMilli() < until, nil
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until = excluded.until`,
		key, until.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		s.pruneExpired(pctx)
		cancel()
	}
	return err
}

func (s *sqliteStore) pruneExpired(ctx context.Context) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, time.Now().UnixMilli())
	if err != nil {
		s.log.Debug("dedup prune failed", logx.Err(err))
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.log.Debug("dedup pruned", logx.Int64("rows", n))
	}
}

// ---- helpers ----

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
