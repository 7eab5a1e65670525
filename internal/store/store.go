// Package store is the canonical task store, backed by SQLite. Uniqueness
// constraints on (user, source, external_id) and on non-dismissed
// notification reservations are the primary concurrency control.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dohr-michael/dayflow/internal/clock"
)

// Store wraps the SQLite database.
type Store struct {
	db    *sql.DB
	clk   clock.Clock
	codec *tokenCodec // nil: tokens stored in the clear (tests)
}

// Option customizes a Store.
type Option func(*Store)

// WithClock injects a clock (tests).
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clk = c }
}

// WithTokenKey enables at-rest encryption of credential tokens using the age
// identity at keyPath. The key file is created on first use.
func WithTokenKey(keyPath string) Option {
	return func(s *Store) { s.codec = &tokenCodec{keyPath: keyPath} }
}

// Open opens (creating if needed) the database at path and runs migrations.
func Open(path string, opts ...Option) (*Store, error) {
	// busy_timeout lets concurrent reservation attempts queue instead of
	// failing with SQLITE_BUSY.
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	s := &Store{db: db, clk: clock.System{}}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	if s.codec != nil {
		if err := s.codec.init(); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) now() time.Time { return s.clk.Now().UTC() }

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id                  TEXT PRIMARY KEY,
	user_id             TEXT NOT NULL,
	source              TEXT NOT NULL,
	title               TEXT NOT NULL,
	description         TEXT NOT NULL DEFAULT '',
	start_time          TEXT NOT NULL,
	end_time            TEXT NOT NULL,
	attendees           TEXT NOT NULL DEFAULT '[]',
	location            TEXT NOT NULL DEFAULT '',
	recurrence          TEXT NOT NULL DEFAULT '',
	priority            TEXT NOT NULL DEFAULT 'normal',
	is_critical         INTEGER NOT NULL DEFAULT 0,
	is_urgent           INTEGER NOT NULL DEFAULT 0,
	is_spam             INTEGER NOT NULL DEFAULT 0,
	spam_reason         TEXT NOT NULL DEFAULT '',
	spam_score          REAL NOT NULL DEFAULT 0,
	is_completed        INTEGER NOT NULL DEFAULT 0,
	completed_at        TEXT,
	raw_payload         BLOB,
	external_id         TEXT,
	sync_status         TEXT NOT NULL DEFAULT 'synced',
	sync_direction      TEXT NOT NULL DEFAULT 'inbound',
	last_synced_at      TEXT,
	external_updated_at TEXT,
	sync_error          TEXT NOT NULL DEFAULT '',
	last_sync_attempt   TEXT,
	sync_attempts       INTEGER NOT NULL DEFAULT 0,
	created_at          TEXT NOT NULL,
	updated_at          TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_tasks_external
	ON tasks(user_id, source, external_id)
	WHERE external_id IS NOT NULL AND external_id != '';
CREATE INDEX IF NOT EXISTS ix_tasks_user_start ON tasks(user_id, start_time);

CREATE TABLE IF NOT EXISTS reminders (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	source      TEXT NOT NULL,
	title       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	start_time  TEXT NOT NULL,
	end_time    TEXT NOT NULL,
	is_all_day  INTEGER NOT NULL DEFAULT 0,
	external_id TEXT,
	raw_payload BLOB,
	created_at  TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_reminders_external
	ON reminders(user_id, source, external_id)
	WHERE external_id IS NOT NULL AND external_id != '';

CREATE TABLE IF NOT EXISTS energy_levels (
	user_id TEXT NOT NULL,
	date    TEXT NOT NULL,
	level   INTEGER NOT NULL,
	PRIMARY KEY (user_id, date)
);

CREATE TABLE IF NOT EXISTS daily_plans (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	plan_date    TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'active',
	energy_level INTEGER NOT NULL DEFAULT 0,
	entries      TEXT NOT NULL DEFAULT '[]',
	generated_at TEXT NOT NULL,
	UNIQUE (user_id, plan_date)
);

CREATE TABLE IF NOT EXISTS task_feedback (
	id                      TEXT PRIMARY KEY,
	user_id                 TEXT NOT NULL,
	task_id                 TEXT NOT NULL,
	plan_id                 TEXT,
	action                  TEXT NOT NULL,
	snooze_duration_minutes INTEGER NOT NULL DEFAULT 0,
	feedback_at             TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS ix_feedback_user_at ON task_feedback(user_id, feedback_at);

CREATE TABLE IF NOT EXISTS notifications (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	task_id      TEXT NOT NULL,
	plan_id      TEXT NOT NULL DEFAULT '',
	type         TEXT NOT NULL DEFAULT 'nudge',
	message      TEXT NOT NULL,
	scheduled_at TEXT NOT NULL,
	sent_at      TEXT,
	status       TEXT NOT NULL DEFAULT 'pending',
	created_at   TEXT NOT NULL
);
-- The at-most-once guard: one live reservation per (user, task, plan).
CREATE UNIQUE INDEX IF NOT EXISTS ux_notifications_reservation
	ON notifications(user_id, task_id, plan_id)
	WHERE status != 'dismissed';

CREATE TABLE IF NOT EXISTS task_dependencies (
	task_id            TEXT NOT NULL,
	blocked_by_task_id TEXT NOT NULL,
	type               TEXT NOT NULL DEFAULT 'blocks',
	PRIMARY KEY (task_id, blocked_by_task_id)
);

CREATE TABLE IF NOT EXISTS credentials (
	user_id       TEXT NOT NULL,
	provider      TEXT NOT NULL,
	access_token  TEXT NOT NULL,
	refresh_token TEXT NOT NULL DEFAULT '',
	expiry        TEXT NOT NULL,
	scopes        TEXT NOT NULL DEFAULT '[]',
	revoked       INTEGER NOT NULL DEFAULT 0,
	updated_at    TEXT NOT NULL,
	PRIMARY KEY (user_id, provider)
);
`

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}
	return nil
}

// withTx runs fn inside a transaction, committing on nil error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
