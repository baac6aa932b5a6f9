package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrMigrationFailed wraps every migration error.
var ErrMigrationFailed = errors.New("postgres: migration failed")

// Migration is one versioned schema change.
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// MigrationStatus pairs a migration with its applied time, nil if pending.
type MigrationStatus struct {
	Migration
	AppliedAt *time.Time
}

// migrationLockKey serializes migrators of every process sharing a database.
const migrationLockKey int64 = 0x73636f72696e67 // "scoring"

var migrations = []Migration{
	{Version: 1, Name: "create_completion_ledger", Up: migration001Up, Down: migration001Down},
	{Version: 2, Name: "create_streaks_and_achievements", Up: migration002Up, Down: migration002Down},
}

// Migrations returns the embedded migrations in version order.
func Migrations() []Migration {
	return append([]Migration(nil), migrations...)
}

// Migrator applies the embedded migrations and records them in
// schema_migrations.
type Migrator struct {
	conn *Connection
}

// NewMigrator creates a migrator for conn.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn}
}

// Migrate applies pending migrations, each in its own transaction, while
// holding a session advisory lock.
func (m *Migrator) Migrate(ctx context.Context) error {
	return m.locked(ctx, func(ctx context.Context) error {
		applied, err := m.applied(ctx)
		if err != nil {
			return err
		}
		for _, mig := range migrations {
			if _, ok := applied[mig.Version]; ok {
				continue
			}
			err := m.conn.WithTx(ctx, readCommitted, func(tx pgx.Tx) error {
				if _, err := tx.Exec(ctx, mig.Up); err != nil {
					return err
				}
				_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, mig.Version, mig.Name)
				return err
			})
			if err != nil {
				return fmt.Errorf("%w: %03d_%s: %v", ErrMigrationFailed, mig.Version, mig.Name, err)
			}
		}
		return nil
	})
}

// Rollback reverts the most recently applied migration, if any.
func (m *Migrator) Rollback(ctx context.Context) error {
	return m.locked(ctx, func(ctx context.Context) error {
		applied, err := m.applied(ctx)
		if err != nil {
			return err
		}
		for i := len(migrations) - 1; i >= 0; i-- {
			mig := migrations[i]
			if _, ok := applied[mig.Version]; !ok {
				continue
			}
			err := m.conn.WithTx(ctx, readCommitted, func(tx pgx.Tx) error {
				if _, err := tx.Exec(ctx, mig.Down); err != nil {
					return err
				}
				_, err := tx.Exec(ctx, `DELETE FROM schema_migrations WHERE version = $1`, mig.Version)
				return err
			})
			if err != nil {
				return fmt.Errorf("%w: rollback %03d_%s: %v", ErrMigrationFailed, mig.Version, mig.Name, err)
			}
			return nil
		}
		return nil
	})
}

// Status lists every embedded migration with its applied time.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]MigrationStatus, 0, len(migrations))
	for _, mig := range migrations {
		st := MigrationStatus{Migration: mig}
		if at, ok := applied[mig.Version]; ok {
			st.AppliedAt = &at
		}
		out = append(out, st)
	}
	return out, nil
}

// locked runs fn on one pooled connection holding the migration lock.
func (m *Migrator) locked(ctx context.Context, fn func(ctx context.Context) error) error {
	pc, err := m.conn.Pool().Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: acquire: %v", ErrMigrationFailed, err)
	}
	defer pc.Release()

	if _, err := pc.Exec(ctx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("%w: lock: %v", ErrMigrationFailed, err)
	}
	defer func() {
		_, _ = pc.Exec(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, migrationLockKey)
	}()

	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	return fn(ctx)
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return fmt.Errorf("%w: create schema_migrations: %v", ErrMigrationFailed, err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.conn.Query(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("%w: read schema_migrations: %v", ErrMigrationFailed, err)
	}
	defer rows.Close()

	out := make(map[int]time.Time)
	for rows.Next() {
		var (
			version int
			at      time.Time
		)
		if err := rows.Scan(&version, &at); err != nil {
			return nil, err
		}
		out[version] = at
	}
	return out, rows.Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: COMPLETION LEDGER AND POINT LOG
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create completion ledger and point transaction log
-- Version: 001

CREATE TABLE IF NOT EXISTS completed_activities (
    student_id                TEXT NOT NULL,
    activity_kind             TEXT NOT NULL,
    reference_id              TEXT NOT NULL,
    completion_count          INTEGER NOT NULL DEFAULT 1,
    best_score                DOUBLE PRECISION,
    latest_score              DOUBLE PRECISION,
    cumulative_points_awarded INTEGER NOT NULL DEFAULT 0,
    metadata                  JSONB,
    first_completed_at        TIMESTAMP WITH TIME ZONE NOT NULL,
    last_completed_at         TIMESTAMP WITH TIME ZONE NOT NULL,

    PRIMARY KEY (student_id, activity_kind, reference_id),
    CONSTRAINT valid_completion_count CHECK (completion_count >= 1)
);

CREATE INDEX IF NOT EXISTS idx_completed_activities_recent
    ON completed_activities (student_id, last_completed_at DESC);

CREATE TABLE IF NOT EXISTS point_transactions (
    seq            BIGSERIAL PRIMARY KEY,
    id             TEXT NOT NULL UNIQUE,
    student_id     TEXT NOT NULL,
    activity_type  TEXT NOT NULL,
    points_change  INTEGER NOT NULL,
    description    TEXT NOT NULL DEFAULT '',
    reference_kind TEXT,
    reference_id   TEXT,
    language       TEXT,
    metadata       JSONB,
    created_at     TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_point_transactions_student
    ON point_transactions (student_id, created_at DESC);

-- The log is append-only.
CREATE OR REPLACE FUNCTION reject_point_transaction_change() RETURNS trigger AS $$
BEGIN
    RAISE EXCEPTION 'point_transactions is append-only';
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS point_transactions_append_only ON point_transactions;
CREATE TRIGGER point_transactions_append_only
    BEFORE UPDATE OR DELETE ON point_transactions
    FOR EACH ROW EXECUTE FUNCTION reject_point_transaction_change();
`

const migration001Down = `
DROP TRIGGER IF EXISTS point_transactions_append_only ON point_transactions;
DROP FUNCTION IF EXISTS reject_point_transaction_change();
DROP TABLE IF EXISTS point_transactions;
DROP TABLE IF EXISTS completed_activities;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: STREAKS, ACHIEVEMENTS, DAILY SUMMARIES
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create streaks, achievements and daily summaries
-- Version: 002

CREATE TABLE IF NOT EXISTS learning_streaks (
    student_id         TEXT PRIMARY KEY,
    current_streak     INTEGER NOT NULL DEFAULT 0,
    longest_streak     INTEGER NOT NULL DEFAULT 0,
    last_activity_date DATE,
    total_points       INTEGER NOT NULL DEFAULT 0,
    updated_at         TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_current_streak CHECK (current_streak >= 0),
    CONSTRAINT valid_streak_order CHECK (current_streak <= longest_streak)
);

CREATE INDEX IF NOT EXISTS idx_learning_streaks_total
    ON learning_streaks (total_points DESC, student_id);

CREATE TABLE IF NOT EXISTS achievements (
    seq              BIGSERIAL PRIMARY KEY,
    id               TEXT NOT NULL UNIQUE,
    student_id       TEXT NOT NULL,
    achievement_type TEXT NOT NULL,
    title            TEXT NOT NULL,
    description      TEXT NOT NULL DEFAULT '',
    icon             TEXT NOT NULL DEFAULT '',
    points_earned    INTEGER NOT NULL DEFAULT 0,
    earned_at        TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT unique_student_achievement UNIQUE (student_id, achievement_type)
);

CREATE TABLE IF NOT EXISTS daily_activity_summaries (
    student_id           TEXT NOT NULL,
    date                 DATE NOT NULL,
    points_earned        INTEGER NOT NULL DEFAULT 0,
    lessons_completed    INTEGER NOT NULL DEFAULT 0,
    quizzes_completed    INTEGER NOT NULL DEFAULT 0,
    vocabulary_practiced INTEGER NOT NULL DEFAULT 0,
    games_played         INTEGER NOT NULL DEFAULT 0,
    minutes_spent        INTEGER NOT NULL DEFAULT 0,
    languages_practiced  TEXT[] NOT NULL DEFAULT '{}',

    PRIMARY KEY (student_id, date)
);
`

const migration002Down = `
DROP TABLE IF EXISTS daily_activity_summaries;
DROP TABLE IF EXISTS achievements;
DROP TABLE IF EXISTS learning_streaks;
`
