package sqlite

// schema is applied on open. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS completed_activities (
		student_id                TEXT    NOT NULL,
		activity_kind             TEXT    NOT NULL,
		reference_id              TEXT    NOT NULL,
		completion_count          INTEGER NOT NULL DEFAULT 1 CHECK (completion_count >= 1),
		best_score                REAL,
		latest_score              REAL,
		cumulative_points_awarded INTEGER NOT NULL DEFAULT 0,
		metadata                  TEXT,
		first_completed_at        TEXT    NOT NULL,
		last_completed_at         TEXT    NOT NULL,
		PRIMARY KEY (student_id, activity_kind, reference_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_completed_activities_recent
		ON completed_activities (student_id, last_completed_at DESC)`,

	`CREATE TABLE IF NOT EXISTS point_transactions (
		seq            INTEGER PRIMARY KEY AUTOINCREMENT,
		id             TEXT    NOT NULL UNIQUE,
		student_id     TEXT    NOT NULL,
		activity_type  TEXT    NOT NULL,
		points_change  INTEGER NOT NULL,
		description    TEXT    NOT NULL DEFAULT '',
		reference_kind TEXT,
		reference_id   TEXT,
		language       TEXT,
		metadata       TEXT,
		created_at     TEXT    NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_point_transactions_student
		ON point_transactions (student_id, created_at DESC)`,
	`CREATE TRIGGER IF NOT EXISTS point_transactions_no_update
		BEFORE UPDATE ON point_transactions
		BEGIN SELECT RAISE(ABORT, 'point_transactions is append-only'); END`,
	`CREATE TRIGGER IF NOT EXISTS point_transactions_no_delete
		BEFORE DELETE ON point_transactions
		BEGIN SELECT RAISE(ABORT, 'point_transactions is append-only'); END`,

	`CREATE TABLE IF NOT EXISTS learning_streaks (
		student_id         TEXT    PRIMARY KEY,
		current_streak     INTEGER NOT NULL DEFAULT 0 CHECK (current_streak >= 0),
		longest_streak     INTEGER NOT NULL DEFAULT 0,
		last_activity_date TEXT,
		total_points       INTEGER NOT NULL DEFAULT 0,
		updated_at         TEXT    NOT NULL,
		CHECK (current_streak <= longest_streak)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_learning_streaks_total
		ON learning_streaks (total_points DESC, student_id)`,

	`CREATE TABLE IF NOT EXISTS achievements (
		id               TEXT    PRIMARY KEY,
		student_id       TEXT    NOT NULL,
		achievement_type TEXT    NOT NULL,
		title            TEXT    NOT NULL,
		description      TEXT    NOT NULL DEFAULT '',
		icon             TEXT    NOT NULL DEFAULT '',
		points_earned    INTEGER NOT NULL DEFAULT 0,
		earned_at        TEXT    NOT NULL,
		UNIQUE (student_id, achievement_type)
	)`,

	`CREATE TABLE IF NOT EXISTS daily_activity_summaries (
		student_id           TEXT    NOT NULL,
		date                 TEXT    NOT NULL,
		points_earned        INTEGER NOT NULL DEFAULT 0,
		lessons_completed    INTEGER NOT NULL DEFAULT 0,
		quizzes_completed    INTEGER NOT NULL DEFAULT 0,
		vocabulary_practiced INTEGER NOT NULL DEFAULT 0,
		games_played         INTEGER NOT NULL DEFAULT 0,
		minutes_spent        INTEGER NOT NULL DEFAULT 0,
		languages_practiced  TEXT    NOT NULL DEFAULT '[]',
		PRIMARY KEY (student_id, date)
	)`,
}
