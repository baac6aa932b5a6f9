// Package sqlite implements the scoring store on an embedded SQLite database.
// All writes go through one connection, so units of work are serialized and
// begin with BEGIN IMMEDIATE.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/alem-hub/scoring-engine/internal/domain/scoring"
	"github.com/alem-hub/scoring-engine/internal/domain/shared"
	"github.com/alem-hub/scoring-engine/pkg/timeutil"
)

// tsLayout is fixed width so that stored timestamps sort lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// Config holds SQLite options.
type Config struct {
	// Path is a file path or ":memory:". A memory database lives as long
	// as the store's single connection.
	Path string

	// BusyTimeout is how long a statement waits for a lock.
	BusyTimeout time.Duration
}

// Store implements scoring.Store on SQLite.
type Store struct {
	db *sqlx.DB
}

// Open connects to the database and applies the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		cfg.Path = "scoring.db"
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=%d&_foreign_keys=on",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sqlx.ConnectContext(ctx, "sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: connect: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: apply schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Ping implements the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// InStudentTx implements scoring.Store.
func (s *Store) InStudentTx(ctx context.Context, studentID shared.StudentID, fn func(ctx context.Context, tx scoring.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return storageErr("begin", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, &tx{studentID: studentID, tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return storageErr("commit", err)
	}
	return nil
}

func storageErr(op string, err error) error {
	kind := shared.KindInternal
	var se sqlite3.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &se) && se.Code == sqlite3.ErrBusy) {
		kind = shared.KindUnavailable
	}
	return shared.Wrap("sqlite.Store", kind, op+" failed", err)
}

// ══════════════════════════════════════════════════════════════════════════════
// ROWS
// ══════════════════════════════════════════════════════════════════════════════

type completionRow struct {
	StudentID               string         `db:"student_id"`
	ActivityKind            string         `db:"activity_kind"`
	ReferenceID             string         `db:"reference_id"`
	CompletionCount         int            `db:"completion_count"`
	BestScore               *float64       `db:"best_score"`
	LatestScore             *float64       `db:"latest_score"`
	CumulativePointsAwarded int            `db:"cumulative_points_awarded"`
	Metadata                sql.NullString `db:"metadata"`
	FirstCompletedAt        string         `db:"first_completed_at"`
	LastCompletedAt         string         `db:"last_completed_at"`
}

func (r completionRow) domain() scoring.CompletedActivity {
	return scoring.CompletedActivity{
		StudentID:               shared.StudentID(r.StudentID),
		ActivityKind:            r.ActivityKind,
		ReferenceID:             r.ReferenceID,
		CompletionCount:         r.CompletionCount,
		BestScore:               r.BestScore,
		LatestScore:             r.LatestScore,
		CumulativePointsAwarded: r.CumulativePointsAwarded,
		Metadata:                decodeMetadata(r.Metadata),
		FirstCompletedAt:        parseTS(r.FirstCompletedAt),
		LastCompletedAt:         parseTS(r.LastCompletedAt),
	}
}

type transactionRow struct {
	ID            string         `db:"id"`
	StudentID     string         `db:"student_id"`
	ActivityType  string         `db:"activity_type"`
	PointsChange  int            `db:"points_change"`
	Description   string         `db:"description"`
	ReferenceKind sql.NullString `db:"reference_kind"`
	ReferenceID   sql.NullString `db:"reference_id"`
	Language      sql.NullString `db:"language"`
	Metadata      sql.NullString `db:"metadata"`
	CreatedAt     string         `db:"created_at"`
}

func (r transactionRow) domain() scoring.PointTransaction {
	return scoring.PointTransaction{
		ID:            r.ID,
		StudentID:     shared.StudentID(r.StudentID),
		ActivityType:  scoring.ActivityType(r.ActivityType),
		PointsChange:  r.PointsChange,
		Description:   r.Description,
		ReferenceKind: r.ReferenceKind.String,
		ReferenceID:   r.ReferenceID.String,
		Language:      r.Language.String,
		Metadata:      decodeMetadata(r.Metadata),
		CreatedAt:     parseTS(r.CreatedAt),
	}
}

type streakRow struct {
	StudentID        string         `db:"student_id"`
	CurrentStreak    int            `db:"current_streak"`
	LongestStreak    int            `db:"longest_streak"`
	LastActivityDate sql.NullString `db:"last_activity_date"`
	TotalPoints      int            `db:"total_points"`
	UpdatedAt        string         `db:"updated_at"`
}

func (r streakRow) domain() scoring.LearningStreak {
	st := scoring.LearningStreak{
		StudentID:     shared.StudentID(r.StudentID),
		CurrentStreak: r.CurrentStreak,
		LongestStreak: r.LongestStreak,
		TotalPoints:   r.TotalPoints,
		UpdatedAt:     parseTS(r.UpdatedAt),
	}
	if r.LastActivityDate.Valid {
		st.LastActivityDate, _ = timeutil.ParseDate(r.LastActivityDate.String)
	}
	return st
}

type achievementRow struct {
	ID           string `db:"id"`
	StudentID    string `db:"student_id"`
	Type         string `db:"achievement_type"`
	Title        string `db:"title"`
	Description  string `db:"description"`
	Icon         string `db:"icon"`
	PointsEarned int    `db:"points_earned"`
	EarnedAt     string `db:"earned_at"`
}

func (r achievementRow) domain() scoring.Achievement {
	return scoring.Achievement{
		ID:           r.ID,
		StudentID:    shared.StudentID(r.StudentID),
		Type:         scoring.AchievementType(r.Type),
		Title:        r.Title,
		Description:  r.Description,
		Icon:         r.Icon,
		PointsEarned: r.PointsEarned,
		EarnedAt:     parseTS(r.EarnedAt),
	}
}

type summaryRow struct {
	StudentID           string `db:"student_id"`
	Date                string `db:"date"`
	PointsEarned        int    `db:"points_earned"`
	LessonsCompleted    int    `db:"lessons_completed"`
	QuizzesCompleted    int    `db:"quizzes_completed"`
	VocabularyPracticed int    `db:"vocabulary_practiced"`
	GamesPlayed         int    `db:"games_played"`
	MinutesSpent        int    `db:"minutes_spent"`
	LanguagesPracticed  string `db:"languages_practiced"`
}

func (r summaryRow) domain() scoring.DailyActivitySummary {
	d := scoring.DailyActivitySummary{
		StudentID:           shared.StudentID(r.StudentID),
		PointsEarned:        r.PointsEarned,
		LessonsCompleted:    r.LessonsCompleted,
		QuizzesCompleted:    r.QuizzesCompleted,
		VocabularyPracticed: r.VocabularyPracticed,
		GamesPlayed:         r.GamesPlayed,
		MinutesSpent:        r.MinutesSpent,
		LanguagesPracticed:  []string{},
	}
	d.Date, _ = timeutil.ParseDate(r.Date)
	_ = json.Unmarshal([]byte(r.LanguagesPracticed), &d.LanguagesPracticed)
	return d
}

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) time.Time {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func encodeMetadata(m scoring.Metadata) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode metadata: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeMetadata(s sql.NullString) scoring.Metadata {
	if !s.Valid || s.String == "" {
		return nil
	}
	var m scoring.Metadata
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil
	}
	return m
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isConstraintViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// TX
// ══════════════════════════════════════════════════════════════════════════════

type tx struct {
	studentID  shared.StudentID
	tx         *sqlx.Tx
	savepoints int
}

func (t *tx) own(id shared.StudentID) error {
	if id != t.studentID {
		return shared.ErrForeignStudent
	}
	return nil
}

const completionColumns = `student_id, activity_kind, reference_id, completion_count, best_score,
	latest_score, cumulative_points_awarded, metadata, first_completed_at, last_completed_at`

func (t *tx) FindCompletion(ctx context.Context, key scoring.CompletionKey) (*scoring.CompletedActivity, error) {
	if err := t.own(key.StudentID); err != nil {
		return nil, err
	}
	var row completionRow
	err := t.tx.GetContext(ctx, &row, `SELECT `+completionColumns+` FROM completed_activities
		WHERE student_id = ? AND activity_kind = ? AND reference_id = ?`,
		key.StudentID.String(), key.Kind, key.ReferenceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrCompletionNotFound
	}
	if err != nil {
		return nil, storageErr("find completion", err)
	}
	c := row.domain()
	return &c, nil
}

func (t *tx) InsertCompletion(ctx context.Context, c *scoring.CompletedActivity) error {
	if err := t.own(c.StudentID); err != nil {
		return err
	}
	meta, err := encodeMetadata(c.Metadata)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `INSERT INTO completed_activities (`+completionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.StudentID.String(), c.ActivityKind, c.ReferenceID, c.CompletionCount, c.BestScore,
		c.LatestScore, c.CumulativePointsAwarded, meta, formatTS(c.FirstCompletedAt), formatTS(c.LastCompletedAt))
	if isConstraintViolation(err) {
		return shared.ErrCompletionConflict
	}
	if err != nil {
		return storageErr("insert completion", err)
	}
	return nil
}

func (t *tx) UpdateCompletion(ctx context.Context, c *scoring.CompletedActivity) error {
	if err := t.own(c.StudentID); err != nil {
		return err
	}
	meta, err := encodeMetadata(c.Metadata)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `UPDATE completed_activities SET
		completion_count = ?, best_score = ?, latest_score = ?, cumulative_points_awarded = ?,
		metadata = ?, last_completed_at = ?
		WHERE student_id = ? AND activity_kind = ? AND reference_id = ?`,
		c.CompletionCount, c.BestScore, c.LatestScore, c.CumulativePointsAwarded,
		meta, formatTS(c.LastCompletedAt),
		c.StudentID.String(), c.ActivityKind, c.ReferenceID)
	if err != nil {
		return storageErr("update completion", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.ErrCompletionNotFound
	}
	return nil
}

func (t *tx) AppendTransaction(ctx context.Context, pt *scoring.PointTransaction) error {
	if err := t.own(pt.StudentID); err != nil {
		return err
	}
	meta, err := encodeMetadata(pt.Metadata)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `INSERT INTO point_transactions
		(id, student_id, activity_type, points_change, description, reference_kind, reference_id, language, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pt.ID, pt.StudentID.String(), string(pt.ActivityType), pt.PointsChange, pt.Description,
		nullable(pt.ReferenceKind), nullable(pt.ReferenceID), nullable(pt.Language), meta, formatTS(pt.CreatedAt))
	if err != nil {
		return storageErr("append transaction", err)
	}
	return nil
}

func (t *tx) SumTransactions(ctx context.Context, studentID shared.StudentID) (int, error) {
	if err := t.own(studentID); err != nil {
		return 0, err
	}
	var sum int
	if err := t.tx.GetContext(ctx, &sum,
		`SELECT COALESCE(SUM(points_change), 0) FROM point_transactions WHERE student_id = ?`,
		studentID.String()); err != nil {
		return 0, storageErr("sum transactions", err)
	}
	return sum, nil
}

const streakColumns = `student_id, current_streak, longest_streak, last_activity_date, total_points, updated_at`

func (t *tx) FindStreak(ctx context.Context, studentID shared.StudentID) (*scoring.LearningStreak, error) {
	if err := t.own(studentID); err != nil {
		return nil, err
	}
	return findStreak(ctx, t.tx, studentID)
}

func findStreak(ctx context.Context, q sqlx.QueryerContext, studentID shared.StudentID) (*scoring.LearningStreak, error) {
	var row streakRow
	err := sqlx.GetContext(ctx, q, &row,
		`SELECT `+streakColumns+` FROM learning_streaks WHERE student_id = ?`, studentID.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrStreakNotFound
	}
	if err != nil {
		return nil, storageErr("find streak", err)
	}
	st := row.domain()
	return &st, nil
}

func (t *tx) SaveStreak(ctx context.Context, st *scoring.LearningStreak) error {
	if err := t.own(st.StudentID); err != nil {
		return err
	}
	var last sql.NullString
	if !st.LastActivityDate.IsZero() {
		last = sql.NullString{String: timeutil.FormatDate(st.LastActivityDate), Valid: true}
	}
	_, err := t.tx.ExecContext(ctx, `INSERT INTO learning_streaks (`+streakColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (student_id) DO UPDATE SET
			current_streak = excluded.current_streak,
			longest_streak = excluded.longest_streak,
			last_activity_date = excluded.last_activity_date,
			total_points = excluded.total_points,
			updated_at = excluded.updated_at`,
		st.StudentID.String(), st.CurrentStreak, st.LongestStreak, last, st.TotalPoints, formatTS(st.UpdatedAt))
	if err != nil {
		return storageErr("save streak", err)
	}
	return nil
}

const summaryColumns = `student_id, date, points_earned, lessons_completed, quizzes_completed,
	vocabulary_practiced, games_played, minutes_spent, languages_practiced`

func (t *tx) FindDailySummary(ctx context.Context, studentID shared.StudentID, date time.Time) (*scoring.DailyActivitySummary, error) {
	if err := t.own(studentID); err != nil {
		return nil, err
	}
	var row summaryRow
	err := t.tx.GetContext(ctx, &row, `SELECT `+summaryColumns+` FROM daily_activity_summaries
		WHERE student_id = ? AND date = ?`, studentID.String(), timeutil.FormatDate(date))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrSummaryNotFound
	}
	if err != nil {
		return nil, storageErr("find daily summary", err)
	}
	d := row.domain()
	return &d, nil
}

func (t *tx) SaveDailySummary(ctx context.Context, d *scoring.DailyActivitySummary) error {
	if err := t.own(d.StudentID); err != nil {
		return err
	}
	langs := d.LanguagesPracticed
	if langs == nil {
		langs = []string{}
	}
	encoded, err := json.Marshal(langs)
	if err != nil {
		return fmt.Errorf("encode languages: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `INSERT INTO daily_activity_summaries (`+summaryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (student_id, date) DO UPDATE SET
			points_earned = excluded.points_earned,
			lessons_completed = excluded.lessons_completed,
			quizzes_completed = excluded.quizzes_completed,
			vocabulary_practiced = excluded.vocabulary_practiced,
			games_played = excluded.games_played,
			minutes_spent = excluded.minutes_spent,
			languages_practiced = excluded.languages_practiced`,
		d.StudentID.String(), timeutil.FormatDate(d.Date), d.PointsEarned, d.LessonsCompleted, d.QuizzesCompleted,
		d.VocabularyPracticed, d.GamesPlayed, d.MinutesSpent, string(encoded))
	if err != nil {
		return storageErr("save daily summary", err)
	}
	return nil
}

func (t *tx) InsertAchievement(ctx context.Context, a *scoring.Achievement) (bool, error) {
	if err := t.own(a.StudentID); err != nil {
		return false, err
	}
	res, err := t.tx.ExecContext(ctx, `INSERT INTO achievements
		(id, student_id, achievement_type, title, description, icon, points_earned, earned_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (student_id, achievement_type) DO NOTHING`,
		a.ID, a.StudentID.String(), string(a.Type), a.Title, a.Description, a.Icon, a.PointsEarned, formatTS(a.EarnedAt))
	if err != nil {
		return false, storageErr("insert achievement", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("insert achievement", err)
	}
	return n == 1, nil
}

func (t *tx) Savepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	t.savepoints++
	name := fmt.Sprintf("sp_%d", t.savepoints)

	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return storageErr("savepoint", err)
	}
	if err := fn(ctx); err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return fmt.Errorf("%w (rollback to savepoint: %v)", err, rbErr)
		}
		_, _ = t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
		return err
	}
	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return storageErr("release savepoint", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// READER
// ══════════════════════════════════════════════════════════════════════════════

// GetStreak implements scoring.Reader.
func (s *Store) GetStreak(ctx context.Context, studentID shared.StudentID) (*scoring.LearningStreak, error) {
	return findStreak(ctx, s.db, studentID)
}

// ListAchievements implements scoring.Reader. Newest first.
func (s *Store) ListAchievements(ctx context.Context, studentID shared.StudentID) ([]scoring.Achievement, error) {
	var rows []achievementRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, student_id, achievement_type, title, description,
		icon, points_earned, earned_at FROM achievements
		WHERE student_id = ? ORDER BY earned_at DESC, rowid DESC`, studentID.String()); err != nil {
		return nil, storageErr("list achievements", err)
	}
	out := make([]scoring.Achievement, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.domain())
	}
	return out, nil
}

// ListTransactions implements scoring.Reader. Newest first.
func (s *Store) ListTransactions(ctx context.Context, studentID shared.StudentID, limit int) ([]scoring.PointTransaction, error) {
	if limit <= 0 {
		limit = -1
	}
	var rows []transactionRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, student_id, activity_type, points_change, description,
		reference_kind, reference_id, language, metadata, created_at FROM point_transactions
		WHERE student_id = ? ORDER BY created_at DESC, seq DESC LIMIT ?`, studentID.String(), limit); err != nil {
		return nil, storageErr("list transactions", err)
	}
	out := make([]scoring.PointTransaction, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.domain())
	}
	return out, nil
}

// ListDailySummaries implements scoring.Reader. Oldest first, bounds inclusive.
func (s *Store) ListDailySummaries(ctx context.Context, studentID shared.StudentID, from, to time.Time) ([]scoring.DailyActivitySummary, error) {
	var rows []summaryRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+summaryColumns+` FROM daily_activity_summaries
		WHERE student_id = ? AND date BETWEEN ? AND ? ORDER BY date`,
		studentID.String(), timeutil.FormatDate(from), timeutil.FormatDate(to)); err != nil {
		return nil, storageErr("list daily summaries", err)
	}
	out := make([]scoring.DailyActivitySummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.domain())
	}
	return out, nil
}

// ListCompletions implements scoring.Reader. Most recently completed first.
func (s *Store) ListCompletions(ctx context.Context, studentID shared.StudentID, limit int) ([]scoring.CompletedActivity, error) {
	if limit <= 0 {
		limit = -1
	}
	var rows []completionRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+completionColumns+` FROM completed_activities
		WHERE student_id = ? ORDER BY last_completed_at DESC, activity_kind || '/' || reference_id
		LIMIT ?`, studentID.String(), limit); err != nil {
		return nil, storageErr("list completions", err)
	}
	out := make([]scoring.CompletedActivity, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.domain())
	}
	return out, nil
}

// CompletionStatsByKind implements scoring.Reader.
func (s *Store) CompletionStatsByKind(ctx context.Context, studentID shared.StudentID) ([]scoring.KindStats, error) {
	var rows []struct {
		ActivityKind     string   `db:"activity_kind"`
		Activities       int      `db:"activities"`
		Completions      int      `db:"completions"`
		AverageBestScore *float64 `db:"average_best_score"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT activity_kind,
		COUNT(*) AS activities,
		SUM(completion_count) AS completions,
		AVG(best_score) AS average_best_score
		FROM completed_activities WHERE student_id = ?
		GROUP BY activity_kind ORDER BY activity_kind`, studentID.String()); err != nil {
		return nil, storageErr("completion stats", err)
	}
	out := make([]scoring.KindStats, 0, len(rows))
	for _, r := range rows {
		out = append(out, scoring.KindStats{
			ActivityKind:     r.ActivityKind,
			Activities:       r.Activities,
			Completions:      r.Completions,
			AverageBestScore: r.AverageBestScore,
		})
	}
	return out, nil
}

// Leaderboard implements scoring.Reader.
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]scoring.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	var rows []struct {
		StudentID     string `db:"student_id"`
		TotalPoints   int    `db:"total_points"`
		CurrentStreak int    `db:"current_streak"`
		LongestStreak int    `db:"longest_streak"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT student_id, total_points, current_streak, longest_streak
		FROM learning_streaks ORDER BY total_points DESC, student_id LIMIT ?`, limit); err != nil {
		return nil, storageErr("leaderboard", err)
	}
	out := make([]scoring.LeaderboardEntry, 0, len(rows))
	for i, r := range rows {
		out = append(out, scoring.LeaderboardEntry{
			Rank:          i + 1,
			StudentID:     shared.StudentID(r.StudentID),
			TotalPoints:   r.TotalPoints,
			CurrentStreak: r.CurrentStreak,
			LongestStreak: r.LongestStreak,
		})
	}
	return out, nil
}

// FindTotalDiscrepancies implements scoring.Reader.
func (s *Store) FindTotalDiscrepancies(ctx context.Context) ([]scoring.TotalDiscrepancy, error) {
	var rows []struct {
		StudentID   string `db:"student_id"`
		StoredTotal int    `db:"stored_total"`
		LedgerTotal int    `db:"ledger_total"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT ls.student_id, ls.total_points AS stored_total,
		COALESCE(pt.total, 0) AS ledger_total
		FROM learning_streaks ls
		LEFT JOIN (SELECT student_id, SUM(points_change) AS total FROM point_transactions GROUP BY student_id) pt
			ON pt.student_id = ls.student_id
		WHERE ls.total_points <> COALESCE(pt.total, 0)
		ORDER BY ls.student_id`); err != nil {
		return nil, storageErr("find discrepancies", err)
	}
	out := make([]scoring.TotalDiscrepancy, 0, len(rows))
	for _, r := range rows {
		out = append(out, scoring.TotalDiscrepancy{
			StudentID:   shared.StudentID(r.StudentID),
			StoredTotal: r.StoredTotal,
			LedgerTotal: r.LedgerTotal,
		})
	}
	return out, nil
}

var _ scoring.Store = (*Store)(nil)
