package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alem-hub/scoring-engine/internal/domain/scoring"
	"github.com/alem-hub/scoring-engine/internal/domain/shared"
	"github.com/alem-hub/scoring-engine/pkg/timeutil"
)

// Store implements scoring.Store on PostgreSQL.
type Store struct {
	conn *Connection
}

// NewStore wraps an open connection. The schema must already be migrated.
func NewStore(conn *Connection) *Store {
	return &Store{conn: conn}
}

// Open connects to databaseURL and applies pending migrations.
func Open(ctx context.Context, databaseURL string, pool PoolSettings) (*Store, error) {
	conn, err := Connect(ctx, databaseURL, pool)
	if err != nil {
		return nil, err
	}
	if err := NewMigrator(conn).Migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return NewStore(conn), nil
}

// Connection returns the underlying pool wrapper.
func (s *Store) Connection() *Connection {
	return s.conn
}

// Ping implements the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Close closes the pool.
func (s *Store) Close() error {
	s.conn.Close()
	return nil
}

// InStudentTx implements scoring.Store. The advisory lock is keyed by a
// 64-bit hash of the student ID and released at commit or rollback.
func (s *Store) InStudentTx(ctx context.Context, studentID shared.StudentID, fn func(ctx context.Context, tx scoring.Tx) error) error {
	return s.conn.WithTx(ctx, readCommitted, func(ptx pgx.Tx) error {
		if _, err := ptx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, studentID.String()); err != nil {
			return storageErr("lock student", err)
		}
		return fn(ctx, &tx{studentID: studentID, tx: ptx})
	})
}

func storageErr(op string, err error) error {
	kind := shared.KindInternal
	if pgconn.Timeout(err) || errors.Is(err, ErrConnectionClosed) {
		kind = shared.KindUnavailable
	}
	return shared.Wrap("postgres.Store", kind, op+" failed", err)
}

// ══════════════════════════════════════════════════════════════════════════════
// ROWS
// ══════════════════════════════════════════════════════════════════════════════

type completionRow struct {
	StudentID               string    `db:"student_id"`
	ActivityKind            string    `db:"activity_kind"`
	ReferenceID             string    `db:"reference_id"`
	CompletionCount         int       `db:"completion_count"`
	BestScore               *float64  `db:"best_score"`
	LatestScore             *float64  `db:"latest_score"`
	CumulativePointsAwarded int       `db:"cumulative_points_awarded"`
	Metadata                []byte    `db:"metadata"`
	FirstCompletedAt        time.Time `db:"first_completed_at"`
	LastCompletedAt         time.Time `db:"last_completed_at"`
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
		FirstCompletedAt:        r.FirstCompletedAt.UTC(),
		LastCompletedAt:         r.LastCompletedAt.UTC(),
	}
}

type transactionRow struct {
	ID            string    `db:"id"`
	StudentID     string    `db:"student_id"`
	ActivityType  string    `db:"activity_type"`
	PointsChange  int       `db:"points_change"`
	Description   string    `db:"description"`
	ReferenceKind *string   `db:"reference_kind"`
	ReferenceID   *string   `db:"reference_id"`
	Language      *string   `db:"language"`
	Metadata      []byte    `db:"metadata"`
	CreatedAt     time.Time `db:"created_at"`
}

func (r transactionRow) domain() scoring.PointTransaction {
	return scoring.PointTransaction{
		ID:            r.ID,
		StudentID:     shared.StudentID(r.StudentID),
		ActivityType:  scoring.ActivityType(r.ActivityType),
		PointsChange:  r.PointsChange,
		Description:   r.Description,
		ReferenceKind: deref(r.ReferenceKind),
		ReferenceID:   deref(r.ReferenceID),
		Language:      deref(r.Language),
		Metadata:      decodeMetadata(r.Metadata),
		CreatedAt:     r.CreatedAt.UTC(),
	}
}

type streakRow struct {
	StudentID        string     `db:"student_id"`
	CurrentStreak    int        `db:"current_streak"`
	LongestStreak    int        `db:"longest_streak"`
	LastActivityDate *time.Time `db:"last_activity_date"`
	TotalPoints      int        `db:"total_points"`
	UpdatedAt        time.Time  `db:"updated_at"`
}

func (r streakRow) domain() scoring.LearningStreak {
	st := scoring.LearningStreak{
		StudentID:     shared.StudentID(r.StudentID),
		CurrentStreak: r.CurrentStreak,
		LongestStreak: r.LongestStreak,
		TotalPoints:   r.TotalPoints,
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
	if r.LastActivityDate != nil {
		st.LastActivityDate = calendarDate(*r.LastActivityDate)
	}
	return st
}

type achievementRow struct {
	ID           string    `db:"id"`
	StudentID    string    `db:"student_id"`
	Type         string    `db:"achievement_type"`
	Title        string    `db:"title"`
	Description  string    `db:"description"`
	Icon         string    `db:"icon"`
	PointsEarned int       `db:"points_earned"`
	EarnedAt     time.Time `db:"earned_at"`
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
		EarnedAt:     r.EarnedAt.UTC(),
	}
}

type summaryRow struct {
	StudentID           string    `db:"student_id"`
	Date                time.Time `db:"date"`
	PointsEarned        int       `db:"points_earned"`
	LessonsCompleted    int       `db:"lessons_completed"`
	QuizzesCompleted    int       `db:"quizzes_completed"`
	VocabularyPracticed int       `db:"vocabulary_practiced"`
	GamesPlayed         int       `db:"games_played"`
	MinutesSpent        int       `db:"minutes_spent"`
	LanguagesPracticed  []string  `db:"languages_practiced"`
}

func (r summaryRow) domain() scoring.DailyActivitySummary {
	langs := r.LanguagesPracticed
	if langs == nil {
		langs = []string{}
	}
	return scoring.DailyActivitySummary{
		StudentID:           shared.StudentID(r.StudentID),
		Date:                calendarDate(r.Date),
		PointsEarned:        r.PointsEarned,
		LessonsCompleted:    r.LessonsCompleted,
		QuizzesCompleted:    r.QuizzesCompleted,
		VocabularyPracticed: r.VocabularyPracticed,
		GamesPlayed:         r.GamesPlayed,
		MinutesSpent:        r.MinutesSpent,
		LanguagesPracticed:  langs,
	}
}

// calendarDate keeps the year, month and day of a DATE value as UTC midnight.
func calendarDate(t time.Time) time.Time {
	return timeutil.Date(t.Year(), t.Month(), t.Day())
}

func encodeMetadata(m scoring.Metadata) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return b, nil
}

func decodeMetadata(b []byte) scoring.Metadata {
	if len(b) == 0 {
		return nil
	}
	var m scoring.Metadata
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func collectRows[T any, D any](rows pgx.Rows, op string, conv func(T) D) ([]D, error) {
	got, err := pgx.CollectRows(rows, pgx.RowToStructByName[T])
	if err != nil {
		return nil, storageErr(op, err)
	}
	out := make([]D, 0, len(got))
	for _, r := range got {
		out = append(out, conv(r))
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// TX
// ══════════════════════════════════════════════════════════════════════════════

type tx struct {
	studentID shared.StudentID
	tx        pgx.Tx
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
	rows, _ := t.tx.Query(ctx, `SELECT `+completionColumns+` FROM completed_activities
		WHERE student_id = $1 AND activity_kind = $2 AND reference_id = $3`,
		key.StudentID.String(), key.Kind, key.ReferenceID)
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[completionRow])
	if IsNoRows(err) {
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
	// A nested transaction keeps a duplicate key from aborting the unit of work.
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return storageErr("savepoint", err)
	}
	_, err = sp.Exec(ctx, `INSERT INTO completed_activities (`+completionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.StudentID.String(), c.ActivityKind, c.ReferenceID, c.CompletionCount, c.BestScore,
		c.LatestScore, c.CumulativePointsAwarded, meta, c.FirstCompletedAt.UTC(), c.LastCompletedAt.UTC())
	if err != nil {
		_ = sp.Rollback(ctx)
		if IsUniqueViolation(err) {
			return shared.ErrCompletionConflict
		}
		return storageErr("insert completion", err)
	}
	if err := sp.Commit(ctx); err != nil {
		return storageErr("release savepoint", err)
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
	tag, err := t.tx.Exec(ctx, `UPDATE completed_activities SET
		completion_count = $1, best_score = $2, latest_score = $3, cumulative_points_awarded = $4,
		metadata = $5, last_completed_at = $6
		WHERE student_id = $7 AND activity_kind = $8 AND reference_id = $9`,
		c.CompletionCount, c.BestScore, c.LatestScore, c.CumulativePointsAwarded,
		meta, c.LastCompletedAt.UTC(),
		c.StudentID.String(), c.ActivityKind, c.ReferenceID)
	if err != nil {
		return storageErr("update completion", err)
	}
	if tag.RowsAffected() == 0 {
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
	_, err = t.tx.Exec(ctx, `INSERT INTO point_transactions
		(id, student_id, activity_type, points_change, description, reference_kind, reference_id, language, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		pt.ID, pt.StudentID.String(), string(pt.ActivityType), pt.PointsChange, pt.Description,
		nullable(pt.ReferenceKind), nullable(pt.ReferenceID), nullable(pt.Language), meta, pt.CreatedAt.UTC())
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
	if err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(points_change), 0) FROM point_transactions WHERE student_id = $1`,
		studentID.String()).Scan(&sum); err != nil {
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

func findStreak(ctx context.Context, q Querier, studentID shared.StudentID) (*scoring.LearningStreak, error) {
	rows, _ := q.Query(ctx, `SELECT `+streakColumns+` FROM learning_streaks WHERE student_id = $1`, studentID.String())
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[streakRow])
	if IsNoRows(err) {
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
	var last *string
	if !st.LastActivityDate.IsZero() {
		d := timeutil.FormatDate(st.LastActivityDate)
		last = &d
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO learning_streaks (`+streakColumns+`)
		VALUES ($1, $2, $3, $4::date, $5, $6)
		ON CONFLICT (student_id) DO UPDATE SET
			current_streak = EXCLUDED.current_streak,
			longest_streak = EXCLUDED.longest_streak,
			last_activity_date = EXCLUDED.last_activity_date,
			total_points = EXCLUDED.total_points,
			updated_at = EXCLUDED.updated_at`,
		st.StudentID.String(), st.CurrentStreak, st.LongestStreak, last, st.TotalPoints, st.UpdatedAt.UTC())
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
	rows, _ := t.tx.Query(ctx, `SELECT `+summaryColumns+` FROM daily_activity_summaries
		WHERE student_id = $1 AND date = $2::date`, studentID.String(), timeutil.FormatDate(date))
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[summaryRow])
	if IsNoRows(err) {
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
	_, err := t.tx.Exec(ctx, `INSERT INTO daily_activity_summaries (`+summaryColumns+`)
		VALUES ($1, $2::date, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (student_id, date) DO UPDATE SET
			points_earned = EXCLUDED.points_earned,
			lessons_completed = EXCLUDED.lessons_completed,
			quizzes_completed = EXCLUDED.quizzes_completed,
			vocabulary_practiced = EXCLUDED.vocabulary_practiced,
			games_played = EXCLUDED.games_played,
			minutes_spent = EXCLUDED.minutes_spent,
			languages_practiced = EXCLUDED.languages_practiced`,
		d.StudentID.String(), timeutil.FormatDate(d.Date), d.PointsEarned, d.LessonsCompleted, d.QuizzesCompleted,
		d.VocabularyPracticed, d.GamesPlayed, d.MinutesSpent, langs)
	if err != nil {
		return storageErr("save daily summary", err)
	}
	return nil
}

func (t *tx) InsertAchievement(ctx context.Context, a *scoring.Achievement) (bool, error) {
	if err := t.own(a.StudentID); err != nil {
		return false, err
	}
	tag, err := t.tx.Exec(ctx, `INSERT INTO achievements
		(id, student_id, achievement_type, title, description, icon, points_earned, earned_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (student_id, achievement_type) DO NOTHING`,
		a.ID, a.StudentID.String(), string(a.Type), a.Title, a.Description, a.Icon, a.PointsEarned, a.EarnedAt.UTC())
	if err != nil {
		return false, storageErr("insert achievement", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Savepoint uses a pgx pseudo nested transaction, which issues SAVEPOINT,
// ROLLBACK TO SAVEPOINT and RELEASE SAVEPOINT on the same connection.
func (t *tx) Savepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return storageErr("savepoint", err)
	}
	if err := fn(ctx); err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w (rollback to savepoint: %v)", err, rbErr)
		}
		return err
	}
	if err := sp.Commit(ctx); err != nil {
		return storageErr("release savepoint", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// READER
// ══════════════════════════════════════════════════════════════════════════════

// GetStreak implements scoring.Reader.
func (s *Store) GetStreak(ctx context.Context, studentID shared.StudentID) (*scoring.LearningStreak, error) {
	return findStreak(ctx, s.conn, studentID)
}

// ListAchievements implements scoring.Reader. Newest first.
func (s *Store) ListAchievements(ctx context.Context, studentID shared.StudentID) ([]scoring.Achievement, error) {
	rows, err := s.conn.Query(ctx, `SELECT id, student_id, achievement_type, title, description,
		icon, points_earned, earned_at FROM achievements
		WHERE student_id = $1 ORDER BY earned_at DESC, seq DESC`, studentID.String())
	if err != nil {
		return nil, storageErr("list achievements", err)
	}
	return collectRows(rows, "list achievements", achievementRow.domain)
}

// ListTransactions implements scoring.Reader. Newest first.
func (s *Store) ListTransactions(ctx context.Context, studentID shared.StudentID, limit int) ([]scoring.PointTransaction, error) {
	rows, err := s.conn.Query(ctx, `SELECT id, student_id, activity_type, points_change, description,
		reference_kind, reference_id, language, metadata, created_at FROM point_transactions
		WHERE student_id = $1 ORDER BY created_at DESC, seq DESC LIMIT $2`, studentID.String(), limitArg(limit))
	if err != nil {
		return nil, storageErr("list transactions", err)
	}
	return collectRows(rows, "list transactions", transactionRow.domain)
}

// ListDailySummaries implements scoring.Reader. Oldest first, bounds inclusive.
func (s *Store) ListDailySummaries(ctx context.Context, studentID shared.StudentID, from, to time.Time) ([]scoring.DailyActivitySummary, error) {
	rows, err := s.conn.Query(ctx, `SELECT `+summaryColumns+` FROM daily_activity_summaries
		WHERE student_id = $1 AND date BETWEEN $2::date AND $3::date ORDER BY date`,
		studentID.String(), timeutil.FormatDate(from), timeutil.FormatDate(to))
	if err != nil {
		return nil, storageErr("list daily summaries", err)
	}
	return collectRows(rows, "list daily summaries", summaryRow.domain)
}

// ListCompletions implements scoring.Reader. Most recently completed first.
func (s *Store) ListCompletions(ctx context.Context, studentID shared.StudentID, limit int) ([]scoring.CompletedActivity, error) {
	rows, err := s.conn.Query(ctx, `SELECT `+completionColumns+` FROM completed_activities
		WHERE student_id = $1 ORDER BY last_completed_at DESC, (activity_kind || '/' || reference_id) COLLATE "C"
		LIMIT $2`, studentID.String(), limitArg(limit))
	if err != nil {
		return nil, storageErr("list completions", err)
	}
	return collectRows(rows, "list completions", completionRow.domain)
}

type kindStatsRow struct {
	ActivityKind     string   `db:"activity_kind"`
	Activities       int      `db:"activities"`
	Completions      int      `db:"completions"`
	AverageBestScore *float64 `db:"average_best_score"`
}

// CompletionStatsByKind implements scoring.Reader.
func (s *Store) CompletionStatsByKind(ctx context.Context, studentID shared.StudentID) ([]scoring.KindStats, error) {
	rows, err := s.conn.Query(ctx, `SELECT activity_kind,
		COUNT(*) AS activities,
		SUM(completion_count) AS completions,
		AVG(best_score) AS average_best_score
		FROM completed_activities WHERE student_id = $1
		GROUP BY activity_kind ORDER BY activity_kind COLLATE "C"`, studentID.String())
	if err != nil {
		return nil, storageErr("completion stats", err)
	}
	return collectRows(rows, "completion stats", func(r kindStatsRow) scoring.KindStats {
		return scoring.KindStats(r)
	})
}

type leaderboardRow struct {
	StudentID     string `db:"student_id"`
	TotalPoints   int    `db:"total_points"`
	CurrentStreak int    `db:"current_streak"`
	LongestStreak int    `db:"longest_streak"`
}

// Leaderboard implements scoring.Reader.
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]scoring.LeaderboardEntry, error) {
	rows, err := s.conn.Query(ctx, `SELECT student_id, total_points, current_streak, longest_streak
		FROM learning_streaks ORDER BY total_points DESC, student_id COLLATE "C" LIMIT $1`, limitArg(limit))
	if err != nil {
		return nil, storageErr("leaderboard", err)
	}
	entries, err := collectRows(rows, "leaderboard", func(r leaderboardRow) scoring.LeaderboardEntry {
		return scoring.LeaderboardEntry{
			StudentID:     shared.StudentID(r.StudentID),
			TotalPoints:   r.TotalPoints,
			CurrentStreak: r.CurrentStreak,
			LongestStreak: r.LongestStreak,
		}
	})
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

type discrepancyRow struct {
	StudentID   string `db:"student_id"`
	StoredTotal int    `db:"stored_total"`
	LedgerTotal int    `db:"ledger_total"`
}

// FindTotalDiscrepancies implements scoring.Reader.
func (s *Store) FindTotalDiscrepancies(ctx context.Context) ([]scoring.TotalDiscrepancy, error) {
	rows, err := s.conn.Query(ctx, `SELECT ls.student_id, ls.total_points AS stored_total,
		COALESCE(pt.total, 0) AS ledger_total
		FROM learning_streaks ls
		LEFT JOIN (SELECT student_id, SUM(points_change) AS total FROM point_transactions GROUP BY student_id) pt
			ON pt.student_id = ls.student_id
		WHERE ls.total_points <> COALESCE(pt.total, 0)
		ORDER BY ls.student_id COLLATE "C"`)
	if err != nil {
		return nil, storageErr("find discrepancies", err)
	}
	return collectRows(rows, "find discrepancies", func(r discrepancyRow) scoring.TotalDiscrepancy {
		return scoring.TotalDiscrepancy{
			StudentID:   shared.StudentID(r.StudentID),
			StoredTotal: r.StoredTotal,
			LedgerTotal: r.LedgerTotal,
		}
	})
}

// limitArg maps a non-positive limit to NULL, which PostgreSQL reads as no limit.
func limitArg(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}

var _ scoring.Store = (*Store)(nil)
