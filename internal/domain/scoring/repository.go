package scoring

import (
	"context"
	"time"

	"github.com/alem-hub/scoring-engine/internal/domain/shared"
)

// Store is the persistence port of the scoring engine.
type Store interface {
	Reader

	// InStudentTx runs fn as one unit of work that holds the student's
	// exclusive lock. fn's error rolls the whole unit back.
	InStudentTx(ctx context.Context, studentID shared.StudentID, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the write side available inside a unit of work. Every method is
// scoped to the student the unit of work was opened for.
type Tx interface {
	// Completion ledger
	FindCompletion(ctx context.Context, key CompletionKey) (*CompletedActivity, error)
	// InsertCompletion returns shared.ErrCompletionConflict if the key exists.
	InsertCompletion(ctx context.Context, c *CompletedActivity) error
	UpdateCompletion(ctx context.Context, c *CompletedActivity) error

	// Point transaction log (append only)
	AppendTransaction(ctx context.Context, t *PointTransaction) error
	SumTransactions(ctx context.Context, studentID shared.StudentID) (int, error)

	// Streak
	FindStreak(ctx context.Context, studentID shared.StudentID) (*LearningStreak, error)
	SaveStreak(ctx context.Context, s *LearningStreak) error

	// Daily summaries
	FindDailySummary(ctx context.Context, studentID shared.StudentID, date time.Time) (*DailyActivitySummary, error)
	SaveDailySummary(ctx context.Context, d *DailyActivitySummary) error

	// Achievements. Inserted is false when the (student, type) row exists.
	InsertAchievement(ctx context.Context, a *Achievement) (inserted bool, err error)

	// Savepoint runs fn so that its writes can be undone on error without
	// aborting the enclosing unit of work.
	Savepoint(ctx context.Context, fn func(ctx context.Context) error) error
}

// Reader serves the read-only queries. No locks are taken.
type Reader interface {
	GetStreak(ctx context.Context, studentID shared.StudentID) (*LearningStreak, error)
	ListAchievements(ctx context.Context, studentID shared.StudentID) ([]Achievement, error)
	ListTransactions(ctx context.Context, studentID shared.StudentID, limit int) ([]PointTransaction, error)
	ListDailySummaries(ctx context.Context, studentID shared.StudentID, from, to time.Time) ([]DailyActivitySummary, error)
	ListCompletions(ctx context.Context, studentID shared.StudentID, limit int) ([]CompletedActivity, error)
	CompletionStatsByKind(ctx context.Context, studentID shared.StudentID) ([]KindStats, error)
	Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)
	FindTotalDiscrepancies(ctx context.Context) ([]TotalDiscrepancy, error)
}

// LeaderboardCache is an optional fast read path for the leaderboard.
// UpdateEntry keeps a rebuilt cache current but cannot make a cache whole:
// until Rebuild has run since the cache was last emptied, GetTop returns
// shared.ErrLeaderboardCold.
type LeaderboardCache interface {
	UpdateEntry(ctx context.Context, entry LeaderboardEntry) error
	GetTop(ctx context.Context, limit int) ([]LeaderboardEntry, error)
	Rebuild(ctx context.Context, entries []LeaderboardEntry) error
	Size(ctx context.Context) (int64, error)
}
