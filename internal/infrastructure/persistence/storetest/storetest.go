// Package storetest is a conformance suite run against every scoring.Store
// implementation.
package storetest

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/scoring-engine/internal/domain/scoring"
	"github.com/alem-hub/scoring-engine/internal/domain/shared"
	"github.com/alem-hub/scoring-engine/pkg/timeutil"
)

// Opener returns an empty store for one test.
type Opener func(t *testing.T) scoring.Store

// Run executes the suite. Subtests run sequentially so that an opener may
// share one database and truncate it between tests.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(t *testing.T, open Opener)
	}{
		{"RollbackOnError", testRollbackOnError},
		{"InsertCompletionConflict", testInsertCompletionConflict},
		{"SavepointRestoresOnlyItsWrites", testSavepointRestoresOnlyItsWrites},
		{"SavepointOverCommittedRows", testSavepointOverCommittedRows},
		{"TxIsScopedToStudent", testTxIsScopedToStudent},
		{"AchievementUniqueness", testAchievementUniqueness},
		{"Leaderboard", testLeaderboard},
		{"FindTotalDiscrepancies", testFindTotalDiscrepancies},
		{"ReadModels", testReadModels},
		{"ConcurrentUnitsOfWorkSerialize", testConcurrentUnitsOfWorkSerialize},
		{"CompletionRoundTrip", testCompletionRoundTrip},
		{"StreakAndSummaryRoundTrip", testStreakAndSummaryRoundTrip},
		{"TransactionsNewestFirst", testTransactionsNewestFirst},
		{"EmptyReads", testEmptyReads},
		{"UnencodableMetadataIsKept", testUnencodableMetadataIsKept},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, open)
		})
	}
}

var errBoom = errors.New("boom")

func saveStreak(t *testing.T, s scoring.Store, id shared.StudentID, total int) {
	t.Helper()
	err := s.InStudentTx(t.Context(), id, func(ctx context.Context, tx scoring.Tx) error {
		return tx.SaveStreak(ctx, &scoring.LearningStreak{StudentID: id, CurrentStreak: 1, LongestStreak: 1, TotalPoints: total})
	})
	require.NoError(t, err)
}

func testRollbackOnError(t *testing.T, open Opener) {
	s := open(t)
	key := scoring.CompletionKey{StudentID: "s-1", Kind: "quiz", ReferenceID: "q1"}

	err := s.InStudentTx(t.Context(), "s-1", func(ctx context.Context, tx scoring.Tx) error {
		require.NoError(t, tx.InsertCompletion(ctx, scoring.NewCompletedActivity(key, 10, nil, time.Now())))
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	err = s.InStudentTx(t.Context(), "s-1", func(ctx context.Context, tx scoring.Tx) error {
		_, err := tx.FindCompletion(ctx, key)
		return err
	})
	assert.True(t, shared.IsNotFound(err))
}

func testInsertCompletionConflict(t *testing.T, open Opener) {
	s := open(t)
	key := scoring.CompletionKey{StudentID: "s-1", Kind: "quiz", ReferenceID: "q1"}

	err := s.InStudentTx(t.Context(), "s-1", func(ctx context.Context, tx scoring.Tx) error {
		if err := tx.InsertCompletion(ctx, scoring.NewCompletedActivity(key, 10, nil, time.Now())); err != nil {
			return err
		}
		return tx.InsertCompletion(ctx, scoring.NewCompletedActivity(key, 10, nil, time.Now()))
	})
	assert.True(t, shared.IsConflict(err))
}

func testSavepointRestoresOnlyItsWrites(t *testing.T, open Opener) {
	s := open(t)
	ctx := t.Context()

	err := s.InStudentTx(ctx, "s-1", func(ctx context.Context, tx scoring.Tx) error {
		require.NoError(t, tx.AppendTransaction(ctx, &scoring.PointTransaction{ID: "t1", StudentID: "s-1", PointsChange: 10}))

		spErr := tx.Savepoint(ctx, func(ctx context.Context) error {
			require.NoError(t, tx.AppendTransaction(ctx, &scoring.PointTransaction{ID: "t2", StudentID: "s-1", PointsChange: 25}))
			inserted, err := tx.InsertAchievement(ctx, &scoring.Achievement{ID: "a1", StudentID: "s-1", Type: scoring.AchievementFirstQuiz})
			require.NoError(t, err)
			require.True(t, inserted)
			return errBoom
		})
		require.ErrorIs(t, spErr, errBoom)

		sum, err := tx.SumTransactions(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, 10, sum)
		return nil
	})
	require.NoError(t, err)

	achievements, err := s.ListAchievements(ctx, "s-1")
	require.NoError(t, err)
	assert.Empty(t, achievements)

	txns, err := s.ListTransactions(ctx, "s-1", 10)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, "t1", txns[0].ID)
}

func testSavepointOverCommittedRows(t *testing.T, open Opener) {
	s := open(t)
	ctx := t.Context()
	key := scoring.CompletionKey{StudentID: "s-1", Kind: "quiz", ReferenceID: "q1"}
	day := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	now := day.Add(9 * time.Hour)

	err := s.InStudentTx(ctx, "s-1", func(ctx context.Context, tx scoring.Tx) error {
		require.NoError(t, tx.InsertCompletion(ctx, scoring.NewCompletedActivity(key, 10, scoring.Metadata{"score": 60.0}, now)))
		require.NoError(t, tx.SaveStreak(ctx, scoring.NewLearningStreak("s-1", day, 10, now)))
		d := scoring.NewDailyActivitySummary("s-1", day)
		d.Record(scoring.ActivityCompleteQuiz, 10, 0, "es")
		require.NoError(t, tx.SaveDailySummary(ctx, d))
		return tx.AppendTransaction(ctx, &scoring.PointTransaction{ID: "t1", StudentID: "s-1", PointsChange: 10, CreatedAt: now})
	})
	require.NoError(t, err)

	err = s.InStudentTx(ctx, "s-1", func(ctx context.Context, tx scoring.Tx) error {
		require.NoError(t, tx.AppendTransaction(ctx, &scoring.PointTransaction{ID: "t2", StudentID: "s-1", PointsChange: 3, CreatedAt: now.Add(time.Minute)}))

		spErr := tx.Savepoint(ctx, func(ctx context.Context) error {
			c, err := tx.FindCompletion(ctx, key)
			require.NoError(t, err)
			c.RecordRepeat(5, scoring.Metadata{"score": 90.0}, now.Add(time.Hour))
			require.NoError(t, tx.UpdateCompletion(ctx, c))

			st, err := tx.FindStreak(ctx, "s-1")
			require.NoError(t, err)
			st.AddBonus(50, now)
			require.NoError(t, tx.SaveStreak(ctx, st))

			d, err := tx.FindDailySummary(ctx, "s-1", day)
			require.NoError(t, err)
			d.Record(scoring.ActivityCompleteLesson, 15, 0, "fr")
			require.NoError(t, tx.SaveDailySummary(ctx, d))

			require.NoError(t, tx.AppendTransaction(ctx, &scoring.PointTransaction{ID: "t3", StudentID: "s-1", PointsChange: 50}))
			return errBoom
		})
		require.ErrorIs(t, spErr, errBoom)

		c, err := tx.FindCompletion(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 1, c.CompletionCount)
		assert.Equal(t, 60.0, *c.BestScore)

		st, err := tx.FindStreak(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, 10, st.TotalPoints)

		d, err := tx.FindDailySummary(ctx, "s-1", day)
		require.NoError(t, err)
		assert.Equal(t, []string{"es"}, d.LanguagesPracticed)

		sum, err := tx.SumTransactions(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, 13, sum)
		return nil
	})
	require.NoError(t, err)

	txns, err := s.ListTransactions(ctx, "s-1", 0)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, "t2", txns[0].ID)

	st, err := s.GetStreak(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, 10, st.TotalPoints)
}

func testTxIsScopedToStudent(t *testing.T, open Opener) {
	s := open(t)

	err := s.InStudentTx(t.Context(), "s-1", func(ctx context.Context, tx scoring.Tx) error {
		_, err := tx.FindStreak(ctx, "s-2")
		return err
	})
	assert.ErrorIs(t, err, shared.ErrForeignStudent)
}

func testAchievementUniqueness(t *testing.T, open Opener) {
	s := open(t)

	err := s.InStudentTx(t.Context(), "s-1", func(ctx context.Context, tx scoring.Tx) error {
		a := &scoring.Achievement{ID: "a1", StudentID: "s-1", Type: scoring.AchievementFirstQuiz}
		first, err := tx.InsertAchievement(ctx, a)
		require.NoError(t, err)
		second, err := tx.InsertAchievement(ctx, a)
		require.NoError(t, err)
		assert.True(t, first)
		assert.False(t, second)
		return nil
	})
	require.NoError(t, err)
}

func testLeaderboard(t *testing.T, open Opener) {
	s := open(t)
	saveStreak(t, s, "carol", 50)
	saveStreak(t, s, "alice", 120)
	saveStreak(t, s, "bob", 120)

	entries, err := s.Leaderboard(t.Context(), 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, shared.StudentID("alice"), entries[0].StudentID)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, shared.StudentID("bob"), entries[1].StudentID)
	assert.Equal(t, 2, entries[1].Rank)
}

func testFindTotalDiscrepancies(t *testing.T, open Opener) {
	s := open(t)
	ctx := t.Context()

	err := s.InStudentTx(ctx, "s-1", func(ctx context.Context, tx scoring.Tx) error {
		require.NoError(t, tx.AppendTransaction(ctx, &scoring.PointTransaction{ID: "t1", StudentID: "s-1", PointsChange: 30}))
		return tx.SaveStreak(ctx, &scoring.LearningStreak{StudentID: "s-1", CurrentStreak: 1, LongestStreak: 1, TotalPoints: 45})
	})
	require.NoError(t, err)
	saveStreak(t, s, "s-2", 0)

	found, err := s.FindTotalDiscrepancies(ctx)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, scoring.TotalDiscrepancy{StudentID: "s-1", StoredTotal: 45, LedgerTotal: 30}, found[0])
}

func testReadModels(t *testing.T, open Opener) {
	s := open(t)
	ctx := t.Context()
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	best := 80.0

	err := s.InStudentTx(ctx, "s-1", func(ctx context.Context, tx scoring.Tx) error {
		for i, ref := range []string{"q1", "q2"} {
			c := scoring.NewCompletedActivity(scoring.CompletionKey{StudentID: "s-1", Kind: "quiz", ReferenceID: ref}, 10, nil, base.Add(time.Duration(i)*time.Hour))
			c.BestScore = &best
			require.NoError(t, tx.InsertCompletion(ctx, c))
		}
		lesson := scoring.NewCompletedActivity(scoring.CompletionKey{StudentID: "s-1", Kind: "lesson", ReferenceID: "l1"}, 15, nil, base)
		lesson.CompletionCount = 3
		require.NoError(t, tx.InsertCompletion(ctx, lesson))

		for _, day := range []int{1, 3, 9} {
			d := scoring.NewDailyActivitySummary("s-1", timeutil.Date(2026, 4, day))
			d.PointsEarned = day
			require.NoError(t, tx.SaveDailySummary(ctx, d))
		}
		return nil
	})
	require.NoError(t, err)

	completions, err := s.ListCompletions(ctx, "s-1", 2)
	require.NoError(t, err)
	require.Len(t, completions, 2)
	assert.Equal(t, "q2", completions[0].ReferenceID)

	stats, err := s.CompletionStatsByKind(ctx, "s-1")
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "lesson", stats[0].ActivityKind)
	assert.Equal(t, 3, stats[0].Completions)
	assert.Nil(t, stats[0].AverageBestScore)
	assert.Equal(t, 2, stats[1].Activities)
	require.NotNil(t, stats[1].AverageBestScore)
	assert.Equal(t, 80.0, *stats[1].AverageBestScore)

	days, err := s.ListDailySummaries(ctx, "s-1", timeutil.Date(2026, 4, 1), timeutil.Date(2026, 4, 7))
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, 1, days[0].PointsEarned)
	assert.Equal(t, 3, days[1].PointsEarned)
}

func testConcurrentUnitsOfWorkSerialize(t *testing.T, open Opener) {
	s := open(t)
	saveStreak(t, s, "s-1", 0)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.InStudentTx(context.Background(), "s-1", func(ctx context.Context, tx scoring.Tx) error {
				st, err := tx.FindStreak(ctx, "s-1")
				if err != nil {
					return err
				}
				st.TotalPoints++
				return tx.SaveStreak(ctx, st)
			})
		}()
	}
	wg.Wait()

	st, err := s.GetStreak(t.Context(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, 50, st.TotalPoints)
}

func testCompletionRoundTrip(t *testing.T, open Opener) {
	s := open(t)
	ctx := t.Context()
	key := scoring.CompletionKey{StudentID: "s-1", Kind: "quiz", ReferenceID: "q1"}
	first := time.Date(2026, 4, 1, 9, 0, 0, 123456000, time.UTC)
	later := first.Add(26 * time.Hour)

	err := s.InStudentTx(ctx, "s-1", func(ctx context.Context, tx scoring.Tx) error {
		c := scoring.NewCompletedActivity(key, 30, scoring.Metadata{"score": 90.0, "time_bonus": true}, first)
		return tx.InsertCompletion(ctx, c)
	})
	require.NoError(t, err)

	err = s.InStudentTx(ctx, "s-1", func(ctx context.Context, tx scoring.Tx) error {
		c, err := tx.FindCompletion(ctx, key)
		if err != nil {
			return err
		}
		c.RecordRepeat(3, scoring.Metadata{"score": 95.0}, later)
		return tx.UpdateCompletion(ctx, c)
	})
	require.NoError(t, err)

	var got *scoring.CompletedActivity
	err = s.InStudentTx(ctx, "s-1", func(ctx context.Context, tx scoring.Tx) error {
		var err error
		got, err = tx.FindCompletion(ctx, key)
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, 2, got.CompletionCount)
	assert.Equal(t, 33, got.CumulativePointsAwarded)
	require.NotNil(t, got.BestScore)
	require.NotNil(t, got.LatestScore)
	assert.InDelta(t, 95.0, *got.BestScore, 0.0001)
	assert.InDelta(t, 95.0, *got.LatestScore, 0.0001)
	assert.InDelta(t, 95.0, got.Metadata["score"], 0.0001)
	assert.True(t, got.FirstCompletedAt.Equal(first), "first completed %s", got.FirstCompletedAt)
	assert.True(t, got.LastCompletedAt.Equal(later), "last completed %s", got.LastCompletedAt)

	err = s.InStudentTx(ctx, "s-1", func(ctx context.Context, tx scoring.Tx) error {
		missing := scoring.NewCompletedActivity(scoring.CompletionKey{StudentID: "s-1", Kind: "quiz", ReferenceID: "nope"}, 0, nil, later)
		return tx.UpdateCompletion(ctx, missing)
	})
	assert.True(t, shared.IsNotFound(err))
}

func testStreakAndSummaryRoundTrip(t *testing.T, open Opener) {
	s := open(t)
	ctx := t.Context()
	day := timeutil.Date(2026, 4, 2)
	now := time.Date(2026, 4, 2, 18, 30, 0, 0, time.UTC)

	err := s.InStudentTx(ctx, "s-1", func(ctx context.Context, tx scoring.Tx) error {
		if err := tx.SaveStreak(ctx, &scoring.LearningStreak{
			StudentID: "s-1", CurrentStreak: 3, LongestStreak: 5, LastActivityDate: day, TotalPoints: 210, UpdatedAt: now,
		}); err != nil {
			return err
		}
		d := scoring.NewDailyActivitySummary("s-1", day)
		d.Record(scoring.ActivityCompleteLesson, 15, 12, "fr")
		d.Record(scoring.ActivityCompleteQuiz, 10, 0, "es")
		return tx.SaveDailySummary(ctx, d)
	})
	require.NoError(t, err)

	st, err := s.GetStreak(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, 3, st.CurrentStreak)
	assert.Equal(t, 5, st.LongestStreak)
	assert.Equal(t, 210, st.TotalPoints)
	assert.True(t, st.LastActivityDate.Equal(day), "last activity %s", st.LastActivityDate)

	err = s.InStudentTx(ctx, "s-1", func(ctx context.Context, tx scoring.Tx) error {
		d, err := tx.FindDailySummary(ctx, "s-1", day)
		if err != nil {
			return err
		}
		assert.Equal(t, 25, d.PointsEarned)
		assert.Equal(t, 1, d.LessonsCompleted)
		assert.Equal(t, 1, d.QuizzesCompleted)
		assert.Equal(t, 12, d.MinutesSpent)
		assert.ElementsMatch(t, []string{"fr", "es"}, d.LanguagesPracticed)

		_, err = tx.FindDailySummary(ctx, "s-1", day.AddDate(0, 0, 1))
		assert.True(t, shared.IsNotFound(err))
		return nil
	})
	require.NoError(t, err)
}

func testTransactionsNewestFirst(t *testing.T, open Opener) {
	s := open(t)
	ctx := t.Context()
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	err := s.InStudentTx(ctx, "s-1", func(ctx context.Context, tx scoring.Tx) error {
		for i, id := range []string{"t1", "t2", "t3"} {
			if err := tx.AppendTransaction(ctx, &scoring.PointTransaction{
				ID: id, StudentID: "s-1", ActivityType: scoring.ActivityPlayGame,
				PointsChange: 8, Description: "Played a game", Language: "fr",
				Metadata: scoring.Metadata{"n": i}, CreatedAt: base.Add(time.Duration(i) * time.Minute),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	txns, err := s.ListTransactions(ctx, "s-1", 2)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, "t3", txns[0].ID)
	assert.Equal(t, "t2", txns[1].ID)
	assert.Equal(t, scoring.ActivityPlayGame, txns[0].ActivityType)
	assert.Equal(t, "fr", txns[0].Language)
	assert.Empty(t, txns[0].ReferenceID)
}

func testEmptyReads(t *testing.T, open Opener) {
	s := open(t)
	ctx := t.Context()

	_, err := s.GetStreak(ctx, "ghost")
	assert.True(t, shared.IsNotFound(err))

	achievements, err := s.ListAchievements(ctx, "ghost")
	require.NoError(t, err)
	assert.NotNil(t, achievements)
	assert.Empty(t, achievements)

	txns, err := s.ListTransactions(ctx, "ghost", 10)
	require.NoError(t, err)
	assert.Empty(t, txns)

	stats, err := s.CompletionStatsByKind(ctx, "ghost")
	require.NoError(t, err)
	assert.Empty(t, stats)

	board, err := s.Leaderboard(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, board)

	found, err := s.FindTotalDiscrepancies(ctx)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func testUnencodableMetadataIsKept(t *testing.T, open Opener) {
	s := open(t)
	ctx := t.Context()
	key := scoring.CompletionKey{StudentID: "s-1", Kind: "quiz", ReferenceID: "q1"}
	meta := scoring.Metadata{"score": math.NaN(), "ratio": math.Inf(-1), "lang": "fr"}
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	err := s.InStudentTx(ctx, "s-1", func(ctx context.Context, tx scoring.Tx) error {
		if err := tx.InsertCompletion(ctx, scoring.NewCompletedActivity(key, 10, meta, now)); err != nil {
			return err
		}
		return tx.AppendTransaction(ctx, &scoring.PointTransaction{
			ID: "t1", StudentID: "s-1", ActivityType: scoring.ActivityCompleteQuiz, ReferenceID: "q1",
			PointsChange: 10, Description: "Completed a quiz", Metadata: meta, CreatedAt: now,
		})
	})
	require.NoError(t, err)

	var got *scoring.CompletedActivity
	err = s.InStudentTx(ctx, "s-1", func(ctx context.Context, tx scoring.Tx) error {
		var err error
		got, err = tx.FindCompletion(ctx, key)
		return err
	})
	require.NoError(t, err)
	assert.Nil(t, got.BestScore)
	_, ok := got.Metadata.Score()
	assert.False(t, ok)
	assert.Equal(t, "fr", got.Metadata["lang"])

	txns, err := s.ListTransactions(ctx, "s-1", 10)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, 10, txns[0].PointsChange)
}
