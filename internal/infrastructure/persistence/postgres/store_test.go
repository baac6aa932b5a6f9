package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/scoring-engine/internal/domain/scoring"
	"github.com/alem-hub/scoring-engine/internal/infrastructure/persistence/storetest"
)

// openTestStore connects to SCORING_TEST_DATABASE_URL and empties every table.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("SCORING_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("SCORING_TEST_DATABASE_URL not set")
	}

	s, err := Open(t.Context(), url, PoolSettings{MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.conn.Exec(t.Context(), `TRUNCATE completed_activities, point_transactions,
		learning_streaks, achievements, daily_activity_summaries RESTART IDENTITY`)
	require.NoError(t, err)
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) scoring.Store { return openTestStore(t) })
}

func TestStore_TransactionLogIsAppendOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	err := s.InStudentTx(ctx, "s-1", func(ctx context.Context, tx scoring.Tx) error {
		return tx.AppendTransaction(ctx, &scoring.PointTransaction{ID: "t1", StudentID: "s-1", ActivityType: scoring.ActivityPlayGame, PointsChange: 8, CreatedAt: time.Now()})
	})
	require.NoError(t, err)

	_, err = s.conn.Exec(ctx, `UPDATE point_transactions SET points_change = 100`)
	assert.True(t, IsRaisedException(err))
	_, err = s.conn.Exec(ctx, `DELETE FROM point_transactions`)
	assert.True(t, IsRaisedException(err))
}

func TestStore_StreakCheckConstraint(t *testing.T) {
	s := openTestStore(t)

	err := s.InStudentTx(t.Context(), "s-1", func(ctx context.Context, tx scoring.Tx) error {
		return tx.SaveStreak(ctx, &scoring.LearningStreak{StudentID: "s-1", CurrentStreak: 4, LongestStreak: 2})
	})
	assert.True(t, IsCheckViolation(err))
}

func TestMigrator_StatusAndRollback(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()
	m := NewMigrator(s.conn)

	status, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, status, len(Migrations()))
	for _, st := range status {
		assert.NotNil(t, st.AppliedAt, st.Name)
	}

	require.NoError(t, m.Rollback(ctx))
	status, err = m.Status(ctx)
	require.NoError(t, err)
	assert.Nil(t, status[len(status)-1].AppliedAt)

	require.NoError(t, m.Migrate(ctx))
	require.NoError(t, m.Migrate(ctx), "migrate is idempotent")
}

func TestConnection_ClosedPing(t *testing.T) {
	s := openTestStore(t)
	s.conn.Close()
	assert.ErrorIs(t, s.Ping(t.Context()), ErrConnectionClosed)
}

func TestConnect_BadURL(t *testing.T) {
	_, err := Connect(t.Context(), "://nope", PoolSettings{})
	assert.Error(t, err)
}

func TestMigrations_Ordered(t *testing.T) {
	ms := Migrations()
	for i, m := range ms {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.Up)
		assert.NotEmpty(t, m.Down)
	}
}

func TestLimitArg(t *testing.T) {
	assert.Nil(t, limitArg(0))
	assert.Nil(t, limitArg(-3))
	require.NotNil(t, limitArg(5))
	assert.Equal(t, 5, *limitArg(5))
}
