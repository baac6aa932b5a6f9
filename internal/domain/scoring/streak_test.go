package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alem-hub/scoring-engine/pkg/timeutil"
)

func TestLearningStreak_Bump(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	today := timeutil.Date(2026, 3, 10)

	tests := []struct {
		name         string
		current      int
		longest      int
		lastDate     time.Time
		wantCurrent  int
		wantLongest  int
		wantIncrease bool
		wantReset    bool
	}{
		{"same day", 4, 9, today, 4, 9, false, false},
		{"yesterday extends", 4, 9, today.AddDate(0, 0, -1), 5, 9, true, false},
		{"yesterday sets new longest", 9, 9, today.AddDate(0, 0, -1), 10, 10, true, false},
		{"two day gap resets", 12, 20, today.AddDate(0, 0, -2), 1, 20, false, true},
		{"long gap resets", 3, 3, today.AddDate(0, -2, 0), 1, 3, false, true},
		{"future date resets", 2, 5, today.AddDate(0, 0, 3), 1, 5, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &LearningStreak{
				StudentID:        "s-1",
				CurrentStreak:    tt.current,
				LongestStreak:    tt.longest,
				LastActivityDate: tt.lastDate,
				TotalPoints:      100,
			}

			out := s.Bump(today, 15, now)

			assert.Equal(t, tt.wantCurrent, s.CurrentStreak)
			assert.Equal(t, tt.wantLongest, s.LongestStreak)
			assert.Equal(t, tt.wantIncrease, out.Increased)
			assert.Equal(t, tt.wantReset, out.Reset)
			assert.Equal(t, 115, s.TotalPoints)
			assert.LessOrEqual(t, s.CurrentStreak, s.LongestStreak)
			assert.Equal(t, today, s.LastActivityDate)
		})
	}
}

func TestLearningStreak_BumpReportsMissedDays(t *testing.T) {
	today := timeutil.Date(2026, 3, 10)
	s := &LearningStreak{CurrentStreak: 5, LongestStreak: 5, LastActivityDate: timeutil.Date(2026, 3, 6)}

	out := s.Bump(today, 0, time.Now())

	assert.Equal(t, 3, out.DaysMissed)
	assert.Equal(t, 5, out.PreviousStreak)
}

func TestLearningStreak_AddBonusLeavesDates(t *testing.T) {
	last := timeutil.Date(2026, 3, 1)
	s := &LearningStreak{CurrentStreak: 2, LongestStreak: 4, LastActivityDate: last, TotalPoints: 40}

	s.AddBonus(25, time.Now())

	assert.Equal(t, 65, s.TotalPoints)
	assert.Equal(t, 2, s.CurrentStreak)
	assert.Equal(t, last, s.LastActivityDate)
}

func TestLearningStreak_ActiveStreak(t *testing.T) {
	today := timeutil.Date(2026, 3, 10)
	s := &LearningStreak{CurrentStreak: 6, LongestStreak: 6}

	s.LastActivityDate = today
	assert.Equal(t, 6, s.ActiveStreak(today))

	s.LastActivityDate = today.AddDate(0, 0, -1)
	assert.Equal(t, 6, s.ActiveStreak(today))

	s.LastActivityDate = today.AddDate(0, 0, -2)
	assert.Equal(t, 0, s.ActiveStreak(today))
}
