package scoring

import (
	"time"

	"github.com/alem-hub/scoring-engine/internal/domain/shared"
	"github.com/alem-hub/scoring-engine/pkg/timeutil"
)

// LearningStreak is the per-student streak row. TotalPoints is the
// denormalized sum of the student's point transactions.
type LearningStreak struct {
	StudentID        shared.StudentID `json:"student_id"`
	CurrentStreak    int              `json:"current_streak"`
	LongestStreak    int              `json:"longest_streak"`
	LastActivityDate time.Time        `json:"last_activity_date"`
	TotalPoints      int              `json:"total_points"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// BumpOutcome describes what a bump did to the streak counters.
type BumpOutcome struct {
	Created        bool
	Increased      bool
	Reset          bool
	PreviousStreak int
	DaysMissed     int
}

// NewLearningStreak creates the row for a student's first scoring event.
func NewLearningStreak(studentID shared.StudentID, today time.Time, points int, now time.Time) *LearningStreak {
	return &LearningStreak{
		StudentID:        studentID,
		CurrentStreak:    1,
		LongestStreak:    1,
		LastActivityDate: today,
		TotalPoints:      points,
		UpdatedAt:        now,
	}
}

// Bump records a scoring event on the calendar date today.
//
//	same day      -> counters untouched
//	next day      -> current+1, longest=max
//	anything else -> current resets to 1
//
// TotalPoints grows by points in every case.
func (s *LearningStreak) Bump(today time.Time, points int, now time.Time) BumpOutcome {
	out := BumpOutcome{PreviousStreak: s.CurrentStreak}

	switch gap := timeutil.DaysBetween(s.LastActivityDate, today); gap {
	case 0:
	case 1:
		s.CurrentStreak++
		if s.CurrentStreak > s.LongestStreak {
			s.LongestStreak = s.CurrentStreak
		}
		s.LastActivityDate = today
		out.Increased = true
	default:
		if gap > 1 {
			out.DaysMissed = gap - 1
		}
		s.CurrentStreak = 1
		if s.LongestStreak < 1 {
			s.LongestStreak = 1
		}
		s.LastActivityDate = today
		out.Reset = out.PreviousStreak > 1
		out.Increased = out.PreviousStreak < 1
	}

	s.TotalPoints += points
	s.UpdatedAt = now
	return out
}

// AddBonus adjusts the total only; streak dates are left alone.
func (s *LearningStreak) AddBonus(points int, now time.Time) {
	s.TotalPoints += points
	s.UpdatedAt = now
}

// ActiveStreak is the streak as seen on today: a streak whose last day is
// older than yesterday has lapsed and reads as 0.
func (s *LearningStreak) ActiveStreak(today time.Time) int {
	if timeutil.DaysBetween(s.LastActivityDate, today) > 1 {
		return 0
	}
	return s.CurrentStreak
}
