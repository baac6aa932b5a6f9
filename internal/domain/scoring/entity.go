package scoring

import (
	"slices"
	"time"

	"github.com/alem-hub/scoring-engine/internal/domain/shared"
	"github.com/alem-hub/scoring-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETION LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// CompletedActivity is the ledger row for one (student, kind, reference) triple.
// It is created on the first successful award and mutated on every later encounter.
type CompletedActivity struct {
	StudentID               shared.StudentID `json:"student_id"`
	ActivityKind            string           `json:"activity_kind"`
	ReferenceID             string           `json:"reference_id"`
	CompletionCount         int              `json:"completion_count"`
	BestScore               *float64         `json:"best_score"`
	LatestScore             *float64         `json:"latest_score"`
	CumulativePointsAwarded int              `json:"cumulative_points_awarded"`
	Metadata                Metadata         `json:"metadata,omitempty"`
	FirstCompletedAt        time.Time        `json:"first_completed_at"`
	LastCompletedAt         time.Time        `json:"last_completed_at"`
}

// Key returns the identity triple.
func (c *CompletedActivity) Key() CompletionKey {
	return CompletionKey{StudentID: c.StudentID, Kind: c.ActivityKind, ReferenceID: c.ReferenceID}
}

// NewCompletedActivity creates the first ledger row for a key.
func NewCompletedActivity(key CompletionKey, points int, meta Metadata, now time.Time) *CompletedActivity {
	score := meta.ScorePtr()
	var latest *float64
	if score != nil {
		v := *score
		latest = &v
	}
	return &CompletedActivity{
		StudentID:               key.StudentID,
		ActivityKind:            key.Kind,
		ReferenceID:             key.ReferenceID,
		CompletionCount:         1,
		BestScore:               score,
		LatestScore:             latest,
		CumulativePointsAwarded: points,
		Metadata:                meta.Clone(),
		FirstCompletedAt:        now,
		LastCompletedAt:         now,
	}
}

// RecordRepeat applies another encounter of the same triple.
func (c *CompletedActivity) RecordRepeat(points int, meta Metadata, now time.Time) {
	c.CompletionCount++
	score := meta.ScorePtr()
	c.LatestScore = score
	if score != nil && (c.BestScore == nil || *score > *c.BestScore) {
		v := *score
		c.BestScore = &v
	}
	c.CumulativePointsAwarded += points
	c.Metadata = meta.Clone()
	c.LastCompletedAt = now
}

// ImprovesOn reports whether score strictly beats the stored best.
// A missing best score counts as zero.
func (c *CompletedActivity) ImprovesOn(score float64) bool {
	best := 0.0
	if c.BestScore != nil {
		best = *c.BestScore
	}
	return score > best
}

// ══════════════════════════════════════════════════════════════════════════════
// POINT TRANSACTION LOG
// ══════════════════════════════════════════════════════════════════════════════

// PointTransaction is an immutable entry of the append-only point log.
type PointTransaction struct {
	ID            string           `json:"id"`
	StudentID     shared.StudentID `json:"student_id"`
	ActivityType  ActivityType     `json:"activity_type"`
	PointsChange  int              `json:"points_change"`
	Description   string           `json:"description"`
	ReferenceKind string           `json:"reference_kind,omitempty"`
	ReferenceID   string           `json:"reference_id,omitempty"`
	Language      string           `json:"language,omitempty"`
	Metadata      Metadata         `json:"metadata,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

// Achievement is unique per (student, type) and permanent once earned.
type Achievement struct {
	ID           string           `json:"id"`
	StudentID    shared.StudentID `json:"student_id"`
	Type         AchievementType  `json:"achievement_type"`
	Title        string           `json:"title"`
	Description  string           `json:"description"`
	Icon         string           `json:"icon"`
	PointsEarned int              `json:"points_earned"`
	EarnedAt     time.Time        `json:"earned_at"`
}

// ══════════════════════════════════════════════════════════════════════════════
// DAILY ACTIVITY
// ══════════════════════════════════════════════════════════════════════════════

// DailyActivitySummary holds one student's counters for one calendar date.
type DailyActivitySummary struct {
	StudentID           shared.StudentID `json:"student_id"`
	Date                time.Time        `json:"date"`
	PointsEarned        int              `json:"points_earned"`
	LessonsCompleted    int              `json:"lessons_completed"`
	QuizzesCompleted    int              `json:"quizzes_completed"`
	VocabularyPracticed int              `json:"vocabulary_practiced"`
	GamesPlayed         int              `json:"games_played"`
	MinutesSpent        int              `json:"minutes_spent"`
	LanguagesPracticed  []string         `json:"languages_practiced"`
}

// NewDailyActivitySummary creates an empty row for a date.
func NewDailyActivitySummary(studentID shared.StudentID, date time.Time) *DailyActivitySummary {
	return &DailyActivitySummary{
		StudentID:          studentID,
		Date:               date,
		LanguagesPracticed: []string{},
	}
}

// Record adds one activity to the counters. At most one family counter moves.
func (d *DailyActivitySummary) Record(t ActivityType, points, minutes int, language string) {
	switch t.Family() {
	case FamilyQuiz:
		d.QuizzesCompleted++
	case FamilyLesson:
		d.LessonsCompleted++
	case FamilyVocabulary:
		d.VocabularyPracticed++
	case FamilyGame:
		d.GamesPlayed++
	}
	d.PointsEarned += points
	if minutes > 0 {
		d.MinutesSpent += minutes
	}
	if language != "" && !slices.Contains(d.LanguagesPracticed, language) {
		d.LanguagesPracticed = append(d.LanguagesPracticed, language)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// READ MODELS
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardEntry is one row of the points leaderboard.
type LeaderboardEntry struct {
	Rank          int              `json:"rank"`
	StudentID     shared.StudentID `json:"student_id"`
	TotalPoints   int              `json:"total_points"`
	CurrentStreak int              `json:"current_streak"`
	LongestStreak int              `json:"longest_streak"`
}

// KindStats aggregates the ledger for one activity kind.
type KindStats struct {
	ActivityKind     string   `json:"activity_kind"`
	Activities       int      `json:"activities"`
	Completions      int      `json:"completions"`
	AverageBestScore *float64 `json:"average_best_score"`
}

// CompletionStats summarizes a student's ledger.
type CompletionStats struct {
	TotalActivities  int         `json:"total_activities"`
	TotalCompletions int         `json:"total_completions"`
	Repeats          int         `json:"repeats"`
	ByKind           []KindStats `json:"by_kind"`
}

// NewCompletionStats folds per-kind rows into totals.
func NewCompletionStats(rows []KindStats) CompletionStats {
	stats := CompletionStats{ByKind: rows}
	if stats.ByKind == nil {
		stats.ByKind = []KindStats{}
	}
	for _, r := range rows {
		stats.TotalActivities += r.Activities
		stats.TotalCompletions += r.Completions
	}
	stats.Repeats = stats.TotalCompletions - stats.TotalActivities
	return stats
}

// TotalDiscrepancy is a student whose denormalized total disagrees with the log.
type TotalDiscrepancy struct {
	StudentID   shared.StudentID
	StoredTotal int
	LedgerTotal int
}

// ZeroFillDays returns one summary per day in days, using stored rows where present.
func ZeroFillDays(studentID shared.StudentID, days []time.Time, rows []DailyActivitySummary) []DailyActivitySummary {
	byDate := make(map[string]DailyActivitySummary, len(rows))
	for _, r := range rows {
		byDate[timeutil.FormatDate(r.Date)] = r
	}
	out := make([]DailyActivitySummary, 0, len(days))
	for _, d := range days {
		if r, ok := byDate[timeutil.FormatDate(d)]; ok {
			out = append(out, r)
			continue
		}
		out = append(out, *NewDailyActivitySummary(studentID, d))
	}
	return out
}
