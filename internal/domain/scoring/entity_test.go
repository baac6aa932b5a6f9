package scoring

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/scoring-engine/pkg/timeutil"
)

func TestMetadata_Score(t *testing.T) {
	tests := []struct {
		name string
		meta Metadata
		want float64
		ok   bool
	}{
		{"nil", nil, 0, false},
		{"missing", Metadata{"other": 1}, 0, false},
		{"float", Metadata{"score": 87.5}, 87.5, true},
		{"int", Metadata{"score": 90}, 90, true},
		{"json number", Metadata{"score": json.Number("75")}, 75, true},
		{"numeric string", Metadata{"score": " 60 "}, 60, true},
		{"percent string", Metadata{"score": "95%"}, 95, true},
		{"garbage string", Metadata{"score": "ninety"}, 0, false},
		{"bool", Metadata{"score": true}, 0, false},
		{"nan", Metadata{"score": math.NaN()}, 0, false},
		{"object", Metadata{"score": map[string]any{"v": 1}}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.meta.Score()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMetadata_MinutesSpent(t *testing.T) {
	m, ok := Metadata{"minutes_spent": 12.6}.MinutesSpent()
	assert.True(t, ok)
	assert.Equal(t, 13, m)

	m, ok = Metadata{"duration_minutes": "7"}.MinutesSpent()
	assert.True(t, ok)
	assert.Equal(t, 7, m)

	_, ok = Metadata{"minutes_spent": -3}.MinutesSpent()
	assert.False(t, ok)
}

func TestMetadata_MarshalJSONNeverFails(t *testing.T) {
	b, err := json.Marshal(Metadata{"score": math.NaN(), "over": math.Inf(1), "hook": func() {}, "lang": "fr"})
	require.NoError(t, err)

	var back Metadata
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, "NaN", back["score"])
	assert.Equal(t, "+Inf", back["over"])
	assert.Equal(t, "fr", back["lang"])
	_, ok := back.Score()
	assert.False(t, ok)

	b, err = json.Marshal(Metadata(nil))
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))

	b, err = json.Marshal(Metadata{"score": 90})
	require.NoError(t, err)
	assert.JSONEq(t, `{"score":90}`, string(b))
}

func TestActivityType_Family(t *testing.T) {
	assert.Equal(t, FamilyQuiz, ActivityCompleteQuiz.Family())
	assert.Equal(t, FamilyQuiz, ActivityType("retake_quiz").Family())
	assert.Equal(t, FamilyLesson, ActivityCompleteLesson.Family())
	assert.Equal(t, FamilyVocabulary, ActivityPracticeVocabulary.Family())
	assert.Equal(t, FamilyGame, ActivityPlayGame.Family())
	assert.Equal(t, FamilyNone, ActivityEarnAchievement.Family())
	assert.Equal(t, FamilyQuiz, ActivityType("QUIZ_GAME").Family(), "first family wins")
}

func TestCompletedActivity_Lifecycle(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	key := CompletionKey{StudentID: "s-1", Kind: "quiz", ReferenceID: "q1"}

	rec := NewCompletedActivity(key, 30, Metadata{"score": 80}, now)
	require.NotNil(t, rec.BestScore)
	assert.Equal(t, 1, rec.CompletionCount)
	assert.Equal(t, 80.0, *rec.BestScore)
	assert.Equal(t, 80.0, *rec.LatestScore)
	assert.Equal(t, 30, rec.CumulativePointsAwarded)

	later := now.Add(time.Hour)
	rec.RecordRepeat(0, Metadata{"score": 60}, later)
	assert.Equal(t, 2, rec.CompletionCount)
	assert.Equal(t, 80.0, *rec.BestScore)
	assert.Equal(t, 60.0, *rec.LatestScore)
	assert.Equal(t, 30, rec.CumulativePointsAwarded)
	assert.Equal(t, later, rec.LastCompletedAt)
	assert.Equal(t, now, rec.FirstCompletedAt)

	rec.RecordRepeat(3, Metadata{"score": 95}, later)
	assert.Equal(t, 95.0, *rec.BestScore)
	assert.Equal(t, 33, rec.CumulativePointsAwarded)

	rec.RecordRepeat(0, nil, later)
	assert.Equal(t, 95.0, *rec.BestScore)
	assert.Nil(t, rec.LatestScore)
	assert.Nil(t, rec.Metadata)
}

func TestCompletedActivity_ImprovesOn(t *testing.T) {
	rec := &CompletedActivity{}
	assert.True(t, rec.ImprovesOn(1))
	assert.False(t, rec.ImprovesOn(0))

	best := 90.0
	rec.BestScore = &best
	assert.True(t, rec.ImprovesOn(90.5))
	assert.False(t, rec.ImprovesOn(90))
}

func TestDailyActivitySummary_Record(t *testing.T) {
	d := NewDailyActivitySummary("s-1", timeutil.Date(2026, 1, 1))

	d.Record(ActivityCompleteQuiz, 30, 0, "es")
	d.Record(ActivityCompleteLesson, 15, 20, "es")
	d.Record(ActivityPlayGame, 8, 0, "fr")
	d.Record("MYSTERY", 4, 0, "")

	assert.Equal(t, 1, d.QuizzesCompleted)
	assert.Equal(t, 1, d.LessonsCompleted)
	assert.Equal(t, 1, d.GamesPlayed)
	assert.Equal(t, 0, d.VocabularyPracticed)
	assert.Equal(t, 57, d.PointsEarned)
	assert.Equal(t, 20, d.MinutesSpent)
	assert.Equal(t, []string{"es", "fr"}, d.LanguagesPracticed)
}

func TestAchievementRules(t *testing.T) {
	assert.Equal(t, []AchievementType{AchievementFirstQuiz},
		ActivityAchievements(ActivityCompleteQuiz, Metadata{"score": 70}))
	assert.Equal(t, []AchievementType{AchievementFirstQuiz, AchievementQuizPerfectionist},
		ActivityAchievements(ActivityCompleteQuiz, Metadata{"score": 100}))
	assert.Equal(t, []AchievementType{AchievementLessonCompleted},
		ActivityAchievements(ActivityCompleteLesson, nil))
	assert.Empty(t, ActivityAchievements(ActivityPlayGame, nil))

	assert.Empty(t, Reached(PointMilestones, 99))
	assert.Equal(t, []AchievementType{AchievementPointsMilestone100, AchievementPointsMilestone500},
		Reached(PointMilestones, 500))
	assert.Equal(t, []AchievementType{AchievementStreak7Days}, Reached(StreakMilestones, 7))

	for _, def := range catalog {
		got, ok := Definition(def.Type)
		assert.True(t, ok)
		assert.Equal(t, def, got)
	}
}

func TestNewCompletionStats(t *testing.T) {
	avg := 85.0
	stats := NewCompletionStats([]KindStats{
		{ActivityKind: "quiz", Activities: 3, Completions: 5, AverageBestScore: &avg},
		{ActivityKind: "lesson", Activities: 2, Completions: 2},
	})

	assert.Equal(t, 5, stats.TotalActivities)
	assert.Equal(t, 7, stats.TotalCompletions)
	assert.Equal(t, 2, stats.Repeats)
	assert.NotNil(t, NewCompletionStats(nil).ByKind)
}

func TestZeroFillDays(t *testing.T) {
	today := timeutil.Date(2026, 5, 7)
	days := timeutil.LastNDays(today, 3)
	rows := []DailyActivitySummary{{StudentID: "s-1", Date: today, PointsEarned: 10}}

	filled := ZeroFillDays("s-1", days, rows)

	require.Len(t, filled, 3)
	assert.Equal(t, timeutil.Date(2026, 5, 5), filled[0].Date)
	assert.Zero(t, filled[0].PointsEarned)
	assert.Equal(t, 10, filled[2].PointsEarned)
}
