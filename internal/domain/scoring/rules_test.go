package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuleTable_Evaluate(t *testing.T) {
	rules := DefaultRuleTable()

	tests := []struct {
		name     string
		activity ActivityType
		meta     Metadata
		want     int
		bonuses  []string
	}{
		{"quiz base", ActivityCompleteQuiz, nil, 10, nil},
		{"lesson base", ActivityCompleteLesson, Metadata{}, 15, nil},
		{"vocabulary base", ActivityPracticeVocabulary, nil, 5, nil},
		{"game base", ActivityPlayGame, nil, 8, nil},
		{"perfect quiz", ActivityCompleteQuiz, Metadata{"score": 100}, 30, []string{"perfect_score"}},
		{"above perfect", ActivityCompleteQuiz, Metadata{"score": 120.0}, 30, []string{"perfect_score"}},
		{"imperfect quiz", ActivityCompleteQuiz, Metadata{"score": 99.5}, 10, nil},
		{"time bonus", ActivityPlayGame, Metadata{"time_bonus": true}, 18, []string{"time_bonus"}},
		{"camel time bonus", ActivityPlayGame, Metadata{"timeBonus": "yes"}, 18, []string{"time_bonus"}},
		{"both bonuses", ActivityCompleteQuiz, Metadata{"score": "100", "time_bonus": 1}, 40, []string{"perfect_score", "time_bonus"}},
		{"unknown type", ActivityType("WATCH_VIDEO"), nil, 0, nil},
		{"malformed score", ActivityCompleteQuiz, Metadata{"score": "abc"}, 10, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			award := rules.Evaluate(tt.activity, tt.meta)
			assert.Equal(t, tt.want, award.Total)

			var names []string
			for _, b := range award.Bonuses {
				names = append(names, b.Name)
			}
			assert.Equal(t, tt.bonuses, names)
		})
	}
}

func TestRuleTable_ImprovementBonus(t *testing.T) {
	rules := DefaultRuleTable()

	assert.Equal(t, 3, rules.ImprovementBonus(ActivityCompleteQuiz))
	assert.Equal(t, 4, rules.ImprovementBonus(ActivityCompleteLesson))
	assert.Equal(t, 1, rules.ImprovementBonus(ActivityPracticeVocabulary))
	assert.Equal(t, 2, rules.ImprovementBonus(ActivityPlayGame))
	assert.Equal(t, 0, rules.ImprovementBonus("UNKNOWN"))
}

func TestRuleTable_IsData(t *testing.T) {
	rules := DefaultRuleTable()
	rules.Base["WRITE_ESSAY"] = 40
	rules.Bonuses = append(rules.Bonuses, BonusRule{
		Name:    "streak_day",
		Points:  5,
		Applies: func(m Metadata) bool { return m["streak_day"] == true },
	})

	award := rules.Evaluate("WRITE_ESSAY", Metadata{"streak_day": true})
	assert.Equal(t, 45, award.Total)
}

func TestAward_Describe(t *testing.T) {
	rules := DefaultRuleTable()

	assert.Equal(t, "Lesson completed (+15)", rules.Evaluate(ActivityCompleteLesson, nil).Describe())
	assert.Equal(t, "Quiz completed (+10 base, +20 perfect score)",
		rules.Evaluate(ActivityCompleteQuiz, Metadata{"score": 100}).Describe())

	prev := 80.0
	assert.Equal(t, "Quiz completed improved: 80% → 95.5% (+3)",
		DescribeImprovement(ActivityCompleteQuiz, &prev, 95.5, 3))
}
