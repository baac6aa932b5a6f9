package scoring

import (
	"fmt"
	"math"
	"strings"
)

// PerfectScore is the score percentage that counts as perfect.
const PerfectScore = 100.0

// BonusRule adds Points when Applies matches the activity metadata.
type BonusRule struct {
	Name    string
	Points  int
	Applies func(m Metadata) bool
}

// AppliedBonus is a bonus that matched one award.
type AppliedBonus struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
}

// Award is the point breakdown for a first-time completion.
type Award struct {
	ActivityType ActivityType   `json:"activity_type"`
	Base         int            `json:"base"`
	Bonuses      []AppliedBonus `json:"bonuses,omitempty"`
	Total        int            `json:"total"`
}

// RuleTable maps activity types to base points and lists additive bonuses.
// New activity types or bonuses are added as rows, not branches.
type RuleTable struct {
	Base            map[ActivityType]int
	Bonuses         []BonusRule
	ImprovementRate float64
}

// DefaultRuleTable returns the production scoring rules.
func DefaultRuleTable() RuleTable {
	return RuleTable{
		Base: map[ActivityType]int{
			ActivityCompleteQuiz:       10,
			ActivityCompleteLesson:     15,
			ActivityPracticeVocabulary: 5,
			ActivityPlayGame:           8,
		},
		Bonuses: []BonusRule{
			{
				Name:   "perfect_score",
				Points: 20,
				Applies: func(m Metadata) bool {
					s, ok := m.Score()
					return ok && s >= PerfectScore
				},
			},
			{
				Name:    "time_bonus",
				Points:  10,
				Applies: Metadata.TimeBonus,
			},
		},
		ImprovementRate: 0.25,
	}
}

// BasePoints returns the base amount for an activity type; unknown types earn 0.
func (r RuleTable) BasePoints(t ActivityType) int {
	return r.Base[t]
}

// Evaluate computes base plus every matching bonus.
func (r RuleTable) Evaluate(t ActivityType, m Metadata) Award {
	award := Award{ActivityType: t, Base: r.BasePoints(t)}
	award.Total = award.Base
	for _, b := range r.Bonuses {
		if b.Applies != nil && b.Applies(m) {
			award.Bonuses = append(award.Bonuses, AppliedBonus{Name: b.Name, Points: b.Points})
			award.Total += b.Points
		}
	}
	return award
}

// ImprovementBonus is the partial award for beating a previous best score,
// rounded half away from zero.
func (r RuleTable) ImprovementBonus(t ActivityType) int {
	return int(math.Round(float64(r.BasePoints(t)) * r.ImprovementRate))
}

// Describe renders a human-readable transaction description.
func (a Award) Describe() string {
	label := activityLabel(a.ActivityType)
	if len(a.Bonuses) == 0 {
		return fmt.Sprintf("%s (+%d)", label, a.Total)
	}
	parts := []string{fmt.Sprintf("+%d base", a.Base)}
	for _, b := range a.Bonuses {
		parts = append(parts, fmt.Sprintf("+%d %s", b.Points, strings.ReplaceAll(b.Name, "_", " ")))
	}
	return fmt.Sprintf("%s (%s)", label, strings.Join(parts, ", "))
}

// DescribeImprovement renders the description of an improvement bonus.
func DescribeImprovement(t ActivityType, previous *float64, current float64, bonus int) string {
	prev := "none"
	if previous != nil {
		prev = formatPercent(*previous)
	}
	return fmt.Sprintf("%s improved: %s → %s (+%d)", activityLabel(t), prev, formatPercent(current), bonus)
}

func formatPercent(v float64) string {
	if v == math.Trunc(v) {
		return fmt.Sprintf("%d%%", int(v))
	}
	return fmt.Sprintf("%.1f%%", v)
}

func activityLabel(t ActivityType) string {
	switch t {
	case ActivityCompleteQuiz:
		return "Quiz completed"
	case ActivityCompleteLesson:
		return "Lesson completed"
	case ActivityPracticeVocabulary:
		return "Vocabulary practiced"
	case ActivityPlayGame:
		return "Game played"
	default:
		return string(t)
	}
}
