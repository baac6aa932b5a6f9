// Package scoring contains the gamification scoring domain: the completion
// ledger, the point transaction log, learning streaks, achievements and the
// daily activity summaries, together with the rules that connect them.
package scoring

import (
	"strings"

	"github.com/alem-hub/scoring-engine/internal/domain/shared"
)

// ActivityType is a free-form tag describing what earned (or would earn) points.
// It is broader than the completion kind and includes pseudo-types for bonuses.
type ActivityType string

// Known activity types.
const (
	ActivityCompleteQuiz       ActivityType = "COMPLETE_QUIZ"
	ActivityCompleteLesson     ActivityType = "COMPLETE_LESSON"
	ActivityPracticeVocabulary ActivityType = "PRACTICE_VOCABULARY"
	ActivityPlayGame           ActivityType = "PLAY_GAME"
	ActivityEarnAchievement    ActivityType = "EARN_ACHIEVEMENT"
)

// String returns the string representation.
func (t ActivityType) String() string {
	return string(t)
}

// IsQuizCompletion reports whether retakes of this type can earn an improvement bonus.
func (t ActivityType) IsQuizCompletion() bool {
	return t == ActivityCompleteQuiz
}

// Family groups activity types for the daily counters.
type Family string

const (
	FamilyNone       Family = ""
	FamilyQuiz       Family = "quiz"
	FamilyLesson     Family = "lesson"
	FamilyVocabulary Family = "vocabulary"
	FamilyGame       Family = "game"
)

// familyMatchers is ordered; the first substring hit wins.
var familyMatchers = []struct {
	needle string
	family Family
}{
	{"QUIZ", FamilyQuiz},
	{"LESSON", FamilyLesson},
	{"VOCABULARY", FamilyVocabulary},
	{"GAME", FamilyGame},
}

// Family returns the counter family of the activity type, matching by
// case-insensitive substring. Unmatched types return FamilyNone.
func (t ActivityType) Family() Family {
	upper := strings.ToUpper(string(t))
	for _, m := range familyMatchers {
		if strings.Contains(upper, m.needle) {
			return m.family
		}
	}
	return FamilyNone
}

// CompletionKey identifies one completable thing for one student.
type CompletionKey struct {
	StudentID   shared.StudentID
	Kind        string
	ReferenceID string
}

// String formats the key for logs.
func (k CompletionKey) String() string {
	return k.StudentID.String() + "/" + k.Kind + "/" + k.ReferenceID
}
