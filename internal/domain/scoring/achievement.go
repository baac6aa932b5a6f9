package scoring

// AchievementType identifies an achievement rule.
type AchievementType string

const (
	AchievementFirstQuiz          AchievementType = "first_quiz"
	AchievementQuizPerfectionist  AchievementType = "quiz_perfectionist"
	AchievementLessonCompleted    AchievementType = "lesson_completed"
	AchievementPointsMilestone100 AchievementType = "points_milestone_100"
	AchievementPointsMilestone500 AchievementType = "points_milestone_500"
	AchievementPointsMilestone1k  AchievementType = "points_milestone_1000"
	AchievementStreak7Days        AchievementType = "streak_7_days"
	AchievementStreak30Days       AchievementType = "streak_30_days"
	AchievementStreak100Days      AchievementType = "streak_100_days"
)

// AchievementDefinition describes an achievement and its bonus.
type AchievementDefinition struct {
	Type        AchievementType
	Title       string
	Description string
	Icon        string
	BonusPoints int
}

var catalog = []AchievementDefinition{
	{AchievementFirstQuiz, "First Quiz", "Completed your first quiz", "🎯", 25},
	{AchievementQuizPerfectionist, "Quiz Perfectionist", "Scored 100% on a quiz", "💯", 50},
	{AchievementLessonCompleted, "Lesson Learner", "Completed your first lesson", "📘", 25},
	{AchievementPointsMilestone100, "Century", "Earned 100 points", "🥉", 0},
	{AchievementPointsMilestone500, "Rising Star", "Earned 500 points", "🥈", 0},
	{AchievementPointsMilestone1k, "Point Master", "Earned 1000 points", "🥇", 0},
	{AchievementStreak7Days, "Week Warrior", "Kept a 7-day learning streak", "🔥", 50},
	{AchievementStreak30Days, "Monthly Devotion", "Kept a 30-day learning streak", "🌟", 150},
	{AchievementStreak100Days, "Unstoppable", "Kept a 100-day learning streak", "🏆", 500},
}

var catalogByType = func() map[AchievementType]AchievementDefinition {
	m := make(map[AchievementType]AchievementDefinition, len(catalog))
	for _, d := range catalog {
		m[d.Type] = d
	}
	return m
}()

// Threshold pairs a cumulative value with the achievement it unlocks.
type Threshold struct {
	Value int
	Type  AchievementType
}

// PointMilestones are checked against total_points after every update. They
// carry no bonus, so unlocking one never moves the total it was judged on.
var PointMilestones = []Threshold{
	{100, AchievementPointsMilestone100},
	{500, AchievementPointsMilestone500},
	{1000, AchievementPointsMilestone1k},
}

// StreakMilestones are checked against current_streak after it grows.
var StreakMilestones = []Threshold{
	{7, AchievementStreak7Days},
	{30, AchievementStreak30Days},
	{100, AchievementStreak100Days},
}

// Definition looks up an achievement definition.
func Definition(t AchievementType) (AchievementDefinition, bool) {
	d, ok := catalogByType[t]
	return d, ok
}

// ActivityAchievements lists the achievements an award of type t with
// metadata m qualifies for. Uniqueness is enforced by storage.
func ActivityAchievements(t ActivityType, m Metadata) []AchievementType {
	var out []AchievementType
	switch t {
	case ActivityCompleteQuiz:
		out = append(out, AchievementFirstQuiz)
		if s, ok := m.Score(); ok && s >= PerfectScore {
			out = append(out, AchievementQuizPerfectionist)
		}
	case ActivityCompleteLesson:
		out = append(out, AchievementLessonCompleted)
	}
	return out
}

// Reached returns the achievements whose threshold is at or below value.
func Reached(thresholds []Threshold, value int) []AchievementType {
	var out []AchievementType
	for _, th := range thresholds {
		if value >= th.Value {
			out = append(out, th.Type)
		}
	}
	return out
}
