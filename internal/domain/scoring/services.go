package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/scoring-engine/internal/domain/shared"
	"github.com/alem-hub/scoring-engine/pkg/timeutil"
)

// Calendar resolves "today" in the configured day-boundary location.
type Calendar struct {
	Clock    timeutil.Clock
	Location *time.Location
}

// NewCalendar creates a calendar; nil arguments fall back to the system
// clock and the server's local zone.
func NewCalendar(clock timeutil.Clock, loc *time.Location) Calendar {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if loc == nil {
		loc = time.Local
	}
	return Calendar{Clock: clock, Location: loc}
}

// Now returns the current instant.
func (c Calendar) Now() time.Time {
	return c.Clock.Now()
}

// Today returns the current calendar date.
func (c Calendar) Today() time.Time {
	return timeutil.CalendarDate(c.Clock.Now(), c.Location)
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETION LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// CompletionCheck is the result of probing the ledger.
type CompletionCheck struct {
	Completed bool
	Record    *CompletedActivity
}

// Ledger is the idempotency gate.
type Ledger struct {
	cal Calendar
}

// NewLedger creates a ledger.
func NewLedger(cal Calendar) *Ledger {
	return &Ledger{cal: cal}
}

// Check probes the ledger without side effects.
func (l *Ledger) Check(ctx context.Context, tx Tx, key CompletionKey) (CompletionCheck, error) {
	rec, err := tx.FindCompletion(ctx, key)
	if err != nil {
		if shared.IsNotFound(err) {
			return CompletionCheck{}, nil
		}
		return CompletionCheck{}, fmt.Errorf("check completion %s: %w", key, err)
	}
	return CompletionCheck{Completed: true, Record: rec}, nil
}

// Record creates the row when existing is nil, otherwise applies a repeat.
func (l *Ledger) Record(ctx context.Context, tx Tx, key CompletionKey, points int, meta Metadata, existing *CompletedActivity) (*CompletedActivity, error) {
	now := l.cal.Now()
	if existing == nil {
		rec := NewCompletedActivity(key, points, meta, now)
		if err := tx.InsertCompletion(ctx, rec); err != nil {
			return nil, fmt.Errorf("insert completion %s: %w", key, err)
		}
		return rec, nil
	}

	existing.RecordRepeat(points, meta, now)
	if err := tx.UpdateCompletion(ctx, existing); err != nil {
		return nil, fmt.Errorf("update completion %s: %w", key, err)
	}
	return existing, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STREAK TRACKER
// ══════════════════════════════════════════════════════════════════════════════

// StreakTracker maintains the per-student streak row.
type StreakTracker struct {
	cal Calendar
}

// NewStreakTracker creates a tracker.
func NewStreakTracker(cal Calendar) *StreakTracker {
	return &StreakTracker{cal: cal}
}

// Bump records a scoring event for today.
func (t *StreakTracker) Bump(ctx context.Context, tx Tx, studentID shared.StudentID, points int) (*LearningStreak, BumpOutcome, error) {
	now := t.cal.Now()
	today := t.cal.Today()

	streak, err := tx.FindStreak(ctx, studentID)
	var out BumpOutcome
	switch {
	case shared.IsNotFound(err):
		streak = NewLearningStreak(studentID, today, points, now)
		out = BumpOutcome{Created: true, Increased: true}
	case err != nil:
		return nil, BumpOutcome{}, fmt.Errorf("load streak: %w", err)
	default:
		out = streak.Bump(today, points, now)
	}

	if err := tx.SaveStreak(ctx, streak); err != nil {
		return nil, BumpOutcome{}, fmt.Errorf("save streak: %w", err)
	}
	return streak, out, nil
}

// AddBonus adds points to the total without touching streak dates.
func (t *StreakTracker) AddBonus(ctx context.Context, tx Tx, studentID shared.StudentID, points int) (*LearningStreak, error) {
	streak, err := tx.FindStreak(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("load streak: %w", err)
	}
	streak.AddBonus(points, t.cal.Now())
	if err := tx.SaveStreak(ctx, streak); err != nil {
		return nil, fmt.Errorf("save streak: %w", err)
	}
	return streak, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DAILY AGGREGATOR
// ══════════════════════════════════════════════════════════════════════════════

// DailyAggregator maintains per-student-per-day counters.
type DailyAggregator struct {
	cal Calendar
}

// NewDailyAggregator creates an aggregator.
func NewDailyAggregator(cal Calendar) *DailyAggregator {
	return &DailyAggregator{cal: cal}
}

// Touch records an activity on today's summary.
func (a *DailyAggregator) Touch(ctx context.Context, tx Tx, studentID shared.StudentID, t ActivityType, points int, language string, meta Metadata) (*DailyActivitySummary, error) {
	today := a.cal.Today()

	summary, err := tx.FindDailySummary(ctx, studentID, today)
	if err != nil {
		if !shared.IsNotFound(err) {
			return nil, fmt.Errorf("load daily summary: %w", err)
		}
		summary = NewDailyActivitySummary(studentID, today)
	}

	minutes, _ := meta.MinutesSpent()
	summary.Record(t, points, minutes, language)

	if err := tx.SaveDailySummary(ctx, summary); err != nil {
		return nil, fmt.Errorf("save daily summary: %w", err)
	}
	return summary, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT EVALUATOR
// ══════════════════════════════════════════════════════════════════════════════

// AchievementEvaluator unlocks achievements exactly once and books their bonus.
type AchievementEvaluator struct {
	cal     Calendar
	tracker *StreakTracker
	newID   func() string
}

// NewAchievementEvaluator creates an evaluator.
func NewAchievementEvaluator(cal Calendar, tracker *StreakTracker) *AchievementEvaluator {
	return &AchievementEvaluator{cal: cal, tracker: tracker, newID: uuid.NewString}
}

// CheckAchievements evaluates activity rules and then point milestones
// against the post-update total.
func (e *AchievementEvaluator) CheckAchievements(ctx context.Context, tx Tx, studentID shared.StudentID, t ActivityType, meta Metadata) ([]Achievement, error) {
	var unlocked []Achievement
	for _, at := range ActivityAchievements(t, meta) {
		a, err := e.unlock(ctx, tx, studentID, at)
		if err != nil {
			return unlocked, err
		}
		if a != nil {
			unlocked = append(unlocked, *a)
		}
	}

	more, err := e.checkPointMilestones(ctx, tx, studentID)
	return append(unlocked, more...), err
}

// CheckStreakAchievements evaluates streak thresholds against currentStreak.
func (e *AchievementEvaluator) CheckStreakAchievements(ctx context.Context, tx Tx, studentID shared.StudentID, currentStreak int) ([]Achievement, error) {
	var unlocked []Achievement
	for _, at := range Reached(StreakMilestones, currentStreak) {
		a, err := e.unlock(ctx, tx, studentID, at)
		if err != nil {
			return unlocked, err
		}
		if a != nil {
			unlocked = append(unlocked, *a)
		}
	}
	if len(unlocked) == 0 {
		return nil, nil
	}

	more, err := e.checkPointMilestones(ctx, tx, studentID)
	return append(unlocked, more...), err
}

// checkPointMilestones unlocks every point milestone the current total has
// reached.
func (e *AchievementEvaluator) checkPointMilestones(ctx context.Context, tx Tx, studentID shared.StudentID) ([]Achievement, error) {
	streak, err := tx.FindStreak(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("load streak: %w", err)
	}

	var unlocked []Achievement
	for _, at := range Reached(PointMilestones, streak.TotalPoints) {
		a, err := e.unlock(ctx, tx, studentID, at)
		if err != nil {
			return unlocked, err
		}
		if a != nil {
			unlocked = append(unlocked, *a)
		}
	}
	return unlocked, nil
}

// unlock inserts the achievement and, when new, books its bonus.
func (e *AchievementEvaluator) unlock(ctx context.Context, tx Tx, studentID shared.StudentID, t AchievementType) (*Achievement, error) {
	def, ok := Definition(t)
	if !ok {
		return nil, fmt.Errorf("unknown achievement %q", t)
	}

	now := e.cal.Now()
	a := &Achievement{
		ID:           e.newID(),
		StudentID:    studentID,
		Type:         def.Type,
		Title:        def.Title,
		Description:  def.Description,
		Icon:         def.Icon,
		PointsEarned: def.BonusPoints,
		EarnedAt:     now,
	}

	inserted, err := tx.InsertAchievement(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("insert achievement %s: %w", t, err)
	}
	if !inserted {
		return nil, nil
	}

	if def.BonusPoints != 0 {
		txn := &PointTransaction{
			ID:           e.newID(),
			StudentID:    studentID,
			ActivityType: ActivityEarnAchievement,
			PointsChange: def.BonusPoints,
			Description:  fmt.Sprintf("Achievement unlocked: %s", def.Title),
			Metadata:     Metadata{"achievement_type": string(def.Type)},
			CreatedAt:    now,
		}
		if err := tx.AppendTransaction(ctx, txn); err != nil {
			return nil, fmt.Errorf("append achievement transaction: %w", err)
		}
		if _, err := e.tracker.AddBonus(ctx, tx, studentID, def.BonusPoints); err != nil {
			return nil, err
		}
	}
	return a, nil
}
