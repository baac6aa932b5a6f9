// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/alem-hub/scoring-engine/config"
	"github.com/alem-hub/scoring-engine/internal/domain/scoring"
	"github.com/alem-hub/scoring-engine/internal/domain/shared"
	"github.com/alem-hub/scoring-engine/pkg/logger"
	"github.com/alem-hub/scoring-engine/pkg/retry"
	"github.com/alem-hub/scoring-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// AWARD POINTS COMMAND
// Converts one completed activity into a point award. The ledger check, the
// transaction, the streak and the ledger write-back commit together or not at
// all; achievements and daily counters are best-effort inside the same unit.
// ══════════════════════════════════════════════════════════════════════════════

// AwardPointsCommand contains the data of one activity completion.
type AwardPointsCommand struct {
	StudentID    string
	ActivityType string

	// ReferenceID and ReferenceKind form the idempotency key together.
	// When either is empty the award is unconditional.
	ReferenceID   string
	ReferenceKind string

	Language string
	Metadata map[string]any

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c AwardPointsCommand) Validate() error {
	if _, err := shared.NewStudentID(c.StudentID); err != nil {
		return err
	}
	if strings.TrimSpace(c.ActivityType) == "" {
		return shared.ErrInvalidActivityType
	}
	return nil
}

func (c AwardPointsCommand) referenced() bool {
	return c.ReferenceID != "" && c.ReferenceKind != ""
}

// Outcome names the branch an award took.
type Outcome string

const (
	OutcomeFirstCompletion Outcome = "first_completion"
	OutcomeImprovement     Outcome = "improvement"
	OutcomeRepeat          Outcome = "repeat"
	OutcomeUnreferenced    Outcome = "unreferenced"
)

// AwardPointsResult contains the result of an award.
type AwardPointsResult struct {
	StudentID    string
	ActivityType string
	Outcome      Outcome

	// PointsAwarded is the amount booked for the activity itself.
	// Achievement bonuses are reported separately in Achievements.
	PointsAwarded int
	Bonuses       []scoring.AppliedBonus

	TotalPoints     int
	CurrentStreak   int
	LongestStreak   int
	StreakIncreased bool

	Achievements []scoring.Achievement

	// Events contains domain events published after commit.
	Events []shared.Event

	AwardedAt time.Time
}

// AchievementBonus sums the bonus points of the unlocked achievements.
func (r *AwardPointsResult) AchievementBonus() int {
	total := 0
	for _, a := range r.Achievements {
		total += a.PointsEarned
	}
	return total
}

// FeatureGate decides per student whether a feature is on.
type FeatureGate interface {
	Enabled(feature, studentID string) bool
}

// AwardMetrics receives award outcomes.
type AwardMetrics interface {
	AwardRecorded(outcome string, activityType string, points int, took time.Duration)
	AwardFailed(activityType string)
	AchievementUnlocked(achievementType string)
	BestEffortStepFailed(step string)
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// AwardPointsHandler handles the AwardPointsCommand.
type AwardPointsHandler struct {
	store          scoring.Store
	eventPublisher shared.EventPublisher

	rules      scoring.RuleTable
	calendar   scoring.Calendar
	ledger     *scoring.Ledger
	tracker    *scoring.StreakTracker
	aggregator *scoring.DailyAggregator
	evaluator  *scoring.AchievementEvaluator

	features FeatureGate
	metrics  AwardMetrics
	log      *logger.Logger
	tracer   trace.Tracer
}

// AwardPointsHandlerConfig contains configuration for the handler.
type AwardPointsHandlerConfig struct {
	Rules    *scoring.RuleTable
	Clock    timeutil.Clock
	Location *time.Location
	Features FeatureGate
	Metrics  AwardMetrics
	Logger   *logger.Logger
	Tracer   trace.Tracer
}

// NewAwardPointsHandler creates a new AwardPointsHandler.
func NewAwardPointsHandler(
	store scoring.Store,
	eventPublisher shared.EventPublisher,
	cfg AwardPointsHandlerConfig,
) *AwardPointsHandler {
	rules := scoring.DefaultRuleTable()
	if cfg.Rules != nil {
		rules = *cfg.Rules
	}
	cal := scoring.NewCalendar(cfg.Clock, cfg.Location)
	tracker := scoring.NewStreakTracker(cal)

	h := &AwardPointsHandler{
		store:          store,
		eventPublisher: eventPublisher,
		rules:          rules,
		calendar:       cal,
		ledger:         scoring.NewLedger(cal),
		tracker:        tracker,
		aggregator:     scoring.NewDailyAggregator(cal),
		evaluator:      scoring.NewAchievementEvaluator(cal, tracker),
		features:       cfg.Features,
		metrics:        cfg.Metrics,
		log:            cfg.Logger,
		tracer:         cfg.Tracer,
	}
	if h.features == nil {
		h.features = allFeatures{}
	}
	if h.metrics == nil {
		h.metrics = nopMetrics{}
	}
	if h.log == nil {
		h.log = logger.Nop()
	}
	h.log = h.log.With(logger.Component("award_points"))
	if h.tracer == nil {
		h.tracer = otel.Tracer("github.com/alem-hub/scoring-engine/internal/application/command")
	}
	return h
}

// Handle executes the award points command.
func (h *AwardPointsHandler) Handle(ctx context.Context, cmd AwardPointsCommand) (*AwardPointsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("award_points: validation failed: %w", err)
	}
	studentID := shared.StudentID(strings.TrimSpace(cmd.StudentID))

	ctx, span := h.tracer.Start(ctx, "scoring.AwardPoints", trace.WithAttributes(
		attribute.String("student.id", studentID.String()),
		attribute.String("activity.type", cmd.ActivityType),
		attribute.Bool("activity.referenced", cmd.referenced()),
	))
	defer span.End()

	log := h.log.With(logger.StudentID(studentID.String()), logger.ActivityType(cmd.ActivityType))
	if cmd.CorrelationID != "" {
		log = log.WithRequestID(cmd.CorrelationID)
	}
	started := time.Now()

	// A lost insert race on the completion key rolls the whole unit back;
	// the second attempt sees the committed row and takes the repeat branch.
	result, err := retry.DoWithData(ctx, func(ctx context.Context) (*AwardPointsResult, error) {
		return h.attempt(ctx, studentID, cmd, log)
	},
		retry.WithMaxAttempts(2),
		retry.WithInitialDelay(time.Millisecond),
		retry.WithRetryIf(shared.IsConflict),
		retry.WithOnRetry(func(attempt int, err error, _ time.Duration) {
			log.Info("completion recorded concurrently, retrying as repeat", logger.Int("attempt", attempt), logger.Err(err))
		}),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "award failed")
		h.metrics.AwardFailed(cmd.ActivityType)
		log.Error("award failed", logger.Err(err))
		return nil, fmt.Errorf("award_points: %w", err)
	}

	for _, event := range result.Events {
		if h.eventPublisher == nil {
			break
		}
		if err := h.eventPublisher.Publish(event); err != nil {
			log.Warn("failed to publish event", logger.String("event_type", string(event.EventType())), logger.Err(err))
		}
	}

	took := time.Since(started)
	h.metrics.AwardRecorded(string(result.Outcome), cmd.ActivityType, result.PointsAwarded, took)
	for _, a := range result.Achievements {
		h.metrics.AchievementUnlocked(string(a.Type))
	}
	span.SetAttributes(
		attribute.String("award.outcome", string(result.Outcome)),
		attribute.Int("award.points", result.PointsAwarded),
		attribute.Int("award.achievements", len(result.Achievements)),
	)
	log.Debug("award recorded",
		logger.String("outcome", string(result.Outcome)),
		logger.Points(result.PointsAwarded),
		logger.Int("total_points", result.TotalPoints),
		logger.Latency(took),
	)

	return result, nil
}

// attempt runs one unit of work. Everything it collects is discarded when
// the unit rolls back.
func (h *AwardPointsHandler) attempt(ctx context.Context, studentID shared.StudentID, cmd AwardPointsCommand, log *logger.Logger) (*AwardPointsResult, error) {
	var run *awardRun
	err := h.store.InStudentTx(ctx, studentID, func(ctx context.Context, tx scoring.Tx) error {
		run = &awardRun{
			h:         h,
			tx:        tx,
			log:       log,
			studentID: studentID,
			activity:  scoring.ActivityType(cmd.ActivityType),
			cmd:       cmd,
			meta:      scoring.Metadata(cmd.Metadata),
			res: &AwardPointsResult{
				StudentID:    studentID.String(),
				ActivityType: cmd.ActivityType,
				AwardedAt:    h.calendar.Now(),
			},
		}
		if err := run.execute(ctx); err != nil {
			return err
		}
		return run.finish(ctx)
	})
	if err != nil {
		return nil, err
	}
	return run.res, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// UNIT OF WORK
// ══════════════════════════════════════════════════════════════════════════════

type awardRun struct {
	h   *AwardPointsHandler
	tx  scoring.Tx
	log *logger.Logger

	studentID shared.StudentID
	activity  scoring.ActivityType
	cmd       AwardPointsCommand
	meta      scoring.Metadata

	res    *AwardPointsResult
	events []shared.Event
}

func (r *awardRun) execute(ctx context.Context) error {
	if !r.cmd.referenced() {
		return r.first(ctx, nil)
	}

	key := scoring.CompletionKey{
		StudentID:   r.studentID,
		Kind:        r.cmd.ReferenceKind,
		ReferenceID: r.cmd.ReferenceID,
	}
	check, err := r.h.ledger.Check(ctx, r.tx, key)
	if err != nil {
		return err
	}
	if !check.Completed {
		return r.first(ctx, &key)
	}

	if score, ok := r.meta.Score(); ok &&
		r.activity.IsQuizCompletion() &&
		check.Record.ImprovesOn(score) &&
		r.h.features.Enabled(config.FeatureImprovementBonus, r.studentID.String()) {
		return r.improve(ctx, key, check.Record, score)
	}
	return r.repeat(ctx, key, check.Record)
}

// first books base points plus bonuses for a first-time or unreferenced award.
func (r *awardRun) first(ctx context.Context, key *scoring.CompletionKey) error {
	award := r.h.rules.Evaluate(r.activity, r.meta)

	r.res.Outcome = OutcomeUnreferenced
	if key != nil {
		r.res.Outcome = OutcomeFirstCompletion
	}
	r.res.PointsAwarded = award.Total
	r.res.Bonuses = award.Bonuses

	if err := r.appendTransaction(ctx, award.Total, award.Describe()); err != nil {
		return err
	}
	if err := r.bumpStreak(ctx, award.Total); err != nil {
		return err
	}
	r.touchDaily(ctx, award.Total)

	if key != nil {
		if _, err := r.h.ledger.Record(ctx, r.tx, *key, award.Total, r.meta, nil); err != nil {
			return err
		}
	}

	if r.achievementsEnabled() {
		r.unlock(ctx, "achievements", func(ctx context.Context) ([]scoring.Achievement, error) {
			return r.h.evaluator.CheckAchievements(ctx, r.tx, r.studentID, r.activity, r.meta)
		})
	}
	return nil
}

// improve books the partial bonus for beating the stored best score.
func (r *awardRun) improve(ctx context.Context, key scoring.CompletionKey, existing *scoring.CompletedActivity, score float64) error {
	bonus := r.h.rules.ImprovementBonus(r.activity)
	r.res.Outcome = OutcomeImprovement
	r.res.PointsAwarded = bonus

	description := scoring.DescribeImprovement(r.activity, existing.BestScore, score, bonus)
	if err := r.appendTransaction(ctx, bonus, description); err != nil {
		return err
	}
	if err := r.bumpStreak(ctx, bonus); err != nil {
		return err
	}
	r.touchDaily(ctx, bonus)

	if _, err := r.h.ledger.Record(ctx, r.tx, key, bonus, r.meta, existing); err != nil {
		return err
	}

	// The bonus can cross a point milestone, and a retake can be the first
	// perfect score.
	if r.achievementsEnabled() {
		r.unlock(ctx, "achievements", func(ctx context.Context) ([]scoring.Achievement, error) {
			return r.h.evaluator.CheckAchievements(ctx, r.tx, r.studentID, r.activity, r.meta)
		})
	}
	return nil
}

// repeat is the no-op branch: the ledger counts the encounter, nothing else moves.
func (r *awardRun) repeat(ctx context.Context, key scoring.CompletionKey, existing *scoring.CompletedActivity) error {
	r.res.Outcome = OutcomeRepeat
	rec, err := r.h.ledger.Record(ctx, r.tx, key, 0, r.meta, existing)
	if err != nil {
		return err
	}
	r.events = append(r.events, shared.CompletionRepeatedEvent{
		BaseEvent:       r.baseEvent(shared.EventCompletionRepeated),
		StudentID:       r.studentID.String(),
		ActivityKind:    key.Kind,
		ReferenceID:     key.ReferenceID,
		CompletionCount: rec.CompletionCount,
	})
	return nil
}

func (r *awardRun) appendTransaction(ctx context.Context, points int, description string) error {
	txn := &scoring.PointTransaction{
		ID:            uuid.NewString(),
		StudentID:     r.studentID,
		ActivityType:  r.activity,
		PointsChange:  points,
		Description:   description,
		ReferenceKind: r.cmd.ReferenceKind,
		ReferenceID:   r.cmd.ReferenceID,
		Language:      r.cmd.Language,
		Metadata:      r.meta.Clone(),
		CreatedAt:     r.h.calendar.Now(),
	}
	if !r.cmd.referenced() {
		txn.ReferenceKind, txn.ReferenceID = "", ""
	}
	if err := r.tx.AppendTransaction(ctx, txn); err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

func (r *awardRun) bumpStreak(ctx context.Context, points int) error {
	streak, out, err := r.h.tracker.Bump(ctx, r.tx, r.studentID, points)
	if err != nil {
		return err
	}
	r.res.StreakIncreased = out.Increased

	if out.Reset {
		r.events = append(r.events, shared.StreakBrokenEvent{
			BaseEvent:      r.baseEvent(shared.EventStreakBroken),
			StudentID:      r.studentID.String(),
			PreviousStreak: out.PreviousStreak,
			DaysMissed:     out.DaysMissed,
		})
	}
	if !out.Increased {
		return nil
	}

	r.events = append(r.events, shared.StreakUpdatedEvent{
		BaseEvent:     r.baseEvent(shared.EventStreakUpdated),
		StudentID:     r.studentID.String(),
		CurrentStreak: streak.CurrentStreak,
		LongestStreak: streak.LongestStreak,
	})
	if r.achievementsEnabled() {
		current := streak.CurrentStreak
		r.unlock(ctx, "streak_achievements", func(ctx context.Context) ([]scoring.Achievement, error) {
			return r.h.evaluator.CheckStreakAchievements(ctx, r.tx, r.studentID, current)
		})
	}
	return nil
}

func (r *awardRun) touchDaily(ctx context.Context, points int) {
	r.bestEffort(ctx, "daily_summary", func(ctx context.Context) error {
		_, err := r.h.aggregator.Touch(ctx, r.tx, r.studentID, r.activity, points, r.cmd.Language, r.meta)
		return err
	})
}

// unlock runs an achievement check in a savepoint and keeps its unlocks only
// when the savepoint held.
func (r *awardRun) unlock(ctx context.Context, step string, check func(ctx context.Context) ([]scoring.Achievement, error)) {
	var unlocked []scoring.Achievement
	ok := r.bestEffort(ctx, step, func(ctx context.Context) error {
		var err error
		unlocked, err = check(ctx)
		return err
	})
	if !ok {
		return
	}
	for _, a := range unlocked {
		r.res.Achievements = append(r.res.Achievements, a)
		r.events = append(r.events, shared.AchievementUnlockedEvent{
			BaseEvent:       r.baseEvent(shared.EventAchievementUnlocked),
			StudentID:       r.studentID.String(),
			AchievementType: string(a.Type),
			Title:           a.Title,
			BonusPoints:     a.PointsEarned,
		})
	}
}

func (r *awardRun) bestEffort(ctx context.Context, step string, fn func(ctx context.Context) error) bool {
	if err := r.tx.Savepoint(ctx, fn); err != nil {
		r.log.Warn("best-effort step failed", logger.Operation(step), logger.Err(err))
		r.h.metrics.BestEffortStepFailed(step)
		return false
	}
	return true
}

func (r *awardRun) achievementsEnabled() bool {
	return r.h.features.Enabled(config.FeatureAchievements, r.studentID.String())
}

// finish reads back the streak row and queues PointsAwarded.
func (r *awardRun) finish(ctx context.Context) error {
	streak, err := r.tx.FindStreak(ctx, r.studentID)
	switch {
	case err == nil:
		r.res.TotalPoints = streak.TotalPoints
		r.res.CurrentStreak = streak.CurrentStreak
		r.res.LongestStreak = streak.LongestStreak
	case !shared.IsNotFound(err):
		return fmt.Errorf("read streak: %w", err)
	}

	if r.res.Outcome != OutcomeRepeat {
		r.events = append(r.events, shared.PointsAwardedEvent{
			BaseEvent:     r.baseEvent(shared.EventPointsAwarded),
			StudentID:     r.studentID.String(),
			ActivityType:  string(r.activity),
			Points:        r.res.PointsAwarded,
			TotalPoints:   r.res.TotalPoints,
			CurrentStreak: r.res.CurrentStreak,
			LongestStreak: r.res.LongestStreak,
			Improvement:   r.res.Outcome == OutcomeImprovement,
		})
	}
	r.res.Events = r.events
	return nil
}

func (r *awardRun) baseEvent(t shared.EventType) shared.BaseEvent {
	e := shared.NewBaseEvent(t, r.studentID.String(), r.res.AwardedAt)
	if r.cmd.CorrelationID != "" {
		e = e.WithCorrelationID(r.cmd.CorrelationID)
	}
	return e
}

type allFeatures struct{}

func (allFeatures) Enabled(string, string) bool { return true }

type nopMetrics struct{}

func (nopMetrics) AwardRecorded(string, string, int, time.Duration) {}
func (nopMetrics) AwardFailed(string)                               {}
func (nopMetrics) AchievementUnlocked(string)                       {}
func (nopMetrics) BestEffortStepFailed(string)                      {}
