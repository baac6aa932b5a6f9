package shared

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Scoring events. They are published only after the unit of work that
// produced them has committed.
const (
	EventPointsAwarded       EventType = "scoring.points_awarded"
	EventCompletionRepeated  EventType = "scoring.completion_repeated"
	EventStreakUpdated       EventType = "scoring.streak_updated"
	EventStreakBroken        EventType = "scoring.streak_broken"
	EventAchievementUnlocked EventType = "scoring.achievement_unlocked"
	EventTotalsReconciled    EventType = "scoring.totals_reconciled"
)

// Event is implemented by every type embedding BaseEvent.
type Event interface {
	EventID() string
	EventType() EventType
	OccurredAt() time.Time
	// AggregateID is the student the event is about.
	AggregateID() string
	// CorrelationID is the request that caused the event, if known.
	CorrelationID() string
}

// BaseEvent carries the envelope fields. Embed it in concrete events.
type BaseEvent struct {
	ID          string    `json:"event_id"`
	Type        EventType `json:"type"`
	At          time.Time `json:"occurred_at"`
	Aggregate   string    `json:"aggregate_id"`
	Correlation string    `json:"correlation_id,omitempty"`
}

// NewBaseEvent stamps a fresh event ID.
func NewBaseEvent(t EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{ID: uuid.NewString(), Type: t, At: at, Aggregate: aggregateID}
}

func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.Correlation = id
	return e
}

func (e BaseEvent) EventID() string       { return e.ID }
func (e BaseEvent) EventType() EventType  { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.At }
func (e BaseEvent) AggregateID() string   { return e.Aggregate }
func (e BaseEvent) CorrelationID() string { return e.Correlation }

// PointsAwardedEvent follows every award that added points.
type PointsAwardedEvent struct {
	BaseEvent
	StudentID     string `json:"student_id"`
	ActivityType  string `json:"activity_type"`
	Points        int    `json:"points"`
	TotalPoints   int    `json:"total_points"`
	CurrentStreak int    `json:"current_streak"`
	LongestStreak int    `json:"longest_streak"`
	Improvement   bool   `json:"improvement"`
}

// CompletionRepeatedEvent follows a resubmission of an already completed
// activity that earned nothing.
type CompletionRepeatedEvent struct {
	BaseEvent
	StudentID       string `json:"student_id"`
	ActivityKind    string `json:"activity_kind"`
	ReferenceID     string `json:"reference_id"`
	CompletionCount int    `json:"completion_count"`
}

type StreakUpdatedEvent struct {
	BaseEvent
	StudentID     string `json:"student_id"`
	CurrentStreak int    `json:"current_streak"`
	LongestStreak int    `json:"longest_streak"`
}

// StreakBrokenEvent follows a gap that reset current_streak to 1.
type StreakBrokenEvent struct {
	BaseEvent
	StudentID      string `json:"student_id"`
	PreviousStreak int    `json:"previous_streak"`
	DaysMissed     int    `json:"days_missed"`
}

// AchievementUnlockedEvent is published once per student and achievement.
type AchievementUnlockedEvent struct {
	BaseEvent
	StudentID       string `json:"student_id"`
	AchievementType string `json:"achievement_type"`
	Title           string `json:"title"`
	BonusPoints     int    `json:"bonus_points"`
}

// TotalsReconciledEvent follows a repair of the stored total from the
// transaction log.
type TotalsReconciledEvent struct {
	BaseEvent
	StudentID   string `json:"student_id"`
	StoredTotal int    `json:"stored_total"`
	LedgerTotal int    `json:"ledger_total"`
}

type EventHandler func(event Event) error

type EventPublisher interface {
	Publish(event Event) error
}

type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
	// SubscribeAll registers handler for every event type.
	SubscribeAll(handler EventHandler) error
}

type EventBus interface {
	EventPublisher
	EventSubscriber
}
