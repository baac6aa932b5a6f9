package eventhandler

import (
	"fmt"

	"github.com/alem-hub/scoring-engine/internal/domain/shared"
	"github.com/alem-hub/scoring-engine/pkg/logger"
)

// ActivityJournal writes one structured log line per milestone event:
// achievement unlocks, streak changes and reconciled totals.
type ActivityJournal struct {
	logger *logger.Logger
}

// NewActivityJournal creates the journal.
func NewActivityJournal(log *logger.Logger) *ActivityJournal {
	if log == nil {
		log = logger.Nop()
	}
	return &ActivityJournal{logger: log.With(logger.Component("activity_journal"))}
}

// Register subscribes the journal to milestone events.
func (j *ActivityJournal) Register(bus shared.EventSubscriber) error {
	for _, t := range []shared.EventType{
		shared.EventAchievementUnlocked,
		shared.EventStreakUpdated,
		shared.EventStreakBroken,
		shared.EventTotalsReconciled,
	} {
		if err := bus.Subscribe(t, j.Handle); err != nil {
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
	}
	return nil
}

// Handle implements shared.EventHandler.
func (j *ActivityJournal) Handle(event shared.Event) error {
	log := j.logger.With(logger.String("event_id", event.EventID()))
	if id := event.CorrelationID(); id != "" {
		log = log.WithRequestID(id)
	}
	switch e := event.(type) {
	case shared.AchievementUnlockedEvent:
		log.Info("achievement unlocked",
			logger.StudentID(e.StudentID),
			logger.Achievement(e.AchievementType),
			logger.Points(e.BonusPoints),
		)
	case shared.StreakUpdatedEvent:
		log.Info("streak extended",
			logger.StudentID(e.StudentID),
			logger.Int("current_streak", e.CurrentStreak),
			logger.Int("longest_streak", e.LongestStreak),
		)
	case shared.StreakBrokenEvent:
		log.Info("streak broken",
			logger.StudentID(e.StudentID),
			logger.Int("previous_streak", e.PreviousStreak),
			logger.Int("days_missed", e.DaysMissed),
		)
	case shared.TotalsReconciledEvent:
		log.Warn("total points repaired from ledger",
			logger.StudentID(e.StudentID),
			logger.Int("stored_total", e.StoredTotal),
			logger.Int("ledger_total", e.LedgerTotal),
		)
	default:
		log.Debug("ignored event", logger.String("event_type", string(event.EventType())))
	}
	return nil
}
