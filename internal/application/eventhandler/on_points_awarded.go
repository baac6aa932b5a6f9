// Package eventhandler contains subscribers for scoring domain events.
// Handlers run after the unit of work that produced the event committed,
// so they only ever observe durable state.
package eventhandler

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/scoring-engine/config"
	"github.com/alem-hub/scoring-engine/internal/domain/scoring"
	"github.com/alem-hub/scoring-engine/internal/domain/shared"
	"github.com/alem-hub/scoring-engine/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON POINTS AWARDED HANDLER
// Keeps the leaderboard cache in step with the store. The entry is re-read
// from the store instead of copied from the event, since async delivery may
// reorder events for the same student.
// ═══════════════════════════════════════════════════════════════════════════

// FeatureGate decides whether a feature is on.
type FeatureGate interface {
	Enabled(feature, studentID string) bool
}

// PointsAwardedConfig contains handler configuration.
type PointsAwardedConfig struct {
	// Timeout bounds the store read and cache write.
	Timeout time.Duration
}

// DefaultPointsAwardedConfig returns the default configuration.
func DefaultPointsAwardedConfig() PointsAwardedConfig {
	return PointsAwardedConfig{Timeout: 2 * time.Second}
}

// OnPointsAwardedHandler refreshes a student's leaderboard cache entry.
type OnPointsAwardedHandler struct {
	reader   scoring.Reader
	cache    scoring.LeaderboardCache
	features FeatureGate
	logger   *logger.Logger
	config   PointsAwardedConfig
}

// NewOnPointsAwardedHandler creates the handler. features may be nil.
func NewOnPointsAwardedHandler(
	reader scoring.Reader,
	cache scoring.LeaderboardCache,
	features FeatureGate,
	log *logger.Logger,
	cfg PointsAwardedConfig,
) *OnPointsAwardedHandler {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultPointsAwardedConfig().Timeout
	}
	return &OnPointsAwardedHandler{
		reader:   reader,
		cache:    cache,
		features: features,
		logger:   log.With(logger.Component("on_points_awarded")),
		config:   cfg,
	}
}

// Register subscribes the handler to every event that changes a total.
func (h *OnPointsAwardedHandler) Register(bus shared.EventSubscriber) error {
	for _, t := range []shared.EventType{shared.EventPointsAwarded, shared.EventTotalsReconciled} {
		if err := bus.Subscribe(t, h.Handle); err != nil {
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
	}
	return nil
}

// Handle implements shared.EventHandler.
func (h *OnPointsAwardedHandler) Handle(event shared.Event) error {
	var studentID string
	switch e := event.(type) {
	case shared.PointsAwardedEvent:
		studentID = e.StudentID
	case shared.TotalsReconciledEvent:
		studentID = e.StudentID
	default:
		h.logger.Warn("unexpected event", logger.String("event_type", string(event.EventType())))
		return nil
	}

	if h.cache == nil || (h.features != nil && !h.features.Enabled(config.FeatureLeaderboardCache, studentID)) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	return h.refresh(ctx, shared.StudentID(studentID))
}

func (h *OnPointsAwardedHandler) refresh(ctx context.Context, studentID shared.StudentID) error {
	streak, err := h.reader.GetStreak(ctx, studentID)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("read streak: %w", err)
	}

	entry := scoring.LeaderboardEntry{
		StudentID:     streak.StudentID,
		TotalPoints:   streak.TotalPoints,
		CurrentStreak: streak.CurrentStreak,
		LongestStreak: streak.LongestStreak,
	}
	if err := h.cache.UpdateEntry(ctx, entry); err != nil {
		h.logger.Warn("leaderboard cache update failed", logger.StudentID(studentID.String()), logger.Err(err))
		return fmt.Errorf("update cache entry: %w", err)
	}

	h.logger.Debug("leaderboard cache entry refreshed",
		logger.StudentID(studentID.String()),
		logger.Int("total_points", streak.TotalPoints),
	)
	return nil
}
