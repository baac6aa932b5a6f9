package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alem-hub/scoring-engine/internal/domain/scoring"
	"github.com/alem-hub/scoring-engine/pkg/logger"
)

var ErrNoLeaderboardCache = errors.New("rebuild_leaderboard: no leaderboard cache configured")

// RebuildLeaderboardJob overwrites the cached leaderboard with the store's
// ranking. The cache is only updated incrementally between runs, so updates
// lost to a Redis restart or a failed handler survive at most one interval.
type RebuildLeaderboardJob struct {
	reader scoring.Reader
	cache  scoring.LeaderboardCache
	logger *logger.Logger
	config RebuildLeaderboardConfig

	lastStats atomic.Pointer[RebuildStats]
}

type RebuildLeaderboardConfig struct {
	Limit   int // 0 caches every student
	Timeout time.Duration
}

func DefaultRebuildLeaderboardConfig() RebuildLeaderboardConfig {
	return RebuildLeaderboardConfig{Timeout: 2 * time.Minute}
}

type RebuildStats struct {
	StartedAt time.Time
	Duration  time.Duration
	Entries   int
	CacheSize int64
}

func NewRebuildLeaderboardJob(reader scoring.Reader, cache scoring.LeaderboardCache, log *logger.Logger, config RebuildLeaderboardConfig) *RebuildLeaderboardJob {
	if log == nil {
		log = logger.Nop()
	}
	return &RebuildLeaderboardJob{
		reader: reader,
		cache:  cache,
		logger: log.With(logger.Component("rebuild_leaderboard")),
		config: config,
	}
}

func (j *RebuildLeaderboardJob) Name() string { return "rebuild_leaderboard" }

func (j *RebuildLeaderboardJob) Description() string {
	return "Rebuilds the cached leaderboard from learning streak totals"
}

// LastStats is nil until a run succeeds.
func (j *RebuildLeaderboardJob) LastStats() *RebuildStats { return j.lastStats.Load() }

func (j *RebuildLeaderboardJob) Run(ctx context.Context) error {
	if j.cache == nil {
		return ErrNoLeaderboardCache
	}
	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}
	started := time.Now()

	entries, err := j.reader.Leaderboard(ctx, j.config.Limit)
	if err != nil {
		return fmt.Errorf("read leaderboard: %w", err)
	}
	if err := j.cache.Rebuild(ctx, entries); err != nil {
		return fmt.Errorf("rebuild cache: %w", err)
	}

	// A failed size read leaves CacheSize at zero; the rebuild itself succeeded.
	size, _ := j.cache.Size(ctx)
	stats := &RebuildStats{
		StartedAt: started,
		Duration:  time.Since(started),
		Entries:   len(entries),
		CacheSize: size,
	}
	j.lastStats.Store(stats)

	j.logger.Info("leaderboard rebuilt",
		logger.Int("entries", stats.Entries),
		logger.Int64("cache_size", stats.CacheSize),
		logger.Duration("duration", stats.Duration),
	)
	return nil
}
