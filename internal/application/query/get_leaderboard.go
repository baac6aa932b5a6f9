// Package query contains read operations following CQRS pattern.
// Queries never write to the store; the leaderboard query may refill the
// cache it reads from.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/alem-hub/scoring-engine/config"
	"github.com/alem-hub/scoring-engine/internal/domain/scoring"
	"github.com/alem-hub/scoring-engine/internal/domain/shared"
	"github.com/alem-hub/scoring-engine/pkg/logger"
)

const tracerName = "github.com/alem-hub/scoring-engine/internal/application/query"

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Top-N students by total points. Served from the cache when it is warm,
// otherwise from the store. A cold cache is rebuilt in the background, once
// per process at a time.
// ══════════════════════════════════════════════════════════════════════════════

const (
	DefaultLeaderboardLimit = 20
	MaxLeaderboardLimit     = 100
)

// GetLeaderboardQuery holds the request parameters.
type GetLeaderboardQuery struct {
	// Limit defaults to 20 and is clamped to 100.
	Limit int
}

// Validate normalizes the limit.
func (q *GetLeaderboardQuery) Validate() error {
	if q.Limit < 0 {
		return shared.ErrInvalidLimit
	}
	if q.Limit == 0 {
		q.Limit = DefaultLeaderboardLimit
	}
	if q.Limit > MaxLeaderboardLimit {
		q.Limit = MaxLeaderboardLimit
	}
	return nil
}

// Leaderboard sources.
const (
	SourceCache = "cache"
	SourceStore = "store"
)

// GetLeaderboardResult contains the ranked entries.
type GetLeaderboardResult struct {
	Entries     []scoring.LeaderboardEntry `json:"entries"`
	Source      string                     `json:"source"`
	GeneratedAt time.Time                  `json:"generated_at"`
}

// FeatureGate decides whether a feature is on.
type FeatureGate interface {
	Enabled(feature, studentID string) bool
}

// GetLeaderboardHandler handles leaderboard queries.
type GetLeaderboardHandler struct {
	reader   scoring.Reader
	cache    scoring.LeaderboardCache
	features FeatureGate
	log      *logger.Logger
	tracer   trace.Tracer

	warming        singleflight.Group
	rebuildTimeout time.Duration
}

// NewGetLeaderboardHandler creates the handler. cache and features may be nil.
func NewGetLeaderboardHandler(reader scoring.Reader, cache scoring.LeaderboardCache, features FeatureGate, log *logger.Logger) *GetLeaderboardHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &GetLeaderboardHandler{
		reader:   reader,
		cache:    cache,
		features: features,
		log:      log.With(logger.Component("get_leaderboard")),
		tracer:   otel.Tracer(tracerName),

		rebuildTimeout: 2 * time.Minute,
	}
}

// Handle executes the query.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, q GetLeaderboardQuery) (*GetLeaderboardResult, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_leaderboard: %w", err)
	}

	ctx, span := h.tracer.Start(ctx, "scoring.GetLeaderboard", trace.WithAttributes(attribute.Int("limit", q.Limit)))
	defer span.End()

	if h.cacheEnabled() {
		entries, err := h.cache.GetTop(ctx, q.Limit)
		switch {
		case errors.Is(err, shared.ErrLeaderboardCold):
			h.log.Debug("leaderboard cache cold, serving from store")
			h.warm()
		case err != nil:
			h.log.Warn("leaderboard cache read failed, falling back to store", logger.Err(err))
		case len(entries) > 0:
			span.SetAttributes(attribute.String("source", SourceCache))
			return &GetLeaderboardResult{Entries: entries, Source: SourceCache, GeneratedAt: time.Now().UTC()}, nil
		}
	}

	entries, err := h.reader.Leaderboard(ctx, q.Limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("get_leaderboard: %w", err)
	}
	if entries == nil {
		entries = []scoring.LeaderboardEntry{}
	}
	span.SetAttributes(attribute.String("source", SourceStore))
	return &GetLeaderboardResult{Entries: entries, Source: SourceStore, GeneratedAt: time.Now().UTC()}, nil
}

// warm rebuilds the cache from the full store ranking without blocking the
// caller. Concurrent cold reads share one rebuild.
func (h *GetLeaderboardHandler) warm() {
	h.warming.DoChan("rebuild", func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), h.rebuildTimeout)
		defer cancel()

		entries, err := h.reader.Leaderboard(ctx, 0)
		if err == nil {
			err = h.cache.Rebuild(ctx, entries)
		}
		if err != nil {
			h.log.Warn("leaderboard cache rebuild failed", logger.Err(err))
			return nil, err
		}
		h.log.Info("leaderboard cache rebuilt", logger.Int("entries", len(entries)))
		return len(entries), nil
	})
}

func (h *GetLeaderboardHandler) cacheEnabled() bool {
	if h.cache == nil {
		return false
	}
	return h.features == nil || h.features.Enabled(config.FeatureLeaderboardCache, "")
}
