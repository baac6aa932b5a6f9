package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/scoring-engine/internal/domain/scoring"
	"github.com/alem-hub/scoring-engine/internal/domain/shared"
	"github.com/alem-hub/scoring-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET STUDENT PROGRESS QUERY
// Dashboard view of one student: streak, achievements, recent point
// transactions, the last days of activity and the completion ledger.
// ══════════════════════════════════════════════════════════════════════════════

const (
	DefaultRecentTransactions = 20
	DefaultRecentDays         = 7
	DefaultCompletedLimit     = 50
)

// GetStudentProgressQuery holds the request parameters.
type GetStudentProgressQuery struct {
	StudentID string

	// Optional overrides; zero means the default.
	TransactionLimit int
	Days             int
	CompletionLimit  int
}

// Validate checks the query and applies defaults.
func (q *GetStudentProgressQuery) Validate() error {
	if _, err := shared.NewStudentID(q.StudentID); err != nil {
		return err
	}
	if q.TransactionLimit < 0 || q.Days < 0 || q.CompletionLimit < 0 {
		return shared.ErrInvalidLimit
	}
	if q.TransactionLimit == 0 {
		q.TransactionLimit = DefaultRecentTransactions
	}
	if q.Days == 0 {
		q.Days = DefaultRecentDays
	}
	if q.Days > 366 {
		q.Days = 366
	}
	if q.CompletionLimit == 0 {
		q.CompletionLimit = DefaultCompletedLimit
	}
	return nil
}

// GetStudentProgressResult is the aggregate progress view.
type GetStudentProgressResult struct {
	StudentID string `json:"student_id"`

	Streak scoring.LearningStreak `json:"streak"`

	// ActiveStreak is current_streak as of today; a lapsed streak reads 0.
	ActiveStreak int `json:"active_streak"`

	Achievements        []scoring.Achievement          `json:"achievements"`
	RecentTransactions  []scoring.PointTransaction     `json:"recent_transactions"`
	RecentDailyActivity []scoring.DailyActivitySummary `json:"recent_daily_activity"`
	CompletedActivities []scoring.CompletedActivity    `json:"completed_activities"`
	CompletionStats     scoring.CompletionStats        `json:"completion_stats"`

	GeneratedAt time.Time `json:"generated_at"`
}

// GetStudentProgressHandler handles progress queries.
type GetStudentProgressHandler struct {
	reader   scoring.Reader
	calendar scoring.Calendar
	tracer   trace.Tracer
}

// NewGetStudentProgressHandler creates the handler. Days are resolved in loc.
func NewGetStudentProgressHandler(reader scoring.Reader, clock timeutil.Clock, loc *time.Location) *GetStudentProgressHandler {
	return &GetStudentProgressHandler{
		reader:   reader,
		calendar: scoring.NewCalendar(clock, loc),
		tracer:   otel.Tracer(tracerName),
	}
}

// Handle executes the query. The reads are independent and run concurrently.
func (h *GetStudentProgressHandler) Handle(ctx context.Context, q GetStudentProgressQuery) (*GetStudentProgressResult, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_student_progress: %w", err)
	}
	studentID := shared.StudentID(strings.TrimSpace(q.StudentID))

	ctx, span := h.tracer.Start(ctx, "scoring.GetStudentProgress", trace.WithAttributes(attribute.String("student.id", studentID.String())))
	defer span.End()

	today := h.calendar.Today()
	days := timeutil.LastNDays(today, q.Days)
	res := &GetStudentProgressResult{
		StudentID:   studentID.String(),
		Streak:      scoring.LearningStreak{StudentID: studentID},
		GeneratedAt: h.calendar.Now(),
	}

	var (
		dailyRows []scoring.DailyActivitySummary
		kindStats []scoring.KindStats
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		st, err := h.reader.GetStreak(gctx, studentID)
		if err != nil {
			if shared.IsNotFound(err) {
				return nil
			}
			return fmt.Errorf("streak: %w", err)
		}
		res.Streak = *st
		return nil
	})
	g.Go(func() error {
		list, err := h.reader.ListAchievements(gctx, studentID)
		if err != nil {
			return fmt.Errorf("achievements: %w", err)
		}
		res.Achievements = list
		return nil
	})
	g.Go(func() error {
		list, err := h.reader.ListTransactions(gctx, studentID, q.TransactionLimit)
		if err != nil {
			return fmt.Errorf("transactions: %w", err)
		}
		res.RecentTransactions = list
		return nil
	})
	g.Go(func() error {
		rows, err := h.reader.ListDailySummaries(gctx, studentID, days[0], days[len(days)-1])
		if err != nil {
			return fmt.Errorf("daily summaries: %w", err)
		}
		dailyRows = rows
		return nil
	})
	g.Go(func() error {
		list, err := h.reader.ListCompletions(gctx, studentID, q.CompletionLimit)
		if err != nil {
			return fmt.Errorf("completions: %w", err)
		}
		res.CompletedActivities = list
		return nil
	})
	g.Go(func() error {
		rows, err := h.reader.CompletionStatsByKind(gctx, studentID)
		if err != nil {
			return fmt.Errorf("completion stats: %w", err)
		}
		kindStats = rows
		return nil
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("get_student_progress: %w", err)
	}

	res.ActiveStreak = res.Streak.ActiveStreak(today)
	res.RecentDailyActivity = scoring.ZeroFillDays(studentID, days, dailyRows)
	res.CompletionStats = scoring.NewCompletionStats(kindStats)
	if res.Achievements == nil {
		res.Achievements = []scoring.Achievement{}
	}
	if res.RecentTransactions == nil {
		res.RecentTransactions = []scoring.PointTransaction{}
	}
	if res.CompletedActivities == nil {
		res.CompletedActivities = []scoring.CompletedActivity{}
	}
	return res, nil
}
