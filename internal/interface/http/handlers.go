package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/alem-hub/scoring-engine/internal/application/command"
	"github.com/alem-hub/scoring-engine/internal/application/query"
	"github.com/alem-hub/scoring-engine/internal/domain/scoring"
	"github.com/alem-hub/scoring-engine/internal/domain/shared"
	"github.com/alem-hub/scoring-engine/pkg/logger"
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"name":    "scoring-engine",
		"version": s.deps.Version,
		"endpoints": map[string]string{
			"award":       "POST /api/v1/students/{id}/awards",
			"progress":    "GET /api/v1/students/{id}/progress",
			"leaderboard": "GET /api/v1/leaderboard",
			"health":      "GET /health",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, r, http.StatusOK, map[string]any{
			"healthy": true,
			"uptime":  s.Uptime().Round(time.Second).String(),
			"version": s.deps.Version,
		})
		return
	}
	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

// handleReady reports 503 until every dependency answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		if status := s.deps.HealthChecker.Check(r.Context()); !status.Healthy {
			writeJSONError(w, http.StatusServiceUnavailable, "not_ready", status.Message)
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// awardRequest is the body of POST /api/v1/students/{id}/awards.
type awardRequest struct {
	ActivityType  string         `json:"activity_type" validate:"required,max=64"`
	ReferenceID   string         `json:"reference_id,omitempty" validate:"max=128"`
	ReferenceKind string         `json:"reference_kind,omitempty" validate:"max=64"`
	Language      string         `json:"language,omitempty" validate:"max=32"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// awardResponse mirrors command.AwardPointsResult for the wire.
type awardResponse struct {
	StudentID        string                 `json:"student_id"`
	ActivityType     string                 `json:"activity_type"`
	Outcome          string                 `json:"outcome"`
	PointsAwarded    int                    `json:"points_awarded"`
	Bonuses          []scoring.AppliedBonus `json:"bonuses"`
	AchievementBonus int                    `json:"achievement_bonus"`
	TotalPoints      int                    `json:"total_points"`
	CurrentStreak    int                    `json:"current_streak"`
	LongestStreak    int                    `json:"longest_streak"`
	StreakIncreased  bool                   `json:"streak_increased"`
	Achievements     []scoring.Achievement  `json:"achievements"`
	AwardedAt        time.Time              `json:"awarded_at"`
}

func newAwardResponse(res *command.AwardPointsResult) awardResponse {
	out := awardResponse{
		StudentID:        res.StudentID,
		ActivityType:     res.ActivityType,
		Outcome:          string(res.Outcome),
		PointsAwarded:    res.PointsAwarded,
		Bonuses:          res.Bonuses,
		AchievementBonus: res.AchievementBonus(),
		TotalPoints:      res.TotalPoints,
		CurrentStreak:    res.CurrentStreak,
		LongestStreak:    res.LongestStreak,
		StreakIncreased:  res.StreakIncreased,
		Achievements:     res.Achievements,
		AwardedAt:        res.AwardedAt,
	}
	if out.Bonuses == nil {
		out.Bonuses = []scoring.AppliedBonus{}
	}
	if out.Achievements == nil {
		out.Achievements = []scoring.Achievement{}
	}
	return out
}

// handleAwardPoints handles POST /api/v1/students/{id}/awards.
func (s *Server) handleAwardPoints(w http.ResponseWriter, r *http.Request) {
	if s.deps.AwardPoints == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "service_unavailable", "Award service not configured")
		return
	}

	var req awardRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", "Request body is not valid JSON", err.Error())
		return
	}
	if details := validationDetails(validate.Struct(req)); len(details) > 0 {
		writeJSONError(w, http.StatusBadRequest, "validation_failed", "Request body failed validation", details...)
		return
	}

	res, err := s.deps.AwardPoints.Handle(r.Context(), command.AwardPointsCommand{
		StudentID:     r.PathValue("id"),
		ActivityType:  req.ActivityType,
		ReferenceID:   req.ReferenceID,
		ReferenceKind: req.ReferenceKind,
		Language:      req.Language,
		Metadata:      req.Metadata,
		CorrelationID: requestIDFrom(r.Context()),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newAwardResponse(res))
}

// handleGetStudentProgress handles GET /api/v1/students/{id}/progress.
// Optional query parameters: transactions, days, completions.
func (s *Server) handleGetStudentProgress(w http.ResponseWriter, r *http.Request) {
	if s.deps.Progress == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "service_unavailable", "Progress service not configured")
		return
	}

	q := query.GetStudentProgressQuery{StudentID: r.PathValue("id")}
	var err error
	if q.TransactionLimit, err = queryInt(r, "transactions"); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}
	if q.Days, err = queryInt(r, "days"); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}
	if q.CompletionLimit, err = queryInt(r, "completions"); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}

	res, err := s.deps.Progress.Handle(r.Context(), q)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// handleGetLeaderboard handles GET /api/v1/leaderboard?limit=N.
func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	if s.deps.Leaderboard == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "service_unavailable", "Leaderboard service not configured")
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}

	res, err := s.deps.Leaderboard.Handle(r.Context(), query.GetLeaderboardQuery{Limit: limit})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.deps.Metrics.LeaderboardRead(res.Source)
	if res.Entries == nil {
		res.Entries = []scoring.LeaderboardEntry{}
	}
	writeJSON(w, r, http.StatusOK, res)
}

// writeDomainError maps application errors onto HTTP status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case shared.IsValidation(err):
		writeJSONError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case shared.IsNotFound(err):
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
	case shared.IsConflict(err), shared.IsAlreadyExists(err):
		writeJSONError(w, http.StatusConflict, "conflict", "Concurrent update, retry the request")
	case errors.Is(err, context.DeadlineExceeded):
		writeJSONError(w, http.StatusServiceUnavailable, "timeout", "Request timed out")
	case shared.IsUnavailable(err):
		writeJSONError(w, http.StatusServiceUnavailable, "unavailable", "Storage temporarily unavailable, retry later")
	default:
		logger.FromContext(r.Context()).Error("request failed", logger.Err(err), logger.String("path", r.URL.Path))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

// decodeJSON reads exactly one JSON object from the body.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		return err
	}
	if dec.More() {
		return errors.New("body must contain a single JSON object")
	}
	return nil
}

// validationDetails flattens validator errors into "field: tag" strings.
func validationDetails(err error) []string {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			out = append(out, fmt.Sprintf("%s: must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		out = append(out, fmt.Sprintf("%s: must satisfy %s", fe.Field(), fe.Tag()))
	}
	return out
}

// queryInt parses an optional integer query parameter; absent means 0.
func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}
