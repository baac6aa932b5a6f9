// Package scheduler runs the engine's periodic maintenance jobs, such as
// reconciling denormalized totals and rebuilding the leaderboard cache.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/scoring-engine/pkg/logger"
)

var (
	ErrNilJob                  = errors.New("job is nil")
	ErrNilSchedule             = errors.New("schedule is nil")
	ErrJobAlreadyExists        = errors.New("job already registered")
	ErrJobNotFound             = errors.New("job not found")
	ErrJobPanic                = errors.New("job panicked")
	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")
	ErrSchedulerNotRunning     = errors.New("scheduler is not running")
)

// Job is one unit of periodic work. Run's context is cancelled on Stop.
type Job interface {
	Name() string
	Description() string
	Run(ctx context.Context) error
}

// Schedule yields due times. Next returns the zero time when the job should
// not run again.
type Schedule interface {
	Next(after time.Time) time.Time
	String() string
}

// Observer receives one call per finished run.
type Observer interface {
	JobRun(job string, err error)
}

type JobResult struct {
	JobName     string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Success     bool
	Error       error
	// Manual marks runs started by RunNow.
	Manual bool
}

// JobInfo is a snapshot of one registered job.
type JobInfo struct {
	Name        string
	Description string
	Schedule    string
	LastRun     time.Time
	NextRun     time.Time
	RunCount    int64
	FailCount   int64
	// SkipCount counts due times that passed while a run was in progress.
	SkipCount  int64
	LastResult *JobResult
}

type Config struct {
	Logger   *logger.Logger
	Observer Observer
	// HistorySize bounds GetHistory. Default 200.
	HistorySize int
}

type entry struct {
	job        Job
	schedule   Schedule
	runOnStart bool
	info       JobInfo // guarded by Scheduler.mu
}

// Scheduler drives each job from its own timer, so a job never overlaps with
// its scheduled self.
type Scheduler struct {
	log         *logger.Logger
	observer    Observer
	historySize int

	mu      sync.Mutex
	jobs    map[string]*entry
	history []JobResult
	cancel  context.CancelFunc
	group   *errgroup.Group
	started time.Time
}

func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	return &Scheduler{
		log:         cfg.Logger.With(logger.Component("scheduler")),
		observer:    cfg.Observer,
		historySize: cfg.HistorySize,
		jobs:        make(map[string]*entry),
	}
}

// RegisterOption tunes a single registration.
type RegisterOption func(*entry)

// RunOnStart runs the job as soon as the scheduler starts instead of waiting
// for the first due time.
func RunOnStart() RegisterOption {
	return func(e *entry) { e.runOnStart = true }
}

// Register adds job. Jobs registered after Start begin with the next Start.
func (s *Scheduler) Register(job Job, schedule Schedule, opts ...RegisterOption) error {
	if job == nil {
		return ErrNilJob
	}
	if schedule == nil {
		return ErrNilSchedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	name := job.Name()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}
	e := &entry{job: job, schedule: schedule}
	for _, opt := range opts {
		opt(e)
	}
	e.info = JobInfo{
		Name:        name,
		Description: job.Description(),
		Schedule:    schedule.String(),
		NextRun:     schedule.Next(time.Now()),
	}
	s.jobs[name] = e
	return nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrSchedulerAlreadyRunning
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.group, ctx = errgroup.WithContext(ctx)
	s.started = time.Now()

	for _, e := range s.jobs {
		first := e.schedule.Next(s.started)
		if e.runOnStart {
			first = s.started
		}
		e.info.NextRun = first
		if first.IsZero() {
			continue
		}
		s.group.Go(func() error {
			s.loop(ctx, e, first)
			return nil
		})
	}
	s.log.Info("scheduler started", logger.Int("jobs_count", len(s.jobs)))
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel, group := s.cancel, s.group
	s.cancel, s.group = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return ErrSchedulerNotRunning
	}

	cancel()
	_ = group.Wait()
	s.log.Info("scheduler stopped", logger.Duration("uptime", time.Since(s.started)))
	return nil
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) loop(ctx context.Context, e *entry, due time.Time) {
	timer := time.NewTimer(time.Until(due))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		s.execute(ctx, e, false)

		now := time.Now()
		var missed int64
		for due = e.schedule.Next(due); !due.IsZero() && !due.After(now); due = e.schedule.Next(due) {
			missed++
		}

		s.mu.Lock()
		e.info.NextRun = due
		e.info.SkipCount += missed
		s.mu.Unlock()
		if missed > 0 {
			s.log.Warn("job overran its schedule",
				logger.String("job", e.info.Name),
				logger.Int64("skipped", missed),
			)
		}
		if due.IsZero() {
			return
		}
		timer.Reset(time.Until(due))
	}
}

func (s *Scheduler) execute(ctx context.Context, e *entry, manual bool) JobResult {
	name := e.info.Name
	started := time.Now()
	err := runSafely(ctx, e.job)
	done := time.Now()

	res := JobResult{
		JobName:     name,
		StartedAt:   started,
		CompletedAt: done,
		Duration:    done.Sub(started),
		Success:     err == nil,
		Error:       err,
		Manual:      manual,
	}

	s.mu.Lock()
	e.info.LastRun = started
	e.info.RunCount++
	if err != nil {
		e.info.FailCount++
	}
	e.info.LastResult = &res
	s.history = append(s.history, res)
	if over := len(s.history) - s.historySize; over > 0 {
		s.history = slices.Delete(s.history, 0, over)
	}
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.JobRun(name, err)
	}

	fields := []logger.Field{
		logger.String("job", name),
		logger.Bool("manual", manual),
		logger.Duration("duration", res.Duration),
	}
	if err != nil {
		s.log.Error("job failed", append(fields, logger.Err(err))...)
	} else {
		s.log.Info("job completed", fields...)
	}
	return res
}

func runSafely(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanic, r)
		}
	}()
	return job.Run(ctx)
}

// RunNow executes a job immediately, outside its schedule. It may overlap a
// scheduled run of the same job.
func (s *Scheduler) RunNow(ctx context.Context, name string) (*JobResult, error) {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	res := s.execute(ctx, e, true)
	return &res, res.Error
}

// ListJobs returns every registered job, sorted by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobInfo, 0, len(s.jobs))
	for _, e := range s.jobs {
		out = append(out, e.info)
	}
	slices.SortFunc(out, func(a, b JobInfo) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// GetHistory returns up to limit recent results, oldest first. limit <= 0
// returns everything kept.
func (s *Scheduler) GetHistory(limit int) []JobResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	return slices.Clone(s.history[len(s.history)-limit:])
}
