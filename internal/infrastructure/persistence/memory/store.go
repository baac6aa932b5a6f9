// Package memory implements the scoring store in process memory. It backs
// the application tests and the "memory" database driver used for local runs.
package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/alem-hub/scoring-engine/internal/domain/scoring"
	"github.com/alem-hub/scoring-engine/internal/domain/shared"
	"github.com/alem-hub/scoring-engine/pkg/timeutil"
)

// Store keeps one partition per student. A unit of work writes to an
// overlay holding only the rows it touched; commit applies the overlay to the
// partition in place. Readers copy rows out under the read lock.
type Store struct {
	mu       sync.RWMutex
	students map[shared.StudentID]*partition

	locksMu sync.Mutex
	locks   map[shared.StudentID]*sync.Mutex
}

// New creates an empty store.
func New() *Store {
	return &Store{
		students: make(map[shared.StudentID]*partition),
		locks:    make(map[shared.StudentID]*sync.Mutex),
	}
}

// Ping implements the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func (s *Store) studentLock(id shared.StudentID) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// InStudentTx implements scoring.Store.
func (s *Store) InStudentTx(ctx context.Context, studentID shared.StudentID, fn func(ctx context.Context, tx scoring.Tx) error) error {
	lock := s.studentLock(studentID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	base := s.students[studentID]
	s.mu.RUnlock()

	t := &tx{studentID: studentID, base: base, w: newOverlay()}
	if err := fn(ctx, t); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.students[studentID]
	if p == nil {
		p = newPartition()
		s.students[studentID] = p
	}
	t.w.applyTo(p)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PARTITION
// ══════════════════════════════════════════════════════════════════════════════

type completionKey struct {
	kind string
	ref  string
}

// partition is a student's committed rows. Rows are stored as private copies
// and replaced whole, never mutated in place.
type partition struct {
	completions  map[completionKey]scoring.CompletedActivity
	transactions []scoring.PointTransaction
	streak       *scoring.LearningStreak
	summaries    map[string]scoring.DailyActivitySummary
	achievements []scoring.Achievement
}

func newPartition() *partition {
	return &partition{
		completions: make(map[completionKey]scoring.CompletedActivity),
		summaries:   make(map[string]scoring.DailyActivitySummary),
	}
}

func (p *partition) sum() int {
	total := 0
	for _, pt := range p.transactions {
		total += pt.PointsChange
	}
	return total
}

// overlay is the write set of one unit of work: upserted rows keyed like the
// partition, plus appended transactions and achievements.
type overlay struct {
	completions  map[completionKey]scoring.CompletedActivity
	summaries    map[string]scoring.DailyActivitySummary
	streak       *scoring.LearningStreak
	transactions []scoring.PointTransaction
	achievements []scoring.Achievement
}

func newOverlay() *overlay {
	return &overlay{
		completions: make(map[completionKey]scoring.CompletedActivity),
		summaries:   make(map[string]scoring.DailyActivitySummary),
	}
}

// snapshot copies the overlay's maps. Appended slices only grow, so keeping
// their headers is enough to truncate back.
func (o *overlay) snapshot() *overlay {
	out := *o
	out.completions = maps.Clone(o.completions)
	out.summaries = maps.Clone(o.summaries)
	return &out
}

func (o *overlay) applyTo(p *partition) {
	for k, v := range o.completions {
		p.completions[k] = v
	}
	for k, v := range o.summaries {
		p.summaries[k] = v
	}
	if o.streak != nil {
		p.streak = o.streak
	}
	p.transactions = append(p.transactions, o.transactions...)
	p.achievements = append(p.achievements, o.achievements...)
}

func copyCompletion(c scoring.CompletedActivity) scoring.CompletedActivity {
	if c.BestScore != nil {
		v := *c.BestScore
		c.BestScore = &v
	}
	if c.LatestScore != nil {
		v := *c.LatestScore
		c.LatestScore = &v
	}
	c.Metadata = c.Metadata.Clone()
	return c
}

// ══════════════════════════════════════════════════════════════════════════════
// TX
// ══════════════════════════════════════════════════════════════════════════════

// tx reads through its overlay to the committed partition. base is nil for a
// student with no committed rows; only this unit of work can change it.
type tx struct {
	studentID shared.StudentID
	base      *partition
	w         *overlay
}

func (t *tx) own(id shared.StudentID) error {
	if id != t.studentID {
		return shared.ErrForeignStudent
	}
	return nil
}

func (t *tx) completion(k completionKey) (scoring.CompletedActivity, bool) {
	if c, ok := t.w.completions[k]; ok {
		return c, true
	}
	if t.base == nil {
		return scoring.CompletedActivity{}, false
	}
	c, ok := t.base.completions[k]
	return c, ok
}

func (t *tx) FindCompletion(_ context.Context, key scoring.CompletionKey) (*scoring.CompletedActivity, error) {
	if err := t.own(key.StudentID); err != nil {
		return nil, err
	}
	c, ok := t.completion(completionKey{key.Kind, key.ReferenceID})
	if !ok {
		return nil, shared.ErrCompletionNotFound
	}
	out := copyCompletion(c)
	return &out, nil
}

func (t *tx) InsertCompletion(_ context.Context, c *scoring.CompletedActivity) error {
	if err := t.own(c.StudentID); err != nil {
		return err
	}
	k := completionKey{c.ActivityKind, c.ReferenceID}
	if _, ok := t.completion(k); ok {
		return shared.ErrCompletionConflict
	}
	t.w.completions[k] = copyCompletion(*c)
	return nil
}

func (t *tx) UpdateCompletion(_ context.Context, c *scoring.CompletedActivity) error {
	if err := t.own(c.StudentID); err != nil {
		return err
	}
	k := completionKey{c.ActivityKind, c.ReferenceID}
	if _, ok := t.completion(k); !ok {
		return shared.ErrCompletionNotFound
	}
	t.w.completions[k] = copyCompletion(*c)
	return nil
}

func (t *tx) AppendTransaction(_ context.Context, pt *scoring.PointTransaction) error {
	if err := t.own(pt.StudentID); err != nil {
		return err
	}
	row := *pt
	row.Metadata = pt.Metadata.Clone()
	t.w.transactions = append(t.w.transactions, row)
	return nil
}

func (t *tx) SumTransactions(_ context.Context, studentID shared.StudentID) (int, error) {
	if err := t.own(studentID); err != nil {
		return 0, err
	}
	total := 0
	if t.base != nil {
		total = t.base.sum()
	}
	for _, pt := range t.w.transactions {
		total += pt.PointsChange
	}
	return total, nil
}

func (t *tx) FindStreak(_ context.Context, studentID shared.StudentID) (*scoring.LearningStreak, error) {
	if err := t.own(studentID); err != nil {
		return nil, err
	}
	current := t.w.streak
	if current == nil && t.base != nil {
		current = t.base.streak
	}
	if current == nil {
		return nil, shared.ErrStreakNotFound
	}
	st := *current
	return &st, nil
}

func (t *tx) SaveStreak(_ context.Context, st *scoring.LearningStreak) error {
	if err := t.own(st.StudentID); err != nil {
		return err
	}
	row := *st
	t.w.streak = &row
	return nil
}

func (t *tx) FindDailySummary(_ context.Context, studentID shared.StudentID, date time.Time) (*scoring.DailyActivitySummary, error) {
	if err := t.own(studentID); err != nil {
		return nil, err
	}
	key := timeutil.FormatDate(date)
	d, ok := t.w.summaries[key]
	if !ok && t.base != nil {
		d, ok = t.base.summaries[key]
	}
	if !ok {
		return nil, shared.ErrSummaryNotFound
	}
	d.LanguagesPracticed = slices.Clone(d.LanguagesPracticed)
	return &d, nil
}

func (t *tx) SaveDailySummary(_ context.Context, d *scoring.DailyActivitySummary) error {
	if err := t.own(d.StudentID); err != nil {
		return err
	}
	row := *d
	row.LanguagesPracticed = slices.Clone(d.LanguagesPracticed)
	t.w.summaries[timeutil.FormatDate(d.Date)] = row
	return nil
}

func (t *tx) InsertAchievement(_ context.Context, a *scoring.Achievement) (bool, error) {
	if err := t.own(a.StudentID); err != nil {
		return false, err
	}
	held := func(list []scoring.Achievement) bool {
		return slices.ContainsFunc(list, func(e scoring.Achievement) bool { return e.Type == a.Type })
	}
	if held(t.w.achievements) || (t.base != nil && held(t.base.achievements)) {
		return false, nil
	}
	t.w.achievements = append(t.w.achievements, *a)
	return true, nil
}

// Savepoint costs a copy of the rows written so far in this unit of work,
// not of the student's history.
func (t *tx) Savepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	saved := t.w.snapshot()
	if err := fn(ctx); err != nil {
		t.w = saved
		return err
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// READER
// ══════════════════════════════════════════════════════════════════════════════

// GetStreak implements scoring.Reader.
func (s *Store) GetStreak(_ context.Context, studentID shared.StudentID) (*scoring.LearningStreak, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.students[studentID]
	if p == nil || p.streak == nil {
		return nil, shared.ErrStreakNotFound
	}
	st := *p.streak
	return &st, nil
}

// ListAchievements implements scoring.Reader. Newest first.
func (s *Store) ListAchievements(_ context.Context, studentID shared.StudentID) ([]scoring.Achievement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.students[studentID]
	if p == nil {
		return []scoring.Achievement{}, nil
	}
	out := slices.Clone(p.achievements)
	slices.Reverse(out)
	slices.SortStableFunc(out, func(a, b scoring.Achievement) int {
		return b.EarnedAt.Compare(a.EarnedAt)
	})
	if out == nil {
		out = []scoring.Achievement{}
	}
	return out, nil
}

// ListTransactions implements scoring.Reader. Newest first.
func (s *Store) ListTransactions(_ context.Context, studentID shared.StudentID, limit int) ([]scoring.PointTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.students[studentID]
	if p == nil {
		return []scoring.PointTransaction{}, nil
	}
	out := slices.Clone(p.transactions)
	slices.Reverse(out)
	slices.SortStableFunc(out, func(a, b scoring.PointTransaction) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []scoring.PointTransaction{}
	}
	return out, nil
}

// ListDailySummaries implements scoring.Reader. Oldest first, bounds inclusive.
func (s *Store) ListDailySummaries(_ context.Context, studentID shared.StudentID, from, to time.Time) ([]scoring.DailyActivitySummary, error) {
	out := []scoring.DailyActivitySummary{}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.students[studentID]
	if p == nil {
		return out, nil
	}
	lo, hi := timeutil.FormatDate(from), timeutil.FormatDate(to)
	for key, d := range p.summaries {
		if key >= lo && key <= hi {
			d.LanguagesPracticed = slices.Clone(d.LanguagesPracticed)
			out = append(out, d)
		}
	}
	slices.SortFunc(out, func(a, b scoring.DailyActivitySummary) int {
		return a.Date.Compare(b.Date)
	})
	return out, nil
}

// ListCompletions implements scoring.Reader. Most recently completed first.
func (s *Store) ListCompletions(_ context.Context, studentID shared.StudentID, limit int) ([]scoring.CompletedActivity, error) {
	out := []scoring.CompletedActivity{}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.students[studentID]
	if p == nil {
		return out, nil
	}
	for _, c := range p.completions {
		out = append(out, copyCompletion(c))
	}
	slices.SortFunc(out, func(a, b scoring.CompletedActivity) int {
		if c := b.LastCompletedAt.Compare(a.LastCompletedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ActivityKind+"/"+a.ReferenceID, b.ActivityKind+"/"+b.ReferenceID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CompletionStatsByKind implements scoring.Reader.
func (s *Store) CompletionStatsByKind(_ context.Context, studentID shared.StudentID) ([]scoring.KindStats, error) {
	out := []scoring.KindStats{}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.students[studentID]
	if p == nil {
		return out, nil
	}

	type acc struct {
		stats  scoring.KindStats
		sum    float64
		scored int
	}
	byKind := make(map[string]*acc)
	for _, c := range p.completions {
		a, ok := byKind[c.ActivityKind]
		if !ok {
			a = &acc{stats: scoring.KindStats{ActivityKind: c.ActivityKind}}
			byKind[c.ActivityKind] = a
		}
		a.stats.Activities++
		a.stats.Completions += c.CompletionCount
		if c.BestScore != nil {
			a.sum += *c.BestScore
			a.scored++
		}
	}
	for _, a := range byKind {
		if a.scored > 0 {
			avg := a.sum / float64(a.scored)
			a.stats.AverageBestScore = &avg
		}
		out = append(out, a.stats)
	}
	slices.SortFunc(out, func(a, b scoring.KindStats) int {
		return cmp.Compare(a.ActivityKind, b.ActivityKind)
	})
	return out, nil
}

// Leaderboard implements scoring.Reader.
func (s *Store) Leaderboard(_ context.Context, limit int) ([]scoring.LeaderboardEntry, error) {
	s.mu.RLock()
	out := make([]scoring.LeaderboardEntry, 0, len(s.students))
	for _, p := range s.students {
		if p.streak == nil {
			continue
		}
		out = append(out, scoring.LeaderboardEntry{
			StudentID:     p.streak.StudentID,
			TotalPoints:   p.streak.TotalPoints,
			CurrentStreak: p.streak.CurrentStreak,
			LongestStreak: p.streak.LongestStreak,
		})
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b scoring.LeaderboardEntry) int {
		if c := cmp.Compare(b.TotalPoints, a.TotalPoints); c != 0 {
			return c
		}
		return cmp.Compare(a.StudentID, b.StudentID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out, nil
}

// FindTotalDiscrepancies implements scoring.Reader.
func (s *Store) FindTotalDiscrepancies(_ context.Context) ([]scoring.TotalDiscrepancy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []scoring.TotalDiscrepancy{}
	for id, p := range s.students {
		if p.streak == nil {
			continue
		}
		if sum := p.sum(); sum != p.streak.TotalPoints {
			out = append(out, scoring.TotalDiscrepancy{
				StudentID:   id,
				StoredTotal: p.streak.TotalPoints,
				LedgerTotal: sum,
			})
		}
	}
	slices.SortFunc(out, func(a, b scoring.TotalDiscrepancy) int {
		return cmp.Compare(a.StudentID, b.StudentID)
	})
	return out, nil
}

var _ scoring.Store = (*Store)(nil)
