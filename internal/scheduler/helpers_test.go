package scheduler

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/opspulse/internal/domain"
	"github.com/shaiso/opspulse/internal/repo"
	"github.com/shaiso/opspulse/internal/runner"
	"github.com/shaiso/opspulse/internal/telemetry"
)

// baseTime — граница минуты, от которой считаются слоты в тестах.
var baseTime = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// memStore — хранилище в памяти с той же CAS-семантикой, что и SQL-хранилища.
type memStore struct {
	mu       sync.Mutex
	routines map[uuid.UUID]*domain.Routine
	runs     []domain.RoutineRun

	listErr  error
	claimErr error

	// afterList вызывается после выборки, вне блокировки.
	afterList func()
}

func newMemStore(routines ...*domain.Routine) *memStore {
	s := &memStore{routines: make(map[uuid.UUID]*domain.Routine)}
	for _, r := range routines {
		s.routines[r.ID] = r
	}
	return s
}

func (s *memStore) ListDueActive(_ context.Context, now time.Time, slack time.Duration, limit int) ([]domain.Routine, error) {
	s.mu.Lock()
	if s.listErr != nil {
		s.mu.Unlock()
		return nil, s.listErr
	}
	var due []domain.Routine
	for _, r := range s.routines {
		if r.IsDue(now, slack) && r.Claimable(now) {
			due = append(due, *r)
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].NextRunAt.Before(due[j].NextRunAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	if s.afterList != nil {
		s.afterList()
	}
	return due, nil
}

func (s *memStore) TryClaim(_ context.Context, c domain.Claim) (*domain.Routine, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return nil, false, s.claimErr
	}
	r, ok := s.routines[c.RoutineID]
	if !ok || !r.Claimable(c.Now) {
		return nil, false, nil
	}
	if c.ExpectedNextRunAt != nil && (!r.IsActive || !r.NextRunAt.Equal(*c.ExpectedNextRunAt)) {
		return nil, false, nil
	}
	until := c.LockUntil()
	r.LockUntil = &until
	r.LockedBy = c.Holder
	cp := *r
	return &cp, true, nil
}

func (s *memStore) ReleaseIfHeld(_ context.Context, id uuid.UUID, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.routines[id]; ok && r.LockedBy == holder {
		r.LockUntil = nil
		r.LockedBy = ""
	}
	return nil
}

func (s *memStore) UpdateScheduleAndRelease(_ context.Context, upd domain.ScheduleUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.routines[upd.RoutineID]
	if !ok || r.LockedBy != upd.Holder {
		return repo.ErrLeaseLost
	}
	last := upd.LastRunAt
	r.LastRunAt = &last
	if upd.NextRunAt != nil {
		r.NextRunAt = *upd.NextRunAt
	}
	r.LockUntil = nil
	r.LockedBy = ""
	return nil
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Routine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.routines[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) AppendRun(_ context.Context, run *domain.RoutineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, *run)
	return nil
}

func (s *memStore) get(id uuid.UUID) domain.Routine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.routines[id]
}

func (s *memStore) setLock(id uuid.UUID, holder string, until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.routines[id]
	r.LockedBy = holder
	r.LockUntil = &until
}

func (s *memStore) allRuns() []domain.RoutineRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.RoutineRun(nil), s.runs...)
}

// fakeClock — управляемые часы.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// stubRunner возвращает результат fn и считает одновременные выполнения.
type stubRunner struct {
	clock *fakeClock
	delay time.Duration
	fn    func(routine *domain.Routine) runner.Outcome

	calls    atomic.Int32
	inflight atomic.Int32
	peak     atomic.Int32
}

func (r *stubRunner) Run(ctx context.Context, routine *domain.Routine) runner.Outcome {
	r.calls.Add(1)
	cur := r.inflight.Add(1)
	defer r.inflight.Add(-1)
	for {
		p := r.peak.Load()
		if cur <= p || r.peak.CompareAndSwap(p, cur) {
			break
		}
	}

	started := r.clock.Now()
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.fn != nil {
		out := r.fn(routine)
		if out.StartedAt.IsZero() {
			out.StartedAt = started
			out.FinishedAt = started
		}
		return out
	}
	code := http.StatusOK
	return runner.Outcome{
		Status:     domain.RunStatusSuccess,
		Kind:       runner.KindSuccess,
		HTTPStatus: &code,
		StartedAt:  started,
		FinishedAt: started,
		Attempts:   1,
	}
}

func failOutcome(msg string) runner.Outcome {
	return runner.Outcome{
		Status:       domain.RunStatusFail,
		Kind:         runner.KindNetwork,
		ErrorMessage: msg,
		Attempts:     2,
	}
}

// recordingNotifier запоминает опубликованные runs.
type recordingNotifier struct {
	mu   sync.Mutex
	runs []domain.RoutineRun
}

func (n *recordingNotifier) PublishRunCompleted(_ context.Context, run *domain.RoutineRun) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.runs = append(n.runs, *run)
	return nil
}

func newRoutine(nextRunAt time.Time) *domain.Routine {
	return &domain.Routine{
		ID:              uuid.New(),
		WorkspaceID:     uuid.New(),
		Name:            "check",
		Kind:            domain.RoutineKindHTTPCheck,
		IntervalMinutes: 5,
		EndpointURL:     "http://example.com/health",
		HTTPMethod:      http.MethodGet,
		AuthMode:        domain.AuthModeNone,
		IsActive:        true,
		NextRunAt:       nextRunAt,
	}
}

func newTestScheduler(store *memStore, run Runner, clock *fakeClock, mutate func(*Config)) *Scheduler {
	cfg := Config{
		Routines:   store,
		Runs:       store,
		Runner:     run,
		Logger:     telemetry.Discard(),
		InstanceID: "test",
		Now:        clock.Now,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return s
}
