package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/opspulse/internal/domain"
	"github.com/shaiso/opspulse/internal/repo"
	"github.com/shaiso/opspulse/internal/runner"
)

// --- Scenario Tests ---

func TestTick_DueRoutineSucceeds(t *testing.T) {
	routine := newRoutine(baseTime)
	store := newMemStore(routine)
	clock := newClock(baseTime.Add(time.Second))
	run := &stubRunner{clock: clock}
	notifier := &recordingNotifier{}
	s := newTestScheduler(store, run, clock, func(c *Config) { c.Notifier = notifier })

	res, err := s.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Due)
	assert.Equal(t, 1, res.Claimed)
	assert.Equal(t, 1, res.Succeeded)

	runs := store.allRuns()
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunStatusSuccess, runs[0].Status)
	assert.Equal(t, domain.TriggeredBySchedule, runs[0].TriggeredBy)
	require.NotNil(t, runs[0].HTTPStatus)
	assert.Equal(t, http.StatusOK, *runs[0].HTTPStatus)
	assert.Empty(t, runs[0].ErrorMessage)

	got := store.get(routine.ID)
	require.NotNil(t, got.LastRunAt)
	assert.Equal(t, runs[0].StartedAt, *got.LastRunAt)
	assert.Equal(t, baseTime.Add(5*time.Minute), got.NextRunAt)
	assert.Nil(t, got.LockUntil)
	assert.Empty(t, got.LockedBy)

	require.Len(t, notifier.runs, 1)
	assert.Equal(t, runs[0].ID, notifier.runs[0].ID)
}

func TestTick_LockedRoutineExcluded(t *testing.T) {
	routine := newRoutine(baseTime)
	store := newMemStore(routine)
	store.setLock(routine.ID, "X", baseTime.Add(30*time.Second))
	clock := newClock(baseTime)
	run := &stubRunner{clock: clock}
	s := newTestScheduler(store, run, clock, nil)

	res, err := s.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, res.Due)
	assert.Equal(t, int32(0), run.calls.Load())
	assert.Equal(t, "X", store.get(routine.ID).LockedBy)
}

func TestTick_StaleLockReclaimed(t *testing.T) {
	routine := newRoutine(baseTime)
	store := newMemStore(routine)
	store.setLock(routine.ID, "X", baseTime.Add(-10*time.Second))
	clock := newClock(baseTime)
	run := &stubRunner{clock: clock}
	s := newTestScheduler(store, run, clock, nil)

	res, err := s.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Claimed)
	assert.Len(t, store.allRuns(), 1)
	assert.Empty(t, store.get(routine.ID).LockedBy)
}

type timeoutTransport struct{}

func (timeoutTransport) Do(context.Context, runner.Request) (*runner.Response, error) {
	return nil, fmt.Errorf("%w after 8s", runner.ErrTimeout)
}

func TestTick_TimeoutOnBothAttemptsStillReschedules(t *testing.T) {
	routine := newRoutine(baseTime)
	store := newMemStore(routine)
	clock := newClock(baseTime.Add(time.Second))
	r := runner.New(runner.Config{
		Transport:  timeoutTransport{},
		Retries:    1,
		Backoff:    time.Millisecond,
		BackoffMax: time.Millisecond,
		Now:        clock.Now,
	})
	s := newTestScheduler(store, r, clock, nil)

	res, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	runs := store.allRuns()
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunStatusFail, runs[0].Status)
	assert.Nil(t, runs[0].HTTPStatus)
	assert.Contains(t, runs[0].ErrorMessage, "timeout")
	assert.Equal(t, baseTime.Add(5*time.Minute), store.get(routine.ID).NextRunAt)
}

func TestTick_OverlappingTicksExecuteOnce(t *testing.T) {
	routine := newRoutine(baseTime)
	store := newMemStore(routine)

	// Оба тика выбирают routine до того, как кто-то её захватит.
	var barrier sync.WaitGroup
	barrier.Add(2)
	store.afterList = func() {
		barrier.Done()
		barrier.Wait()
	}

	early := newClock(baseTime.Add(-time.Second))
	late := newClock(baseTime.Add(time.Second))
	runA := &stubRunner{clock: early}
	runB := &stubRunner{clock: late}
	a := newTestScheduler(store, runA, early, func(c *Config) { c.InstanceID = "a" })
	b := newTestScheduler(store, runB, late, func(c *Config) { c.InstanceID = "b" })

	var (
		wg         sync.WaitGroup
		resA, resB *TickResult
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		var err error
		resA, err = a.Tick(context.Background())
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		var err error
		resB, err = b.Tick(context.Background())
		assert.NoError(t, err)
	}()
	wg.Wait()

	require.NotNil(t, resA)
	require.NotNil(t, resB)
	assert.Equal(t, 1, resA.Due)
	assert.Equal(t, 1, resB.Due)
	assert.Equal(t, 1, resA.Claimed+resB.Claimed)
	assert.Equal(t, 1, resA.ClaimLost+resB.ClaimLost)
	assert.Equal(t, int32(1), runA.calls.Load()+runB.calls.Load())
	assert.Len(t, store.allRuns(), 1)
	assert.Equal(t, baseTime.Add(5*time.Minute), store.get(routine.ID).NextRunAt)
}

func TestTick_SecondTickAfterCompletionSeesNothingDue(t *testing.T) {
	routine := newRoutine(baseTime)
	store := newMemStore(routine)
	clock := newClock(baseTime.Add(-time.Second))
	run := &stubRunner{clock: clock}
	s := newTestScheduler(store, run, clock, nil)

	_, err := s.Tick(context.Background())
	require.NoError(t, err)

	clock.Set(baseTime.Add(time.Second))
	res, err := s.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, res.Due)
	assert.Len(t, store.allRuns(), 1)
}

// --- Property Tests ---

func TestTick_DriftFreeAnchoring(t *testing.T) {
	routine := newRoutine(baseTime)
	store := newMemStore(routine)
	clock := newClock(baseTime)
	run := &stubRunner{clock: clock}
	s := newTestScheduler(store, run, clock, nil)

	interval := 5 * time.Minute
	for k := 1; k <= 12; k++ {
		slot := baseTime.Add(time.Duration(k-1) * interval)
		// Задержка меняется от тика к тику, но всегда меньше интервала.
		delay := time.Duration((k*37)%240) * time.Second
		clock.Set(slot.Add(delay))

		res, err := s.Tick(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, res.Claimed, "tick %d", k)

		assert.Equal(t, baseTime.Add(time.Duration(k)*interval), store.get(routine.ID).NextRunAt, "tick %d", k)
	}
}

func TestTick_AlwaysReschedulesFailures(t *testing.T) {
	routine := newRoutine(baseTime)
	store := newMemStore(routine)
	clock := newClock(baseTime.Add(2 * time.Second))
	run := &stubRunner{clock: clock, fn: func(*domain.Routine) runner.Outcome {
		return failOutcome("connection refused")
	}}
	s := newTestScheduler(store, run, clock, nil)

	before := store.get(routine.ID).NextRunAt
	_, err := s.Tick(context.Background())
	require.NoError(t, err)

	after := store.get(routine.ID).NextRunAt
	assert.True(t, after.After(before))
	assert.True(t, after.After(clock.Now()))

	runs := store.allRuns()
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunStatusFail, runs[0].Status)
	assert.Equal(t, "connection refused", runs[0].ErrorMessage)
}

func TestTick_CatchUpAfterOutageSkipsMissedSlots(t *testing.T) {
	due := baseTime.Add(-2 * time.Hour)
	routine := newRoutine(due)
	store := newMemStore(routine)
	clock := newClock(baseTime.Add(90 * time.Second))
	s := newTestScheduler(store, &stubRunner{clock: clock}, clock, nil)

	_, err := s.Tick(context.Background())
	require.NoError(t, err)

	next := store.get(routine.ID).NextRunAt
	assert.Equal(t, baseTime.Add(5*time.Minute), next)
	assert.Zero(t, next.Sub(due)%(5*time.Minute))
}

func TestTick_BatchLimitOldestFirst(t *testing.T) {
	store := newMemStore()
	var oldest []uuid.UUID
	for i := 0; i < 30; i++ {
		r := newRoutine(baseTime.Add(-time.Duration(30-i) * time.Minute))
		store.routines[r.ID] = r
		if i < 20 {
			oldest = append(oldest, r.ID)
		}
	}
	clock := newClock(baseTime)

	sel := NewSelector(store, DefaultDueSlack, 20)
	due, err := sel.Select(context.Background(), clock.Now())
	require.NoError(t, err)
	require.Len(t, due, 20)
	for i := 1; i < len(due); i++ {
		assert.False(t, due[i].NextRunAt.Before(due[i-1].NextRunAt))
	}
	for i, r := range due {
		assert.Equal(t, oldest[i], r.ID)
	}

	s := newTestScheduler(store, &stubRunner{clock: clock}, clock, func(c *Config) { c.BatchLimit = 20 })
	res, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20, res.Due)
	assert.Len(t, store.allRuns(), 20)
}

func TestTick_InactiveAndFutureRoutinesIgnored(t *testing.T) {
	inactive := newRoutine(baseTime)
	inactive.IsActive = false
	future := newRoutine(baseTime.Add(time.Minute))
	store := newMemStore(inactive, future)
	clock := newClock(baseTime)
	run := &stubRunner{clock: clock}
	s := newTestScheduler(store, run, clock, nil)

	res, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Due)
	assert.Equal(t, int32(0), run.calls.Load())
}

func TestTick_SlackPicksUpEarlyTick(t *testing.T) {
	routine := newRoutine(baseTime)
	store := newMemStore(routine)
	clock := newClock(baseTime.Add(-2 * time.Second))
	s := newTestScheduler(store, &stubRunner{clock: clock}, clock, nil)

	res, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Claimed)
	assert.Equal(t, baseTime.Add(5*time.Minute), store.get(routine.ID).NextRunAt)
}

func TestTick_ConcurrencyBound(t *testing.T) {
	store := newMemStore()
	for i := 0; i < 12; i++ {
		r := newRoutine(baseTime)
		store.routines[r.ID] = r
	}
	clock := newClock(baseTime)
	run := &stubRunner{clock: clock, delay: 20 * time.Millisecond}
	s := newTestScheduler(store, run, clock, func(c *Config) { c.MaxConcurrency = 3 })

	res, err := s.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 12, res.Claimed)
	assert.Equal(t, int32(12), run.calls.Load())
	assert.LessOrEqual(t, run.peak.Load(), int32(3))
	assert.Greater(t, run.peak.Load(), int32(1))
}

func TestTick_DeadlineDefersUndispatched(t *testing.T) {
	store := newMemStore()
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		r := newRoutine(baseTime.Add(-time.Duration(3-i) * time.Minute))
		store.routines[r.ID] = r
		ids = append(ids, r.ID)
	}
	clock := newClock(baseTime)
	run := &stubRunner{clock: clock, delay: 150 * time.Millisecond}
	s := newTestScheduler(store, run, clock, func(c *Config) { c.MaxConcurrency = 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	res, err := s.Tick(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Claimed)
	assert.Equal(t, 2, res.Deferred)

	// Запущенное выполнение доведено до записи, несмотря на отмену.
	runs := store.allRuns()
	require.Len(t, runs, 1)
	assert.Equal(t, ids[0], runs[0].RoutineID)

	for _, id := range ids[1:] {
		got := store.get(id)
		assert.True(t, got.NextRunAt.Before(baseTime), "deferred routine keeps its due time")
		assert.Empty(t, got.LockedBy)
	}
}

// --- Error Handling Tests ---

func TestTick_StoreUnavailableOnSelect(t *testing.T) {
	store := newMemStore(newRoutine(baseTime))
	store.listErr = errors.New("connection reset")
	clock := newClock(baseTime)
	s := newTestScheduler(store, &stubRunner{clock: clock}, clock, nil)

	res, err := s.Tick(context.Background())
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestTick_StoreUnavailableOnClaim(t *testing.T) {
	store := newMemStore(newRoutine(baseTime), newRoutine(baseTime))
	store.claimErr = errors.New("connection reset")
	clock := newClock(baseTime)
	run := &stubRunner{clock: clock}
	s := newTestScheduler(store, run, clock, nil)

	res, err := s.Tick(context.Background())
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	require.NotNil(t, res)
	assert.Equal(t, 2, res.Deferred)
	assert.Equal(t, int32(0), run.calls.Load())
}

func TestTick_FailuresAreIsolated(t *testing.T) {
	bad := newRoutine(baseTime.Add(-time.Minute))
	good := newRoutine(baseTime)
	store := newMemStore(bad, good)
	clock := newClock(baseTime)
	run := &stubRunner{clock: clock, fn: func(r *domain.Routine) runner.Outcome {
		if r.ID == bad.ID {
			return failOutcome("HTTP 500")
		}
		code := http.StatusOK
		return runner.Outcome{Status: domain.RunStatusSuccess, HTTPStatus: &code, Attempts: 1}
	}}
	s := newTestScheduler(store, run, clock, nil)

	res, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Len(t, store.allRuns(), 2)
	assert.Equal(t, baseTime.Add(4*time.Minute), store.get(bad.ID).NextRunAt)
	assert.Equal(t, baseTime.Add(5*time.Minute), store.get(good.ID).NextRunAt)
}

func TestTick_LeaseLostBeforeRecord(t *testing.T) {
	routine := newRoutine(baseTime)
	store := newMemStore(routine)
	clock := newClock(baseTime)
	run := &stubRunner{clock: clock, fn: func(r *domain.Routine) runner.Outcome {
		// Аренда истекла и перехвачена другим владельцем во время выполнения.
		store.setLock(r.ID, "other", baseTime.Add(time.Hour))
		return failOutcome("slow")
	}}
	s := newTestScheduler(store, run, clock, nil)

	res, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.RecordErrors)

	assert.Len(t, store.allRuns(), 1)
	got := store.get(routine.ID)
	assert.Equal(t, "other", got.LockedBy)
	assert.Equal(t, baseTime, got.NextRunAt)
}

// --- Manual Trigger Tests ---

func TestTriggerManual_KeepsNextRunAt(t *testing.T) {
	next := baseTime.Add(10 * time.Minute)
	routine := newRoutine(next)
	store := newMemStore(routine)
	clock := newClock(baseTime)
	s := newTestScheduler(store, &stubRunner{clock: clock}, clock, nil)

	run, err := s.TriggerManual(context.Background(), routine.ID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, domain.TriggeredByManual, run.TriggeredBy)
	assert.Equal(t, domain.RunStatusSuccess, run.Status)

	got := store.get(routine.ID)
	assert.Equal(t, next, got.NextRunAt)
	require.NotNil(t, got.LastRunAt)
	assert.Equal(t, baseTime, *got.LastRunAt)
	assert.Empty(t, got.LockedBy)
}

func TestTriggerManual_InactiveRoutineAllowed(t *testing.T) {
	routine := newRoutine(baseTime.Add(time.Hour))
	routine.IsActive = false
	store := newMemStore(routine)
	clock := newClock(baseTime)
	s := newTestScheduler(store, &stubRunner{clock: clock}, clock, nil)

	_, err := s.TriggerManual(context.Background(), routine.ID)
	require.NoError(t, err)
	assert.Len(t, store.allRuns(), 1)
}

func TestTriggerManual_ClaimLost(t *testing.T) {
	routine := newRoutine(baseTime)
	store := newMemStore(routine)
	store.setLock(routine.ID, "X", baseTime.Add(30*time.Second))
	clock := newClock(baseTime)
	run := &stubRunner{clock: clock}
	s := newTestScheduler(store, run, clock, nil)

	_, err := s.TriggerManual(context.Background(), routine.ID)
	assert.ErrorIs(t, err, ErrClaimLost)
	assert.Equal(t, int32(0), run.calls.Load())
}

func TestTriggerManual_NotFound(t *testing.T) {
	clock := newClock(baseTime)
	s := newTestScheduler(newMemStore(), &stubRunner{clock: clock}, clock, nil)

	_, err := s.TriggerManual(context.Background(), uuid.New())
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

// --- Constructor Tests ---

func TestNew_RequiresStoreAndRunner(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Routines: newMemStore()})
	assert.Error(t, err)
}
