package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLease_MutualExclusion(t *testing.T) {
	routine := newRoutine(baseTime)
	store := newMemStore(routine)
	lease := NewLease(store, time.Minute, "inst")

	var (
		wg  sync.WaitGroup
		won atomic.Int32
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := lease.TryAcquire(context.Background(), routine.ID, lease.NewHolder(), baseTime, nil)
			assert.NoError(t, err)
			if ok {
				won.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), won.Load())
}

func TestLease_HeldLockIsNotClaimable(t *testing.T) {
	routine := newRoutine(baseTime)
	store := newMemStore(routine)
	store.setLock(routine.ID, "X", baseTime.Add(30*time.Second))
	lease := NewLease(store, time.Minute, "inst")

	_, ok, err := lease.TryAcquire(context.Background(), routine.ID, "Y", baseTime, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "X", store.get(routine.ID).LockedBy)
}

func TestLease_StaleLockRecovery(t *testing.T) {
	routine := newRoutine(baseTime)
	store := newMemStore(routine)
	store.setLock(routine.ID, "X", baseTime.Add(-10*time.Second))
	lease := NewLease(store, time.Minute, "inst")

	claimed, ok, err := lease.TryAcquire(context.Background(), routine.ID, "Y", baseTime, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Y", claimed.LockedBy)
	require.NotNil(t, claimed.LockUntil)
	assert.Equal(t, baseTime.Add(time.Minute), *claimed.LockUntil)
}

func TestLease_ReleaseOnlyByHolder(t *testing.T) {
	routine := newRoutine(baseTime)
	store := newMemStore(routine)
	lease := NewLease(store, time.Minute, "inst")

	_, ok, err := lease.TryAcquire(context.Background(), routine.ID, "A", baseTime, nil)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, lease.Release(context.Background(), routine.ID, "B"))
	assert.Equal(t, "A", store.get(routine.ID).LockedBy)

	require.NoError(t, lease.Release(context.Background(), routine.ID, "A"))
	got := store.get(routine.ID)
	assert.Empty(t, got.LockedBy)
	assert.Nil(t, got.LockUntil)
}

func TestLease_ScheduledClaimRequiresObservedDueTime(t *testing.T) {
	routine := newRoutine(baseTime.Add(5 * time.Minute))
	store := newMemStore(routine)
	lease := NewLease(store, time.Minute, "inst")

	stale := baseTime
	_, ok, err := lease.TryAcquire(context.Background(), routine.ID, "A", baseTime, &stale)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLease_HolderTokensAreUnique(t *testing.T) {
	lease := NewLease(newMemStore(), time.Minute, "inst")
	a, b := lease.NewHolder(), lease.NewHolder()
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "inst/")
}
