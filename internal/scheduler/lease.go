package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/opspulse/internal/domain"
)

// Lease — взаимное исключение на уровне routine поверх условной записи
// в хранилище. Работает между процессами и инстансами: в памяти ничего не держит.
type Lease struct {
	store      RoutineStore
	duration   time.Duration
	instanceID string
}

// NewLease создаёт Lease.
func NewLease(store RoutineStore, duration time.Duration, instanceID string) *Lease {
	if duration <= 0 {
		duration = DefaultLease
	}
	if instanceID == "" {
		instanceID = "opspulse"
	}
	return &Lease{store: store, duration: duration, instanceID: instanceID}
}

// Duration возвращает длительность аренды.
func (l *Lease) Duration() time.Duration {
	return l.duration
}

// NewHolder генерирует токен владельца для одного выполнения.
func (l *Lease) NewHolder() string {
	return l.instanceID + "/" + uuid.NewString()
}

// TryAcquire пытается захватить аренду routine.
//
// expected — next_run_at, который видел selector (nil для ручного запуска).
// Проигрыш гонки возвращает ok=false без ошибки.
func (l *Lease) TryAcquire(ctx context.Context, routineID uuid.UUID, holder string, now time.Time, expected *time.Time) (*domain.Routine, bool, error) {
	routine, ok, err := l.store.TryClaim(ctx, domain.Claim{
		RoutineID:         routineID,
		Holder:            holder,
		Now:               now,
		Lease:             l.duration,
		ExpectedNextRunAt: expected,
	})
	if err != nil {
		return nil, false, fmt.Errorf("claim routine %s: %w", routineID, err)
	}
	return routine, ok, nil
}

// Release снимает аренду, если её всё ещё держит holder.
func (l *Lease) Release(ctx context.Context, routineID uuid.UUID, holder string) error {
	if err := l.store.ReleaseIfHeld(ctx, routineID, holder); err != nil {
		return fmt.Errorf("release routine %s: %w", routineID, err)
	}
	return nil
}
