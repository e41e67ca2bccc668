package domain

import (
	"time"

	"github.com/google/uuid"
)

// Claim — запрос на захват аренды routine (compare-and-swap по lock_until).
//
// Захват успешен, только если lock_until пуст или уже в прошлом относительно Now.
// Для запуска по расписанию ExpectedNextRunAt содержит next_run_at, который
// видел selector: тогда захват дополнительно требует is_active и совпадения
// next_run_at, и один и тот же слот не может выполниться дважды.
type Claim struct {
	RoutineID uuid.UUID
	Holder    string
	Now       time.Time
	Lease     time.Duration

	// ExpectedNextRunAt — nil для ручного запуска.
	ExpectedNextRunAt *time.Time
}

// LockUntil возвращает время окончания аренды.
func (c Claim) LockUntil() time.Time {
	return c.Now.Add(c.Lease)
}

// ScheduleUpdate — обновление расписания с одновременным освобождением аренды.
// Применяется только если locked_by всё ещё равен Holder.
type ScheduleUpdate struct {
	RoutineID uuid.UUID
	Holder    string
	LastRunAt time.Time

	// NextRunAt — nil оставляет next_run_at без изменений (ручной запуск).
	NextRunAt *time.Time
}
