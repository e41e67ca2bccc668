package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/opspulse/internal/domain"
	"github.com/shaiso/opspulse/internal/runner"
)

// RoutineStore — хранилище routines, которым пользуется scheduler.
//
// Все изменения полей расписания и аренды делаются условными UPDATE
// на стороне хранилища.
type RoutineStore interface {
	// ListDueActive возвращает активные захватываемые routines с
	// next_run_at <= now+slack, по возрастанию next_run_at, не больше limit.
	ListDueActive(ctx context.Context, now time.Time, slack time.Duration, limit int) ([]domain.Routine, error)

	// TryClaim атомарно захватывает аренду. Проигрыш гонки — (nil, false, nil).
	TryClaim(ctx context.Context, claim domain.Claim) (*domain.Routine, bool, error)

	// ReleaseIfHeld снимает аренду, только если её держит holder.
	ReleaseIfHeld(ctx context.Context, routineID uuid.UUID, holder string) error

	// UpdateScheduleAndRelease обновляет расписание и снимает аренду одним
	// условным UPDATE. Если аренду уже держит другой — repo.ErrLeaseLost.
	UpdateScheduleAndRelease(ctx context.Context, upd domain.ScheduleUpdate) error

	// GetByID возвращает routine или repo.ErrNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Routine, error)
}

// RunStore — append-only история запусков.
type RunStore interface {
	AppendRun(ctx context.Context, run *domain.RoutineRun) error
}

// AtomicRecorder реализуют хранилища, умеющие записать run и обновить
// расписание в одной транзакции. Recorder использует его, если доступен.
type AtomicRecorder interface {
	RecordRun(ctx context.Context, run *domain.RoutineRun, upd domain.ScheduleUpdate) error
}

// Runner выполняет одну routine и классифицирует результат.
type Runner interface {
	Run(ctx context.Context, routine *domain.Routine) runner.Outcome
}

// Notifier получает уведомление о каждом записанном запуске.
type Notifier interface {
	PublishRunCompleted(ctx context.Context, run *domain.RoutineRun) error
}
