package domain

import (
	"time"

	"github.com/google/uuid"
)

// MinIntervalMinutes — минимальный интервал между запусками routine.
// Проверяется при создании routine (CRUD), scheduler на него лишь опирается.
const MinIntervalMinutes = 5

// RoutineKind — тип routine.
type RoutineKind string

const (
	// RoutineKindHTTPCheck — проверка доступности endpoint'а.
	RoutineKindHTTPCheck RoutineKind = "HTTP_CHECK"

	// RoutineKindWebhookCall — периодический вызов webhook'а.
	RoutineKindWebhookCall RoutineKind = "WEBHOOK_CALL"
)

// AuthMode — способ авторизации исходящего запроса.
type AuthMode string

const (
	// AuthModeNone — запрос без авторизации.
	AuthModeNone AuthMode = "NONE"

	// AuthModeSecretRef — секрет резолвится по ссылке SecretRef вне сущности routine.
	// Значение секрета никогда не хранится в Headers.
	AuthModeSecretRef AuthMode = "SECRET_REF"
)

// Routine — периодическая HTTP-проверка.
//
// Routine создаётся и редактируется CRUD-слоем. Scheduler меняет только
// LastRunAt, NextRunAt, LockUntil и LockedBy — и только через условные
// UPDATE в хранилище, никогда через read-then-write из памяти.
type Routine struct {
	// ID — уникальный идентификатор routine.
	ID uuid.UUID `json:"id"`

	// WorkspaceID — workspace-владелец (граница тенантности).
	WorkspaceID uuid.UUID `json:"workspace_id"`

	// Name — имя routine для пользователя.
	Name string `json:"name" validate:"required,max=80"`

	// Kind — HTTP_CHECK или WEBHOOK_CALL.
	Kind RoutineKind `json:"kind" validate:"required,oneof=HTTP_CHECK WEBHOOK_CALL"`

	// IntervalMinutes — интервал между запусками в минутах (>= 5).
	IntervalMinutes int `json:"interval_minutes" validate:"gte=5"`

	// EndpointURL — адрес, который вызывается при выполнении.
	EndpointURL string `json:"endpoint_url" validate:"required,http_url"`

	// HTTPMethod — GET или POST.
	HTTPMethod string `json:"http_method" validate:"required,oneof=GET POST"`

	// Headers — заголовки запроса (имя → значение).
	Headers map[string]string `json:"headers,omitempty"`

	// AuthMode — способ авторизации.
	AuthMode AuthMode `json:"auth_mode" validate:"required,oneof=NONE SECRET_REF"`

	// SecretRef — ссылка на секрет при AuthMode = SECRET_REF.
	SecretRef string `json:"secret_ref,omitempty" validate:"required_if=AuthMode SECRET_REF"`

	// IsActive — неактивные routines не попадают в due-выборку.
	IsActive bool `json:"is_active"`

	// NextRunAt — время следующего запуска, всегда с точностью до минуты.
	NextRunAt time.Time `json:"next_run_at"`

	// LastRunAt — время начала последнего выполнения.
	LastRunAt *time.Time `json:"last_run_at,omitempty"`

	// LockUntil — окончание аренды (lease). Nil — routine не захвачена.
	LockUntil *time.Time `json:"lock_until,omitempty"`

	// LockedBy — токен владельца аренды.
	LockedBy string `json:"locked_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Interval возвращает интервал routine как time.Duration.
// Некорректный интервал (меньше минимального) поднимается до MinIntervalMinutes,
// чтобы арифметика слотов не могла зациклиться или уйти назад.
func (r *Routine) Interval() time.Duration {
	minutes := r.IntervalMinutes
	if minutes < MinIntervalMinutes {
		minutes = MinIntervalMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// Claimable возвращает true, если аренда свободна или истекла.
func (r *Routine) Claimable(now time.Time) bool {
	return r.LockUntil == nil || r.LockUntil.Before(now)
}

// IsDue проверяет, попадает ли routine в due-выборку с учётом slack.
func (r *Routine) IsDue(now time.Time, slack time.Duration) bool {
	if !r.IsActive {
		return false
	}
	return !r.NextRunAt.After(now.Add(slack))
}

// Validate проверяет конфигурацию выполнения routine.
func (r *Routine) Validate() error {
	if err := validate.Struct(r); err != nil {
		return &ConfigError{RoutineID: r.ID, Err: err}
	}
	if err := ValidateHeaders(r.Headers); err != nil {
		return &ConfigError{RoutineID: r.ID, Err: err}
	}
	return nil
}
