package domain

import (
	"time"

	"github.com/google/uuid"
)

// RoutineRun — неизменяемая запись об одном выполнении routine.
//
// Создаётся Run Recorder'ом в момент, когда набор попыток завершился
// (успех, финальный провал после retry или таймаут). Промежуточные
// попытки отдельно не записываются — только их суммарное время.
type RoutineRun struct {
	// ID — уникальный идентификатор записи.
	ID uuid.UUID `json:"id"`

	// RoutineID — routine, к которой относится запуск.
	RoutineID uuid.UUID `json:"routine_id"`

	// TriggeredBy — MANUAL или SCHEDULE.
	TriggeredBy TriggeredBy `json:"triggered_by"`

	// Status — SUCCESS или FAIL.
	Status RunStatus `json:"status"`

	// HTTPStatus — код ответа финальной попытки. Nil, если ответа не было.
	HTTPStatus *int `json:"http_status,omitempty"`

	// DurationMs — от начала первой попытки до конца последней.
	DurationMs *int64 `json:"duration_ms,omitempty"`

	// ErrorMessage — человекочитаемое описание ошибки (только для FAIL).
	ErrorMessage string `json:"error_message,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если запуск не завершился.
func (r *RoutineRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Succeeded возвращает true для SUCCESS.
func (r *RoutineRun) Succeeded() bool {
	return r.Status == RunStatusSuccess
}
