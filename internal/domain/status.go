package domain

// RunStatus — итог выполнения routine.
//
// SUCCESS — HTTP-ответ получен и код 2xx.
// FAIL — всё остальное: не-2xx, таймаут, сетевая ошибка, некорректная конфигурация.
type RunStatus string

const (
	// RunStatusSuccess — проверка прошла.
	RunStatusSuccess RunStatus = "SUCCESS"

	// RunStatusFail — проверка не прошла (после всех retry).
	RunStatusFail RunStatus = "FAIL"
)

// String возвращает строковое представление RunStatus.
func (s RunStatus) String() string {
	return string(s)
}

// ParseRunStatus парсит строку в RunStatus.
// Неизвестное значение трактуется как FAIL.
func ParseRunStatus(s string) RunStatus {
	if s == string(RunStatusSuccess) {
		return RunStatusSuccess
	}
	return RunStatusFail
}

// TriggeredBy — источник запуска.
type TriggeredBy string

const (
	// TriggeredByManual — ручной запуск (API, MQ, CLI).
	TriggeredByManual TriggeredBy = "MANUAL"

	// TriggeredBySchedule — запуск по расписанию (Tick).
	TriggeredBySchedule TriggeredBy = "SCHEDULE"
)

// String возвращает строковое представление TriggeredBy.
func (t TriggeredBy) String() string {
	return string(t)
}

// ParseTriggeredBy парсит строку в TriggeredBy.
func ParseTriggeredBy(s string) TriggeredBy {
	if s == string(TriggeredByManual) {
		return TriggeredByManual
	}
	return TriggeredBySchedule
}
