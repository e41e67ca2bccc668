package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrInvalidHeader — заголовок routine не прошёл проверку.
var ErrInvalidHeader = errors.New("invalid header")

// ConfigError — некорректная конфигурация выполнения routine.
//
// В норме такие routines отсекаются CRUD-слоем и до scheduler'а не доходят.
type ConfigError struct {
	RoutineID uuid.UUID
	Err       error
}

// Error реализует интерфейс error.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("routine %s: invalid configuration: %v", e.RoutineID, e.Err)
}

// Unwrap возвращает исходную ошибку.
func (e *ConfigError) Unwrap() error {
	return e.Err
}
