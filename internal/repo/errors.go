package repo

import "errors"

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — запись уже существует (конфликт уникальности).
	ErrAlreadyExists = errors.New("already exists")

	// ErrLeaseLost — аренду routine держит другой владелец,
	// обновление расписания не применено.
	ErrLeaseLost = errors.New("lease lost")

	// ErrUnknownDriver — неизвестный драйвер хранилища.
	ErrUnknownDriver = errors.New("unknown store driver")
)
