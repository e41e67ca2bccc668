package scheduler

import "errors"

var (
	// ErrClaimLost — аренду routine удерживает другой владелец.
	// Для тика это не ошибка: routine просто откладывается.
	ErrClaimLost = errors.New("claim lost")

	// ErrStoreUnavailable — хранилище routines или runs недоступно.
	ErrStoreUnavailable = errors.New("store unavailable")
)
