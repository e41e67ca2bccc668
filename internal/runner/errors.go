package runner

import "errors"

// Ошибки runner'а.
var (
	// ErrTimeout — попытка превысила таймаут.
	ErrTimeout = errors.New("request timeout")

	// ErrNetwork — сетевая ошибка или ошибка соединения.
	ErrNetwork = errors.New("network failure")

	// ErrNonSuccessStatus — получен ответ с кодом вне 2xx.
	ErrNonSuccessStatus = errors.New("non-success status")

	// ErrInvalidConfig — конфигурация routine не позволяет выполнить запрос.
	ErrInvalidConfig = errors.New("invalid routine configuration")

	// ErrSecretNotFound — секрет по ссылке не найден.
	ErrSecretNotFound = errors.New("secret not found")
)
