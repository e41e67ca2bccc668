package config

import "errors"

// ErrInvalid — конфигурация не прошла проверку.
var ErrInvalid = errors.New("invalid config")
