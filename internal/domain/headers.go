package domain

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Ограничения на заголовки routine.
const (
	MaxHeaderNameLen  = 100
	MaxHeaderValueLen = 4096
)

// forbiddenHeaders — чувствительные заголовки, которые нельзя хранить в routine.
// Авторизация передаётся только через AuthMode/SecretRef.
var forbiddenHeaders = map[string]struct{}{
	"authorization": {},
	"cookie":        {},
	"set-cookie":    {},
	"x-api-key":     {},
	"x-auth-token":  {},
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateHeaders проверяет заголовки routine.
//
// Правила:
//   - имя — token по RFC 7230, не длиннее MaxHeaderNameLen
//   - значение — не длиннее MaxHeaderValueLen, без CR/LF (header injection)
//   - чувствительные заголовки запрещены
func ValidateHeaders(headers map[string]string) error {
	for name, value := range headers {
		normalized := strings.ToLower(strings.TrimSpace(name))
		if normalized == "" {
			return fmt.Errorf("%w: header name cannot be empty", ErrInvalidHeader)
		}
		if len(normalized) > MaxHeaderNameLen {
			return fmt.Errorf("%w: header %q exceeds max length (%d)", ErrInvalidHeader, name, MaxHeaderNameLen)
		}
		if !isToken(normalized) {
			return fmt.Errorf("%w: header %q has invalid name characters", ErrInvalidHeader, name)
		}
		if _, ok := forbiddenHeaders[normalized]; ok {
			return fmt.Errorf("%w: header %q is not allowed (sensitive)", ErrInvalidHeader, name)
		}
		if len(value) > MaxHeaderValueLen {
			return fmt.Errorf("%w: header %q exceeds max value length (%d)", ErrInvalidHeader, name, MaxHeaderValueLen)
		}
		if strings.ContainsAny(value, "\r\n") {
			return fmt.Errorf("%w: header %q has invalid characters", ErrInvalidHeader, name)
		}
	}
	return nil
}

// isToken проверяет символы имени заголовка (tchar из RFC 7230).
func isToken(s string) bool {
	for _, ch := range s {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		case strings.ContainsRune("!#$%&'*+-.^_`|~", ch):
		default:
			return false
		}
	}
	return true
}
