package runner

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// SecretResolver резолвит ссылку на секрет в его значение.
// Значение секрета никогда не хранится в routine.
type SecretResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// DefaultSecretPrefix — префикс переменных окружения с секретами.
const DefaultSecretPrefix = "OPSPULSE_SECRET_"

// EnvSecrets читает секреты из переменных окружения.
//
// Ссылка "billing-api" ищется в OPSPULSE_SECRET_BILLING_API.
type EnvSecrets struct {
	Prefix string

	// Lookup — источник переменных; nil означает os.LookupEnv.
	Lookup func(key string) (string, bool)
}

// Resolve реализует SecretResolver.
func (e EnvSecrets) Resolve(_ context.Context, ref string) (string, error) {
	lookup := e.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	prefix := e.Prefix
	if prefix == "" {
		prefix = DefaultSecretPrefix
	}

	key := prefix + envName(ref)
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%w: %q", ErrSecretNotFound, ref)
	}
	return value, nil
}

// envName переводит ссылку в имя переменной: верхний регистр,
// всё кроме букв и цифр заменяется на "_".
func envName(ref string) string {
	var b strings.Builder
	for _, ch := range strings.ToUpper(strings.TrimSpace(ref)) {
		if (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') {
			b.WriteRune(ch)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// authorizationValue превращает секрет в значение заголовка Authorization.
// Секрет без схемы считается bearer-токеном.
func authorizationValue(secret string) string {
	secret = strings.TrimSpace(secret)
	if strings.Contains(secret, " ") {
		return secret
	}
	return "Bearer " + secret
}
