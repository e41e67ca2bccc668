package repo

import (
	"time"
)

// nullString возвращает nil для пустой строки.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// derefString возвращает "" для nil.
func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// msOrNil переводит время в unix ms для SQLite; nil остаётся NULL.
func msOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

// fromMs переводит unix ms из SQLite во время UTC.
func fromMs(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// fromNullMs переводит nullable unix ms во время.
func fromNullMs(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := fromMs(*ms)
	return &t
}
