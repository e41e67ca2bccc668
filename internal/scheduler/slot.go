package scheduler

import "time"

// TruncateToMinute обнуляет секунды и доли секунды.
func TruncateToMinute(t time.Time) time.Time {
	return t.Truncate(time.Minute)
}

// NextSlot возвращает следующий слот, привязанный к предыдущему due-времени,
// а не к моменту выполнения: dueAt + interval.
func NextSlot(dueAt time.Time, interval time.Duration) time.Time {
	return TruncateToMinute(dueAt).Add(interval)
}

// NextSlotAfter возвращает первый слот сетки dueAt + k*interval (k >= 1),
// который строго позже after.
//
// Пока задержка выполнения меньше интервала, результат совпадает с NextSlot.
// После простоя длиннее интервала пропущенные слоты не догоняются.
func NextSlotAfter(dueAt time.Time, interval time.Duration, after time.Time) time.Time {
	if interval <= 0 {
		interval = time.Minute
	}
	anchor := TruncateToMinute(dueAt)
	next := anchor.Add(interval)
	if next.After(after) {
		return next
	}
	k := after.Sub(anchor)/interval + 1
	return anchor.Add(k * interval)
}
