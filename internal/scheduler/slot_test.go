package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTruncateToMinute(t *testing.T) {
	in := time.Date(2026, 3, 2, 10, 4, 59, 999_000_000, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 2, 10, 4, 0, 0, time.UTC), TruncateToMinute(in))
	assert.Equal(t, baseTime, TruncateToMinute(baseTime))
}

func TestNextSlot_AnchorsToDueTime(t *testing.T) {
	assert.Equal(t, baseTime.Add(5*time.Minute), NextSlot(baseTime, 5*time.Minute))
	// Секунды в due-времени отбрасываются.
	assert.Equal(t, baseTime.Add(5*time.Minute), NextSlot(baseTime.Add(30*time.Second), 5*time.Minute))
}

func TestNextSlotAfter(t *testing.T) {
	interval := 5 * time.Minute

	tests := []struct {
		name  string
		after time.Time
		want  time.Time
	}{
		{"on time", baseTime.Add(2 * time.Second), baseTime.Add(5 * time.Minute)},
		{"late but within interval", baseTime.Add(4*time.Minute + 59*time.Second), baseTime.Add(5 * time.Minute)},
		{"exactly on next slot", baseTime.Add(5 * time.Minute), baseTime.Add(10 * time.Minute)},
		{"early tick", baseTime.Add(-2 * time.Second), baseTime.Add(5 * time.Minute)},
		{"long outage", baseTime.Add(2*time.Hour + 7*time.Minute), baseTime.Add(2*time.Hour + 10*time.Minute)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextSlotAfter(baseTime, interval, tt.after)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.After(tt.after))
			assert.Zero(t, got.Sub(baseTime)%interval)
		})
	}
}
