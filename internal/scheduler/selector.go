package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/shaiso/opspulse/internal/domain"
)

// Selector выбирает due routines для тика. Только чтение.
type Selector struct {
	store RoutineStore
	slack time.Duration
	limit int
}

// NewSelector создаёт Selector.
func NewSelector(store RoutineStore, slack time.Duration, limit int) *Selector {
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	if slack < 0 {
		slack = 0
	}
	return &Selector{store: store, slack: slack, limit: limit}
}

// Select возвращает активные захватываемые routines с next_run_at <= now+slack,
// старейшие первыми, не больше limit.
func (s *Selector) Select(ctx context.Context, now time.Time) ([]domain.Routine, error) {
	routines, err := s.store.ListDueActive(ctx, now, s.slack, s.limit)
	if err != nil {
		return nil, fmt.Errorf("list due routines: %w", err)
	}

	// Хранилище уже фильтрует, здесь только гарантируем контракт.
	due := routines[:0]
	for i := range routines {
		r := &routines[i]
		if r.IsDue(now, s.slack) && r.Claimable(now) {
			due = append(due, *r)
		}
		if len(due) == s.limit {
			break
		}
	}
	return due, nil
}
